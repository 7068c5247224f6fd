package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options tunes socket timing; zero values fall back to DefaultOptions.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	// PollWait bounds how long a long-poll request is held open.
	PollWait time.Duration
	// PollTimeout ends a polling session that saw no request for this long.
	PollTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
		PollWait:     25 * time.Second,
		PollTimeout:  60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.PollWait <= 0 {
		o.PollWait = d.PollWait
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = d.PollTimeout
	}
	return o
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no routing logic in connection wrapper
type Connection struct {
	conn          *websocket.Conn
	id            string
	opts          Options
	writeCh       chan []byte
	userID        string
	username      string
	projectID     string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewConnection wraps conn and starts its single writer goroutine.
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.NewString(),
		opts:    opts,
		writeCh: make(chan []byte, opts.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// readPump feeds text frames to handle until the socket fails. Any frame or
// pong extends the read deadline.
func (c *Connection) readPump(handle func(data []byte)) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return err
		}
		if messageType == websocket.TextMessage {
			handle(data)
		}
	}
}

// Close is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) SetCredentials(userID, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.username = username
	c.authenticated = true
	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetConnectionID() string {
	return c.id
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) GetProjectID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.projectID
}

func (c *Connection) SetProjectID(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectID = projectID
}
