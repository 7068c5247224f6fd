package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"projectchat/internal/router"
	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

// Router is what the hub drives from its goroutine.
type Router interface {
	interfaces.EventRouter
	interfaces.Broadcaster
	Cleanup()
}

// Hub serializes every room mutation onto one goroutine
// ARCHITECTURAL DISCOVERY: Central coordination point for all event flow
// maintains clean separation between WebSocket handling and event routing
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channels prevent blocking during message bursts
	eventChannel      chan *EventContext         // 1000 buffer handles chat bursts
	disconnectChannel chan interfaces.Connection // 100 buffer for connection lifecycle events
	messageChannel    chan *types.Message        // REST-created messages awaiting broadcast
	shutdownChannel   chan struct{}

	router          Router
	logger          *zap.Logger
	cleanupInterval time.Duration

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// EventContext pairs a client event with the socket it arrived on.
type EventContext struct {
	Conn     interfaces.Connection
	Envelope *types.Envelope
}

// NewHub creates a new hub
func NewHub(r Router, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		eventChannel:      make(chan *EventContext, 1000),
		disconnectChannel: make(chan interfaces.Connection, 100),
		messageChannel:    make(chan *types.Message, 100),
		shutdownChannel:   make(chan struct{}),
		router:            r,
		logger:            logger.Named("hub"),
		cleanupInterval:   time.Minute,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine prevents race conditions
// while maintaining high throughput event processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.mu.Unlock()

	h.logger.Info("starting hub")

	h.wg.Add(1)
	go h.run(ctx, h.shutdownChannel)
	return nil
}

// Stop signals the hub goroutine and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("hub stopped")
	return nil
}

// IsRunning reports whether the hub goroutine is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Submit queues a client event. It never blocks the read pump.
func (h *Hub) Submit(conn interfaces.Connection, env *types.Envelope) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
	select {
	case h.eventChannel <- &EventContext{Conn: conn, Envelope: env}:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Disconnect queues the departure of conn. It waits for channel space
// because a dropped disconnect would leave a ghost in the room.
func (h *Hub) Disconnect(conn interfaces.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	shutdown := h.shutdownChannel
	h.mu.RUnlock()

	select {
	case h.disconnectChannel <- conn:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	}
}

// BroadcastMessage queues a persisted message for delivery to its room.
func (h *Hub) BroadcastMessage(ctx context.Context, message *types.Message) {
	if !h.IsRunning() {
		h.logger.Warn("dropping broadcast, hub not running", zap.String("message_id", message.ID))
		return
	}

	select {
	case h.messageChannel <- message:
	case <-ctx.Done():
		h.logger.Warn("broadcast cancelled", zap.String("message_id", message.ID), zap.Error(ctx.Err()))
	default:
		h.logger.Warn("dropping broadcast", zap.String("message_id", message.ID), zap.Error(ErrMessageChannelFull))
	}
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
// preventing race conditions while maintaining high throughput
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}) {
	defer h.wg.Done()

	cleanup := time.NewTicker(h.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case evt := <-h.eventChannel:
			h.handleEvent(ctx, evt)

		case conn := <-h.disconnectChannel:
			h.router.HandleDisconnect(ctx, conn)

		case message := <-h.messageChannel:
			h.router.BroadcastMessage(ctx, message)

		case <-cleanup.C:
			h.router.Cleanup()

		case <-shutdown:
			h.logger.Debug("hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Debug("hub context cancelled")
			return
		}
	}
}

// handleEvent routes one event; a failure is reported to the sender only.
func (h *Hub) handleEvent(ctx context.Context, evt *EventContext) {
	err := h.router.RouteEvent(ctx, evt.Conn, evt.Envelope)
	if err == nil {
		return
	}

	h.logger.Debug("event rejected",
		zap.String("event", evt.Envelope.Event),
		zap.String("user_id", evt.Conn.GetUserID()),
		zap.Error(err))
	h.sendErrorToSender(evt.Conn, err)
}

// sendErrorToSender sends an error event back to the sender
// TECHNICAL DISCOVERY: Internal failures are reported without exposing details
func (h *Hub) sendErrorToSender(conn interfaces.Connection, routingErr error) {
	code := router.ErrorCode(routingErr)
	message := routingErr.Error()
	if code == router.CodeInternal {
		message = "internal server error"
	}

	env, err := types.NewEnvelope(types.EventError, types.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		h.logger.Debug("failed to send error event", zap.String("connection_id", conn.GetConnectionID()), zap.Error(err))
	}
}
