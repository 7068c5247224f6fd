package realtime

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// TypingOptions tunes the typing indicator.
type TypingOptions struct {
	// StopDelay is the quiet period after the last keystroke before
	// typing-stop goes out.
	StopDelay time.Duration
	// Expiry drops a remote typing entry that saw no update for this long.
	// Zero keeps entries until a stop arrives.
	Expiry time.Duration
}

func DefaultTypingOptions() TypingOptions {
	return TypingOptions{StopDelay: time.Second, Expiry: 4 * time.Second}
}

type remoteTyping struct {
	timer Timer
	seq   uint64
}

// Typing debounces local keystrokes into one typing-start / typing-stop
// pair per burst, and tracks which remote users are typing.
type Typing struct {
	manager *Manager
	clock   Clock
	opts    TypingOptions
	logger  *zap.Logger

	mu        sync.Mutex
	active    bool
	project   string
	stopTimer Timer
	seq       uint64
	remote    map[string]*remoteTyping
	remoteSeq uint64
	onChange  func([]string)
}

func NewTyping(m *Manager, clock Clock, opts TypingOptions, logger *zap.Logger) *Typing {
	if clock == nil {
		clock = RealClock()
	}
	if opts.StopDelay <= 0 {
		opts.StopDelay = DefaultTypingOptions().StopDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Typing{
		manager: m,
		clock:   clock,
		opts:    opts,
		logger:  logger.Named("typing"),
		remote:  make(map[string]*remoteTyping),
	}
	m.On(types.EventUserTyping, t.handleUserTyping)
	m.OnStatus(t.statusChanged)
	return t
}

// StartTyping is called on every keystroke. Only the first keystroke of a
// burst emits typing-start; each one pushes the auto-stop further out.
func (t *Typing) StartTyping(projectID string) {
	t.mu.Lock()
	var stopPrevious string
	if t.active && t.project != projectID {
		stopPrevious = t.project
		t.active = false
	}
	emitStart := !t.active
	t.active = true
	t.project = projectID
	if t.stopTimer != nil {
		t.stopTimer.Stop()
	}
	t.seq++
	seq := t.seq
	t.stopTimer = t.clock.AfterFunc(t.opts.StopDelay, func() { t.autoStop(seq) })
	t.mu.Unlock()

	if stopPrevious != "" {
		t.emit(types.EventTypingStop, stopPrevious)
	}
	if emitStart {
		if err := t.emit(types.EventTypingStart, projectID); err != nil {
			// The server never saw this burst, so it must not see its stop either
			t.mu.Lock()
			if t.active && t.seq == seq {
				t.endLocked()
			}
			t.mu.Unlock()
		}
	}
}

// StopTyping ends the current burst immediately, as on send. It does
// nothing when no burst is active for projectID.
func (t *Typing) StopTyping(projectID string) {
	t.mu.Lock()
	if !t.active || t.project != projectID {
		t.mu.Unlock()
		return
	}
	t.endLocked()
	t.mu.Unlock()

	t.emit(types.EventTypingStop, projectID)
}

// Active reports whether a local burst is in progress.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// OnChange registers a callback for the remote typing set.
func (t *Typing) OnChange(f func([]string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = f
}

// Users returns the remote users currently typing, sorted.
func (t *Typing) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usersLocked()
}

// Close cancels every pending timer without emitting.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		t.endLocked()
	}
	for userID, entry := range t.remote {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.remote, userID)
	}
}

// statusChanged drops a local burst when the connection goes away. The server
// clears typing state for a closed socket on its own.
func (t *Typing) statusChanged(s Status) {
	if s == StatusConnected {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		t.endLocked()
	}
}

func (t *Typing) endLocked() {
	t.active = false
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	t.seq++
}

func (t *Typing) autoStop(seq uint64) {
	t.mu.Lock()
	if !t.active || seq != t.seq {
		t.mu.Unlock()
		return
	}
	project := t.project
	t.endLocked()
	t.mu.Unlock()

	t.emit(types.EventTypingStop, project)
}

func (t *Typing) emit(event, projectID string) error {
	err := t.manager.Emit(event, types.ProjectPayload{ProjectID: projectID})
	if err != nil {
		t.logger.Debug("typing event not sent", zap.String("event", event), zap.Error(err))
	}
	return err
}

func (t *Typing) handleUserTyping(env *types.Envelope) {
	var payload types.TypingPayload
	if err := env.Decode(&payload); err != nil || payload.UserID == "" {
		t.logger.Debug("ignoring malformed user-typing")
		return
	}
	if self := t.manager.Identity(); self != nil && self.UserID == payload.UserID {
		return
	}

	t.mu.Lock()
	entry, exists := t.remote[payload.UserID]
	if exists && entry.timer != nil {
		entry.timer.Stop()
	}
	changed := false
	if payload.IsTyping {
		t.remoteSeq++
		next := &remoteTyping{seq: t.remoteSeq}
		if t.opts.Expiry > 0 {
			userID, seq := payload.UserID, next.seq
			next.timer = t.clock.AfterFunc(t.opts.Expiry, func() { t.expire(userID, seq) })
		}
		t.remote[payload.UserID] = next
		changed = !exists
	} else if exists {
		delete(t.remote, payload.UserID)
		changed = true
	}
	f, users := t.onChange, t.usersLocked()
	t.mu.Unlock()

	if changed && f != nil {
		f(users)
	}
}

func (t *Typing) expire(userID string, seq uint64) {
	t.mu.Lock()
	entry, ok := t.remote[userID]
	if !ok || entry.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.remote, userID)
	f, users := t.onChange, t.usersLocked()
	t.mu.Unlock()

	t.logger.Debug("typing entry expired", zap.String("user_id", userID))
	if f != nil {
		f(users)
	}
}

func (t *Typing) usersLocked() []string {
	ids := make([]string, 0, len(t.remote))
	for id := range t.remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
