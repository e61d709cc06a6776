// Package convo owns per-conversation session state: message history, the
// single pending-operation slot, and the session lifecycle. Sessions are
// ephemeral, TTL-bound records; an expired session is purged on access and
// never returned.
//
// Callers that read-modify-write a session across several calls must hold the
// per-conversation lock (Lock) for the whole span, so concurrent turns on one
// conversation apply in order while unrelated conversations never contend.
package convo

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/command"
	"taskchat/internal/store"
)

// State is the conversation state.
type State string

const (
	StateActive                State = "ACTIVE"
	StateAwaitingClarification State = "AWAITING_CLARIFICATION"
	StateConfirmationRequired  State = "CONFIRMATION_REQUIRED"
)

// DefaultTTL is the session lifetime from creation.
const DefaultTTL = 24 * time.Hour

// Message is one history entry.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Session is the TTL-bound, per-user container of message history and
// pending-operation state.
//
// Invariant: a session whose pending operation is none has state ACTIVE; the
// manager's pending mutators maintain this.
type Session struct {
	ID          string
	UserID      string
	State       State
	Messages    []Message
	Context     map[string]string
	Pending     command.PendingOperation
	CreatedAt   time.Time
	LastUpdated time.Time
	ExpiresAt   time.Time
}

// Manager is the conversation state machine over all live sessions.
type Manager struct {
	sessions *store.TTLStore[*Session]
	locks    *store.KeyedMutex
	ttl      time.Duration
	now      store.Clock
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the default session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock injects a clock for deterministic expiry tests.
func WithClock(now store.Clock) Option {
	return func(m *Manager) {
		m.now = now
		m.sessions = store.NewWithClock[*Session](now)
	}
}

// NewManager creates a session manager.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions: store.New[*Session](),
		locks:    store.NewKeyedMutex(),
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   logger.Named("convo"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock serializes a turn on one conversation. Hold the returned release
// function across the whole read-decide-commit span.
func (m *Manager) Lock(sessionID string) (unlock func()) {
	return m.locks.Lock(sessionID)
}

// Create starts a new ACTIVE session for the user and returns it.
func (m *Manager) Create(userID string) *Session {
	now := m.now()
	s := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		State:       StateActive,
		Context:     make(map[string]string),
		Pending:     command.NoPending(),
		CreatedAt:   now,
		LastUpdated: now,
		ExpiresAt:   now.Add(m.ttl),
	}
	m.sessions.Put(s.ID, s, m.ttl)
	m.logger.Info("session created",
		zap.String("conversation_id", s.ID),
		zap.String("user_id", userID))
	return s
}

// Get returns the live session, or nil if unknown or expired. An expired
// record is purged by the read.
func (m *Manager) Get(sessionID string) *Session {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return s
}

// AppendMessage appends one history entry. It reports false for an unknown or
// expired session.
func (m *Manager) AppendMessage(sessionID, role, content string) bool {
	s := m.Get(sessionID)
	if s == nil {
		return false
	}
	now := m.now()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
	s.LastUpdated = now
	return true
}

// SetPending installs the session's pending operation and moves the state to
// match the variant.
func (m *Manager) SetPending(sessionID string, op command.PendingOperation) bool {
	s := m.Get(sessionID)
	if s == nil {
		return false
	}
	s.Pending = op
	s.LastUpdated = m.now()

	switch op.Kind {
	case command.PendingConfirmation:
		s.State = StateConfirmationRequired
	case command.PendingClarification:
		s.State = StateAwaitingClarification
	case command.PendingNone:
		s.State = StateActive
	}
	return true
}

// GetPending returns the session's pending operation; unknown sessions report
// none.
func (m *Manager) GetPending(sessionID string) command.PendingOperation {
	s := m.Get(sessionID)
	if s == nil {
		return command.NoPending()
	}
	return s.Pending
}

// ClearPending removes the pending operation and restores ACTIVE state.
func (m *Manager) ClearPending(sessionID string) bool {
	return m.SetPending(sessionID, command.NoPending())
}

// Transition overwrites the session state. Callers are responsible for only
// requesting transitions that make sense for their branch; the state set is
// small and freely bidirectional by design.
func (m *Manager) Transition(sessionID string, state State) bool {
	s := m.Get(sessionID)
	if s == nil {
		return false
	}
	s.State = state
	s.LastUpdated = m.now()
	return true
}

// SetContext records a conversation-scoped context value.
func (m *Manager) SetContext(sessionID, key, value string) bool {
	s := m.Get(sessionID)
	if s == nil {
		return false
	}
	s.Context[key] = value
	s.LastUpdated = m.now()
	return true
}

// End removes a session immediately.
func (m *Manager) End(sessionID string) {
	m.sessions.Delete(sessionID)
}

// Sweep purges expired sessions, returning how many were removed.
func (m *Manager) Sweep() int {
	return m.sessions.Sweep()
}

// Active reports the number of live sessions.
func (m *Manager) Active() int {
	return m.sessions.Len()
}
