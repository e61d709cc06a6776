// Package confirm tracks pending destructive-action confirmations. Each
// request is a single-use, TTL-bound token: created, then exactly one of
// confirmed, rejected, or expired, and removed from the active set on that
// terminal transition. Reads of expired records purge them and report "not
// found" rather than returning a stale object.
package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskchat/internal/command"
	"taskchat/internal/store"
)

// DefaultTTL is how long a confirmation stays answerable.
const DefaultTTL = 5 * time.Minute

// Executor re-runs the original command once its confirmation is accepted.
type Executor func(ctx context.Context, cmd command.Command) (*command.Result, error)

// Service manages the confirmation-request lifecycle.
type Service struct {
	requests *store.TTLStore[*command.ConfirmationRequest]
	locks    *store.KeyedMutex
	ttl      time.Duration
	now      store.Clock
	exec     Executor
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the default confirmation TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock injects a clock for deterministic expiry tests.
func WithClock(now store.Clock) Option {
	return func(s *Service) {
		s.now = now
		s.requests = store.NewWithClock[*command.ConfirmationRequest](now)
	}
}

// WithExecutor attaches the collaborator that re-executes a confirmed
// command. Without one, ProcessConfirmed reports success without executing.
func WithExecutor(exec Executor) Option {
	return func(s *Service) { s.exec = exec }
}

// NewService creates a confirmation service.
func NewService(logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		requests: store.New[*command.ConfirmationRequest](),
		locks:    store.NewKeyedMutex(),
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   logger.Named("confirm"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates and stores a confirmation request for cmd. The message is
// phrased by kind unless customMessage is given.
func (s *Service) Create(cmd command.Command, actionDescription string, kind command.ConfirmationKind, customMessage string) *command.ConfirmationRequest {
	message := customMessage
	if message == "" {
		switch kind {
		case command.ConfirmDestructiveAction:
			message = fmt.Sprintf("Are you sure you want to %s? This action cannot be undone.", actionDescription)
		case command.ConfirmAccountAction:
			message = fmt.Sprintf("You are about to %s. Confirm this action?", actionDescription)
		default:
			message = fmt.Sprintf("Confirm: %s", actionDescription)
		}
	}

	now := s.now()
	req := &command.ConfirmationRequest{
		ID:                uuid.NewString(),
		Kind:              kind,
		Message:           message,
		OriginalCommand:   cmd,
		ActionDescription: actionDescription,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}

	s.requests.Put(req.ID, req, s.ttl)
	s.logger.Info("confirmation created",
		zap.String("confirmation_id", req.ID),
		zap.String("kind", string(kind)),
		zap.String("user_id", cmd.UserID))
	return req
}

// Confirm marks the request accepted. It fails with ErrConfirmationNotFound
// when the id is unknown or already consumed, and leaves the record in place
// for ProcessConfirmed.
func (s *Service) Confirm(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, ok := s.requests.Get(id)
	if !ok {
		return command.ErrConfirmationNotFound
	}

	req.IsConfirmed = true
	req.IsRejected = false
	return nil
}

// Reject marks the request refused and removes it immediately; a rejected
// confirmation cannot be revisited.
func (s *Service) Reject(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, ok := s.requests.Get(id)
	if !ok {
		return command.ErrConfirmationNotFound
	}

	req.IsConfirmed = false
	req.IsRejected = true
	s.requests.Delete(id)
	s.logger.Info("confirmation rejected", zap.String("confirmation_id", id))
	return nil
}

// Status returns a snapshot of the request. Expired records are purged by the
// underlying read and reported as not found.
func (s *Service) Status(id string) (command.ConfirmationRequest, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, ok := s.requests.Get(id)
	if !ok {
		return command.ConfirmationRequest{}, command.ErrConfirmationNotFound
	}
	return *req, nil
}

// ProcessConfirmed consumes a confirmed request: the record is removed and
// the original command forwarded to the executor. This is a single consuming
// transition, so a second call with the same id fails with
// ErrConfirmationNotFound.
func (s *Service) ProcessConfirmed(ctx context.Context, id string) (*command.Result, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, ok := s.requests.Get(id)
	if !ok {
		return nil, command.ErrConfirmationNotFound
	}
	if !req.IsConfirmed {
		return nil, fmt.Errorf("confirmation %s has not been accepted: %w", id, command.ErrConfirmationNotFound)
	}

	// Consume before executing so a retry can never run the command twice.
	s.requests.Delete(id)

	if s.exec == nil {
		return &command.Result{
			Success:     true,
			Message:     fmt.Sprintf("Confirmed and executed: %s", req.ActionDescription),
			Intent:      req.OriginalCommand.Intent,
			Entities:    req.OriginalCommand.Entities,
			Suggestions: []string{"What else can I help you with?"},
		}, nil
	}

	result, err := s.exec(ctx, req.OriginalCommand)
	if err != nil {
		s.logger.Error("confirmed command failed to execute",
			zap.String("confirmation_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", command.ErrExecutionFailure, err)
	}
	return result, nil
}

// Sweep purges expired requests, returning how many were removed. It exists
// for the background sweeper; correctness relies only on lazy expiry.
func (s *Service) Sweep() int {
	return s.requests.Sweep()
}

// Active reports the number of live confirmation requests.
func (s *Service) Active() int {
	return s.requests.Len()
}
