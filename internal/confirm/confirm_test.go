package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskchat/internal/command"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func deleteAllCmd() command.Command {
	return command.Command{
		RawText: "Delete all my tasks",
		Intent:  command.IntentDeleteTask,
		UserID:  "u1",
	}
}

func TestCreatePhrasesByKind(t *testing.T) {
	s := NewService(zap.NewNop())

	destructive := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")
	assert.Contains(t, destructive.Message, "Are you sure you want to delete all your tasks?")
	assert.Contains(t, destructive.Message, "cannot be undone")
	assert.NotEmpty(t, destructive.ID)

	account := s.Create(deleteAllCmd(), "close your account", command.ConfirmAccountAction, "")
	assert.Contains(t, account.Message, "close your account")

	custom := s.Create(deleteAllCmd(), "whatever", command.ConfirmDestructiveAction, "Custom prompt?")
	assert.Equal(t, "Custom prompt?", custom.Message)

	assert.Equal(t, 3, s.Active())
}

func TestConfirmLifecycle(t *testing.T) {
	s := NewService(zap.NewNop())
	req := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")

	require.NoError(t, s.Confirm(req.ID))

	status, err := s.Status(req.ID)
	require.NoError(t, err)
	assert.True(t, status.IsConfirmed)
	assert.False(t, status.IsRejected)

	res, err := s.ProcessConfirmed(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "delete all your tasks")

	// Consumed: a second processing attempt must fail.
	_, err = s.ProcessConfirmed(context.Background(), req.ID)
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)
	assert.Equal(t, 0, s.Active())
}

func TestProcessConfirmedRequiresAcceptance(t *testing.T) {
	s := NewService(zap.NewNop())
	req := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")

	_, err := s.ProcessConfirmed(context.Background(), req.ID)
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)

	// Not consumed by the failed attempt.
	_, err = s.Status(req.ID)
	assert.NoError(t, err)
}

func TestReject(t *testing.T) {
	s := NewService(zap.NewNop())
	req := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")

	require.NoError(t, s.Reject(req.ID))

	_, err := s.Status(req.ID)
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)

	assert.ErrorIs(t, s.Confirm(req.ID), command.ErrConfirmationNotFound)
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	s := NewService(zap.NewNop(), WithClock(clock.Now), WithTTL(5*time.Minute))
	req := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")

	clock.Advance(4 * time.Minute)
	assert.NoError(t, s.Confirm(req.ID))

	clock.Advance(2 * time.Minute)
	_, err := s.ProcessConfirmed(context.Background(), req.ID)
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)

	assert.Equal(t, 0, s.Active())
}

func TestExecutorReceivesOriginalCommand(t *testing.T) {
	var got command.Command
	exec := func(_ context.Context, cmd command.Command) (*command.Result, error) {
		got = cmd
		return &command.Result{Success: true, Message: "executed", Intent: cmd.Intent}, nil
	}

	s := NewService(zap.NewNop(), WithExecutor(exec))
	req := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")

	require.NoError(t, s.Confirm(req.ID))
	res, err := s.ProcessConfirmed(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "executed", res.Message)
	assert.Equal(t, "Delete all my tasks", got.RawText)
	assert.Equal(t, command.IntentDeleteTask, got.Intent)
}

func TestExecutorFailureIsExecutionFailure(t *testing.T) {
	exec := func(context.Context, command.Command) (*command.Result, error) {
		return nil, errors.New("backend down")
	}

	s := NewService(zap.NewNop(), WithExecutor(exec))
	req := s.Create(deleteAllCmd(), "delete all your tasks", command.ConfirmDestructiveAction, "")

	require.NoError(t, s.Confirm(req.ID))
	_, err := s.ProcessConfirmed(context.Background(), req.ID)
	assert.ErrorIs(t, err, command.ErrExecutionFailure)

	// The record was consumed before execution; no retry is possible.
	_, err = s.ProcessConfirmed(context.Background(), req.ID)
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	s := NewService(zap.NewNop(), WithClock(clock.Now), WithTTL(time.Minute))

	s.Create(deleteAllCmd(), "one", command.ConfirmDestructiveAction, "")
	s.Create(deleteAllCmd(), "two", command.ConfirmDestructiveAction, "")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 0, s.Active())
}
