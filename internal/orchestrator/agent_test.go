package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskchat/internal/backend"
	"taskchat/internal/command"
	"taskchat/internal/compose"
	"taskchat/internal/convo"
)

const (
	testToken = "tok-1"
	testUser  = "u1"
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

func newTestAgent(t *testing.T, opts ...Option) (*Agent, *backend.SQLiteBackend) {
	t.Helper()

	tasks, err := backend.NewSQLiteBackend(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })

	auth := backend.NewStaticAuthValidator()
	auth.Register(testToken, backend.UserInfo{
		UserID: testUser,
		Name:   "Alex Johnson",
		Email:  "alex@example.com",
	})
	auth.Register("tok-2", backend.UserInfo{UserID: "u2", Name: "Robin", Email: "robin@example.com"})

	opts = append([]Option{WithPhrasePicker(compose.NewRoundRobin())}, opts...)
	return New(zap.NewNop(), tasks, auth, opts...), tasks
}

func send(t *testing.T, a *Agent, message, conversationID string) *Reply {
	t.Helper()
	reply, err := a.ProcessMessage(context.Background(), Request{
		Message:        message,
		AuthToken:      testToken,
		ConversationID: conversationID,
	})
	require.NoError(t, err)
	return reply
}

func seedTask(t *testing.T, tasks *backend.SQLiteBackend, title, priority string) {
	t.Helper()
	_, err := tasks.CreateTask(context.Background(), testUser, "", backend.Task{
		Title:    title,
		Priority: priority,
	})
	require.NoError(t, err)
}

func TestCreateTaskFlow(t *testing.T) {
	a, tasks := newTestAgent(t)

	reply := send(t, a, "Add a task to buy groceries", "")
	assert.True(t, reply.Success)
	assert.Equal(t, command.IntentCreateTask, reply.Intent)
	assert.Contains(t, reply.ResponseText, "I've created the task: 'buy groceries'")
	assert.NotEmpty(t, reply.ConversationID)
	assert.NotEmpty(t, reply.Suggestions)
	assert.False(t, reply.FollowUpRequired)

	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "buy groceries", stored[0].Title)
}

func TestListTasksFlow(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")
	seedTask(t, tasks, "call mom", "")

	reply := send(t, a, "Show my tasks", "")
	assert.True(t, reply.Success)
	assert.Equal(t, command.IntentListTasks, reply.Intent)
	assert.Contains(t, reply.ResponseText, "You have 2 tasks")
	assert.Contains(t, reply.ResponseText, "buy groceries")
	assert.Contains(t, reply.ResponseText, "call mom")
}

func TestSortTasksFlow(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "low one", "low")
	seedTask(t, tasks, "high one", "high")
	seedTask(t, tasks, "medium one", "medium")

	reply := send(t, a, "Sort my tasks by priority", "")
	assert.True(t, reply.Success)
	assert.Equal(t, command.IntentSortTasks, reply.Intent)
	assert.Equal(t, "I found 3 tasks: high one, medium one, low one.", reply.ResponseText)
}

func TestGetUserInfoFlow(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "What is my email", "")
	assert.True(t, reply.Success)
	assert.Equal(t, command.IntentGetUserInfo, reply.Intent)
	assert.Equal(t, "Your email address is alex@example.com.", reply.ResponseText)
}

func TestUnauthorized(t *testing.T) {
	a, _ := newTestAgent(t)

	_, err := a.ProcessMessage(context.Background(), Request{
		Message:   "Show my tasks",
		AuthToken: "bogus",
	})
	assert.ErrorIs(t, err, command.ErrUnauthorized)
}

func TestConversationContinuity(t *testing.T) {
	a, _ := newTestAgent(t)

	first := send(t, a, "Add a task to buy groceries", "")
	second := send(t, a, "Show my tasks", first.ConversationID)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	sess := a.Sessions().Get(first.ConversationID)
	require.NotNil(t, sess)
	assert.Len(t, sess.Messages, 4)
	assert.Equal(t, "user", sess.Messages[0].Role)
	assert.Equal(t, "assistant", sess.Messages[1].Role)
}

func TestForeignConversationIDStartsFresh(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "Show my tasks", "not-a-real-session")
	assert.NotEqual(t, "not-a-real-session", reply.ConversationID)
	assert.NotEmpty(t, reply.ConversationID)
}

func TestUnknownIntentAsksForClarification(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "blargh xyzzy quux", "")
	assert.False(t, reply.Success)
	assert.True(t, reply.FollowUpRequired)
	assert.Contains(t, reply.ResponseText, "not sure what you meant")

	sess := a.Sessions().Get(reply.ConversationID)
	require.NotNil(t, sess)
	assert.Equal(t, convo.StateAwaitingClarification, sess.State)

	// The restatement runs as a fresh turn and clears the pending state.
	next := send(t, a, "Show my tasks", reply.ConversationID)
	assert.True(t, next.Success)
	assert.Equal(t, convo.StateActive, a.Sessions().Get(reply.ConversationID).State)
}

func TestMissingTaskReferenceAsksForClarification(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "Delete this", "")
	assert.False(t, reply.Success)
	assert.True(t, reply.FollowUpRequired)
	assert.Contains(t, reply.ResponseText, "which task")
}

func TestBulkDeleteRequiresConfirmation(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")
	seedTask(t, tasks, "call mom", "")

	reply := send(t, a, "Delete all my tasks", "")
	assert.False(t, reply.Success)
	assert.True(t, reply.FollowUpRequired)
	assert.NotEmpty(t, reply.ConfirmationID)
	assert.Contains(t, reply.ResponseText, "Are you sure you want to delete all your tasks?")

	sess := a.Sessions().Get(reply.ConversationID)
	require.NotNil(t, sess)
	assert.Equal(t, convo.StateConfirmationRequired, sess.State)

	// Nothing was deleted yet.
	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestBulkDeleteConfirmedWithYes(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")
	seedTask(t, tasks, "call mom", "")

	pending := send(t, a, "Delete all my tasks", "")
	confirmed := send(t, a, "yes", pending.ConversationID)

	assert.True(t, confirmed.Success)
	assert.Contains(t, confirmed.ResponseText, "deleted all 2 of your tasks")

	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Empty(t, stored)

	sess := a.Sessions().Get(pending.ConversationID)
	require.NotNil(t, sess)
	assert.Equal(t, convo.StateActive, sess.State)
	assert.True(t, sess.Pending.IsNone())
}

func TestBulkDeleteRejectedWithNo(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")
	seedTask(t, tasks, "call mom", "")

	pending := send(t, a, "Delete all my tasks", "")
	rejected := send(t, a, "no", pending.ConversationID)

	assert.True(t, rejected.Success)
	assert.Contains(t, rejected.ResponseText, "cancelled")

	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	assert.True(t, a.Sessions().Get(pending.ConversationID).Pending.IsNone())
}

func TestUnclearConfirmationAnswerReprompts(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")
	unclear := send(t, a, "hmm maybe later", pending.ConversationID)

	assert.True(t, unclear.FollowUpRequired)
	assert.Equal(t, pending.ConfirmationID, unclear.ConfirmationID)
	assert.Contains(t, unclear.ResponseText, "yes or no")

	sess := a.Sessions().Get(pending.ConversationID)
	assert.Equal(t, convo.StateConfirmationRequired, sess.State)

	// A clear answer afterwards still works.
	confirmed := send(t, a, "yes", pending.ConversationID)
	assert.True(t, confirmed.Success)
}

func TestConfirmationExpires(t *testing.T) {
	clock := newFakeClock()
	a, tasks := newTestAgent(t, WithClock(clock.Now), WithConfirmationTTL(5*time.Minute))
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")
	clock.Advance(6 * time.Minute)

	expired := send(t, a, "yes", pending.ConversationID)
	assert.False(t, expired.Success)
	assert.Contains(t, expired.ResponseText, "expired")

	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "an expired confirmation must never execute")
}

func TestAmbiguousReferenceAsksWhichTask(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy milk", "")
	seedTask(t, tasks, "buy bread", "")

	reply := send(t, a, "complete buy", "")
	assert.False(t, reply.Success)
	assert.True(t, reply.FollowUpRequired)
	assert.Contains(t, reply.ResponseText, "multiple tasks")
	assert.Contains(t, reply.ResponseText, "buy milk")
	assert.Contains(t, reply.ResponseText, "buy bread")

	// The clarified restatement resolves to one task.
	done := send(t, a, "complete buy milk", reply.ConversationID)
	assert.True(t, done.Success)
	assert.Contains(t, done.ResponseText, "I've marked 'buy milk' as complete")
}

func TestTaskNotFound(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "complete buy", "")
	assert.False(t, reply.Success)
	assert.Contains(t, reply.ResponseText, `couldn't find a task matching "buy"`)
	assert.Contains(t, reply.Suggestions, "Show my tasks")
}

func TestMultiIntentSequential(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "Add a task called call mom and show my tasks", "")
	assert.True(t, reply.Success)
	assert.Equal(t, command.IntentCreateTask, reply.Intent)
	assert.Contains(t, reply.ResponseText, "2 of 2 requests succeeded.")
	assert.Contains(t, reply.ResponseText, "I've created the task: 'call mom'")
	assert.Contains(t, reply.ResponseText, "You have 1 task")
}

func TestMultiIntentReportsPartialFailure(t *testing.T) {
	a, _ := newTestAgent(t)

	// The completion part matches nothing; the listing part succeeds.
	reply := send(t, a, "complete buy and show my tasks", "")
	assert.False(t, reply.Success)
	assert.Contains(t, reply.ResponseText, "1 of 2 requests succeeded.")
	assert.Contains(t, reply.ResponseText, `couldn't find a task matching "buy"`)
}

func TestMultiIntentStopsAtPendingConfirmation(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	reply := send(t, a, "Show my tasks and delete all my tasks", "")
	assert.False(t, reply.Success)
	assert.True(t, reply.FollowUpRequired)
	assert.NotEmpty(t, reply.ConfirmationID)
	assert.Contains(t, reply.ResponseText, "You have 1 task")
	assert.Contains(t, reply.ResponseText, "Are you sure you want to delete all your tasks?")

	// Nothing deleted until the confirmation is answered.
	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestInputRejected(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "drop table users", "")
	assert.False(t, reply.Success)
	assert.Contains(t, reply.ResponseText, "harmful content")
}

func TestUnsafeTaskContentWithheldFromListing(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "kill the neighbor because I am going to do it", "")
	seedTask(t, tasks, "water plants", "")

	reply := send(t, a, "Show my tasks", "")
	assert.False(t, reply.Success)
	assert.NotContains(t, reply.ResponseText, "kill the neighbor")
	assert.Contains(t, reply.ResponseText, "withheld")
}

func TestUnsafeTaskContentWithheldFromSearch(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "kill the neighbor because I am going to do it", "")

	reply := send(t, a, "Find tasks with neighbor in the title", "")
	assert.False(t, reply.Success)
	assert.NotContains(t, reply.ResponseText, "kill the neighbor")
	assert.Contains(t, reply.ResponseText, "withheld")
}

func TestSelfHarmGetsSupportiveReply(t *testing.T) {
	a, _ := newTestAgent(t)

	reply := send(t, a, "I want to hurt myself", "")
	assert.False(t, reply.Success)
	assert.Contains(t, reply.ResponseText, "reaching out")
	assert.NotContains(t, reply.ResponseText, "error")
}

func TestResolveConfirmOutOfBand(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")
	require.NotEmpty(t, pending.ConfirmationID)

	reply, err := a.Resolve(context.Background(), testToken, pending.ConfirmationID, "confirm")
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, pending.ConversationID, reply.ConversationID)

	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Empty(t, stored)

	assert.True(t, a.Sessions().Get(pending.ConversationID).Pending.IsNone())

	// Consumed: answering again reports not found.
	_, err = a.Resolve(context.Background(), testToken, pending.ConfirmationID, "confirm")
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)
}

func TestResolveRejectOutOfBand(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")

	reply, err := a.Resolve(context.Background(), testToken, pending.ConfirmationID, "reject")
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Contains(t, reply.ResponseText, "cancelled")

	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestResolveIsScopedToOwner(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")

	_, err := a.Resolve(context.Background(), "tok-2", pending.ConfirmationID, "confirm")
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)
}

func TestResolveUnknownAction(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")

	_, err := a.Resolve(context.Background(), testToken, pending.ConfirmationID, "shrug")
	assert.Error(t, err)
}

func TestConfirmationStatus(t *testing.T) {
	a, tasks := newTestAgent(t)
	seedTask(t, tasks, "buy groceries", "")

	pending := send(t, a, "Delete all my tasks", "")

	status, err := a.ConfirmationStatus(context.Background(), testToken, pending.ConfirmationID)
	require.NoError(t, err)
	assert.Equal(t, pending.ConfirmationID, status.ID)
	assert.Equal(t, command.ConfirmDestructiveAction, status.Kind)
	assert.False(t, status.IsConfirmed)

	_, err = a.ConfirmationStatus(context.Background(), "tok-2", pending.ConfirmationID)
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)

	_, err = a.ConfirmationStatus(context.Background(), testToken, "no-such-id")
	assert.ErrorIs(t, err, command.ErrConfirmationNotFound)
}

func TestCancelledContextAbortsBeforeCommit(t *testing.T) {
	a, _ := newTestAgent(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.ProcessMessage(ctx, Request{Message: "Show my tasks", AuthToken: testToken})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionExpiryStartsFreshConversation(t *testing.T) {
	clock := newFakeClock()
	a, _ := newTestAgent(t, WithClock(clock.Now), WithSessionTTL(time.Hour))

	first := send(t, a, "Show my tasks", "")
	clock.Advance(2 * time.Hour)

	second := send(t, a, "Show my tasks", first.ConversationID)
	assert.NotEqual(t, first.ConversationID, second.ConversationID)
}

func TestSweepablesCoverSessionsAndConfirmations(t *testing.T) {
	a, _ := newTestAgent(t)
	assert.Len(t, a.Sweepables(), 2)
}
