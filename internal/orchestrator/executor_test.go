package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskchat/internal/backend"
	"taskchat/internal/command"
)

func newTestExecutor(t *testing.T) (*Executor, *backend.SQLiteBackend) {
	t.Helper()

	tasks, err := backend.NewSQLiteBackend(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })

	auth := backend.NewStaticAuthValidator()
	auth.Register(testToken, backend.UserInfo{UserID: testUser, Name: "Alex", Email: "alex@example.com"})
	return NewExecutor(tasks, auth, zap.NewNop()), tasks
}

func TestBulkDeleteBlockedForForeignUser(t *testing.T) {
	e, tasks := newTestExecutor(t)
	seedTask(t, tasks, "buy groceries", "")

	ctx := backend.ContextWithToken(context.Background(), testToken)
	_, _, err := e.Execute(ctx, command.Command{
		RawText: "delete all my tasks",
		Intent:  command.IntentDeleteTask,
		UserID:  "someone-else",
	})
	assert.ErrorIs(t, err, command.ErrDestructiveActionBlocked)

	// Nothing was deleted.
	stored, err := tasks.ListTasks(context.Background(), testUser, "", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestBulkDeleteBlockedWithoutToken(t *testing.T) {
	e, _ := newTestExecutor(t)

	_, _, err := e.Execute(context.Background(), command.Command{
		RawText: "delete all my tasks",
		Intent:  command.IntentDeleteTask,
		UserID:  testUser,
	})
	assert.ErrorIs(t, err, command.ErrDestructiveActionBlocked)
}

func TestFilterFromCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  command.Command
		want map[string]string
	}{
		{
			name: "priority entity",
			cmd: command.Command{
				RawText:  "show only high priority tasks",
				Entities: map[string]string{command.SlotPriority: "high"},
			},
			want: map[string]string{"priority": "high"},
		},
		{
			name: "completed cue",
			cmd:  command.Command{RawText: "show my completed tasks"},
			want: map[string]string{"completed": "true"},
		},
		{
			name: "pending cue",
			cmd:  command.Command{RawText: "show only unfinished tasks"},
			want: map[string]string{"completed": "false"},
		},
		{
			name: "incomplete cue",
			cmd:  command.Command{RawText: "filter my incomplete tasks"},
			want: map[string]string{"completed": "false"},
		},
		{
			name: "no cues",
			cmd:  command.Command{RawText: "show only work stuff"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filterFromCommand(tt.cmd))
		})
	}
}

func TestSortKeyFromCommand(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"sort my tasks by priority", "priority"},
		{"sort by due date", "due_date"},
		{"order my tasks by deadline", "due_date"},
		{"sort tasks alphabetically", "title"},
		{"sort my tasks", "title"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, sortKeyFromCommand(command.Command{RawText: tt.raw}))
		})
	}
}

func TestUpdatesFromCommand(t *testing.T) {
	cmd := command.Command{
		Entities: map[string]string{
			command.SlotTaskTitle: "report",
			command.SlotPriority:  "high",
			command.SlotDueDate:   "friday",
		},
	}
	assert.Equal(t, map[string]string{
		command.SlotPriority: "high",
		command.SlotDueDate:  "friday",
	}, updatesFromCommand(cmd))
}
