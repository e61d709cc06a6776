package guard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"taskchat/internal/command"
)

func newGuard() *Guard {
	return New(zap.NewNop())
}

func TestValidateInput(t *testing.T) {
	g := newGuard()

	tests := []struct {
		name       string
		text       string
		wantValid  bool
		wantReason string
	}{
		{"ordinary request", "Add a task to buy groceries", true, "valid"},
		{"ordinary delete verb passes", "delete my groceries task", true, "valid"},
		{"too short", "a", false, "too_short"},
		{"whitespace only", "   ", false, "too_short"},
		{"excessive repetition", strings.Repeat("spam-word ", 30), false, "excessive_repetition"},
		{"sql injection shape", "drop table users", false, "contains_prohibited_content"},
		{"sql delete from", "delete from tasks where 1=1", false, "contains_prohibited_content"},
		{"credential pair", "my password: hunter2", false, "contains_prohibited_content"},
		{"restricted topic", "send harassment to my coworker", false, "contains_restricted_topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.ValidateInput(tt.text)
			assert.Equal(t, tt.wantValid, v.IsValid)
			assert.Equal(t, tt.wantReason, v.Reason)
			assert.NotEmpty(t, v.Message)
		})
	}
}

func TestValidateCommand(t *testing.T) {
	g := newGuard()

	valid := &command.Command{
		RawText:  "Add a task to buy groceries",
		Intent:   command.IntentCreateTask,
		Entities: map[string]string{command.SlotTaskTitle: "buy groceries"},
	}
	assert.True(t, g.ValidateCommand(valid).IsValid)

	noText := &command.Command{Intent: command.IntentCreateTask}
	v := g.ValidateCommand(noText)
	assert.False(t, v.IsValid)
	assert.Equal(t, "missing_raw_text", v.Reason)

	badIntent := &command.Command{RawText: "do something", Intent: command.Intent("NOT_AN_INTENT")}
	v = g.ValidateCommand(badIntent)
	assert.False(t, v.IsValid)
	assert.Equal(t, "missing_intent", v.Reason)

	badEntity := &command.Command{
		RawText:  "Add a task",
		Intent:   command.IntentCreateTask,
		Entities: map[string]string{command.SlotTaskTitle: "drop table tasks"},
	}
	v = g.ValidateCommand(badEntity)
	assert.False(t, v.IsValid)
	assert.Equal(t, "invalid_entity_task_title", v.Reason)
}

func TestValidateTaskOperationBulkDelete(t *testing.T) {
	g := newGuard()

	tests := []struct {
		name string
		cmd  command.Command
	}{
		{"bulk phrase in raw text", command.Command{
			RawText: "Delete all my tasks",
			Intent:  command.IntentDeleteTask,
		}},
		{"bulk term in entity", command.Command{
			RawText:  "remove them",
			Intent:   command.IntentDeleteTask,
			Entities: map[string]string{command.SlotSearchTerm: "everything"},
		}},
		{"wipe phrasing", command.Command{
			RawText: "wipe my task list",
			Intent:  command.IntentDeleteTask,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.ValidateTaskOperation(&tt.cmd)
			assert.True(t, v.RequiresConfirmation)
			assert.Equal(t, "bulk_deletion", v.Reason)
		})
	}
}

func TestValidateTaskOperationSingleDelete(t *testing.T) {
	g := newGuard()

	cmd := command.Command{
		RawText:  "Delete the groceries task",
		Intent:   command.IntentDeleteTask,
		Entities: map[string]string{command.SlotTaskTitle: "groceries"},
	}
	v := g.ValidateTaskOperation(&cmd)
	assert.True(t, v.IsValid)
	assert.False(t, v.RequiresConfirmation)
}

func TestValidateTaskOperationBulkUpdate(t *testing.T) {
	g := newGuard()

	cmd := command.Command{
		RawText:  "Change the priority of all work tasks to high",
		Intent:   command.IntentUpdateTask,
		Entities: map[string]string{command.SlotSearchTerm: "work"},
	}
	v := g.ValidateTaskOperation(&cmd)
	assert.True(t, v.RequiresConfirmation)
	assert.Equal(t, "bulk_update", v.Reason)
}

func TestValidateTaskOperationInsufficientCreate(t *testing.T) {
	g := newGuard()

	cmd := command.Command{RawText: "ad", Intent: command.IntentCreateTask}
	v := g.ValidateTaskOperation(&cmd)
	assert.False(t, v.IsValid)
	assert.False(t, v.RequiresConfirmation)
	assert.Equal(t, "insufficient_task_info", v.Reason)
}

func TestBulkDelete(t *testing.T) {
	assert.True(t, BulkDelete(&command.Command{RawText: "delete everything"}))
	assert.True(t, BulkDelete(&command.Command{
		Entities: map[string]string{command.SlotTaskTitle: "all tasks"},
	}))
	assert.False(t, BulkDelete(&command.Command{RawText: "delete the groceries task"}))
}

func TestCheckSafety(t *testing.T) {
	g := newGuard()

	assert.Empty(t, g.CheckSafety("Add a task to buy groceries"))

	issues := g.CheckSafety("I want to hurt myself")
	assert.Contains(t, issues, "potential_self_harm")

	issues = g.CheckSafety("I am going to attack him")
	assert.Contains(t, issues, "potential_violent_threat")

	// The threat verb alone is not enough without an intent marker.
	assert.Empty(t, g.CheckSafety("this deadline is going to be brutal"))
	assert.Empty(t, g.CheckSafety("attack the backlog"))
}

func TestScreenContent(t *testing.T) {
	g := newGuard()

	assert.Empty(t, g.ScreenContent("Add a task to buy groceries"))

	violations := g.ScreenContent("DO IT NOW!!! RIGHT NOW!!! HURRY!!! PLEASE!!!")
	assert.Contains(t, violations, "excessive_punctuation")
	assert.Contains(t, violations, "excessive_capitalization")

	violations = g.ScreenContent("select * from tasks")
	assert.Contains(t, violations, "prohibited_content")

	violations = g.ScreenContent("this is a scam")
	assert.Contains(t, violations, "restricted_topic")
}
