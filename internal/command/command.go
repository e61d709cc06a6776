// Package command defines the structured representation of a classified user
// statement and the result of executing it. A Command is created once per
// classified statement and is immutable after creation; everything downstream
// of the classifier (validation, confirmation, execution, formatting) consumes
// it read-only.
package command

import (
	"time"
)

// Intent is the enumerated category of user goal.
type Intent string

const (
	IntentCreateTask   Intent = "CREATE_TASK"
	IntentUpdateTask   Intent = "UPDATE_TASK"
	IntentDeleteTask   Intent = "DELETE_TASK"
	IntentListTasks    Intent = "LIST_TASKS"
	IntentSearchTasks  Intent = "SEARCH_TASKS"
	IntentFilterTasks  Intent = "FILTER_TASKS"
	IntentSortTasks    Intent = "SORT_TASKS"
	IntentCompleteTask Intent = "COMPLETE_TASK"
	IntentGetUserInfo  Intent = "GET_USER_INFO"
	IntentUnknown      Intent = "UNKNOWN"
)

// Intents lists every classifiable intent in declaration order. The order is
// semantic: the classifier breaks score ties in favour of the
// earliest-declared intent.
var Intents = []Intent{
	IntentCreateTask,
	IntentUpdateTask,
	IntentDeleteTask,
	IntentListTasks,
	IntentSearchTasks,
	IntentFilterTasks,
	IntentSortTasks,
	IntentCompleteTask,
	IntentGetUserInfo,
}

// ParseIntent maps a label to a known intent. Unrecognized labels map to
// IntentUnknown with ok=false so external classifier output can be screened.
func ParseIntent(label string) (Intent, bool) {
	for _, in := range Intents {
		if string(in) == label {
			return in, true
		}
	}
	return IntentUnknown, false
}

// IsValid reports whether in is a member of the intent set (UNKNOWN included).
func (in Intent) IsValid() bool {
	if in == IntentUnknown {
		return true
	}
	_, ok := ParseIntent(string(in))
	return ok
}

// Mutating reports whether executing the intent writes to the task backend.
func (in Intent) Mutating() bool {
	switch in {
	case IntentCreateTask, IntentUpdateTask, IntentDeleteTask, IntentCompleteTask:
		return true
	case IntentListTasks, IntentSearchTasks, IntentFilterTasks, IntentSortTasks,
		IntentGetUserInfo, IntentUnknown:
		return false
	}
	return false
}

// Entity slot names produced by the extractor.
const (
	SlotTaskTitle   = "task_title"
	SlotSearchTerm  = "search_term"
	SlotTitle       = "title"
	SlotDescription = "description"
	SlotPriority    = "priority"
	SlotDueDate     = "due_date"
	SlotCategory    = "category"
	SlotInfoType    = "info_type"
)

// Command is a classified, entity-annotated representation of one user
// statement.
type Command struct {
	RawText        string
	Intent         Intent
	Entities       map[string]string
	Confidence     float64
	UserID         string
	ConversationID string
	Timestamp      time.Time
}

// Entity returns the named slot value, or "" when absent.
func (c *Command) Entity(slot string) string {
	if c.Entities == nil {
		return ""
	}
	return c.Entities[slot]
}

// Result is the outcome of executing one command. The execution payload is
// opaque to the pipeline; the formatter reads only the typed fields.
type Result struct {
	Success          bool
	Message          string
	Intent           Intent
	Entities         map[string]string
	ExecutionPayload map[string]any
	UserContext      map[string]string
	Suggestions      []string
	FollowUpRequired bool
	ConfirmationID   string
}
