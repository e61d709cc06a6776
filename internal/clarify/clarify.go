// Package clarify detects ambiguous or underspecified commands and builds the
// clarification prompt sent back to the user.
package clarify

import (
	"fmt"
	"strings"

	"taskchat/internal/command"
)

// Candidate is a task record that could satisfy an ambiguous reference. Only
// the title is needed for prompting.
type Candidate struct {
	ID    string
	Title string
}

// maxSuggestedCandidates caps how many candidate titles a clarification
// prompt lists.
const maxSuggestedCandidates = 3

// Generator builds clarification requests.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NeedsClarification evaluates the command against its candidate matches and
// returns a clarification request when one is warranted, or nil.
//
// Conditions are mutually exclusive by order, not severity: only the first
// matching condition fires.
func (g *Generator) NeedsClarification(cmd *command.Command, candidates []Candidate) *command.ClarificationRequest {
	if len(candidates) > 1 {
		return g.ambiguousReference(candidates)
	}

	if cmd.Intent == command.IntentUnknown {
		return g.unclearIntent(cmd)
	}

	if intentNeedsReference(cmd.Intent) && cmd.Entity(command.SlotTaskTitle) == "" &&
		cmd.Entity(command.SlotSearchTerm) == "" {
		return g.missingEntity(cmd)
	}

	return nil
}

// intentNeedsReference reports whether the intent cannot proceed without a
// task title or reference entity.
func intentNeedsReference(in command.Intent) bool {
	switch in {
	case command.IntentCreateTask, command.IntentUpdateTask,
		command.IntentDeleteTask, command.IntentCompleteTask:
		return true
	}
	return false
}

func (g *Generator) ambiguousReference(candidates []Candidate) *command.ClarificationRequest {
	shown := candidates
	if len(shown) > maxSuggestedCandidates {
		shown = shown[:maxSuggestedCandidates]
	}

	titles := make([]string, 0, len(shown))
	suggestions := make([]string, 0, len(shown))
	for _, c := range shown {
		title := c.Title
		if title == "" {
			title = "unnamed task"
		}
		titles = append(titles, title)
		suggestions = append(suggestions, fmt.Sprintf("Choose %q", title))
	}

	return &command.ClarificationRequest{
		Kind: command.ClarifyAmbiguousTaskReference,
		Message: fmt.Sprintf(
			"I found multiple tasks that match your request: %s. Could you specify which one you mean?",
			strings.Join(titles, ", ")),
		Suggestions: suggestions,
	}
}

func (g *Generator) unclearIntent(cmd *command.Command) *command.ClarificationRequest {
	return &command.ClarificationRequest{
		Kind: command.ClarifyUnclearIntent,
		Message: fmt.Sprintf(
			"I'm not sure what you meant by %q. Could you rephrase your request or be more specific?",
			cmd.RawText),
		Suggestions: []string{
			"Add a task: [title]",
			"Complete task: [title]",
			"Delete task: [title]",
			"Show my tasks",
			"What can I do?",
		},
	}
}

func (g *Generator) missingEntity(cmd *command.Command) *command.ClarificationRequest {
	req := &command.ClarificationRequest{
		Kind:    command.ClarifyMissingEntity,
		Context: map[string]string{"intent": string(cmd.Intent)},
	}

	switch cmd.Intent {
	case command.IntentCreateTask:
		req.Message = "I need a title for the task you want to create. What should I call it?"
		req.Suggestions = []string{
			"Add task: [task title]",
			"Create a task to [describe task]",
			"Make a new task called [title]",
		}
	case command.IntentUpdateTask, command.IntentDeleteTask:
		req.Message = "I need to know which task you want to modify. Could you specify the task title?"
	case command.IntentCompleteTask:
		req.Message = "Which task would you like to mark as complete?"
	default:
		req.Message = "I need more information to complete this request. What is the title of the task?"
	}

	return req
}
