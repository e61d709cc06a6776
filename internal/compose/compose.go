// Package compose renders structured command results into human text. Phrase
// variation goes through a pluggable picker so tests get reproducible output;
// true randomness lives only in the production picker.
package compose

import (
	"fmt"
	"strings"

	"taskchat/internal/command"
)

var positivePrefixes = []string{
	"Great! ",
	"Sure thing! ",
	"Done! ",
	"Alright! ",
	"Perfect! ",
}

var negativePrefixes = []string{
	"I'm sorry, ",
	"Unfortunately, ",
	"Hmm, it seems ",
	"Looks like ",
}

var suggestionLeads = []string{
	"Here are some things you might want to try: ",
	"You could also: ",
	"Consider doing: ",
	"You might want to: ",
}

// maxListedTitles caps how many task titles a listing reply spells out.
const maxListedTitles = 5

// Formatter renders results into replies.
type Formatter struct {
	picker PhrasePicker
}

// New creates a formatter with the given phrase picker. Pass NewRoundRobin()
// for deterministic output or NewRandom() in production.
func New(picker PhrasePicker) *Formatter {
	return &Formatter{picker: picker}
}

// FormatResult renders a command result into the assistant reply.
func (f *Formatter) FormatResult(res *command.Result) string {
	if !res.Success {
		return f.FormatError(res.Message)
	}
	return f.formatSuccess(res)
}

// FormatError renders a failure message with a varied apologetic lead-in.
func (f *Formatter) FormatError(message string) string {
	prefix := negativePrefixes[f.picker.Pick(len(negativePrefixes))]
	if message == "" {
		return prefix + "I couldn't complete that request. Could you try rephrasing?"
	}
	return prefix + message
}

// FormatSuggestions renders follow-up suggestions, or "" when there are none.
func (f *Formatter) FormatSuggestions(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	lead := suggestionLeads[f.picker.Pick(len(suggestionLeads))]
	return lead + strings.Join(suggestions, ", or ") + "."
}

// FormatFollowUp renders the prompt asking for the missing detail of an
// intent.
func (f *Formatter) FormatFollowUp(in command.Intent) string {
	switch in {
	case command.IntentCreateTask:
		return "What would you like to name your task?"
	case command.IntentUpdateTask:
		return "Which task would you like to update, and what changes would you like to make?"
	case command.IntentDeleteTask:
		return "Which task would you like to delete?"
	case command.IntentCompleteTask:
		return "Which task would you like to mark as complete?"
	case command.IntentSearchTasks:
		return "What are you looking for in your tasks?"
	default:
		return "Could you please provide more details?"
	}
}

// FormatTaskList renders a title listing with an "and N more" overflow.
func (f *Formatter) FormatTaskList(titles []string) string {
	if len(titles) == 0 {
		return "You don't have any tasks at the moment."
	}

	shown := titles
	if len(shown) > maxListedTitles {
		shown = shown[:maxListedTitles]
	}
	list := strings.Join(shown, ", ")

	if remaining := len(titles) - len(shown); remaining > 0 {
		return fmt.Sprintf("Here are your tasks: %s, and %d more.", list, remaining)
	}
	return fmt.Sprintf("Here are your tasks: %s.", list)
}

func (f *Formatter) formatSuccess(res *command.Result) string {
	switch res.Intent {
	case command.IntentListTasks:
		count := payloadCount(res)
		if count == 0 {
			return "You don't have any tasks at the moment."
		}
		return fmt.Sprintf("You have %d task%s. %s", count, plural(count), f.FormatTaskList(payloadTitles(res)))

	case command.IntentSearchTasks:
		count := payloadCount(res)
		if count == 0 {
			return "I couldn't find any tasks matching your search."
		}
		return fmt.Sprintf("I found %d matching task%s: %s.", count, plural(count), joinTitles(payloadTitles(res)))

	case command.IntentFilterTasks, command.IntentSortTasks:
		count := payloadCount(res)
		if count == 0 {
			return "I couldn't find any tasks matching your filters."
		}
		return fmt.Sprintf("I found %d task%s: %s.", count, plural(count), joinTitles(payloadTitles(res)))

	case command.IntentGetUserInfo:
		if res.Message != "" {
			return res.Message
		}
		return "Here's the information you requested."

	default:
		prefix := positivePrefixes[f.picker.Pick(len(positivePrefixes))]
		if res.Message != "" {
			return prefix + res.Message
		}
		return prefix + "I've completed your request."
	}
}

// payloadCount reads the result-set size the executor recorded.
func payloadCount(res *command.Result) int {
	if res.ExecutionPayload == nil {
		return 0
	}
	switch v := res.ExecutionPayload["count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// payloadTitles reads the task titles the executor recorded.
func payloadTitles(res *command.Result) []string {
	if res.ExecutionPayload == nil {
		return nil
	}
	switch v := res.ExecutionPayload["titles"].(type) {
	case []string:
		return v
	case []any:
		titles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				titles = append(titles, s)
			}
		}
		return titles
	}
	return nil
}

func joinTitles(titles []string) string {
	shown := titles
	if len(shown) > maxListedTitles {
		shown = shown[:maxListedTitles]
	}
	list := strings.Join(shown, ", ")
	if remaining := len(titles) - len(shown); remaining > 0 {
		return fmt.Sprintf("%s, and %d more", list, remaining)
	}
	return list
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
