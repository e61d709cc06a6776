// Package guard screens input, commands, and responses for quality, safety,
// and policy violations, and flags operations that must be confirmed before
// execution. Every check is a pure function over its arguments; the guard
// holds no state beyond its logger.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"taskchat/internal/command"
)

// InputVerdict is the outcome of validating free text.
type InputVerdict struct {
	IsValid bool
	Reason  string
	Message string
}

// TaskOpVerdict is the outcome of validating a task operation. A verdict with
// RequiresConfirmation=true is not a rejection: it routes the command to the
// confirmation service instead of execution.
type TaskOpVerdict struct {
	IsValid              bool
	RequiresConfirmation bool
	Reason               string
	Message              string
}

// prohibitedPatterns reject raw injection attempts: SQL statement shapes,
// execution keywords, and credential-looking key=value pairs. The SQL shapes
// are deliberately compound ("drop table", not "drop") so ordinary task verbs
// like "delete my groceries task" pass through to intent handling.
var prohibitedPatterns = compilePatterns(
	`(?i)\b(drop\s+table|truncate\s+table|insert\s+into|select\s+\*\s+from|delete\s+from|alter\s+table)\b`,
	`(?i)\b(exec|eval|subprocess|os\.system)\b`,
	`(?i)(password|secret|api[_-]?key|token)\s*[:=]\s*\S+`,
)

// restrictedTopics are refused outright regardless of intent.
var restrictedTopics = []string{
	"harassment",
	"threat",
	"violence",
	"hate speech",
	"explicit content",
	"spam",
	"scam",
}

// bulkActionTerms mark a destructive operation as fleet-wide rather than
// single-task when found in entity values.
var bulkActionTerms = map[string]bool{
	"all":        true,
	"everything": true,
	"all tasks":  true,
	"every task": true,
	"*":          true,
	"bulk":       true,
}

// bulkActionPhrases mark a destructive operation as fleet-wide when found in
// the raw utterance.
var bulkActionPhrases = []string{
	"delete all",
	"remove all",
	"clear all",
	"erase all",
	"delete everything",
	"remove everything",
	"destroy",
	"nuke",
	"wipe",
}

var (
	selfHarmIndicators = []string{
		"suicide", "kill myself", "end my life", "self harm", "hurt myself",
	}
	threatVerbs = []string{
		"kill", "murder", "hurt", "attack", "destroy", "harm",
	}
	threatIntentMarkers = []string{
		"want to", "will", "going to",
	}
	explicitIndicators = []string{
		"porn", "nude", "sexually", "explicit",
	}
)

var bangRuns = regexp.MustCompile(`!{3,}`)

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// Guard runs the validation checks.
type Guard struct {
	logger *zap.Logger
}

// New creates a Guard.
func New(logger *zap.Logger) *Guard {
	return &Guard{logger: logger.Named("guard")}
}

// ValidateInput screens free text: minimum length, token-uniqueness ratio,
// prohibited patterns, restricted topics.
func (g *Guard) ValidateInput(text string) InputVerdict {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if len(trimmed) < 2 {
		return InputVerdict{
			Reason:  "too_short",
			Message: "Your input is too short to process.",
		}
	}

	words := strings.Fields(lower)
	if len(words) > 0 {
		unique := make(map[string]bool, len(words))
		for _, w := range words {
			unique[w] = true
		}
		if float64(len(unique))/float64(len(words)) < 0.2 {
			return InputVerdict{
				Reason:  "excessive_repetition",
				Message: "Your input contains too much repetition.",
			}
		}
	}

	for _, p := range prohibitedPatterns {
		if p.MatchString(trimmed) {
			return InputVerdict{
				Reason:  "contains_prohibited_content",
				Message: "Your input contains potentially harmful content.",
			}
		}
	}

	for _, topic := range restrictedTopics {
		if strings.Contains(lower, topic) {
			return InputVerdict{
				Reason:  "contains_restricted_topic",
				Message: fmt.Sprintf("Your input contains content related to %q which is restricted.", topic),
			}
		}
	}

	return InputVerdict{IsValid: true, Reason: "valid", Message: "Input is valid."}
}

// ValidateCommand requires non-empty raw text and a known intent, and re-runs
// every string entity value through ValidateInput.
func (g *Guard) ValidateCommand(cmd *command.Command) InputVerdict {
	if strings.TrimSpace(cmd.RawText) == "" {
		return InputVerdict{
			Reason:  "missing_raw_text",
			Message: "Command is missing its raw text.",
		}
	}
	if cmd.Intent == "" || !cmd.Intent.IsValid() {
		return InputVerdict{
			Reason:  "missing_intent",
			Message: "Command is missing a recognized intent.",
		}
	}

	for key, value := range cmd.Entities {
		if v := g.ValidateInput(value); !v.IsValid {
			g.logger.Debug("entity failed validation",
				zap.String("slot", key),
				zap.String("reason", v.Reason))
			return InputVerdict{
				Reason:  "invalid_entity_" + key,
				Message: fmt.Sprintf("The %s value contains invalid content.", key),
			}
		}
	}

	return InputVerdict{IsValid: true, Reason: "valid_command", Message: "Command is valid."}
}

// BulkDelete reports whether a delete command targets the whole task set
// rather than one task. The executor uses the same test to pick between
// single-task and delete-all execution after confirmation.
func BulkDelete(cmd *command.Command) bool {
	rawLower := strings.ToLower(cmd.RawText)
	term := strings.ToLower(cmd.Entity(command.SlotSearchTerm))
	title := strings.ToLower(cmd.Entity(command.SlotTaskTitle))
	return bulkActionTerms[term] || bulkActionTerms[title] || containsAny(rawLower, bulkActionPhrases)
}

// ValidateTaskOperation detects destructive operations (deletes and bulk
// updates) that must be confirmed before execution.
func (g *Guard) ValidateTaskOperation(cmd *command.Command) TaskOpVerdict {
	rawLower := strings.ToLower(cmd.RawText)

	switch cmd.Intent {
	case command.IntentDeleteTask:
		if BulkDelete(cmd) {
			return TaskOpVerdict{
				RequiresConfirmation: true,
				Reason:               "bulk_deletion",
				Message:              "Deleting all tasks requires confirmation.",
			}
		}

	case command.IntentUpdateTask:
		hasScope := cmd.Entity(command.SlotSearchTerm) != "" || cmd.Entity("filter") != ""
		if hasScope && containsAny(rawLower, []string{"all", "every", "each"}) {
			return TaskOpVerdict{
				RequiresConfirmation: true,
				Reason:               "bulk_update",
				Message:              "This bulk update operation requires confirmation.",
			}
		}

	case command.IntentCreateTask:
		if cmd.Entity(command.SlotTaskTitle) == "" && len(strings.TrimSpace(cmd.RawText)) < 3 {
			return TaskOpVerdict{
				Reason:  "insufficient_task_info",
				Message: "Not enough information to create a task.",
			}
		}
	}

	return TaskOpVerdict{IsValid: true, Message: "Task operation is valid."}
}

// CheckSafety runs keyword-co-occurrence heuristics for self-harm, violent
// threats, and explicit content, returning a list of issue tags. An empty
// list means the text is safe.
func (g *Guard) CheckSafety(text string) []string {
	lower := strings.ToLower(text)
	var issues []string

	if containsAny(lower, selfHarmIndicators) {
		issues = append(issues, "potential_self_harm")
	}

	if containsAny(lower, threatVerbs) && containsAny(lower, threatIntentMarkers) {
		issues = append(issues, "potential_violent_threat")
	}

	if containsAny(lower, explicitIndicators) {
		issues = append(issues, "explicit_content")
	}

	return issues
}

// ScreenContent flags stylistic and policy violations: excessive punctuation,
// all-caps shouting, prohibited patterns, restricted topics.
func (g *Guard) ScreenContent(text string) []string {
	lower := strings.ToLower(text)
	var violations []string

	if len(bangRuns.FindAllString(text, -1)) > 3 {
		violations = append(violations, "excessive_punctuation")
	}

	if len(text) > 10 && text == strings.ToUpper(text) && text != lower {
		violations = append(violations, "excessive_capitalization")
	}

	for _, p := range prohibitedPatterns {
		if p.MatchString(text) {
			violations = append(violations, "prohibited_content")
			break
		}
	}

	for _, topic := range restrictedTopics {
		if strings.Contains(lower, topic) {
			violations = append(violations, "restricted_topic")
			break
		}
	}

	return violations
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
