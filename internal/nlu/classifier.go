// Package nlu turns free-text utterances into classified, entity-annotated
// commands. Classification and extraction are ordered strategy chains: an
// optional external generative collaborator is tried first with a bounded
// timeout, and the rule-based path is always last and always answers. The
// chain is total; it never returns an error to the caller.
package nlu

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskchat/internal/command"
)

// externalConfidence is assigned when the external collaborator returns a
// label that maps onto a known intent.
const externalConfidence = 0.8

// ExternalClassifier is the optional generative classification collaborator.
// Any error, unmapped label, or timeout falls through to the rule-based path
// with no error surfaced.
type ExternalClassifier interface {
	ClassifyLabel(ctx context.Context, text string, labels []string) (string, error)
}

type intentRule struct {
	intent   command.Intent
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// intentRules maps each intent to its trigger patterns. Order is semantic:
// score ties go to the earliest-declared intent.
var intentRules = []intentRule{
	{command.IntentCreateTask, compileAll(
		`add.*task`, `create.*task`, `new.*task`, `make.*task`, `\badd\b`, `\bcreate\b`,
	)},
	{command.IntentUpdateTask, compileAll(
		`update.*task`, `modify.*task`, `change.*task`, `\bupdate\b`, `\bmodify\b`, `\bchange\b`,
		`edit.*task`, `\bedit\b`, `update.*title`, `update.*description`, `update.*priority`,
		`change.*title`, `change.*description`, `change.*priority`, `modify.*title`,
		`modify.*description`, `modify.*priority`,
	)},
	{command.IntentDeleteTask, compileAll(
		`delete.*task`, `remove.*task`, `drop.*task`, `\bdelete\b`, `\bremove\b`,
	)},
	{command.IntentListTasks, compileAll(
		`show.*task`, `list.*task`, `view.*task`, `what.*task`, `all.*task`, `\bshow\b`, `\blist\b`,
	)},
	{command.IntentSearchTasks, compileAll(
		`find.*task`, `search.*task`, `look.*for.*task`, `\bfind\b`, `\bsearch\b`,
	)},
	{command.IntentFilterTasks, compileAll(
		`filter.*task`, `show.*only`, `only.*task`, `just.*task`, `display.*only`,
		`filtered.*task`, `\bfilter\b`,
	)},
	{command.IntentSortTasks, compileAll(
		`sort.*task`, `order.*task`, `arrange.*task`, `\bsort\b`, `sort.*by`, `order.*by`,
	)},
	{command.IntentCompleteTask, compileAll(
		`complete.*task`, `finish.*task`, `done.*with.*task`, `mark.*done`,
		`\bcomplete\b`, `\bfinish\b`, `\bdone\b`,
	)},
	{command.IntentGetUserInfo, compileAll(
		`who.*am.*i`, `what.*is.*my.*email`, `my.*info`, `user.*info`, `who.*i.*am`,
		`my.*name`, `what.*is.*my.*name`, `my.*email`,
	)},
}

// Classifier scores candidate intents against an utterance.
type Classifier struct {
	external ExternalClassifier
	timeout  time.Duration
	logger   *zap.Logger
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithExternalClassifier attaches the optional generative collaborator.
func WithExternalClassifier(ec ExternalClassifier, timeout time.Duration) ClassifierOption {
	return func(c *Classifier) {
		c.external = ec
		c.timeout = timeout
	}
}

// NewClassifier creates a classifier. With no options it is purely rule-based.
func NewClassifier(logger *zap.Logger, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		timeout: 5 * time.Second,
		logger:  logger.Named("classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the best-matching intent and a confidence in [0, 1].
// Zero rule matches yield (IntentUnknown, 0.0). The method is deterministic
// for any fixed input on the rule-based path and never fails.
func (c *Classifier) Classify(ctx context.Context, text string) (command.Intent, float64) {
	if c.external != nil {
		if intent, ok := c.classifyExternal(ctx, text); ok {
			return intent, externalConfidence
		}
	}
	return c.classifyRules(text)
}

// classifyExternal asks the collaborator for a label. Every failure mode
// (error, timeout, unmapped label) reports ok=false so the caller falls
// through to rules.
func (c *Classifier) classifyExternal(ctx context.Context, text string) (command.Intent, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	labels := make([]string, 0, len(command.Intents))
	for _, in := range command.Intents {
		labels = append(labels, string(in))
	}

	label, err := c.external.ClassifyLabel(ctx, text, labels)
	if err != nil {
		c.logger.Debug("external classifier unavailable, falling back to rules",
			zap.Error(err))
		return command.IntentUnknown, false
	}

	intent, ok := command.ParseIntent(strings.TrimSpace(label))
	if !ok {
		c.logger.Debug("external classifier returned unmapped label",
			zap.String("label", label))
		return command.IntentUnknown, false
	}
	return intent, true
}

// classifyRules counts matching trigger patterns per intent. The intent with
// the highest count wins; ties go to the first-declared intent. Confidence is
// matched/total for the winning intent, clamped to 1.0.
func (c *Classifier) classifyRules(text string) (command.Intent, float64) {
	lower := strings.ToLower(strings.TrimSpace(text))

	best := command.IntentUnknown
	bestScore := 0
	bestTotal := 0

	for _, rule := range intentRules {
		score := 0
		for _, p := range rule.patterns {
			if p.MatchString(lower) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestTotal = len(rule.patterns)
			best = rule.intent
		}
	}

	if bestScore == 0 {
		return command.IntentUnknown, 0.0
	}

	confidence := float64(bestScore) / float64(bestTotal)
	if confidence > 1.0 {
		confidence = 1.0
	}
	return best, confidence
}
