package nlu

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskchat/internal/command"
)

// ExternalExtractor is the optional generative extraction collaborator. An
// empty or failing result falls through to the rule-based path.
type ExternalExtractor interface {
	ExtractEntities(ctx context.Context, text string) (map[string]string, error)
}

// Slot extraction rules. Within one slot the first matching pattern wins and
// later patterns for that slot are not evaluated.
var (
	titlePatterns = compileAll(
		`(?i)(?:add|create|make|buy|do|complete|finish)\s+(?:a\s+)?(?:task\s+(?:to|called|named)\s+|to\s+|that\s+)([^.!?]+?)(?:\.|$)`,
		`(?i)(?:add|create|make|buy|do|complete|finish)\s+(?:a\s+)?([^!.?]+?)(?:\.|$)`,
	)

	// Update patterns capture (attribute, task reference, new value) triples,
	// or (attribute, new value) pairs when the task reference is implicit.
	updateTriplePatterns = compileAll(
		`(?i)(?:update|change|modify)\s+(?:the\s+)?(\w+)\s+of\s+(?:task|the)\s+(.+?)\s+(?:to|as)\s+(.+?)(?:\.|$)`,
		`(?i)(?:update|change|modify)\s+(?:task\s+)?(.+?)\s+(title|name|description|priority|due date|date|category)\s+(?:to|as)\s+(.+?)(?:\.|$)`,
	)
	updatePairPatterns = compileAll(
		`(?i)(?:update|change|modify)\s+(?:the\s+)?(\w+)\s+(?:to|as)\s+(.+?)(?:\.|$)`,
	)

	searchPatterns = compileAll(
		`(?i)(?:find|search|look\s+for|show\s+me)\s+(?:(?:all|my)\s+)?tasks?\s+(?:containing|about|with|like)\s+(.+?)(?:\s+in\s+the\s+(?:title|name))?\s*(?:\.|$)`,
		`(?i)(?:find|search|look\s+for|show\s+me)\s+([^!.?]+?)(?:\.|$)`,
	)

	priorityPattern = regexp.MustCompile(`(?i)\b(high|medium|low)\b`)

	dueDatePatterns = compileAll(
		`(?i)on\s+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`,
		`(?i)on\s+([A-Za-z]+\s+\d{1,2}(?:st|nd|rd|th)?,\s*\d{4})`,
		`(?i)\b(today|tomorrow|next\s+week|next\s+month)\b`,
	)

	descriptionPatterns = compileAll(
		`(?i)description:\s*(.+?)(?:\.|$)`,
		`(?i)with\s+description\s+(.+?)(?:\.|$)`,
		`(?i)that\s+does\s+(.+?)(?:\.|$)`,
	)
)

// attrSlots maps the attribute word of an update utterance to its entity slot.
var attrSlots = map[string]string{
	"title":       command.SlotTitle,
	"name":        command.SlotTitle,
	"description": command.SlotDescription,
	"priority":    command.SlotPriority,
	"due date":    command.SlotDueDate,
	"date":        command.SlotDueDate,
	"category":    command.SlotCategory,
}

// Extractor pulls structured slots out of free text.
type Extractor struct {
	external ExternalExtractor
	timeout  time.Duration
	logger   *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExternalExtractor attaches the optional generative collaborator.
func WithExternalExtractor(ee ExternalExtractor, timeout time.Duration) ExtractorOption {
	return func(e *Extractor) {
		e.external = ee
		e.timeout = timeout
	}
}

// NewExtractor creates an extractor. With no options it is purely rule-based.
func NewExtractor(logger *zap.Logger, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		timeout: 5 * time.Second,
		logger:  logger.Named("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the entity map for text. It never fails; no matches yield
// an empty map, and rerunning on identical input yields an identical map.
func (e *Extractor) Extract(ctx context.Context, text string) map[string]string {
	if e.external != nil {
		if entities, ok := e.extractExternal(ctx, text); ok {
			return entities
		}
	}
	return e.extractRules(text)
}

func (e *Extractor) extractExternal(ctx context.Context, text string) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	entities, err := e.external.ExtractEntities(ctx, text)
	if err != nil {
		e.logger.Debug("external extractor unavailable, falling back to rules",
			zap.Error(err))
		return nil, false
	}
	if len(entities) == 0 {
		return nil, false
	}
	return entities, true
}

// extractRules applies the ordered slot rules. Slot order matters:
// task_title runs before search_term, and task_title is back-filled from
// search_term only when still absent afterwards.
func (e *Extractor) extractRules(text string) map[string]string {
	entities := make(map[string]string)
	lower := strings.ToLower(text)

	// User-info request type.
	switch {
	case strings.Contains(lower, "my name"):
		entities[command.SlotInfoType] = "name"
	case strings.Contains(lower, "my email"):
		entities[command.SlotInfoType] = "email"
	case strings.Contains(lower, "my info"), strings.Contains(lower, "user info"),
		strings.Contains(lower, "who am i"):
		entities[command.SlotInfoType] = "general"
	}

	// Task title: phrase after a creation/completion verb.
	for _, p := range titlePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			entities[command.SlotTaskTitle] = squeeze(m[1])
			break
		}
	}

	e.extractUpdate(text, entities)

	// Search term.
	for _, p := range searchPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			entities[command.SlotSearchTerm] = squeeze(m[1])
			break
		}
	}

	// Cross-slot defaulting: a task reference found as a search term also
	// identifies the task when no explicit title was extracted.
	if entities[command.SlotTaskTitle] == "" {
		if term := entities[command.SlotSearchTerm]; term != "" {
			entities[command.SlotTaskTitle] = term
		} else {
			delete(entities, command.SlotTaskTitle)
		}
	}

	if m := priorityPattern.FindStringSubmatch(lower); m != nil {
		entities[command.SlotPriority] = m[1]
	}

	for _, p := range dueDatePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			entities[command.SlotDueDate] = m[0]
			break
		}
	}

	for _, p := range descriptionPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			entities[command.SlotDescription] = squeeze(m[1])
			break
		}
	}

	return entities
}

// extractUpdate handles per-attribute update triples ("change the priority of
// task X to high") and pairs ("change priority to high").
func (e *Extractor) extractUpdate(text string, entities map[string]string) {
	for _, p := range updateTriplePatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		var attr, ref, value string
		// The two triple patterns order their groups differently: the first
		// captures (attr, ref, value), the second (ref, attr, value).
		if _, ok := attrSlots[strings.ToLower(squeeze(m[1]))]; ok {
			attr, ref, value = m[1], m[2], m[3]
		} else {
			ref, attr, value = m[1], m[2], m[3]
		}

		if slot, ok := attrSlots[strings.ToLower(squeeze(attr))]; ok {
			entities[slot] = squeeze(value)
		}
		if ref = squeeze(ref); ref != "" {
			entities[command.SlotSearchTerm] = ref
		}
		return
	}

	for _, p := range updatePairPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if slot, ok := attrSlots[strings.ToLower(squeeze(m[1]))]; ok {
			entities[slot] = squeeze(m[2])
			// The task reference stays whatever the title/search rules found.
			return
		}
	}
}

// squeeze trims and collapses internal whitespace runs to single spaces.
func squeeze(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
