package orchestrator

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"taskchat/internal/command"
	"taskchat/internal/nlu"
)

// MultiStrategy decides the execution order of a decomposed multi-intent
// message.
type MultiStrategy interface {
	Order(ctx context.Context, parts []string) []string
}

// Sequential executes the parts in utterance order.
type Sequential struct{}

// Order returns the parts unchanged.
func (Sequential) Order(_ context.Context, parts []string) []string {
	return parts
}

// intentPriority ranks intents for hierarchical execution, lowest first.
// Reads run before writes so informational parts report the state the user
// asked about, not the state after the sibling mutations; completion runs
// after deletion so "finish X and delete Y" never completes a task a sibling
// part just removed by a broader match.
var intentPriority = map[command.Intent]int{
	command.IntentUnknown:      0,
	command.IntentListTasks:    1,
	command.IntentSearchTasks:  2,
	command.IntentFilterTasks:  3,
	command.IntentSortTasks:    4,
	command.IntentCreateTask:   5,
	command.IntentUpdateTask:   6,
	command.IntentDeleteTask:   7,
	command.IntentGetUserInfo:  8,
	command.IntentCompleteTask: 9,
}

// Hierarchical pre-classifies every part concurrently and executes them in
// ascending priority order. Parts with equal priority keep their utterance
// order.
type Hierarchical struct {
	classifier *nlu.Classifier
}

// NewHierarchical creates a hierarchical strategy over the given classifier.
func NewHierarchical(classifier *nlu.Classifier) *Hierarchical {
	return &Hierarchical{classifier: classifier}
}

// Order classifies the parts in parallel and sorts them by intent priority.
// On a classification round that cannot complete, the utterance order stands.
func (h *Hierarchical) Order(ctx context.Context, parts []string) []string {
	intents := make([]command.Intent, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			intent, _ := h.classifier.Classify(gctx, part)
			intents[i] = intent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return parts
	}

	idx := make([]int, len(parts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return intentPriority[intents[idx[a]]] < intentPriority[intents[idx[b]]]
	})

	ordered := make([]string, 0, len(parts))
	for _, i := range idx {
		ordered = append(ordered, parts[i])
	}
	return ordered
}
