package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"taskchat/internal/backend"
	"taskchat/internal/clarify"
	"taskchat/internal/command"
	"taskchat/internal/guard"
)

// Executor carries out a validated command against the task backend. It is
// the single place where intents turn into backend calls; everything above it
// deals in commands and results only.
type Executor struct {
	tasks  backend.TaskBackend
	auth   backend.AuthValidator
	logger *zap.Logger
}

// NewExecutor creates an executor over the given collaborators.
func NewExecutor(tasks backend.TaskBackend, auth backend.AuthValidator, logger *zap.Logger) *Executor {
	return &Executor{
		tasks:  tasks,
		auth:   auth,
		logger: logger.Named("executor"),
	}
}

// Execute runs one command. When a task reference matches more than one task
// it returns the candidates instead of a result so the caller can ask the
// user to disambiguate. Backend failures come back wrapped in
// command.ErrExecutionFailure; a reference matching nothing comes back as
// command.ErrTaskNotFound.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) (*command.Result, []clarify.Candidate, error) {
	switch cmd.Intent {
	case command.IntentCreateTask:
		res, err := e.createTask(ctx, cmd)
		return res, nil, err
	case command.IntentListTasks:
		res, err := e.listTasks(ctx, cmd, nil)
		return res, nil, err
	case command.IntentSearchTasks:
		return e.searchTasks(ctx, cmd)
	case command.IntentFilterTasks:
		res, err := e.listTasks(ctx, cmd, filterFromCommand(cmd))
		return res, nil, err
	case command.IntentSortTasks:
		res, err := e.listTasks(ctx, cmd, map[string]string{"sort_by": sortKeyFromCommand(cmd)})
		return res, nil, err
	case command.IntentUpdateTask:
		return e.updateTask(ctx, cmd)
	case command.IntentCompleteTask:
		return e.completeTask(ctx, cmd)
	case command.IntentDeleteTask:
		return e.deleteTask(ctx, cmd)
	case command.IntentGetUserInfo:
		res, err := e.getUserInfo(ctx, cmd)
		return res, nil, err
	}

	return &command.Result{
		Intent:  cmd.Intent,
		Message: "I'm not sure how to help with that.",
	}, nil, nil
}

func (e *Executor) createTask(ctx context.Context, cmd command.Command) (*command.Result, error) {
	title := cmd.Entity(command.SlotTaskTitle)
	if title == "" {
		return &command.Result{
			Intent:           cmd.Intent,
			Message:          "I need a title for the task you want to create.",
			FollowUpRequired: true,
		}, nil
	}

	task, err := e.tasks.CreateTask(ctx, cmd.UserID, backend.TokenFrom(ctx), backend.Task{
		Title:       title,
		Description: cmd.Entity(command.SlotDescription),
		Priority:    cmd.Entity(command.SlotPriority),
		Category:    cmd.Entity(command.SlotCategory),
		DueDate:     cmd.Entity(command.SlotDueDate),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create task: %v", command.ErrExecutionFailure, err)
	}

	return &command.Result{
		Success:          true,
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		Message:          fmt.Sprintf("I've created the task: '%s'", task.Title),
		ExecutionPayload: map[string]any{"task_id": task.ID, "title": task.Title},
		Suggestions: []string{
			"Add another task",
			"Show my tasks",
			fmt.Sprintf("Set a due date for '%s'", task.Title),
		},
	}, nil
}

func (e *Executor) listTasks(ctx context.Context, cmd command.Command, filter map[string]string) (*command.Result, error) {
	tasks, err := e.tasks.ListTasks(ctx, cmd.UserID, backend.TokenFrom(ctx), filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %v", command.ErrExecutionFailure, err)
	}

	return &command.Result{
		Success:          true,
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		ExecutionPayload: map[string]any{"count": len(tasks), "titles": taskTitles(tasks)},
		Suggestions:      []string{"Add a new task", "Complete a task"},
	}, nil
}

func (e *Executor) searchTasks(ctx context.Context, cmd command.Command) (*command.Result, []clarify.Candidate, error) {
	term := cmd.Entity(command.SlotSearchTerm)
	if term == "" {
		term = cmd.Entity(command.SlotTaskTitle)
	}
	if term == "" {
		return &command.Result{
			Intent:           cmd.Intent,
			Message:          "What are you looking for in your tasks?",
			FollowUpRequired: true,
		}, nil, nil
	}

	tasks, err := e.tasks.ListTasks(ctx, cmd.UserID, backend.TokenFrom(ctx), map[string]string{"search": term})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: search tasks: %v", command.ErrExecutionFailure, err)
	}

	return &command.Result{
		Success:          true,
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		ExecutionPayload: map[string]any{"count": len(tasks), "titles": taskTitles(tasks), "search_term": term},
		Suggestions:      []string{"Show all my tasks", "Refine the search"},
	}, nil, nil
}

func (e *Executor) updateTask(ctx context.Context, cmd command.Command) (*command.Result, []clarify.Candidate, error) {
	updates := updatesFromCommand(cmd)
	if len(updates) == 0 {
		return &command.Result{
			Intent:           cmd.Intent,
			Message:          "I couldn't tell what you want to change. What should I update?",
			FollowUpRequired: true,
		}, nil, nil
	}

	task, candidates, err := e.resolveReference(ctx, cmd)
	if err != nil || candidates != nil {
		return nil, candidates, err
	}

	updated, err := e.tasks.UpdateTask(ctx, cmd.UserID, backend.TokenFrom(ctx), task.ID, updates)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: update task: %v", command.ErrExecutionFailure, err)
	}

	return &command.Result{
		Success:          true,
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		Message:          fmt.Sprintf("I've updated the task: '%s'", updated.Title),
		ExecutionPayload: map[string]any{"task_id": updated.ID, "title": updated.Title},
		Suggestions:      []string{"Show my tasks", "Update another task"},
	}, nil, nil
}

func (e *Executor) completeTask(ctx context.Context, cmd command.Command) (*command.Result, []clarify.Candidate, error) {
	task, candidates, err := e.resolveReference(ctx, cmd)
	if err != nil || candidates != nil {
		return nil, candidates, err
	}

	toggled, err := e.tasks.ToggleTask(ctx, cmd.UserID, backend.TokenFrom(ctx), task.ID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: complete task: %v", command.ErrExecutionFailure, err)
	}

	return &command.Result{
		Success:          true,
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		Message:          fmt.Sprintf("I've marked '%s' as complete. Great job!", toggled.Title),
		ExecutionPayload: map[string]any{"task_id": toggled.ID, "title": toggled.Title},
		Suggestions:      []string{"Show my remaining tasks", "Add a new task"},
	}, nil, nil
}

func (e *Executor) deleteTask(ctx context.Context, cmd command.Command) (*command.Result, []clarify.Candidate, error) {
	if guard.BulkDelete(&cmd) {
		// The token in the context may not be the one that issued the
		// command: a confirmed bulk delete re-executes under the answering
		// request's token. Re-check ownership before wiping anything.
		user, err := e.auth.ValidateToken(ctx, backend.TokenFrom(ctx))
		if err != nil || user.UserID != cmd.UserID {
			return nil, nil, fmt.Errorf("%w: bulk delete for user %s", command.ErrDestructiveActionBlocked, cmd.UserID)
		}

		n, err := e.tasks.DeleteAllTasks(ctx, cmd.UserID, backend.TokenFrom(ctx))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: delete all tasks: %v", command.ErrExecutionFailure, err)
		}
		return &command.Result{
			Success:          true,
			Intent:           cmd.Intent,
			Entities:         cmd.Entities,
			Message:          fmt.Sprintf("I've deleted all %d of your tasks.", n),
			ExecutionPayload: map[string]any{"count": n},
			Suggestions:      []string{"Add a new task"},
		}, nil, nil
	}

	task, candidates, err := e.resolveReference(ctx, cmd)
	if err != nil || candidates != nil {
		return nil, candidates, err
	}

	if err := e.tasks.DeleteTask(ctx, cmd.UserID, backend.TokenFrom(ctx), task.ID); err != nil {
		return nil, nil, fmt.Errorf("%w: delete task: %v", command.ErrExecutionFailure, err)
	}

	return &command.Result{
		Success:          true,
		Intent:           cmd.Intent,
		Entities:         cmd.Entities,
		Message:          fmt.Sprintf("I've deleted the task: '%s'", task.Title),
		ExecutionPayload: map[string]any{"task_id": task.ID, "title": task.Title},
		Suggestions:      []string{"Show my tasks", "Add a new task"},
	}, nil, nil
}

func (e *Executor) getUserInfo(ctx context.Context, cmd command.Command) (*command.Result, error) {
	user, err := e.auth.ValidateToken(ctx, backend.TokenFrom(ctx))
	if err != nil {
		return nil, err
	}

	var message string
	switch cmd.Entity(command.SlotInfoType) {
	case "name":
		message = fmt.Sprintf("Your name is %s.", user.Name)
	case "email":
		message = fmt.Sprintf("Your email address is %s.", user.Email)
	default:
		message = fmt.Sprintf("You're signed in as %s (%s).", user.Name, user.Email)
	}

	return &command.Result{
		Success:  true,
		Intent:   cmd.Intent,
		Entities: cmd.Entities,
		Message:  message,
		ExecutionPayload: map[string]any{
			"user_id": user.UserID,
			"name":    user.Name,
			"email":   user.Email,
		},
		Suggestions: []string{"Show my tasks", "Add a new task"},
	}, nil
}

// resolveReference turns the command's task reference into exactly one task.
// Zero matches fail with ErrTaskNotFound; more than one match returns the
// candidate set for a clarification round trip.
func (e *Executor) resolveReference(ctx context.Context, cmd command.Command) (backend.Task, []clarify.Candidate, error) {
	ref := cmd.Entity(command.SlotTaskTitle)
	if ref == "" {
		ref = cmd.Entity(command.SlotSearchTerm)
	}
	if ref == "" {
		return backend.Task{}, nil, fmt.Errorf("%w: no task reference given", command.ErrTaskNotFound)
	}

	matches, err := e.tasks.ListTasks(ctx, cmd.UserID, backend.TokenFrom(ctx), map[string]string{"search": ref})
	if err != nil {
		return backend.Task{}, nil, fmt.Errorf("%w: resolve task reference: %v", command.ErrExecutionFailure, err)
	}

	switch len(matches) {
	case 0:
		return backend.Task{}, nil, fmt.Errorf("%w: %q", command.ErrTaskNotFound, ref)
	case 1:
		return matches[0], nil, nil
	}

	e.logger.Debug("ambiguous task reference",
		zap.String("reference", ref),
		zap.Int("matches", len(matches)))

	candidates := make([]clarify.Candidate, 0, len(matches))
	for _, t := range matches {
		candidates = append(candidates, clarify.Candidate{ID: t.ID, Title: t.Title})
	}
	return backend.Task{}, candidates, nil
}

// filterFromCommand maps entity slots and utterance cues to backend filter
// keys for FILTER_TASKS.
func filterFromCommand(cmd command.Command) map[string]string {
	filter := make(map[string]string)
	if p := cmd.Entity(command.SlotPriority); p != "" {
		filter["priority"] = p
	}
	if c := cmd.Entity(command.SlotCategory); c != "" {
		filter["category"] = c
	}

	raw := strings.ToLower(cmd.RawText)
	switch {
	// Negative cues first: "unfinished" contains "finished" and "incomplete"
	// contains "complete".
	case strings.Contains(raw, "pending") || strings.Contains(raw, "incomplete") || strings.Contains(raw, "unfinished"):
		filter["completed"] = "false"
	case strings.Contains(raw, "completed") || strings.Contains(raw, "done") || strings.Contains(raw, "finished"):
		filter["completed"] = "true"
	}
	return filter
}

// sortKeyFromCommand picks the sort column for SORT_TASKS from the utterance.
func sortKeyFromCommand(cmd command.Command) string {
	raw := strings.ToLower(cmd.RawText)
	switch {
	case strings.Contains(raw, "priority"):
		return "priority"
	case strings.Contains(raw, "due"), strings.Contains(raw, "date"), strings.Contains(raw, "deadline"):
		return "due_date"
	case strings.Contains(raw, "title"), strings.Contains(raw, "name"), strings.Contains(raw, "alphabetical"):
		return "title"
	}
	return "title"
}

// updatesFromCommand collects the attribute changes an UPDATE_TASK command
// names. The "title" slot is the new title; "task_title" remains the
// reference to the task being changed.
func updatesFromCommand(cmd command.Command) map[string]string {
	updates := make(map[string]string)
	for _, slot := range []string{
		command.SlotTitle,
		command.SlotDescription,
		command.SlotPriority,
		command.SlotDueDate,
		command.SlotCategory,
	} {
		if v := cmd.Entity(slot); v != "" {
			updates[slot] = v
		}
	}
	return updates
}

func taskTitles(tasks []backend.Task) []string {
	titles := make([]string, 0, len(tasks))
	for _, t := range tasks {
		titles = append(titles, t.Title)
	}
	return titles
}
