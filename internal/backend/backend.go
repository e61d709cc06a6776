// Package backend declares the external collaborators the pipeline consumes:
// the task execution backend and the authentication validator. The core never
// talks to storage directly; it only sees these contracts.
package backend

import (
	"context"
)

// Task is one task record as the execution backend reports it.
type Task struct {
	ID          string
	Title       string
	Description string
	Completed   bool
	Priority    string
	Category    string
	DueDate     string
}

// TaskBackend is the task execution collaborator. Implementations must honor
// context cancellation; callers invoke them with bounded timeouts.
type TaskBackend interface {
	// ListTasks returns the user's tasks, optionally narrowed by filter.
	// Recognized filter keys: "search" (substring of title/description),
	// "completed" ("true"/"false"), "priority", "category", "sort_by".
	ListTasks(ctx context.Context, userID, authToken string, filter map[string]string) ([]Task, error)

	// CreateTask stores a new task and returns it with its id assigned.
	CreateTask(ctx context.Context, userID, authToken string, task Task) (Task, error)

	// UpdateTask applies the given attribute updates to one task.
	UpdateTask(ctx context.Context, userID, authToken, taskID string, updates map[string]string) (Task, error)

	// DeleteTask removes one task.
	DeleteTask(ctx context.Context, userID, authToken, taskID string) error

	// ToggleTask sets a task's completion flag.
	ToggleTask(ctx context.Context, userID, authToken, taskID string, completed bool) (Task, error)

	// DeleteAllTasks removes every task of the user, returning the count.
	DeleteAllTasks(ctx context.Context, userID, authToken string) (int, error)
}

// UserInfo is the profile the auth collaborator knows about a user.
type UserInfo struct {
	UserID string
	Name   string
	Email  string
}

// AuthValidator validates bearer tokens before any message is processed. A
// failure short-circuits the whole pipeline.
type AuthValidator interface {
	// ValidateToken resolves a token to the user it belongs to, or fails
	// with command.ErrUnauthorized.
	ValidateToken(ctx context.Context, token string) (UserInfo, error)
}
