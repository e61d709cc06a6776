package backend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"taskchat/internal/command"
)

// SQLiteBackend is a local TaskBackend used by the CLI and the demo server.
// It stands in for the remote task API in development; the pipeline sees only
// the TaskBackend contract either way.
type SQLiteBackend struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteBackend opens (creating if needed) the task database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		completed INTEGER DEFAULT 0,
		priority TEXT DEFAULT '',
		category TEXT DEFAULT '',
		due_date TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_title ON tasks(title);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// ListTasks returns the user's tasks narrowed by filter.
func (b *SQLiteBackend) ListTasks(ctx context.Context, userID, _ string, filter map[string]string) ([]Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `SELECT id, title, description, completed, priority, category, due_date
	          FROM tasks WHERE user_id = ?`
	args := []any{userID}

	if search := filter["search"]; search != "" {
		query += ` AND (title LIKE ? OR description LIKE ?)`
		like := "%" + search + "%"
		args = append(args, like, like)
	}
	if completed := filter["completed"]; completed != "" {
		query += ` AND completed = ?`
		if completed == "true" {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if priority := filter["priority"]; priority != "" {
		query += ` AND priority = ?`
		args = append(args, priority)
	}
	if category := filter["category"]; category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}

	switch strings.ToLower(filter["sort_by"]) {
	case "title":
		query += ` ORDER BY title COLLATE NOCASE`
	case "priority":
		// high > medium > low, unset last
		query += ` ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END`
	case "due_date":
		query += ` ORDER BY due_date`
	default:
		query += ` ORDER BY created_at`
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var completed int
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &completed,
			&t.Priority, &t.Category, &t.DueDate); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Completed = completed != 0
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateTask stores a new task.
func (b *SQLiteBackend) CreateTask(ctx context.Context, userID, _ string, task Task) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task.ID = uuid.NewString()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, completed, priority, category, due_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, userID, task.Title, task.Description, boolInt(task.Completed),
		task.Priority, task.Category, task.DueDate)
	if err != nil {
		return Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// UpdateTask applies attribute updates to one task.
func (b *SQLiteBackend) UpdateTask(ctx context.Context, userID, _ string, taskID string, updates map[string]string) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := map[string]string{
		"title":       "title",
		"description": "description",
		"priority":    "priority",
		"category":    "category",
		"due_date":    "due_date",
	}

	var sets []string
	var args []any
	for key, value := range updates {
		col, ok := allowed[key]
		if !ok {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, value)
	}
	if len(sets) == 0 {
		return Task{}, fmt.Errorf("no recognized attributes to update")
	}

	args = append(args, taskID, userID)
	res, err := b.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return Task{}, fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, command.ErrTaskNotFound
	}

	return b.getTask(ctx, userID, taskID)
}

// DeleteTask removes one task.
func (b *SQLiteBackend) DeleteTask(ctx context.Context, userID, _ string, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return command.ErrTaskNotFound
	}
	return nil
}

// ToggleTask sets a task's completion flag.
func (b *SQLiteBackend) ToggleTask(ctx context.Context, userID, _ string, taskID string, completed bool) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ? WHERE id = ? AND user_id = ?`,
		boolInt(completed), taskID, userID)
	if err != nil {
		return Task{}, fmt.Errorf("failed to toggle task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, command.ErrTaskNotFound
	}
	return b.getTask(ctx, userID, taskID)
}

// DeleteAllTasks removes every task of the user.
func (b *SQLiteBackend) DeleteAllTasks(ctx context.Context, userID, _ string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// getTask fetches one task without taking the lock; callers hold it.
func (b *SQLiteBackend) getTask(ctx context.Context, userID, taskID string) (Task, error) {
	var t Task
	var completed int
	err := b.db.QueryRowContext(ctx,
		`SELECT id, title, description, completed, priority, category, due_date
		 FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID).
		Scan(&t.ID, &t.Title, &t.Description, &completed, &t.Priority, &t.Category, &t.DueDate)
	if err == sql.ErrNoRows {
		return Task{}, command.ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("failed to fetch task: %w", err)
	}
	t.Completed = completed != 0
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
