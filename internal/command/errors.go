package command

import "errors"

// Pipeline error taxonomy. These sentinels are matched with errors.Is at the
// orchestration boundary and converted into user-facing replies; none of them
// escapes ProcessMessage.
var (
	// ErrInputRejected marks input that failed quality or policy validation.
	ErrInputRejected = errors.New("input rejected")

	// ErrSafetyViolation marks content withheld by the safety screen.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrUnauthorized marks a failed auth-token validation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConfirmationNotFound marks an unknown (or already consumed)
	// confirmation id.
	ErrConfirmationNotFound = errors.New("confirmation not found")

	// ErrConfirmationExpired marks a confirmation whose TTL elapsed before
	// the user answered.
	ErrConfirmationExpired = errors.New("confirmation expired")

	// ErrExecutionFailure marks a task-backend collaborator error. The
	// original command is discarded and not auto-retried.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrSessionExpired marks a lookup of a conversation past its TTL. The
	// orchestrator silently starts a fresh session instead of surfacing it.
	ErrSessionExpired = errors.New("session expired")

	// ErrTaskNotFound marks a task reference that matched nothing.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDestructiveActionBlocked marks a destructive operation attempted on
	// behalf of a user the presented token does not belong to. Surfaced as a
	// permission refusal, never retried.
	ErrDestructiveActionBlocked = errors.New("destructive action blocked")
)
