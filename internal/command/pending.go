package command

import (
	"time"
)

// ConfirmationKind categorizes why an action was gated behind confirmation.
type ConfirmationKind string

const (
	ConfirmDestructiveAction ConfirmationKind = "DESTRUCTIVE_ACTION"
	ConfirmAccountAction     ConfirmationKind = "ACCOUNT_ACTION"
	ConfirmDataModification  ConfirmationKind = "DATA_MODIFICATION"
)

// ConfirmationRequest is a single-use, TTL-bound token gating execution of a
// flagged destructive command. Once confirmed, rejected, or expired it is
// removed from the active set. IsConfirmed and IsRejected are never both true.
type ConfirmationRequest struct {
	ID                string
	Kind              ConfirmationKind
	Message           string
	OriginalCommand   Command
	ActionDescription string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	IsConfirmed       bool
	IsRejected        bool
}

// Expired reports whether the request's TTL has elapsed at the given instant.
func (r *ConfirmationRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ClarificationKind categorizes why a command could not be executed as given.
type ClarificationKind string

const (
	ClarifyAmbiguousTaskReference ClarificationKind = "AMBIGUOUS_TASK_REFERENCE"
	ClarifyUnclearIntent          ClarificationKind = "UNCLEAR_INTENT"
	ClarifyMissingEntity          ClarificationKind = "MISSING_ENTITY"
	ClarifyMultiplePossibleAction ClarificationKind = "MULTIPLE_POSSIBLE_ACTIONS"
)

// ClarificationRequest is a prompt generated when a command is ambiguous or
// underspecified. It is constructed and consumed within one orchestration
// pass, or persisted as a pending operation when it must await the user.
type ClarificationRequest struct {
	Kind        ClarificationKind
	Message     string
	Suggestions []string
	Context     map[string]string
}

// PendingKind tags the variants of PendingOperation.
type PendingKind int

const (
	PendingNone PendingKind = iota
	PendingConfirmation
	PendingClarification
)

// PendingOperation is the conversation-level "what are we waiting for"
// marker. It is a tagged variant: exactly one of Confirmation or
// Clarification is set, matching Kind. A session holds at most one pending
// operation at a time.
type PendingOperation struct {
	Kind          PendingKind
	Confirmation  *ConfirmationRequest
	Clarification *ClarificationRequest
}

// NoPending is the zero pending operation.
func NoPending() PendingOperation {
	return PendingOperation{Kind: PendingNone}
}

// AwaitConfirmation wraps a confirmation request as a pending operation.
func AwaitConfirmation(req *ConfirmationRequest) PendingOperation {
	return PendingOperation{Kind: PendingConfirmation, Confirmation: req}
}

// AwaitClarification wraps a clarification request as a pending operation.
func AwaitClarification(req *ClarificationRequest) PendingOperation {
	return PendingOperation{Kind: PendingClarification, Clarification: req}
}

// IsNone reports whether nothing is pending.
func (p PendingOperation) IsNone() bool {
	return p.Kind == PendingNone
}
