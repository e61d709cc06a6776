package backend

import (
	"context"
	"sync"

	"taskchat/internal/command"
)

// StaticAuthValidator resolves tokens against a fixed in-process table. It
// backs the CLI and demo server; a real deployment swaps in a validator that
// calls the identity service.
type StaticAuthValidator struct {
	mu    sync.RWMutex
	users map[string]UserInfo // token -> user
}

// NewStaticAuthValidator creates an empty validator.
func NewStaticAuthValidator() *StaticAuthValidator {
	return &StaticAuthValidator{users: make(map[string]UserInfo)}
}

// Register associates a token with a user.
func (v *StaticAuthValidator) Register(token string, user UserInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.users[token] = user
}

// ValidateToken resolves the token or fails with ErrUnauthorized.
func (v *StaticAuthValidator) ValidateToken(_ context.Context, token string) (UserInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	user, ok := v.users[token]
	if !ok {
		return UserInfo{}, command.ErrUnauthorized
	}
	return user, nil
}
