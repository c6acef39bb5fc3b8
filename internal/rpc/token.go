package rpc

import "github.com/google/uuid"

// TokenGenerator produces correlation tokens.
// Implementations must be safe for concurrent use.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 correlation tokens.
//
// The embedded timestamp makes broker traces easy to order by hand.
// Collisions are not guarded against beyond the registry refusing a token
// that is already pending.
type UUIDv7Generator struct{}

// Generate panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
