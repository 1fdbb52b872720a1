package bunx

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUIDv7 string for primary keys.
// It panics only if the entropy source fails.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
