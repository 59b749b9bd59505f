package utils

import "github.com/google/uuid"

// NewID returns a random request/connection identifier.
func NewID() string {
	return uuid.NewString()
}
