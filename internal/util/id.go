package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a 32-char lowercase hex ID backed by a random (v4) UUID.
// The result is safe to use in URLs and object keys.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
