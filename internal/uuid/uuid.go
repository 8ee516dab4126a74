// Package uuid generates and validates identifiers for queue operations
// and remote records.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a random UUID v4, used for queue operation ids.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered UUID v7. Records created through the
// mutation boundary get one when the caller did not supply an id.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		// The clock sequence never fails in practice; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}

// Parse parses s and accepts only version 4 and version 7 UUIDs.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if v := id.Version(); v != 4 && v != 7 {
		return uuid.Nil, fmt.Errorf("expected UUID v4 or v7, got v%d", v)
	}
	if id.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("unexpected UUID variant %s", id.Variant())
	}
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %q", s)
	}
	return id, nil
}

// IsValid reports whether s is a canonical v4 or v7 UUID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Validate returns an error if s is not a canonical v4 or v7 UUID.
func Validate(s string) error {
	if _, err := Parse(s); err != nil {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
