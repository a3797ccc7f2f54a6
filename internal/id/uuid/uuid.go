// Package uuid generates job identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// JobIDLength is the number of characters kept from a random UUID.
const JobIDLength = 8

// Generator creates short job IDs from random (v4) UUIDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns the first eight hex characters of a v4 UUID.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String()[:JobIDLength], nil
}
