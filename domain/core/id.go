package core

import (
	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// RunID identifies one (run, radius, statistic) evaluation.
type RunID ID

func (id RunID) String() string { return ID(id).String() }

// NewRunID allocates a fresh time-ordered run identifier.
func NewRunID() RunID { return RunID(NewID()) }
