package models

import (
	"time"

	"github.com/google/uuid"
)

// Changeset is an immutable audit record of one meaningful edit. Created
// once, referenced by zero or more localities as their current changeset,
// and never updated or deleted afterwards.
type Changeset struct {
	ID uuid.UUID `json:"id"`
	// Author is the acting-user identifier; empty for system-originated
	// changes such as importer runs.
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// New mints a changeset for the given author.
func New(author string, now time.Time) Changeset {
	return Changeset{ID: uuid.New(), Author: author, CreatedAt: now}
}
