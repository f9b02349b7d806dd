package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string. Cases use it when the caller does not
// supply an id; ULIDs sort by creation time, which keeps case listings stable.
func NewID() string {
	return ulid.Make().String()
}

// NewJobID generates a random UUIDv4 string for jobs created without an id.
func NewJobID() string {
	return uuid.NewString()
}
