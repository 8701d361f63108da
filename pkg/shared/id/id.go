package id

import "github.com/google/uuid"

// New returns a fresh UUID v4 string. Transaction identifiers use this form
// so that records can be correlated across workers and the sink.
func New() string {
	return uuid.NewString()
}
