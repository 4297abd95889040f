package util

import "github.com/google/uuid"

// NewCorrelationID returns a short, log-friendly identifier used to tie
// together the log lines for one Gateway Context.
func NewCorrelationID() string {
	return uuid.NewString()
}
