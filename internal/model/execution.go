// Package model defines the persisted data structures of the sandbox
// service. These are storage shapes, not wire shapes; the execution
// boundary has its own types in internal/sandbox.
package model

import "time"

// ExecutionRecord is the audit row kept for every session that reached a
// terminal state: what ran, how it ended, and how big the output was.
// Output bodies themselves are not persisted; the caller already received
// them and they can be arbitrarily large.
type ExecutionRecord struct {
	ID          string        `json:"id"`
	Language    string        `json:"language"`
	State       string        `json:"state"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	ExitCode    int           `json:"exitCode"`
	Duration    time.Duration `json:"duration"`
	StdoutBytes int           `json:"stdoutBytes"`
	StderrBytes int           `json:"stderrBytes"`
	ImageCount  int           `json:"imageCount"`
	CreatedAt   time.Time     `json:"createdAt"`
}
