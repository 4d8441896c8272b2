// Package sandbox defines the core types for executing untrusted,
// LLM-generated code in isolated, resource-bounded environments.
//
// The package is deliberately free of any container-runtime specifics:
// it holds the request/result contract, the session state machine, the
// workspace provisioner, and the remote-file fetcher. The Docker-backed
// launcher lives in the sandbox/docker subpackage.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrNoCapacity reports that the admission bound rejected a session:
// every instance slot stayed occupied for the whole wait. Callers should
// retry later rather than treat it as an execution outcome.
var ErrNoCapacity = errors.New("no instance capacity")

// ErrorKind classifies why a session did not complete successfully.
// It is the machine-readable half of the result: callers use it to
// distinguish "bad code" (RuntimeFailure) from "code too expensive"
// (ResourceExceeded) from "host problem" (ResourceError).
type ErrorKind string

const (
	// ErrorKindValidation marks a malformed request, rejected before any
	// resource was allocated.
	ErrorKindValidation ErrorKind = "ValidationError"

	// ErrorKindResource marks a host-side provisioning failure (workspace
	// or container could not be allocated). Retryable by the caller.
	ErrorKindResource ErrorKind = "ResourceError"

	// ErrorKindRuntimeFailure marks a non-zero exit of the user's code.
	// Not a system fault; details are in stderr.
	ErrorKindRuntimeFailure ErrorKind = "RuntimeFailure"

	// ErrorKindResourceExceeded marks a session killed for breaching the
	// memory ceiling, reported distinctly from a plain non-zero exit.
	ErrorKindResourceExceeded ErrorKind = "ResourceExceeded"

	// ErrorKindTimedOut marks a session forcibly terminated at the
	// wall-clock bound.
	ErrorKindTimedOut ErrorKind = "TimedOut"
)

// ExecutionRequest is the caller-supplied description of what to run.
// It is immutable once received.
type ExecutionRequest struct {
	// Code is the program text. An empty string is a legal no-op program.
	Code string `json:"code"`
	// Requirements lists package names to install before execution.
	Requirements []string `json:"requirements"`
	// Language selects the runtime image and entry-point convention.
	// One of "python" or "node".
	Language string `json:"language"`
	// FileURLs are optional remote files downloaded into the workspace
	// before execution, so user code can reference them by name.
	FileURLs []string `json:"file_urls,omitempty"`
}

// ExecutionResult is what crosses the sandbox boundary back to the caller.
// The JSON shape is part of the wire contract; internal bookkeeping fields
// are excluded from it and only persisted in execution records.
type ExecutionResult struct {
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	Images    []string  `json:"images,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	ExitCode int           `json:"-"`
	Duration time.Duration `json:"-"`
}

// RunOutcome is the launcher's report of a single install+run cycle.
// The dispatcher translates it into an ExecutionResult and a terminal
// session state.
type RunOutcome struct {
	// Stdout and Stderr are the captured streams, already demultiplexed
	// and capped. Install failure notices are prepended to Stderr.
	Stdout string
	Stderr string
	// ExitCode is the exit status of the run phase. Meaningless when
	// TimedOut is set.
	ExitCode int
	// OOMKilled reports that the instance breached its memory ceiling
	// and was killed by the host.
	OOMKilled bool
	// TimedOut reports that the wall-clock bound elapsed and the
	// instance was forcibly terminated. Output emitted after the
	// termination has been discarded.
	TimedOut bool
}

// Launcher runs a provisioned session's code inside an isolated
// environment instance. Run returns an error only for host-side faults
// (instance could not be allocated); everything the user's code does,
// such as crashing, timing out, or exceeding its memory ceiling, is reported in
// the RunOutcome, not as an error.
type Launcher interface {
	Run(ctx context.Context, sess *Session, req ExecutionRequest) (*RunOutcome, error)

	// Ping reports whether the host execution runtime is reachable,
	// independent of any session.
	Ping(ctx context.Context) error
}
