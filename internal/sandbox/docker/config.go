package docker

import (
	"time"
)

// Config holds the launcher's isolation and resource knobs. The ceilings
// are enforced for every instance, regardless of language.
type Config struct {
	// PythonImage and NodeImage are the two fixed runtime images.
	PythonImage string
	NodeImage   string
	// MemoryLimit is the per-instance memory ceiling in bytes. Breaching
	// it gets the instance killed by the host.
	MemoryLimit int64
	// CPULimit is the per-instance CPU share ceiling (fractional CPUs),
	// bounding noisy-neighbor impact under concurrent sessions.
	CPULimit float64
	// Timeout is the wall-clock bound on the run phase. When it elapses
	// the instance is forcibly terminated and late output is discarded.
	Timeout time.Duration
	// InstallTimeout bounds the dependency-install phase. An install that
	// overruns it is recorded as a failure and execution proceeds.
	InstallTimeout time.Duration
	// MaxInstances bounds concurrently running instances; admission
	// queues once the ceiling is reached.
	MaxInstances int
	// OutputCap is the per-stream capture cap in bytes. Streams are
	// truncated deterministically at the cap, never silently.
	OutputCap int64
	// InstallNetwork is the network the instance is attached to for the
	// install pre-phase. It is disconnected, unconditionally, before the
	// user's code runs.
	InstallNetwork string
}

// DefaultConfig provides the stock sandbox limits.
func DefaultConfig() Config {
	return Config{
		PythonImage:    "python:3.12-slim",
		NodeImage:      "node:20-alpine",
		MemoryLimit:    256 * 1024 * 1024,
		CPULimit:       0.5,
		Timeout:        30 * time.Second,
		InstallTimeout: 60 * time.Second,
		MaxInstances:   8,
		OutputCap:      1 * 1024 * 1024,
		InstallNetwork: "bridge",
	}
}
