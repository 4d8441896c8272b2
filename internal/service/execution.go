// Package service contains the business logic between the HTTP handlers
// and the sandbox runtime. The ExecutionService is the request
// dispatcher: it validates submissions, drives a session through its
// lifecycle, and translates runtime outcomes into API results. A host
// fault never escapes as an unhandled error.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/metrics"
	"github.com/deepsense/sandboxd/internal/model"
	"github.com/deepsense/sandboxd/internal/repository"
	"github.com/deepsense/sandboxd/internal/sandbox"
)

// ExecutionService accepts untrusted code submissions and runs each one
// in an isolated instance.
type ExecutionService struct {
	launcher   sandbox.Launcher
	workspaces *sandbox.Workspaces
	fetcher    *sandbox.Fetcher
	executions repository.ExecutionRepository
	metrics    *metrics.Metrics
	logger     *slog.Logger

	pythonImage string
	nodeImage   string
}

// ExecutionServiceConfig carries the dependencies and image names for
// NewExecutionService. All fields except Metrics are required.
type ExecutionServiceConfig struct {
	Launcher    sandbox.Launcher
	Workspaces  *sandbox.Workspaces
	Fetcher     *sandbox.Fetcher
	Executions  repository.ExecutionRepository
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	PythonImage string
	NodeImage   string
}

func NewExecutionService(cfg ExecutionServiceConfig) *ExecutionService {
	return &ExecutionService{
		launcher:    cfg.Launcher,
		workspaces:  cfg.Workspaces,
		fetcher:     cfg.Fetcher,
		executions:  cfg.Executions,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		pythonImage: cfg.PythonImage,
		nodeImage:   cfg.NodeImage,
	}
}

// Execute runs a submission end to end and returns the captured result.
//
// The error return is reserved for request problems the caller must fix
// (validation); everything that goes wrong after admission, including
// host faults, is folded into the result's ErrorKind so the client
// always gets whatever output was captured before the failure.
func (s *ExecutionService) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	// Validation happens before any resource is claimed, so a malformed
	// request can never occupy an instance slot.
	lang, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	sess := sandbox.NewSession(lang)
	log := s.logger.With("session_id", sess.ID, "language", lang.Name)

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	start := time.Now()
	result, err := s.run(ctx, log, sess, req)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	s.record(ctx, log, sess, result)
	s.observe(sess, result)

	log.Info("session finished",
		"state", string(sess.State()),
		"error_kind", string(result.ErrorKind),
		"duration", result.Duration.Round(time.Millisecond),
	)

	return result, nil
}

// run drives the session through provisioning, launch, and capture. The
// error return is non-nil only when admission rejected the session; on
// every other path a result is returned and sess is in a terminal state.
func (s *ExecutionService) run(ctx context.Context, log *slog.Logger, sess *sandbox.Session, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	if err := s.workspaces.Provision(sess, req); err != nil {
		log.Error("workspace provisioning failed", "error", err)
		return s.fail(sess, sandbox.ErrorKindResource, "failed to provision workspace"), nil
	}
	defer s.workspaces.Remove(sess)

	// Remote files are staged before launch; individual fetch failures
	// surface as stderr notices rather than aborting the run.
	var notices []string
	if len(req.FileURLs) > 0 {
		notices = s.fetcher.FetchAll(ctx, sess.WorkspacePath, req.FileURLs)
	}

	before := sandbox.SnapshotImages(sess.WorkspacePath)

	outcome, err := s.launcher.Run(ctx, sess, req)
	if err != nil {
		// An admission rejection is the one fault that leaves the result
		// shape: the caller should back off and retry, not read output.
		if errors.Is(err, sandbox.ErrNoCapacity) {
			log.Warn("admission rejected", "error", err)
			s.terminate(log, sess, sandbox.StateFailed)
			return nil, apperror.ResourceUnavailable("no execution capacity available", err)
		}
		log.Error("launcher failed", "error", err)
		return s.fail(sess, sandbox.ErrorKindResource, "execution backend unavailable"), nil
	}

	result := &sandbox.ExecutionResult{
		Stdout:   outcome.Stdout,
		Stderr:   outcome.Stderr,
		ExitCode: outcome.ExitCode,
	}
	if len(notices) > 0 {
		result.Stderr = strings.Join(notices, "\n") + "\n" + result.Stderr
	}

	if err := sess.Advance(sandbox.StateCapturing); err != nil {
		log.Warn("state advance skipped", "error", err)
	}

	switch {
	case outcome.TimedOut:
		// No artifact collection after a forced kill: a plot interrupted
		// mid-write is not a result.
		result.ErrorKind = sandbox.ErrorKindTimedOut
		s.terminate(log, sess, sandbox.StateTimedOut)
	case outcome.OOMKilled:
		result.ErrorKind = sandbox.ErrorKindResourceExceeded
		result.Images = s.collectImages(log, sess.WorkspacePath, before)
		s.terminate(log, sess, sandbox.StateFailed)
	case outcome.ExitCode != 0:
		result.ErrorKind = sandbox.ErrorKindRuntimeFailure
		result.Images = s.collectImages(log, sess.WorkspacePath, before)
		s.terminate(log, sess, sandbox.StateFailed)
	default:
		result.Images = s.collectImages(log, sess.WorkspacePath, before)
		s.terminate(log, sess, sandbox.StateCompleted)
	}

	return result, nil
}

// collectImages gathers run-produced plot artifacts; a read failure costs
// the remaining artifacts, never the run's captured output.
func (s *ExecutionService) collectImages(log *slog.Logger, dir string, before map[string]bool) []string {
	images, err := sandbox.CollectImages(dir, before)
	if err != nil {
		log.Warn("artifact collection incomplete", "error", err)
	}
	return images
}

// validate checks the request shape and resolves the language. Empty
// code is legal (a no-op run); unknown languages and blank requirement
// entries are not.
func (s *ExecutionService) validate(req sandbox.ExecutionRequest) (sandbox.Language, error) {
	lang, err := sandbox.ResolveLanguage(req.Language, s.pythonImage, s.nodeImage)
	if err != nil {
		return sandbox.Language{}, apperror.ValidationFailed("language", err.Error())
	}
	for i, r := range req.Requirements {
		if strings.TrimSpace(r) == "" {
			return sandbox.Language{}, apperror.ValidationFailed("requirements",
				fmt.Sprintf("entry %d is empty", i))
		}
	}
	for i, u := range req.FileURLs {
		if strings.TrimSpace(u) == "" {
			return sandbox.Language{}, apperror.ValidationFailed("file_urls",
				fmt.Sprintf("entry %d is empty", i))
		}
	}
	return lang, nil
}

// fail moves the session to Failed and builds a result carrying the
// given error kind and message on stderr.
func (s *ExecutionService) fail(sess *sandbox.Session, kind sandbox.ErrorKind, msg string) *sandbox.ExecutionResult {
	s.terminate(s.logger, sess, sandbox.StateFailed)
	return &sandbox.ExecutionResult{
		Stderr:    msg,
		ExitCode:  -1,
		ErrorKind: kind,
	}
}

func (s *ExecutionService) terminate(log *slog.Logger, sess *sandbox.Session, state sandbox.State) {
	if err := sess.Advance(state); err != nil {
		log.Warn("terminal state advance skipped", "state", string(state), "error", err)
	}
}

// record persists the audit row. Persistence failure is logged and
// swallowed: the client already has the result and a dead database
// should not turn a successful run into an error.
func (s *ExecutionService) record(ctx context.Context, log *slog.Logger, sess *sandbox.Session, result *sandbox.ExecutionResult) {
	if s.executions == nil {
		return
	}
	rec := &model.ExecutionRecord{
		ID:          sess.ID,
		Language:    sess.Language.Name,
		State:       string(sess.State()),
		ErrorKind:   string(result.ErrorKind),
		ExitCode:    result.ExitCode,
		Duration:    result.Duration,
		StdoutBytes: len(result.Stdout),
		StderrBytes: len(result.Stderr),
		ImageCount:  len(result.Images),
	}
	if err := s.executions.Create(ctx, rec); err != nil {
		log.Error("failed to persist execution record", "error", err)
	}
}

func (s *ExecutionService) observe(sess *sandbox.Session, result *sandbox.ExecutionResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionsTotal.WithLabelValues(string(sess.State())).Inc()
	s.metrics.SessionDuration.Observe(result.Duration.Seconds())
}

// GetExecution returns a stored audit record by session id.
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	if s.executions == nil {
		return nil, apperror.NotFound("execution", id)
	}
	return s.executions.GetByID(ctx, id)
}

// ListExecutions returns recent audit records, newest first.
func (s *ExecutionService) ListExecutions(ctx context.Context, opts repository.ListOptions) ([]model.ExecutionRecord, error) {
	if s.executions == nil {
		return nil, errors.New("service: execution store not configured")
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.executions.List(ctx, opts)
}
