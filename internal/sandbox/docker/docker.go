// Package docker implements the sandbox launcher on the Docker Engine
// API. Every session gets one disposable container: workspace
// bind-mounted read-write, root filesystem read-only, unprivileged user,
// memory and CPU ceilings, and network access revoked before the user's
// code runs.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/deepsense/sandboxd/internal/sandbox"
)

// networkNone disables the install pre-phase entirely; instances are
// created with no network at all and the disconnect step is skipped.
const networkNone = "none"

// oomExitCode is what an exec reports when the kernel OOM killer took
// the process; used as a fallback when the container state flag lags.
const oomExitCode = 137

// Launcher implements sandbox.Launcher using Docker.
type Launcher struct {
	cli    Client
	config Config
	logger *slog.Logger
	pool   *InstancePool
}

// New connects to the Docker daemon, warms both runtime images, and
// returns a launcher bounded by the given instance pool.
func New(cfg Config, pool *InstancePool, logger *slog.Logger) (*Launcher, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, err
	}
	l := NewWithClient(cfg, cli, pool, logger)
	if err := l.warmImages(); err != nil {
		cli.Close()
		return nil, err
	}
	return l, nil
}

// NewWithClient wires a launcher onto an existing client. It does not
// warm images; tests use it with a fake daemon.
func NewWithClient(cfg Config, cli Client, pool *InstancePool, logger *slog.Logger) *Launcher {
	return &Launcher{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   pool,
	}
}

// Close shuts down the docker client.
func (l *Launcher) Close() error {
	return l.cli.Close()
}

// Ping reports whether the daemon is reachable.
func (l *Launcher) Ping(ctx context.Context) error {
	if _, err := l.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Pool exposes the instance pool for accounting.
func (l *Launcher) Pool() *InstancePool {
	return l.pool
}

// warmImages pulls both runtime images in parallel and blocks until the
// pulls complete, so the first session doesn't pay the pull cost.
func (l *Launcher) warmImages() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, ref := range []string{l.config.PythonImage, l.config.NodeImage} {
		g.Go(func() error {
			l.logger.Info("ensuring runtime image is available", slog.String("image", ref))
			reader, err := l.cli.ImagePull(ctx, ref, image.PullOptions{})
			if err != nil {
				return fmt.Errorf("failed to pull image %s: %w", ref, err)
			}
			defer reader.Close()
			// Read everything to block until the pull is complete.
			io.Copy(io.Discard, reader)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	l.logger.Info("runtime images are ready")
	return nil
}

// Run drives one provisioned session through the install and run phases
// inside a fresh instance. Host-side faults come back as errors; user
// code outcomes (non-zero exit, timeout, memory kill) come back in the
// RunOutcome. The instance is destroyed exactly once on every exit path.
func (l *Launcher) Run(ctx context.Context, sess *sandbox.Session, req sandbox.ExecutionRequest) (*sandbox.RunOutcome, error) {
	// Queued requests wait here for an instance slot; they never bypass
	// the per-instance ceilings.
	if err := l.pool.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for instance slot: %w", sandbox.ErrNoCapacity, err)
	}

	instanceID, err := l.createInstance(ctx, sess)
	if err != nil {
		l.pool.Release()
		return nil, err
	}

	// Lifecycle guard: instance removal, destroy accounting, and slot
	// release happen exactly once, on every exit path, even when the
	// timeout path and normal completion race.
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.removeInstance(sess.ID, instanceID)
			l.pool.Release()
		})
	}
	defer release()

	if err := sess.Advance(sandbox.StateInstalling); err != nil {
		return nil, err
	}

	// Dependency install pre-phase. Failure is recorded, never fatal:
	// the code may not need the package on the path it actually takes.
	var installNotes strings.Builder
	if len(req.Requirements) > 0 {
		res, ierr := l.execPhase(ctx, instanceID, sess.Language.InstallCmd(req.Requirements), sess.Language.Env, l.config.InstallTimeout)
		switch {
		case ierr != nil:
			return nil, fmt.Errorf("running install phase: %w", ierr)
		case res.timedOut:
			l.logger.Warn("dependency install timed out",
				slog.String("session", sess.ID),
				slog.Duration("timeout", l.config.InstallTimeout),
			)
			fmt.Fprintf(&installNotes, "dependency install timed out after %s; continuing without packages\n", l.config.InstallTimeout)
		case res.exitCode != 0:
			l.logger.Warn("dependency install failed",
				slog.String("session", sess.ID),
				slog.Int("exitCode", res.exitCode),
			)
			fmt.Fprintf(&installNotes, "dependency install failed (exit %d); continuing\n", res.exitCode)
			installNotes.WriteString(res.stderr.String())
		}
	}

	// Revoke network before any user code runs, whether or not an
	// install happened. The execution phase is always offline.
	if l.config.InstallNetwork != networkNone {
		if err := l.cli.NetworkDisconnect(ctx, l.config.InstallNetwork, instanceID, true); err != nil {
			return nil, fmt.Errorf("revoking instance network: %w", err)
		}
	}

	if err := sess.Advance(sandbox.StateRunning); err != nil {
		return nil, err
	}

	res, rerr := l.execPhase(ctx, instanceID, sess.Language.RunCmd(), sess.Language.Env, l.config.Timeout)
	if rerr != nil {
		return nil, fmt.Errorf("running user code: %w", rerr)
	}

	outcome := &sandbox.RunOutcome{
		Stdout:   res.stdout.String(),
		Stderr:   installNotes.String() + res.stderr.String(),
		ExitCode: res.exitCode,
		TimedOut: res.timedOut,
	}

	if res.timedOut {
		// The buffers are already sealed; kill the instance now so the
		// process stops burning its CPU share until removal.
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.cli.ContainerKill(killCtx, instanceID, "KILL"); err != nil {
			l.logger.Error("failed to kill timed-out instance",
				slog.String("session", sess.ID),
				slog.String("error", err.Error()),
			)
		}
		return outcome, nil
	}

	// Distinguish a memory-ceiling kill from a plain crash.
	if insp, err := l.cli.ContainerInspect(ctx, instanceID); err == nil && insp.State != nil && insp.State.OOMKilled {
		outcome.OOMKilled = true
	}
	if res.exitCode == oomExitCode {
		outcome.OOMKilled = true
	}

	return outcome, nil
}

// createInstance allocates and starts the session's container: workspace
// bind mount, resource ceilings, read-only root, unprivileged user, all
// capabilities dropped.
func (l *Launcher) createInstance(ctx context.Context, sess *sandbox.Session) (string, error) {
	hostConfig := &container.HostConfig{
		Binds:       []string{sess.WorkspacePath + ":" + sandbox.WorkspaceMount},
		NetworkMode: container.NetworkMode(l.config.InstallNetwork),
		Resources: container.Resources{
			Memory:   l.config.MemoryLimit,
			NanoCPUs: int64(l.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		// pip and npm need a scratch dir even with a read-only root.
		Tmpfs:      map[string]string{"/tmp": "rw,size=64m"},
		AutoRemove: false,
	}

	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image: sess.Language.Image,
		// The instance idles; install and run happen as exec phases so
		// code is only ever read from the mounted workspace, never
		// passed on a command line.
		Cmd:        []string{"sleep", "86400"},
		User:       "nobody",
		WorkingDir: sandbox.WorkspaceMount,
		Env:        sess.Language.Env,
	}, hostConfig, nil, nil, "sandboxd-"+sess.ID)
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}
	l.pool.NoteCreated()

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.removeInstance(sess.ID, resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	return resp.ID, nil
}

// removeInstance force-removes a container and records the destruction.
func (l *Launcher) removeInstance(sessionID, instanceID string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := l.cli.ContainerRemove(cleanupCtx, instanceID, container.RemoveOptions{Force: true}); err != nil {
		l.logger.Error("failed to remove instance",
			slog.String("session", sessionID),
			slog.String("instance", instanceID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.pool.NoteDestroyed()
}

// phaseResult is one exec phase's captured output and exit status.
type phaseResult struct {
	stdout   *captureBuffer
	stderr   *captureBuffer
	exitCode int
	timedOut bool
}

// execPhase runs one command inside the instance, demultiplexing its
// output into independent, capped stdout/stderr buffers. If the phase
// deadline elapses first, both buffers are sealed before returning, so
// the deadline always wins the race against late output.
func (l *Launcher) execPhase(ctx context.Context, instanceID string, cmd, env []string, timeout time.Duration) (*phaseResult, error) {
	stdout := newCaptureBuffer(l.config.OutputCap)
	stderr := newCaptureBuffer(l.config.OutputCap)

	execResp, err := l.cli.ContainerExecCreate(ctx, instanceID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   sandbox.WorkspaceMount,
		Env:          env,
		Cmd:          cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := l.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attach.Close()

	done := make(chan struct{})
	go func() {
		// stdcopy demultiplexes the attach stream back into the two
		// independent byte sequences the daemon interleaved.
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		insp, err := l.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect exec: %w", err)
		}
		return &phaseResult{stdout: stdout, stderr: stderr, exitCode: insp.ExitCode}, nil
	case <-timer.C:
		stdout.Seal()
		stderr.Seal()
		return &phaseResult{stdout: stdout, stderr: stderr, timedOut: true}, nil
	case <-ctx.Done():
		stdout.Seal()
		stderr.Seal()
		return nil, ctx.Err()
	}
}
