package docker

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense/sandboxd/internal/sandbox"
)

// execBehavior scripts one exec phase of the fake daemon.
type execBehavior struct {
	stdout   string
	stderr   string
	exitCode int
	// hang simulates a process that produces nothing and never exits,
	// so the phase deadline has to fire.
	hang bool
}

// fakeDaemon implements Client in memory and records the call sequence,
// letting the tests drive the full session pipeline without Docker.
type fakeDaemon struct {
	mu        sync.Mutex
	behaviors []execBehavior
	events    []string
	execCmds  [][]string
	killed    int
	removed   int
	oomKilled bool
	execSeq   int
	conns     []net.Conn
}

func (d *fakeDaemon) record(event string) {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
}

func (d *fakeDaemon) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (d *fakeDaemon) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	d.record("create")
	return container.CreateResponse{ID: "inst-1"}, nil
}

func (d *fakeDaemon) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	d.record("start")
	return nil
}

func (d *fakeDaemon) ContainerKill(_ context.Context, _, _ string) error {
	d.mu.Lock()
	d.killed++
	d.mu.Unlock()
	d.record("kill")
	return nil
}

func (d *fakeDaemon) ContainerRemove(_ context.Context, _ string, _ container.RemoveOptions) error {
	d.mu.Lock()
	d.removed++
	d.mu.Unlock()
	d.record("remove")
	return nil
}

func (d *fakeDaemon) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{OOMKilled: d.oomKilled},
		},
	}, nil
}

func (d *fakeDaemon) ContainerExecCreate(_ context.Context, _ string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	d.mu.Lock()
	n := d.execSeq
	d.execSeq++
	d.execCmds = append(d.execCmds, options.Cmd)
	d.mu.Unlock()
	d.record("exec " + options.Cmd[0])
	return container.ExecCreateResponse{ID: fmt.Sprintf("exec-%d", n)}, nil
}

func (d *fakeDaemon) ContainerExecAttach(_ context.Context, execID string, _ container.ExecStartOptions) (types.HijackedResponse, error) {
	b := d.behavior(execID)

	clientConn, serverConn := net.Pipe()
	d.mu.Lock()
	d.conns = append(d.conns, clientConn, serverConn)
	d.mu.Unlock()

	go func() {
		if b.hang {
			return
		}
		if b.stdout != "" {
			writeStreamFrame(serverConn, 1, []byte(b.stdout))
		}
		if b.stderr != "" {
			writeStreamFrame(serverConn, 2, []byte(b.stderr))
		}
		serverConn.Close()
	}()

	return types.HijackedResponse{Conn: clientConn, Reader: bufio.NewReader(clientConn)}, nil
}

func (d *fakeDaemon) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	b := d.behavior(execID)
	return container.ExecInspect{ExitCode: b.exitCode}, nil
}

func (d *fakeDaemon) NetworkDisconnect(_ context.Context, _, _ string, _ bool) error {
	d.record("disconnect")
	return nil
}

func (d *fakeDaemon) Ping(context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func (d *fakeDaemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	return nil
}

func (d *fakeDaemon) behavior(execID string) execBehavior {
	n, _ := strconv.Atoi(strings.TrimPrefix(execID, "exec-"))
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < len(d.behaviors) {
		return d.behaviors[n]
	}
	return execBehavior{}
}

func (d *fakeDaemon) eventIndex(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.events {
		if e == event {
			return i
		}
	}
	return -1
}

// writeStreamFrame emits one frame in the daemon's stream-multiplexing
// format: {stream, 0, 0, 0, len(be32), payload}.
func writeStreamFrame(w io.Writer, stream byte, payload []byte) {
	hdr := make([]byte, 8)
	hdr[0] = stream
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	w.Write(hdr)
	w.Write(payload)
}

func newTestLauncher(t *testing.T, daemon *fakeDaemon, mutate func(*Config)) *Launcher {
	t.Helper()
	t.Cleanup(func() { daemon.Close() })

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithClient(cfg, daemon, NewInstancePool(2, nil), logger)
}

func newRunnableSession(t *testing.T) *sandbox.Session {
	t.Helper()
	lang, err := sandbox.ResolveLanguage("python", "python:3.12-slim", "node:20-alpine")
	require.NoError(t, err)
	sess := sandbox.NewSession(lang)
	sess.WorkspacePath = t.TempDir()
	return sess
}

func TestRun_SuccessfulSession(t *testing.T) {
	daemon := &fakeDaemon{behaviors: []execBehavior{
		{stdout: "hello\n", exitCode: 0},
	}}
	l := newTestLauncher(t, daemon, nil)
	sess := newRunnableSession(t)

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "print('hello')", Language: "python",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\n", outcome.Stdout)
	assert.Empty(t, outcome.Stderr)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.False(t, outcome.TimedOut)
	assert.False(t, outcome.OOMKilled)
	assert.Equal(t, sandbox.StateRunning, sess.State())

	// Network is revoked before the user code exec starts.
	assert.Less(t, daemon.eventIndex("disconnect"), daemon.eventIndex("exec python"))

	// The instance is destroyed and the ledger balances.
	assert.Equal(t, 1, daemon.removed)
	created, destroyed := l.Pool().Stats()
	assert.Equal(t, created, destroyed)
}

func TestRun_InstallFailureIsNonFatal(t *testing.T) {
	daemon := &fakeDaemon{behaviors: []execBehavior{
		{stderr: "no matching distribution for ghost-pkg\n", exitCode: 1}, // install
		{stdout: "ok\n", exitCode: 0},                                     // run
	}}
	l := newTestLauncher(t, daemon, nil)
	sess := newRunnableSession(t)

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "print('ok')", Requirements: []string{"ghost-pkg"}, Language: "python",
	})
	require.NoError(t, err)

	// The run phase still happened and its exit code is the outcome.
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "ok\n", outcome.Stdout)
	assert.Contains(t, outcome.Stderr, "dependency install failed (exit 1)")
	assert.Contains(t, outcome.Stderr, "no matching distribution for ghost-pkg")

	// Install runs with network, then disconnect, then the offline run.
	require.Len(t, daemon.execCmds, 2)
	assert.Equal(t, "pip", daemon.execCmds[0][0])
	assert.Equal(t, "python", daemon.execCmds[1][0])
	assert.Less(t, daemon.eventIndex("exec pip"), daemon.eventIndex("disconnect"))
	assert.Less(t, daemon.eventIndex("disconnect"), daemon.eventIndex("exec python"))
}

func TestRun_TimeoutSealsOutputAndKills(t *testing.T) {
	daemon := &fakeDaemon{behaviors: []execBehavior{{hang: true}}}
	l := newTestLauncher(t, daemon, func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
	})
	sess := newRunnableSession(t)

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "while True: pass", Language: "python",
	})
	require.NoError(t, err)

	assert.True(t, outcome.TimedOut)
	assert.Empty(t, outcome.Stdout)
	assert.Equal(t, 1, daemon.killed)
	assert.Equal(t, 1, daemon.removed)

	created, destroyed := l.Pool().Stats()
	assert.Equal(t, created, destroyed, "timed-out instance must not leak")
}

func TestRun_OOMByExitCode(t *testing.T) {
	daemon := &fakeDaemon{behaviors: []execBehavior{{exitCode: 137}}}
	l := newTestLauncher(t, daemon, nil)
	sess := newRunnableSession(t)

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "x = bytearray(10**10)", Language: "python",
	})
	require.NoError(t, err)
	assert.True(t, outcome.OOMKilled)
}

func TestRun_OOMByInspectFlag(t *testing.T) {
	daemon := &fakeDaemon{
		behaviors: []execBehavior{{exitCode: 1}},
		oomKilled: true,
	}
	l := newTestLauncher(t, daemon, nil)
	sess := newRunnableSession(t)

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "x", Language: "python",
	})
	require.NoError(t, err)
	assert.True(t, outcome.OOMKilled)
	assert.Equal(t, 1, outcome.ExitCode)
}

func TestRun_NoDisconnectWhenNetworkless(t *testing.T) {
	daemon := &fakeDaemon{behaviors: []execBehavior{{exitCode: 0}}}
	l := newTestLauncher(t, daemon, func(cfg *Config) {
		cfg.InstallNetwork = "none"
	})
	sess := newRunnableSession(t)

	_, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "pass", Language: "python",
	})
	require.NoError(t, err)
	assert.Equal(t, -1, daemon.eventIndex("disconnect"))
}

func TestRun_OutputCapTruncates(t *testing.T) {
	daemon := &fakeDaemon{behaviors: []execBehavior{
		{stdout: strings.Repeat("y", 100), exitCode: 0},
	}}
	l := newTestLauncher(t, daemon, func(cfg *Config) {
		cfg.OutputCap = 10
	})
	sess := newRunnableSession(t)

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: "spam", Language: "python",
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", 10)+truncationMarker, outcome.Stdout)
}

// TestLiveDockerSession exercises the real daemon end to end. Opt-in:
// it needs a Docker daemon and pulls the Python runtime image.
func TestLiveDockerSession(t *testing.T) {
	if os.Getenv("SANDBOXD_DOCKER_E2E") == "" {
		t.Skip("set SANDBOXD_DOCKER_E2E=1 to run against a live Docker daemon")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l, err := New(DefaultConfig(), NewInstancePool(1, nil), logger)
	require.NoError(t, err)
	defer l.Close()

	sess := newRunnableSession(t)
	code := "print('hello from the sandbox')"
	require.NoError(t, os.WriteFile(sess.WorkspacePath+"/main.py", []byte(code), 0o644))

	outcome, err := l.Run(context.Background(), sess, sandbox.ExecutionRequest{
		Code: code, Language: "python",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Contains(t, outcome.Stdout, "hello from the sandbox")
}
