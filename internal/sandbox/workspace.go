package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// descriptorFile is the session-local descriptor the provisioner writes
// into every workspace. The isolated environment only ever reads from its
// mounted workspace, never from its command line, so the descriptor
// decouples "what to run" from "how it runs".
const descriptorFile = "meta.json"

// Descriptor is the on-disk shape of the request inside the workspace.
type Descriptor struct {
	Code         string   `json:"code"`
	Requirements []string `json:"requirements"`
	Language     string   `json:"language"`
}

// Workspaces provisions and tears down the per-session scratch
// directories under a single base directory on the host.
type Workspaces struct {
	base   string
	logger *slog.Logger
}

// NewWorkspaces creates the base directory if needed and returns the
// provisioner.
func NewWorkspaces(base string, logger *slog.Logger) (*Workspaces, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace base %s: %w", base, err)
	}
	return &Workspaces{base: base, logger: logger}, nil
}

// Provision creates the session's fresh, exclusive directory (named by
// the session id, so concurrent sessions never collide) and writes the
// descriptor and the language's entry file into it. The directory is made
// world-writable because the instance runs as an unprivileged user and
// must be able to write artifacts into the mount.
func (w *Workspaces) Provision(sess *Session, req ExecutionRequest) error {
	dir := filepath.Join(w.base, sess.ID)
	if err := os.Mkdir(dir, 0o777); err != nil {
		return fmt.Errorf("creating workspace %s: %w", dir, err)
	}
	// Mkdir is subject to the process umask; fix the mode up explicitly.
	if err := os.Chmod(dir, 0o777); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("setting workspace mode: %w", err)
	}

	desc := Descriptor{
		Code:         req.Code,
		Requirements: req.Requirements,
		Language:     req.Language,
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, descriptorFile), raw, 0o644); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("writing descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sess.Language.EntryFile), []byte(req.Code), 0o644); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("writing entry file: %w", err)
	}

	sess.WorkspacePath = dir
	return nil
}

// Remove recursively deletes the session's workspace. Safe to call when
// provisioning never happened or already failed; teardown logs rather than
// propagates, because it runs on every exit path.
func (w *Workspaces) Remove(sess *Session) {
	if sess.WorkspacePath == "" {
		return
	}
	if err := os.RemoveAll(sess.WorkspacePath); err != nil {
		w.logger.Error("failed to remove workspace",
			slog.String("session", sess.ID),
			slog.String("path", sess.WorkspacePath),
			slog.String("error", err.Error()),
		)
		return
	}
	sess.WorkspacePath = ""
}

// imageExtensions are the artifact types the capturer recognises as
// plotting output.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
}

// SnapshotImages records the image files already present in the workspace
// root (staged inputs, earlier phases) so CollectImages can tell which
// ones the run itself produced.
func SnapshotImages(dir string) map[string]bool {
	seen := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return seen
	}
	for _, e := range entries {
		if !e.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			seen[e.Name()] = true
		}
	}
	return seen
}

// CollectImages reads the image files the run phase created in the
// workspace root and returns them base64-encoded, in creation
// (modification-time) order.
func CollectImages(dir string, before map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading workspace: %w", err)
	}

	type artifact struct {
		name    string
		modTime int64
	}
	var found []artifact
	for _, e := range entries {
		if e.IsDir() || before[e.Name()] {
			continue
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, artifact{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].modTime != found[j].modTime {
			return found[i].modTime < found[j].modTime
		}
		return found[i].name < found[j].name
	})

	var images []string
	for _, a := range found {
		raw, err := os.ReadFile(filepath.Join(dir, a.name))
		if err != nil {
			return images, fmt.Errorf("reading artifact %s: %w", a.name, err)
		}
		images = append(images, base64.StdEncoding.EncodeToString(raw))
	}
	return images, nil
}
