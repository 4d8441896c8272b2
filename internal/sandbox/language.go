package sandbox

import (
	"fmt"
)

// WorkspaceMount is the path at which a session's workspace directory is
// bind-mounted inside the isolated environment. User code runs with this
// as its working directory; it is the only writable path.
const WorkspaceMount = "/workspace"

// packagesDir is where declared Python dependencies are installed inside
// the workspace, so the install survives a read-only root filesystem.
const packagesDir = WorkspaceMount + "/.packages"

// Language is the tagged runtime variant for a session. It carries the
// runtime image reference, the package-manager invocation template, and
// the entry-file naming convention, resolved once at session creation
// and never re-dispatched mid-session.
type Language struct {
	// Name is the wire-level language tag ("python" or "node").
	Name string
	// Image is the container image the instance is created from.
	Image string
	// EntryFile is the filename the user's code is written to inside
	// the workspace ("main.py" / "index.js").
	EntryFile string
	// Env is the environment the install and run phases execute with.
	Env []string

	runCmd        []string
	installPrefix []string
}

// LanguagePython and LanguageNode are the wire-level language tags.
const (
	LanguagePython = "python"
	LanguageNode   = "node"
)

// ResolveLanguage maps a request's language tag to its runtime variant.
// Unknown tags are a validation failure; no resource may have been
// allocated by the time this is called.
func ResolveLanguage(name, pythonImage, nodeImage string) (Language, error) {
	switch name {
	case LanguagePython:
		return Language{
			Name:      LanguagePython,
			Image:     pythonImage,
			EntryFile: "main.py",
			Env: []string{
				"HOME=" + WorkspaceMount,
				"PYTHONPATH=" + packagesDir,
				"PYTHONUNBUFFERED=1",
			},
			runCmd: []string{"python", WorkspaceMount + "/main.py"},
			// Quiet, non-interactive install of exactly the declared
			// packages, targeting the workspace so the root filesystem
			// can stay read-only.
			installPrefix: []string{
				"pip", "install",
				"--quiet", "--no-warn-script-location", "--disable-pip-version-check",
				"--target", packagesDir,
			},
		}, nil
	case LanguageNode:
		return Language{
			Name:      LanguageNode,
			Image:     nodeImage,
			EntryFile: "index.js",
			Env: []string{
				"HOME=" + WorkspaceMount,
				"NO_UPDATE_NOTIFIER=1",
			},
			runCmd: []string{"node", WorkspaceMount + "/index.js"},
			// npm resolves node_modules from the working directory, which
			// is the workspace mount.
			installPrefix: []string{
				"npm", "install",
				"--no-audit", "--no-fund", "--loglevel=error",
			},
		}, nil
	default:
		return Language{}, fmt.Errorf("unknown language %q", name)
	}
}

// RunCmd returns the argv that executes the session's entry file.
func (l Language) RunCmd() []string {
	out := make([]string, len(l.runCmd))
	copy(out, l.runCmd)
	return out
}

// InstallCmd returns the argv that installs the declared packages.
func (l Language) InstallCmd(packages []string) []string {
	out := make([]string, 0, len(l.installPrefix)+len(packages))
	out = append(out, l.installPrefix...)
	out = append(out, packages...)
	return out
}
