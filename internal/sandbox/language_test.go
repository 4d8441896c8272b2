package sandbox

import (
	"slices"
	"strings"
	"testing"
)

func TestResolveLanguage_Python(t *testing.T) {
	lang, err := ResolveLanguage("python", "python:3.12-slim", "node:20-alpine")
	if err != nil {
		t.Fatalf("ResolveLanguage() error = %v", err)
	}

	if lang.Image != "python:3.12-slim" {
		t.Errorf("Image = %q, want %q", lang.Image, "python:3.12-slim")
	}
	if lang.EntryFile != "main.py" {
		t.Errorf("EntryFile = %q, want main.py", lang.EntryFile)
	}
	if !slices.Contains(lang.Env, "PYTHONUNBUFFERED=1") {
		t.Errorf("Env = %v, missing PYTHONUNBUFFERED=1", lang.Env)
	}
}

func TestResolveLanguage_Node(t *testing.T) {
	lang, err := ResolveLanguage("node", "python:3.12-slim", "node:20-alpine")
	if err != nil {
		t.Fatalf("ResolveLanguage() error = %v", err)
	}

	if lang.Image != "node:20-alpine" {
		t.Errorf("Image = %q, want %q", lang.Image, "node:20-alpine")
	}
	if lang.EntryFile != "index.js" {
		t.Errorf("EntryFile = %q, want index.js", lang.EntryFile)
	}
}

func TestResolveLanguage_Unknown(t *testing.T) {
	for _, name := range []string{"", "ruby", "Python", "PYTHON"} {
		if _, err := ResolveLanguage(name, "p", "n"); err == nil {
			t.Errorf("ResolveLanguage(%q) should fail", name)
		}
	}
}

func TestInstallCmd_AppendsPackages(t *testing.T) {
	lang, _ := ResolveLanguage("python", "p", "n")

	cmd := lang.InstallCmd([]string{"numpy", "pandas==2.2.0"})
	joined := strings.Join(cmd, " ")

	if cmd[0] != "pip" {
		t.Errorf("cmd[0] = %q, want pip", cmd[0])
	}
	if !strings.HasSuffix(joined, "numpy pandas==2.2.0") {
		t.Errorf("InstallCmd() = %q, packages not appended in order", joined)
	}
	if !strings.Contains(joined, "--quiet") {
		t.Errorf("InstallCmd() = %q, missing quiet flag", joined)
	}
}

func TestInstallCmd_DoesNotAliasPrefix(t *testing.T) {
	lang, _ := ResolveLanguage("node", "p", "n")

	a := lang.InstallCmd([]string{"left-pad"})
	a[0] = "mutated"

	b := lang.InstallCmd([]string{"left-pad"})
	if b[0] != "npm" {
		t.Errorf("InstallCmd() returned aliased slice: b[0] = %q", b[0])
	}
}

func TestRunCmd_ReferencesEntryFile(t *testing.T) {
	lang, _ := ResolveLanguage("python", "p", "n")

	cmd := lang.RunCmd()
	if len(cmd) != 2 || !strings.HasSuffix(cmd[1], lang.EntryFile) {
		t.Errorf("RunCmd() = %v, want interpreter + entry file", cmd)
	}
}
