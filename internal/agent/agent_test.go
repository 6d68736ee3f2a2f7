package agent

import (
	"path/filepath"
	"testing"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"claude", "codex", "gemini", "qwen"} {
		a, ok := Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) not found", name)
			continue
		}
		if a.Name != name {
			t.Errorf("Lookup(%q).Name = %q", name, a.Name)
		}
		if len(a.Preserved) == 0 {
			t.Errorf("%s has no preserved keys", name)
		}
	}

	if _, ok := Lookup("unknown"); ok {
		t.Error("Lookup(unknown) should fail")
	}
}

func TestFormats(t *testing.T) {
	codex, _ := Lookup("codex")
	if codex.Format != FormatTOML {
		t.Errorf("codex format = %q, want toml", codex.Format)
	}
	claude, _ := Lookup("claude")
	if claude.Format != FormatJSON {
		t.Errorf("claude format = %q, want json", claude.Format)
	}
}

func TestNames_Sorted(t *testing.T) {
	names := Names()
	want := []string{"claude", "codex", "gemini", "qwen"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	loc := Locations{
		LibraryDir: filepath.Join(root, "lib"),
		ProjectDir: filepath.Join(root, "project"),
		HomeDir:    filepath.Join(root, "home"),
	}

	claude, _ := Lookup("claude")
	files, err := claude.Resolve(loc)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	if want := filepath.Join(root, "lib", "config.json"); files.Baseline != want {
		t.Errorf("Baseline = %q, want %q", files.Baseline, want)
	}
	if want := filepath.Join(root, "project", ".boxctl", "claude.json"); files.Project != want {
		t.Errorf("Project = %q, want %q", files.Project, want)
	}
	if want := filepath.Join(root, "home", ".claude", "config.json"); files.Runtime != want {
		t.Errorf("Runtime = %q, want %q", files.Runtime, want)
	}
}

func TestResolve_StaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	a := Agent{Name: "evil", BaselineFile: "../../etc/passwd", ProjectFile: "x.json", RuntimeFile: "x.json"}

	files, err := a.Resolve(Locations{LibraryDir: root, ProjectDir: root, HomeDir: root})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if files.Baseline != filepath.Join(root, "etc", "passwd") {
		t.Errorf("Baseline escaped root: %q", files.Baseline)
	}
}

func TestResolve_EnvOverride(t *testing.T) {
	t.Setenv("BOXCTL_CODEX_RUNTIME", "/tmp/override.toml")

	codex, _ := Lookup("codex")
	files, err := codex.Resolve(DefaultLocations())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if files.Runtime != "/tmp/override.toml" {
		t.Errorf("Runtime = %q, want override", files.Runtime)
	}
}
