package agentconf

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scharc/boxctl/internal/agent"
	"github.com/scharc/boxctl/internal/confmodel"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/system"
)

func testPair(t *testing.T, name string) *Pair {
	t.Helper()
	a, ok := agent.Lookup(name)
	if !ok {
		t.Fatalf("unknown agent %s", name)
	}
	p, err := NewPair(a, agent.Locations{LibraryDir: "/lib", ProjectDir: "/workspace", HomeDir: "/home/abox"})
	if err != nil {
		t.Fatalf("NewPair error: %v", err)
	}
	return p
}

func decode(t *testing.T, p *Pair, data []byte) confmodel.Mapping {
	t.Helper()
	doc, err := p.Adapter.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return doc
}

func TestEngine_MergeThenSplit(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(p.Files.Project, []byte(`{"mcpServers":{"x":{"command":"srv"}}}`), 0644)

	e := NewEngine(WithFileSystem(fsys))
	ctx := context.Background()

	if err := e.Merge(ctx, p); err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	runtime, ok := fsys.GetFile(p.Files.Runtime)
	if !ok {
		t.Fatal("runtime config not written")
	}
	if !strings.Contains(string(runtime), `"x"`) {
		t.Errorf("runtime missing mcpServers.x: %s", runtime)
	}

	// The agent edits its own settings.
	doc := decode(t, p, runtime)
	doc["theme"] = confmodel.Scalar{V: "dark"}
	edited, _ := p.Adapter.Encode(doc)
	fsys.WriteFileAtomic(p.Files.Runtime, edited, 0644)

	if err := e.Split(ctx, p); err != nil {
		t.Fatalf("Split error: %v", err)
	}
	project, _ := fsys.GetFile(p.Files.Project)
	got := decode(t, p, project)
	want := decode(t, p, []byte(`{"mcpServers":{"x":{"command":"srv"}},"theme":"dark"}`))
	if !confmodel.Equal(got, want) {
		t.Errorf("project = %s", project)
	}

	if fsys.Exists(lockPath(p)) {
		t.Error("sync lock not released")
	}
}

func TestEngine_BaselineUnwrap(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(p.Files.Baseline, []byte(`{"settings":{"theme":"light","verbose":true}}`), 0644)
	fsys.AddFile(p.Files.Project, []byte(`{"theme":"dark"}`), 0644)

	e := NewEngine(WithFileSystem(fsys))
	if err := e.Merge(context.Background(), p); err != nil {
		t.Fatalf("Merge error: %v", err)
	}

	runtime, _ := fsys.GetFile(p.Files.Runtime)
	got := decode(t, p, runtime)
	want := decode(t, p, []byte(`{"theme":"dark","verbose":true}`))
	if !confmodel.Equal(got, want) {
		t.Errorf("runtime = %s", runtime)
	}
}

func TestEngine_CodexTOML(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "codex")
	fsys.AddFile(p.Files.Baseline, []byte("model = \"o3\"\napproval_policy = \"on-request\"\n"), 0644)
	fsys.AddFile(p.Files.Runtime, []byte("model = \"o3\"\napproval_policy = \"never\"\n\n[mcp_servers.docs]\ncommand = \"docs\"\n"), 0644)

	e := NewEngine(WithFileSystem(fsys))
	if err := e.Split(context.Background(), p); err != nil {
		t.Fatalf("Split error: %v", err)
	}

	project, _ := fsys.GetFile(p.Files.Project)
	got := decode(t, p, project)
	if _, ok := got["model"]; ok {
		t.Errorf("unchanged key model should be omitted: %s", project)
	}
	if v, _ := got["approval_policy"].(confmodel.Scalar); v.V != "never" {
		t.Errorf("approval_policy = %v", got["approval_policy"])
	}
	if _, ok := got["mcp_servers"]; !ok {
		t.Errorf("mcp_servers must be preserved: %s", project)
	}
}

func TestEngine_MalformedProjectLeavesRuntime(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(p.Files.Runtime, []byte("{\"theme\": \"light\"}\n"), 0644)
	fsys.AddFile(p.Files.Project, []byte(`{"theme": `), 0644)

	e := NewEngine(WithFileSystem(fsys))
	err := e.Merge(context.Background(), p)
	if !errors.Is(err, boxerrors.ErrConfigParse) {
		t.Fatalf("Merge error = %v, want ConfigParse", err)
	}

	runtime, _ := fsys.GetFile(p.Files.Runtime)
	if string(runtime) != "{\"theme\": \"light\"}\n" {
		t.Errorf("runtime modified after failed merge: %s", runtime)
	}
	if fsys.Exists(lockPath(p)) {
		t.Error("sync lock not released after failure")
	}
}

func TestEngine_WriteFailure(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(p.Files.Project, []byte(`{"theme":"dark"}`), 0644)
	fsys.WriteFileAtomicErr = errors.New("read-only file system")

	e := NewEngine(WithFileSystem(fsys))
	err := e.Merge(context.Background(), p)
	if !errors.Is(err, boxerrors.ErrConfigWrite) {
		t.Fatalf("Merge error = %v, want ConfigWrite", err)
	}
	if fsys.Exists(p.Files.Runtime) {
		t.Error("runtime should not exist after failed write")
	}
}

func TestEngine_SkipsIdenticalWrite(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(p.Files.Project, []byte(`{"theme":"dark"}`), 0644)

	e := NewEngine(WithFileSystem(fsys))
	for i := 0; i < 3; i++ {
		if err := e.Merge(context.Background(), p); err != nil {
			t.Fatalf("Merge error: %v", err)
		}
	}
	if fsys.Writes[p.Files.Runtime] != 1 {
		t.Errorf("runtime written %d times, want 1", fsys.Writes[p.Files.Runtime])
	}
}

func TestEngine_SplitWithoutRuntime(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")

	e := NewEngine(WithFileSystem(fsys))
	if err := e.Split(context.Background(), p); err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if fsys.Exists(p.Files.Project) {
		t.Error("split without runtime should not create a project file")
	}
}

func TestEngine_StealsStaleLock(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(lockPath(p), []byte("4242 crashed\n"), 0644)
	fsys.AddFile(p.Files.Project, []byte(`{"theme":"dark"}`), 0644)

	later := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(WithFileSystem(fsys), WithClock(func() time.Time { return later }))

	if err := e.Merge(context.Background(), p); err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	if !fsys.Exists(p.Files.Runtime) {
		t.Error("merge did not run after stealing the lock")
	}
}

func TestEngine_WaitsForFreshLock(t *testing.T) {
	fsys := system.NewMockFS()
	p := testPair(t, "claude")
	fsys.AddFile(lockPath(p), []byte("1 busy\n"), 0644)
	info, _ := fsys.Stat(lockPath(p))

	e := NewEngine(
		WithFileSystem(fsys),
		WithClock(func() time.Time { return info.ModTime() }),
		WithLockTimeout(time.Minute),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := e.Merge(ctx, p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Merge error = %v, want deadline exceeded", err)
	}
	if fsys.Exists(p.Files.Runtime) {
		t.Error("merge ran while another holder owned the lock")
	}
}

func TestEngine_RealFiles(t *testing.T) {
	root := t.TempDir()
	claude, _ := agent.Lookup("claude")
	p, err := NewPair(claude, agent.Locations{
		LibraryDir: filepath.Join(root, "lib"),
		ProjectDir: filepath.Join(root, "project"),
		HomeDir:    filepath.Join(root, "home"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := system.AtomicWriteFile(p.Files.Project, []byte(`{"theme":"dark"}`), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine()
	if err := e.Merge(context.Background(), p); err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	rendered, err := e.Render(p)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(string(rendered), `"theme": "dark"`) {
		t.Errorf("Render() = %s", rendered)
	}
}

func TestPairs(t *testing.T) {
	pairs, err := Pairs(agent.DefaultLocations())
	if err != nil {
		t.Fatalf("Pairs error: %v", err)
	}
	if len(pairs) != len(agent.Names()) {
		t.Errorf("Pairs() = %d, want %d", len(pairs), len(agent.Names()))
	}

	if _, err := Pairs(agent.DefaultLocations(), "nope"); err == nil {
		t.Error("Pairs(nope) should fail")
	}
}
