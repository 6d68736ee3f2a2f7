package agentconf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/scharc/boxctl/internal/agent"
	"github.com/scharc/boxctl/internal/confmodel"
	boxerrors "github.com/scharc/boxctl/internal/errors"
	"github.com/scharc/boxctl/internal/logging"
	"github.com/scharc/boxctl/internal/system"
)

// DefaultLockTimeout bounds how long a sync lock may be held.
const DefaultLockTimeout = 10 * time.Second

// Pair binds an agent to its resolved documents and adapter.
type Pair struct {
	Agent   agent.Agent
	Files   agent.Files
	Adapter Adapter
}

// NewPair resolves the documents of a for loc.
func NewPair(a agent.Agent, loc agent.Locations) (*Pair, error) {
	adapter, err := AdapterFor(a.Format)
	if err != nil {
		return nil, err
	}
	files, err := a.Resolve(loc)
	if err != nil {
		return nil, err
	}
	return &Pair{Agent: a, Files: files, Adapter: adapter}, nil
}

// Pairs returns a pair per named agent; no names means every agent.
func Pairs(loc agent.Locations, names ...string) ([]*Pair, error) {
	if len(names) == 0 {
		names = agent.Names()
	}
	var pairs []*Pair
	for _, name := range names {
		a, ok := agent.Lookup(name)
		if !ok {
			return nil, boxerrors.ValidationError(fmt.Sprintf("unknown agent %q", name))
		}
		p, err := NewPair(a, loc)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// Engine runs merge and split for config pairs.
type Engine struct {
	fs          system.FileSystem
	lockTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFileSystem sets the file system used for all document access.
func WithFileSystem(fsys system.FileSystem) EngineOption {
	return func(e *Engine) {
		e.fs = fsys
	}
}

// WithLockTimeout sets how long a sync lock may be held before it is stolen.
func WithLockTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithClock sets the time source used to age lock files.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		fs:          system.DefaultFS(),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		log:         logging.With("component", "agentconf"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge writes baseline+project to the runtime document.
func (e *Engine) Merge(ctx context.Context, p *Pair) error {
	release, err := e.acquire(ctx, p)
	if err != nil {
		return err
	}
	defer release()

	baseline, err := e.readBaseline(p)
	if err != nil {
		return err
	}
	project, _, err := e.read(p, p.Files.Project)
	if err != nil {
		return err
	}

	merged := confmodel.Merge(baseline, project, p.Agent.Preserved)
	written, err := e.write(p, p.Files.Runtime, merged)
	if err != nil {
		return err
	}
	e.log.Debug("merged config", "agent", p.Agent.Name, "runtime", p.Files.Runtime, "written", written)
	return nil
}

// Split writes the difference between runtime and baseline to the
// project document. A missing runtime document is not an error.
func (e *Engine) Split(ctx context.Context, p *Pair) error {
	release, err := e.acquire(ctx, p)
	if err != nil {
		return err
	}
	defer release()

	runtime, found, err := e.read(p, p.Files.Runtime)
	if err != nil {
		return err
	}
	if !found {
		e.log.Debug("no runtime config to split", "agent", p.Agent.Name, "path", p.Files.Runtime)
		return nil
	}
	baseline, err := e.readBaseline(p)
	if err != nil {
		return err
	}

	overrides := confmodel.Diff(runtime, baseline, p.Agent.Preserved)
	written, err := e.write(p, p.Files.Project, overrides)
	if err != nil {
		return err
	}
	e.log.Debug("split config", "agent", p.Agent.Name, "project", p.Files.Project, "written", written)
	return nil
}

// Render returns the merged runtime document without writing it.
func (e *Engine) Render(p *Pair) ([]byte, error) {
	baseline, err := e.readBaseline(p)
	if err != nil {
		return nil, err
	}
	project, _, err := e.read(p, p.Files.Project)
	if err != nil {
		return nil, err
	}
	return p.Adapter.Encode(confmodel.Merge(baseline, project, p.Agent.Preserved))
}

func (e *Engine) readBaseline(p *Pair) (confmodel.Mapping, error) {
	doc, _, err := e.read(p, p.Files.Baseline)
	if err != nil {
		return nil, err
	}
	if p.Agent.UnwrapKey != "" {
		if inner, ok := doc[p.Agent.UnwrapKey].(confmodel.Mapping); ok {
			return inner, nil
		}
	}
	return doc, nil
}

// read decodes a document. A missing file yields an empty mapping.
func (e *Engine) read(p *Pair, path string) (confmodel.Mapping, bool, error) {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return confmodel.Mapping{}, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := p.Adapter.Decode(data)
	if err != nil {
		return nil, true, boxerrors.ConfigParse(path, err)
	}
	return doc, true, nil
}

// write encodes doc and atomically replaces path unless the file already
// holds identical bytes.
func (e *Engine) write(p *Pair, path string, doc confmodel.Mapping) (bool, error) {
	data, err := p.Adapter.Encode(doc)
	if err != nil {
		return false, boxerrors.ConfigWrite(path, err)
	}
	if existing, err := e.fs.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := e.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, boxerrors.ConfigWrite(path, err)
	}
	if err := e.fs.WriteFileAtomic(path, data, 0644); err != nil {
		return false, boxerrors.ConfigWrite(path, err)
	}
	return true, nil
}
