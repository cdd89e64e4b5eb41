package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smallnest/chatpipe/log"
)

// Registry holds the compiled pipelines of a definitions directory, keyed by
// pipeline id. A definition without an id is registered under its file name.
type Registry struct {
	dir      string
	logger   log.Logger
	debounce time.Duration

	mu     sync.RWMutex
	graphs map[string]*Graph
	files  map[string]string // path -> pipeline id
}

// NewRegistry creates a registry for dir. A nil logger uses the package default.
func NewRegistry(dir string, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Registry{
		dir:      dir,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		graphs:   make(map[string]*Graph),
		files:    make(map[string]string),
	}
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Load compiles every definition in the directory. Invalid files are reported
// in the returned error while valid ones are still registered.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read pipeline directory: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		if err := r.loadFile(filepath.Join(r.dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) loadFile(path string) error {
	g, err := LoadFile(path)
	if err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if g.Name == "" {
			g.Name = g.ID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.ownerOf(g.ID); ok && owner != path {
		return fmt.Errorf("%s: pipeline id %q is already defined in %s", path, g.ID, owner)
	}
	if old, ok := r.files[path]; ok && old != g.ID {
		delete(r.graphs, old)
	}
	r.graphs[g.ID] = g
	r.files[path] = g.ID
	return nil
}

func (r *Registry) ownerOf(id string) (string, bool) {
	for path, owner := range r.files {
		if owner == id {
			return path, true
		}
	}
	return "", false
}

func (r *Registry) remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.files[path]; ok {
		delete(r.graphs, id)
		delete(r.files, path)
		r.logger.Info("pipeline %q removed", id)
	}
}

// Register adds a compiled graph that is not backed by a file.
func (r *Registry) Register(g *Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[g.ID] = g
}

// Get returns the pipeline with the given id.
func (r *Registry) Get(id string) (*Graph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[id]
	return g, ok
}

// List returns all pipelines sorted by id.
func (r *Registry) List() []*Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Graph, 0, len(r.graphs))
	for _, g := range r.graphs {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *Graph) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Watch reloads definitions as they change until ctx is done. A definition
// that fails to compile keeps its previous version registered.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	var (
		timersMu sync.Mutex
		timers   = make(map[string]*time.Timer)
	)
	defer func() {
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(event.Name)
			if !isDefinitionFile(path) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				r.remove(path)
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timersMu.Lock()
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(r.debounce, func() {
				if err := r.loadFile(path); err != nil {
					r.logger.Error("failed to reload pipeline: %v", err)
					return
				}
				r.logger.Info("pipeline reloaded from %s", path)
			})
			timersMu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("pipeline watcher error: %v", err)
		}
	}
}
