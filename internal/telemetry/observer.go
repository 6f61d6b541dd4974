package telemetry

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/srhall/gitcrew/internal/logging"
)

// defaultIgnores skip noise that is not worker output.
var defaultIgnores = []string{
	".git/**",
	"**/.git/**",
	"node_modules/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*.tmp",
}

// Observer watches worktree directories and attributes file writes to the
// worker that owns each worktree. It is a secondary ingestion path next to
// the structured event channel, useful when a worker delegates to
// subprocesses that never emit events.
type Observer struct {
	collector *Collector
	logger    *logging.Logger
	watcher   *fsnotify.Watcher
	ignores   []glob.Glob

	mu    sync.Mutex
	roots map[string]string // worktree root -> agent name

	done chan struct{}
	wg   sync.WaitGroup
}

func NewObserver(collector *Collector, logger *logging.Logger, ignorePatterns []string) (*Observer, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	patterns := append(append([]string{}, defaultIgnores...), ignorePatterns...)
	ignores := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			logger.Warn("invalid ignore pattern", "pattern", p, "error", err)
			continue
		}
		ignores = append(ignores, g)
	}

	return &Observer{
		collector: collector,
		logger:    logger.With("component", "observer"),
		watcher:   watcher,
		ignores:   ignores,
		roots:     make(map[string]string),
		done:      make(chan struct{}),
	}, nil
}

// AddWorktree registers a worktree for an agent and watches it recursively.
func (o *Observer) AddWorktree(agent, root string) error {
	root = filepath.Clean(root)
	o.mu.Lock()
	o.roots[root] = agent
	o.mu.Unlock()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if o.ignored(root, path+"/") {
			return filepath.SkipDir
		}
		if err := o.watcher.Add(path); err != nil {
			o.logger.Warn("watch failed", "path", path, "error", err)
		}
		return nil
	})
}

// Start runs the event loop until Stop.
func (o *Observer) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-o.done:
				return
			case ev, ok := <-o.watcher.Events:
				if !ok {
					return
				}
				o.handle(ev)
			case err, ok := <-o.watcher.Errors:
				if !ok {
					return
				}
				o.logger.Warn("watcher error", "error", err)
			}
		}
	}()
}

func (o *Observer) Stop() {
	close(o.done)
	o.watcher.Close()
	o.wg.Wait()
}

func (o *Observer) handle(ev fsnotify.Event) {
	agent, root := o.attribute(ev.Name)
	if agent == "" {
		return
	}
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil || o.ignored(root, rel) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		// New directories need their own watch.
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if err := o.watcher.Add(ev.Name); err != nil {
				o.logger.Warn("watch failed", "path", ev.Name, "error", err)
			}
			return
		}
		fallthrough
	case ev.Op.Has(fsnotify.Write):
		rt := o.collector.Runtime(agent)
		rt.RecordFileWritten(rel)
		rt.RecordLog("wrote " + rel)
	}
}

// attribute maps an event path to the agent owning the longest matching
// worktree root.
func (o *Observer) attribute(path string) (agent, root string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	matches := make([]string, 0, 1)
	for r := range o.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return "", ""
	}
	sort.Slice(matches, func(i, j int) bool { return len(matches[i]) > len(matches[j]) })
	return o.roots[matches[0]], matches[0]
}

func (o *Observer) ignored(root, path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		if r, err := filepath.Rel(root, path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	for _, g := range o.ignores {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
