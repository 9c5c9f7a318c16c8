package nodelib

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// entry is a reference-counted DynamicLibrary. It is unloaded only once
// both the registry's own map entry has been dropped and every node
// holding a share has released it.
type entry struct {
	lib      *DynamicLibrary
	refCount int
}

// Registry loads NodeLibraries from an allowed root directory, sharing
// one *DynamicLibrary per path across every custom node that references
// it, and watches the root for changes so PipelineDefinitions can be
// told to revalidate.
type Registry struct {
	allowedRoot string

	mu      sync.Mutex
	entries map[string]*entry

	onChange func(path string)
	watcher  *fsnotify.Watcher
}

// NewRegistry creates a Registry rooted at allowedRoot. onChange, if
// non-nil, is invoked (from the Run goroutine) for every filesystem event
// fsnotify reports under allowedRoot, with the event's path (allowedRoot
// joined with the file name), so callers can re-validate definitions.
func NewRegistry(allowedRoot string, onChange func(path string)) (*Registry, error) {
	r := &Registry{
		allowedRoot: allowedRoot,
		entries:     make(map[string]*entry),
		onChange:    onChange,
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating library directory watcher: %w", err)
	}
	if err := watcher.Add(allowedRoot); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching library root %q: %w", allowedRoot, err)
	}
	r.watcher = watcher
	return r, nil
}

// Run drains filesystem events until ctx is cancelled. Intended to run
// in its own goroutine for the lifetime of the process, using the same
// background-goroutine-plus-context-cancellation shutdown idiom as the
// worker pool.
func (r *Registry) Run(ctx context.Context) {
	log := klog.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			log.V(2).Info("node library directory event", "path", ev.Name, "op", ev.Op.String())
			if r.onChange != nil {
				r.onChange(ev.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Error(err, "watching node library directory")
		}
	}
}

// Close stops the filesystem watcher. It does not unload any library;
// call ReleaseRef for every outstanding Get first if a clean shutdown
// matters.
func (r *Registry) Close() error {
	return r.watcher.Close()
}

// Get loads (or returns the already-loaded, ref-counted) library at
// relPath under the registry's allowed root.
func (r *Registry) Get(relPath string) (*DynamicLibrary, error) {
	if err := ValidatePath(r.allowedRoot, relPath); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[relPath]; ok {
		e.refCount++
		return e.lib, nil
	}

	full := r.allowedRoot + "/" + relPath
	lib, err := Load(full)
	if err != nil {
		return nil, err
	}
	r.entries[relPath] = &entry{lib: lib, refCount: 1}
	return lib, nil
}

// Resolve loads the library at relPath, satisfying definition.LibraryResolver
// so a Registry can be handed directly to definition.New. Callers that
// need precise reference counting across a definition's lifetime should
// call Get/ReleaseRef instead; Resolve is for the common case where the
// registry itself owns every library for the life of the process.
func (r *Registry) Resolve(relPath string) (Library, error) {
	return r.Get(relPath)
}

// ReleaseRef drops one reference to the library at relPath, dlclose-ing
// it once no user (including the registry's own bookkeeping share, held
// implicitly for the definition that first loaded it) remains.
func (r *Registry) ReleaseRef(relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[relPath]
	if !ok {
		return fmt.Errorf("releasing unknown library %q", relPath)
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}
	delete(r.entries, relPath)
	return e.lib.Unload()
}
