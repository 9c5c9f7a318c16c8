package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Viewer is a registry of named Stores, one per pipeline definition that
// wants sequence tracking, swept together on a single ticker.
type Viewer struct {
	interval time.Duration

	mu     sync.Mutex
	stores map[string]*Store
}

// NewViewer returns a Viewer that sweeps every registered Store once per
// interval once Run is started.
func NewViewer(interval time.Duration) *Viewer {
	return &Viewer{interval: interval, stores: map[string]*Store{}}
}

// Register adds store under id. It returns an error if id is already
// registered.
func (v *Viewer) Register(id string, store *Store) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.stores[id]; exists {
		return fmt.Errorf("sequence store %q already registered", id)
	}
	v.stores[id] = store
	return nil
}

// Unregister removes id, if present.
func (v *Viewer) Unregister(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.stores, id)
}

// Run sweeps every registered store once per interval until ctx is
// done. Call it in its own goroutine.
func (v *Viewer) Run(ctx context.Context) {
	log := klog.FromContext(ctx)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			v.sweepAll(log, now)
		}
	}
}

func (v *Viewer) sweepAll(log klog.Logger, now time.Time) {
	v.mu.Lock()
	snapshot := make(map[string]*Store, len(v.stores))
	for id, store := range v.stores {
		snapshot[id] = store
	}
	v.mu.Unlock()

	for id, store := range snapshot {
		evicted := store.Sweep(now)
		if len(evicted) > 0 {
			log.V(1).Info("evicted timed-out sequences", "pipeline", id, "count", len(evicted))
		}
	}
}
