// Package repository holds recorded step definitions for a session: the
// evidence and plan of each step, the snapshot it was recorded against and
// the rectangle the last structural resolution confirmed.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// Entry is one stored definition and what was learned while using it.
type Entry struct {
	Definition flow.Definition
	Confirmed  *core.Bounds
	Uses       int
	UpdatedAt  time.Time

	handle *snapshot.Handle
}

// Repository is safe for concurrent use by several sessions. Cache and store
// are both optional.
type Repository struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cache   *snapshot.Cache
	store   *Store
}

// New creates an empty repository.
func New(cache *snapshot.Cache, store *Store) *Repository {
	return &Repository{
		entries: make(map[string]*Entry),
		cache:   cache,
		store:   store,
	}
}

// Load reads every stored definition into memory. Existing entries with the
// same id are replaced.
func (r *Repository) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list definitions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		var def flow.Definition
		if err := yaml.Unmarshal([]byte(rec.Body), &def); err != nil {
			return 0, fmt.Errorf("definition %q: %w", rec.ID, err)
		}
		def.ID = rec.ID
		e := &Entry{Definition: def, Uses: rec.Uses, UpdatedAt: time.UnixMilli(rec.UpdatedAt)}
		if rec.Confirmed != "" {
			b := core.ParseBounds(rec.Confirmed)
			if !b.IsEmpty() {
				e.Confirmed = &b
			}
		}
		r.replace(rec.ID, e)
	}
	logger.Debug("repository: loaded %d definitions", len(recs))
	return len(recs), nil
}

// Put stores def, replacing any entry with the same id. The confirmed
// rectangle and use count of a replaced entry are kept. When the definition
// names a snapshot that is cached, the snapshot is pinned until the entry is
// evicted.
func (r *Repository) Put(ctx context.Context, def flow.Definition) error {
	if def.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	e := &Entry{Definition: def, UpdatedAt: time.Now()}
	r.mu.Lock()
	if old, ok := r.entries[def.ID]; ok {
		e.Confirmed, e.Uses = old.Confirmed, old.Uses
	}
	r.mu.Unlock()

	if def.SnapshotHash != "" && r.cache != nil {
		if h, err := r.cache.Acquire(def.SnapshotHash); err == nil {
			e.handle = h
		} else {
			logger.Debug("repository: %s: %v", def.ID, err)
		}
	}

	if r.store != nil {
		body, err := yaml.Marshal(def)
		if err != nil {
			e.release()
			return fmt.Errorf("encode definition %q: %w", def.ID, err)
		}
		rec := &Record{ID: def.ID, Body: string(body), Snapshot: def.SnapshotHash, Uses: e.Uses}
		if e.Confirmed != nil {
			rec.Confirmed = e.Confirmed.String()
		}
		if err := r.store.Save(ctx, rec); err != nil {
			e.release()
			return fmt.Errorf("save definition %q: %w", def.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.replace(def.ID, e)
	return nil
}

// PutAll stores every definition, stopping at the first failure.
func (r *Repository) PutAll(ctx context.Context, defs []flow.Definition) error {
	for _, d := range defs {
		if err := r.Put(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the entry for id.
func (r *Repository) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.handle = nil
	if e.Confirmed != nil {
		b := *e.Confirmed
		out.Confirmed = &b
	}
	return out, true
}

// Confirmed returns the last confirmed rectangle for id, if any.
func (r *Repository) Confirmed(id string) *core.Bounds {
	e, ok := r.Get(id)
	if !ok {
		return nil
	}
	return e.Confirmed
}

// MarkConfirmed records b as the rectangle a structural resolution of id
// landed on.
func (r *Repository) MarkConfirmed(ctx context.Context, id string, b core.Bounds) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("definition %q not found", id)
	}
	e.Confirmed = &b
	e.Uses++
	e.UpdatedAt = time.Now()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetConfirmed(ctx, id, b.String()); err != nil {
			return fmt.Errorf("persist confirmed bounds for %q: %w", id, err)
		}
	}
	return nil
}

// Evict removes id from memory and from the store, releasing its snapshot.
func (r *Repository) Evict(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		e.release()
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete definition %q: %w", id, err)
		}
	}
	return nil
}

// IDs returns the stored ids in sorted order.
func (r *Repository) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of entries.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close releases every pinned snapshot. The store is owned by the caller.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.release()
		delete(r.entries, id)
	}
}

func (r *Repository) replace(id string, e *Entry) {
	if old, ok := r.entries[id]; ok {
		old.release()
	}
	r.entries[id] = e
}

func (e *Entry) release() {
	if e.handle != nil {
		e.handle.Release()
		e.handle = nil
	}
}
