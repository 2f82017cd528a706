package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"artvault/internal/fsutil"
	"artvault/internal/logger"
	"artvault/internal/models"
)

// Registry is the master listing file: one JSON object keyed by slug, read
// and written whole. Writes go through a temp file and rename; concurrent
// writers in other processes can still lose updates.
type Registry struct {
	mu   sync.Mutex
	path string
	log  *logger.Logger
}

func NewRegistry(path string, log *logger.Logger) *Registry {
	return &Registry{path: path, log: log.Component("registry")}
}

// load reads the registry; a missing or corrupt file reads as empty.
func (r *Registry) load() map[string]models.RegistryEntry {
	entries := map[string]models.RegistryEntry{}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("registry unreadable, starting empty", "path", r.path, "error", err)
		}
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		r.log.Warn("registry corrupt, starting empty", "path", r.path, "error", err)
		return map[string]models.RegistryEntry{}
	}
	return entries
}

func (r *Registry) save(entries map[string]models.RegistryEntry) error {
	if err := fsutil.WriteJSON(r.path, entries); err != nil {
		return fmt.Errorf("storage.Registry.save: %w", err)
	}
	return nil
}

func (r *Registry) Get(slug string) (models.RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.load()[slug]
	return e, ok
}

// List returns all entries ordered by SKU.
func (r *Registry) List() []models.RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	out := make([]models.RegistryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// Put stores entry under entry.Slug.
func (r *Registry) Put(entry models.RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	entry.UpdatedAt = time.Now().UTC()
	entries[entry.Slug] = entry
	return r.save(entries)
}

// Rename moves the entry stored under from to entry.Slug.
func (r *Registry) Rename(from string, entry models.RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	delete(entries, from)
	entry.UpdatedAt = time.Now().UTC()
	entries[entry.Slug] = entry
	return r.save(entries)
}

// Delete removes slug. Deleting an absent slug is not an error.
func (r *Registry) Delete(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.load()
	if _, ok := entries[slug]; !ok {
		return nil
	}
	delete(entries, slug)
	return r.save(entries)
}
