// Package datastore is the named collection store: a per-namespace
// key→value map persisted as one JSON file per collection, written
// atomically (write to a temp file, then rename). Extensions use it for
// bookkeeping; the rules downloader keeps its cache here.
package datastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// namespace is the directory all collections live under.
const namespace = "com.adobe.aep.datastore"

// Store hands out collections rooted at a base directory.
type Store struct {
	dir string

	mu          sync.Mutex
	collections map[string]*Collection
}

// New creates a store rooted at base. The directory is created lazily on
// first write.
func New(base string) *Store {
	return &Store{
		dir:         filepath.Join(base, namespace),
		collections: make(map[string]*Collection),
	}
}

// Collection returns the named collection, creating its handle on first
// use. Handles are shared: two calls with the same name see the same data.
func (s *Store) Collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{path: filepath.Join(s.dir, name+".json")}
	s.collections[name] = c
	return c
}

// Collection is one named key→value map. All operations load-modify-store
// under a lock; values are anything encoding/json can round-trip.
type Collection struct {
	mu   sync.Mutex
	path string
}

// load reads the collection file. A missing or unparsable file reads as
// empty.
func (c *Collection) load() map[string]any {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}

// save writes the collection atomically: temp file in the same directory,
// then rename over the target.
func (c *Collection) save(data map[string]any) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create datastore dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write collection: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace collection: %w", err)
	}
	return nil
}

// Set stores value under key.
func (c *Collection) Set(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.load()
	data[key] = value
	return c.save(data)
}

// Get returns the value under key, or nil/false when absent (or when the
// file failed to parse).
func (c *Collection) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.load()[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (c *Collection) GetString(key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Remove deletes key from the collection.
func (c *Collection) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.load()
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return c.save(data)
}

// RemoveAll deletes the collection file entirely.
func (c *Collection) RemoveAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove collection: %w", err)
	}
	return nil
}
