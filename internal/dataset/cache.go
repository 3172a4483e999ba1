// Package dataset builds the in-memory descriptor cache of a dataset
// directory. A Cache is built once at startup and is read-only afterwards, so
// any number of queries may read it concurrently.
package dataset

import (
	"errors"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mattanapol/image_matcher/internal/features"
)

// Entry is the precomputed feature data of one dataset image.
type Entry struct {
	// Name is the file's base name and the cache key.
	Name string

	Path        string
	Keypoints   []features.Keypoint
	Descriptors features.DescriptorSet
}

// HasDescriptors reports whether the entry can take part in matching.
// Featureless images keep their slot but never match.
func (e *Entry) HasDescriptors() bool {
	return e != nil && !features.IsEmpty(e.Descriptors)
}

type Cache struct {
	dir     string
	entries map[string]*Entry
}

// NewCache assembles a cache from ready-made entries. Later entries replace
// earlier ones with the same name.
func NewCache(dir string, entries ...*Entry) *Cache {
	c := &Cache{dir: dir, entries: make(map[string]*Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.Name] = e
	}
	return c
}

// Dir is the directory the cache was built from.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) Get(name string) (*Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Names returns the cache keys in lexical order.
func (c *Cache) Names() []string {
	names := maps.Keys(c.entries)
	slices.Sort(names)
	return names
}

// Entries returns all entries ordered by name.
func (c *Cache) Entries() []*Entry {
	names := c.Names()
	out := make([]*Entry, len(names))
	for i, name := range names {
		out[i] = c.entries[name]
	}
	return out
}

// Usable counts entries that have descriptors.
func (c *Cache) Usable() int {
	n := 0
	for _, e := range c.entries {
		if e.HasDescriptors() {
			n++
		}
	}
	return n
}

// Close releases native descriptor memory. The cache must not be used after.
func (c *Cache) Close() error {
	var errs []error
	for _, e := range c.entries {
		errs = append(errs, features.Release(e.Descriptors))
	}
	c.entries = map[string]*Entry{}
	return errors.Join(errs...)
}
