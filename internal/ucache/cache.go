// Package ucache remembers remote users seen on the network and when they were
// last seen.
package ucache

import (
	"sort"
	"strings"
	"time"
)

// StaleAfter is how long an entry survives without being seen again.
const StaleAfter = 30 * 24 * time.Hour

// UnknownSex marks an entry whose sex/gender code was never announced.
const UnknownSex = -1

// Entry is one remote user.
type Entry struct {
	Name string
	Sex  int
	Time int64
}

// Cache maps lower-cased identities to their entries.
type Cache struct {
	entries map[string]*Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

func key(name string) string {
	return strings.ToLower(name)
}

// Touch records a sighting of name at now. A non-negative sex replaces the
// stored one; UnknownSex leaves it alone.
func (c *Cache) Touch(name string, sex int, now time.Time) {
	if name == "" {
		return
	}
	e, ok := c.entries[key(name)]
	if !ok {
		e = &Entry{Name: name, Sex: UnknownSex}
		c.entries[key(name)] = e
	}
	if sex >= 0 {
		e.Sex = sex
	}
	e.Time = now.Unix()
}

// Put stores e as is, replacing any entry under the same name.
func (c *Cache) Put(e Entry) {
	if e.Name == "" {
		return
	}
	c.entries[key(e.Name)] = &e
}

// Lookup returns the entry for name.
func (c *Cache) Lookup(name string) (Entry, bool) {
	e, ok := c.entries[key(name)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Sex returns the known sex code for name, or UnknownSex.
func (c *Cache) Sex(name string) int {
	if e, ok := c.entries[key(name)]; ok {
		return e.Sex
	}
	return UnknownSex
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Entries returns a copy of every entry sorted by name, case-insensitively.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Name) < key(out[j].Name)
	})
	return out
}

// Prune drops entries that were never stamped or were last seen more than
// StaleAfter before now, and returns how many were removed.
func (c *Cache) Prune(now time.Time) int {
	cutoff := now.Add(-StaleAfter).Unix()
	removed := 0
	for k, e := range c.entries {
		if e.Time <= 0 || e.Time < cutoff {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Merge seeds the cache with entries read from disk. Entries already known at
// runtime win over the disk copy.
func (c *Cache) Merge(disk []Entry) int {
	added := 0
	for _, e := range disk {
		if e.Name == "" {
			continue
		}
		if _, ok := c.entries[key(e.Name)]; ok {
			continue
		}
		e := e
		c.entries[key(e.Name)] = &e
		added++
	}
	return added
}
