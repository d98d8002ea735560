// Package catalog holds the cumulative set of records keyed by catalog
// number. The fetch path merges into it, the flush path reads snapshots.
package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/star/orbitstream/internal/record"
)

// Mode selects how a fetch result is merged.
type Mode string

const (
	// ModeUpsert inserts new keys and replaces existing ones. Nothing is removed.
	ModeUpsert Mode = "upsert"
	// ModeReplace swaps the whole catalog for the fetched set.
	ModeReplace Mode = "replace"
)

// ParseMode validates a configured merge mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUpsert, ModeReplace:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown merge mode %q (want upsert or replace)", s)
	}
}

// MergeStats reports the effect of one Merge.
type MergeStats struct {
	Inserted int
	Updated  int
	Removed  int
	Size     int
}

// Stats is a point-in-time summary of the catalog.
type Stats struct {
	Size      int       `json:"size"`
	Dirty     int       `json:"dirty"`
	Merges    int       `json:"merges"`
	LastMerge time.Time `json:"last_merge"`
	Mode      Mode      `json:"mode"`
}

// Catalog is safe for concurrent use. Iteration follows first-insertion order.
type Catalog struct {
	mu        sync.RWMutex
	mode      Mode
	entries   map[int]record.Entry
	order     []int
	merges    int
	lastMerge time.Time
}

// New creates an empty catalog. An empty mode means ModeUpsert.
func New(mode Mode) *Catalog {
	if mode == "" {
		mode = ModeUpsert
	}
	return &Catalog{
		mode:    mode,
		entries: make(map[int]record.Entry),
	}
}

// Mode returns the merge mode.
func (c *Catalog) Mode() Mode {
	return c.mode
}

// Merge writes entries keyed by catalog number, marking each dirty and
// stamping it with now. A later duplicate in the same call wins.
func (c *Catalog) Merge(entries []record.Entry, now time.Time) MergeStats {
	stamp := now.UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	var stats MergeStats
	if c.mode == ModeReplace {
		previous := c.entries
		c.entries = make(map[int]record.Entry, len(entries))
		c.order = c.order[:0]
		for _, e := range entries {
			id := e.CatalogNumber()
			if _, seen := c.entries[id]; !seen {
				c.order = append(c.order, id)
				if _, existed := previous[id]; existed {
					stats.Updated++
				} else {
					stats.Inserted++
				}
			}
			c.entries[id] = stamped(e, stamp)
		}
		for id := range previous {
			if _, ok := c.entries[id]; !ok {
				stats.Removed++
			}
		}
	} else {
		for _, e := range entries {
			id := e.CatalogNumber()
			if _, ok := c.entries[id]; ok {
				stats.Updated++
			} else {
				c.order = append(c.order, id)
				stats.Inserted++
			}
			c.entries[id] = stamped(e, stamp)
		}
	}

	c.merges++
	c.lastMerge = now
	stats.Size = len(c.entries)
	return stats
}

func stamped(e record.Entry, stamp int64) record.Entry {
	e = e.Clone()
	e.Vector.Dirty = true
	e.Vector.LastUpdated = stamp
	return e
}

// Snapshot returns a copy of every entry in insertion order.
func (c *Catalog) Snapshot() []record.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]record.Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].Clone())
	}
	return out
}

// FlushSnapshot returns a copy of the entries to publish. With dirtyOnly
// only entries merged since their last acknowledged flush are returned.
// Dirty flags are left set until MarkFlushed confirms delivery.
func (c *Catalog) FlushSnapshot(dirtyOnly bool) []record.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]record.Entry, 0, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		if dirtyOnly && !e.Vector.Dirty {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// MarkFlushed clears the dirty flag of each delivered entry whose stored
// LastUpdated still matches the delivered copy. An entry merged again
// after the snapshot was taken stays dirty. It returns the number cleared.
func (c *Catalog) MarkFlushed(delivered []record.Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cleared int
	for _, d := range delivered {
		id := d.CatalogNumber()
		e, ok := c.entries[id]
		if !ok || !e.Vector.Dirty || e.Vector.LastUpdated != d.Vector.LastUpdated {
			continue
		}
		e.Vector.Dirty = false
		c.entries[id] = e
		cleared++
	}
	return cleared
}

// Get returns a copy of the entry for id.
func (c *Catalog) Get(id int) (record.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return record.Entry{}, false
	}
	return e.Clone(), true
}

// Contains reports whether id is in the catalog.
func (c *Catalog) Contains(id int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a summary of the catalog.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirty := 0
	for _, e := range c.entries {
		if e.Vector.Dirty {
			dirty++
		}
	}
	return Stats{
		Size:      len(c.entries),
		Dirty:     dirty,
		Merges:    c.merges,
		LastMerge: c.lastMerge,
		Mode:      c.mode,
	}
}
