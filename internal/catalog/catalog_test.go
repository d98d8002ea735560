package catalog

import (
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/star/orbitstream/internal/record"
	"github.com/star/orbitstream/internal/tle"
)

func entry(id int, name string) record.Entry {
	return record.Entry{
		Row: tle.RawElementRow{CatalogNumber: strconv.Itoa(id), Name: name},
		Vector: record.SatelliteVector{
			CatalogNumber: id,
			Name:          name,
			TLE:           []string{"0 " + name, "1", "2"},
		},
	}
}

func ids(entries []record.Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.CatalogNumber()
	}
	return out
}

func TestMergeUpsert(t *testing.T) {
	c := New(ModeUpsert)
	t0 := time.UnixMilli(1_700_000_000_000)

	stats := c.Merge([]record.Entry{entry(3, "C"), entry(1, "A")}, t0)
	if stats != (MergeStats{Inserted: 2, Size: 2}) {
		t.Errorf("first merge stats = %+v", stats)
	}

	stats = c.Merge([]record.Entry{entry(1, "A2"), entry(2, "B")}, t0.Add(time.Minute))
	if stats != (MergeStats{Inserted: 1, Updated: 1, Size: 3}) {
		t.Errorf("second merge stats = %+v", stats)
	}

	snap := c.Snapshot()
	if got := ids(snap); !reflect.DeepEqual(got, []int{3, 1, 2}) {
		t.Errorf("order = %v, want [3 1 2]", got)
	}

	e, ok := c.Get(1)
	if !ok || e.Vector.Name != "A2" {
		t.Fatalf("entry 1 not replaced: %+v", e.Vector)
	}
	if !e.Vector.Dirty || e.Vector.LastUpdated != t0.Add(time.Minute).UnixMilli() {
		t.Errorf("bookkeeping: dirty=%v lastUpdated=%d", e.Vector.Dirty, e.Vector.LastUpdated)
	}

	// Entries absent from a later fetch are kept.
	c.Merge([]record.Entry{entry(2, "B")}, t0.Add(2*time.Minute))
	if c.Len() != 3 {
		t.Errorf("upsert removed entries: len=%d", c.Len())
	}
}

func TestMergeIdempotent(t *testing.T) {
	rows := []record.Entry{entry(5, "E"), entry(6, "F"), entry(5, "E")}
	now := time.UnixMilli(1_700_000_000_000)

	once := New(ModeUpsert)
	once.Merge(rows, now)

	twice := New(ModeUpsert)
	twice.Merge(rows, now)
	twice.Merge(rows, now)

	if !reflect.DeepEqual(once.Snapshot(), twice.Snapshot()) {
		t.Error("merging the same rows twice changed the catalog")
	}
	if twice.Len() != 2 {
		t.Errorf("duplicate keys not collapsed: len=%d", twice.Len())
	}
}

func TestMergeReplace(t *testing.T) {
	c := New(ModeReplace)
	now := time.Now()

	c.Merge([]record.Entry{entry(1, "A"), entry(2, "B")}, now)
	stats := c.Merge([]record.Entry{entry(2, "B2"), entry(3, "C")}, now)

	if stats != (MergeStats{Inserted: 1, Updated: 1, Removed: 1, Size: 2}) {
		t.Errorf("stats = %+v", stats)
	}
	if got := ids(c.Snapshot()); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Errorf("order = %v, want [2 3]", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := New("")
	c.Merge([]record.Entry{entry(1, "A")}, time.Now())

	snap := c.Snapshot()
	snap[0].Vector.Name = "mutated"
	snap[0].Vector.TLE[0] = "mutated"

	e, _ := c.Get(1)
	if e.Vector.Name != "A" || e.Vector.TLE[0] != "0 A" {
		t.Errorf("snapshot aliases catalog state: %+v", e.Vector)
	}
}

func TestFlushSnapshotDirtyOnly(t *testing.T) {
	c := New(ModeUpsert)
	now := time.Now()
	c.Merge([]record.Entry{entry(1, "A"), entry(2, "B")}, now)

	first := c.FlushSnapshot(true)
	if len(first) != 2 || !first[0].Vector.Dirty {
		t.Fatalf("first flush = %v", ids(first))
	}
	if c.Stats().Dirty != 2 {
		t.Errorf("snapshot cleared dirty flags before delivery: %+v", c.Stats())
	}
	if got := c.MarkFlushed(first); got != 2 {
		t.Errorf("MarkFlushed cleared %d, want 2", got)
	}

	if got := c.FlushSnapshot(true); len(got) != 0 {
		t.Errorf("clean catalog flushed %v", ids(got))
	}

	c.Merge([]record.Entry{entry(2, "B2")}, now.Add(time.Second))
	if got := ids(c.FlushSnapshot(true)); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("dirty-only flush = %v, want [2]", got)
	}

	// Full flush still returns everything.
	if got := c.FlushSnapshot(false); len(got) != 2 {
		t.Errorf("full flush returned %d entries", len(got))
	}
}

func TestUndeliveredEntriesStayDirty(t *testing.T) {
	c := New(ModeUpsert)
	now := time.Now()
	c.Merge([]record.Entry{entry(1, "A"), entry(2, "B"), entry(3, "C")}, now)

	snap := c.FlushSnapshot(true)
	// Only the first entry was acknowledged.
	c.MarkFlushed(snap[:1])

	if got := ids(c.FlushSnapshot(true)); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Errorf("retry flush = %v, want [2 3]", got)
	}
}

func TestMarkFlushedKeepsNewerMerge(t *testing.T) {
	c := New(ModeUpsert)
	now := time.Now()
	c.Merge([]record.Entry{entry(1, "A")}, now)

	snap := c.FlushSnapshot(true)
	c.Merge([]record.Entry{entry(1, "A2")}, now.Add(time.Second))

	if got := c.MarkFlushed(snap); got != 0 {
		t.Errorf("MarkFlushed cleared %d, want 0", got)
	}
	got := c.FlushSnapshot(true)
	if len(got) != 1 || got[0].Vector.Name != "A2" {
		t.Errorf("newer merge lost: %+v", got)
	}
}

func TestMarkFlushedIgnoresRemoved(t *testing.T) {
	c := New(ModeReplace)
	now := time.Now()
	c.Merge([]record.Entry{entry(1, "A"), entry(2, "B")}, now)
	snap := c.FlushSnapshot(false)
	c.Merge([]record.Entry{entry(2, "B")}, now)

	if got := c.MarkFlushed(snap); got != 1 {
		t.Errorf("MarkFlushed cleared %d, want 1", got)
	}
	if c.Contains(1) {
		t.Error("MarkFlushed resurrected a removed entry")
	}
}

func TestConcurrentMergeAndSnapshot(t *testing.T) {
	c := New(ModeUpsert)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.Merge([]record.Entry{entry(i, "X")}, time.Now())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := c.Snapshot()
			seen := make(map[int]bool, len(snap))
			for _, e := range snap {
				if seen[e.CatalogNumber()] {
					t.Errorf("duplicate key %d in snapshot", e.CatalogNumber())
					return
				}
				seen[e.CatalogNumber()] = true
			}
		}
	}()
	wg.Wait()

	if c.Len() != 200 {
		t.Errorf("len = %d, want 200", c.Len())
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"upsert", "replace"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
	}
	if _, err := ParseMode("append"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
