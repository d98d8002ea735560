package tle

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestCachePrunesOldest(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, 2)

	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 4; i++ {
		payload := fmt.Sprintf(`[{"NORAD_CAT_ID":"%d"}]`, 1000+i)
		if err := cache.Write([]byte(payload), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 files after pruning, got %d", len(entries))
	}

	rows, ts, err := cache.LoadRows()
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if !ts.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("latest timestamp = %v", ts)
	}
	if len(rows) != 2 || rows[0].CatalogNumber != "1002" || rows[1].CatalogNumber != "1003" {
		t.Errorf("rows = %+v, want the two surviving payloads merged", rows)
	}
}

func TestCacheMergesBaseWithLaterPayloads(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, 2)

	cold := time.UnixMilli(1_700_000_000_000)
	base := `[{"NORAD_CAT_ID":"1","OBJECT_NAME":"A"},{"NORAD_CAT_ID":"2","OBJECT_NAME":"B"},{"NORAD_CAT_ID":"3","OBJECT_NAME":"C"}]`
	if err := cache.Write([]byte(`[{"NORAD_CAT_ID":"9","OBJECT_NAME":"STALE"}]`), cold.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := cache.WriteBase([]byte(base), cold); err != nil {
		t.Fatal(err)
	}
	// More warm payloads than maxFiles; the base must survive pruning.
	for i := 1; i <= 3; i++ {
		payload := fmt.Sprintf(`[{"NORAD_CAT_ID":"2","OBJECT_NAME":"B%d"}]`, i)
		if err := cache.Write([]byte(payload), cold.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	rows, ts, err := cache.LoadRows()
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if !ts.Equal(cold.Add(3 * time.Hour)) {
		t.Errorf("timestamp = %v, want the newest payload", ts)
	}
	got := make(map[string]string)
	for _, r := range rows {
		got[r.CatalogNumber] = r.Name
	}
	want := map[string]string{"1": "A", "2": "B3", "3": "C"}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for id, name := range want {
		if got[id] != name {
			t.Errorf("row %s name = %q, want %q", id, got[id], name)
		}
	}
}

func TestCacheWriteBaseReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, 5)

	first := time.UnixMilli(1_700_000_000_000)
	if err := cache.WriteBase([]byte(`[{"NORAD_CAT_ID":"1"}]`), first); err != nil {
		t.Fatal(err)
	}
	if err := cache.WriteBase([]byte(`[{"NORAD_CAT_ID":"2"}]`), first.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "base_1700000060000.json" {
		t.Errorf("files = %v", entries)
	}
	rows, _, err := cache.LoadRows()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].CatalogNumber != "2" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestCacheCorruptBaseFallsBackToRolling(t *testing.T) {
	cache := NewCache(t.TempDir(), 5)
	ts := time.UnixMilli(1_700_000_000_000)
	if err := cache.WriteBase([]byte(`[{"NORAD_CAT_ID":`), ts); err != nil {
		t.Fatal(err)
	}
	if err := cache.Write([]byte(`[{"NORAD_CAT_ID":"25544"}]`), ts.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	rows, _, err := cache.LoadRows()
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if len(rows) != 1 || rows[0].CatalogNumber != "25544" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestCacheEmpty(t *testing.T) {
	cache := NewCache(t.TempDir()+"/missing", 0)
	if _, _, err := cache.LoadLatest(); !errors.Is(err, ErrCacheEmpty) {
		t.Errorf("expected ErrCacheEmpty, got %v", err)
	}
}

func TestCacheIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/notes.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/gp_abc.json", []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}

	cache := NewCache(dir, 5)
	if _, _, err := cache.LoadLatest(); !errors.Is(err, ErrCacheEmpty) {
		t.Errorf("expected ErrCacheEmpty, got %v", err)
	}
}

func TestCacheFallsBackPastCorruptPayload(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, 5)

	older := time.UnixMilli(1_700_000_000_000)
	if err := cache.Write([]byte(`[{"NORAD_CAT_ID":"25544"}]`), older); err != nil {
		t.Fatal(err)
	}
	if err := cache.Write([]byte(`[{"NORAD_CAT_ID":`), older.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	rows, ts, err := cache.LoadRows()
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if !ts.Equal(older) || len(rows) != 1 || rows[0].CatalogNumber != "25544" {
		t.Errorf("got %v %+v, want the older payload", ts, rows)
	}
}

func TestCacheAllCorrupt(t *testing.T) {
	cache := NewCache(t.TempDir(), 5)
	if err := cache.Write([]byte("not json"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := cache.LoadRows(); !errors.Is(err, ErrCacheEmpty) {
		t.Errorf("expected ErrCacheEmpty, got %v", err)
	}
}

func TestCacheLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, 5)
	if err := cache.Write([]byte("[]"), time.UnixMilli(1_700_000_000_123)); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "gp_1700000000123.json" {
		t.Errorf("files = %v", entries)
	}
}
