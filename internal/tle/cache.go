package tle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	filePrefix = "gp_"
	basePrefix = "base_"
	fileSuffix = ".json"
)

// ErrCacheEmpty is returned when no usable payload has been cached.
var ErrCacheEmpty = errors.New("no cached catalog payload")

// Cache keeps recent raw catalog payloads on disk so a restart can seed the
// catalog before the first fetch completes. Rolling payloads are named
// gp_<unix ms>.json and pruned to maxFiles. The widest-window payload is
// kept apart as base_<unix ms>.json and only replaced by another base.
// All files are written atomically.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache that stores files in dir and keeps at most maxFiles.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Write stores one payload fetched at ts and prunes files beyond maxFiles.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := c.writeFile(filePrefix, data, ts); err != nil {
		return err
	}
	return c.prune()
}

// WriteBase stores a full-window payload fetched at ts, replacing the
// previous base. Rolling files are left alone.
func (c *Cache) WriteBase(data []byte, ts time.Time) error {
	old, err := c.list(basePrefix)
	if err != nil {
		return err
	}
	if err := c.writeFile(basePrefix, data, ts); err != nil {
		return err
	}
	for _, f := range old {
		if f.ts.Equal(ts) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing old base %s: %w", f.name, err)
		}
	}
	return nil
}

func (c *Cache) writeFile(prefix string, data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	name := prefix + strconv.FormatInt(ts.UnixMilli(), 10) + fileSuffix
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		return fmt.Errorf("publishing cache file: %w", err)
	}
	return nil
}

// LoadLatest returns the newest rolling payload and the time it was fetched.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.files()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrCacheEmpty
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.ts, nil
}

// LoadRows rebuilds the cached catalog: the newest readable base payload,
// then every later rolling payload oldest first, a later row replacing an
// earlier one with the same catalog number. Unreadable files are skipped.
// The returned time is that of the newest payload applied.
func (c *Cache) LoadRows() ([]RawElementRow, time.Time, error) {
	bases, err := c.list(basePrefix)
	if err != nil {
		return nil, time.Time{}, err
	}
	rolling, err := c.files()
	if err != nil {
		return nil, time.Time{}, err
	}

	var (
		errs   []error
		merged []RawElementRow
		index  = make(map[string]int)
		latest time.Time
		used   bool
	)
	apply := func(f cacheFile) bool {
		rows, err := c.readRows(f.name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			return false
		}
		for _, r := range rows {
			if i, ok := index[r.CatalogNumber]; ok {
				merged[i] = r
				continue
			}
			index[r.CatalogNumber] = len(merged)
			merged = append(merged, r)
		}
		latest, used = f.ts, true
		return true
	}

	for i := len(bases) - 1; i >= 0; i-- {
		if apply(bases[i]) {
			break
		}
	}
	for _, f := range rolling {
		if used && !f.ts.After(latest) {
			continue
		}
		apply(f)
	}

	if !used {
		if len(errs) > 0 {
			return nil, time.Time{}, fmt.Errorf("%w: %w", ErrCacheEmpty, errors.Join(errs...))
		}
		return nil, time.Time{}, ErrCacheEmpty
	}
	return merged, latest, nil
}

func (c *Cache) readRows(name string) ([]RawElementRow, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return nil, err
	}
	return ParseRows(data)
}

type cacheFile struct {
	name string
	ts   time.Time
}

// files lists rolling cache files oldest first.
func (c *Cache) files() ([]cacheFile, error) {
	return c.list(filePrefix)
}

// list returns files named prefix<unix ms>.json oldest first. A missing
// directory is an empty cache.
func (c *Cache) list(prefix string) ([]cacheFile, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var out []cacheFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stamp, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, fileSuffix)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, cacheFile{name: e.Name(), ts: time.UnixMilli(ms)})
	}

	slices.SortFunc(out, func(a, b cacheFile) int { return a.ts.Compare(b.ts) })
	return out, nil
}

func (c *Cache) prune() error {
	files, err := c.files()
	if err != nil {
		return err
	}
	for len(files) > c.maxFiles {
		if err := os.Remove(filepath.Join(c.dir, files[0].name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", files[0].name, err)
		}
		files = files[1:]
	}
	return nil
}
