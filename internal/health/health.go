package health

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Check reports whether one dependency is ready.
type Check func() bool

// Checker aggregates named readiness checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker creates an empty Checker. With no checks registered it is ready.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Add registers or replaces the check for name.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Pending returns the sorted names of checks that are not ready.
func (c *Checker) Pending() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pending []string
	for name, check := range c.checks {
		if !check() {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

// Readyz returns 200 "ready\n" once every check passes, otherwise 503 with
// the pending check names.
func (c *Checker) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if pending := c.Pending(); len(pending) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: " + strings.Join(pending, ", ") + "\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
