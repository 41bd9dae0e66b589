// Package registry keeps the secret "sources" values captured from API
// responses. The set only grows for the lifetime of the process.
package registry

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Registry is an insertion-ordered, deduplicated set of secret values.
type Registry struct {
	pathMarker string
	pattern    *regexp.Regexp

	mu     sync.RWMutex
	values []string
	seen   map[string]struct{}
}

// New creates a registry that inspects responses whose URL contains
// pathMarker and extracts the first string value of field.
func New(pathMarker, field string) *Registry {
	return &Registry{
		pathMarker: pathMarker,
		pattern:    regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `":"([^"]+)"`),
		seen:       make(map[string]struct{}),
	}
}

// Inspects reports whether responses from url are candidates for capture.
func (r *Registry) Inspects(url string) bool {
	return r.pathMarker != "" && strings.Contains(url, r.pathMarker)
}

// Capture extracts a secret from body when url carries the path marker.
// It returns the extracted value and whether it was new. Bodies without the
// field are ignored.
func (r *Registry) Capture(url, body string) (string, bool) {
	if !r.Inspects(url) {
		return "", false
	}
	m := r.pattern.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], r.Add(m[1])
}

// Add inserts value and reports whether it was not present before.
func (r *Registry) Add(value string) bool {
	if value == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[value]; ok {
		return false
	}
	r.seen[value] = struct{}{}
	r.values = append(r.values, value)
	return true
}

// Contains reports whether value has been captured.
func (r *Registry) Contains(value string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[value]
	return ok
}

// Size returns the number of captured values.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Values returns a snapshot of the captured values in capture order.
func (r *Registry) Values() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.values)
}
