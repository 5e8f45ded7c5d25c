package compiler

import (
	"strconv"
	"sync"
)

// NameRegistry hands out unit names that are unique for its lifetime. The
// first request for a name gets it unchanged; later requests get name$$2,
// name$$3 and so on.
type NameRegistry struct {
	mu    sync.Mutex
	next  map[string]int
	taken map[string]bool
}

// NewNameRegistry creates an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{next: make(map[string]int), taken: make(map[string]bool)}
}

// DefaultNames is the process-wide registry compilers use unless given
// their own.
var DefaultNames = NewNameRegistry()

// Reserve returns a fresh name derived from base.
func (r *NameRegistry) Reserve(base string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := base
	for n := r.next[base]; ; {
		n++
		if n > 1 {
			name = base + "$$" + strconv.Itoa(n)
		}
		if !r.taken[name] {
			r.next[base] = n
			break
		}
	}
	r.taken[name] = true
	return name
}

// Claim marks names as taken, all or none. It reports false when one of
// them is already taken, leaving the registry unchanged.
func (r *NameRegistry) Claim(names ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if r.taken[name] || seen[name] {
			return false
		}
		seen[name] = true
	}
	for _, name := range names {
		r.taken[name] = true
	}
	return true
}
