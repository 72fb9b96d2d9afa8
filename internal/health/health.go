// Package health tracks one boolean per failure category. The flags are
// a diagnostic signal for supervisors, not a correctness gate: each flag
// is set independently and readers may observe a torn view across
// distinct flags.
package health

import "sync/atomic"

// Flag names one tracked failure category.
type Flag int

const (
	// Transport is false after a connection-level failure (refused,
	// TLS handshake, DNS).
	Transport Flag = iota
	// API is false after the service answered with status >= 400.
	API
	// Token is false when the bearer token is missing or was rejected
	// with 401.
	Token
	// Internet is false after a generic request failure (timeout or
	// anything not clearly connection-level).
	Internet

	flagCount
)

var flagNames = [flagCount]string{"TRANSPORT", "API", "TOKEN", "INTERNET"}

func (f Flag) String() string {
	if f < 0 || f >= flagCount {
		return "UNKNOWN"
	}
	return flagNames[f]
}

// Registry holds the flags. A single Registry handle is injected into
// every component that reports or reads health; there is no process
// global.
type Registry struct {
	flags [flagCount]atomic.Bool
}

// NewRegistry starts with every flag healthy except Token, which only
// becomes healthy once a token is actually known.
func NewRegistry() *Registry {
	r := &Registry{}
	r.flags[Transport].Store(true)
	r.flags[API].Store(true)
	r.flags[Internet].Store(true)
	return r
}

// Set records the current status of one category.
func (r *Registry) Set(f Flag, ok bool) {
	r.flags[f].Store(ok)
}

// Get reads one category.
func (r *Registry) Get(f Flag) bool {
	return r.flags[f].Load()
}

// Aggregate is the AND of all flags: the device is healthy only when
// every category is.
func (r *Registry) Aggregate() bool {
	for i := range r.flags {
		if !r.flags[i].Load() {
			return false
		}
	}
	return true
}
