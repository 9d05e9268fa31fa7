// Package drivers holds the pluggable path resolvers the backend calls into
// to satisfy navigation requests: local filesystem, FTP and SFTP. Drivers
// are tried in registration order, first match wins.
package drivers

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoDriver is returned when no registered driver claims a path.
	ErrNoDriver = errors.New("no driver matches path")

	// ErrAuthRequired signals that the matching driver needs credentials.
	// It is distinct from a generic lookup failure so clients can prompt
	// instead of showing an error.
	ErrAuthRequired = errors.New("authentication required")
)

// Listing is the result of a directory lookup.
type Listing struct {
	Files   []string       `json:"files"`
	Dirs    []string       `json:"dirs"`
	Details map[string]any `json:"details,omitempty"`
}

// Driver resolves paths of one class (local, ftp://, sftp://, ...).
type Driver interface {
	Name() string
	Matches(path string) bool
	Lookup(ctx context.Context, path string) (Listing, error)
}

// Registry is an ordered driver list.
type Registry struct {
	drivers []Driver
}

func NewRegistry(drivers ...Driver) *Registry {
	return &Registry{drivers: drivers}
}

// Resolve returns the first driver claiming path.
func (r *Registry) Resolve(path string) (Driver, bool) {
	for _, d := range r.drivers {
		if d.Matches(path) {
			return d, true
		}
	}
	return nil, false
}

// Lookup dispatches path to the first matching driver.
func (r *Registry) Lookup(ctx context.Context, path string) (Listing, error) {
	d, ok := r.Resolve(path)
	if !ok {
		return Listing{}, fmt.Errorf("%w: %q", ErrNoDriver, path)
	}
	return d.Lookup(ctx, path)
}
