package registry

import (
	"errors"
	"maps"
	"slices"

	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/library"
)

// Registry is an immutable set of libraries keyed by id.
type Registry struct {
	libraries map[interfaces.LibraryID]*library.Library
}

// New creates a registry of the given libraries. A later library replaces
// an earlier one with the same id; FromConfig rejects such duplicates.
func New(libs ...*library.Library) *Registry {
	r := &Registry{libraries: make(map[interfaces.LibraryID]*library.Library, len(libs))}
	for _, lib := range libs {
		r.libraries[lib.ID()] = lib
	}
	return r
}

// Library returns the library with the given id.
func (r *Registry) Library(id interfaces.LibraryID) (*library.Library, bool) {
	lib, ok := r.libraries[id]
	return lib, ok
}

// Libraries returns all libraries ordered by id.
func (r *Registry) Libraries() []*library.Library {
	ids := slices.Sorted(maps.Keys(r.libraries))
	libs := make([]*library.Library, len(ids))
	for i, id := range ids {
		libs[i] = r.libraries[id]
	}
	return libs
}

// Len returns the number of libraries.
func (r *Registry) Len() int {
	return len(r.libraries)
}

// Close closes every library's backend.
func (r *Registry) Close() error {
	var errs []error
	for _, lib := range r.Libraries() {
		if err := lib.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
