package library

import (
	"fmt"

	"github.com/ruteri/sbs/interfaces"
)

// QueryOption selects a page of entries for GetEntries.
type QueryOption func(*queryOptions)

type queryOptions struct {
	query    interfaces.EntryQuery
	hasLimit bool
}

// WithLimit returns at most n entries. n must be positive.
func WithLimit(n int) QueryOption {
	return func(o *queryOptions) {
		o.query.Limit = n
		o.hasLimit = true
	}
}

// After starts the listing strictly after the given entry id.
func After(id interfaces.EntryID) QueryOption {
	return func(o *queryOptions) { o.query.After = id }
}

// Reverse walks the entry order backward.
func Reverse() QueryOption {
	return func(o *queryOptions) { o.query.Reverse = true }
}

// Reversed walks the order backward when reverse is true.
func Reversed(reverse bool) QueryOption {
	return func(o *queryOptions) { o.query.Reverse = reverse }
}

func buildQuery(opts []QueryOption) (interfaces.EntryQuery, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasLimit && o.query.Limit <= 0 {
		return interfaces.EntryQuery{}, fmt.Errorf("%w: limit must be positive, got %d", interfaces.ErrInvalidArgument, o.query.Limit)
	}
	return o.query, nil
}
