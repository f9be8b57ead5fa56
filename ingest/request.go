package ingest

import (
	"fmt"
	"strings"

	"github.com/ruteri/sbs/interfaces"
)

// ConflictResolution decides what happens when the target entry of a request
// already exists.
type ConflictResolution int

const (
	// Skip declines the request if the entry exists.
	Skip ConflictResolution = iota
	// Replace always ingests, overwriting the existing entry.
	Replace
	// ReplaceIfMore ingests only when the request has more resources than
	// the existing entry has blobs.
	ReplaceIfMore
)

var conflictResolutionNames = map[ConflictResolution]string{
	Skip:          "Skip",
	Replace:       "Replace",
	ReplaceIfMore: "ReplaceIfMore",
}

func (c ConflictResolution) String() string {
	if name, ok := conflictResolutionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ConflictResolution(%d)", int(c))
}

// ParseConflictResolution parses a policy name case-insensitively. An empty
// name selects Skip.
func ParseConflictResolution(name string) (ConflictResolution, error) {
	if strings.TrimSpace(name) == "" {
		return Skip, nil
	}
	for c, n := range conflictResolutionNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return Skip, fmt.Errorf("%w: unknown conflict resolution %q", interfaces.ErrInvalidArgument, name)
}

func (c ConflictResolution) MarshalText() ([]byte, error) {
	if _, ok := conflictResolutionNames[c]; !ok {
		return nil, fmt.Errorf("%w: unknown conflict resolution %d", interfaces.ErrInvalidArgument, int(c))
	}
	return []byte(c.String()), nil
}

func (c *ConflictResolution) UnmarshalText(text []byte) error {
	parsed, err := ParseConflictResolution(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Resource is a remote resource to download into one blob.
type Resource struct {
	URL string `json:"url"`
	// ContentType overrides the type reported by the remote server.
	ContentType string `json:"content_type,omitempty"`
}

// Request asks for an entry to be assembled from remote resources. The blob
// sequence of the resulting entry follows the order of Resources.
type Request struct {
	LibraryID          interfaces.LibraryID
	EntryID            interfaces.EntryID
	Metadata           interfaces.EntryMetadata
	ConflictResolution ConflictResolution
	Resources          []Resource
}

// Validate checks that the request names its target and that every resource
// has a URL. A request without resources is valid and yields an entry with
// no blobs.
func (r Request) Validate() error {
	switch {
	case r.LibraryID == "":
		return fmt.Errorf("%w: library id must not be empty", interfaces.ErrInvalidArgument)
	case r.EntryID == "":
		return fmt.Errorf("%w: entry id must not be empty", interfaces.ErrInvalidArgument)
	}
	if _, ok := conflictResolutionNames[r.ConflictResolution]; !ok {
		return fmt.Errorf("%w: unknown conflict resolution %d", interfaces.ErrInvalidArgument, int(r.ConflictResolution))
	}
	for i, res := range r.Resources {
		if strings.TrimSpace(res.URL) == "" {
			return fmt.Errorf("%w: resource %d has no url", interfaces.ErrInvalidArgument, i)
		}
	}
	return nil
}
