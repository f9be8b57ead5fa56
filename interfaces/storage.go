package interfaces

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"
)

var (
	// ErrInvalidArgument is returned for malformed requests, such as a
	// non-positive pagination limit or an unusable identifier.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackendFailure wraps failures of the underlying storage medium.
	// These are always surfaced to the caller and never retried by the
	// storage layer.
	ErrBackendFailure = errors.New("storage backend failure")

	// ErrLibraryNotFound is returned when a library id is not registered.
	ErrLibraryNotFound = errors.New("library not found")

	// ErrInvalidLocationURI is returned when a backend location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// Backend provides durable entry and blob persistence for a single library.
//
// Backends preserve a total order over entry ids and the exclusive-cursor
// semantics of EntryQuery. They never deduplicate blobs: that is owned by the
// library. A read that finds nothing returns an absent result, not an error;
// every other failure of the medium is returned.
type Backend interface {
	// GetEntry returns the stored entry record, or nil if absent.
	GetEntry(ctx context.Context, id EntryID) (*EntryRecord, error)

	// EntryExists reports whether an entry is stored under the id.
	EntryExists(ctx context.Context, id EntryID) (bool, error)

	// QueryEntries lazily yields entry records in backend order.
	QueryEntries(ctx context.Context, q EntryQuery) iter.Seq2[EntryRecord, error]

	// PutEntry stores the record, replacing any existing record with the same id.
	PutEntry(ctx context.Context, rec EntryRecord) error

	// DeleteEntry removes the entry. Removing an absent entry is not an error.
	DeleteEntry(ctx context.Context, id EntryID) error

	// BlobContent returns a handle to a stored blob's bytes. No I/O happens
	// until the content is opened.
	BlobContent(id BlobID) Content

	// BlobExists reports whether a blob is stored under the id.
	BlobExists(ctx context.Context, id BlobID) (bool, error)

	// WriteBlob persists the content's bytes under the id, reporting
	// written byte counts to progress. Concurrent writes of the same id must
	// leave a complete object behind.
	WriteBlob(ctx context.Context, id BlobID, c Content, progress ProgressFunc) error

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string

	// Close releases resources held by the backend.
	Close() error
}

// BackendLocation represents URI for storage backend.
type BackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   *url.Userinfo
}

// NewBackendLocation creates a new storage location from a URI string with validation.
func NewBackendLocation(uri string) (BackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "sqlite", "aws":
	default:
		return BackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return BackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc BackendLocation) String() string {
	return loc.Raw
}

// IsFile checks if this is a file system storage location.
func (loc BackendLocation) IsFile() bool {
	return loc.Scheme == "file"
}

// IsSQLite checks if this is an embedded SQLite storage location.
func (loc BackendLocation) IsSQLite() bool {
	return loc.Scheme == "sqlite"
}

// IsAWS checks if this is an S3 + DynamoDB storage location.
func (loc BackendLocation) IsAWS() bool {
	return loc.Scheme == "aws"
}

// GetParam returns a query parameter value.
func (loc BackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// LocalPath returns the filesystem path of a file:// or sqlite:// location.
// Both file:///abs/path and file://./relative/path forms are accepted.
func (loc BackendLocation) LocalPath() string {
	if loc.Host == "" {
		return loc.Path
	}
	return loc.Host + "/" + strings.TrimPrefix(loc.Path, "/")
}
