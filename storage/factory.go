package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/sbs/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{
		log: logger,
	}
}

// BackendForURI parses the URI and creates the backend for the library.
func (sf *StorageBackendFactory) BackendForURI(libraryID interfaces.LibraryID, uri string) (interfaces.Backend, error) {
	loc, err := interfaces.NewBackendLocation(uri)
	if err != nil {
		return nil, err
	}
	return sf.BackendFor(libraryID, loc)
}

// BackendFor creates a storage backend from a location.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - YAML entry files and blob files in a local directory
//   - sqlite:// - Embedded SQLite entries database and blob files
//   - aws:// - S3 blobs and DynamoDB entries
//
// The library id partitions shared remote storage; local backends own their
// directory and ignore it.
func (sf *StorageBackendFactory) BackendFor(libraryID interfaces.LibraryID, loc interfaces.BackendLocation) (interfaces.Backend, error) {
	switch {
	case loc.IsFile():
		return sf.createFileBackend(loc)
	case loc.IsSQLite():
		return sf.createSQLiteBackend(loc)
	case loc.IsAWS():
		return sf.createAWSBackend(libraryID, loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path?sort=natural&entries=Entries&blobs=Blobs
// or file://./relative/path. Entry ids sort naturally unless sort=lexical.
func (sf *StorageBackendFactory) createFileBackend(loc interfaces.BackendLocation) (interfaces.Backend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", loc.String()))

	path := loc.LocalPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	cfg := FileBackendConfig{
		EntriesDir: loc.GetParam("entries"),
		BlobsDir:   loc.GetParam("blobs"),
	}
	switch strings.ToLower(loc.GetParam("sort")) {
	case "", "natural":
		cfg.Less = NaturalLess
	case "lexical":
		cfg.Less = LexicalLess
	default:
		return nil, fmt.Errorf("%w: unknown sort order %q", interfaces.ErrInvalidLocationURI, loc.GetParam("sort"))
	}

	return NewFileBackend(path, cfg, sf.log)
}

// createSQLiteBackend creates an embedded database backend.
// URI format: sqlite:///absolute/path or sqlite://./relative/path
func (sf *StorageBackendFactory) createSQLiteBackend(loc interfaces.BackendLocation) (interfaces.Backend, error) {
	sf.log.Debug("Creating sqlite backend", slog.String("uri", loc.String()))

	path := loc.LocalPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in sqlite URI: %s", interfaces.ErrInvalidLocationURI, loc.String())
	}
	return NewSQLiteBackend(path, sf.log)
}

// createAWSBackend creates an S3 + DynamoDB storage backend.
// URI format: aws://[ACCESS_KEY:SECRET_KEY@]bucket/table?region=us-west-2&endpoint=http://localhost:4566&prefix=Libraries
func (sf *StorageBackendFactory) createAWSBackend(libraryID interfaces.LibraryID, loc interfaces.BackendLocation) (interfaces.Backend, error) {
	sf.log.Debug("Creating AWS backend", slog.String("bucket", loc.Host))

	cfg := AWSConfig{
		Bucket:    loc.Host,
		Table:     strings.Trim(loc.Path, "/"),
		KeyPrefix: loc.GetParam("prefix"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
	}
	if cfg.Bucket == "" || cfg.Table == "" || strings.Contains(cfg.Table, "/") {
		return nil, fmt.Errorf("%w: expected aws://bucket/table, got %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	if loc.Auth != nil {
		cfg.AccessKey = loc.Auth.Username()
		cfg.SecretKey, _ = loc.Auth.Password()
		sf.log.Debug("Using embedded credentials")
	} else {
		sf.log.Debug("No credentials in URI, using the default credential chain")
	}

	return NewAWSBackend(libraryID, cfg, sf.log)
}
