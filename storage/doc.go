// Package storage provides the persistence backends of a library.
//
// A backend stores two things for one library: entry records, keyed by entry
// id and kept in a total order, and blobs, keyed by content-derived blob id.
// Backends do not deduplicate; the library package checks for an existing
// blob before asking a backend to write.
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///srv/libraries/photos?sort=natural
//   - sqlite:///srv/libraries/photos
//   - aws://bucket/table?region=eu-west-1&endpoint=http://localhost:4566
//
// # File Backend
//
// Each entry is a YAML document named <entry_id>.yaml in the Entries
// directory; each blob is a file named by its blob id in the Blobs directory.
// Entry ids are ordered naturally, so e2 sorts before e10. Use sort=lexical
// to order them bytewise.
//
// # SQLite Backend
//
// Entries are JSON values in an entries table of an embedded SQLite database,
// ordered bytewise by primary key. Blobs are files next to the database.
//
// # AWS Backend
//
// Blobs are S3 objects under Libraries/<library_id>/Blobs/<blob_id>. Entries
// are DynamoDB items with hash key library_id and range key entry_id, so
// several libraries can share one table. Static credentials may be embedded
// in the URI as user:password; otherwise the default credential chain is used.
//
// # Atomic Blob Writes
//
// Local backends write a blob to a staging file and rename it into place.
// Readers never see a partial blob, and concurrent writers of the same blob
// leave one complete copy behind.
//
// Example:
//
//	factory := storage.NewStorageBackendFactory(logger)
//	backend, err := factory.BackendForURI("photos", "file:///srv/libraries/photos")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
package storage
