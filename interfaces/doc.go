// Package interfaces defines core interfaces and types for the sequenced blob
// storage system, separating interface definitions from implementations.
//
// # Content and Blobs
//
// Content: a typed, length-bearing byte stream that can be opened one or more
// times. PrehashedContent additionally carries the SHA-1 digest of its body so
// that the dedup engine does not have to read it again.
//
// Blob: an immutable payload identified by a BlobID derived from its bytes and
// MIME type:
//
//	<lowercase hex sha1><extension>   e.g. feb78a44d55c9169801cf606cd6041ad9a5f69c9.png
//
// # Entries
//
// Entry: a named, ordered sequence of blobs plus EntryMetadata (attributes and
// tags). Backends persist entries as EntryRecord, which references blobs by id.
//
// # Storage Interfaces
//
// Backend: durable entry and blob persistence for one library. Implementations
// live in the storage package (file, sqlite, aws). Backends must expose a total
// order over entry ids and honor the exclusive cursor of EntryQuery.
//
// BackendLocation: a parsed backend URI:
//
//	file:///var/lib/sbs/Colors
//	sqlite:///var/lib/sbs/Archive
//	aws://bucket-name/table-name?region=us-east-1
//
// # Errors
//
// Absent reads are not errors and are reported as nil results. ErrInvalidArgument,
// ErrBackendFailure, ErrLibraryNotFound and ErrInvalidLocationURI are the
// sentinel errors callers branch on with errors.Is.
package interfaces
