// Package interfaces defines the core interfaces and types for the sequenced
// blob storage system. It provides the contract between different components
// without implementation details.
package interfaces

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// LibraryID identifies a library within a registry.
type LibraryID string

// EntryID is the caller-supplied identifier of an entry. It is unique per
// library and is the sort and pagination key for entry listings.
type EntryID string

// BlobID identifies a blob by its content: the lowercase hex SHA-1 digest of
// the bytes followed by the file extension inferred from the MIME type.
type BlobID string

// String returns the identifier as a plain string.
func (id LibraryID) String() string { return string(id) }

// String returns the identifier as a plain string.
func (id EntryID) String() string { return string(id) }

// String returns the identifier as a plain string.
func (id BlobID) String() string { return string(id) }

// Hash returns the hex digest part of the blob identifier.
func (id BlobID) Hash() string {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Extension returns the extension part of the blob identifier, including the
// leading dot, or an empty string.
func (id BlobID) Extension() string {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[i:]
	}
	return ""
}

// Validate checks that the blob identifier is a 40-character hex digest with
// an optional extension and no path separators.
func (id BlobID) Validate() error {
	hash := id.Hash()
	if len(hash) != 40 {
		return fmt.Errorf("%w: blob id %q must start with a 40 character sha1 digest", ErrInvalidArgument, string(id))
	}
	for _, c := range hash {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return fmt.Errorf("%w: blob id %q digest must be lowercase hex", ErrInvalidArgument, string(id))
		}
	}
	if strings.ContainsAny(string(id), `/\`) {
		return fmt.Errorf("%w: blob id %q must not contain path separators", ErrInvalidArgument, string(id))
	}
	return nil
}

// DefaultContentType is used when a content source does not declare a type.
const DefaultContentType = "binary/octet-stream"

// Content is a typed, length-bearing byte stream.
//
// Every call to Open is an independent acquisition of the body; the caller
// owns the returned reader and must close it on every exit path.
type Content interface {
	// Type returns the MIME type of the content.
	Type() string

	// Open acquires the body of the content.
	Open() (io.ReadCloser, error)

	// Length returns the number of bytes readable from the body.
	Length() (int64, error)
}

// PrehashedContent is content whose SHA-1 digest is already known, typically
// because it was computed while the bytes were downloaded. The dedup engine
// uses the digest directly instead of reading the body again.
type PrehashedContent interface {
	Content

	// SHA1 returns the lowercase hex SHA-1 digest of the body.
	SHA1() string
}

// ProgressFunc receives incremental byte counts as data is copied.
type ProgressFunc func(n int64)

// Blob is an immutable, content-addressed byte payload.
type Blob struct {
	ID      BlobID
	Content Content
}

// EntryMetadata holds free-form attributes and a set of tags.
type EntryMetadata struct {
	Attributes map[string]string `json:"attributes" yaml:"attributes" dynamodbav:"attributes"`
	Tags       []string          `json:"tags" yaml:"tags" dynamodbav:"tags"`
}

// NewEntryMetadata creates metadata with normalized tags.
func NewEntryMetadata(attributes map[string]string, tags ...string) EntryMetadata {
	md := EntryMetadata{Attributes: attributes, Tags: tags}
	return md.Normalize()
}

// Normalize returns a copy with non-nil attributes and a sorted,
// de-duplicated tag set. The serialized form of metadata is always
// normalized so that it is deterministic.
func (md EntryMetadata) Normalize() EntryMetadata {
	attrs := make(map[string]string, len(md.Attributes))
	for k, v := range md.Attributes {
		attrs[k] = v
	}
	tags := slices.Clone(md.Tags)
	slices.Sort(tags)
	tags = slices.Compact(tags)
	if tags == nil {
		tags = []string{}
	}
	return EntryMetadata{Attributes: attrs, Tags: tags}
}

// HasTag reports whether the tag is in the tag set.
func (md EntryMetadata) HasTag(tag string) bool {
	return slices.Contains(md.Tags, tag)
}

// Entry is a named, ordered collection of blobs plus metadata.
type Entry struct {
	ID       EntryID
	Metadata EntryMetadata
	Blobs    []Blob
}

// BlobIDs returns the identifiers of the entry's blob sequence in order.
func (e Entry) BlobIDs() []BlobID {
	ids := make([]BlobID, len(e.Blobs))
	for i, b := range e.Blobs {
		ids[i] = b.ID
	}
	return ids
}

// Record returns the persisted form of the entry.
func (e Entry) Record() EntryRecord {
	return EntryRecord{
		EntryID:      e.ID,
		Metadata:     e.Metadata.Normalize(),
		BlobSequence: e.BlobIDs(),
	}
}

// EntryRecord is the form in which backends persist an entry: the blob
// sequence is stored by identifier only.
type EntryRecord struct {
	EntryID      EntryID       `json:"entry_id" yaml:"entry_id" dynamodbav:"entry_id"`
	Metadata     EntryMetadata `json:"metadata" yaml:"metadata" dynamodbav:"metadata"`
	BlobSequence []BlobID      `json:"blob_sequence" yaml:"blob_sequence" dynamodbav:"blob_sequence"`
}

// EntryQuery selects a page of entries in backend order.
type EntryQuery struct {
	// Limit caps the number of entries returned. Zero means no limit.
	Limit int

	// After is an exclusive cursor: results start strictly after this
	// entry id in the walking direction. Empty means from the start.
	After EntryID

	// Reverse walks the order backward.
	Reverse bool
}
