// Package content provides implementations of interfaces.Content and the
// streaming helpers shared by the library, storage and download packages.
//
//   - BytesContent: in-memory bytes, used for small payloads and tests.
//   - FileContent: a file on the local filesystem, reopened on every Open.
//   - SpooledContent: bytes captured from a single-pass stream (for example an
//     HTTP response) and hashed while they were buffered. It implements
//     interfaces.PrehashedContent.
//
// Copy streams data in bounded chunks (1 MiB by default) and reports progress
// per chunk; MeasureLength computes the length of content that cannot know it
// up front.
package content
