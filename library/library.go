package library

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/metrics"
)

// Library is the storage facade over a single backend. It owns
// deduplication: blobs are keyed by content and written at most once.
//
// Library is safe for concurrent use when its backend is.
type Library struct {
	id      interfaces.LibraryID
	backend interfaces.Backend
	log     *slog.Logger
	metrics *metrics.Metrics
	spool   content.SpoolOptions
}

// Option configures a Library.
type Option func(*Library)

// WithMetrics records blob writes and dedup hits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Library) { l.metrics = m }
}

// WithSpoolOptions configures buffering for CreateBlobFromReader.
func WithSpoolOptions(opts content.SpoolOptions) Option {
	return func(l *Library) { l.spool = opts }
}

// New creates a library identified by id on top of backend.
func New(id interfaces.LibraryID, backend interfaces.Backend, log *slog.Logger, opts ...Option) *Library {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := &Library{
		id:      id,
		backend: backend,
		log:     log.With(slog.String("library_id", string(id))),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the library identifier.
func (l *Library) ID() interfaces.LibraryID { return l.id }

// Backend returns the backend the library persists to.
func (l *Library) Backend() interfaces.Backend { return l.backend }

// Close closes the backend.
func (l *Library) Close() error { return l.backend.Close() }

func (l *Library) String() string {
	return fmt.Sprintf("<Library %s: %s>", l.id, l.backend.Name())
}

// GetEntry returns the entry stored under id, or nil if there is none.
func (l *Library) GetEntry(ctx context.Context, id interfaces.EntryID) (*interfaces.Entry, error) {
	rec, err := l.backend.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	entry := l.toEntry(*rec)
	return &entry, nil
}

// EntryExists reports whether an entry is stored under id.
func (l *Library) EntryExists(ctx context.Context, id interfaces.EntryID) (bool, error) {
	exists, err := l.backend.EntryExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check entry %s: %w", id, err)
	}
	return exists, nil
}

// GetEntries returns a lazy sequence of entries in backend order. Options
// select a page: WithLimit truncates, After is an exclusive cursor and
// Reverse walks the order backward.
//
// A non-positive limit fails with interfaces.ErrInvalidArgument before any
// backend access.
func (l *Library) GetEntries(ctx context.Context, opts ...QueryOption) (iter.Seq2[interfaces.Entry, error], error) {
	q, err := buildQuery(opts)
	if err != nil {
		return nil, err
	}

	records := l.backend.QueryEntries(ctx, q)
	return func(yield func(interfaces.Entry, error) bool) {
		for rec, err := range records {
			if err != nil {
				yield(interfaces.Entry{}, fmt.Errorf("failed to query entries: %w", err))
				return
			}
			if !yield(l.toEntry(rec), nil) {
				return
			}
		}
	}, nil
}

// PutEntry stores the entry, fully replacing any entry with the same id.
func (l *Library) PutEntry(ctx context.Context, entry interfaces.Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: entry id must not be empty", interfaces.ErrInvalidArgument)
	}
	if err := l.backend.PutEntry(ctx, entry.Record()); err != nil {
		return fmt.Errorf("failed to put entry %s: %w", entry.ID, err)
	}
	l.log.Debug("Put entry",
		slog.String("entry_id", string(entry.ID)),
		slog.Int("blobs", len(entry.Blobs)))
	return nil
}

// DeleteEntry removes the entry. Deleting an absent entry is not an error.
func (l *Library) DeleteEntry(ctx context.Context, id interfaces.EntryID) error {
	if err := l.backend.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	l.log.Debug("Deleted entry", slog.String("entry_id", string(id)))
	return nil
}

// CreateEntry creates a blob for each content in order, then stores an
// entry referencing them. It is not atomic across blobs: a failure part way
// leaves already created blobs behind but no entry.
func (l *Library) CreateEntry(ctx context.Context, id interfaces.EntryID, metadata interfaces.EntryMetadata, contents []interfaces.Content) (*interfaces.Entry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry id must not be empty", interfaces.ErrInvalidArgument)
	}

	blobs := make([]interfaces.Blob, 0, len(contents))
	for _, c := range contents {
		blob, err := l.CreateBlob(ctx, c, nil)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}

	entry := interfaces.Entry{ID: id, Metadata: metadata.Normalize(), Blobs: blobs}
	if err := l.PutEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetBlob returns the blob stored under id, or nil if there is none.
func (l *Library) GetBlob(ctx context.Context, id interfaces.BlobID) (*interfaces.Blob, error) {
	exists, err := l.BlobExists(ctx, id)
	if err != nil || !exists {
		return nil, err
	}
	return &interfaces.Blob{ID: id, Content: l.backend.BlobContent(id)}, nil
}

// BlobExists reports whether a blob is stored under id.
func (l *Library) BlobExists(ctx context.Context, id interfaces.BlobID) (bool, error) {
	exists, err := l.backend.BlobExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w", id, err)
	}
	return exists, nil
}

// CreateBlob stores the content as a blob and returns it.
//
// The blob id is derived from the content. If a blob with that id already
// exists it is returned as is: the content is not read again and progress is
// never called. Otherwise the bytes are written through the backend and
// progress receives the written byte counts.
func (l *Library) CreateBlob(ctx context.Context, c interfaces.Content, progress interfaces.ProgressFunc) (interfaces.Blob, error) {
	start := time.Now()

	id, err := BlobIDFor(c)
	if err != nil {
		return interfaces.Blob{}, err
	}

	exists, err := l.BlobExists(ctx, id)
	if err != nil {
		return interfaces.Blob{}, err
	}
	if exists {
		l.metrics.DedupHit(l.id)
		l.log.Debug("Blob already stored",
			slog.String("blob_id", string(id)),
			slog.Duration("duration", time.Since(start)))
		return interfaces.Blob{ID: id, Content: l.backend.BlobContent(id)}, nil
	}

	if err := l.backend.WriteBlob(ctx, id, c, progress); err != nil {
		return interfaces.Blob{}, fmt.Errorf("failed to write blob %s: %w", id, err)
	}
	l.metrics.BlobWritten(l.id)

	l.log.Debug("Stored blob",
		slog.String("blob_id", string(id)),
		slog.String("backend", l.backend.Name()),
		slog.Duration("duration", time.Since(start)))

	return interfaces.Blob{ID: id, Content: l.backend.BlobContent(id)}, nil
}

// CreateBlobFromReader stores a single-pass stream as a blob. The stream is
// hashed while it is buffered so it is read exactly once.
func (l *Library) CreateBlobFromReader(ctx context.Context, contentType string, r io.Reader, progress interfaces.ProgressFunc) (interfaces.Blob, error) {
	sc, err := content.Spool(contentType, r, nil, l.spool)
	if err != nil {
		return interfaces.Blob{}, fmt.Errorf("failed to buffer content: %w", err)
	}
	defer sc.Release()

	return l.CreateBlob(ctx, sc, progress)
}

func (l *Library) toEntry(rec interfaces.EntryRecord) interfaces.Entry {
	blobs := make([]interfaces.Blob, len(rec.BlobSequence))
	for i, id := range rec.BlobSequence {
		blobs[i] = interfaces.Blob{ID: id, Content: l.backend.BlobContent(id)}
	}
	return interfaces.Entry{
		ID:       rec.EntryID,
		Metadata: rec.Metadata.Normalize(),
		Blobs:    blobs,
	}
}

// CollectEntries drains an entry sequence into a slice.
func CollectEntries(seq iter.Seq2[interfaces.Entry, error]) ([]interfaces.Entry, error) {
	var entries []interfaces.Entry
	for entry, err := range seq {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
