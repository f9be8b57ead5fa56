package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/sbs/download"
	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/library"
	"github.com/ruteri/sbs/metrics"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the default number of concurrent downloads.
const DefaultWorkers = 100

// LibraryLookup resolves library ids. registry.Registry implements it.
type LibraryLookup interface {
	Library(id interfaces.LibraryID) (*library.Library, bool)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Libraries LibraryLookup
	Fetcher   download.Fetcher

	// Store records ingestions. Defaults to an unbounded store.
	Store *Store

	// Workers bounds the number of downloads processed concurrently
	// across all ingestions. Defaults to DefaultWorkers.
	Workers int

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Coordinator accepts ingestion requests and assembles entries from remote
// resources in the background.
type Coordinator struct {
	libraries LibraryLookup
	fetcher   download.Fetcher
	store     *Store
	log       *slog.Logger
	metrics   *metrics.Metrics

	// ctx is used for all background work. In-flight ingestions are not
	// cancelled; Wait lets them finish.
	ctx     context.Context
	workers *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Libraries == nil {
		return nil, errors.New("coordinator requires a library lookup")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("coordinator requires a fetcher")
	}
	if cfg.Store == nil {
		cfg.Store = NewStore(0)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Coordinator{
		libraries: cfg.Libraries,
		fetcher:   cfg.Fetcher,
		store:     cfg.Store,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		ctx:       context.Background(),
		workers:   semaphore.NewWeighted(int64(cfg.Workers)),
	}, nil
}

// Store returns the record store.
func (c *Coordinator) Store() *Store { return c.store }

// Submit validates the request and decides whether to ingest it.
//
// A malformed request or an unknown library fails with
// interfaces.ErrInvalidArgument. A request is declined, returning a nil
// record and no error, when another ingestion of the same entry is in
// flight or when its conflict resolution rejects the existing entry.
// Otherwise the record is returned immediately while downloads continue in
// the background. If the existing entry cannot be read, the returned record
// is already Failed.
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lib, ok := c.libraries.Library(req.LibraryID)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", interfaces.ErrInvalidArgument, interfaces.ErrLibraryNotFound, req.LibraryID)
	}
	req.Metadata = req.Metadata.Normalize()

	log := c.log.With(
		slog.String("library_id", string(req.LibraryID)),
		slog.String("entry_id", string(req.EntryID)))

	if _, inFlight := c.store.InFlight(req.LibraryID, req.EntryID); inFlight {
		log.Info("Skipping ingestion: another ingestion for that entry is currently working")
		return nil, nil
	}

	proceed, reason, err := CheckConflict(ctx, lib, req.EntryID, req.ConflictResolution, len(req.Resources))
	if err != nil {
		log.Error("Failed to check for conflicting entry", "err", err)
		return c.beginFailed(req, log), nil
	}
	if !proceed {
		log.Info("Skipping ingestion: " + reason)
		return nil, nil
	}

	rec := newRecord(req)
	if !c.store.TryBegin(rec) {
		log.Info("Skipping ingestion: another ingestion for that entry is currently working")
		return nil, nil
	}

	log.Info("Starting ingestion",
		slog.String("record_id", rec.ID.String()),
		slog.Int("resources", len(req.Resources)))
	c.metrics.IngestionStarted()

	c.wg.Add(1)
	go c.run(lib, req, rec, log)

	return rec, nil
}

// beginFailed records an ingestion that could not start. Its downloads stay
// Initialized. It returns nil when another ingestion of the entry got in
// first.
func (c *Coordinator) beginFailed(req Request, log *slog.Logger) *Record {
	rec := newRecord(req)
	if !c.store.TryBegin(rec) {
		log.Info("Skipping ingestion: another ingestion for that entry is currently working")
		return nil
	}
	c.metrics.IngestionStarted()
	c.store.finish(rec, RecordFailed)
	c.metrics.IngestionFinished(string(RecordFailed))
	log.Info("Finished ingestion",
		slog.String("record_id", rec.ID.String()),
		slog.String("state", string(RecordFailed)))
	return rec
}

// Wait blocks until every accepted ingestion has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// CheckConflict applies a conflict resolution policy to an entry about to be
// written with the given number of blobs. It reports whether to proceed and,
// when not, why.
func CheckConflict(ctx context.Context, lib *library.Library, id interfaces.EntryID, cr ConflictResolution, blobs int) (bool, string, error) {
	switch cr {
	case Skip:
		exists, err := lib.EntryExists(ctx, id)
		if err != nil {
			return false, "", err
		}
		if exists {
			return false, "entry already exists and conflict resolution is Skip", nil
		}
	case ReplaceIfMore:
		existing, err := lib.GetEntry(ctx, id)
		if err != nil {
			return false, "", err
		}
		if existing != nil && len(existing.Blobs) >= blobs {
			return false, "entry already exists with as many blobs and conflict resolution is ReplaceIfMore", nil
		}
	}
	return true, "", nil
}

func (c *Coordinator) run(lib *library.Library, req Request, rec *Record, log *slog.Logger) {
	defer c.wg.Done()
	start := time.Now()

	blobs := make([]*interfaces.Blob, len(req.Resources))
	var downloads sync.WaitGroup
	for i, res := range req.Resources {
		if err := c.workers.Acquire(c.ctx, 1); err != nil {
			c.failDownload(rec, rec.Downloads[i], log, err)
			continue
		}
		downloads.Add(1)
		go func() {
			defer downloads.Done()
			defer c.workers.Release(1)
			blobs[i] = c.downloadResource(lib, res, rec, rec.Downloads[i], log)
		}()
	}
	downloads.Wait()

	state := c.complete(lib, req, rec, blobs, log)
	c.store.finish(rec, state)
	c.metrics.IngestionFinished(string(state))

	log.Info("Finished ingestion",
		slog.String("record_id", rec.ID.String()),
		slog.String("state", string(state)),
		slog.Duration("duration", time.Since(start)))
}

// complete writes the entry once every download has finished.
func (c *Coordinator) complete(lib *library.Library, req Request, rec *Record, blobs []*interfaces.Blob, log *slog.Logger) RecordState {
	if rec.State() == RecordFailed {
		log.Error("Failed to put entry: one or more downloads failed")
		return RecordFailed
	}

	sequence := make([]interfaces.Blob, 0, len(blobs))
	for _, b := range blobs {
		if b != nil {
			sequence = append(sequence, *b)
		}
	}

	entry := interfaces.Entry{ID: req.EntryID, Metadata: req.Metadata, Blobs: sequence}
	if err := lib.PutEntry(c.ctx, entry); err != nil {
		log.Error("Failed to put entry", "err", err)
		return RecordFailed
	}
	log.Info("Put entry successfully", slog.Int("blobs", len(sequence)))
	return RecordSuccess
}

// downloadResource fetches one resource and stores it as a blob. Failures
// mark the download and the record Failed; they are not retried.
func (c *Coordinator) downloadResource(lib *library.Library, res Resource, rec *Record, status *DownloadStatus, log *slog.Logger) *interfaces.Blob {
	resp, err := c.fetcher.Fetch(c.ctx, res.URL)
	if err != nil {
		c.failDownload(rec, status, log, err)
		return nil
	}
	if res.ContentType != "" {
		resp.ContentType = res.ContentType
	}

	status.setContentLength(resp.ContentLength)
	status.setState(DownloadDownloading)
	sc, err := resp.ReadContent(status.addDownloaded)
	if err != nil {
		c.failDownload(rec, status, log, err)
		return nil
	}
	defer func() {
		if err := sc.Release(); err != nil {
			log.Warn("Failed to release spooled content", "err", err, slog.String("url", res.URL))
		}
	}()

	status.setState(DownloadWriting)
	blob, err := lib.CreateBlob(c.ctx, sc, status.addWritten)
	if err != nil {
		c.failDownload(rec, status, log, err)
		return nil
	}

	status.setState(DownloadSuccess)
	c.metrics.DownloadFinished(string(DownloadSuccess))
	log.Debug("Downloaded content and stored it as a blob",
		slog.String("url", res.URL),
		slog.String("blob_id", string(blob.ID)))
	return &blob
}

func (c *Coordinator) failDownload(rec *Record, status *DownloadStatus, log *slog.Logger, err error) {
	status.setState(DownloadFailed)
	rec.fail()
	c.metrics.DownloadFinished(string(DownloadFailed))
	log.Error("Download failed", "err", err, slog.String("url", status.URL))
}
