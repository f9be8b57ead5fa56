package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/download"
	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/library"
	"github.com/ruteri/sbs/metrics"
	"github.com/ruteri/sbs/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const (
	redURL   = "http://images.test/red.png"
	greenURL = "http://images.test/green.png"
	blueURL  = "http://images.test/blue.png"
	goneURL  = "http://images.test/gone.png"
)

var (
	redBody   = []byte("red pixels")
	greenBody = []byte("green pixels")
	blueBody  = []byte("blue pixels")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResource struct {
	body        []byte
	contentType string
}

// fakeFetcher serves fixed bodies by url. Unknown urls fail with 404. When
// gate is set, every fetch blocks until it is closed.
type fakeFetcher struct {
	resources map[string]fakeResource
	gate      chan struct{}
	calls     atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{resources: map[string]fakeResource{
		redURL:   {body: redBody, contentType: "image/png"},
		greenURL: {body: greenBody, contentType: "image/png"},
		blueURL:  {body: blueBody, contentType: "image/png"},
	}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*download.Response, error) {
	f.calls.Inc()
	if f.gate != nil {
		<-f.gate
	}
	res, ok := f.resources[url]
	if !ok {
		return nil, &download.FetchError{URL: url, StatusCode: 404}
	}
	return &download.Response{
		URL:           url,
		ContentType:   res.contentType,
		ContentLength: int64(len(res.body)),
		Body:          io.NopCloser(bytes.NewReader(res.body)),
	}, nil
}

type libraries map[interfaces.LibraryID]*library.Library

func (l libraries) Library(id interfaces.LibraryID) (*library.Library, bool) {
	lib, ok := l[id]
	return lib, ok
}

type fixture struct {
	lib         *library.Library
	fetcher     *fakeFetcher
	coordinator *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir(), storage.FileBackendConfig{}, testLogger())
	require.NoError(t, err)

	m := metrics.NewMetrics("sbs_test")
	lib := library.New("Colors", backend, testLogger(), library.WithMetrics(m))
	fetcher := newFakeFetcher()

	coordinator, err := NewCoordinator(CoordinatorConfig{
		Libraries: libraries{"Colors": lib},
		Fetcher:   fetcher,
		Workers:   4,
		Log:       testLogger(),
		Metrics:   m,
	})
	require.NoError(t, err)

	return &fixture{lib: lib, fetcher: fetcher, coordinator: coordinator}
}

func request(entryID interfaces.EntryID, cr ConflictResolution, urls ...string) Request {
	resources := make([]Resource, len(urls))
	for i, u := range urls {
		resources[i] = Resource{URL: u}
	}
	return Request{
		LibraryID:          "Colors",
		EntryID:            entryID,
		Metadata:           interfaces.NewEntryMetadata(map[string]string{"source": "test"}, "colors"),
		ConflictResolution: cr,
		Resources:          resources,
	}
}

func waitDone(t *testing.T, rec *Record) {
	t.Helper()
	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion did not finish")
	}
}

func blobIDOf(t *testing.T, body []byte) interfaces.BlobID {
	t.Helper()
	id, err := library.BlobIDFor(content.NewBytesContent("image/png", body))
	require.NoError(t, err)
	return id
}

func TestCoordinator_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.coordinator.Submit(ctx, request("flags", Skip, redURL, greenURL, redURL))
	require.NoError(t, err)
	require.NotNil(t, rec)
	waitDone(t, rec)

	assert.Equal(t, RecordSuccess, rec.State())
	for _, d := range rec.Downloads {
		assert.Equal(t, DownloadSuccess, d.State())
		assert.Equal(t, "Success", d.Summary())
		assert.Equal(t, 100, d.PercentComplete())
	}

	entry, err := f.lib.GetEntry(ctx, "flags")
	require.NoError(t, err)
	require.NotNil(t, entry)
	red, green := blobIDOf(t, redBody), blobIDOf(t, greenBody)
	assert.Equal(t, []interfaces.BlobID{red, green, red}, entry.BlobIDs())
	assert.Equal(t, "test", entry.Metadata.Attributes["source"])
	assert.Equal(t, []string{"colors"}, entry.Metadata.Tags)

	snap := rec.Snapshot()
	assert.Equal(t, RecordSuccess, snap.State)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, []string{redURL, greenURL, redURL}, []string{snap.Downloads[0].URL, snap.Downloads[1].URL, snap.Downloads[2].URL})
}

func TestCoordinator_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.coordinator.Submit(ctx, request("flags", Skip, redURL, goneURL, greenURL))
	require.NoError(t, err)
	require.NotNil(t, rec)
	waitDone(t, rec)

	assert.Equal(t, RecordFailed, rec.State())
	states := []DownloadState{rec.Downloads[0].State(), rec.Downloads[1].State(), rec.Downloads[2].State()}
	assert.Equal(t, []DownloadState{DownloadSuccess, DownloadFailed, DownloadSuccess}, states)

	// every sibling was attempted
	assert.Equal(t, int32(3), f.fetcher.calls.Load())

	exists, err := f.lib.EntryExists(ctx, "flags")
	require.NoError(t, err)
	assert.False(t, exists)

	// blobs of successful downloads are kept
	blob, err := f.lib.GetBlob(ctx, blobIDOf(t, greenBody))
	require.NoError(t, err)
	assert.NotNil(t, blob)
}

func TestCoordinator_ConflictResolution(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		cr       ConflictResolution
		urls     []string
		accepted bool
	}{
		{name: "skip new entry", cr: Skip, urls: []string{redURL}, accepted: true},
		{name: "skip existing entry", existing: []string{redURL}, cr: Skip, urls: []string{greenURL}, accepted: false},
		{name: "replace existing entry", existing: []string{redURL, greenURL}, cr: Replace, urls: []string{blueURL}, accepted: true},
		{name: "replace if more with as many", existing: []string{redURL, greenURL}, cr: ReplaceIfMore, urls: []string{blueURL, redURL}, accepted: false},
		{name: "replace if more with more", existing: []string{redURL, greenURL}, cr: ReplaceIfMore, urls: []string{blueURL, redURL, greenURL}, accepted: true},
		{name: "replace if more without entry", cr: ReplaceIfMore, urls: []string{blueURL}, accepted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if tt.existing != nil {
				first, err := f.coordinator.Submit(ctx, request("flag", Replace, tt.existing...))
				require.NoError(t, err)
				require.NotNil(t, first)
				waitDone(t, first)
				require.Equal(t, RecordSuccess, first.State())
			}

			rec, err := f.coordinator.Submit(ctx, request("flag", tt.cr, tt.urls...))
			require.NoError(t, err)
			if !tt.accepted {
				assert.Nil(t, rec)
				entry, err := f.lib.GetEntry(ctx, "flag")
				require.NoError(t, err)
				assert.Len(t, entry.Blobs, len(tt.existing))
				return
			}

			require.NotNil(t, rec)
			waitDone(t, rec)
			assert.Equal(t, RecordSuccess, rec.State())

			entry, err := f.lib.GetEntry(ctx, "flag")
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Len(t, entry.Blobs, len(tt.urls))
		})
	}
}

func TestCoordinator_DeclinesDuplicateInFlight(t *testing.T) {
	f := newFixture(t)
	f.fetcher.gate = make(chan struct{})
	ctx := context.Background()

	first, err := f.coordinator.Submit(ctx, request("flag", Replace, redURL))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, RecordWorking, first.State())

	second, err := f.coordinator.Submit(ctx, request("flag", Replace, greenURL))
	require.NoError(t, err)
	assert.Nil(t, second)

	// other entries are not blocked
	other, err := f.coordinator.Submit(ctx, request("other", Replace, greenURL))
	require.NoError(t, err)
	require.NotNil(t, other)

	working := f.coordinator.Store().Snapshot(RecordWorking)
	assert.Len(t, working, 2)

	close(f.fetcher.gate)
	f.coordinator.Wait()

	assert.Equal(t, RecordSuccess, first.State())
	assert.Equal(t, RecordSuccess, other.State())

	third, err := f.coordinator.Submit(ctx, request("flag", Replace, greenURL))
	require.NoError(t, err)
	require.NotNil(t, third)
	waitDone(t, third)

	assert.Equal(t, map[RecordState]int{RecordSuccess: 3}, f.coordinator.Store().CountByState())
}

func TestCoordinator_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coordinator.Submit(ctx, Request{LibraryID: "Missing", EntryID: "e", Resources: []Resource{{URL: redURL}}})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	assert.ErrorIs(t, err, interfaces.ErrLibraryNotFound)

	_, err = f.coordinator.Submit(ctx, Request{LibraryID: "Colors", EntryID: "e", ConflictResolution: ConflictResolution(7)})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = f.coordinator.Submit(ctx, Request{LibraryID: "Colors", Resources: []Resource{{URL: redURL}}})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = f.coordinator.Submit(ctx, Request{LibraryID: "Colors", EntryID: "e", Resources: []Resource{{URL: " "}}})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	assert.Zero(t, f.coordinator.Store().Len())
	assert.Zero(t, f.fetcher.calls.Load())
}

// unreadableEntries fails every entry lookup.
type unreadableEntries struct {
	interfaces.Backend
}

func (unreadableEntries) EntryExists(ctx context.Context, id interfaces.EntryID) (bool, error) {
	return false, errors.New("throttled")
}

func (unreadableEntries) GetEntry(ctx context.Context, id interfaces.EntryID) (*interfaces.EntryRecord, error) {
	return nil, errors.New("throttled")
}

func TestCoordinator_ConflictCheckFailure(t *testing.T) {
	f := newFixture(t)
	backend, err := storage.NewFileBackend(t.TempDir(), storage.FileBackendConfig{}, testLogger())
	require.NoError(t, err)
	lib := library.New("Colors", unreadableEntries{backend}, testLogger())
	f.coordinator.libraries = libraries{"Colors": lib}
	ctx := context.Background()

	for _, cr := range []ConflictResolution{Skip, ReplaceIfMore} {
		rec, err := f.coordinator.Submit(ctx, request("flag", cr, redURL))
		require.NoError(t, err)
		require.NotNil(t, rec)
		waitDone(t, rec)

		assert.Equal(t, RecordFailed, rec.State())
		assert.Equal(t, DownloadInitialized, rec.Downloads[0].State())
		_, inFlight := f.coordinator.Store().InFlight("Colors", "flag")
		assert.False(t, inFlight)
	}

	assert.Equal(t, map[RecordState]int{RecordFailed: 2}, f.coordinator.Store().CountByState())
	assert.Zero(t, f.fetcher.calls.Load())
}

func TestCoordinator_NoResources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.coordinator.Submit(ctx, request("blank", Skip))
	require.NoError(t, err)
	require.NotNil(t, rec)
	waitDone(t, rec)
	assert.Equal(t, RecordSuccess, rec.State())
	assert.Empty(t, rec.Downloads)

	entry, err := f.lib.GetEntry(ctx, "blank")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Empty(t, entry.Blobs)

	// an empty entry has as many blobs as an empty request
	rec, err = f.coordinator.Submit(ctx, request("blank", ReplaceIfMore))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCoordinator_ContentTypeOverride(t *testing.T) {
	f := newFixture(t)
	f.fetcher.resources["http://images.test/untyped"] = fakeResource{body: redBody}
	ctx := context.Background()

	req := request("typed", Skip)
	req.Resources = []Resource{{URL: "http://images.test/untyped", ContentType: "image/jpeg"}}

	rec, err := f.coordinator.Submit(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, rec)
	waitDone(t, rec)

	entry, err := f.lib.GetEntry(ctx, "typed")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Len(t, entry.Blobs, 1)
	assert.Equal(t, ".jpg", entry.Blobs[0].ID.Extension())
}

func TestCoordinator_Defaults(t *testing.T) {
	_, err := NewCoordinator(CoordinatorConfig{Fetcher: newFakeFetcher()})
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorConfig{Libraries: libraries{}})
	assert.Error(t, err)

	c, err := NewCoordinator(CoordinatorConfig{Libraries: libraries{}, Fetcher: newFakeFetcher()})
	require.NoError(t, err)
	assert.NotNil(t, c.Store())
}
