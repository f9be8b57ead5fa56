package ingest

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/sbs/interfaces"
	"go.uber.org/atomic"
)

// DownloadState is the progress of one resource download.
type DownloadState string

const (
	DownloadInitialized DownloadState = "Initialized"
	DownloadDownloading DownloadState = "Downloading"
	DownloadWriting     DownloadState = "Writing"
	DownloadSuccess     DownloadState = "Success"
	DownloadFailed      DownloadState = "Failed"
)

// DownloadStatus tracks one resource of an ingestion. It is written by the
// worker processing the resource and may be read concurrently.
type DownloadStatus struct {
	URL string

	contentLength   atomic.Int64
	downloadedBytes atomic.Int64
	writtenBytes    atomic.Int64
	state           atomic.String
}

func newDownloadStatus(url string) *DownloadStatus {
	s := &DownloadStatus{URL: url}
	s.state.Store(string(DownloadInitialized))
	return s
}

func (s *DownloadStatus) State() DownloadState { return DownloadState(s.state.Load()) }

// ContentLength is the declared length of the resource. Zero or negative
// means unknown.
func (s *DownloadStatus) ContentLength() int64 { return s.contentLength.Load() }

func (s *DownloadStatus) DownloadedBytes() int64 { return s.downloadedBytes.Load() }

func (s *DownloadStatus) WrittenBytes() int64 { return s.writtenBytes.Load() }

func (s *DownloadStatus) setState(state DownloadState) { s.state.Store(string(state)) }

func (s *DownloadStatus) setContentLength(n int64) { s.contentLength.Store(n) }

func (s *DownloadStatus) addDownloaded(n int64) { s.downloadedBytes.Add(n) }

func (s *DownloadStatus) addWritten(n int64) { s.writtenBytes.Add(n) }

// DownloadedPercent is the share of the declared length received so far.
func (s *DownloadStatus) DownloadedPercent() int {
	return percentOf(s.DownloadedBytes(), s.ContentLength())
}

// WrittenPercent is the share of the declared length persisted so far.
func (s *DownloadStatus) WrittenPercent() int {
	return percentOf(s.WrittenBytes(), s.ContentLength())
}

// PercentComplete reports the percentage relevant to the current state:
// received bytes while downloading, persisted bytes while writing, and 100
// otherwise.
func (s *DownloadStatus) PercentComplete() int {
	switch s.State() {
	case DownloadDownloading:
		return s.DownloadedPercent()
	case DownloadWriting:
		return s.WrittenPercent()
	default:
		return 100
	}
}

// Summary is a short human readable status such as "Downloading 40%".
func (s *DownloadStatus) Summary() string {
	state := s.State()
	if state == DownloadDownloading || state == DownloadWriting {
		return fmt.Sprintf("%s %d%%", state, s.PercentComplete())
	}
	return string(state)
}

// Snapshot returns a copy of the current status.
func (s *DownloadStatus) Snapshot() DownloadSnapshot {
	return DownloadSnapshot{
		URL:               s.URL,
		State:             s.State(),
		ContentLength:     s.ContentLength(),
		DownloadedBytes:   s.DownloadedBytes(),
		WrittenBytes:      s.WrittenBytes(),
		DownloadedPercent: s.DownloadedPercent(),
		WrittenPercent:    s.WrittenPercent(),
		PercentComplete:   s.PercentComplete(),
		Summary:           s.Summary(),
	}
}

// percentOf rounds n/length to the nearest percent, capped at 100. An
// unknown length counts as complete.
func percentOf(n, length int64) int {
	if length <= 0 {
		return 100
	}
	p := int(math.Round(float64(n) * 100 / float64(length)))
	return min(max(p, 0), 100)
}

// DownloadSnapshot is an immutable view of a DownloadStatus.
type DownloadSnapshot struct {
	URL               string        `json:"url"`
	State             DownloadState `json:"state"`
	ContentLength     int64         `json:"content_length"`
	DownloadedBytes   int64         `json:"downloaded_bytes"`
	WrittenBytes      int64         `json:"written_bytes"`
	DownloadedPercent int           `json:"downloaded_percent"`
	WrittenPercent    int           `json:"written_percent"`
	PercentComplete   int           `json:"percent_complete"`
	Summary           string        `json:"summary"`
}

// RecordState is the outcome of an ingestion.
type RecordState string

const (
	RecordWorking RecordState = "Working"
	RecordSuccess RecordState = "Success"
	RecordFailed  RecordState = "Failed"
)

// Record tracks one accepted ingestion. The download list is fixed at
// submission, one status per resource in request order.
type Record struct {
	ID        uuid.UUID
	LibraryID interfaces.LibraryID
	EntryID   interfaces.EntryID
	CreatedAt time.Time
	Downloads []*DownloadStatus

	state      atomic.String
	finishedAt atomic.Time
	done       chan struct{}
	doneOnce   sync.Once
}

func newRecord(req Request) *Record {
	r := &Record{
		ID:        uuid.New(),
		LibraryID: req.LibraryID,
		EntryID:   req.EntryID,
		CreatedAt: time.Now().UTC(),
		Downloads: make([]*DownloadStatus, len(req.Resources)),
		done:      make(chan struct{}),
	}
	for i, res := range req.Resources {
		r.Downloads[i] = newDownloadStatus(res.URL)
	}
	r.state.Store(string(RecordWorking))
	return r
}

func (r *Record) State() RecordState { return RecordState(r.state.Load()) }

// Done is closed once the record reaches a terminal state.
func (r *Record) Done() <-chan struct{} { return r.done }

// FinishedAt returns when the record reached a terminal state, or the zero
// time while it is working.
func (r *Record) FinishedAt() time.Time { return r.finishedAt.Load() }

// fail marks the record Failed while its remaining downloads keep running.
func (r *Record) fail() {
	r.state.CompareAndSwap(string(RecordWorking), string(RecordFailed))
}

func (r *Record) finish(state RecordState) {
	r.doneOnce.Do(func() {
		r.state.Store(string(state))
		r.finishedAt.Store(time.Now().UTC())
		close(r.done)
	})
}

func (r *Record) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Snapshot returns an immutable copy of the record for status reporting.
func (r *Record) Snapshot() RecordSnapshot {
	s := RecordSnapshot{
		ID:        r.ID.String(),
		LibraryID: r.LibraryID,
		EntryID:   r.EntryID,
		CreatedAt: r.CreatedAt,
		State:     r.State(),
		Downloads: make([]DownloadSnapshot, len(r.Downloads)),
	}
	if r.isDone() {
		finished := r.FinishedAt()
		s.FinishedAt = &finished
	}
	for i, d := range r.Downloads {
		s.Downloads[i] = d.Snapshot()
	}
	return s
}

// RecordSnapshot is an immutable view of a Record.
type RecordSnapshot struct {
	ID         string               `json:"id"`
	LibraryID  interfaces.LibraryID `json:"library_id"`
	EntryID    interfaces.EntryID   `json:"entry_id"`
	CreatedAt  time.Time            `json:"created_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	State      RecordState          `json:"state"`
	Downloads  []DownloadSnapshot   `json:"downloads"`
}
