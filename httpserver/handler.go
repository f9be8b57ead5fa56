package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/sbs/api"
	"github.com/ruteri/sbs/ingest"
	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/library"
	"github.com/ruteri/sbs/registry"
)

// defaultMaxBodySize is the intake body cap used when the server config does
// not set one (1MB).
const defaultMaxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrLibraryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Handler serves the library viewer and the intake endpoints.
type Handler struct {
	libraries   *registry.Registry
	coordinator *ingest.Coordinator
	maxBodySize int64
	log         *slog.Logger
}

// NewHandler creates a handler over the registered libraries. Intake
// requests are submitted to coordinator.
func NewHandler(libraries *registry.Registry, coordinator *ingest.Coordinator, log *slog.Logger) *Handler {
	return &Handler{
		libraries:   libraries,
		coordinator: coordinator,
		maxBodySize: defaultMaxBodySize,
		log:         log,
	}
}

// SetMaxBodySize overrides the intake body cap.
func (h *Handler) SetMaxBodySize(n int64) {
	if n > 0 {
		h.maxBodySize = n
	}
}

// Coordinator returns the ingestion coordinator intake requests go to.
func (h *Handler) Coordinator() *ingest.Coordinator {
	return h.coordinator
}

// HandleLibraries lists the registered libraries sorted by id.
//
// URL format: GET /api/libraries
func (h *Handler) HandleLibraries(w http.ResponseWriter, r *http.Request) {
	libs := h.libraries.Libraries()
	resp := make([]api.LibraryInfo, len(libs))
	for i, lib := range libs {
		resp[i] = api.LibraryInfo{LibraryID: lib.ID(), Backend: lib.Backend().Name()}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleEntries returns one page of a library's entries in backend order.
//
// URL format: GET /api/libraries/{library_id}/entries?limit=&after=&reverse=
func (h *Handler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	lib, err := h.library(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	opts, limit, err := parsePageQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := lib.GetEntries(r.Context(), opts...)
	if err != nil {
		h.writeError(w, err)
		return
	}

	page := api.EntriesPage{Entries: []interfaces.EntryRecord{}}
	for entry, err := range entries {
		if err != nil {
			h.log.Error("Failed to list entries", "err", err, slog.String("library_id", string(lib.ID())))
			h.writeError(w, err)
			return
		}
		page.Entries = append(page.Entries, entry.Record())
	}
	if len(page.Entries) == limit {
		page.NextAfter = page.Entries[len(page.Entries)-1].EntryID
	}

	h.writeJSON(w, http.StatusOK, page)
}

func parsePageQuery(r *http.Request) ([]library.QueryOption, int, error) {
	q := r.URL.Query()

	limit := api.DefaultPageLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid limit %q", interfaces.ErrInvalidArgument, s)
		}
		limit = n
	}

	var reverse bool
	if s := q.Get("reverse"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid reverse %q", interfaces.ErrInvalidArgument, s)
		}
		reverse = b
	}

	opts := []library.QueryOption{
		library.WithLimit(limit),
		library.Reversed(reverse),
	}
	if after := q.Get("after"); after != "" {
		opts = append(opts, library.After(interfaces.EntryID(after)))
	}
	return opts, limit, nil
}

// HandleEntry returns one entry.
//
// URL format: GET /api/libraries/{library_id}/entries/{entry_id}
func (h *Handler) HandleEntry(w http.ResponseWriter, r *http.Request) {
	lib, err := h.library(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entryID := interfaces.EntryID(chi.URLParam(r, "entry_id"))
	entry, err := lib.GetEntry(r.Context(), entryID)
	if err != nil {
		h.log.Error("Failed to get entry", "err", err, slog.String("entry_id", string(entryID)))
		h.writeError(w, err)
		return
	}
	if entry == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("entry %s not found", entryID)})
		return
	}

	h.writeJSON(w, http.StatusOK, entry.Record())
}

// HandleBlob streams a blob's bytes with its content type.
//
// URL format: GET /api/libraries/{library_id}/blobs/{blob_id}
func (h *Handler) HandleBlob(w http.ResponseWriter, r *http.Request) {
	lib, err := h.library(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	blobID := interfaces.BlobID(chi.URLParam(r, "blob_id"))
	if err := blobID.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	blob, err := lib.GetBlob(r.Context(), blobID)
	if err != nil {
		h.log.Error("Failed to get blob", "err", err, slog.String("blob_id", string(blobID)))
		h.writeError(w, err)
		return
	}
	if blob == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("blob %s not found", blobID)})
		return
	}

	length, err := blob.Content.Length()
	if err != nil {
		h.log.Error("Failed to get blob length", "err", err, slog.String("blob_id", string(blobID)))
		h.writeError(w, err)
		return
	}
	body, err := blob.Content.Open()
	if err != nil {
		h.log.Error("Failed to open blob", "err", err, slog.String("blob_id", string(blobID)))
		h.writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", blob.Content.Type())
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn("Failed to stream blob", "err", err, slog.String("blob_id", string(blobID)))
	}
}

// HandleIntake submits an ingestion request. Well-formed requests get 201
// whether they were accepted or declined.
//
// URL format: POST /api/intake
func (h *Handler) HandleIntake(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var body api.IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid intake request: %w", err)})
		return
	}

	rec, err := h.coordinator.Submit(r.Context(), body.IngestRequest())
	if err != nil {
		h.log.Warn("Intake request rejected", "err", err,
			slog.String("library_id", string(body.LibraryID)),
			slog.String("entry_id", string(body.EntryID)))
		h.writeError(w, err)
		return
	}

	resp := api.IntakeResponse{Accepted: rec != nil}
	if rec != nil {
		resp.RecordID = rec.ID.String()
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// HandleIntakeStatus lists ingestion records, optionally filtered by state.
//
// URL format: GET /api/intake?state=Working&state=Failed
func (h *Handler) HandleIntakeStatus(w http.ResponseWriter, r *http.Request) {
	var states []ingest.RecordState
	for _, s := range r.URL.Query()["state"] {
		state := ingest.RecordState(s)
		switch state {
		case ingest.RecordWorking, ingest.RecordSuccess, ingest.RecordFailed:
			states = append(states, state)
		default:
			h.writeError(w, fmt.Errorf("%w: unknown state %q", interfaces.ErrInvalidArgument, s))
			return
		}
	}

	store := h.coordinator.Store()
	ingestions := store.Snapshot(states...)
	h.writeJSON(w, http.StatusOK, api.IntakeStatus{
		Count:        len(ingestions),
		CountByState: store.CountByState(),
		Ingestions:   ingestions,
	})
}

// HandleIntakeRecord returns one ingestion record.
//
// URL format: GET /api/intake/{record_id}
func (h *Handler) HandleIntakeRecord(w http.ResponseWriter, r *http.Request) {
	param := chi.URLParam(r, "record_id")
	id, err := uuid.Parse(param)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid record id %q", interfaces.ErrInvalidArgument, param))
		return
	}

	rec, ok := h.coordinator.Store().Get(id)
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("ingestion %s not found", id)})
		return
	}
	h.writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (h *Handler) library(r *http.Request) (*library.Library, error) {
	id := interfaces.LibraryID(chi.URLParam(r, "library_id"))
	lib, ok := h.libraries.Library(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrLibraryNotFound, id)
	}
	return lib, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	http.Error(w, msg, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
