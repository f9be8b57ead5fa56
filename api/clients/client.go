package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ruteri/sbs/api"
	"github.com/ruteri/sbs/ingest"
	"github.com/ruteri/sbs/interfaces"
)

// maxErrorBody bounds how much of an error response is kept in a StatusError.
const maxErrorBody = 4096

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 400 to interfaces.ErrInvalidArgument and 404 to
// interfaces.ErrLibraryNotFound.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return interfaces.ErrInvalidArgument
	case http.StatusNotFound:
		return interfaces.ErrLibraryNotFound
	}
	return nil
}

// EntriesQuery selects a page of a library's entries.
type EntriesQuery struct {
	// Limit is the page size. Zero uses the server default.
	Limit   int
	After   interfaces.EntryID
	Reverse bool
}

// BlobResponse is a blob body being streamed from the server. The caller
// must close Body.
type BlobResponse struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// Client talks to a blob storage server.
type Client struct {
	// ServerAddr is the base URL of the server.
	ServerAddr string

	http *http.Client
}

// NewClient creates a client for serverAddr. A nil httpClient selects
// http.DefaultClient.
func NewClient(serverAddr string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{ServerAddr: strings.TrimRight(serverAddr, "/"), http: httpClient}
}

// Libraries lists the libraries served.
func (c *Client) Libraries(ctx context.Context) ([]api.LibraryInfo, error) {
	var libs []api.LibraryInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/libraries", nil, http.StatusOK, &libs); err != nil {
		return nil, err
	}
	return libs, nil
}

// Entries fetches one page of entries.
func (c *Client) Entries(ctx context.Context, libraryID interfaces.LibraryID, q EntriesQuery) (*api.EntriesPage, error) {
	params := url.Values{}
	if q.Limit != 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.After != "" {
		params.Set("after", string(q.After))
	}
	if q.Reverse {
		params.Set("reverse", "true")
	}

	path := fmt.Sprintf("/api/libraries/%s/entries", url.PathEscape(string(libraryID)))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page api.EntriesPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AllEntries walks every entry of a library, requesting pages of pageSize
// entries as the sequence is consumed.
func (c *Client) AllEntries(ctx context.Context, libraryID interfaces.LibraryID, pageSize int) iter.Seq2[interfaces.EntryRecord, error] {
	return func(yield func(interfaces.EntryRecord, error) bool) {
		q := EntriesQuery{Limit: pageSize}
		for {
			page, err := c.Entries(ctx, libraryID, q)
			if err != nil {
				yield(interfaces.EntryRecord{}, err)
				return
			}
			for _, rec := range page.Entries {
				if !yield(rec, nil) {
					return
				}
			}
			if page.NextAfter == "" {
				return
			}
			q.After = page.NextAfter
		}
	}
}

// Entry fetches one entry, or nil if the server has none under that id.
func (c *Client) Entry(ctx context.Context, libraryID interfaces.LibraryID, entryID interfaces.EntryID) (*interfaces.EntryRecord, error) {
	path := fmt.Sprintf("/api/libraries/%s/entries/%s", url.PathEscape(string(libraryID)), url.PathEscape(string(entryID)))

	var rec interfaces.EntryRecord
	err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &rec)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Blob opens a blob's body, or returns nil if the server has no such blob.
func (c *Client) Blob(ctx context.Context, libraryID interfaces.LibraryID, blobID interfaces.BlobID) (*BlobResponse, error) {
	path := fmt.Sprintf("/api/libraries/%s/blobs/%s", url.PathEscape(string(libraryID)), url.PathEscape(string(blobID)))

	resp, err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &BlobResponse{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// Submit posts an intake request. A declined request is not an error; it
// returns a response with Accepted unset.
func (c *Client) Submit(ctx context.Context, req api.IntakeRequest) (*api.IntakeResponse, error) {
	var resp api.IntakeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/intake", req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IntakeStatus lists ingestion records, restricted to the given states when
// any are passed.
func (c *Client) IntakeStatus(ctx context.Context, states ...ingest.RecordState) (*api.IntakeStatus, error) {
	path := "/api/intake"
	if len(states) > 0 {
		params := url.Values{}
		for _, s := range states {
			params.Add("state", string(s))
		}
		path += "?" + params.Encode()
	}

	var status api.IntakeStatus
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// IntakeRecord fetches one ingestion record, or nil if the server does not
// know the id. Records can be evicted once finished.
func (c *Client) IntakeRecord(ctx context.Context, recordID string) (*ingest.RecordSnapshot, error) {
	var snap ingest.RecordSnapshot
	err := c.doJSON(ctx, http.MethodGet, "/api/intake/"+url.PathEscape(recordID), nil, http.StatusOK, &snap)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, expected int, out any) error {
	resp, err := c.do(ctx, method, path, body, expected)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response of %s: %w", path, err)
	}
	return nil
}

// do sends the request and returns the response if it has the expected
// status. The caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, body any, expected int) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("could not encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s: %w", path, err)
	}
	if resp.StatusCode != expected {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func isNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
