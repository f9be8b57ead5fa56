package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
)

// ErrFetchFailed is wrapped by every FetchError.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError describes a remote resource that could not be retrieved.
type FetchError struct {
	URL string
	// StatusCode is the HTTP status of the response, or 0 if none was received.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailed}
	}
	return []error{ErrFetchFailed, e.Err}
}

// Fetcher retrieves remote resources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Response is an open remote resource. The caller must close Body, either
// directly or through ReadContent.
type Response struct {
	URL         string
	ContentType string
	// ContentLength is the declared length, or -1 when unknown.
	ContentLength int64
	Body          io.ReadCloser

	// SpoolOptions controls how ReadContent buffers the body.
	SpoolOptions content.SpoolOptions
}

// ReadContent consumes the body once, hashing it while it is buffered in
// memory or a temporary file. onChunk receives the byte count of each chunk
// as it arrives. The body is closed before returning. The caller owns the
// returned content and must Release it.
func (r *Response) ReadContent(onChunk interfaces.ProgressFunc) (*content.SpooledContent, error) {
	defer r.Body.Close()

	sc, err := content.Spool(content.TypeOrDefault(r.ContentType), r.Body, onChunk, r.SpoolOptions)
	if err != nil {
		return nil, &FetchError{URL: r.URL, Err: err}
	}
	return sc, nil
}

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	// Timeout bounds a whole request including the body transfer. Zero
	// means no timeout.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	SpoolOptions content.SpoolOptions
}

// HTTPFetcher fetches resources with GET requests. Any non-2xx response is
// a FetchError.
type HTTPFetcher struct {
	client *http.Client
	cfg    HTTPFetcherConfig
	log    *slog.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client selects a new client with
// cfg.Timeout.
func NewHTTPFetcher(client *http.Client, cfg HTTPFetcherConfig, log *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPFetcher{client: client, cfg: cfg, log: log}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	f.log.Debug("Fetched resource headers",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Int64("content_length", resp.ContentLength),
		slog.Duration("duration", time.Since(start)))

	return &Response{
		URL:           url,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
		SpoolOptions:  f.cfg.SpoolOptions,
	}, nil
}
