package content

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ruteri/sbs/interfaces"
)

// DefaultSpoolMemoryLimit is the number of bytes kept in memory before a
// spool moves its data to a temporary file.
const DefaultSpoolMemoryLimit = 50 * 1024 * 1024

// SpoolOptions configures Spool.
type SpoolOptions struct {
	// MemoryLimit is the in-memory buffer size before spilling to disk.
	// Zero selects DefaultSpoolMemoryLimit; a negative value always spills.
	MemoryLimit int64

	// TempDir is the directory for spill files. Empty uses os.TempDir.
	TempDir string

	// ChunkSize is the read buffer size. Zero selects DefaultChunkSize.
	ChunkSize int
}

// SpooledContent is prehashed content whose bytes were captured from a
// single-pass stream. The SHA-1 digest is computed while the bytes are
// buffered so the dedup engine never reads them a second time to hash.
//
// Release must be called once the content is no longer needed to remove any
// spill file.
type SpooledContent struct {
	contentType string
	sha1        string
	length      int64

	mem  []byte
	file string

	releaseOnce sync.Once
}

// Spool reads r to the end, hashing while buffering the bytes in memory and
// spilling to a temporary file past the memory limit. Each chunk read is
// reported to progress.
func Spool(contentType string, r io.Reader, progress interfaces.ProgressFunc, opts SpoolOptions) (*SpooledContent, error) {
	limit := opts.MemoryLimit
	if limit == 0 {
		limit = DefaultSpoolMemoryLimit
	}

	w := &spoolWriter{limit: limit, dir: opts.TempDir}
	hasher := sha1.New()
	n, err := Copy(io.MultiWriter(hasher, w), r, progress, opts.ChunkSize)
	if cerr := w.close(); err == nil {
		err = cerr
	}
	if err != nil {
		w.discard()
		return nil, err
	}

	sc := &SpooledContent{
		contentType: TypeOrDefault(contentType),
		sha1:        hex.EncodeToString(hasher.Sum(nil)),
		length:      n,
	}
	if w.file != nil {
		sc.file = w.file.Name()
	} else {
		sc.mem = w.buf.Bytes()
	}
	return sc, nil
}

func (c *SpooledContent) Type() string { return c.contentType }

func (c *SpooledContent) SHA1() string { return c.sha1 }

func (c *SpooledContent) Length() (int64, error) { return c.length, nil }

func (c *SpooledContent) Open() (io.ReadCloser, error) {
	if c.file != "" {
		return os.Open(c.file)
	}
	return io.NopCloser(bytes.NewReader(c.mem)), nil
}

// Spilled reports whether the content was moved to a temporary file.
func (c *SpooledContent) Spilled() bool { return c.file != "" }

// Release drops buffered bytes and removes the spill file, if any.
func (c *SpooledContent) Release() error {
	var err error
	c.releaseOnce.Do(func() {
		c.mem = nil
		if c.file != "" {
			if rerr := os.Remove(c.file); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				err = rerr
			}
		}
	})
	return err
}

func (c *SpooledContent) String() string {
	return fmt.Sprintf("<SpooledContent: %s, %s>", c.sha1, c.contentType)
}

type spoolWriter struct {
	limit int64
	dir   string
	buf   bytes.Buffer
	file  *os.File
}

func (w *spoolWriter) Write(p []byte) (int, error) {
	if w.file == nil && int64(w.buf.Len()+len(p)) > w.limit {
		f, err := os.CreateTemp(w.dir, "sbs-spool-*")
		if err != nil {
			return 0, fmt.Errorf("failed to create spool file: %w", err)
		}
		w.file = f
		if _, err := w.file.Write(w.buf.Bytes()); err != nil {
			return 0, fmt.Errorf("failed to spill spool buffer: %w", err)
		}
		w.buf = bytes.Buffer{}
	}
	if w.file != nil {
		return w.file.Write(p)
	}
	return w.buf.Write(p)
}

func (w *spoolWriter) close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *spoolWriter) discard() {
	if w.file != nil {
		os.Remove(w.file.Name())
	}
}
