package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
)

// stagingDirName holds partially written blobs. It starts with a dot so it
// can never collide with a blob id.
const stagingDirName = ".staging"

// blobDir stores blobs as files named by blob id. Writes go to a staging file
// first and are renamed into place, so a reader never observes a partial blob
// and concurrent writers of the same id leave one complete copy.
type blobDir struct {
	dir     string
	staging string
	log     *slog.Logger
}

func newBlobDir(dir string, log *slog.Logger) (*blobDir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blobs directory: %w", err)
	}
	staging := filepath.Join(abs, stagingDirName)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}
	return &blobDir{dir: abs, staging: staging, log: log}, nil
}

func (d *blobDir) path(id interfaces.BlobID) string {
	return filepath.Join(d.dir, string(id))
}

// content returns a handle to the blob file. The type is recovered from the
// blob id's extension.
func (d *blobDir) content(id interfaces.BlobID) interfaces.Content {
	return content.FileContentAt(d.path(id), blobContentType(id))
}

func (d *blobDir) exists(id interfaces.BlobID) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, nil
	}
	fi, err := os.Stat(d.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to stat blob %s: %v", interfaces.ErrBackendFailure, id, err)
	}
	return fi.Mode().IsRegular(), nil
}

func (d *blobDir) write(ctx context.Context, id interfaces.BlobID, c interfaces.Content, progress interfaces.ProgressFunc) (err error) {
	if err := id.Validate(); err != nil {
		return err
	}

	body, err := c.Open()
	if err != nil {
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(d.staging, string(id)+".*")
	if err != nil {
		return fmt.Errorf("%w: failed to create staging file: %v", interfaces.ErrBackendFailure, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := content.Copy(tmp, &contextReader{ctx: ctx, r: body}, progress, content.DefaultChunkSize)
	if err != nil {
		return fmt.Errorf("%w: failed to write blob %s: %v", interfaces.ErrBackendFailure, id, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close staging file: %v", interfaces.ErrBackendFailure, err)
	}
	if err = os.Rename(tmp.Name(), d.path(id)); err != nil {
		return fmt.Errorf("%w: failed to commit blob %s: %v", interfaces.ErrBackendFailure, id, err)
	}

	d.log.Debug("Stored blob in file",
		slog.String("path", d.path(id)),
		slog.Int64("size", n))

	return nil
}

func blobContentType(id interfaces.BlobID) string {
	return content.TypeOrDefault(mime.TypeByExtension(id.Extension()))
}

// contextReader stops a copy at the next chunk boundary once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
