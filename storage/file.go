package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ruteri/sbs/interfaces"
	"gopkg.in/yaml.v3"
)

const entryFileExtension = ".yaml"

// FileBackendConfig customizes the directory layout and entry order of a
// FileBackend.
type FileBackendConfig struct {
	// EntriesDir is the entries folder relative to the library root.
	// Defaults to "Entries".
	EntriesDir string

	// BlobsDir is the blobs folder relative to the library root.
	// Defaults to "Blobs".
	BlobsDir string

	// Less orders entry ids. Defaults to NaturalLess.
	Less func(a, b string) bool
}

func (c FileBackendConfig) withDefaults() FileBackendConfig {
	if c.EntriesDir == "" {
		c.EntriesDir = "Entries"
	}
	if c.BlobsDir == "" {
		c.BlobsDir = "Blobs"
	}
	if c.Less == nil {
		c.Less = NaturalLess
	}
	return c
}

// FileBackend implements a storage backend using the local file system.
// Each entry is a YAML file in the entries directory and each blob is a file
// named by its blob id in the blobs directory.
type FileBackend struct {
	baseDir     string
	entriesDir  string
	blobs       *blobDir
	less        func(a, b string) bool
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend rooted at baseDir.
// It creates the entries and blobs directories if they don't exist.
func NewFileBackend(baseDir string, cfg FileBackendConfig, log *slog.Logger) (*FileBackend, error) {
	cfg = cfg.withDefaults()

	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	entriesDir := filepath.Join(baseDir, cfg.EntriesDir)
	if err := os.MkdirAll(entriesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create entries directory: %w", err)
	}

	blobs, err := newBlobDir(filepath.Join(baseDir, cfg.BlobsDir), log)
	if err != nil {
		return nil, err
	}

	return &FileBackend{
		baseDir:     baseDir,
		entriesDir:  entriesDir,
		blobs:       blobs,
		less:        cfg.Less,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// GetEntry loads the entry file for id. Returns nil if it doesn't exist.
func (b *FileBackend) GetEntry(ctx context.Context, id interfaces.EntryID) (*interfaces.EntryRecord, error) {
	path, err := b.getEntryFilePath(id)
	if err != nil {
		return nil, err
	}
	rec, err := b.loadEntry(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EntryExists checks for the entry file without parsing it.
func (b *FileBackend) EntryExists(ctx context.Context, id interfaces.EntryID) (bool, error) {
	path, err := b.getEntryFilePath(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to stat entry file: %v", interfaces.ErrBackendFailure, err)
	}
	return true, nil
}

// QueryEntries lists the entries directory, orders the ids with the
// configured comparator and lazily loads the selected page.
func (b *FileBackend) QueryEntries(ctx context.Context, q interfaces.EntryQuery) iter.Seq2[interfaces.EntryRecord, error] {
	return func(yield func(interfaces.EntryRecord, error) bool) {
		ids, err := b.sortedEntryIDs()
		if err != nil {
			yield(interfaces.EntryRecord{}, err)
			return
		}

		count := 0
		for _, id := range selectPage(ids, q, b.less) {
			if q.Limit > 0 && count >= q.Limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(interfaces.EntryRecord{}, err)
				return
			}

			rec, err := b.loadEntry(filepath.Join(b.entriesDir, id+entryFileExtension))
			if errors.Is(err, os.ErrNotExist) {
				// deleted since the directory was listed
				continue
			}
			if !yield(derefRecord(rec), err) || err != nil {
				return
			}
			count++
		}
	}
}

// PutEntry writes the entry file, replacing any existing one atomically.
func (b *FileBackend) PutEntry(ctx context.Context, rec interfaces.EntryRecord) error {
	path, err := b.getEntryFilePath(rec.EntryID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	tmp, err := os.CreateTemp(b.entriesDir, ".entry-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create entry file: %v", interfaces.ErrBackendFailure, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write entry file: %v", interfaces.ErrBackendFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to write entry file: %v", interfaces.ErrBackendFailure, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: failed to commit entry file: %v", interfaces.ErrBackendFailure, err)
	}

	b.log.Debug("Stored entry in file", slog.String("path", path))
	return nil
}

// DeleteEntry removes the entry file. A missing file is not an error.
func (b *FileBackend) DeleteEntry(ctx context.Context, id interfaces.EntryID) error {
	path, err := b.getEntryFilePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete entry file: %v", interfaces.ErrBackendFailure, err)
	}
	return nil
}

func (b *FileBackend) BlobContent(id interfaces.BlobID) interfaces.Content {
	return b.blobs.content(id)
}

func (b *FileBackend) BlobExists(ctx context.Context, id interfaces.BlobID) (bool, error) {
	return b.blobs.exists(id)
}

func (b *FileBackend) WriteBlob(ctx context.Context, id interfaces.BlobID, c interfaces.Content, progress interfaces.ProgressFunc) error {
	return b.blobs.write(ctx, id, c, progress)
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) Close() error {
	return nil
}

// getEntryFilePath generates the entry file path for an entry id.
func (b *FileBackend) getEntryFilePath(id interfaces.EntryID) (string, error) {
	if err := validateFileName(string(id)); err != nil {
		return "", err
	}
	return filepath.Join(b.entriesDir, string(id)+entryFileExtension), nil
}

func (b *FileBackend) loadEntry(path string) (*interfaces.EntryRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read entry file: %v", interfaces.ErrBackendFailure, err)
	}

	var rec interfaces.EntryRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: unable to parse data for entry at %q: %v", interfaces.ErrBackendFailure, path, err)
	}
	rec.Metadata = rec.Metadata.Normalize()
	return &rec, nil
}

func (b *FileBackend) sortedEntryIDs() ([]string, error) {
	dirEntries, err := os.ReadDir(b.entriesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list entries: %v", interfaces.ErrBackendFailure, err)
	}

	ids := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !de.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entryFileExtension) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, entryFileExtension))
	}

	slices.SortFunc(ids, func(x, y string) int {
		switch {
		case b.less(x, y):
			return -1
		case b.less(y, x):
			return 1
		default:
			return 0
		}
	})
	return ids, nil
}

// selectPage returns the ids strictly after q.After in the walking direction.
// Limit is applied by the caller, which may skip ids that vanish.
func selectPage(sorted []string, q interfaces.EntryQuery, less func(a, b string) bool) []string {
	after := string(q.After)
	if !q.Reverse {
		start := 0
		if after != "" {
			start = len(sorted)
			for i, id := range sorted {
				if less(after, id) {
					start = i
					break
				}
			}
		}
		return sorted[start:]
	}

	end := len(sorted)
	if after != "" {
		end = 0
		for i := len(sorted) - 1; i >= 0; i-- {
			if less(sorted[i], after) {
				end = i + 1
				break
			}
		}
	}
	page := slices.Clone(sorted[:end])
	slices.Reverse(page)
	return page
}

func derefRecord(rec *interfaces.EntryRecord) interfaces.EntryRecord {
	if rec == nil {
		return interfaces.EntryRecord{}
	}
	return *rec
}

// validateFileName rejects ids that cannot be used as a single file name.
func validateFileName(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: entry id must not be empty", interfaces.ErrInvalidArgument)
	case id == "." || id == "..":
		return fmt.Errorf("%w: entry id %q is reserved", interfaces.ErrInvalidArgument, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: entry id %q must not start with a dot", interfaces.ErrInvalidArgument, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: entry id %q must not contain path separators", interfaces.ErrInvalidArgument, id)
	}
	return nil
}
