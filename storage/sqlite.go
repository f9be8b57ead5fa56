package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/sbs/interfaces"

	_ "modernc.org/sqlite"
)

const sqliteEntriesFile = "entries.db"

// SQLiteBackend implements a storage backend with an embedded ordered
// dictionary: entries are JSON values keyed by entry id in a SQLite table,
// blobs are files in a blobs directory next to the database. Entry ids are
// ordered bytewise.
type SQLiteBackend struct {
	baseDir     string
	db          *sql.DB
	blobs       *blobDir
	log         *slog.Logger
	locationURI string
}

// NewSQLiteBackend opens (creating if needed) the entries database and blobs
// directory under baseDir.
func NewSQLiteBackend(baseDir string, log *slog.Logger) (*SQLiteBackend, error) {
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	dsn := "file:" + filepath.Join(baseDir, sqliteEntriesFile) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open entries database: %w", err)
	}

	blobs, err := newBlobDir(filepath.Join(baseDir, "Blobs"), log)
	if err != nil {
		db.Close()
		return nil, err
	}

	b := &SQLiteBackend{
		baseDir:     baseDir,
		db:          db,
		blobs:       blobs,
		log:         log,
		locationURI: fmt.Sprintf("sqlite://%s", baseDir),
	}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create entries table: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := b.db.ExecContext(context.Background(), query)
	return err
}

func (b *SQLiteBackend) GetEntry(ctx context.Context, id interfaces.EntryID) (*interfaces.EntryRecord, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, string(id)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get entry: %v", interfaces.ErrBackendFailure, err)
	}
	rec, err := decodeEntryValue(string(id), value)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *SQLiteBackend) EntryExists(ctx context.Context, id interfaces.EntryID) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE key = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to check entry: %v", interfaces.ErrBackendFailure, err)
	}
	return true, nil
}

// QueryEntries runs one range query and yields rows as they are scanned.
func (b *SQLiteBackend) QueryEntries(ctx context.Context, q interfaces.EntryQuery) iter.Seq2[interfaces.EntryRecord, error] {
	query, args := entryRangeQuery(q)

	return func(yield func(interfaces.EntryRecord, error) bool) {
		rows, err := b.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(interfaces.EntryRecord{}, fmt.Errorf("%w: failed to query entries: %v", interfaces.ErrBackendFailure, err))
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				yield(interfaces.EntryRecord{}, fmt.Errorf("%w: failed to scan entry: %v", interfaces.ErrBackendFailure, err))
				return
			}
			rec, err := decodeEntryValue(key, value)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(interfaces.EntryRecord{}, fmt.Errorf("%w: failed to iterate entries: %v", interfaces.ErrBackendFailure, err))
		}
	}
}

func entryRangeQuery(q interfaces.EntryQuery) (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString(`SELECT key, value FROM entries`)
	if q.After != "" {
		if q.Reverse {
			sb.WriteString(` WHERE key < ?`)
		} else {
			sb.WriteString(` WHERE key > ?`)
		}
		args = append(args, string(q.After))
	}
	sb.WriteString(` ORDER BY key`)
	if q.Reverse {
		sb.WriteString(` DESC`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	return sb.String(), args
}

func (b *SQLiteBackend) PutEntry(ctx context.Context, rec interfaces.EntryRecord) error {
	if rec.EntryID == "" {
		return fmt.Errorf("%w: entry id must not be empty", interfaces.ErrInvalidArgument)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO entries (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(rec.EntryID), string(value))
	if err != nil {
		return fmt.Errorf("%w: failed to put entry: %v", interfaces.ErrBackendFailure, err)
	}

	b.log.Debug("Stored entry in sqlite", slog.String("entry_id", string(rec.EntryID)))
	return nil
}

func (b *SQLiteBackend) DeleteEntry(ctx context.Context, id interfaces.EntryID) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, string(id)); err != nil {
		return fmt.Errorf("%w: failed to delete entry: %v", interfaces.ErrBackendFailure, err)
	}
	return nil
}

func (b *SQLiteBackend) BlobContent(id interfaces.BlobID) interfaces.Content {
	return b.blobs.content(id)
}

func (b *SQLiteBackend) BlobExists(ctx context.Context, id interfaces.BlobID) (bool, error) {
	return b.blobs.exists(id)
}

func (b *SQLiteBackend) WriteBlob(ctx context.Context, id interfaces.BlobID, c interfaces.Content, progress interfaces.ProgressFunc) error {
	return b.blobs.write(ctx, id, c, progress)
}

// Name returns a unique identifier for this storage backend.
func (b *SQLiteBackend) Name() string {
	return fmt.Sprintf("sqlite-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *SQLiteBackend) LocationURI() string {
	return b.locationURI
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func decodeEntryValue(key, value string) (interfaces.EntryRecord, error) {
	var rec interfaces.EntryRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return interfaces.EntryRecord{}, fmt.Errorf("%w: unable to parse data for entry %q: %v", interfaces.ErrBackendFailure, key, err)
	}
	rec.EntryID = interfaces.EntryID(key)
	rec.Metadata = rec.Metadata.Normalize()
	return rec, nil
}
