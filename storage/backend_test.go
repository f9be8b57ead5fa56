package storage

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type backendCase struct {
	name string
	open func(t *testing.T, dir string) interfaces.Backend
	// order is the expected forward order of e1, e2, e3, e10, e100.
	order []interfaces.EntryID
}

func backendCases() []backendCase {
	return []backendCase{
		{
			name: "file",
			open: func(t *testing.T, dir string) interfaces.Backend {
				b, err := NewFileBackend(dir, FileBackendConfig{}, testLogger())
				require.NoError(t, err)
				return b
			},
			order: []interfaces.EntryID{"e1", "e2", "e3", "e10", "e100"},
		},
		{
			name: "sqlite",
			open: func(t *testing.T, dir string) interfaces.Backend {
				b, err := NewSQLiteBackend(dir, testLogger())
				require.NoError(t, err)
				t.Cleanup(func() { _ = b.Close() })
				return b
			},
			order: []interfaces.EntryID{"e1", "e10", "e100", "e2", "e3"},
		},
	}
}

func collectIDs(t *testing.T, seq iter.Seq2[interfaces.EntryRecord, error]) []interfaces.EntryID {
	t.Helper()
	ids := []interfaces.EntryID{}
	for rec, err := range seq {
		require.NoError(t, err)
		ids = append(ids, rec.EntryID)
	}
	return ids
}

func TestBackend_EntryRoundTrip(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.open(t, t.TempDir())

			rec, err := b.GetEntry(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, rec)

			exists, err := b.EntryExists(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, exists)

			want := interfaces.EntryRecord{
				EntryID:      "e1",
				Metadata:     interfaces.NewEntryMetadata(map[string]string{"title": "Sunset"}, "beach", "2024"),
				BlobSequence: []interfaces.BlobID{"feb78a44d55c9169801cf606cd6041ad9a5f69c9.png", "0a4d55a8d778e5022fab701977c5d840bbc486d0.txt"},
			}
			require.NoError(t, b.PutEntry(ctx, want))

			got, err := b.GetEntry(ctx, "e1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.EntryID, got.EntryID)
			assert.Equal(t, want.Metadata.Normalize(), got.Metadata)
			assert.Equal(t, want.BlobSequence, got.BlobSequence)

			exists, err = b.EntryExists(ctx, "e1")
			require.NoError(t, err)
			assert.True(t, exists)

			// put replaces the whole record
			replacement := interfaces.EntryRecord{EntryID: "e1", BlobSequence: []interfaces.BlobID{}}
			require.NoError(t, b.PutEntry(ctx, replacement))
			got, err = b.GetEntry(ctx, "e1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Empty(t, got.BlobSequence)
			assert.Empty(t, got.Metadata.Attributes)
			assert.Empty(t, got.Metadata.Tags)

			require.NoError(t, b.DeleteEntry(ctx, "e1"))
			got, err = b.GetEntry(ctx, "e1")
			require.NoError(t, err)
			assert.Nil(t, got)

			// deleting again is not an error
			require.NoError(t, b.DeleteEntry(ctx, "e1"))
		})
	}
}

func TestBackend_PutEntryRejectsEmptyID(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.open(t, t.TempDir())
			err := b.PutEntry(context.Background(), interfaces.EntryRecord{})
			assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
		})
	}
}

func TestBackend_QueryEntries(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.open(t, t.TempDir())

			for _, id := range []interfaces.EntryID{"e1", "e2", "e3", "e10", "e100"} {
				require.NoError(t, b.PutEntry(ctx, interfaces.EntryRecord{EntryID: id}))
			}

			reversed := make([]interfaces.EntryID, len(tc.order))
			for i, id := range tc.order {
				reversed[len(tc.order)-1-i] = id
			}
			indexOf := func(id interfaces.EntryID) int {
				for i, o := range tc.order {
					if o == id {
						return i
					}
				}
				t.Fatalf("unknown id %s", id)
				return -1
			}

			t.Run("forward", func(t *testing.T) {
				assert.Equal(t, tc.order, collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{})))
			})

			t.Run("reverse", func(t *testing.T) {
				assert.Equal(t, reversed, collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{Reverse: true})))
			})

			t.Run("limit", func(t *testing.T) {
				assert.Equal(t, tc.order[:2], collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{Limit: 2})))
			})

			t.Run("after is exclusive", func(t *testing.T) {
				got := collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{After: "e2"}))
				assert.Equal(t, tc.order[indexOf("e2")+1:], got)
				assert.NotContains(t, got, interfaces.EntryID("e2"))
			})

			t.Run("reverse after with limit", func(t *testing.T) {
				got := collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{After: "e10", Reverse: true, Limit: 2}))
				before := reversed[len(tc.order)-indexOf("e10"):]
				if len(before) > 2 {
					before = before[:2]
				}
				assert.Equal(t, before, got)
			})

			t.Run("cursor continuity", func(t *testing.T) {
				var all []interfaces.EntryID
				var after interfaces.EntryID
				for {
					page := collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{After: after, Limit: 2}))
					if len(page) == 0 {
						break
					}
					all = append(all, page...)
					after = page[len(page)-1]
				}
				assert.Equal(t, tc.order, all)
			})

			t.Run("after unknown id", func(t *testing.T) {
				got := collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{After: "zzz"}))
				assert.Empty(t, got)
			})

			t.Run("early break", func(t *testing.T) {
				n := 0
				for _, err := range b.QueryEntries(ctx, interfaces.EntryQuery{}) {
					require.NoError(t, err)
					n++
					if n == 3 {
						break
					}
				}
				assert.Equal(t, 3, n)
			})
		})
	}
}

func TestBackend_Blobs(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.open(t, t.TempDir())

			id := interfaces.BlobID("0a4d55a8d778e5022fab701977c5d840bbc486d0.txt")
			exists, err := b.BlobExists(ctx, id)
			require.NoError(t, err)
			assert.False(t, exists)

			var written []int64
			data := []byte("Hello World\n")
			err = b.WriteBlob(ctx, id, content.NewBytesContent("text/plain", data), func(n int64) {
				written = append(written, n)
			})
			require.NoError(t, err)
			assert.Equal(t, []int64{int64(len(data))}, written)

			exists, err = b.BlobExists(ctx, id)
			require.NoError(t, err)
			assert.True(t, exists)

			c := b.BlobContent(id)
			assert.Contains(t, c.Type(), "text/plain")
			length, err := c.Length()
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), length)

			r, err := c.Open()
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, data, got)
		})
	}
}

func TestBackend_ConcurrentBlobWrites(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			b := tc.open(t, dir)

			id := interfaces.BlobID("0a4d55a8d778e5022fab701977c5d840bbc486d0.txt")
			data := []byte("Hello World\n")

			var wg sync.WaitGroup
			errs := make([]error, 8)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = b.WriteBlob(ctx, id, content.NewBytesContent("text/plain", data), nil)
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				require.NoError(t, err)
			}

			got, err := os.ReadFile(filepath.Join(dir, "Blobs", string(id)))
			require.NoError(t, err)
			assert.Equal(t, data, got)

			staged, err := os.ReadDir(filepath.Join(dir, "Blobs", stagingDirName))
			require.NoError(t, err)
			assert.Empty(t, staged)
		})
	}
}

func TestBackend_WriteBlobRejectsInvalidID(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.open(t, t.TempDir())
			err := b.WriteBlob(context.Background(), "../escape.txt", content.NewBytesContent("text/plain", []byte("x")), nil)
			assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

			exists, err := b.BlobExists(context.Background(), "../escape.txt")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestFileBackend_EntryLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, FileBackendConfig{}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.PutEntry(ctx, interfaces.EntryRecord{
		EntryID:      "photo-1",
		Metadata:     interfaces.NewEntryMetadata(map[string]string{"title": "Sunset"}),
		BlobSequence: []interfaces.BlobID{"feb78a44d55c9169801cf606cd6041ad9a5f69c9.png"},
	}))

	data, err := os.ReadFile(filepath.Join(dir, "Entries", "photo-1.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "entry_id: photo-1")
	assert.Contains(t, string(data), "blob_sequence:")
	assert.Contains(t, string(data), "feb78a44d55c9169801cf606cd6041ad9a5f69c9.png")

	assert.Equal(t, "file://"+dir, b.LocationURI())
}

func TestFileBackend_RejectsUnsafeEntryIDs(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), FileBackendConfig{}, testLogger())
	require.NoError(t, err)

	for _, id := range []interfaces.EntryID{"..", "../x", "a/b", ".hidden"} {
		err := b.PutEntry(context.Background(), interfaces.EntryRecord{EntryID: id})
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "id %q", id)
	}
}

func TestFileBackend_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, FileBackendConfig{}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.PutEntry(ctx, interfaces.EntryRecord{EntryID: "e1"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Entries", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Entries", ".entry-123"), []byte("x"), 0644))

	assert.Equal(t, []interfaces.EntryID{"e1"}, collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{})))
}

func TestFileBackend_CorruptEntryIsBackendFailure(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, FileBackendConfig{}, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Entries", "bad.yaml"), []byte("entry_id: [unterminated"), 0644))

	_, err = b.GetEntry(context.Background(), "bad")
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
}

func TestFileBackend_LexicalOrder(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), FileBackendConfig{Less: LexicalLess}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []interfaces.EntryID{"e1", "e2", "e10"} {
		require.NoError(t, b.PutEntry(ctx, interfaces.EntryRecord{EntryID: id}))
	}
	assert.Equal(t, []interfaces.EntryID{"e1", "e10", "e2"}, collectIDs(t, b.QueryEntries(ctx, interfaces.EntryQuery{})))
}

func TestSQLiteBackend_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewSQLiteBackend(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, b.PutEntry(ctx, interfaces.EntryRecord{EntryID: "e1", BlobSequence: []interfaces.BlobID{"feb78a44d55c9169801cf606cd6041ad9a5f69c9.png"}}))
	require.NoError(t, b.Close())

	b, err = NewSQLiteBackend(dir, testLogger())
	require.NoError(t, err)
	defer b.Close()

	rec, err := b.GetEntry(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []interfaces.BlobID{"feb78a44d55c9169801cf606cd6041ad9a5f69c9.png"}, rec.BlobSequence)
	assert.Equal(t, "sqlite://"+dir, b.LocationURI())
}
