package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ruteri/sbs/api"
	"github.com/ruteri/sbs/api/clients"
	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/ingest"
	"github.com/ruteri/sbs/interfaces"
	"github.com/ruteri/sbs/library"
	"github.com/ruteri/sbs/registry"
	"github.com/ruteri/sbs/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMetadata builds entry metadata from key=value attributes and tags.
func parseMetadata(attrs []string, tags []string) (interfaces.EntryMetadata, error) {
	attributes := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return interfaces.EntryMetadata{}, fmt.Errorf("%w: attribute %q is not key=value", interfaces.ErrInvalidArgument, kv)
		}
		attributes[k] = v
	}
	return interfaces.NewEntryMetadata(attributes, tags...), nil
}

func listLibraries(ctx context.Context, c *clients.Client, w io.Writer) error {
	libs, err := c.Libraries(ctx)
	if err != nil {
		return fmt.Errorf("could not list libraries: %w", err)
	}
	return printJSON(w, libs)
}

func listEntries(ctx context.Context, c *clients.Client, w io.Writer, libraryID interfaces.LibraryID, q clients.EntriesQuery, all bool) error {
	if !all {
		page, err := c.Entries(ctx, libraryID, q)
		if err != nil {
			return fmt.Errorf("could not list entries: %w", err)
		}
		return printJSON(w, page)
	}

	page := api.EntriesPage{Entries: []interfaces.EntryRecord{}}
	for {
		next, err := c.Entries(ctx, libraryID, q)
		if err != nil {
			return fmt.Errorf("could not list entries: %w", err)
		}
		page.Entries = append(page.Entries, next.Entries...)
		if next.NextAfter == "" {
			break
		}
		q.After = next.NextAfter
	}
	return printJSON(w, page)
}

func getEntry(ctx context.Context, c *clients.Client, w io.Writer, libraryID interfaces.LibraryID, entryID interfaces.EntryID) error {
	rec, err := c.Entry(ctx, libraryID, entryID)
	if err != nil {
		return fmt.Errorf("could not get entry: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("entry %s not found in %s", entryID, libraryID)
	}
	return printJSON(w, rec)
}

func downloadBlob(ctx context.Context, c *clients.Client, libraryID interfaces.LibraryID, blobID interfaces.BlobID, out string) error {
	if err := blobID.Validate(); err != nil {
		return err
	}
	blob, err := c.Blob(ctx, libraryID, blobID)
	if err != nil {
		return fmt.Errorf("could not get blob: %w", err)
	}
	if blob == nil {
		return fmt.Errorf("blob %s not found in %s", blobID, libraryID)
	}
	defer blob.Body.Close()

	var dst io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}
	if _, err := io.Copy(dst, blob.Body); err != nil {
		return fmt.Errorf("could not write blob: %w", err)
	}
	return nil
}

type importRequest struct {
	ConfigPath         string
	LibraryID          interfaces.LibraryID
	EntryID            interfaces.EntryID
	Metadata           interfaces.EntryMetadata
	ConflictResolution ingest.ConflictResolution
	Files              []string
}

// importFiles opens one library from the server config and stores the files
// as the blobs of an entry, in argument order.
func importFiles(ctx context.Context, log *slog.Logger, w io.Writer, req importRequest) error {
	if len(req.Files) == 0 {
		return fmt.Errorf("%w: no files to import", interfaces.ErrInvalidArgument)
	}

	cfg, err := registry.LoadConfig(req.ConfigPath)
	if err != nil {
		return err
	}
	var location string
	for _, lc := range cfg.Libraries {
		if lc.ID == req.LibraryID {
			location = lc.Location
		}
	}
	if location == "" {
		return fmt.Errorf("%w: %s", interfaces.ErrLibraryNotFound, req.LibraryID)
	}

	backend, err := storage.NewStorageBackendFactory(log).BackendForURI(req.LibraryID, location)
	if err != nil {
		return err
	}
	lib := library.New(req.LibraryID, backend, log, library.WithSpoolOptions(cfg.SpoolOptions()))
	defer lib.Close()

	proceed, reason, err := ingest.CheckConflict(ctx, lib, req.EntryID, req.ConflictResolution, len(req.Files))
	if err != nil {
		return err
	}
	if !proceed {
		log.Info("Skipping import: "+reason, slog.String("entry_id", string(req.EntryID)))
		return nil
	}

	contents := make([]interfaces.Content, len(req.Files))
	for i, path := range req.Files {
		fc, err := content.NewFileContent(path, "")
		if err != nil {
			return err
		}
		contents[i] = fc
	}

	entry, err := lib.CreateEntry(ctx, req.EntryID, req.Metadata, contents)
	if err != nil {
		return fmt.Errorf("could not import entry: %w", err)
	}
	return printJSON(w, entry.Record())
}

func submitIntake(ctx context.Context, c *clients.Client, w io.Writer, libraryID interfaces.LibraryID, entryID interfaces.EntryID, metadata interfaces.EntryMetadata, cr ingest.ConflictResolution, urls []string) error {
	resources := make([]ingest.Resource, len(urls))
	for i, u := range urls {
		resources[i] = ingest.Resource{URL: u}
	}

	resp, err := c.Submit(ctx, api.IntakeRequest{
		LibraryID:          libraryID,
		EntryID:            entryID,
		EntryMetadata:      metadata,
		ConflictResolution: cr,
		Resources:          resources,
	})
	if err != nil {
		return fmt.Errorf("intake request failed: %w", err)
	}
	return printJSON(w, resp)
}

func showStatus(ctx context.Context, c *clients.Client, w io.Writer, states []ingest.RecordState) error {
	status, err := c.IntakeStatus(ctx, states...)
	if err != nil {
		return fmt.Errorf("could not get intake status: %w", err)
	}
	return printJSON(w, status)
}

func showRecord(ctx context.Context, c *clients.Client, w io.Writer, recordID string) error {
	snap, err := c.IntakeRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("could not get ingestion: %w", err)
	}
	if snap == nil {
		return fmt.Errorf("ingestion %s not found", recordID)
	}
	return printJSON(w, snap)
}
