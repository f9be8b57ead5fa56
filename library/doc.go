// Package library implements the storage facade that combines a backend with
// content deduplication.
//
// A Library exposes entry and blob operations over one interfaces.Backend. Blob
// ids are derived by BlobIDFor from the SHA-1 digest of the bytes plus an
// extension inferred from the MIME type; CreateBlob writes a blob only when no
// blob with the same id exists, so repeated ingestion of identical bytes costs
// one hash computation and no additional storage writes.
//
// Entries are listed lazily in backend order:
//
//	seq, err := lib.GetEntries(ctx, library.WithLimit(2), library.After("e10"), library.Reverse())
//	if err != nil {
//	    return err
//	}
//	for entry, err := range seq {
//	    ...
//	}
package library
