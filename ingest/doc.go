// Package ingest assembles entries from remote resources.
//
// Coordinator.Submit checks a Request against in-flight ingestions and the
// request's ConflictResolution, then returns a Record while the resources
// are downloaded on a bounded worker pool. Each resource moves through
// Initialized, Downloading and Writing to Success or Failed. One failed
// download marks the whole record Failed without cancelling its siblings;
// once all downloads have finished, a record that did not fail gets its
// entry written with the blobs in request order.
//
// The Store keeps every record for status reporting:
//
//	for _, rec := range coordinator.Store().Snapshot(ingest.RecordWorking) {
//	    fmt.Println(rec.EntryID, rec.Downloads[0].Summary)
//	}
package ingest
