package api

import (
	"github.com/ruteri/sbs/ingest"
	"github.com/ruteri/sbs/interfaces"
)

// DefaultPageLimit is the page size of entry listings that do not set one.
const DefaultPageLimit = 100

// LibraryInfo describes one registered library.
type LibraryInfo struct {
	LibraryID interfaces.LibraryID `json:"library_id"`
	Backend   string               `json:"backend"`
}

// EntriesPage is one page of an entry listing. NextAfter is set when the page
// is full and is the cursor to request the following page with.
type EntriesPage struct {
	Entries   []interfaces.EntryRecord `json:"entries"`
	NextAfter interfaces.EntryID       `json:"next_after,omitempty"`
}

// IntakeContent is the legacy url list of an intake request.
type IntakeContent struct {
	URLs []string `json:"urls"`
}

// IntakeRequest is the body of POST /api/intake.
type IntakeRequest struct {
	LibraryID          interfaces.LibraryID      `json:"library_id"`
	EntryID            interfaces.EntryID        `json:"entry_id"`
	EntryMetadata      interfaces.EntryMetadata  `json:"entry_metadata"`
	ConflictResolution ingest.ConflictResolution `json:"conflict_resolution"`
	Content            *IntakeContent            `json:"content,omitempty"`
	Resources          []ingest.Resource         `json:"resources,omitempty"`
}

// IngestRequest converts the wire request. Resources come first, followed
// by the urls of the legacy content list.
func (r IntakeRequest) IngestRequest() ingest.Request {
	resources := make([]ingest.Resource, 0, len(r.Resources))
	resources = append(resources, r.Resources...)
	if r.Content != nil {
		for _, u := range r.Content.URLs {
			resources = append(resources, ingest.Resource{URL: u})
		}
	}
	return ingest.Request{
		LibraryID:          r.LibraryID,
		EntryID:            r.EntryID,
		Metadata:           r.EntryMetadata,
		ConflictResolution: r.ConflictResolution,
		Resources:          resources,
	}
}

// IntakeResponse is returned for every well-formed intake request.
type IntakeResponse struct {
	Accepted bool   `json:"accepted"`
	RecordID string `json:"record_id,omitempty"`
}

// IntakeStatus lists ingestion records in submission order.
type IntakeStatus struct {
	// Count is the number of records listed.
	Count int `json:"count"`
	// CountByState counts every retained record, regardless of the filter.
	CountByState map[ingest.RecordState]int `json:"count_by_state"`
	Ingestions   []ingest.RecordSnapshot    `json:"ingestions"`
}
