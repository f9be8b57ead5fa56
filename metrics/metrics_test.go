package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("sbs")

	m.BlobWritten("Colors")
	m.BlobWritten("Colors")
	m.DedupHit("Colors")
	m.IngestionStarted()
	m.IngestionStarted()
	m.IngestionFinished("Success")
	m.DownloadFinished("Failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.blobWrites.WithLabelValues("Colors")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dedupHits.WithLabelValues("Colors")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestionsWorking))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("Success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues("Failed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BlobWritten("Colors")
		m.DedupHit("Colors")
		m.IngestionStarted()
		m.IngestionFinished("Failed")
		m.DownloadFinished("Success")
	})
}
