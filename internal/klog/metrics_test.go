package klog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMockMetricsRecordsLabels(t *testing.T) {
	m := NewMockMetrics()

	m.IncCounter("documents_ingested_total", map[string]string{"workspace_id": "ws-1"})
	m.ObserveHistogram("stage_duration_seconds", 1.5, map[string]string{"stage": "chunk"})

	assert.Equal(t, 1, m.Counters["documents_ingested_total"])
	assert.Equal(t, []float64{1.5}, m.Hists["stage_duration_seconds"])
	assert.Equal(t, "ws-1", m.Labels["documents_ingested_total"][0]["workspace_id"])
}

func TestNewDefaultsToInfoLevelOnEmptyString(t *testing.T) {
	logger := New(nil, "")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
