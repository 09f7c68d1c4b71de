package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/record"
)

func sampleRows() []record.Row {
	return []record.Row{
		{UnitID: 1, Source: "set.pdf", Page: 1, DrawingType: "VALVE", DrawingNumber: "V-12", Status: "Completed", ExtractedFields: "11/11", Confidence: "100%"},
		{UnitID: 2, Source: "logo.png", DrawingType: "UNKNOWN", Status: "Not Supported", ExtractedFields: "0/0", Confidence: "0%", Diagnostic: "timeout"},
	}
}

func TestUI_TableJSON(t *testing.T) {
	var out bytes.Buffer
	ui := NewUI(&out, true, true)

	summary := domain.BatchSummary{Total: 2, Completed: 1, NotSupported: 1, Duration: time.Second}
	require.NoError(t, ui.Table(sampleRows(), summary))

	var got struct {
		Summary domain.BatchSummary `json:"summary"`
		Units   []record.Row        `json:"units"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 2, got.Summary.Total)
	require.Len(t, got.Units, 2)
	assert.Equal(t, "V-12", got.Units[0].DrawingNumber)
}

func TestUI_TableText(t *testing.T) {
	var out bytes.Buffer
	ui := NewUI(&out, false, true)

	summary := domain.BatchSummary{Total: 2, Completed: 1, NotSupported: 1}
	require.NoError(t, ui.Table(sampleRows(), summary))

	text := out.String()
	assert.Contains(t, text, "DRAWING NO.")
	assert.Contains(t, text, "V-12")
	assert.Contains(t, text, "2 units: 1 completed, 0 need review, 0 failed, 1 not supported")
}

func TestUI_JSONModeIsQuiet(t *testing.T) {
	var out bytes.Buffer
	ui := NewUI(&out, true, true)
	ui.Success("done")
	ui.Info("working")
	assert.Empty(t, out.String())
	assert.Nil(t, ui.NewProgress(3))
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "X", orDash("X"))
}
