package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/record"
)

func reviewedCylinder(t *testing.T) domain.ProcessingRecord {
	t.Helper()
	profile, ok := domain.ProfileFor(domain.ComponentCylinder)
	require.True(t, ok)

	rec := domain.NewExtractionRecord(profile.Schema())
	rec.Set("CYLINDER ACTION", "DOUBLE-ACTION")
	rec.Set("BORE DIAMETER", "80")
	rec.Set("ROD END", "EY")
	rec.Set("FLUID", "OIL")

	p := domain.NewProcessingRecord(&domain.DrawingUnit{ID: 4, SourceName: "set.pdf", PageIndex: 2})
	p.ComponentType = domain.ComponentCylinder
	p.Extraction = &rec
	p.ManualFields["FLUID"] = true
	p.FieldsFilled, p.TotalFields, p.Confidence = record.Aggregate(rec)
	p.Status = domain.StatusNeedsReview
	return p
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, ActionManuallyEdited, ActionFor("", true, domain.ConfidenceMax))
	assert.Equal(t, ActionManualInput, ActionFor(" ", false, domain.ConfidenceNone))
	assert.Equal(t, ActionAutoFilled, ActionFor("80 MM", false, domain.ConfidenceHigh))
	assert.Equal(t, ActionReview, ActionFor("80", false, domain.ConfidenceMediumHigh))
	assert.Equal(t, ActionReview, ActionFor("EY", false, domain.ConfidenceMedium))
}

func TestFieldRows(t *testing.T) {
	rows := FieldRows(reviewedCylinder(t), nil)
	require.Len(t, rows, 13)

	byField := map[string]FieldRow{}
	for _, r := range rows {
		byField[r.Field] = r
	}
	assert.Equal(t, FieldRow{"CYLINDER ACTION", "DOUBLE-ACTION", ActionAutoFilled, 90}, byField["CYLINDER ACTION"])
	assert.Equal(t, FieldRow{"BORE DIAMETER", "80", ActionReview, 75}, byField["BORE DIAMETER"])
	assert.Equal(t, FieldRow{"ROD END", "EY", ActionReview, 60}, byField["ROD END"])
	assert.Equal(t, FieldRow{"FLUID", "OIL", ActionManuallyEdited, 100}, byField["FLUID"])
	assert.Equal(t, FieldRow{"MOUNTING", "", ActionManualInput, 0}, byField["MOUNTING"])
}

func TestFieldRows_LongNumericIsAutoFilled(t *testing.T) {
	p := reviewedCylinder(t)
	p.Extraction.Set("STROKE LENGTH", "1500")

	for _, r := range FieldRows(p, nil) {
		if r.Field == "STROKE LENGTH" {
			assert.Equal(t, FieldRow{"STROKE LENGTH", "1500", ActionAutoFilled, 90}, r)
			return
		}
	}
	t.Fatal("STROKE LENGTH row missing")
}

func TestUnit_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Unit(&buf, reviewedCylinder(t), FormatCSV))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 14)
	assert.Equal(t, []string{"Field Name", "Value", "Action", "Confidence Score"}, records[0])
	assert.Equal(t, []string{"CYLINDER ACTION", "DOUBLE-ACTION", "Auto-filled", "90%"}, records[1])
}

func TestUnit_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Unit(&buf, reviewedCylinder(t), FormatXLSX))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Parameters")
	require.NoError(t, err)
	require.Len(t, rows, 14)
	assert.Equal(t, "Field Name", rows[0][0])
	assert.Equal(t, "BORE DIAMETER", rows[2][0])
	assert.Equal(t, "Review Required", rows[2][2])

	styleID, err := f.GetCellStyle("Parameters", "A1")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Font)
	assert.True(t, style.Font.Bold, "header row is bold")
}

func TestWriteXLSX_ReportsLayoutErrors(t *testing.T) {
	var buf bytes.Buffer
	err := writeXLSX(&buf, "Empty", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx layout")
	assert.Zero(t, buf.Len())
}

func TestUnit_WithoutExtraction(t *testing.T) {
	p := domain.NewProcessingRecord(&domain.DrawingUnit{ID: 1})
	p.Status = domain.StatusNotSupported
	err := Unit(&bytes.Buffer{}, p, FormatCSV)
	assert.True(t, domain.IsType(err, domain.ErrorTypeState))
}

func TestTable_CSV(t *testing.T) {
	rows := []record.Row{
		record.RowFor(reviewedCylinder(t)),
		{UnitID: 5, Source: "x.png", DrawingType: "UNKNOWN", Status: "Not Supported", ExtractedFields: "0/0", Confidence: "0%"},
	}
	var buf bytes.Buffer
	require.NoError(t, Table(&buf, rows, FormatCSV))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"4", "set.pdf", "2", "CYLINDER", "", "Needs Review", "4/13", "31%", ""}, records[1])
	assert.Equal(t, "", records[2][2])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}
