// Package export renders extraction results as CSV or XLSX.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/record"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx", case-insensitively. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", domain.ValidationError(fmt.Sprintf("unsupported export format %q", s), nil)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Action tells a reviewer what to do with a field.
type Action string

const (
	ActionAutoFilled     Action = "Auto-filled"
	ActionReview         Action = "Review Required"
	ActionManualInput    Action = "Manual Input Required"
	ActionManuallyEdited Action = "Manually Edited"
)

// ActionFor derives the action from a field's value and confidence.
func ActionFor(value string, manual bool, c domain.FieldConfidence) Action {
	switch {
	case manual:
		return ActionManuallyEdited
	case strings.TrimSpace(value) == "":
		return ActionManualInput
	case c >= domain.ConfidenceHigh:
		return ActionAutoFilled
	default:
		return ActionReview
	}
}

// FieldRow is one line of a unit export.
type FieldRow struct {
	Field      string `json:"field"`
	Value      string `json:"value"`
	Action     Action `json:"action"`
	Confidence int    `json:"confidence"`
}

var (
	fieldHeaders = []string{"Field Name", "Value", "Action", "Confidence Score"}
	tableHeaders = []string{"Unit", "Source", "Page", "Drawing Type", "Drawing No.", "Processing Status", "Extracted Fields Count", "Confidence Score", "Diagnostic"}
)

// FieldRows builds one row per schema field of p, in schema order.
func FieldRows(p domain.ProcessingRecord, policy record.FieldPolicy) []FieldRow {
	scores := record.ScoreFields(p, policy)
	rows := make([]FieldRow, len(scores))
	for i, s := range scores {
		rows[i] = FieldRow{
			Field:      s.Name,
			Value:      s.Value,
			Action:     ActionFor(s.Value, s.Manual, s.Confidence),
			Confidence: s.Percent,
		}
	}
	return rows
}

// Unit writes the field rows of one unit in the given format.
func Unit(w io.Writer, p domain.ProcessingRecord, f Format) error {
	if p.Extraction == nil {
		return domain.StateError(fmt.Sprintf("unit %d has no extracted fields (%s)", p.UnitID, p.Status), nil)
	}
	rows := FieldRows(p, nil)
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{r.Field, r.Value, string(r.Action), fmt.Sprintf("%d%%", r.Confidence)}
	}
	return write(w, f, "Parameters", fieldHeaders, cells)
}

// Table writes the processing history table.
func Table(w io.Writer, rows []record.Row, f Format) error {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		page := ""
		if r.Page > 0 {
			page = strconv.Itoa(r.Page)
		}
		cells[i] = []string{
			strconv.Itoa(r.UnitID), r.Source, page, r.DrawingType, r.DrawingNumber,
			r.Status, r.ExtractedFields, r.Confidence, r.Diagnostic,
		}
	}
	return write(w, f, "Processing", tableHeaders, cells)
}

func write(w io.Writer, f Format, sheet string, headers []string, rows [][]string) error {
	switch f {
	case FormatXLSX:
		return writeXLSX(w, sheet, headers, rows)
	default:
		return writeCSV(w, headers, rows)
	}
}

func writeCSV(w io.Writer, headers []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return domain.IOError("write csv header", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return domain.IOError("write csv rows", err)
	}
	return nil
}

func writeXLSX(w io.Writer, sheet string, headers []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return domain.IOError("name sheet", err)
	}

	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	for r, row := range rows {
		if err := setRow(f, sheet, r+2, row); err != nil {
			return err
		}
	}

	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return domain.IOError("xlsx layout", err)
	}
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return domain.IOError("xlsx layout", err)
	}
	if err := f.SetColWidth(sheet, "A", "A", 28); err != nil {
		return domain.IOError("xlsx layout", err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return domain.IOError("xlsx style", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return domain.IOError("xlsx style", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return domain.IOError("xlsx write", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return domain.IOError("xlsx write", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	for c, v := range values {
		cell, err := excelize.CoordinatesToCellName(c+1, row)
		if err != nil {
			return domain.IOError("xlsx cell", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return domain.IOError("xlsx cell", err)
		}
	}
	return nil
}
