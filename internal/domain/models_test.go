package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComponentType(t *testing.T) {
	tests := []struct {
		label string
		want  ComponentType
	}{
		{"CYLINDER", ComponentCylinder},
		{"cylinder", ComponentCylinder},
		{"  Valve\n", ComponentValve},
		{"GEARBOX", ComponentGearbox},
		{"UNKNOWN", ComponentUnknown},
		{"PUMP", ComponentUnknown},
		{"CYLINDER.", ComponentUnknown},
		{"It is a CYLINDER", ComponentUnknown},
		{"", ComponentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseComponentType(tt.label))
		})
	}
}

func TestProfileFor(t *testing.T) {
	cyl, ok := ProfileFor(ComponentCylinder)
	require.True(t, ok)
	assert.Equal(t, 13, cyl.Schema().Len())
	assert.Equal(t, "CYLINDER ACTION", cyl.Schema()[0])
	assert.Equal(t, FieldDrawingNumber, cyl.Schema()[12])

	for _, ct := range []ComponentType{ComponentValve, ComponentGearbox} {
		p, ok := ProfileFor(ct)
		require.True(t, ok)
		assert.GreaterOrEqual(t, p.Schema().Len(), 8)
		assert.LessOrEqual(t, p.Schema().Len(), 11)
	}

	_, ok = ProfileFor(ComponentUnknown)
	assert.False(t, ok, "UNKNOWN must not have an extraction profile")
}

func TestProfileSchemasHaveDistinctFields(t *testing.T) {
	for _, ct := range KnownComponentTypes {
		p, _ := ProfileFor(ct)
		seen := map[string]bool{}
		for _, f := range p.Schema() {
			assert.False(t, seen[f], "%s: duplicate field %s", ct, f)
			seen[f] = true
		}
	}
}

func TestProfilePromptListsFieldsInOrder(t *testing.T) {
	p, _ := ProfileFor(ComponentCylinder)
	prompt := p.Prompt()

	assert.Contains(t, prompt, "DO NOT estimate")
	assert.Contains(t, prompt, "BORE DIAMETER: [value] MM")
	assert.Contains(t, prompt, "OPERATING PRESSURE: [value] BAR")

	last := -1
	for _, f := range p.Schema() {
		idx := strings.Index(prompt, "\n"+f+":")
		require.NotEqual(t, -1, idx, "field %s missing from prompt", f)
		assert.Greater(t, idx, last, "field %s out of order", f)
		last = idx
	}
}

func TestFieldSchema_Resolve(t *testing.T) {
	p, _ := ProfileFor(ComponentCylinder)
	schema := p.Schema()

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"BORE DIAMETER", "BORE DIAMETER", true},
		{"bore diameter", "BORE DIAMETER", true},
		{"BORE DIAMETER(mm)", "BORE DIAMETER", true},
		{"OPERATING TEMPERATURE (°C)", "OPERATING TEMPERATURE", true},
		{"COLOUR", "", false},
		{"(mm)", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := schema.Resolve(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractionRecord(t *testing.T) {
	schema := FieldSchema{"A", "B", "C"}
	rec := NewExtractionRecord(schema)

	assert.Equal(t, 0, rec.Filled())
	for _, fv := range rec.Fields() {
		assert.Equal(t, "", fv.Value)
	}

	assert.True(t, rec.Set("a", "  1 "))
	assert.False(t, rec.Set("Z", "dropped"))

	v, ok := rec.Get("A")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = rec.Get("Z")
	assert.False(t, ok)
	assert.Equal(t, 1, rec.Filled())
	assert.Len(t, rec.Map(), 3)

	clone := rec.Clone()
	clone.Set("B", "2")
	assert.Equal(t, 1, rec.Filled(), "clone must not share values")
	assert.Equal(t, 2, clone.Filled())
}

func TestProcessingRecord_Clone(t *testing.T) {
	unit := &DrawingUnit{ID: 3, SourceName: "a.png"}
	rec := NewExtractionRecord(FieldSchema{"A"})
	pr := NewProcessingRecord(unit)
	pr.Extraction = &rec
	pr.ManualFields["A"] = true

	clone := pr.Clone()
	clone.ManualFields["B"] = true
	clone.Extraction.Set("A", "x")

	assert.Equal(t, StatusPending, pr.Status)
	assert.Equal(t, []string{"A"}, pr.ManualFieldNames())
	v, _ := pr.Extraction.Get("A")
	assert.Equal(t, "", v)
	assert.Same(t, unit, clone.Unit)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	for _, s := range []Status{StatusNotSupported, StatusFailed, StatusNeedsReview, StatusCompleted} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestDomainError(t *testing.T) {
	cause := errors.New("boom")
	err := ConversionError("decode page 2", cause)

	assert.Equal(t, "[conversion] decode page 2: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsType(err, ErrorTypeConversion))
	assert.False(t, IsType(err, ErrorTypeAPI))

	nested := APIError("classify", ValidationError("bad", nil))
	assert.True(t, IsType(nested, ErrorTypeValidation))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeAPI))
}
