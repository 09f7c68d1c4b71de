package domain

import (
	"sort"
	"strings"
	"time"
)

// ComponentType is the classified kind of mechanical component on a drawing.
type ComponentType string

const (
	ComponentCylinder ComponentType = "CYLINDER"
	ComponentValve    ComponentType = "VALVE"
	ComponentGearbox  ComponentType = "GEARBOX"
	ComponentUnknown  ComponentType = "UNKNOWN"
)

// KnownComponentTypes lists the types the pipeline can extract, in prompt order.
var KnownComponentTypes = []ComponentType{ComponentCylinder, ComponentValve, ComponentGearbox}

// ParseComponentType maps a model label to a ComponentType. Anything that is not
// exactly one of the known labels (after trimming and uppercasing) is UNKNOWN.
func ParseComponentType(label string) ComponentType {
	label = strings.ToUpper(strings.TrimSpace(label))
	for _, t := range KnownComponentTypes {
		if label == string(t) {
			return t
		}
	}
	return ComponentUnknown
}

// Status is the lifecycle state of a unit in the processing table.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusProcessing   Status = "Processing"
	StatusNotSupported Status = "Not Supported"
	StatusFailed       Status = "Failed"
	StatusNeedsReview  Status = "Needs Review"
	StatusCompleted    Status = "Completed"
)

// Terminal reports whether the automatic pipeline is done with a unit in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusNotSupported, StatusFailed, StatusNeedsReview, StatusCompleted:
		return true
	}
	return false
}

// DrawingUnit is one normalized raster page. It is immutable after ingestion.
type DrawingUnit struct {
	ID          int
	SourceName  string
	PageIndex   int // 0 for single images, 1-based for PDF pages
	Image       []byte
	Width       int
	Height      int
	ContentHash string // sha256 hex of Image
}

// FieldSchema is the ordered list of fields expected for a component type.
type FieldSchema []string

// Len returns the number of fields.
func (s FieldSchema) Len() int { return len(s) }

// Contains reports whether name is a schema member (case-insensitive).
func (s FieldSchema) Contains(name string) bool {
	_, ok := s.Resolve(name)
	return ok
}

// Resolve returns the canonical schema field for a model-emitted key. Keys are
// compared uppercased; a trailing unit annotation such as "(mm)" is ignored.
func (s FieldSchema) Resolve(key string) (string, bool) {
	key = strings.ToUpper(strings.TrimSpace(key))
	for _, f := range s {
		if f == key {
			return f, true
		}
	}
	if i := strings.Index(key, "("); i > 0 {
		base := strings.TrimSpace(key[:i])
		for _, f := range s {
			if f == base {
				return f, true
			}
		}
	}
	return "", false
}

// ExtractionRecord is a schema-complete field -> value mapping. Every schema
// field is always present; missing values are the empty string.
type ExtractionRecord struct {
	schema FieldSchema
	values map[string]string
}

// NewExtractionRecord returns a record with every schema field set to "".
func NewExtractionRecord(schema FieldSchema) ExtractionRecord {
	values := make(map[string]string, len(schema))
	for _, f := range schema {
		values[f] = ""
	}
	return ExtractionRecord{schema: schema, values: values}
}

// Schema returns the record's schema.
func (r ExtractionRecord) Schema() FieldSchema { return r.schema }

// Get returns the value for field and whether field is a schema member.
func (r ExtractionRecord) Get(field string) (string, bool) {
	canonical, ok := r.schema.Resolve(field)
	if !ok {
		return "", false
	}
	return r.values[canonical], true
}

// Set stores value under field. Non-members are dropped and reported as false.
func (r ExtractionRecord) Set(field, value string) bool {
	canonical, ok := r.schema.Resolve(field)
	if !ok {
		return false
	}
	r.values[canonical] = strings.TrimSpace(value)
	return true
}

// Fields returns field/value pairs in schema order.
func (r ExtractionRecord) Fields() []FieldValue {
	out := make([]FieldValue, 0, len(r.schema))
	for _, f := range r.schema {
		out = append(out, FieldValue{Name: f, Value: r.values[f]})
	}
	return out
}

// Filled counts the non-empty values.
func (r ExtractionRecord) Filled() int {
	n := 0
	for _, f := range r.schema {
		if strings.TrimSpace(r.values[f]) != "" {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (r ExtractionRecord) Clone() ExtractionRecord {
	values := make(map[string]string, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return ExtractionRecord{schema: r.schema, values: values}
}

// Map returns a copy of the values keyed by field name.
func (r ExtractionRecord) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// FieldValue is one ordered entry of an ExtractionRecord.
type FieldValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ProcessingRecord is the per-unit lifecycle and scoring state.
type ProcessingRecord struct {
	UnitID        int
	ComponentType ComponentType
	DrawingNumber string
	Status        Status
	FieldsFilled  int
	TotalFields   int
	Confidence    int
	Unit          *DrawingUnit
	Extraction    *ExtractionRecord
	ManualFields  map[string]bool
	Diagnostic    string
	Attempts      int
	UpdatedAt     time.Time

	// ClassifiedDrawingNumber is what the classifier read from the title
	// block; DrawingNumber falls back to it when the field is empty.
	ClassifiedDrawingNumber string
}

// NewProcessingRecord creates the Pending record for a freshly ingested unit.
func NewProcessingRecord(unit *DrawingUnit) ProcessingRecord {
	return ProcessingRecord{
		UnitID:        unit.ID,
		ComponentType: ComponentUnknown,
		Status:        StatusPending,
		Unit:          unit,
		ManualFields:  map[string]bool{},
		UpdatedAt:     time.Now(),
	}
}

// Clone returns a copy that shares the immutable unit but no mutable state.
func (p ProcessingRecord) Clone() ProcessingRecord {
	out := p
	out.ManualFields = make(map[string]bool, len(p.ManualFields))
	for k, v := range p.ManualFields {
		out.ManualFields[k] = v
	}
	if p.Extraction != nil {
		rec := p.Extraction.Clone()
		out.Extraction = &rec
	}
	return out
}

// ManualFieldNames returns the manually edited fields, sorted.
func (p ProcessingRecord) ManualFieldNames() []string {
	names := make([]string, 0, len(p.ManualFields))
	for k, v := range p.ManualFields {
		if v {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Correction is a manual override of one field's value.
type Correction struct {
	Field    string    `json:"field"`
	Value    string    `json:"value"`
	Reviewer string    `json:"reviewer,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

// FieldConfidence is the per-field trust level used for reviewer cues.
type FieldConfidence int

const (
	ConfidenceNone FieldConfidence = iota
	ConfidenceMedium
	ConfidenceMediumHigh
	ConfidenceHigh
	ConfidenceMax
)

// Percent maps the level to the score shown in exports.
func (c FieldConfidence) Percent() int {
	switch c {
	case ConfidenceMax:
		return 100
	case ConfidenceHigh:
		return 90
	case ConfidenceMediumHigh:
		return 75
	case ConfidenceMedium:
		return 60
	default:
		return 0
	}
}

func (c FieldConfidence) String() string {
	switch c {
	case ConfidenceMax:
		return "max"
	case ConfidenceHigh:
		return "high"
	case ConfidenceMediumHigh:
		return "medium-high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "none"
	}
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventUnitProcessing EventType = "unit_processing"
	EventUnitClassified EventType = "unit_classified"
	EventUnitComplete   EventType = "unit_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type      EventType   `json:"type"`
	UnitID    int         `json:"unit_id,omitempty"`
	Status    Status      `json:"status,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BatchSummary counts final statuses of a batch run.
type BatchSummary struct {
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	NeedsReview  int           `json:"needs_review"`
	Failed       int           `json:"failed"`
	NotSupported int           `json:"not_supported"`
	Pending      int           `json:"pending"`
	Duration     time.Duration `json:"duration"`
}
