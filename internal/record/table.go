package record

import (
	"fmt"
	"sync"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
)

type entry struct {
	mu  sync.Mutex
	rec domain.ProcessingRecord
}

// Table is the unit-indexed processing table of one batch session. Writers
// to the same unit are serialized; different units update independently.
type Table struct {
	mu      sync.RWMutex
	entries map[int]*entry
	order   []int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[int]*entry)}
}

// Register adds a Pending record for unit. Registering an id again replaces
// the previous record, which is how a re-identified unit is superseded.
func (t *Table) Register(unit *domain.DrawingUnit) domain.ProcessingRecord {
	rec := domain.NewProcessingRecord(unit)

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[unit.ID]; ok {
		e.mu.Lock()
		e.rec = rec
		e.mu.Unlock()
		return rec.Clone()
	}
	t.entries[unit.ID] = &entry{rec: rec}
	t.order = append(t.order, unit.ID)
	return rec.Clone()
}

func (t *Table) lookup(id int) (*entry, error) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return nil, domain.ValidationError(fmt.Sprintf("unit %d not found", id), nil)
	}
	return e, nil
}

// Update runs fn on a working copy of unit id's record while holding that
// unit's lock. The copy is stored only if fn returns nil.
func (t *Table) Update(id int, fn func(*domain.ProcessingRecord) error) (domain.ProcessingRecord, error) {
	e, err := t.lookup(id)
	if err != nil {
		return domain.ProcessingRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.rec.Clone()
	if err := fn(&work); err != nil {
		return e.rec.Clone(), err
	}
	work.UpdatedAt = time.Now()
	e.rec = work
	return work.Clone(), nil
}

// Transition moves unit id through the status machine.
func (t *Table) Transition(id int, ev Event, diagnostic string) (domain.ProcessingRecord, error) {
	return t.Update(id, func(p *domain.ProcessingRecord) error {
		next, err := Transition(p.Status, ev, p.Confidence)
		if err != nil {
			return err
		}
		if ev == EventDispatched {
			p.Attempts++
			p.Diagnostic = ""
		}
		if diagnostic != "" {
			p.Diagnostic = diagnostic
		}
		p.Status = next
		return nil
	})
}

// Get returns a copy of unit id's record.
func (t *Table) Get(id int) (domain.ProcessingRecord, bool) {
	e, err := t.lookup(id)
	if err != nil {
		return domain.ProcessingRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), true
}

// Snapshot returns copies of every record in registration order.
func (t *Table) Snapshot() []domain.ProcessingRecord {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.order))
	for _, id := range t.order {
		entries = append(entries, t.entries[id])
	}
	t.mu.RUnlock()

	out := make([]domain.ProcessingRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of registered units.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Summary counts records per status.
func (t *Table) Summary() domain.BatchSummary {
	var s domain.BatchSummary
	for _, r := range t.Snapshot() {
		s.Total++
		switch r.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusNeedsReview:
			s.NeedsReview++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusNotSupported:
			s.NotSupported++
		default:
			s.Pending++
		}
	}
	return s
}

// ApplyCorrection merges c into unit id's record.
func (t *Table) ApplyCorrection(id int, c domain.Correction) (domain.ProcessingRecord, error) {
	return t.ApplyCorrections(id, []domain.Correction{c})
}

// ApplyCorrections merges cs into unit id's record in order. Either all
// corrections are stored or none are.
func (t *Table) ApplyCorrections(id int, cs []domain.Correction) (domain.ProcessingRecord, error) {
	return t.Update(id, func(p *domain.ProcessingRecord) error {
		if p.Extraction == nil {
			return domain.StateError(fmt.Sprintf("unit %d has no extraction to correct", id), nil)
		}
		_, merged, err := MergeAll(*p, *p.Extraction, cs)
		if err != nil {
			return err
		}
		*p = merged
		return nil
	})
}

// Row is one line of the processing history table.
type Row struct {
	UnitID          int    `json:"unit_id"`
	Source          string `json:"source"`
	Page            int    `json:"page"`
	DrawingType     string `json:"drawing_type"`
	DrawingNumber   string `json:"drawing_number"`
	Status          string `json:"status"`
	ExtractedFields string `json:"extracted_fields"`
	Confidence      string `json:"confidence"`
	Diagnostic      string `json:"diagnostic,omitempty"`
}

// RowFor renders p as a history table row.
func RowFor(p domain.ProcessingRecord) Row {
	r := Row{
		UnitID:          p.UnitID,
		DrawingType:     string(p.ComponentType),
		DrawingNumber:   p.DrawingNumber,
		Status:          string(p.Status),
		ExtractedFields: fmt.Sprintf("%d/%d", p.FieldsFilled, p.TotalFields),
		Confidence:      fmt.Sprintf("%d%%", p.Confidence),
		Diagnostic:      p.Diagnostic,
	}
	if p.Unit != nil {
		r.Source = p.Unit.SourceName
		r.Page = p.Unit.PageIndex
	}
	return r
}

// Rows renders the whole table.
func (t *Table) Rows() []Row {
	snap := t.Snapshot()
	out := make([]Row, len(snap))
	for i, p := range snap {
		out[i] = RowFor(p)
	}
	return out
}
