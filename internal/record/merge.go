package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
)

// Merge applies one correction. The field's value is replaced and marked as
// manually edited, then filled count, confidence and status are recomputed.
// A Completed unit stays Completed unless the correction lowers confidence.
// Inputs are not modified.
func Merge(proc domain.ProcessingRecord, rec domain.ExtractionRecord, c domain.Correction) (domain.ExtractionRecord, domain.ProcessingRecord, error) {
	switch proc.Status {
	case domain.StatusNeedsReview, domain.StatusCompleted:
	default:
		return rec, proc, domain.StateError(fmt.Sprintf("unit %d is %s and cannot be corrected", proc.UnitID, proc.Status), nil)
	}

	field, ok := rec.Schema().Resolve(c.Field)
	if !ok {
		return rec, proc, domain.ValidationError(fmt.Sprintf("field %q is not part of the %s schema", c.Field, proc.ComponentType), nil)
	}

	value := strings.TrimSpace(c.Value)
	current, _ := rec.Get(field)
	if current == value && proc.ManualFields[field] {
		return rec, proc, nil
	}

	outRec := rec.Clone()
	outProc := proc.Clone()
	outRec.Set(field, value)
	outProc.ManualFields[field] = true

	filled, total, confidence := Aggregate(outRec)

	status := domain.StatusNeedsReview
	if proc.Status == domain.StatusCompleted && confidence >= proc.Confidence {
		status = domain.StatusCompleted
	} else {
		var err error
		status, err = Transition(proc.Status, EventCorrected, confidence)
		if err != nil {
			return rec, proc, err
		}
	}

	outProc.FieldsFilled = filled
	outProc.TotalFields = total
	outProc.Confidence = confidence
	outProc.Status = status
	outProc.Extraction = &outRec
	if field == domain.FieldDrawingNumber {
		outProc.DrawingNumber = DrawingNumber(outRec, proc.ClassifiedDrawingNumber)
	}
	outProc.UpdatedAt = at(c)

	return outRec, outProc, nil
}

// MergeAll applies corrections in order. It stops at the first rejected
// correction and returns the state reached so far along with the error.
func MergeAll(proc domain.ProcessingRecord, rec domain.ExtractionRecord, cs []domain.Correction) (domain.ExtractionRecord, domain.ProcessingRecord, error) {
	for i, c := range cs {
		var err error
		rec, proc, err = Merge(proc, rec, c)
		if err != nil {
			return rec, proc, fmt.Errorf("correction %d (%s): %w", i+1, c.Field, err)
		}
	}
	return rec, proc, nil
}

// DrawingNumber prefers the DRAWING NUMBER field and falls back to the number
// the classifier read.
func DrawingNumber(rec domain.ExtractionRecord, classified string) string {
	if v, ok := rec.Get(domain.FieldDrawingNumber); ok && v != "" {
		return v
	}
	return classified
}

func at(c domain.Correction) time.Time {
	if c.At.IsZero() {
		return time.Now()
	}
	return c.At
}
