// Package record scores extraction records, drives the unit status machine
// and owns the per-batch processing table.
package record

import (
	"math"
	"strings"
	"unicode"

	"github.com/spherical/drawing-extractor/internal/domain"
)

// Aggregate returns the filled count, schema size and the confidence score
// round(100 * filled / total). An empty schema scores 0.
func Aggregate(rec domain.ExtractionRecord) (filled, total, confidence int) {
	total = rec.Schema().Len()
	filled = rec.Filled()
	if total == 0 {
		return filled, total, 0
	}
	confidence = int(math.Round(100 * float64(filled) / float64(total)))
	return filled, total, confidence
}

// StatusForConfidence maps a successful extraction's score to a status.
// Only a full record is Completed; everything else, including 0, needs review.
func StatusForConfidence(confidence int) domain.Status {
	if confidence >= 100 {
		return domain.StatusCompleted
	}
	return domain.StatusNeedsReview
}

// FieldPolicy rates a single value for reviewer cues. It never feeds the
// aggregate score.
type FieldPolicy interface {
	Score(value string, manual bool) domain.FieldConfidence
}

// HeuristicPolicy is the default FieldPolicy.
type HeuristicPolicy struct{}

// Score implements FieldPolicy.
func (HeuristicPolicy) Score(value string, manual bool) domain.FieldConfidence {
	value = strings.TrimSpace(value)
	switch {
	case manual:
		return domain.ConfidenceMax
	case value == "":
		return domain.ConfidenceNone
	case len([]rune(value)) > 2:
		return domain.ConfidenceHigh
	case isNumeric(value):
		return domain.ConfidenceMediumHigh
	default:
		return domain.ConfidenceMedium
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// FieldScore is one field of a record with its per-field confidence.
type FieldScore struct {
	Name       string                 `json:"name"`
	Value      string                 `json:"value"`
	Manual     bool                   `json:"manual"`
	Confidence domain.FieldConfidence `json:"-"`
	Percent    int                    `json:"confidence"`
}

// ScoreFields rates every field of p's extraction in schema order.
func ScoreFields(p domain.ProcessingRecord, policy FieldPolicy) []FieldScore {
	if p.Extraction == nil {
		return nil
	}
	if policy == nil {
		policy = HeuristicPolicy{}
	}
	fields := p.Extraction.Fields()
	out := make([]FieldScore, 0, len(fields))
	for _, f := range fields {
		manual := p.ManualFields[f.Name]
		c := policy.Score(f.Value, manual)
		out = append(out, FieldScore{
			Name:       f.Name,
			Value:      f.Value,
			Manual:     manual,
			Confidence: c,
			Percent:    c.Percent(),
		})
	}
	return out
}
