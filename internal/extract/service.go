// Package extract requests the type-specific field transcript for a page.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
)

// ErrorMarker prefixes the text of a failed transcript.
const ErrorMarker = "EXTRACTION ERROR: "

// Transcript is the raw model answer for one page. A failed call yields a
// sentinel transcript whose Err is set and whose Text starts with ErrorMarker.
type Transcript struct {
	Text string
	Err  error
}

// Failed distinguishes a sentinel transcript from a legitimate, possibly
// empty, one.
func (t Transcript) Failed() bool { return t.Err != nil }

// IsSentinel reports whether text was produced by a failed extraction.
func IsSentinel(text string) bool { return strings.HasPrefix(text, ErrorMarker) }

// Service issues extraction requests.
type Service struct {
	model  domain.VisionModel
	logger *observability.Logger
}

// NewService creates a new extraction service
func NewService(model domain.VisionModel, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{model: model, logger: logger.WithOperation("extract")}
}

// Extract sends the profile's prompt with the unit's image. The transcript is
// not interpreted here.
func (s *Service) Extract(ctx context.Context, unit domain.DrawingUnit, profile domain.Profile) Transcript {
	log := s.logger.WithUnit(unit.ID, unit.SourceName)
	start := time.Now()

	text, err := s.model.Complete(ctx, profile.Prompt(), unit.Image)
	if err != nil {
		derr := domain.ExtractionError("extraction request failed", err)
		log.Warn().Err(err).Str("type", string(profile.Type)).Msg("Extraction call failed")
		return Transcript{Text: ErrorMarker + err.Error(), Err: derr}
	}

	log.Debug().
		Str("type", string(profile.Type)).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("Transcript received")
	return Transcript{Text: text}
}
