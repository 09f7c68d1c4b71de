// Package pipeline runs classify -> extract -> parse -> score for a batch of
// drawing units with bounded concurrency.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/drawing-extractor/internal/classify"
	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/extract"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/parse"
	"github.com/spherical/drawing-extractor/internal/record"
)

// DefaultWorkers is the number of units processed in parallel.
const DefaultWorkers = 4

// Pipeline processes units into the processing table.
type Pipeline struct {
	classifier *classify.Classifier
	extractor  *extract.Service
	table      *record.Table
	workers    int
	logger     *observability.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the dispatch concurrency.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline writing into table. Both the classifier and the
// extractor talk to model.
func New(model domain.VisionModel, table *record.Table, opts ...Option) *Pipeline {
	p := &Pipeline{
		table:   table,
		workers: DefaultWorkers,
		logger:  observability.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.WithOperation("pipeline")
	p.classifier = classify.NewClassifier(model, p.logger)
	p.extractor = extract.NewService(model, p.logger)
	return p
}

// Table returns the processing table.
func (p *Pipeline) Table() *record.Table { return p.table }

// Run registers units as Pending and processes them. Cancelling ctx stops
// dispatching: units already dispatched run to completion or timeout, the
// rest are marked Failed. No unit is left Pending when Run returns.
func (p *Pipeline) Run(ctx context.Context, units []domain.DrawingUnit, events chan<- domain.StreamEvent) domain.BatchSummary {
	for i := range units {
		p.table.Register(&units[i])
	}
	return p.dispatch(ctx, units, events)
}

// Retry re-dispatches the given units if they are Failed. Other ids are
// skipped with a warning.
func (p *Pipeline) Retry(ctx context.Context, ids []int, events chan<- domain.StreamEvent) domain.BatchSummary {
	var units []domain.DrawingUnit
	for _, id := range ids {
		rec, ok := p.table.Get(id)
		if !ok || rec.Unit == nil {
			p.logger.Warn().Int("unit_id", id).Msg("Retry requested for unknown unit")
			continue
		}
		if rec.Status != domain.StatusFailed {
			p.logger.Warn().Int("unit_id", id).Str("status", string(rec.Status)).Msg("Only failed units can be retried")
			continue
		}
		units = append(units, *rec.Unit)
	}
	return p.dispatch(ctx, units, events)
}

func (p *Pipeline) dispatch(ctx context.Context, units []domain.DrawingUnit, events chan<- domain.StreamEvent) domain.BatchSummary {
	start := time.Now()
	p.emitEvent(events, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Processing %d units with %d workers", len(units), p.workers),
		Timestamp: time.Now(),
	})
	p.logger.Info().Int("units", len(units)).Int("workers", p.workers).Msg("Batch started")

	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	next := 0
	for ; next < len(units); next++ {
		if ctx.Err() != nil {
			break
		}
		unit := units[next]
		g.Go(func() error {
			if ctx.Err() != nil {
				p.abandon(unit)
				return nil
			}
			// Dispatched work is not cancelled by a stop; the per-call
			// timeout bounds it.
			p.processUnit(context.WithoutCancel(ctx), unit, events)
			return nil
		})
	}
	_ = g.Wait()

	for _, u := range units[next:] {
		p.abandon(u)
	}
	if next < len(units) {
		p.logger.Warn().Int("skipped", len(units)-next).Msg("Batch stopped early")
	}

	summary := p.summarize(units)
	summary.Duration = time.Since(start)

	p.emitEvent(events, domain.StreamEvent{
		Type:      domain.EventComplete,
		Payload:   summary,
		Timestamp: time.Now(),
	})
	p.logger.Info().
		Int("completed", summary.Completed).
		Int("needs_review", summary.NeedsReview).
		Int("failed", summary.Failed).
		Int("not_supported", summary.NotSupported).
		Dur("duration", summary.Duration).
		Msg("Batch complete")
	return summary
}

func (p *Pipeline) processUnit(ctx context.Context, unit domain.DrawingUnit, events chan<- domain.StreamEvent) {
	log := p.logger.WithUnit(unit.ID, unit.SourceName)

	if _, err := p.table.Transition(unit.ID, record.EventDispatched, ""); err != nil {
		log.Error().Err(err).Msg("Unit could not be dispatched")
		p.emitError(events, unit.ID, err)
		return
	}
	p.emitEvent(events, domain.StreamEvent{
		Type:      domain.EventUnitProcessing,
		UnitID:    unit.ID,
		Status:    domain.StatusProcessing,
		Timestamp: time.Now(),
	})

	res := p.classifier.Classify(ctx, unit)
	p.emitEvent(events, domain.StreamEvent{
		Type:      domain.EventUnitClassified,
		UnitID:    unit.ID,
		Payload:   res.Type,
		Timestamp: time.Now(),
	})

	if res.Failed {
		rec, err := p.table.Update(unit.ID, func(r *domain.ProcessingRecord) error {
			next, err := record.Transition(r.Status, record.EventProviderFailed, 0)
			if err != nil {
				return err
			}
			r.Status = next
			r.ComponentType = domain.ComponentUnknown
			r.Diagnostic = res.Diagnostic
			r.Extraction = nil
			r.FieldsFilled, r.TotalFields, r.Confidence = 0, 0, 0
			return nil
		})
		p.emitError(events, unit.ID, errors.New(res.Diagnostic))
		p.finish(events, log, rec, err)
		return
	}

	profile, ok := domain.ProfileFor(res.Type)
	if !ok {
		rec, err := p.table.Update(unit.ID, func(r *domain.ProcessingRecord) error {
			next, err := record.Transition(r.Status, record.EventNotSupported, 0)
			if err != nil {
				return err
			}
			r.Status = next
			r.ComponentType = domain.ComponentUnknown
			r.DrawingNumber = res.DrawingNumber
			r.ClassifiedDrawingNumber = res.DrawingNumber
			r.Diagnostic = res.Diagnostic
			r.Extraction = nil
			r.FieldsFilled, r.TotalFields, r.Confidence = 0, 0, 0
			return nil
		})
		p.finish(events, log, rec, err)
		return
	}

	tr := p.extractor.Extract(ctx, unit, profile)
	if tr.Failed() {
		rec, err := p.table.Update(unit.ID, func(r *domain.ProcessingRecord) error {
			next, err := record.Transition(r.Status, record.EventExtractionFailed, 0)
			if err != nil {
				return err
			}
			r.Status = next
			r.ComponentType = res.Type
			r.DrawingNumber = res.DrawingNumber
			r.ClassifiedDrawingNumber = res.DrawingNumber
			r.TotalFields = profile.Schema().Len()
			r.Diagnostic = tr.Text
			return nil
		})
		p.emitError(events, unit.ID, tr.Err)
		p.finish(events, log, rec, err)
		return
	}

	extraction := parse.ParseRecord(tr.Text, profile.Schema())
	filled, total, confidence := record.Aggregate(extraction)

	rec, err := p.table.Update(unit.ID, func(r *domain.ProcessingRecord) error {
		next, err := record.Transition(r.Status, record.EventExtractionSuccess, confidence)
		if err != nil {
			return err
		}
		r.Status = next
		r.ComponentType = res.Type
		r.ClassifiedDrawingNumber = res.DrawingNumber
		r.DrawingNumber = record.DrawingNumber(extraction, res.DrawingNumber)
		r.Extraction = &extraction
		r.ManualFields = map[string]bool{}
		r.FieldsFilled, r.TotalFields, r.Confidence = filled, total, confidence
		r.Diagnostic = ""
		return nil
	})
	p.finish(events, log, rec, err)
}

// abandon closes out a unit that was never sent. Units that are already
// terminal (a retried Failed unit) are left alone.
func (p *Pipeline) abandon(unit domain.DrawingUnit) {
	_, err := p.table.Update(unit.ID, func(r *domain.ProcessingRecord) error {
		if r.Status != domain.StatusPending {
			return nil
		}
		next, err := record.Transition(r.Status, record.EventAbandoned, 0)
		if err != nil {
			return err
		}
		r.Status = next
		r.Diagnostic = "not dispatched: batch stopped before this unit was sent"
		return nil
	})
	if err != nil {
		p.logger.Error().Err(err).Int("unit_id", unit.ID).Msg("Failed to close out undispatched unit")
	}
}

func (p *Pipeline) finish(events chan<- domain.StreamEvent, log *observability.Logger, rec domain.ProcessingRecord, err error) {
	if err != nil {
		log.Error().Err(err).Msg("Failed to store unit result")
		p.emitError(events, rec.UnitID, err)
		return
	}
	log.Info().
		Str("status", string(rec.Status)).
		Str("type", string(rec.ComponentType)).
		Int("confidence", rec.Confidence).
		Msg("Unit processed")
	p.emitEvent(events, domain.StreamEvent{
		Type:      domain.EventUnitComplete,
		UnitID:    rec.UnitID,
		Status:    rec.Status,
		Payload:   record.RowFor(rec),
		Timestamp: time.Now(),
	})
}

func (p *Pipeline) summarize(units []domain.DrawingUnit) domain.BatchSummary {
	var s domain.BatchSummary
	for _, u := range units {
		rec, ok := p.table.Get(u.ID)
		if !ok {
			continue
		}
		s.Total++
		switch rec.Status {
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

// emitEvent sends an event without blocking the pipeline.
func (p *Pipeline) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			p.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

func (p *Pipeline) emitError(eventCh chan<- domain.StreamEvent, unitID int, err error) {
	if err == nil {
		return
	}
	p.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		UnitID:    unitID,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}
