package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/drawing-extractor/internal/cache"
	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/ingest"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/record"
)

// Session is the explicit batch context: it owns the processing table and
// everything cached on its behalf, and is discarded when the batch ends.
type Session struct {
	ID         string
	CreatedAt  time.Time
	table      *record.Table
	pipeline   *Pipeline
	normalizer *ingest.Normalizer
	cache      cache.Client
	logger     *observability.Logger

	mu     sync.Mutex
	nextID int
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Workers    int
	Normalizer *ingest.Normalizer
	// Cache is optional; when set, transcripts are cached under the session id.
	Cache    cache.Client
	CacheTTL time.Duration
	Logger   *observability.Logger
}

// NewSession starts an empty session around model.
func NewSession(model domain.VisionModel, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	id := uuid.New().String()
	logger = logger.WithContext(observability.ContextWithSessionID(context.Background(), id))

	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = ingest.NewNormalizer(logger)
	}

	table := record.NewTable()
	cached := cache.NewModel(model, cfg.Cache, id, cfg.CacheTTL, logger)

	return &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		table:      table,
		pipeline:   New(cached, table, WithWorkers(cfg.Workers), WithLogger(logger)),
		normalizer: normalizer,
		cache:      cfg.Cache,
		logger:     logger,
		nextID:     1,
	}
}

// Table returns the session's processing table.
func (s *Session) Table() *record.Table { return s.table }

// Ingest normalizes uploads into units whose ids continue the session's
// numbering.
func (s *Session) Ingest(ctx context.Context, uploads []ingest.Upload) ([]domain.DrawingUnit, []ingest.IngestError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	units, errs := s.normalizer.NormalizeFrom(ctx, uploads, s.nextID)
	s.nextID += len(units)
	return units, errs
}

// Process runs the pipeline over units.
func (s *Session) Process(ctx context.Context, units []domain.DrawingUnit, events chan<- domain.StreamEvent) domain.BatchSummary {
	return s.pipeline.Run(ctx, units, events)
}

// Retry re-dispatches failed units.
func (s *Session) Retry(ctx context.Context, ids []int, events chan<- domain.StreamEvent) domain.BatchSummary {
	return s.pipeline.Retry(ctx, ids, events)
}

// Correct merges reviewer corrections into a unit's record. Corrections never
// re-trigger classification or extraction.
func (s *Session) Correct(id int, cs []domain.Correction) (domain.ProcessingRecord, error) {
	rec, err := s.table.ApplyCorrections(id, cs)
	if err != nil {
		return rec, err
	}
	s.logger.Info().
		Int("unit_id", id).
		Int("corrections", len(cs)).
		Int("confidence", rec.Confidence).
		Str("status", string(rec.Status)).
		Msg("Corrections applied")
	return rec, nil
}

// Summary counts statuses over the whole session.
func (s *Session) Summary() domain.BatchSummary {
	return s.table.Summary()
}

// Close drops everything cached for this session.
func (s *Session) Close(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.DeleteByPrefix(ctx, cache.SessionPrefix(s.ID)); err != nil {
		return domain.IOError("purge session cache", err)
	}
	s.logger.Debug().Msg("Session cache purged")
	return nil
}
