package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
)

// Model wraps a VisionModel and remembers successful transcripts for the
// lifetime of one session. Failures are never cached.
type Model struct {
	inner   domain.VisionModel
	client  Client
	session string
	ttl     time.Duration
	logger  *observability.Logger
}

// NewModel returns inner unchanged when client is nil.
func NewModel(inner domain.VisionModel, client Client, sessionID string, ttl time.Duration, logger *observability.Logger) domain.VisionModel {
	if client == nil {
		return inner
	}
	if logger == nil {
		logger = observability.Nop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Model{
		inner:   inner,
		client:  client,
		session: sessionID,
		ttl:     ttl,
		logger:  logger.WithOperation("cache"),
	}
}

// Complete implements domain.VisionModel.
func (m *Model) Complete(ctx context.Context, prompt string, image []byte) (string, error) {
	key := SessionCacheKey(m.session, digest([]byte(prompt)), digest(image))

	if b, err := m.client.Get(ctx, key); err == nil {
		m.logger.Debug().Str("key", key).Msg("Transcript cache hit")
		return string(b), nil
	} else if !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn().Err(err).Msg("Transcript cache read failed")
	}

	out, err := m.inner.Complete(ctx, prompt, image)
	if err != nil {
		return "", err
	}

	if err := m.client.Set(ctx, key, []byte(out), m.ttl); err != nil {
		m.logger.Warn().Err(err).Msg("Transcript cache write failed")
	}
	return out, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:12])
}
