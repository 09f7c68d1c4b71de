package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/drawing-extractor/internal/domain"
)

type recordingModel struct {
	out    string
	err    error
	prompt string
	image  []byte
}

func (m *recordingModel) Complete(_ context.Context, prompt string, image []byte) (string, error) {
	m.prompt = prompt
	m.image = image
	return m.out, m.err
}

func TestExtract_SendsProfilePrompt(t *testing.T) {
	profile, ok := domain.ProfileFor(domain.ComponentGearbox)
	require.True(t, ok)

	m := &recordingModel{out: "GEAR RATIO: 10:1"}
	svc := NewService(m, nil)

	tr := svc.Extract(context.Background(), domain.DrawingUnit{ID: 3, Image: []byte("jpeg")}, profile)

	require.False(t, tr.Failed())
	assert.Equal(t, "GEAR RATIO: 10:1", tr.Text)
	assert.Equal(t, profile.Prompt(), m.prompt)
	assert.Equal(t, []byte("jpeg"), m.image)

	for _, f := range profile.Schema() {
		assert.True(t, strings.Contains(m.prompt, f+":"), "prompt lists %s", f)
	}
}

func TestExtract_EmptyTranscriptIsNotFailure(t *testing.T) {
	profile, _ := domain.ProfileFor(domain.ComponentCylinder)
	tr := NewService(&recordingModel{out: ""}, nil).Extract(context.Background(), domain.DrawingUnit{ID: 1}, profile)

	assert.False(t, tr.Failed())
	assert.False(t, IsSentinel(tr.Text))
}

func TestExtract_FailureYieldsSentinel(t *testing.T) {
	profile, _ := domain.ProfileFor(domain.ComponentValve)
	m := &recordingModel{err: errors.New("insufficient credits (HTTP 402)")}

	tr := NewService(m, nil).Extract(context.Background(), domain.DrawingUnit{ID: 1}, profile)

	require.True(t, tr.Failed())
	assert.True(t, IsSentinel(tr.Text))
	assert.Contains(t, tr.Text, "insufficient credits")
	assert.True(t, domain.IsType(tr.Err, domain.ErrorTypeExtraction))
}
