package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/drawing-extractor/internal/cache"
	"github.com/spherical/drawing-extractor/internal/classify"
	"github.com/spherical/drawing-extractor/internal/config"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/pipeline"
)

type cylinderModel struct{}

func (cylinderModel) Complete(_ context.Context, prompt string, _ []byte) (string, error) {
	if prompt == classify.Prompt {
		return "COMPONENT: CYLINDER", nil
	}
	return "BORE DIAMETER: 80 MM\nDRAWING NUMBER: CYL-7", nil
}

type closeCountingCache struct {
	cache.Client
	closed atomic.Int32
}

func (c *closeCountingCache) Close() error {
	c.closed.Add(1)
	return c.Client.Close()
}

// useTestApp swaps buildApp for one backed by a fake model and returns its cache.
func useTestApp(t *testing.T) *closeCountingCache {
	t.Helper()
	cc := &closeCountingCache{Client: cache.NewMemoryClient(100)}
	logger := observability.Nop()
	session := pipeline.NewSession(cylinderModel{}, pipeline.SessionConfig{
		Workers: 1,
		Cache:   cc,
		Logger:  logger,
	})

	prevBuild, prevJSON, prevOut := buildApp, jsonMode, outputDir
	t.Cleanup(func() { buildApp, jsonMode, outputDir = prevBuild, prevJSON, prevOut })

	buildApp = func(appOptions) (*app, error) {
		return &app{cfg: &config.Config{}, logger: logger, cache: cc, session: session}, nil
	}
	jsonMode = true
	return cc
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "cyl.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	return cmd
}

func TestRunExtract_ClosesAppWhenExportFails(t *testing.T) {
	cc := useTestApp(t)
	dir := t.TempDir()
	input := writePNG(t, dir)

	// A regular file where the output directory should go.
	blocked := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	outputDir = blocked

	var out bytes.Buffer
	err := runExtract(testCommand(&out), []string{input})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create output directory")
	assert.Equal(t, int32(1), cc.closed.Load())
}

func TestRunExtract_ClosesAppWithoutUnits(t *testing.T) {
	cc := useTestApp(t)
	outputDir = ""

	var out bytes.Buffer
	err := runExtract(testCommand(&out), []string{filepath.Join(t.TempDir(), "missing.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no drawings to process")
	assert.Equal(t, int32(1), cc.closed.Load())
}

func TestRunExtract_WritesExportsAndCloses(t *testing.T) {
	cc := useTestApp(t)
	dir := t.TempDir()
	input := writePNG(t, dir)
	outputDir = filepath.Join(dir, "out")

	var out bytes.Buffer
	require.NoError(t, runExtract(testCommand(&out), []string{input}))
	assert.Contains(t, out.String(), `"summary"`)
	assert.FileExists(t, filepath.Join(outputDir, "processing-history.csv"))
	assert.FileExists(t, filepath.Join(outputDir, "001-cyl-cylinder.csv"))
	assert.Equal(t, int32(1), cc.closed.Load())
}
