// Package ingest turns uploaded drawings into normalized raster pages.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
)

const (
	DefaultQuality = 95
	DefaultDPI     = 200.0
)

// Upload is one file handed to the normalizer.
type Upload struct {
	Name string
	Kind Kind
	Data []byte
}

// IngestError reports a file that contributed no units.
type IngestError struct {
	File string
	Err  error
}

func (e IngestError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// Rasterizer renders every page of a PDF in order.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, dpi float64) ([]image.Image, error)
}

// FitzRasterizer implements Rasterizer using go-fitz (MuPDF).
type FitzRasterizer struct{}

// Rasterize renders all pages of the PDF at the given resolution.
func (FitzRasterizer) Rasterize(ctx context.Context, data []byte, dpi float64) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	pages := make([]image.Image, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, dpi)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", pageNum+1), err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// Normalizer converts uploads into DrawingUnits with a canonical JPEG encoding.
type Normalizer struct {
	rasterizer Rasterizer
	validator  *Validator
	quality    int
	dpi        float64
	logger     *observability.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRasterizer overrides the PDF rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return func(n *Normalizer) { n.rasterizer = r }
}

// WithQuality sets the JPEG quality.
func WithQuality(q int) Option {
	return func(n *Normalizer) {
		if q > 0 {
			n.quality = q
		}
	}
}

// WithDPI sets the PDF rasterization resolution.
func WithDPI(dpi float64) Option {
	return func(n *Normalizer) {
		if dpi > 0 {
			n.dpi = dpi
		}
	}
}

// NewNormalizer creates a normalizer with go-fitz rasterization, quality 95 and 200 DPI.
func NewNormalizer(logger *observability.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		rasterizer: FitzRasterizer{},
		validator:  NewValidator(logger),
		quality:    DefaultQuality,
		dpi:        DefaultDPI,
		logger:     logger.WithOperation("ingest"),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize converts one upload into units numbered from firstID.
func (n *Normalizer) Normalize(ctx context.Context, u Upload, firstID int) ([]domain.DrawingUnit, error) {
	if err := n.validator.ValidateUpload(u); err != nil {
		return nil, err
	}
	if err := n.validator.ValidateQuality(n.quality); err != nil {
		return nil, err
	}

	switch u.Kind {
	case KindPDF:
		return n.normalizePDF(ctx, u, firstID)
	default:
		unit, err := n.normalizeImage(u, firstID)
		if err != nil {
			return nil, err
		}
		return []domain.DrawingUnit{unit}, nil
	}
}

// NormalizeAll converts every upload in order. A failing file contributes no
// units and is reported; it never stops its siblings. Unit ids are contiguous
// over the units that were produced, starting at 1.
func (n *Normalizer) NormalizeAll(ctx context.Context, uploads []Upload) ([]domain.DrawingUnit, []IngestError) {
	return n.NormalizeFrom(ctx, uploads, 1)
}

// NormalizeFrom is NormalizeAll with ids starting at firstID, for sessions
// that ingest more than one batch.
func (n *Normalizer) NormalizeFrom(ctx context.Context, uploads []Upload, firstID int) ([]domain.DrawingUnit, []IngestError) {
	var (
		units []domain.DrawingUnit
		errs  []IngestError
	)
	for _, u := range uploads {
		produced, err := n.Normalize(ctx, u, firstID+len(units))
		if err != nil {
			n.logger.Error().Err(err).Str("file", u.Name).Msg("Failed to normalize upload")
			errs = append(errs, IngestError{File: u.Name, Err: err})
			continue
		}
		n.logger.Info().Str("file", u.Name).Int("units", len(produced)).Msg("Normalized upload")
		units = append(units, produced...)
	}
	return units, errs
}

func (n *Normalizer) normalizeImage(u Upload, id int) (domain.DrawingUnit, error) {
	img, _, err := image.Decode(bytes.NewReader(u.Data))
	if err != nil {
		return domain.DrawingUnit{}, domain.ConversionError(fmt.Sprintf("Failed to decode image %s", u.Name), err)
	}
	return n.encodeUnit(img, u.Name, 0, id)
}

func (n *Normalizer) normalizePDF(ctx context.Context, u Upload, firstID int) ([]domain.DrawingUnit, error) {
	pages, err := n.rasterizer.Rasterize(ctx, u.Data, n.dpi)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	units := make([]domain.DrawingUnit, 0, len(pages))
	for i, page := range pages {
		unit, err := n.encodeUnit(page, u.Name, i+1, firstID+i)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func (n *Normalizer) encodeUnit(img image.Image, name string, pageIndex, id int) (domain.DrawingUnit, error) {
	flat := FlattenRGB(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: n.quality}); err != nil {
		return domain.DrawingUnit{}, domain.ConversionError(fmt.Sprintf("Failed to encode page %d of %s as JPEG", pageIndex, name), err)
	}

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	bounds := flat.Bounds()
	return domain.DrawingUnit{
		ID:          id,
		SourceName:  name,
		PageIndex:   pageIndex,
		Image:       data,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

// FlattenRGB composites img over an opaque white background.
func FlattenRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
