package ingest

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
)

// Kind is the declared file kind of an upload.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

const largeUploadBytes = 100 * 1024 * 1024

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".gif":  true,
}

// DetectKind infers the upload kind from the file name, falling back to the
// content when the extension is missing or unfamiliar.
func DetectKind(name string, data []byte) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return KindPDF, nil
	case imageExtensions[ext]:
		return KindImage, nil
	}

	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return KindPDF, nil
	}
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return KindImage, nil
	}
	// webp and tiff are not sniffed by net/http
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return KindImage, nil
	}
	if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
		return KindImage, nil
	}
	return "", domain.ValidationError(fmt.Sprintf("unsupported file type: %s", name), nil)
}

// Validator provides input validation for uploads
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidateUpload checks an upload before any decoding is attempted.
func (v *Validator) ValidateUpload(u Upload) error {
	if strings.TrimSpace(u.Name) == "" {
		return domain.ValidationError("file name cannot be empty", nil)
	}
	if len(u.Data) == 0 {
		return domain.ValidationError(fmt.Sprintf("file is empty: %s", u.Name), nil)
	}
	if u.Kind != KindImage && u.Kind != KindPDF {
		return domain.ValidationError(fmt.Sprintf("unsupported kind %q for %s", u.Kind, u.Name), nil)
	}
	if len(u.Data) > largeUploadBytes {
		v.logger.Warn().
			Str("file", u.Name).
			Int("size_mb", len(u.Data)/(1024*1024)).
			Msg("Upload is very large, processing may take a while")
	}
	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
