// Package classify labels a drawing page with its component type.
package classify

import (
	"context"
	"strings"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/parse"
)

const labelKey = "COMPONENT"

// Prompt is the fixed classification instruction.
const Prompt = "Look at this engineering drawing and identify what type of component it is.\n" +
	"STRICT RULES:\n" +
	"1) Only identify if it's one of these components: CYLINDER, VALVE, or GEARBOX\n" +
	"2) If you cannot clearly identify the component type, answer UNKNOWN\n" +
	"3) If a drawing number is clearly visible in the title block, report it, otherwise leave it empty\n" +
	"4) Return exactly these two lines and nothing else:\n" +
	"COMPONENT: [CYLINDER, VALVE, GEARBOX or UNKNOWN]\n" +
	"DRAWING NUMBER: [value]"

// Result is the outcome of one classification. Type is always set.
type Result struct {
	Type          domain.ComponentType
	DrawingNumber string
	// Diagnostic carries the provider error text when the call failed, or the
	// raw label when the model answered outside the known set.
	Diagnostic string
	// Failed is true when the provider call itself failed.
	Failed bool
}

// Classifier asks the vision model for a page's component type.
type Classifier struct {
	model  domain.VisionModel
	logger *observability.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(model domain.VisionModel, logger *observability.Logger) *Classifier {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Classifier{model: model, logger: logger.WithOperation("classify")}
}

// Classify never returns an error: every failure degrades to UNKNOWN with a
// diagnostic.
func (c *Classifier) Classify(ctx context.Context, unit domain.DrawingUnit) Result {
	log := c.logger.WithUnit(unit.ID, unit.SourceName)
	start := time.Now()

	transcript, err := c.model.Complete(ctx, Prompt, unit.Image)
	if err != nil {
		log.Warn().Err(err).Msg("Classification call failed")
		return Result{
			Type:       domain.ComponentUnknown,
			Diagnostic: domain.ClassificationError("classification request failed", err).Error(),
			Failed:     true,
		}
	}

	res := Interpret(transcript)
	log.Debug().
		Str("type", string(res.Type)).
		Str("drawing_number", res.DrawingNumber).
		Dur("elapsed", time.Since(start)).
		Msg("Unit classified")
	return res
}

// Interpret resolves a classification transcript. A COMPONENT line wins;
// otherwise the whole trimmed answer is the label.
func Interpret(transcript string) Result {
	fields := parse.Parse(transcript)

	label, ok := fields.Get(labelKey)
	if !ok {
		label = strings.TrimSpace(transcript)
	}

	res := Result{Type: domain.ParseComponentType(label)}
	res.DrawingNumber, _ = fields.Get(domain.FieldDrawingNumber)

	if res.Type == domain.ComponentUnknown {
		if strings.TrimSpace(label) == "" {
			res.Diagnostic = "model returned no component label"
		} else if !strings.EqualFold(strings.TrimSpace(label), string(domain.ComponentUnknown)) {
			res.Diagnostic = "unrecognized component label: " + strings.TrimSpace(label)
		}
	}
	return res
}
