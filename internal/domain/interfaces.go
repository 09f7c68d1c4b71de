package domain

import "context"

// VisionModel sends one instruction plus one JPEG page to the external model
// and returns the raw transcript.
type VisionModel interface {
	Complete(ctx context.Context, prompt string, image []byte) (string, error)
}
