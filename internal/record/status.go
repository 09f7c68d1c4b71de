package record

import (
	"fmt"

	"github.com/spherical/drawing-extractor/internal/domain"
)

// Event drives a status transition.
type Event string

const (
	EventDispatched        Event = "dispatched"
	EventNotSupported      Event = "not_supported"
	EventExtractionFailed  Event = "extraction_failed"
	EventExtractionSuccess Event = "extraction_succeeded"
	EventCorrected         Event = "corrected"
	// EventAbandoned closes out a unit that was never dispatched because
	// the batch was stopped.
	EventAbandoned Event = "abandoned"
	// EventProviderFailed marks a provider error during classification. The
	// unit stays retryable.
	EventProviderFailed Event = "provider_failed"
)

// Transition returns the status reached from `from` on ev. For
// EventExtractionSuccess and EventCorrected the confidence decides between
// Completed and NeedsReview. Anything not in the table is a state error.
func Transition(from domain.Status, ev Event, confidence int) (domain.Status, error) {
	switch ev {
	case EventDispatched:
		// Failed units are retryable by re-dispatch.
		if from == domain.StatusPending || from == domain.StatusFailed {
			return domain.StatusProcessing, nil
		}
	case EventNotSupported:
		if from == domain.StatusProcessing {
			return domain.StatusNotSupported, nil
		}
	case EventExtractionFailed, EventProviderFailed:
		if from == domain.StatusProcessing {
			return domain.StatusFailed, nil
		}
	case EventExtractionSuccess:
		if from == domain.StatusProcessing {
			return StatusForConfidence(confidence), nil
		}
	case EventAbandoned:
		if from == domain.StatusPending {
			return domain.StatusFailed, nil
		}
	case EventCorrected:
		switch from {
		case domain.StatusNeedsReview:
			return StatusForConfidence(confidence), nil
		case domain.StatusCompleted:
			return StatusForConfidence(confidence), nil
		}
	}
	return from, domain.StateError(fmt.Sprintf("illegal transition %s --%s-->", from, ev), nil)
}
