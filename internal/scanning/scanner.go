package scanning

import (
	"context"
	"errors"
	"fmt"
)

// ErrRecognition marks a failure of the OCR engine itself (crash, timeout,
// bad response). An image that simply has no text is not an error.
var ErrRecognition = errors.New("ocr engine failure")

// Recognition is the text an engine read from an image
type Recognition struct {
	Text string
	// Confidence is the engine's own estimate, normalized to [0,1]
	Confidence float64
}

// Scanner defines the interface for OCR engines
type Scanner interface {
	// Recognize reads the text in an image
	Recognize(ctx context.Context, image []byte) (*Recognition, error)
	// Close releases engine resources
	Close() error
}

// RecognitionFailure wraps err so callers can match it with ErrRecognition.
func RecognitionFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRecognition, op, err)
}

// NormalizeConfidence converts a score reported on [0,scale] into [0,1].
// Pass scale 100 for engines that report percentages.
func NormalizeConfidence(score, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	v := score / scale
	switch {
	case v != v, v < 0: // NaN or negative
		return 0
	case v > 1:
		return 1
	}
	return v
}
