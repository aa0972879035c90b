// Package tesseract is the local OCR engine. It needs libtesseract and cgo,
// so it lives apart from the pure Go scanners.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/invoice-scanner/internal/scanning"
)

// Engine implements scanning.Scanner with gosseract. A fresh client is used
// per call so concurrent workers never share tesseract state.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine. No languages means tesseract's default (eng).
func New(languages ...string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

type result struct {
	rec *scanning.Recognition
	err error
}

// Recognize reads the text in image. tesseract itself cannot be interrupted,
// so on cancellation the call returns immediately and the client is closed
// once the running recognition ends.
func (e *Engine) Recognize(ctx context.Context, image []byte) (*scanning.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, scanning.RecognitionFailure("tesseract", err)
	}

	done := make(chan result, 1)
	go func() {
		c := e.clientFactory()
		defer c.Close()
		rec, err := e.recognizeWithClient(c, image)
		done <- result{rec: rec, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, scanning.RecognitionFailure("tesseract", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, scanning.RecognitionFailure("tesseract", r.err)
		}
		return r.rec, nil
	}
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, image []byte) (*scanning.Recognition, error) {
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return &scanning.Recognition{}, nil
	}
	return &scanning.Recognition{Text: text, Confidence: meanWordConfidence(c)}, nil
}

// meanWordConfidence averages tesseract's per-word confidences (0-100).
func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return scanning.NormalizeConfidence(sum/float64(len(boxes)), 100)
}

// Close is a no-op; clients are per call.
func (e *Engine) Close() error {
	return nil
}
