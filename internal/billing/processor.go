package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/invoice-scanner/internal/extraction"
	"github.com/zombor/invoice-scanner/internal/scanning"
)

// LowConfidenceThreshold is the OCR confidence under which a run is flagged in the logs
const LowConfidenceThreshold = 0.6

// Preprocessor prepares an image for OCR. The returned artifact must be released.
type Preprocessor interface {
	Preprocess(image []byte) (*scanning.Artifact, error)
}

// Processor drives one record from processing to completed or error
type Processor struct {
	store      Store
	storage    Storage
	pre        Preprocessor
	scanner    scanning.Scanner
	extractor  extraction.Extractor
	logger     *slog.Logger
	timeSource TimeSource

	keepUploads   bool
	lowConfidence float64
}

type ProcessorOption func(*Processor)

// WithKeepUploads controls whether the original upload survives its pipeline run
func WithKeepUploads(keep bool) ProcessorOption {
	return func(p *Processor) { p.keepUploads = keep }
}

func WithTimeSource(ts TimeSource) ProcessorOption {
	return func(p *Processor) { p.timeSource = ts }
}

func WithLowConfidenceThreshold(v float64) ProcessorOption {
	return func(p *Processor) { p.lowConfidence = v }
}

func NewProcessor(store Store, storage Storage, pre Preprocessor, scanner scanning.Scanner, extractor extraction.Extractor, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		store:         store,
		storage:       storage,
		pre:           pre,
		scanner:       scanner,
		extractor:     extractor,
		logger:        logger,
		timeSource:    &defaultTimeSource{},
		keepUploads:   true,
		lowConfidence: LowConfidenceThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// outcome is what a successful pipeline run produced
type outcome struct {
	text       string
	confidence float64
	fields     extraction.Fields
}

// ProcessRecord runs preprocessing, OCR and extraction for a record and moves
// it to a terminal status. Any failure, including a panic, ends in error.
// Records that already left processing are skipped.
func (p *Processor) ProcessRecord(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic while processing: %v", ErrInternal, r)
			p.fail(id, err)
		}
	}()

	record, err := p.store.Get(id)
	if err != nil {
		return fmt.Errorf("loading record: %w", err)
	}
	if record.Status != StatusProcessing {
		p.logger.Debug("skipping record that already finished", "record_id", id, "status", record.Status)
		return nil
	}
	if !p.keepUploads {
		defer p.discardUpload(record)
	}

	start := time.Now()
	out, err := p.run(ctx, record)
	if err != nil {
		p.fail(id, err)
		return err
	}

	if err := p.complete(id, out); err != nil {
		return err
	}

	logAttrs := []any{
		"record_id", id,
		"confidence", out.confidence,
		"items", len(out.fields.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if out.confidence < p.lowConfidence {
		p.logger.Warn("low OCR confidence", logAttrs...)
	} else {
		p.logger.Info("record completed", logAttrs...)
	}
	return nil
}

func (p *Processor) run(ctx context.Context, record *BillingRecord) (*outcome, error) {
	data, err := p.storage.Get(record.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("loading upload: %w", err)
	}

	artifact, err := p.pre.Preprocess(data)
	if err != nil {
		return nil, fmt.Errorf("preprocessing: %w", err)
	}
	defer artifact.Release()

	rec, err := p.scanner.Recognize(ctx, artifact.Data)
	if err != nil {
		if !errors.Is(err, scanning.ErrRecognition) {
			err = scanning.RecognitionFailure("recognize", err)
		}
		return nil, err
	}
	if rec == nil {
		return nil, scanning.RecognitionFailure("recognize", errors.New("engine returned no result"))
	}

	text := scanning.Normalize(rec.Text)
	fields, err := p.extractor.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("extracting fields: %w", err)
	}

	return &outcome{
		text:       text,
		confidence: scanning.NormalizeConfidence(rec.Confidence, 1),
		fields:     fields,
	}, nil
}

func (p *Processor) complete(id string, out *outcome) error {
	_, err := p.store.Update(id, func(r *BillingRecord) error {
		if r.Status != StatusProcessing {
			return fmt.Errorf("completing record in %s state: %w", r.Status, ErrInvalidTransition)
		}
		f := out.fields
		r.InvoiceNumber = f.InvoiceNumber
		r.Vendor = f.Vendor
		r.Date = f.Date
		r.TotalAmount = f.TotalAmount
		r.Currency = f.Currency
		if r.Currency == "" {
			r.Currency = extraction.DefaultCurrency
		}
		r.Items = make([]BillingItem, 0, len(f.Items))
		for _, it := range f.Items {
			r.Items = append(r.Items, BillingItem{
				Description: it.Description,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				TotalPrice:  it.TotalPrice,
			})
		}
		r.RawText = out.text
		r.Confidence = out.confidence
		r.Status = StatusCompleted
		now := p.timeSource.Now()
		r.ExtractedAt = &now
		return nil
	})
	if err != nil {
		p.logger.Error("failed to store extraction result", "record_id", id, "error", err)
		return fmt.Errorf("completing record %s: %w", id, err)
	}
	return nil
}

// fail moves the record to error, leaving extracted fields at their defaults
func (p *Processor) fail(id string, cause error) {
	p.logger.Error("processing failed", "record_id", id, "error", cause)

	_, err := p.store.Update(id, func(r *BillingRecord) error {
		if r.Status != StatusProcessing {
			return fmt.Errorf("failing record in %s state: %w", r.Status, ErrInvalidTransition)
		}
		r.Status = StatusError
		now := p.timeSource.Now()
		r.ExtractedAt = &now
		return nil
	})
	if err != nil {
		p.logger.Error("failed to mark record as error", "record_id", id, "error", err)
	}
}

func (p *Processor) discardUpload(record *BillingRecord) {
	if err := p.storage.Delete(record.StoragePath); err != nil {
		p.logger.Warn("failed to delete upload", "record_id", record.ID, "path", record.StoragePath, "error", err)
	}
}
