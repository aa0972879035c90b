package billing

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-scanner/internal/extraction"
	"github.com/zombor/invoice-scanner/internal/scanning"
)

var _ = Describe("Processor", func() {
	var (
		store     *MemoryStore
		storage   *mockStorage
		pre       *mockPreprocessor
		scanner   *mockScanner
		extractor *mockExtractor
		clock     *mockTimeSource
		opts      []ProcessorOption
		processor *Processor
		recordID  string
		err       error
	)

	BeforeEach(func() {
		store = NewMemoryStore()
		storage = newMockStorage()
		pre = &mockPreprocessor{dir: GinkgoT().TempDir()}
		scanner = &mockScanner{result: &scanning.Recognition{Text: "ACME\r\nTotal:\t 9.99", Confidence: 0.92}}
		extractor = &mockExtractor{fields: extraction.Fields{
			InvoiceNumber: "INV-7",
			Vendor:        "ACME",
			Date:          "2024-03-01",
			TotalAmount:   ptr(9.99),
			Currency:      "USD",
			Items:         []extraction.Item{{Description: "Widget", Quantity: 1, UnitPrice: 9.99, TotalPrice: 9.99}},
		}}
		clock = &mockTimeSource{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
		opts = []ProcessorOption{WithTimeSource(clock)}

		recordID = "rec-1"
		storage.files["rec-1_scan.png"] = []byte("raw image")
		Expect(store.Create(&BillingRecord{
			ID:          recordID,
			Status:      StatusProcessing,
			StoragePath: "rec-1_scan.png",
			Items:       []BillingItem{},
		})).To(Succeed())
	})

	JustBeforeEach(func() {
		processor = NewProcessor(store, storage, pre, scanner, extractor, nil, opts...)
		err = processor.ProcessRecord(context.Background(), recordID)
	})

	current := func() *BillingRecord {
		r, getErr := store.Get(recordID)
		Expect(getErr).NotTo(HaveOccurred())
		return r
	}

	itRemovesTheIntermediate := func() {
		It("should remove the intermediate file", func() {
			for _, p := range pre.paths {
				Expect(p).NotTo(BeAnExistingFile())
			}
		})
	}

	When("every stage succeeds", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should complete the record", func() {
			r := current()
			Expect(r.Status).To(Equal(StatusCompleted))
			Expect(r.ExtractedAt).NotTo(BeNil())
			Expect(*r.ExtractedAt).To(Equal(clock.now))
		})

		It("should merge the extracted fields", func() {
			r := current()
			Expect(r.InvoiceNumber).To(Equal("INV-7"))
			Expect(r.Vendor).To(Equal("ACME"))
			Expect(r.Date).To(Equal("2024-03-01"))
			Expect(*r.TotalAmount).To(Equal(9.99))
			Expect(r.Currency).To(Equal("USD"))
			Expect(r.Items).To(Equal([]BillingItem{{Description: "Widget", Quantity: 1, UnitPrice: 9.99, TotalPrice: 9.99}}))
			Expect(r.Confidence).To(Equal(0.92))
		})

		It("should store and extract from normalized text", func() {
			Expect(current().RawText).To(Equal("ACME\nTotal: 9.99"))
			Expect(extractor.texts).To(Equal([]string{"ACME\nTotal: 9.99"}))
		})

		It("should feed the preprocessed bytes to the engine", func() {
			Expect(scanner.seen).To(Equal([][]byte{[]byte("raw image")}))
		})

		It("should keep the upload by default", func() {
			Expect(storage.files).To(HaveKey("rec-1_scan.png"))
		})

		itRemovesTheIntermediate()
	})

	When("extraction finds nothing", func() {
		BeforeEach(func() {
			extractor.fields = extraction.Fields{Currency: "USD", Items: []extraction.Item{}}
		})

		It("should still complete the record", func() {
			r := current()
			Expect(r.Status).To(Equal(StatusCompleted))
			Expect(r.TotalAmount).To(BeNil())
			Expect(r.Items).To(BeEmpty())
		})
	})

	When("the engine reports no currency", func() {
		BeforeEach(func() {
			extractor.fields.Currency = ""
		})

		It("should default to USD", func() {
			Expect(current().Currency).To(Equal("USD"))
		})
	})

	When("the OCR engine fails", func() {
		BeforeEach(func() {
			scanner.err = scanning.RecognitionFailure("test", errors.New("engine crashed"))
		})

		It("should return an OCR failure", func() {
			Expect(err).To(MatchError(scanning.ErrRecognition))
		})

		It("should move the record to error with defaults", func() {
			r := current()
			Expect(r.Status).To(Equal(StatusError))
			Expect(r.ExtractedAt).NotTo(BeNil())
			Expect(r.InvoiceNumber).To(BeEmpty())
			Expect(r.TotalAmount).To(BeNil())
			Expect(r.Confidence).To(BeZero())
			Expect(r.RawText).To(BeEmpty())
		})

		itRemovesTheIntermediate()
	})

	When("the engine times out", func() {
		BeforeEach(func() {
			scanner.err = context.DeadlineExceeded
		})

		It("should classify it as an OCR failure", func() {
			Expect(err).To(MatchError(scanning.ErrRecognition))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(current().Status).To(Equal(StatusError))
		})
	})

	When("extraction rejects the text", func() {
		BeforeEach(func() {
			extractor.err = extraction.ErrMalformedText
		})

		It("should move the record to error", func() {
			Expect(err).To(MatchError(extraction.ErrMalformedText))
			Expect(current().Status).To(Equal(StatusError))
		})

		itRemovesTheIntermediate()
	})

	When("preprocessing fails", func() {
		BeforeEach(func() {
			pre.err = errors.New("unsupported image")
		})

		It("should move the record to error", func() {
			Expect(err).To(MatchError(ContainSubstring("unsupported image")))
			Expect(current().Status).To(Equal(StatusError))
		})
	})

	When("the upload is missing", func() {
		BeforeEach(func() {
			delete(storage.files, "rec-1_scan.png")
		})

		It("should move the record to error", func() {
			Expect(err).To(HaveOccurred())
			Expect(current().Status).To(Equal(StatusError))
		})
	})

	When("a stage panics", func() {
		BeforeEach(func() {
			pre.panicWith = "boom"
		})

		It("should report an internal fault", func() {
			Expect(err).To(MatchError(ErrInternal))
		})

		It("should not leave the record stuck in processing", func() {
			Expect(current().Status).To(Equal(StatusError))
			Expect(current().ExtractedAt).NotTo(BeNil())
		})
	})

	When("uploads are not kept", func() {
		BeforeEach(func() {
			opts = append(opts, WithKeepUploads(false))
		})

		It("should delete the original after the run", func() {
			Expect(storage.files).NotTo(HaveKey("rec-1_scan.png"))
			Expect(storage.deleted).To(ConsistOf("rec-1_scan.png"))
		})
	})

	When("the record already finished", func() {
		JustBeforeEach(func() {
			scanner.result = &scanning.Recognition{Text: "different"}
			err = processor.ProcessRecord(context.Background(), recordID)
		})

		It("should leave it alone", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(current().RawText).To(Equal("ACME\nTotal: 9.99"))
			Expect(scanner.seen).To(HaveLen(1))
		})
	})

	When("the record does not exist", func() {
		BeforeEach(func() {
			recordID = "missing"
		})

		It("should return not found", func() {
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
