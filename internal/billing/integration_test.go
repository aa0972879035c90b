package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-scanner/internal/async"
	"github.com/zombor/invoice-scanner/internal/billing"
	"github.com/zombor/invoice-scanner/internal/extraction"
	"github.com/zombor/invoice-scanner/internal/scanning"
)

const invoiceText = "ACME Supplies Ltd\nInvoice #INV-2024-099\nDate: 2024-03-01\nWidget 2 x $5.00 $10.00\nTotal: $123.45\n"

// gatedScanner returns fixed text once its gate is opened
type gatedScanner struct {
	gate chan struct{}
}

func (g *gatedScanner) Recognize(ctx context.Context, image []byte) (*scanning.Recognition, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, scanning.RecognitionFailure("gated", ctx.Err())
	}
	return &scanning.Recognition{Text: invoiceText, Confidence: 0.87}, nil
}

func (g *gatedScanner) Close() error { return nil }

func pngBytes() []byte {
	img := image.NewGray(image.Rect(0, 0, 20, 10))
	for x := 0; x < 20; x++ {
		img.Set(x, 5, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Billing pipeline", func() {
	var (
		artifactDir string
		scanner     *gatedScanner
		store       *billing.MemoryStore
		queue       *async.Queue
		ts          *httptest.Server
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		artifactDir = filepath.Join(dir, "artifacts")
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		storage, err := billing.NewLocalStorage(filepath.Join(dir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
		pre, err := scanning.NewPreprocessor(artifactDir, scanning.WithMinHeight(0))
		Expect(err).NotTo(HaveOccurred())

		scanner = &gatedScanner{gate: make(chan struct{})}
		store = billing.NewMemoryStore()
		processor := billing.NewProcessor(store, storage, pre, scanner, extraction.NewRules(), logger)
		queue = async.NewQueue(processor, logger, async.WithWorkers(2), async.WithProcessTimeout(5*time.Second))
		service := billing.NewService(store, storage, queue, billing.DefaultUploadPolicy())
		ts = httptest.NewServer(billing.NewServer(service))
	})

	AfterEach(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(queue.Shutdown(ctx)).To(Succeed())
	})

	upload := func(filename string, data []byte) string {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		part, err := w.CreateFormFile("image", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Close()).To(Succeed())

		resp, err := http.Post(ts.URL+"/api/upload", w.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		var out map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out["status"]).To(Equal("processing"))
		return out["id"]
	}

	getRecord := func(id string) billing.BillingRecord {
		resp, err := http.Get(ts.URL + "/api/records/" + id)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var r billing.BillingRecord
		Expect(json.NewDecoder(resp.Body).Decode(&r)).To(Succeed())
		return r
	}

	status := func(id string) func() billing.Status {
		return func() billing.Status { return getRecord(id).Status }
	}

	It("should answer the upload before OCR finishes", func() {
		id := upload("invoice.png", pngBytes())
		Expect(getRecord(id).Status).To(Equal(billing.StatusProcessing))
		Consistently(status(id), 100*time.Millisecond).Should(Equal(billing.StatusProcessing))

		close(scanner.gate)
		Eventually(status(id)).Should(Equal(billing.StatusCompleted))

		r := getRecord(id)
		Expect(r.InvoiceNumber).To(Equal("INV-2024-099"))
		Expect(r.Date).To(Equal("2024-03-01"))
		Expect(*r.TotalAmount).To(BeNumerically("~", 123.45, 0.0001))
		Expect(r.Vendor).To(Equal("ACME Supplies Ltd"))
		Expect(r.Items).To(HaveLen(1))
		Expect(r.Confidence).To(Equal(0.87))
		Expect(r.ExtractedAt).NotTo(BeNil())
	})

	It("should process simultaneous uploads independently", func() {
		close(scanner.gate)

		ids := make([]string, 2)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				ids[i] = upload("invoice.png", pngBytes())
			}(i)
		}
		wg.Wait()

		Expect(ids[0]).NotTo(Equal(ids[1]))
		for _, id := range ids {
			Eventually(status(id)).Should(Equal(billing.StatusCompleted))
		}
	})

	It("should move an undecodable image to error without blocking others", func() {
		close(scanner.gate)

		bad := upload("broken.png", []byte("not really a png"))
		good := upload("invoice.png", pngBytes())

		Eventually(status(bad)).Should(Equal(billing.StatusError))
		Eventually(status(good)).Should(Equal(billing.StatusCompleted))

		r := getRecord(bad)
		Expect(r.ExtractedAt).NotTo(BeNil())
		Expect(r.InvoiceNumber).To(BeEmpty())
	})

	It("should clean up every intermediate file", func() {
		close(scanner.gate)
		id := upload("invoice.png", pngBytes())
		Eventually(status(id)).Should(Equal(billing.StatusCompleted))

		Expect(filepath.Join(artifactDir, "*.png")).To(WithTransform(func(pattern string) []string {
			matches, _ := filepath.Glob(pattern)
			return matches
		}, BeEmpty()))
	})

	It("should export completed records", func() {
		close(scanner.gate)
		id := upload("invoice.png", pngBytes())
		Eventually(status(id)).Should(Equal(billing.StatusCompleted))

		resp, err := http.Post(ts.URL+"/api/export", "", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal(billing.ExportContentType))
	})
})
