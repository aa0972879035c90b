package billing

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Dispatcher hands a record to the background pipeline without waiting for it
type Dispatcher interface {
	Enqueue(id string) error
}

// UploadPolicy is the set of uploads accepted at the boundary
type UploadPolicy struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// DefaultUploadPolicy allows 10MB raster images
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxBytes:          10 << 20,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "webp", "bmp", "tiff"},
	}
}

var extensionContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// Upload is a file received from a client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportStatus counts records by status
type ExportStatus struct {
	Total      int  `json:"total"`
	Completed  int  `json:"completed"`
	Processing int  `json:"processing"`
	Error      int  `json:"error"`
	CanExport  bool `json:"canExport"`
}

// Service handles billing record operations
type Service struct {
	store       Store
	storage     Storage
	dispatcher  Dispatcher
	policy      UploadPolicy
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(store Store, storage Storage, dispatcher Dispatcher, policy UploadPolicy) *Service {
	return NewServiceWithDeps(store, storage, dispatcher, policy, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, storage Storage, dispatcher Dispatcher, policy UploadPolicy, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		storage:     storage,
		dispatcher:  dispatcher,
		policy:      policy,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Policy returns the upload policy in force
func (s *Service) Policy() UploadPolicy {
	return s.policy
}

var (
	reFilenameJunk   = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reFilenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips everything but letters, digits, spaces, hyphens
// and underscores from the base name and caps its length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = reFilenameJunk.ReplaceAllString(base, "")
	base = reFilenameSpaces.ReplaceAllString(base, " ")
	base = strings.ReplaceAll(strings.TrimSpace(base), " ", "_")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "document"
	}
	return base + ext
}

// ContentTypeFor resolves the MIME type of an upload. The declared type wins
// unless it is missing or generic, in which case the extension decides.
func ContentTypeFor(filename, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, ok := strings.Cut(declared, ";"); ok {
			return strings.TrimSpace(mediaType)
		}
		return declared
	}
	if ct, ok := extensionContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (s *Service) validate(u Upload) (string, error) {
	if u.Filename == "" {
		return "", invalid("file", "no file was provided")
	}
	if len(u.Data) == 0 {
		return "", invalid("file", "is empty")
	}
	if s.policy.MaxBytes > 0 && int64(len(u.Data)) > s.policy.MaxBytes {
		return "", invalid("file", "is larger than the %d byte limit", s.policy.MaxBytes)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(u.Filename)), ".")
	if !slices.Contains(s.policy.AllowedExtensions, ext) {
		return "", invalid("file", "extension %q is not allowed (allowed: %s)", ext, strings.Join(s.policy.AllowedExtensions, ", "))
	}

	contentType := ContentTypeFor(u.Filename, u.ContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return "", invalid("file", "content type %q is not an image", contentType)
	}
	return contentType, nil
}

// Upload validates and stores an upload, creates its record in processing
// state and schedules the pipeline. It returns without waiting for OCR.
func (s *Service) Upload(u Upload) (*BillingRecord, error) {
	contentType, err := s.validate(u)
	if err != nil {
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(u.Filename)), u.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	record := &BillingRecord{
		ID:               id,
		Status:           StatusProcessing,
		OriginalFilename: u.Filename,
		UploadedAt:       now,
		Items:            []BillingItem{},
		ContentType:      contentType,
		StoragePath:      savedPath,
	}
	if err := s.store.Create(record); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("creating record: %w", err)
	}

	if err := s.dispatcher.Enqueue(id); err != nil {
		// the record exists now, so it must not stay in processing forever
		if _, markErr := s.store.Update(id, func(r *BillingRecord) error {
			r.Status = StatusError
			r.ExtractedAt = &now
			return nil
		}); markErr != nil {
			slog.Error("Failed to mark unscheduled record", "record_id", id, "error", markErr)
		}
		return nil, fmt.Errorf("scheduling record %s: %w", id, err)
	}

	slog.Info("Accepted upload", "record_id", id, "filename", u.Filename, "size", len(u.Data), "content_type", contentType)
	return record.Clone(), nil
}

// GetRecord retrieves a record by ID
func (s *Service) GetRecord(id string) (*BillingRecord, error) {
	record, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns all records in upload order
func (s *Service) ListRecords() ([]*BillingRecord, error) {
	records, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// UpdateRecord applies a user correction to a record that has finished processing
func (s *Service) UpdateRecord(id string, patch RecordPatch) (*BillingRecord, error) {
	record, err := s.store.Update(id, func(r *BillingRecord) error {
		if r.Status == StatusProcessing {
			return ErrRecordBusy
		}
		patch.apply(r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", id, err)
	}
	return record, nil
}

// GetRecordFile retrieves the original upload for a record
func (s *Service) GetRecordFile(id string) ([]byte, string, error) {
	record, err := s.store.Get(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting record: %w", err)
	}

	data, err := s.storage.Get(record.StoragePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting record file: %w (%v)", ErrNotFound, err)
	}
	return data, record.ContentType, nil
}

// ExportStatus counts records by status
func (s *Service) ExportStatus() (ExportStatus, error) {
	records, err := s.store.List()
	if err != nil {
		return ExportStatus{}, fmt.Errorf("listing records: %w", err)
	}

	var st ExportStatus
	for _, r := range records {
		st.Total++
		switch r.Status {
		case StatusCompleted:
			st.Completed++
		case StatusProcessing:
			st.Processing++
		case StatusError:
			st.Error++
		}
	}
	st.CanExport = st.Completed > 0
	return st, nil
}

// Export renders all completed records as a spreadsheet.
// It returns the workbook and a suggested download filename.
func (s *Service) Export() ([]byte, string, error) {
	records, err := s.store.List()
	if err != nil {
		return nil, "", fmt.Errorf("listing records: %w", err)
	}

	data, err := GenerateExport(records)
	if err != nil {
		return nil, "", err
	}
	return data, ExportFilename(s.timeSource.Now()), nil
}
