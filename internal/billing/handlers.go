package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// multipartOverhead is allowed on top of the file size limit for form boundaries and headers
const multipartOverhead = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an error response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps service errors onto status codes
func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrValidation):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		jsonError(w, "Record not found", http.StatusNotFound)
	case errors.Is(err, ErrRecordBusy):
		jsonError(w, "Record is still processing", http.StatusConflict)
	case errors.Is(err, ErrNothingToExport):
		jsonError(w, "No completed records to export", http.StatusBadRequest)
	default:
		slog.Error("Internal error", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"message":   "Billing OCR service is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// formFile returns the uploaded image, accepting the "image" field or "file"
func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	f, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return r.FormFile("file")
	}
	return f, header, err
}

// handleUpload accepts an image and returns as soon as its record exists
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.service.Policy().MaxBytes
	tooLarge := fmt.Sprintf("File is too large. Maximum size is %dMB.", maxBytes>>20)

	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			jsonError(w, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := formFile(r)
	if err != nil {
		jsonError(w, "No file was selected. Please choose an image to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if maxBytes > 0 && header.Size > maxBytes {
		jsonError(w, tooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	record, err := s.service.Upload(Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		slog.Warn("Rejected upload", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":      record.ID,
		"status":  record.Status,
		"message": "File uploaded successfully. Processing started.",
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListRecords()
	if err != nil {
		writeError(w, err)
		return
	}

	// always an array, never null
	summaries := make([]RecordSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetRecord(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetRecordFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetRecordFile(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleUpdateRecord applies a partial correction of the extracted fields
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.GetRecord(id); err != nil {
		writeError(w, err)
		return
	}

	patch, err := DecodeRecordPatch(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := s.service.UpdateRecord(id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.ExportStatus()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, filename, err := s.service.Export()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", ExportContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Write(data)
}
