package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// maxFormSize bounds a multipart upload, sized for high-resolution phone photos
const maxFormSize = int64(50 << 20)

// runResponse is the JSON view of one pipeline result
type runResponse struct {
	RunID        string         `json:"run_id"`
	Stage        string         `json:"stage"`
	Outcome      string         `json:"outcome"`
	Summary      string         `json:"summary"`
	LocalPath    string         `json:"local_path,omitempty"`
	RemoteFileID string         `json:"remote_file_id,omitempty"`
	Fields       receipt.Fields `json:"fields,omitempty"`
	Notes        []string       `json:"notes,omitempty"`
}

type uploadResponse struct {
	Results []runResponse `json:"results"`
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	if err := writeJSON(w, code, map[string]string{"error": message}); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// handleUploadReceipts runs every "file" part through the pipeline, one
// after another, in upload order
func (s *Server) handleUploadReceipts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		s.logger.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "Upload is too large. Maximum size is 50MB."
		}
		s.jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		s.jsonError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}

	var images []receipt.Image
	for _, header := range headers {
		imgs, err := readImages(header)
		if err != nil {
			s.logger.Error("Error reading upload", "filename", header.Filename, "error", err)
			s.jsonError(w, fmt.Sprintf("Could not read %s: %v", header.Filename, err), http.StatusBadRequest)
			return
		}
		images = append(images, imgs...)
	}

	results, err := s.ingester.RunAll(r.Context(), images)
	if err != nil {
		s.logger.Warn("Some receipts failed", "error", err)
	}

	resp := uploadResponse{Results: make([]runResponse, 0, len(results))}
	code := http.StatusUnprocessableEntity
	for _, res := range results {
		if res.Stage == receipt.StageComplete {
			code = http.StatusCreated
		}
		resp.Results = append(resp.Results, runResponse{
			RunID:        res.RunID,
			Stage:        res.Stage.String(),
			Outcome:      res.Outcome.String(),
			Summary:      res.Summary(),
			LocalPath:    res.LocalPath,
			RemoteFileID: res.RemoteFileID,
			Fields:       res.Fields,
			Notes:        res.Notes,
		})
	}
	if err := writeJSON(w, code, resp); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// readImages expands one uploaded part into pipeline images
func readImages(header *multipart.FileHeader) ([]receipt.Image, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening part: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading part: %w", err)
	}
	return receipt.Images(data, contentTypeFor(header))
}

// contentTypeFor prefers the declared part type and falls back to the
// file extension
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleListMonths returns the month directories, newest first
func (s *Server) handleListMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.storage.Months()
	if err != nil {
		s.logger.Error("Error listing months", "error", err)
		s.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := writeJSON(w, http.StatusOK, months); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// handleListMonth returns the documents stored for one month
func (s *Server) handleListMonth(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	files, err := s.storage.List(month)
	if err != nil {
		s.storageError(w, "Month", err)
		return
	}
	if err := writeJSON(w, http.StatusOK, files); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// handleGetDocument serves a stored PDF
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("month") + "/" + r.PathValue("name")
	data, err := s.storage.Get(rel)
	if err != nil {
		s.storageError(w, "Document", err)
		return
	}
	w.Header().Set("Content-Type", receipt.DocumentContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", r.PathValue("name")))
	if _, err := w.Write(data); err != nil {
		s.logger.Error("Error writing document", "path", rel, "error", err)
	}
}

func (s *Server) storageError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.jsonError(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, receipt.ErrMalformed):
		s.jsonError(w, "Invalid path", http.StatusBadRequest)
	default:
		s.logger.Error("Storage error", "error", err)
		s.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}
