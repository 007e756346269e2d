package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-extractor/internal/raster"
)

// MaxUploadSize is the largest accepted upload
const MaxUploadSize = 16 << 20

// multipartOverhead is allowed on top of MaxUploadSize for form framing
const multipartOverhead = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("error encoding response", "error", err)
	}
}

// lookupError maps a service error for a single invoice to a response
func (s *Server) lookupError(w http.ResponseWriter, id string, err error) {
	if IsNotFound(err) {
		writeError(w, "Invoice not found", http.StatusNotFound)
		return
	}
	s.logger.Error("error loading invoice", "id", id, "error", err)
	writeError(w, "Internal server error", http.StatusInternalServerError)
}

// detectContentType prefers the part header and falls back to the extension
func detectContentType(header, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadInvoice accepts a multipart upload in the "file" field
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Sprintf("File is too large. Maximum size is %dMB.", MaxUploadSize>>20), http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Error("error parsing multipart form", "error", err)
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
			return
		}
		s.logger.Error("error getting file from form", "error", err)
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > MaxUploadSize {
		writeError(w, fmt.Sprintf("File is too large. Maximum size is %dMB.", MaxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error("error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	invoice, err := s.service.ProcessInvoice(r.Context(), header.Filename, data, contentType)
	if err != nil {
		var unreadable *raster.UnreadablePDFError
		switch {
		case errors.As(err, &unreadable):
			writeError(w, unreadable.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, "Request cancelled", http.StatusServiceUnavailable)
		default:
			s.logger.Error("error processing invoice", "filename", header.Filename, "error", err)
			writeError(w, "Error processing invoice", http.StatusInternalServerError)
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, invoice)
}

// handleListInvoices returns all invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices()
	if err != nil {
		s.logger.Error("error listing invoices", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, invoices)
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	invoice, err := s.service.GetInvoice(id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}

	s.writeJSON(w, http.StatusOK, invoice)
}

// handleGetRecord returns only the extracted record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	invoice, err := s.service.GetInvoice(id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(invoice.Record)
}

// handleGetInvoiceFile returns the uploaded file
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, contentType, err := s.service.GetInvoiceFile(id)
	if err != nil {
		if IsNotFound(err) {
			writeError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		s.logger.Error("error loading invoice file", "id", id, "error", err)
		writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetRawOCR returns the raw backend responses as a download
func (s *Server) handleGetRawOCR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.service.GetRawOCR(id)
	if err != nil {
		s.lookupError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_ocr.json"`, id))
	w.Write(data)
}

// handleDeleteInvoice deletes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteInvoice(id); err != nil {
		if IsNotFound(err) {
			writeError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		s.logger.Error("error deleting invoice", "id", id, "error", err)
		writeError(w, "Error deleting invoice", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleClearInvoices deletes every invoice
func (s *Server) handleClearInvoices(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.ClearAll()
	if err != nil {
		s.logger.Error("error clearing invoices", "error", err)
		writeError(w, "Error clearing invoices", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// handleExport returns every invoice as an XLSX workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX()
	if err != nil {
		s.logger.Error("error exporting invoices", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	w.Write(data)
}
