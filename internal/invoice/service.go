package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-extractor/internal/assemble"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/pipeline"
)

const maxFilenameBase = 50

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// Extractor runs the extraction pipeline on one document
type Extractor interface {
	Run(ctx context.Context, data []byte, contentType string) (*pipeline.Result, error)
}

// IDGenerator generates unique IDs for invoices
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service handles invoice operations
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	logger      *slog.Logger
}

// NewService creates a new Service with uuid IDs and the wall clock
func NewService(db DB, extractor Extractor, storage Storage, logger *slog.Logger) *Service {
	return NewServiceWithDeps(db, extractor, storage, &uuidGenerator{}, &defaultTimeSource{}, logger)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		logger:      logger,
	}
}

// sanitizeFilename strips special characters and truncates long names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if r := []rune(base); len(r) > maxFilenameBase {
		base = string(r[:maxFilenameBase])
	}
	if base == "" {
		base = "invoice"
	}

	if ext != "" {
		ext = "." + unsafeFilenameChars.ReplaceAllString(ext[1:], "")
	}
	if ext == "." {
		ext = ""
	}
	return base + ext
}

// ProcessInvoice stores an upload, extracts it and saves the record along
// with the raw backend responses. Unreadable input is reported as an error
// wrapping *raster.UnreadablePDFError and nothing is kept.
func (s *Service) ProcessInvoice(ctx context.Context, filename string, data []byte, contentType string) (*Invoice, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	invoice, ocr, err := s.extract(ctx, id, data, contentType)
	if err != nil {
		s.logger.Error("failed to extract invoice",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err)
		s.removeFile(savedPath)
		return nil, err
	}
	invoice.Filename = savedPath
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	if err := s.db.SaveInvoice(invoice); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving invoice to database: %w", err)
	}
	if err := s.db.SaveOCR(id, ocr); err != nil {
		s.logger.Warn("failed to save raw responses", "id", id, "error", err)
	}

	s.logger.Info("processed invoice",
		"id", id,
		"filename", filename,
		"status", invoice.Status,
		"overall_confidence", invoice.OverallConfidence,
		"pages", invoice.PageCount)

	return invoice, nil
}

func (s *Service) extract(ctx context.Context, id string, data []byte, contentType string) (*Invoice, []byte, error) {
	result, err := s.extractor.Run(ctx, data, contentType)
	if err != nil {
		return nil, nil, fmt.Errorf("extracting invoice: %w", err)
	}

	record, err := json.Marshal(result.Record)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling record: %w", err)
	}
	if err := assemble.ValidateJSON(record); err != nil {
		return nil, nil, err
	}

	ocr, err := extraction.MarshalResponses(result.Responses)
	if err != nil {
		return nil, nil, err
	}

	warnings := make([]string, 0, len(result.Record.Warnings()))
	for _, w := range result.Record.Warnings() {
		warnings = append(warnings, w.String())
	}

	return &Invoice{
		ID:                id,
		ContentType:       contentType,
		Status:            result.Record.Status(),
		OverallConfidence: result.Record.Document().OverallConfidence,
		PageCount:         result.Record.PageCount(),
		Locale:            result.Locale.Tag,
		Record:            record,
		Warnings:          warnings,
	}, ocr, nil
}

func (s *Service) removeFile(name string) {
	if err := s.storage.Delete(name); err != nil {
		s.logger.Warn("failed to delete file", "filename", name, "error", err)
	}
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(id string) (*Invoice, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return invoice, nil
}

// ListInvoices returns all invoices
func (s *Service) ListInvoices() ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// DeleteInvoice removes an invoice, its raw responses and its file
func (s *Service) DeleteInvoice(id string) error {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return fmt.Errorf("getting invoice for deletion: %w", err)
	}

	s.removeFile(invoice.Filename)

	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice from database: %w", err)
	}
	return nil
}

// GetInvoiceFile retrieves the uploaded file for an invoice
func (s *Service) GetInvoiceFile(id string) ([]byte, string, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice: %w", err)
	}

	data, err := s.storage.Get(invoice.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}

	return data, invoice.ContentType, nil
}

// GetRawOCR retrieves the raw backend responses for an invoice
func (s *Service) GetRawOCR(id string) ([]byte, error) {
	data, err := s.db.GetOCR(id)
	if err != nil {
		return nil, fmt.Errorf("getting raw responses: %w", err)
	}
	return data, nil
}

// ClearAll removes every invoice and uploaded file
func (s *Service) ClearAll() (int, error) {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return 0, fmt.Errorf("listing invoices: %w", err)
	}

	for _, invoice := range invoices {
		s.removeFile(invoice.Filename)
	}

	if err := s.db.DeleteAll(); err != nil {
		return 0, fmt.Errorf("clearing database: %w", err)
	}

	s.logger.Info("cleared invoices", "count", len(invoices))
	return len(invoices), nil
}

// IsNotFound reports whether err is caused by an unknown invoice
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
