package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/gen2brain/go-fitz"
)

const (
	// MinDPI is the lowest resolution pages are rendered at. Lower configured
	// values are raised to it.
	MinDPI = 150
	// DefaultDPI is used when no resolution is configured.
	DefaultDPI = 200
)

// Page is one rendered page of a document
type Page struct {
	// Index is the zero-based position of the page in the document
	Index int
	// Image holds the PNG encoded raster
	Image  []byte
	Width  int
	Height int
	// Blank is set when every sampled pixel is near-white
	Blank bool
}

// UnreadablePDFError is returned when the input cannot be opened as a
// document: corrupt, encrypted, empty or of an unsupported format.
type UnreadablePDFError struct {
	Reason string
	Err    error
}

func (e *UnreadablePDFError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable document: %s: %v", e.Reason, e.Err)
	}
	return "unreadable document: " + e.Reason
}

func (e *UnreadablePDFError) Unwrap() error {
	return e.Err
}

// Document is an opened input that can be rendered page by page.
// A Document is not safe for concurrent use.
type Document interface {
	// NumPages returns the number of pages in the document
	NumPages() int
	// Render rasterizes the page at index
	Render(ctx context.Context, index int) (Page, error)
	// Close releases the resources held by the document
	Close() error
}

// Config holds the rasterizer settings
type Config struct {
	DPI int
}

// Rasterizer turns PDF pages and single images into page rasters
type Rasterizer struct {
	dpi    int
	logger *slog.Logger
}

// New creates a Rasterizer, enforcing the minimum resolution
func New(cfg Config, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	dpi := cfg.DPI
	if dpi == 0 {
		dpi = DefaultDPI
	}
	if dpi < MinDPI {
		logger.Warn("raising raster resolution to minimum", "configured_dpi", dpi, "dpi", MinDPI)
		dpi = MinDPI
	}
	return &Rasterizer{dpi: dpi, logger: logger}
}

// DPI returns the resolution pages are rendered at
func (r *Rasterizer) DPI() int {
	return r.dpi
}

// Open prepares data for rendering. PDFs are opened with MuPDF; JPEG, PNG,
// GIF and HEIC/HEIF images are treated as a one page document.
func (r *Rasterizer) Open(data []byte, contentType string) (Document, error) {
	if len(data) == 0 {
		return nil, &UnreadablePDFError{Reason: "empty input"}
	}

	if IsPDF(data, contentType) {
		doc, err := fitz.NewFromMemory(data)
		if err != nil {
			if errors.Is(err, fitz.ErrNeedsPassword) {
				return nil, &UnreadablePDFError{Reason: "encrypted PDF", Err: err}
			}
			return nil, &UnreadablePDFError{Reason: "opening PDF", Err: err}
		}
		if doc.NumPage() < 1 {
			doc.Close()
			return nil, &UnreadablePDFError{Reason: "PDF has no pages"}
		}
		return &pdfDocument{doc: doc, dpi: float64(r.dpi)}, nil
	}

	img, err := decodeImage(data, contentType)
	if err != nil {
		return nil, &UnreadablePDFError{Reason: "decoding image", Err: err}
	}
	return &imageDocument{img: img}, nil
}

// Rasterize renders every page of data in order
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte, contentType string) ([]Page, error) {
	doc, err := r.Open(data, contentType)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := make([]Page, 0, doc.NumPages())
	for i := 0; i < doc.NumPages(); i++ {
		page, err := doc.Render(ctx, i)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

type pdfDocument struct {
	doc *fitz.Document
	dpi float64
}

func (d *pdfDocument) NumPages() int {
	return d.doc.NumPage()
}

func (d *pdfDocument) Render(ctx context.Context, index int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	img, err := d.doc.ImageDPI(index, d.dpi)
	if err != nil {
		return Page{}, fmt.Errorf("rendering PDF page %d: %w", index, err)
	}
	return encodePage(index, img)
}

func (d *pdfDocument) Close() error {
	return d.doc.Close()
}

type imageDocument struct {
	img image.Image
}

func (d *imageDocument) NumPages() int {
	return 1
}

func (d *imageDocument) Render(ctx context.Context, index int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if index != 0 {
		return Page{}, fmt.Errorf("page %d out of range", index)
	}
	return encodePage(0, d.img)
}

func (d *imageDocument) Close() error {
	return nil
}

func encodePage(index int, img image.Image) (Page, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Page{}, fmt.Errorf("encoding PNG: %w", err)
	}
	b := img.Bounds()
	return Page{
		Index:  index,
		Image:  buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
		Blank:  isBlank(img),
	}, nil
}
