package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-extractor/internal/assemble"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/normalize"
	"github.com/zombor/invoice-extractor/internal/raster"
)

// DefaultWorkers is the number of backend calls kept in flight per run
const DefaultWorkers = 4

// Rasterizer opens documents for page rendering
type Rasterizer interface {
	// Open prepares data for rendering, failing with *raster.UnreadablePDFError
	Open(data []byte, contentType string) (raster.Document, error)
}

// Extractor calls the recognition backend
type Extractor interface {
	// Extract returns the raw response for one page
	Extract(ctx context.Context, page raster.Page) (*extraction.PageResponse, error)
	// ExtractDocument returns raw responses for a whole PDF
	ExtractDocument(ctx context.Context, pdf []byte, pageCount int) ([]*extraction.PageResponse, error)
	// SupportsDocuments reports whether ExtractDocument can be used
	SupportsDocuments() bool
}

// Config holds the pipeline settings
type Config struct {
	// Workers bounds concurrent backend calls
	Workers int
	// NativeDocuments sends PDFs whole when the backend accepts them
	NativeDocuments bool
}

// Result is the outcome of one run
type Result struct {
	Record *assemble.Record
	// Responses holds the raw response per page, nil for failed pages
	Responses []*extraction.PageResponse
	Locale    normalize.Locale
}

// Pipeline turns document bytes into an invoice record
type Pipeline struct {
	rasterizer Rasterizer
	extractor  Extractor
	normalizer *normalize.Normalizer
	assembler  *assemble.Assembler
	cfg        Config
	logger     *slog.Logger
}

// New creates a Pipeline
func New(r Rasterizer, e Extractor, n *normalize.Normalizer, a *assemble.Assembler, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	return &Pipeline{
		rasterizer: r,
		extractor:  e,
		normalizer: n,
		assembler:  a,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run extracts one document. Only unreadable input and cancellation are
// returned as errors; pages the backend cannot process are skipped and a
// document where every page failed yields a Failed record.
func (p *Pipeline) Run(ctx context.Context, data []byte, contentType string) (*Result, error) {
	start := time.Now()

	doc, err := p.rasterizer.Open(data, contentType)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pageCount := doc.NumPages()
	responses := make([]*extraction.PageResponse, pageCount)
	var failures []normalize.Warning

	native := false
	if p.cfg.NativeDocuments && raster.IsPDF(data, contentType) && p.extractor.SupportsDocuments() {
		native, err = p.extractDocument(ctx, data, responses)
		if err != nil {
			return nil, err
		}
	}
	if !native {
		failures, err = p.extractPages(ctx, doc, responses)
		if err != nil {
			return nil, err
		}
	}

	loc := p.normalizer.InferLocale(responses...)
	results := make([]normalize.PageResult, 0, pageCount)
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		results = append(results, p.normalizer.Normalize(resp, loc))
	}

	record := p.assembler.Assemble(pageCount, results, failures...)

	p.logger.Info("extracted invoice",
		"pages", pageCount,
		"failed_pages", len(failures),
		"native", native,
		"locale", loc.Tag,
		"currency", loc.Currency,
		"status", record.Status(),
		"overall_confidence", record.OverallConfidence(),
		"duration_ms", time.Since(start).Milliseconds())

	return &Result{Record: record, Responses: responses, Locale: loc}, nil
}

// extractDocument tries the whole PDF in one backend call. A backend
// failure falls back to page rasters.
func (p *Pipeline) extractDocument(ctx context.Context, data []byte, responses []*extraction.PageResponse) (bool, error) {
	resps, err := p.extractor.ExtractDocument(ctx, data, len(responses))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Warn("document extraction failed, falling back to page rasters", "error", err)
		return false, nil
	}
	copy(responses, resps)
	return true, nil
}

// extractPages renders pages in order on the calling goroutine while up to
// Workers backend calls run. Each call writes only its own slot.
func (p *Pipeline) extractPages(ctx context.Context, doc raster.Document, responses []*extraction.PageResponse) ([]normalize.Warning, error) {
	var (
		mu       sync.Mutex
		failures []normalize.Warning
	)
	fail := func(page int, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, normalize.Warning{Page: page, Message: fmt.Sprintf("page skipped: %v", err)})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i := range responses {
		page, err := doc.Render(gctx, i)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			p.logger.Error("rendering page", "page", i, "error", err)
			fail(i, err)
			continue
		}
		if page.Blank {
			responses[i] = &extraction.PageResponse{Page: i}
			continue
		}

		g.Go(func() error {
			resp, err := p.extractor.Extract(gctx, page)
			if err != nil {
				var backendErr *extraction.BackendError
				if errors.As(err, &backendErr) {
					p.logger.Error("extracting page", "page", page.Index, "attempts", backendErr.Attempts, "error", backendErr.Err)
					fail(page.Index, err)
					return nil
				}
				return err
			}
			responses[page.Index] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(failures, func(a, b normalize.Warning) int {
		return cmp.Compare(a.Page, b.Page)
	})
	return failures, nil
}
