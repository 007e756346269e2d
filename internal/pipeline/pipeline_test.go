package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-extractor/internal/assemble"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/normalize"
	"github.com/zombor/invoice-extractor/internal/raster"
)

var _ = Describe("Pipeline", func() {
	var (
		doc        *mockDocument
		rasterizer *mockRasterizer
		backend    *mockBackend
		docBackend bool
		cfg        Config
		p          *Pipeline
		result     *Result
		err        error
		input      []byte
		mimeType   string
	)

	BeforeEach(func() {
		doc = newDocument(1)
		rasterizer = &mockRasterizer{doc: doc}
		backend = newMockBackend()
		docBackend = false
		cfg = Config{Workers: 4}
		input = []byte("%PDF-1.4 fake")
		mimeType = "application/pdf"
	})

	JustBeforeEach(func() {
		var b extraction.Backend = backend
		if docBackend {
			b = mockDocumentBackend{backend}
		}
		client := extraction.NewClientWithDeps(b, extraction.Config{Timeout: time.Second}, discardLogger, noSleep)
		p = New(rasterizer, client, normalize.New(normalize.DefaultPolicy(), discardLogger), assemble.New(assemble.DefaultConfig()), cfg, discardLogger)
		result, err = p.Run(context.Background(), input, mimeType)
	})

	When("a single page invoice is complete", func() {
		BeforeEach(func() {
			backend.responses[0] = &extraction.PageResponse{Elements: append([]extraction.Element{
				kv("Invoice No", "12345", 0.95),
				kv("Total", "R$ 1.234,56", 0.9),
				kv("Data de Emissão", "03/04/2024", 0.9),
			}, itemTable("Widget A")...)}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should extract the fields", func() {
			r := result.Record
			Expect(r.Status()).To(Equal(assemble.StatusComplete))
			number, _ := r.Field(normalize.InvoiceNumber)
			Expect(number.Value).To(Equal("12345"))
			total, _ := r.Field(normalize.TotalAmount)
			Expect(total.Value).To(Equal("1234.56"))
			currency, _ := r.Field(normalize.Currency)
			Expect(currency.Value).To(Equal("BRL"))
		})

		It("should resolve the date with the inferred locale", func() {
			issued, _ := result.Record.Field(normalize.IssueDate)
			Expect(issued.Value).To(Equal("2024-04-03"))
			Expect(issued.Confidence).To(Equal(0.9))
			Expect(result.Locale.Currency).To(Equal("BRL"))
		})

		It("should produce JSON matching the schema", func() {
			data, err := json.Marshal(result.Record)
			Expect(err).NotTo(HaveOccurred())
			Expect(assemble.ValidateJSON(data)).To(Succeed())
		})

		It("should close the document", func() {
			Expect(doc.closed).To(BeTrue())
		})
	})

	When("the input is unreadable", func() {
		BeforeEach(func() {
			rasterizer.err = &raster.UnreadablePDFError{Reason: "broken"}
		})

		It("should return the error without calling the backend", func() {
			var unreadable *raster.UnreadablePDFError
			Expect(errors.As(err, &unreadable)).To(BeTrue())
			Expect(result).To(BeNil())
			Expect(backend.totalCalls()).To(Equal(0))
		})
	})

	When("pages complete out of order", func() {
		BeforeEach(func() {
			doc = newDocument(2)
			rasterizer.doc = doc
			backend.responses[0] = &extraction.PageResponse{Elements: itemTable("A1", "A2")}
			backend.responses[1] = &extraction.PageResponse{Elements: itemTable("B1", "B2")}
			backend.delays[0] = 50 * time.Millisecond
		})

		It("should keep page then position order", func() {
			Expect(err).NotTo(HaveOccurred())
			var descs []string
			for _, item := range result.Record.LineItems() {
				descs = append(descs, item.Description)
			}
			Expect(descs).To(Equal([]string{"A1", "A2", "B1", "B2"}))
		})

		It("should record the page count", func() {
			Expect(result.Record.PageCount()).To(Equal(2))
			Expect(result.Responses).To(HaveLen(2))
		})
	})

	When("a document has many pages", func() {
		BeforeEach(func() {
			doc = newDocument(10)
			rasterizer.doc = doc
			for i := 0; i < 10; i++ {
				backend.delays[i] = 10 * time.Millisecond
			}
			cfg.Workers = 3
		})

		It("should bound the calls in flight", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.totalCalls()).To(Equal(10))
			Expect(backend.maxFlight).To(BeNumerically("<=", 3))
		})
	})

	When("a page is blank", func() {
		BeforeEach(func() {
			doc.pages[0].Blank = true
		})

		It("should skip the backend and produce no fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.totalCalls()).To(Equal(0))
			Expect(result.Record.Empty()).To(BeTrue())
			Expect(result.Record.Status()).To(Equal(assemble.StatusFailed))
		})
	})

	When("the backend throttles twice and then succeeds", func() {
		BeforeEach(func() {
			backend.errs[0] = []error{extraction.ErrThrottled, extraction.ErrThrottled}
			backend.responses[0] = &extraction.PageResponse{Elements: []extraction.Element{kv("Invoice No", "12345", 0.9)}}
		})

		It("should use the third response", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.calls[0]).To(Equal(3))
			number, ok := result.Record.Field(normalize.InvoiceNumber)
			Expect(ok).To(BeTrue())
			Expect(number.Value).To(Equal("12345"))
			Expect(result.Record.Warnings()).To(BeEmpty())
		})
	})

	When("one page fails", func() {
		BeforeEach(func() {
			doc = newDocument(2)
			rasterizer.doc = doc
			backend.errs[0] = []error{extraction.ErrRejected}
			backend.responses[1] = &extraction.PageResponse{Elements: []extraction.Element{kv("Invoice No", "12345", 0.9)}}
		})

		It("should keep the other pages", func() {
			Expect(err).NotTo(HaveOccurred())
			number, ok := result.Record.Field(normalize.InvoiceNumber)
			Expect(ok).To(BeTrue())
			Expect(number.Value).To(Equal("12345"))
			Expect(result.Responses[0]).To(BeNil())
		})

		It("should report the skipped page", func() {
			Expect(result.Record.Warnings()).To(ContainElement(SatisfyAll(
				HaveField("Page", 0),
				HaveField("Message", ContainSubstring("page skipped")),
			)))
		})
	})

	When("a page fails to render", func() {
		BeforeEach(func() {
			doc = newDocument(2)
			doc.renderErr = map[int]error{1: errors.New("mupdf exploded")}
			rasterizer.doc = doc
		})

		It("should skip that page only", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.calls[0]).To(Equal(1))
			Expect(backend.calls[1]).To(Equal(0))
			Expect(result.Record.Warnings()).To(ContainElement(HaveField("Page", 1)))
		})
	})

	When("every page fails", func() {
		BeforeEach(func() {
			doc = newDocument(2)
			rasterizer.doc = doc
			backend.errs[0] = []error{extraction.ErrRejected}
			backend.errs[1] = []error{extraction.ErrUnavailable, extraction.ErrUnavailable, extraction.ErrUnavailable}
		})

		It("should return a Failed record without an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Record.Status()).To(Equal(assemble.StatusFailed))
			Expect(result.Record.Warnings()).To(HaveLen(2))
		})
	})

	When("the total has no currency", func() {
		BeforeEach(func() {
			backend.responses[0] = &extraction.PageResponse{Elements: []extraction.Element{
				kv("Invoice No", "12345", 0.95),
				kv("Total", "25.00", 0.9),
			}}
		})

		It("should be Partial", func() {
			Expect(result.Record.Status()).To(Equal(assemble.StatusPartial))
		})
	})

	When("the total has no currency but the page text has a code-like word", func() {
		BeforeEach(func() {
			backend.responses[0] = &extraction.PageResponse{Elements: []extraction.Element{
				kv("Invoice No", "12345", 0.95),
				kv("Total", "100.00", 0.9),
				{Kind: extraction.KindLine, Text: "TOP 10 SELLER OF THE YEAR", Confidence: 0.9},
			}}
		})

		It("should stay Partial", func() {
			_, ok := result.Record.Field(normalize.Currency)
			Expect(ok).To(BeFalse())
			Expect(result.Record.Status()).To(Equal(assemble.StatusPartial))
		})
	})

	When("the backend accepts whole documents", func() {
		BeforeEach(func() {
			docBackend = true
			cfg.NativeDocuments = true
			backend.docResps = []*extraction.PageResponse{
				{Page: 0, Elements: []extraction.Element{kv("Invoice No", "N-1", 0.9)}},
			}
		})

		It("should send the document once", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.docCalls).To(Equal(1))
			Expect(backend.totalCalls()).To(Equal(0))
			number, _ := result.Record.Field(normalize.InvoiceNumber)
			Expect(number.Value).To(Equal("N-1"))
		})

		When("the backend refuses the document", func() {
			BeforeEach(func() {
				backend.docErr = extraction.ErrRejected
				backend.responses[0] = &extraction.PageResponse{Elements: []extraction.Element{kv("Invoice No", "P-1", 0.9)}}
			})

			It("should fall back to page rasters", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(backend.totalCalls()).To(Equal(1))
				number, _ := result.Record.Field(normalize.InvoiceNumber)
				Expect(number.Value).To(Equal("P-1"))
			})
		})
	})

	When("native documents are enabled but the input is an image", func() {
		BeforeEach(func() {
			docBackend = true
			cfg.NativeDocuments = true
			input = []byte{0x89, 'P', 'N', 'G'}
			mimeType = "image/png"
		})

		It("should not send a document", func() {
			Expect(backend.docCalls).To(Equal(0))
			Expect(backend.totalCalls()).To(Equal(1))
		})
	})
})

var _ = Describe("Pipeline.Run", func() {
	var (
		backend *mockBackend
		p       *Pipeline
	)

	BeforeEach(func() {
		backend = newMockBackend()
		client := extraction.NewClientWithDeps(backend, extraction.Config{Timeout: time.Minute}, discardLogger, noSleep)
		p = New(&mockRasterizer{doc: newDocument(3)}, client,
			normalize.New(normalize.DefaultPolicy(), discardLogger), assemble.New(assemble.DefaultConfig()),
			Config{}, discardLogger)
	})

	It("should produce identical records for identical input", func() {
		for i := 0; i < 3; i++ {
			backend.responses[i] = &extraction.PageResponse{Elements: append(itemTable("Item"), kv("Total", "€ 1.000,00", 0.9))}
		}
		backend.delays[0] = 20 * time.Millisecond

		first, err := p.Run(context.Background(), []byte("%PDF-"), "application/pdf")
		Expect(err).NotTo(HaveOccurred())
		second, err := p.Run(context.Background(), []byte("%PDF-"), "application/pdf")
		Expect(err).NotTo(HaveOccurred())

		a, _ := json.Marshal(first.Record)
		b, _ := json.Marshal(second.Record)
		Expect(a).To(MatchJSON(b))
	})

	It("should stop when cancelled", func() {
		for i := 0; i < 3; i++ {
			backend.delays[i] = time.Minute
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		result, err := p.Run(ctx, []byte("%PDF-"), "application/pdf")
		Expect(err).To(MatchError(context.Canceled))
		Expect(result).To(BeNil())
	})
})
