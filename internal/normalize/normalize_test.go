package normalize

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-extractor/internal/extraction"
)

var _ = Describe("Normalizer", func() {
	var (
		n        *Normalizer
		resp     *extraction.PageResponse
		loc      Locale
		result   PageResult
		elements []extraction.Element
	)

	BeforeEach(func() {
		n = New(DefaultPolicy(), discardLogger)
		loc = Locale{}
		elements = nil
	})

	JustBeforeEach(func() {
		resp = &extraction.PageResponse{Page: 0, Elements: elements}
		result = n.Normalize(resp, loc)
	})

	When("the page has a clear invoice number label", func() {
		BeforeEach(func() {
			elements = []extraction.Element{kv("Invoice No:", "12345", 0.95)}
		})

		It("should extract the invoice number", func() {
			f, ok := result.Field(InvoiceNumber)
			Expect(ok).To(BeTrue())
			Expect(f.Value).To(Equal("12345"))
			Expect(f.Confidence).To(BeNumerically(">=", 0.8))
		})

		It("should reference the source element", func() {
			f, _ := result.Field(InvoiceNumber)
			Expect(f.Sources).To(Equal([]ElementRef{{Page: 0, Index: 0}}))
		})
	})

	When("the label is accented and uses an ordinal sign", func() {
		BeforeEach(func() {
			elements = []extraction.Element{kv("NÚMERO DA  FATURA", "A-778", 0.9), kv("n° fatura", "B-1", 0.99)}
		})

		It("should take the first exact match", func() {
			f, ok := result.Field(InvoiceNumber)
			Expect(ok).To(BeTrue())
			Expect(f.Value).To(Equal("A-778"))
			Expect(f.Confidence).To(Equal(0.9))
		})
	})

	When("the label only matches fuzzily", func() {
		BeforeEach(func() {
			elements = []extraction.Element{kv("Total Amount Due", "100.50", 0.9)}
		})

		It("should apply the fuzzy penalty", func() {
			f, ok := result.Field(TotalAmount)
			Expect(ok).To(BeTrue())
			Expect(f.Value).To(Equal("100.50"))
			Expect(f.Confidence).To(BeNumerically("~", 0.9*0.85, 1e-9))
		})

		It("should record a warning", func() {
			Expect(result.Warnings).To(ContainElement(HaveField("Field", "total_amount")))
		})
	})

	When("a fuzzy label is close to both a number and a date label", func() {
		BeforeEach(func() {
			elements = []extraction.Element{kv("Invoice Dt", "01/02/2024", 0.9)}
		})

		It("should give the value to the field it parses as", func() {
			_, ok := result.Field(InvoiceNumber)
			Expect(ok).To(BeFalse())
			f, ok := result.Field(IssueDate)
			Expect(ok).To(BeTrue())
			Expect(f.Value).To(Equal("2024-02-01"))
		})
	})

	When("a fuzzy label's value is not a date", func() {
		BeforeEach(func() {
			elements = []extraction.Element{kv("Invoice Dt", "INV-0042", 0.9)}
		})

		It("should fall back to the invoice number", func() {
			f, ok := result.Field(InvoiceNumber)
			Expect(ok).To(BeTrue())
			Expect(f.Value).To(Equal("INV-0042"))
		})
	})

	When("an exact match comes after a fuzzy one", func() {
		BeforeEach(func() {
			elements = []extraction.Element{kv("Total Amount Due", "90.00", 0.99), kv("Total", "100.00", 0.7)}
		})

		It("should prefer the exact match", func() {
			f, _ := result.Field(TotalAmount)
			Expect(f.Value).To(Equal("100.00"))
			Expect(f.Confidence).To(Equal(0.7))
		})
	})

	When("values only appear in labelled lines", func() {
		BeforeEach(func() {
			elements = []extraction.Element{
				line("ACME Ltda", 0.99),
				line("Invoice No: 12345", 0.92),
				line("Due Date: 2024-03-01", 0.9),
			}
		})

		It("should read them from the lines", func() {
			f, ok := result.Field(InvoiceNumber)
			Expect(ok).To(BeTrue())
			Expect(f.Value).To(Equal("12345"))
			Expect(f.Confidence).To(Equal(0.92))

			due, ok := result.Field(DueDate)
			Expect(ok).To(BeTrue())
			Expect(due.Value).To(Equal("2024-03-01"))
		})
	})

	When("a key-value candidate exists", func() {
		BeforeEach(func() {
			elements = []extraction.Element{line("Invoice No: 999", 0.99), kv("Invoice No", "12345", 0.8)}
		})

		It("should ignore labelled lines for that field", func() {
			f, _ := result.Field(InvoiceNumber)
			Expect(f.Value).To(Equal("12345"))
		})
	})

	Describe("amounts", func() {
		When("the total uses Brazilian separators", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Valor Total", "R$ 1.234,56", 0.9)}
			})

			It("should parse 1234.56", func() {
				f, ok := result.Field(TotalAmount)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("1234.56"))
				Expect(f.Amount.String()).To(Equal("1234.56"))
				Expect(f.Confidence).To(Equal(0.9))
			})

			It("should take the currency from the total", func() {
				f, ok := result.Field(Currency)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("BRL"))
				Expect(f.Confidence).To(Equal(0.9))
			})
		})

		When("the locale is EUR-style", func() {
			BeforeEach(func() {
				loc = Locale{DecimalSeparator: ",", DateOrder: DayFirst}
				elements = []extraction.Element{kv("Total", "1.234", 0.8)}
			})

			It("should read a lone dot before three digits as a thousands separator", func() {
				f, _ := result.Field(TotalAmount)
				Expect(f.Value).To(Equal("1234"))
				Expect(f.Confidence).To(Equal(0.8))
			})
		})

		When("the separator is ambiguous and the locale unknown", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "1,234", 0.8)}
			})

			It("should halve the confidence", func() {
				f, ok := result.Field(TotalAmount)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("1234"))
				Expect(f.Confidence).To(BeNumerically("~", 0.4, 1e-9))
			})
		})

		When("the amount is negative", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "-10.00", 0.9)}
			})

			It("should drop it", func() {
				_, ok := result.Field(TotalAmount)
				Expect(ok).To(BeFalse())
				Expect(result.Warnings).To(ContainElement(HaveField("Message", ContainSubstring("negative"))))
			})
		})

		When("a dash separates the total from trailing text", func() {
			BeforeEach(func() {
				elements = []extraction.Element{line("Total a Pagar: R$ 1.234,56 - vencimento 10/05/2024", 0.9)}
			})

			It("should keep the total", func() {
				f, ok := result.Field(TotalAmount)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("1234.56"))
				Expect(result.Warnings).NotTo(ContainElement(HaveField("Message", ContainSubstring("negative"))))
			})
		})

		When("the amount does not parse", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "see attached", 0.9)}
			})

			It("should not default to zero", func() {
				_, ok := result.Field(TotalAmount)
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("dates", func() {
		When("the date is ambiguous and the locale unknown", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Invoice Date", "01/02/2024", 0.9)}
			})

			It("should take the first format and halve the confidence", func() {
				f, ok := result.Field(IssueDate)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("2024-02-01"))
				Expect(f.Confidence).To(BeNumerically("~", 0.45, 1e-9))
			})
		})

		When("the locale puts the month first", func() {
			BeforeEach(func() {
				loc = Locale{DateOrder: MonthFirst, DecimalSeparator: "."}
				elements = []extraction.Element{kv("Invoice Date", "01/02/2024", 0.9)}
			})

			It("should resolve the ambiguity without a penalty", func() {
				f, _ := result.Field(IssueDate)
				Expect(f.Value).To(Equal("2024-01-02"))
				Expect(f.Confidence).To(Equal(0.9))
			})
		})

		When("only one reading is valid", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Vencimento", "25/12/2024", 0.9)}
			})

			It("should not be ambiguous", func() {
				f, ok := result.Field(DueDate)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("2024-12-25"))
				Expect(f.Confidence).To(Equal(0.9))
			})
		})

		When("the date is surrounded by other text", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Vencimento", "25/12/2024 (net 30)", 0.9)}
			})

			It("should read it with the ambiguity penalty and a warning", func() {
				f, ok := result.Field(DueDate)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("2024-12-25"))
				Expect(f.Confidence).To(BeNumerically("~", 0.45, 1e-9))
				Expect(result.Warnings).To(ContainElement(HaveField("Message", ContainSubstring("ignoring surrounding text"))))
			})
		})

		When("the month is spelled out in Portuguese", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Data de Emissão", "15 de março de 2024", 0.9)}
			})

			It("should translate it", func() {
				f, ok := result.Field(IssueDate)
				Expect(ok).To(BeTrue())
				Expect(f.Value).To(Equal("2024-03-15"))
			})
		})

		When("the date is garbage", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Due Date", "upon receipt", 0.9)}
			})

			It("should drop the field", func() {
				_, ok := result.Field(DueDate)
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("currency", func() {
		When("a currency is labelled", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Currency", "eur", 0.7), kv("Total", "$ 10.00", 0.9)}
			})

			It("should use the label", func() {
				f, _ := result.Field(Currency)
				Expect(f.Value).To(Equal("EUR"))
				Expect(f.Confidence).To(Equal(0.7))
			})
		})

		When("only a dollar sign is printed with the total", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "$ 10.00", 0.9)}
			})

			It("should read USD with the ambiguity penalty", func() {
				f, _ := result.Field(Currency)
				Expect(f.Value).To(Equal("USD"))
				Expect(f.Confidence).To(BeNumerically("~", 0.45, 1e-9))
			})
		})

		When("a code appears elsewhere on the page", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "10.00", 0.9), line("All prices in GBP 10.00 incl. VAT", 0.8)}
			})

			It("should use it with the text penalty", func() {
				f, _ := result.Field(Currency)
				Expect(f.Value).To(Equal("GBP"))
				Expect(f.Confidence).To(BeNumerically("~", 0.8*0.85, 1e-9))
			})
		})

		When("a page line has a word that looks like a currency code", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "100.00", 0.9), line("TOP 10 SELLER OF THE YEAR", 0.9), line("ALL 3 ITEMS SHIPPED", 0.9)}
			})

			It("should not read it as a currency", func() {
				_, ok := result.Field(Currency)
				Expect(ok).To(BeFalse())
			})
		})

		When("no currency is printed", func() {
			BeforeEach(func() {
				elements = []extraction.Element{kv("Total", "10.00", 0.9)}
			})

			It("should not fabricate one", func() {
				_, ok := result.Field(Currency)
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("line items", func() {
		When("the page has a line-item table", func() {
			BeforeEach(func() {
				elements = widgetTable()
			})

			It("should produce one item per row in order", func() {
				Expect(result.LineItems).To(HaveLen(2))
				a, b := result.LineItems[0], result.LineItems[1]
				Expect(a.Description).To(Equal("Widget A"))
				Expect(b.Description).To(Equal("Widget B"))
				Expect(a.Quantity.String()).To(Equal("2"))
				Expect(b.Quantity.String()).To(Equal("1"))
				Expect(*FormatDecimal(a.UnitPrice)).To(Equal("10.00"))
				Expect(*FormatDecimal(b.UnitPrice)).To(Equal("5.00"))
				Expect(*FormatDecimal(a.Amount)).To(Equal("20.00"))
				Expect(*FormatDecimal(b.Amount)).To(Equal("5.00"))
			})

			It("should take the lowest cell confidence", func() {
				Expect(result.LineItems[0].Confidence).To(Equal(0.9))
			})

			It("should not produce singular fields", func() {
				Expect(result.Fields).To(BeEmpty())
			})
		})

		When("the table ends with a total row", func() {
			BeforeEach(func() {
				elements = append(widgetTable(), cell(3, 0, "Total", 0.9), cell(3, 3, "25.00", 0.9))
			})

			It("should not treat it as a line item", func() {
				Expect(result.LineItems).To(HaveLen(2))
			})
		})

		When("the header does not look like a line-item table", func() {
			BeforeEach(func() {
				elements = []extraction.Element{
					cell(0, 0, "Bank", 0.9), cell(0, 1, "Account", 0.9),
					cell(1, 0, "Itaú", 0.9), cell(1, 1, "12345-6", 0.9),
				}
			})

			It("should produce no items", func() {
				Expect(result.LineItems).To(BeEmpty())
			})
		})

		When("a cell does not parse", func() {
			BeforeEach(func() {
				elements = widgetTable()
				elements[6].Text = "n/a"
			})

			It("should leave that value empty", func() {
				Expect(result.LineItems[0].UnitPrice).To(BeNil())
				Expect(result.LineItems[0].Amount).NotTo(BeNil())
			})
		})
	})

	When("the page is blank", func() {
		It("should produce nothing", func() {
			Expect(result.Fields).To(BeEmpty())
			Expect(result.LineItems).To(BeEmpty())
		})
	})

	When("the backend flagged the response", func() {
		JustBeforeEach(func() {
			resp.Warnings = []string{"confidence clamped"}
			result = n.Normalize(resp, loc)
		})

		It("should carry the warning", func() {
			Expect(result.Warnings).To(ContainElement(HaveField("Message", "confidence clamped")))
		})
	})

	It("should tolerate a nil response", func() {
		Expect(n.Normalize(nil, Locale{}).Fields).To(BeEmpty())
	})
})

var _ = Describe("InferLocale", func() {
	var n *Normalizer

	BeforeEach(func() {
		n = New(DefaultPolicy(), discardLogger)
	})

	It("should infer a Brazilian locale from R$", func() {
		loc := n.InferLocale(&extraction.PageResponse{Elements: []extraction.Element{kv("Total", "R$ 1.234,56", 0.9)}})
		Expect(loc.Currency).To(Equal("BRL"))
		Expect(loc.DecimalSeparator).To(Equal(","))
		Expect(loc.DateOrder).To(Equal(DayFirst))
	})

	It("should prefer an explicit language marker", func() {
		loc := n.InferLocale(
			&extraction.PageResponse{Elements: []extraction.Element{line("lang: en-GB", 0.9)}},
			&extraction.PageResponse{Elements: []extraction.Element{line("Total EUR 10.00", 0.9)}},
		)
		Expect(loc.Tag).To(Equal("en-GB"))
		Expect(loc.Currency).To(Equal("EUR"))
		Expect(loc.DecimalSeparator).To(Equal("."))
		Expect(loc.DateOrder).To(Equal(DayFirst))
	})

	It("should fall back to the base language", func() {
		loc := n.InferLocale(&extraction.PageResponse{Elements: []extraction.Element{kv("Idioma", "pt_BR", 0.9)}})
		Expect(loc.DecimalSeparator).To(Equal(","))
	})

	It("should use a dollar sign only without other evidence", func() {
		loc := n.InferLocale(&extraction.PageResponse{Elements: []extraction.Element{line("$ 10.00", 0.9), line("€ 5,00", 0.9)}})
		Expect(loc.Currency).To(Equal("EUR"))
	})

	It("should ignore codes next to plain counts", func() {
		loc := n.InferLocale(&extraction.PageResponse{Elements: []extraction.Element{line("TOP 10 SELLER", 0.9), line("CUP 2 ordered", 0.9)}})
		Expect(loc.Currency).To(BeEmpty())
	})

	It("should stay unknown without evidence", func() {
		loc := n.InferLocale(&extraction.PageResponse{Elements: []extraction.Element{line("Invoice 42", 0.9)}})
		Expect(loc.Known()).To(BeFalse())
	})
})
