package normalize

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("foldLabel", func() {
	DescribeTable("folding labels",
		func(in, expected string) {
			Expect(foldLabel(in)).To(Equal(expected))
		},
		Entry("case and punctuation", "Invoice No.:", "invoice no"),
		Entry("accents", "Data de Emissão", "data de emissao"),
		Entry("ordinal indicator", "Nº Fatura", "no fatura"),
		Entry("degree sign", "Facture N°", "facture no"),
		Entry("whitespace", "  Invoice \t  Number ", "invoice number"),
		Entry("hash sign", "Invoice #", "invoice #"),
	)
})

var _ = Describe("similarity", func() {
	It("should be 1 for equal strings", func() {
		Expect(similarity("total", "total")).To(Equal(1.0))
	})

	It("should be 0 when nothing is shared", func() {
		Expect(similarity("abc", "xyz")).To(Equal(0.0))
	})

	It("should use the longest common substring", func() {
		// "invoice numbe" is shared
		Expect(similarity("invoice numbe", "invoice number")).To(BeNumerically("~", 26.0/27.0, 1e-9))
	})
})

var _ = Describe("canonicalNumber", func() {
	DescribeTable("separators",
		func(token, decimalSep, expected string, ambiguous bool) {
			out, amb, err := canonicalNumber(token, decimalSep)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(expected))
			Expect(amb).To(Equal(ambiguous))
		},
		Entry("plain integer", "42", "", "42", false),
		Entry("comma decimal with dot thousands", "1.234,56", "", "1234.56", false),
		Entry("dot decimal with comma thousands", "1,234.56", "", "1234.56", false),
		Entry("comma decimal", "10,5", "", "10.5", false),
		Entry("dot decimal", "10.00", ",", "10.00", false),
		Entry("repeated thousands", "1.234.567", "", "1234567", false),
		Entry("three decimals after zero", "0.125", "", "0.125", false),
		Entry("long integer part", "1234.567", "", "1234.567", false),
		Entry("locale decides decimal", "1,234", ",", "1.234", false),
		Entry("locale decides thousands", "1,234", ".", "1234", false),
		Entry("unknown locale", "1.234", "", "1234", true),
	)

	DescribeTable("malformed numbers",
		func(token string) {
			_, _, err := canonicalNumber(token, "")
			Expect(err).To(HaveOccurred())
		},
		Entry("bad grouping", "12.34.567"),
		Entry("bad grouping with decimals", "1.23,45"),
		Entry("separator in decimals", "1,234.5,6"),
	)
})

var _ = Describe("parseAmount", func() {
	var n *Normalizer

	BeforeEach(func() {
		n = New(DefaultPolicy(), discardLogger)
	})

	It("should strip currency and spaced thousands", func() {
		d, amb, err := n.parseAmount("€ 1 234,50", ",")
		Expect(err).NotTo(HaveOccurred())
		Expect(amb).To(BeFalse())
		Expect(formatDecimal(d)).To(Equal("1234.50"))
	})

	It("should accept a trailing currency code", func() {
		d, _, err := n.parseAmount("99.90 USD", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(formatDecimal(d)).To(Equal("99.90"))
	})

	It("should reject amounts in parentheses", func() {
		_, _, err := n.parseAmount("(45.00)", "")
		Expect(err).To(MatchError(errNegative))
	})

	It("should reject a minus after the currency symbol", func() {
		_, _, err := n.parseAmount("R$ -10,00", ",")
		Expect(err).To(MatchError(errNegative))
	})

	It("should reject a trailing minus", func() {
		_, _, err := n.parseAmount("10,00-", ",")
		Expect(err).To(MatchError(errNegative))
	})

	It("should reject a sign before the currency symbol", func() {
		_, _, err := n.parseAmount("- R$ 10,00", ",")
		Expect(err).To(MatchError(errNegative))
	})

	DescribeTable("dashes used as punctuation",
		func(in, expected string) {
			d, _, err := n.parseAmount(in, ",")
			Expect(err).NotTo(HaveOccurred())
			Expect(formatDecimal(d)).To(Equal(expected))
		},
		Entry("text after the amount", "R$ 1.234,56 - vencimento 10/05/2024", "1234.56"),
		Entry("label before the amount", "Total - R$ 99,90", "99.90"),
	)
})

var _ = Describe("parseDate", func() {
	var n *Normalizer

	BeforeEach(func() {
		n = New(DefaultPolicy(), discardLogger)
	})

	DescribeTable("formats",
		func(in string, order DateOrder, expected string, ambiguous bool) {
			d, ok := n.parseDate(in, order)
			Expect(ok).To(BeTrue())
			Expect(d.Time.Format("2006-01-02")).To(Equal(expected))
			Expect(d.Ambiguous).To(Equal(ambiguous))
			Expect(d.Residual).To(BeFalse())
		},
		Entry("ISO", "2024-01-15", DateOrder(""), "2024-01-15", false),
		Entry("day first", "15/01/2024", DateOrder(""), "2024-01-15", false),
		Entry("dotted", "15.01.2024", DateOrder(""), "2024-01-15", false),
		Entry("ambiguous, day first locale", "03/04/2024", DayFirst, "2024-04-03", false),
		Entry("ambiguous, month first locale", "03/04/2024", MonthFirst, "2024-03-04", false),
		Entry("ambiguous, unknown locale", "03/04/2024", DateOrder(""), "2024-04-03", true),
		Entry("English month", "March 3rd, 2024", DateOrder(""), "2024-03-03", false),
		Entry("Spanish month", "5 de enero de 2024", DateOrder(""), "2024-01-05", false),
		Entry("abbreviated month", "7-Feb-2024", DateOrder(""), "2024-02-07", false),
	)

	It("should mark a date read from inside longer text as residual", func() {
		d, ok := n.parseDate("15/01/2024 10:30", "")
		Expect(ok).To(BeTrue())
		Expect(d.Time.Format("2006-01-02")).To(Equal("2024-01-15"))
		Expect(d.Residual).To(BeTrue())
	})

	It("should reject text that is not a date", func() {
		_, ok := n.parseDate("net 30", "")
		Expect(ok).To(BeFalse())
	})
})
