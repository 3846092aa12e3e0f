package receipt

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseCandidate", func() {
	var (
		input     string
		candidate Candidate
		err       error
	)

	JustBeforeEach(func() {
		candidate, err = ParseCandidate([]byte(input))
	})

	When("parsing a complete object", func() {
		BeforeEach(func() {
			input = `{"issued_at": "2024-12-15T14:30:00", "issuer_name": "Restaurant ABC", "issuer_tax_id": "20123456789",
				"currency": "PEN", "total_amount": 45.50, "tip": 5.00, "payment_method": "visa", "note": "Lunch"}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse every field", func() {
			Expect(candidate.IssuedAt).To(Equal("2024-12-15T14:30:00"))
			Expect(candidate.IssuerName).To(Equal("Restaurant ABC"))
			Expect(candidate.IssuerTaxID).To(Equal("20123456789"))
			Expect(candidate.Currency).To(Equal("PEN"))
			Expect(candidate.TotalAmount.Valid).To(BeTrue())
			Expect(candidate.TotalAmount.Decimal.StringFixed(2)).To(Equal("45.50"))
			Expect(candidate.Tip.Decimal.StringFixed(2)).To(Equal("5.00"))
			Expect(candidate.PaymentMethod).To(Equal("visa"))
			Expect(candidate.Note).To(Equal("Lunch"))
		})
	})

	When("the total is missing", func() {
		BeforeEach(func() {
			input = `{"issuer_name": "Shop"}`
		})

		It("leaves the total invalid", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.TotalAmount.Valid).To(BeFalse())
		})
	})

	When("the total is null", func() {
		BeforeEach(func() {
			input = `{"total_amount": null, "tip": null}`
		})

		It("leaves the amounts invalid", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.TotalAmount.Valid).To(BeFalse())
			Expect(candidate.Tip.Valid).To(BeFalse())
		})
	})

	When("amounts arrive as decorated strings", func() {
		BeforeEach(func() {
			input = `{"total_amount": "S/ 1.234,50", "tip": "$5"}`
		})

		It("normalizes them", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.TotalAmount.Decimal.StringFixed(2)).To(Equal("1234.50"))
			Expect(candidate.Tip.Decimal.StringFixed(2)).To(Equal("5.00"))
		})
	})

	When("the total uses a trailing minus", func() {
		BeforeEach(func() {
			input = `{"total_amount": "45.50-"}`
		})

		It("parses it as a negative amount", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.TotalAmount.Valid).To(BeTrue())
			Expect(candidate.TotalAmount.Decimal.StringFixed(2)).To(Equal("-45.50"))
		})
	})

	When("keys use alternative spellings", func() {
		BeforeEach(func() {
			input = `{"Vendor_Name": "Bodega", "vendor_ruc": 10456, "Total": "12.00", "date": "2024-01-02"}`
		})

		It("maps them onto canonical fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.IssuerName).To(Equal("Bodega"))
			Expect(candidate.IssuerTaxID).To(Equal("10456"))
			Expect(candidate.TotalAmount.Decimal.StringFixed(2)).To(Equal("12.00"))
			Expect(candidate.IssuedAt).To(Equal("2024-01-02"))
		})
	})

	When("both the canonical key and an alias are present", func() {
		BeforeEach(func() {
			input = `{"total": 1, "total_amount": 2}`
		})

		It("prefers the canonical key", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.TotalAmount.Decimal.StringFixed(2)).To(Equal("2.00"))
		})
	})

	When("the total is not a number", func() {
		BeforeEach(func() {
			input = `{"total_amount": "about forty"}`
		})

		It("returns a malformed error", func() {
			Expect(errors.Is(err, ErrMalformed)).To(BeTrue())
		})
	})

	When("a field has an unexpected shape", func() {
		BeforeEach(func() {
			input = `{"total_amount": 10, "issuer_name": {"name": "x"}}`
		})

		It("returns a malformed error", func() {
			Expect(errors.Is(err, ErrMalformed)).To(BeTrue())
		})
	})

	When("the input is not an object", func() {
		BeforeEach(func() {
			input = `[1, 2, 3]`
		})

		It("returns a malformed error", func() {
			Expect(errors.Is(err, ErrMalformed)).To(BeTrue())
		})
	})

	When("the input is null", func() {
		BeforeEach(func() {
			input = `null`
		})

		It("returns a malformed error", func() {
			Expect(errors.Is(err, ErrMalformed)).To(BeTrue())
		})
	})
})

var _ = Describe("ParseAmount", func() {
	DescribeTable("parses human written amounts",
		func(in, expected string) {
			d, err := ParseAmount(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.StringFixed(2)).To(Equal(expected))
		},
		Entry("plain", "45.50", "45.50"),
		Entry("dollar sign", "$45.50", "45.50"),
		Entry("soles prefix", "S/. 45.50", "45.50"),
		Entry("decimal comma", "45,5", "45.50"),
		Entry("thousands comma", "1,234.56", "1234.56"),
		Entry("thousands dot", "1.234,56", "1234.56"),
		Entry("thousands comma no decimals", "1,234", "1234.00"),
		Entry("dotted thousands", "1.234.567", "1234567.00"),
		Entry("negative", "-3", "-3.00"),
		Entry("trailing minus", "45.50-", "-45.50"),
		Entry("trailing minus with currency", "S/ 1.234,50-", "-1234.50"),
	)

	It("fails without digits", func() {
		_, err := ParseAmount("free")
		Expect(err).To(HaveOccurred())
	})
})
