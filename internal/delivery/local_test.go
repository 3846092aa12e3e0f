package delivery

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-agent/internal/receipt"
	"github.com/zombor/receipt-agent/internal/scanning"
)

var _ = Describe("LocalDelivery", func() {
	var (
		extractor *stubExtractor
		stdout    *bytes.Buffer
		stderr    *bytes.Buffer
		delivery  *LocalDelivery
		dir       string
		path      string
		code      int
	)

	BeforeEach(func() {
		extractor = &stubExtractor{outcome: receipt.NotAReceipt{Reason: "blurry"}}
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
		delivery = NewLocalDelivery(extractor, receipt.NewFormatter(time.UTC), stdout, stderr)
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "receipt.png")
		Expect(os.WriteFile(path, pngBytes(), 0o644)).To(Succeed())
	})

	JustBeforeEach(func() {
		code = delivery.Run(context.Background(), path)
	})

	When("the file cannot be read", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "missing.jpg")
		})

		It("should exit 1 without extracting", func() {
			Expect(code).To(Equal(ExitFailure))
			Expect(extractor.callCount()).To(Equal(0))
		})

		It("should print one line to stderr", func() {
			Expect(stderr.String()).To(HavePrefix("error: cannot read "))
			Expect(stderr.String()).To(HaveSuffix("\n"))
			Expect(bytes.Count(stderr.Bytes(), []byte("\n"))).To(Equal(1))
			Expect(stdout.Len()).To(Equal(0))
		})
	})

	When("the image is not a receipt", func() {
		It("should exit 0 and print the reason", func() {
			Expect(code).To(Equal(ExitOK))
			Expect(stdout.String()).To(Equal("The provided image was not recognized as a valid receipt. Reason: blurry\n"))
		})

		It("should pass the file and its type to the extractor", func() {
			Expect(extractor.calls).To(HaveLen(1))
			Expect(extractor.calls[0].image).To(Equal(pngBytes()))
			Expect(extractor.calls[0].mimeType).To(Equal("image/png"))
		})
	})

	When("extraction fails", func() {
		BeforeEach(func() {
			extractor.outcome = receipt.NewFailure(receipt.ErrProviderError, "quota exceeded for key abc", nil)
		})

		It("should exit 1 with a generic message", func() {
			Expect(code).To(Equal(ExitFailure))
			Expect(stdout.String()).To(Equal("Sorry, I couldn't process the receipt. Please try again later.\n"))
			Expect(stdout.String()).NotTo(ContainSubstring("quota"))
		})
	})

	When("the file has no known extension", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "upload")
			Expect(os.WriteFile(path, pngBytes(), 0o644)).To(Succeed())
		})

		It("should sniff the content type", func() {
			Expect(extractor.calls[0].mimeType).To(Equal("image/png"))
		})
	})

	When("run twice with a fixed model", func() {
		var (
			model *fixedModel
			first string
		)

		BeforeEach(func() {
			model = &fixedModel{output: `{"issued_at":"2024-12-15T14:30:00","issuer_name":"Restaurant ABC","total_amount":45.5,"tip":5,"payment_method":"visa"}`}
			delivery = NewLocalDelivery(scanning.NewExtractor(model), receipt.NewFormatter(time.UTC), stdout, stderr)
		})

		JustBeforeEach(func() {
			first = stdout.String()
			stdout.Reset()
			code = delivery.Run(context.Background(), path)
		})

		It("should print byte-identical output", func() {
			Expect(code).To(Equal(ExitOK))
			Expect(stdout.String()).To(Equal(first))
			Expect(model.requests).To(Equal(2))
		})

		It("should print the receipt", func() {
			Expect(first).To(Equal("Receipt Details\n" +
				"Issued At: December 15, 2024 at 2:30 PM\n" +
				"Issuer Name: Restaurant ABC\n" +
				"Total Amount: 45.50\n" +
				"Tip: 5.00\n" +
				"Payment Method: Credit Card\n"))
		})
	})
})
