package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is a validated receipt extracted from an image.
// Only Validator constructs records; TotalAmount is always set and non-negative.
type Record struct {
	IssuedAt      *time.Time          `json:"issued_at,omitempty"`
	IssuerName    string              `json:"issuer_name,omitempty"`
	IssuerTaxID   string              `json:"issuer_tax_id,omitempty"`
	Currency      string              `json:"currency,omitempty"` // ISO 4217
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Tip           decimal.NullDecimal `json:"tip"`
	PaymentMethod PaymentMethod       `json:"payment_method"`
	Note          string              `json:"note,omitempty"`
}

// Outcome is the result of one extraction attempt.
// It is implemented by Success, NotAReceipt and Failure only.
type Outcome interface {
	outcome()
}

// Success carries a valid record.
type Success struct {
	Record Record
}

// NotAReceipt means the image was classified as not being a usable receipt.
type NotAReceipt struct {
	Reason string
}

// ErrorKind classifies extraction failures
type ErrorKind string

const (
	ErrInvalidInput  ErrorKind = "invalid_input"
	ErrProviderError ErrorKind = "provider_error"
	ErrParseError    ErrorKind = "parse_error"
)

// Failure is a terminal error for one extraction attempt. Detail and Err are
// for logs only and never reach end users.
type Failure struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (Success) outcome()     {}
func (NotAReceipt) outcome() {}
func (Failure) outcome()     {}

func (f Failure) Error() string {
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Detail + ": " + f.Err.Error()
	}
	return string(f.Kind) + ": " + f.Detail
}

func (f Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure outcome
func NewFailure(kind ErrorKind, detail string, err error) Failure {
	return Failure{Kind: kind, Detail: detail, Err: err}
}
