package receipt

import (
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"
)

const maxNoteRunes = 1000

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Policy controls the plausibility checks applied to model output
type Policy struct {
	// Location interprets timestamps that carry no zone
	Location *time.Location
	// EarliestYear drops issue dates before January 1 of this year
	EarliestYear int
	// FutureTolerance drops issue dates later than now plus this duration
	FutureTolerance time.Duration
	// AllowZeroTotal accepts a total of exactly 0.00
	AllowZeroTotal bool
	TimeSource     TimeSource
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		Location:        time.UTC,
		EarliestYear:    2000,
		FutureTolerance: 48 * time.Hour,
		TimeSource:      defaultTimeSource{},
	}
}

// RejectedError explains why a candidate is not a usable receipt
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "not a receipt: " + e.Reason
}

// Validator turns candidates into records
type Validator struct {
	policy Policy
}

// NewValidator creates a Validator, filling unset policy fields with defaults
func NewValidator(policy Policy) *Validator {
	def := DefaultPolicy()
	if policy.Location == nil {
		policy.Location = def.Location
	}
	if policy.EarliestYear == 0 {
		policy.EarliestYear = def.EarliestYear
	}
	if policy.FutureTolerance == 0 {
		policy.FutureTolerance = def.FutureTolerance
	}
	if policy.TimeSource == nil {
		policy.TimeSource = def.TimeSource
	}
	return &Validator{policy: policy}
}

var (
	errTotalMissing  = errors.New("no total amount could be found")
	errTotalNegative = errors.New("the total amount is negative")
	errTotalZero     = errors.New("the total amount is zero")
)

// Validate checks c independently of what the model claimed. A missing,
// negative or (unless allowed) zero total rejects the candidate with a
// *RejectedError. Implausible optional fields are dropped, never corrected.
func (v *Validator) Validate(c Candidate) (Record, error) {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.TotalAmount,
			validation.Required.ErrorObject(validation.NewError("validation_total_missing", errTotalMissing.Error())),
			validation.By(v.totalRule),
		),
	)
	if err != nil {
		return Record{}, &RejectedError{Reason: rejectionReason(err)}
	}

	rec := Record{
		IssuerName:    strings.TrimSpace(c.IssuerName),
		IssuerTaxID:   strings.TrimSpace(c.IssuerTaxID),
		TotalAmount:   c.TotalAmount.Decimal,
		PaymentMethod: NormalizePaymentMethod(c.PaymentMethod),
		Note:          truncateRunes(strings.TrimSpace(c.Note), maxNoteRunes),
	}

	if c.IssuedAt != "" {
		if t, ok := v.issuedAt(c.IssuedAt); ok {
			rec.IssuedAt = &t
		}
	}

	if currency := strings.ToUpper(strings.TrimSpace(c.Currency)); currency != "" {
		if err := validation.Validate(currency, is.CurrencyCode); err == nil {
			rec.Currency = currency
		} else {
			slog.Warn("Dropping invalid currency", "currency", c.Currency)
		}
	}

	if c.Tip.Valid {
		if c.Tip.Decimal.IsPositive() {
			rec.Tip = c.Tip
		} else if c.Tip.Decimal.IsNegative() {
			slog.Warn("Dropping negative tip", "tip", c.Tip.Decimal.String())
		}
	}

	return rec, nil
}

func (v *Validator) totalRule(value interface{}) error {
	total, ok := value.(decimal.NullDecimal)
	if !ok || !total.Valid {
		return errTotalMissing
	}
	if total.Decimal.IsNegative() {
		return errTotalNegative
	}
	if total.Decimal.IsZero() && !v.policy.AllowZeroTotal {
		return errTotalZero
	}
	return nil
}

func (v *Validator) issuedAt(s string) (time.Time, bool) {
	t, ok := ParseTimestamp(s, v.policy.Location)
	if !ok {
		slog.Warn("Dropping unparseable issue date", "issued_at", s)
		return time.Time{}, false
	}
	floor := time.Date(v.policy.EarliestYear, time.January, 1, 0, 0, 0, 0, v.policy.Location)
	ceiling := v.policy.TimeSource.Now().Add(v.policy.FutureTolerance)
	if err := validation.Validate(t, validation.Min(floor), validation.Max(ceiling)); err != nil {
		slog.Warn("Dropping implausible issue date", "issued_at", s, "error", err)
		return time.Time{}, false
	}
	return t, true
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04",
	"02-01-2006",
}

// ParseTimestamp accepts RFC 3339 timestamps and a set of common zone-less
// layouts, the latter interpreted as wall-clock time in loc. Slash dates are
// day first, as printed on receipts outside the US.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func rejectionReason(err error) string {
	var errs validation.Errors
	if errors.As(err, &errs) {
		if fieldErr, ok := errs["total_amount"]; ok {
			var vErr validation.Error
			if errors.As(fieldErr, &vErr) {
				return vErr.Message()
			}
			return fieldErr.Error()
		}
	}
	return err.Error()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
