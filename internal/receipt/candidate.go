package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrMalformed is returned when structured model output cannot be decoded
// into a Candidate.
var ErrMalformed = errors.New("malformed receipt data")

// Candidate is structured model output before validation. Every field may be
// missing; Validator decides what becomes a Record.
type Candidate struct {
	IssuedAt      string              `json:"issued_at"`
	IssuerName    string              `json:"issuer_name"`
	IssuerTaxID   string              `json:"issuer_tax_id"`
	Currency      string              `json:"currency"`
	TotalAmount   decimal.NullDecimal `json:"total_amount"`
	Tip           decimal.NullDecimal `json:"tip"`
	PaymentMethod string              `json:"payment_method"`
	Note          string              `json:"note"`
}

// keyAliases maps alternative key spellings models tend to produce onto the
// canonical field names.
var keyAliases = map[string]string{
	"issued_at":      "issued_at",
	"issue_date":     "issued_at",
	"date":           "issued_at",
	"datetime":       "issued_at",
	"issuer_name":    "issuer_name",
	"vendor_name":    "issuer_name",
	"vendor":         "issuer_name",
	"merchant_name":  "issuer_name",
	"issuer_tax_id":  "issuer_tax_id",
	"vendor_ruc":     "issuer_tax_id",
	"ruc":            "issuer_tax_id",
	"tax_id":         "issuer_tax_id",
	"currency":       "currency",
	"currency_code":  "currency",
	"total_amount":   "total_amount",
	"total":          "total_amount",
	"amount":         "total_amount",
	"tip":            "tip",
	"tip_amount":     "tip",
	"payment_method": "payment_method",
	"note":           "note",
	"notes":          "note",
	"description":    "note",
}

// ParseCandidate decodes a JSON object produced by a model. Keys are matched
// case-insensitively against canonical names and common aliases, strings may
// arrive as numbers, and amounts may arrive as strings carrying currency
// symbols or thousands separators.
func ParseCandidate(data []byte) (Candidate, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Candidate{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	fields := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		canonical, ok := keyAliases[key]
		if !ok {
			continue
		}
		// canonical spelling wins over an alias
		if _, seen := fields[canonical]; seen && key != canonical {
			continue
		}
		fields[canonical] = v
	}

	var c Candidate
	var err error
	if c.IssuedAt, err = stringField(fields["issued_at"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: issued_at: %v", ErrMalformed, err)
	}
	if c.IssuerName, err = stringField(fields["issuer_name"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: issuer_name: %v", ErrMalformed, err)
	}
	if c.IssuerTaxID, err = stringField(fields["issuer_tax_id"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: issuer_tax_id: %v", ErrMalformed, err)
	}
	if c.Currency, err = stringField(fields["currency"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: currency: %v", ErrMalformed, err)
	}
	if c.PaymentMethod, err = stringField(fields["payment_method"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: payment_method: %v", ErrMalformed, err)
	}
	if c.Note, err = stringField(fields["note"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: note: %v", ErrMalformed, err)
	}
	if c.TotalAmount, err = amountField(fields["total_amount"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: total_amount: %v", ErrMalformed, err)
	}
	if c.Tip, err = amountField(fields["tip"]); err != nil {
		return Candidate{}, fmt.Errorf("%w: tip: %v", ErrMalformed, err)
	}
	return c, nil
}

func stringField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	case bool:
		return "", nil
	default:
		return "", fmt.Errorf("unexpected %T", v)
	}
}

func amountField(raw json.RawMessage) (decimal.NullDecimal, error) {
	if isNull(raw) {
		return decimal.NullDecimal{}, nil
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return decimal.NullDecimal{}, err
	}
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(d), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := ParseAmount(t)
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(d), nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("unexpected %T", v)
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ParseAmount parses a human written amount such as "S/ 1.234,50", "$45.50"
// "-3" or "45.50-". When both '.' and ',' appear the last one is the decimal
// separator; a lone ',' followed by one or two digits is a decimal separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimLeft(b.String(), ".,")
	if cleaned == "" || cleaned == "-" {
		return decimal.Decimal{}, fmt.Errorf("no digits in %q", s)
	}
	// credit notes print the sign last: "45.50-"
	if strings.HasSuffix(cleaned, "-") && !strings.HasPrefix(cleaned, "-") {
		cleaned = "-" + strings.TrimRight(cleaned, "-")
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		decimals := len(cleaned) - lastComma - 1
		if strings.Count(cleaned, ",") == 1 && decimals > 0 && decimals <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		// "1.234.567" style thousands grouping
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}
