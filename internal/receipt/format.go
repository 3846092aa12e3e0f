package receipt

import (
	"strings"
	"time"
)

// Target selects the presentation of a formatted outcome
type Target int

const (
	// Plain is unstyled text for terminals
	Plain Target = iota
	// ChatMarkup is Telegram MarkdownV2
	ChatMarkup
)

// ParseModeMarkdownV2 is the Telegram parse_mode matching ChatMarkup output
const ParseModeMarkdownV2 = "MarkdownV2"

// DateLayout renders issue dates, e.g. "December 15, 2024 at 2:30 PM"
const DateLayout = "January 2, 2006 at 3:04 PM"

const (
	msgNotAReceipt  = "The provided image was not recognized as a valid receipt."
	msgInvalidInput = "Sorry, that file is not a supported receipt image. Please send a JPEG, PNG, WEBP or HEIC photo."
	msgFailure      = "Sorry, I couldn't process the receipt. Please try again later."
	msgHeader       = "Receipt Details"
)

// markdownV2Special is every character Telegram MarkdownV2 requires escaping
// outside of entities, backslash included.
const markdownV2Special = "\\_*[]()~`>#+-=|{}.!"

// Formatter renders outcomes for a delivery surface
type Formatter struct {
	location *time.Location
}

// NewFormatter creates a Formatter rendering dates in loc (UTC when nil)
func NewFormatter(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{location: loc}
}

type line struct {
	emoji string
	label string
	value string
}

// Format renders o for target. Failure details are never included.
func (f *Formatter) Format(o Outcome, target Target) string {
	switch v := o.(type) {
	case Success:
		return f.formatRecord(v.Record, target)
	case NotAReceipt:
		return formatNotAReceipt(v.Reason, target)
	case Failure:
		return formatFailure(v.Kind, target)
	default:
		return formatFailure(ErrProviderError, target)
	}
}

func (f *Formatter) formatRecord(r Record, target Target) string {
	lines := make([]line, 0, 8)
	if r.IssuedAt != nil {
		lines = append(lines, line{"📅", "Issued At", r.IssuedAt.In(f.location).Format(DateLayout)})
	}
	if r.IssuerName != "" {
		lines = append(lines, line{"🏢", "Issuer Name", r.IssuerName})
	}
	if r.IssuerTaxID != "" {
		lines = append(lines, line{"🆔", "Issuer Tax ID", r.IssuerTaxID})
	}
	if r.Currency != "" {
		lines = append(lines, line{"🪙", "Currency", r.Currency})
	}
	lines = append(lines, line{"💰", "Total Amount", r.TotalAmount.StringFixed(2)})
	if r.Tip.Valid {
		lines = append(lines, line{"💸", "Tip", r.Tip.Decimal.StringFixed(2)})
	}
	if r.PaymentMethod != PaymentUnknown && r.PaymentMethod != "" {
		lines = append(lines, line{"💳", "Payment Method", r.PaymentMethod.Label()})
	}
	if r.Note != "" {
		lines = append(lines, line{"📝", "Note", r.Note})
	}

	var b strings.Builder
	if target == ChatMarkup {
		b.WriteString("🧾 *" + EscapeMarkdownV2(msgHeader) + "*")
		for _, l := range lines {
			b.WriteString("\n" + l.emoji + " *" + EscapeMarkdownV2(l.label+":") + "* " + EscapeMarkdownV2(l.value))
		}
		return b.String()
	}

	b.WriteString(msgHeader)
	for _, l := range lines {
		b.WriteString("\n" + l.label + ": " + l.value)
	}
	return b.String()
}

func formatNotAReceipt(reason string, target Target) string {
	msg := msgNotAReceipt
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += " Reason: " + reason
	}
	if target == ChatMarkup {
		return EscapeMarkdownV2(msg)
	}
	return msg
}

func formatFailure(kind ErrorKind, target Target) string {
	msg := msgFailure
	if kind == ErrInvalidInput {
		msg = msgInvalidInput
	}
	if target == ChatMarkup {
		return EscapeMarkdownV2(msg)
	}
	return msg
}

// EscapeMarkdownV2 backslash-escapes every MarkdownV2 control character in s
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UsageHint is the reply sent for messages without an image
func UsageHint(target Target) string {
	msg := "Send me a photo of a receipt and I will extract its date, vendor, total, tip and payment method. You can add a caption describing what it was for."
	if target == ChatMarkup {
		return EscapeMarkdownV2(msg)
	}
	return msg
}
