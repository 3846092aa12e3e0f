package scanning

import (
	"fmt"
	"strings"

	"github.com/zombor/receipt-agent/internal/receipt"
)

// FieldType is the JSON type of a schema field
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
)

// Field describes one property of the structured output
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Enum        []string
	Required    bool
}

// Schema is a provider-neutral description of the function the model calls
// when it recognizes a receipt.
type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

// RequiredFields returns the names of required fields in declaration order
func (s Schema) RequiredFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// JSONSchema renders s as a JSON Schema object
func (s Schema) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		p := map[string]interface{}{
			"type":        string(f.Type),
			"description": f.Description,
		}
		if len(f.Enum) > 0 {
			p["enum"] = f.Enum
		}
		props[f.Name] = p
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if req := s.RequiredFields(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

const recordReceiptFunction = "record_receipt"

// ReceiptSchema describes the receipt record the model is asked to produce
func ReceiptSchema() Schema {
	methods := make([]string, 0, len(receipt.PaymentMethods))
	for _, pm := range receipt.PaymentMethods {
		methods = append(methods, string(pm))
	}
	return Schema{
		Name:        recordReceiptFunction,
		Description: "Record the fields extracted from a purchase receipt image.",
		Fields: []Field{
			{Name: "issued_at", Type: FieldString, Description: "Date and time the receipt was issued, formatted YYYY-MM-DDTHH:MM:SS without a time zone. Omit if not printed."},
			{Name: "issuer_name", Type: FieldString, Description: "Name of the business that issued the receipt."},
			{Name: "issuer_tax_id", Type: FieldString, Description: "Tax identifier of the issuer (RUC, VAT number, EIN). Omit for Yape and Plin payment screenshots."},
			{Name: "currency", Type: FieldString, Description: "ISO 4217 currency code, e.g. PEN or USD."},
			{Name: "total_amount", Type: FieldNumber, Description: "Final total paid, as a number.", Required: true},
			{Name: "tip", Type: FieldNumber, Description: "Tip amount as a number. Omit if there is no tip."},
			{Name: "payment_method", Type: FieldString, Description: "How the receipt was paid.", Enum: methods},
			{Name: "note", Type: FieldString, Description: "What the purchase was about. Prefer the sender's description when one is given."},
		},
	}
}

// instructions is the system prompt shared by all providers
func instructions(schema Schema) string {
	var b strings.Builder
	b.WriteString("You are an expert in reading receipts provided as images. ")
	fmt.Fprintf(&b, "When the image shows a purchase receipt, invoice or payment confirmation, call the %s function exactly once with the fields you can read. ", schema.Name)
	b.WriteString("Leave out any field you cannot read instead of guessing. ")
	b.WriteString("When the image is not a receipt, or is too blurry to read a total, do not call the function; reply with one short sentence explaining why.\n\n")
	b.WriteString("payment_method must be one of: ")
	for i, pm := range receipt.PaymentMethods {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(pm))
	}
	b.WriteString(".\n")
	b.WriteString("- Classify Visa, Mastercard, Amex, Diners, IZIPAY and Niubiz card payments as credit_card unless the receipt says debit.\n")
	b.WriteString("- Classify Yape as mobile_wallet_a and Plin as mobile_wallet_b.\n")
	b.WriteString("- Use bank_transfer for transfers and deposits, other for anything else, unknown when the receipt does not say.")
	return b.String()
}

// prompt is the user turn that accompanies the image
func prompt(hint string) string {
	p := "Extract the receipt data from this image."
	if hint = strings.TrimSpace(hint); hint != "" {
		p += "\nThe sender added this description: " + hint
	}
	return p
}
