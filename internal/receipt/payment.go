package receipt

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PaymentMethod is the closed set of payment categories reported for a receipt
type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCreditCard    PaymentMethod = "credit_card"
	PaymentDebitCard     PaymentMethod = "debit_card"
	PaymentBankTransfer  PaymentMethod = "bank_transfer"
	PaymentMobileWalletA PaymentMethod = "mobile_wallet_a" // Yape
	PaymentMobileWalletB PaymentMethod = "mobile_wallet_b" // Plin
	PaymentOther         PaymentMethod = "other"
	PaymentUnknown       PaymentMethod = "unknown"
)

// PaymentMethods lists every valid value in display order
var PaymentMethods = []PaymentMethod{
	PaymentCash,
	PaymentCreditCard,
	PaymentDebitCard,
	PaymentBankTransfer,
	PaymentMobileWalletA,
	PaymentMobileWalletB,
	PaymentOther,
	PaymentUnknown,
}

var paymentLabels = map[PaymentMethod]string{
	PaymentCash:          "Cash",
	PaymentCreditCard:    "Credit Card",
	PaymentDebitCard:     "Debit Card",
	PaymentBankTransfer:  "Bank Transfer",
	PaymentMobileWalletA: "Yape",
	PaymentMobileWalletB: "Plin",
	PaymentOther:         "Other",
	PaymentUnknown:       "Unknown",
}

// paymentAliases maps folded (lowercase, accent-free, single-spaced) phrases to
// payment methods. Enum values match themselves once underscores are folded.
var paymentAliases = map[string]PaymentMethod{
	"cash":     PaymentCash,
	"efectivo": PaymentCash,
	"contado":  PaymentCash,

	"credit card":        PaymentCreditCard,
	"credit":             PaymentCreditCard,
	"creditcard":         PaymentCreditCard,
	"tarjeta de credito": PaymentCreditCard,
	"credito":            PaymentCreditCard,
	"visa":               PaymentCreditCard,
	"mastercard":         PaymentCreditCard,
	"master card":        PaymentCreditCard,
	"amex":               PaymentCreditCard,
	"american express":   PaymentCreditCard,
	"diners":             PaymentCreditCard,
	"diners club":        PaymentCreditCard,
	"izipay":             PaymentCreditCard,
	"niubiz":             PaymentCreditCard,

	"debit card":        PaymentDebitCard,
	"debit":             PaymentDebitCard,
	"debito":            PaymentDebitCard,
	"tarjeta de debito": PaymentDebitCard,
	"maestro":           PaymentDebitCard,
	"visa debit":        PaymentDebitCard,
	"visa debito":       PaymentDebitCard,
	"visa electron":     PaymentDebitCard,
	"debit mastercard":  PaymentDebitCard,
	"mastercard debit":  PaymentDebitCard,
	"mastercard debito": PaymentDebitCard,

	"bank transfer":          PaymentBankTransfer,
	"transfer":               PaymentBankTransfer,
	"wire":                   PaymentBankTransfer,
	"wire transfer":          PaymentBankTransfer,
	"transferencia":          PaymentBankTransfer,
	"transferencia bancaria": PaymentBankTransfer,
	"deposito":               PaymentBankTransfer,
	"deposit":                PaymentBankTransfer,
	"ach":                    PaymentBankTransfer,
	"sepa":                   PaymentBankTransfer,

	"yape":            PaymentMobileWalletA,
	"mobile wallet a": PaymentMobileWalletA,
	"plin":            PaymentMobileWalletB,
	"mobile wallet b": PaymentMobileWalletB,

	"other": PaymentOther,
	"otro":  PaymentOther,

	"unknown":       PaymentUnknown,
	"desconocido":   PaymentUnknown,
	"none":          PaymentUnknown,
	"n a":           PaymentUnknown,
	"na":            PaymentUnknown,
	"not available": PaymentUnknown,
	"not specified": PaymentUnknown,
}

// aliasesByLength holds the alias phrases longest first so that "visa debit"
// wins over "visa".
var aliasesByLength = func() []string {
	keys := make([]string, 0, len(paymentAliases))
	for k := range paymentAliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// NormalizePaymentMethod maps free text from a model into the closed set.
// Blank input is unknown; text matching no alias is other.
func NormalizePaymentMethod(raw string) PaymentMethod {
	folded := foldText(raw)
	if folded == "" {
		return PaymentUnknown
	}
	if pm, ok := paymentAliases[folded]; ok {
		return pm
	}
	padded := " " + folded + " "
	// Wallet brands win over generic words: "Transferencia Yape" is Yape.
	if pm, ok := matchAlias(padded, isMobileWallet); ok {
		return pm
	}
	if pm, ok := matchAlias(padded, nil); ok {
		return pm
	}
	return PaymentOther
}

// matchAlias returns the method of the longest alias found as a whole phrase
// in padded, considering only methods accepted by keep (all when nil).
func matchAlias(padded string, keep func(PaymentMethod) bool) (PaymentMethod, bool) {
	for _, alias := range aliasesByLength {
		pm := paymentAliases[alias]
		if keep != nil && !keep(pm) {
			continue
		}
		if strings.Contains(padded, " "+alias+" ") {
			return pm, true
		}
	}
	return "", false
}

func isMobileWallet(p PaymentMethod) bool {
	return p == PaymentMobileWalletA || p == PaymentMobileWalletB
}

// Valid reports whether p is one of the enumerated values
func (p PaymentMethod) Valid() bool {
	_, ok := paymentLabels[p]
	return ok
}

// Label returns the human readable name of p
func (p PaymentMethod) Label() string {
	if label, ok := paymentLabels[p]; ok {
		return label
	}
	return paymentLabels[PaymentUnknown]
}

// foldText lowercases, strips diacritics and collapses every run of
// non-alphanumeric characters into one space.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	space := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
