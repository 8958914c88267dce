package electronic

import "github.com/shopspring/decimal"

// TaxCodeVAT is the impuesto codigo of IVA.
const TaxCodeVAT = "2"

// vatRateCodes maps an IVA rate to its codigoPorcentaje.
var vatRateCodes = map[string]string{
	"0":  "0",
	"5":  "5",
	"8":  "8",
	"12": "2",
	"13": "10",
	"14": "3",
	"15": "4",
}

// VATRateCode returns the codigoPorcentaje of an IVA rate, false when the
// authority has no code for it.
func VATRateCode(rate decimal.Decimal) (string, bool) {
	code, ok := vatRateCodes[rate.Truncate(2).String()]
	return code, ok
}

// Payment method codes (formaPago).
const (
	PaymentCash        = "01"
	PaymentDebitCard   = "16"
	PaymentCreditCard  = "19"
	PaymentFinancial   = "20"
	PaymentCompensated = "15"
)

var paymentMethods = map[string]bool{
	PaymentCash:        true,
	PaymentCompensated: true,
	PaymentDebitCard:   true,
	"17":               true,
	"18":               true,
	PaymentCreditCard:  true,
	PaymentFinancial:   true,
	"21":               true,
}

// ValidPaymentMethod reports whether code is a formaPago the authority accepts.
func ValidPaymentMethod(code string) bool {
	return paymentMethods[code]
}
