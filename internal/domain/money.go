package domain

import "github.com/shopspring/decimal"

// MicrosPerUnit is the ledger's only numeric scale: one currency unit is
// 1,000,000 micro-units. Balances are always integer micros; decimals exist
// only at presentation and ingress boundaries.
const MicrosPerUnit = 1_000_000

var supportedCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
}

func IsSupportedCurrency(currency string) bool {
	_, ok := supportedCurrencies[currency]
	return ok
}

func MicrosFromDecimal(amount decimal.Decimal) int64 {
	return amount.Shift(6).Round(0).IntPart()
}

// DecimalFromMicros is for display only and must never be converted back into
// a ledger amount.
func DecimalFromMicros(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Shift(-6)
}
