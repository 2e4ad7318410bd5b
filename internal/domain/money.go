package domain

// Amounts are carried as int64 minor units (cents). The platform settles
// donations in a fixed set of currencies; anything else is rejected at the
// boundary.
var supportedCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
}

func ValidCurrency(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}
