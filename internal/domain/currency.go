package domain

import "strings"

// Currency describes one supported currency. Immutable once a transaction
// references it.
type Currency struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	IsCrypto      bool   `json:"is_crypto"`
	IsActive      bool   `json:"is_active"`
	DecimalPlaces int32  `json:"decimal_places"`
}

// NormalizeCode uppercases and trims a currency code supplied by a caller.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SeedCurrencies is the static catalog installed at migration time.
var SeedCurrencies = []Currency{
	{Code: "USD", Name: "US Dollar", Symbol: "$", DecimalPlaces: 2, IsActive: true},
	{Code: "EUR", Name: "Euro", Symbol: "€", DecimalPlaces: 2, IsActive: true},
	{Code: "GBP", Name: "Pound Sterling", Symbol: "£", DecimalPlaces: 2, IsActive: true},
	{Code: "BTC", Name: "Bitcoin", Symbol: "₿", DecimalPlaces: 8, IsCrypto: true, IsActive: true},
	{Code: "ETH", Name: "Ethereum", Symbol: "Ξ", DecimalPlaces: 8, IsCrypto: true, IsActive: true},
	{Code: "USDT", Name: "Tether", Symbol: "₮", DecimalPlaces: 8, IsCrypto: true, IsActive: true},
}
