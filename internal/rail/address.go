package rail

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// btcPrefixes covers legacy, P2SH, bech32 and testnet address forms.
var btcPrefixes = []string{"1", "3", "bc1", "tb1"}

// ValidateAddress checks the structural shape of a payout address for the
// given crypto currency. It is format validation only, not an on-chain check.
func ValidateAddress(address, currency string) bool {
	switch currency {
	case "BTC":
		return validateBTCAddress(address)
	case "ETH", "USDT":
		return validateETHAddress(address)
	default:
		return false
	}
}

func validateBTCAddress(address string) bool {
	if len(address) < 26 || len(address) > 62 {
		return false
	}
	for _, prefix := range btcPrefixes {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}
	return false
}

func validateETHAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		return false
	}
	for _, c := range address[2:] {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// PaymentURI renders the wallet-app deep link encoded into payment QR codes.
func PaymentURI(address string, amount decimal.Decimal, currency string) string {
	if currency == "BTC" {
		return fmt.Sprintf("bitcoin:%s?amount=%s", address, amount.String())
	}
	return fmt.Sprintf("ethereum:%s?value=%s", address, amount.String())
}
