package bitget

import (
	"errors"
	"strings"

	"github.com/hemalabs/hedgegrid/internal/exchange"
)

// Bitget error codes the adapter maps onto the engine's error taxonomy.
const (
	codeServerBusy       = "50000"
	codeRateLimited      = "429"
	codeAPIKeyInvalid    = "40012"
	codeAPIKeyNotFound   = "40037"
	codeSignatureInvalid = "40009"
	codeHeaderMissing    = "40011"
	codeInsufficientBal  = "43012"
	codeInsufficientBal2 = "40762"
	codeSizeTooSmall     = "45110"
	codeSizeInvalid      = "40778"
	codeNoPosition       = "22002"
	codeSymbolUnknown    = "40034"
)

var authCodes = map[string]bool{
	codeAPIKeyInvalid:    true,
	codeAPIKeyNotFound:   true,
	codeSignatureInvalid: true,
	codeHeaderMissing:    true,
}

var retryableCodes = map[string]bool{
	codeServerBusy:  true,
	codeRateLimited: true,
}

func retryableCode(code string) bool {
	return retryableCodes[code]
}

// classify maps a Bitget error code to the adapter error taxonomy.
func classify(op, code, msg string, status int) error {
	err := errors.New(msg)
	switch {
	case authCodes[code] || status == 401 || status == 403:
		return exchange.NewError(exchange.KindAuth, op, code, err)
	case code == codeInsufficientBal || code == codeInsufficientBal2:
		return exchange.NewError(exchange.KindInsufficientMargin, op, code, err)
	case code == codeSizeTooSmall || code == codeSizeInvalid:
		return exchange.NewError(exchange.KindSizeInvalid, op, code, err)
	case code == codeNoPosition || strings.Contains(msg, "No position to close"):
		return exchange.NewError(exchange.KindNotFound, op, code, err)
	case code == codeSymbolUnknown:
		return exchange.NewError(exchange.KindSymbolNotFound, op, code, err)
	default:
		return exchange.NewError(exchange.KindTransient, op, code, err)
	}
}

func newTransient(op string, err error) error {
	return exchange.NewError(exchange.KindTransient, op, "", err)
}
