package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures so callers can pick a policy
// without inspecting transport details.
type ErrorKind int

const (
	// KindTransient covers network timeouts, 5xx responses and rate
	// limiting after retries are exhausted. Safe to retry on a later tick.
	KindTransient ErrorKind = iota
	// KindAuth covers invalid or expired credentials. Terminal for the
	// session.
	KindAuth
	// KindInsufficientMargin means the account cannot fund the order.
	KindInsufficientMargin
	// KindSizeInvalid means the order size violates exchange limits.
	KindSizeInvalid
	// KindNotFound means the referenced position or order does not exist.
	KindNotFound
	// KindSymbolNotFound means the trading pair is unknown to the exchange.
	KindSymbolNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindInsufficientMargin:
		return "insufficient_margin"
	case KindSizeInvalid:
		return "size_invalid"
	case KindNotFound:
		return "not_found"
	case KindSymbolNotFound:
		return "symbol_not_found"
	default:
		return "unknown"
	}
}

// Error is a classified adapter failure. Code carries the exchange's own
// error code when one was returned.
type Error struct {
	Kind ErrorKind
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exchange %s: %s (code %s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind ErrorKind, op, code string, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err is transient and worth retrying later.
func IsRetryable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

// IsInsufficientMargin reports whether err is a margin rejection.
func IsInsufficientMargin(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInsufficientMargin
}

// IsSizeInvalid reports whether err is an order size rejection.
func IsSizeInvalid(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindSizeInvalid
}

// IsPositionNotFound reports whether err means the position no longer exists
// on the exchange.
func IsPositionNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}
