package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FaultKind classifies exchange failures for the retry and execution policies.
type FaultKind string

const (
	FaultRateLimit         FaultKind = "rate_limit"
	FaultNetwork           FaultKind = "network"
	FaultTimeout           FaultKind = "timeout"
	FaultUnavailable       FaultKind = "unavailable"
	FaultAuth              FaultKind = "auth"
	FaultBadSymbol         FaultKind = "bad_symbol"
	FaultInsufficientFunds FaultKind = "insufficient_funds"
	FaultExchange          FaultKind = "exchange_error"
	FaultNotSupported      FaultKind = "not_supported"
	FaultOrderNotFound     FaultKind = "order_not_found"
)

// Fault is an exchange call failure with its kind.
type Fault struct {
	Kind     FaultKind
	Exchange string
	Op       string
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", f.Exchange, f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func NewFault(kind FaultKind, exchange, op string, err error) *Fault {
	return &Fault{Kind: kind, Exchange: exchange, Op: op, Err: err}
}

// KindOf returns the kind of a fault in err's chain. Deadlines and network errors that were
// not wrapped by a connector are classified too; anything else is an exchange error.
func KindOf(err error) FaultKind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FaultTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FaultTimeout
		}
		return FaultNetwork
	}
	return FaultExchange
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case FaultRateLimit, FaultNetwork, FaultTimeout, FaultUnavailable:
		return true
	}
	return false
}

// kindFromStatus maps an HTTP status code to a fault kind; ok is false for success codes.
func kindFromStatus(code int) (FaultKind, bool) {
	switch {
	case code < http.StatusBadRequest:
		return "", false
	case code == http.StatusTooManyRequests || code == 418:
		return FaultRateLimit, true
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return FaultTimeout, true
	case code >= 500:
		return FaultUnavailable, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FaultAuth, true
	default:
		return FaultExchange, true
	}
}

// wrapTransport classifies an error returned before any exchange response was read.
func wrapTransport(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := KindOf(err)
	if kind == FaultExchange {
		kind = FaultNetwork
	}
	return NewFault(kind, exchange, op, err)
}
