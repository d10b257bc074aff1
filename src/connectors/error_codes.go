package connectors

import "strings"

// binanceErrorKinds maps Binance API error codes to fault kinds.
var binanceErrorKinds = map[int64]FaultKind{
	-1001: FaultNetwork,           // DISCONNECTED
	-1003: FaultRateLimit,         // TOO_MANY_REQUESTS
	-1007: FaultTimeout,           // TIMEOUT waiting for backend
	-1008: FaultUnavailable,       // server busy
	-1015: FaultRateLimit,         // TOO_MANY_ORDERS
	-1016: FaultUnavailable,       // SERVICE_SHUTTING_DOWN
	-1021: FaultNetwork,           // INVALID_TIMESTAMP, clock drift
	-1022: FaultAuth,              // INVALID_SIGNATURE
	-1121: FaultBadSymbol,         // BAD_SYMBOL
	-2008: FaultAuth,              // BAD_API_ID
	-2013: FaultOrderNotFound,     // NO_SUCH_ORDER
	-2014: FaultAuth,              // BAD_API_KEY_FMT
	-2015: FaultAuth,              // REJECTED_MBX_KEY
	-2018: FaultInsufficientFunds, // BALANCE_NOT_SUFFICIENT
	-2019: FaultInsufficientFunds, // MARGIN_NOT_SUFFICIEN
	-4164: FaultExchange,          // MIN_NOTIONAL
}

// binanceKind returns the kind for a Binance API error. The generic rejection code -2010
// carries the reason only in its message.
func binanceKind(code int64, msg string) FaultKind {
	if kind, ok := binanceErrorKinds[code]; ok {
		return kind
	}
	if code == -2010 && strings.Contains(strings.ToLower(msg), "insufficient") {
		return FaultInsufficientFunds
	}
	return FaultExchange
}

// krakenErrorKinds maps Kraken Futures error strings and send statuses to fault kinds.
var krakenErrorKinds = map[string]FaultKind{
	"apiLimitExceeded":           FaultRateLimit,
	"authenticationError":        FaultAuth,
	"invalidAPIKey":              FaultAuth,
	"nonceBelowThreshold":        FaultNetwork,
	"nonceDuplicate":             FaultNetwork,
	"Server Error":               FaultUnavailable,
	"Unavailable":                FaultUnavailable,
	"marketNotFound":             FaultBadSymbol,
	"contractNotFound":           FaultBadSymbol,
	"insufficientAvailableFunds": FaultInsufficientFunds,
	"insufficientFunds":          FaultInsufficientFunds,
}

func krakenKind(msg string) FaultKind {
	if kind, ok := krakenErrorKinds[msg]; ok {
		return kind
	}
	return FaultExchange
}
