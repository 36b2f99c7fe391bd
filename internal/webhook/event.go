// Package webhook delivers trading lifecycle events to the upstream
// platform: one bounded queue per session, a single consumer, HMAC-signed
// POSTs with bounded retries. Delivery is at-least-once within the retry
// budget; the receiver must tolerate duplicates.
package webhook

import "time"

// Event kinds emitted by trading sessions.
const (
	KindTradeOpened    = "trade_opened"
	KindTradeClosed    = "trade_closed"
	KindStatusUpdate   = "status_update"
	KindStatusChanged  = "status_changed"
	KindErrorOccurred  = "error_occurred"
	KindBalanceWarning = "balance_warning"
	KindGlobalLimitHit = "global_limit_hit"
)

// Event is one outbound notification.
type Event struct {
	Kind      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Sink consumes events produced by a trading engine.
type Sink interface {
	Emit(event Event)
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Emit(Event) {}
