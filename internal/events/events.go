// Package events carries the structured observability events the engine
// emits toward external logging/alerting.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	OrderRejected     Type = "order_rejected"
	DriftDetected     Type = "drift_detected"
	PositionOpened    Type = "position_opened"
	PositionClosed    Type = "position_closed"
	UntrackedBalance  Type = "untracked_balance"
	ConsistencyFault  Type = "consistency_fault"
	ExchangeDegraded  Type = "exchange_degraded"
	BalanceSnapshot   Type = "balance_snapshot"
)

// Event is a point-in-time fact about the engine. Fields carry event-specific
// detail (before/after quantities for drift, reject reason for rejections).
type Event struct {
	Type   Type           `json:"type"`
	Symbol string         `json:"symbol,omitempty"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink consumes events. Implementations must not block the caller for long;
// slow transports should buffer internally.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Fanout replicates each event to every registered sink.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Attach(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(e)
	}
}

// Emit is a convenience constructor-and-publish for callers holding any Sink.
func Emit(s Sink, t Type, symbol string, fields map[string]any) {
	if s == nil {
		return
	}
	s.Publish(Event{Type: t, Symbol: symbol, At: time.Now(), Fields: fields})
}
