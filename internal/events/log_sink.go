package events

import (
	"marlin/internal/logger"
)

// LogSink writes every event as a structured log line. It is always attached
// so the audit trail exists even when no external sink is configured.
type LogSink struct{}

func (LogSink) Publish(e Event) {
	kv := []any{"event", string(e.Type)}
	if e.Symbol != "" {
		kv = append(kv, "symbol", e.Symbol)
	}
	for k, v := range e.Fields {
		kv = append(kv, k, v)
	}
	switch e.Type {
	case DriftDetected, ConsistencyFault, ExchangeDegraded, UntrackedBalance:
		logger.Warnw("engine event", kv...)
	default:
		logger.Infow("engine event", kv...)
	}
}
