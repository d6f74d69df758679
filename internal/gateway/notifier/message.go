package notifier

import (
	"fmt"
	"sort"
	"strings"

	"marlin/internal/events"
	"marlin/internal/logger"
)

const maxMessageLen = 3800

var eventIcons = map[events.Type]string{
	events.PositionOpened:   "🟢",
	events.PositionClosed:   "🔴",
	events.OrderRejected:    "⚠️",
	events.DriftDetected:    "🧭",
	events.ConsistencyFault: "🚨",
	events.ExchangeDegraded: "📉",
	events.UntrackedBalance: "👀",
}

// EventSink adapts a TextNotifier to the engine's event sink. Delivery runs
// on a buffered channel so slow transports never back-pressure trading.
type EventSink struct {
	notifier TextNotifier
	queue    chan events.Event
}

func NewEventSink(n TextNotifier) *EventSink {
	s := &EventSink{
		notifier: n,
		queue:    make(chan events.Event, 128),
	}
	go s.drain()
	return s
}

func (s *EventSink) Publish(e events.Event) {
	select {
	case s.queue <- e:
	default:
		logger.Warnf("notifier: event queue full, %s dropped", e.Type)
	}
}

func (s *EventSink) drain() {
	for e := range s.queue {
		if err := s.notifier.SendText(render(e)); err != nil {
			logger.Warnf("notifier: send %s failed: %v", e.Type, err)
		}
	}
}

func render(e events.Event) string {
	var b strings.Builder
	icon := eventIcons[e.Type]
	if icon != "" {
		b.WriteString(icon + " ")
	}
	b.WriteString("*" + strings.ReplaceAll(string(e.Type), "_", " ") + "*")
	if e.Symbol != "" {
		b.WriteString(" `" + e.Symbol + "`")
	}
	b.WriteString("\n")

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s: %v\n", k, e.Fields[k]))
	}
	if !e.At.IsZero() {
		b.WriteString(e.At.Format("2006-01-02 15:04:05 MST"))
	}

	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}
