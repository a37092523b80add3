// Package service coordinates the ledger engine with persistence, caching,
// the signal bus, and operator notifications. Services own the write-through
// journaling: every successful engine mutation is persisted before the call
// returns.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/notify"
)

// EventChannel is the signal bus channel all ledger events are published on.
// The WebSocket hub subscribes here.
const EventChannel = "ledger:events"

// EventStream is the durable stream the pump mirrors every event to, so
// consumers that were offline can replay recent history.
const EventStream = "ledger:events:stream"

// eventBuffer bounds the pump's in-flight queue. The engine emits inside its
// mutex, so the sink must never block; a full buffer drops the event.
const eventBuffer = 1024

// EventPump receives engine events via Sink and fans them out to the signal
// bus, the audit log, and the notifier. Fan-out runs on the pump goroutine
// so the engine is never blocked on I/O.
type EventPump struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	events   chan domain.Event
	logger   *slog.Logger
}

// NewEventPump creates an EventPump. The notifier may be nil when no
// notification channels are configured.
func NewEventPump(bus domain.SignalBus, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *EventPump {
	return &EventPump{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		events:   make(chan domain.Event, eventBuffer),
		logger:   logger.With(slog.String("component", "event_pump")),
	}
}

// Sink returns the function to install as the engine's event sink. It never
// blocks; events are dropped (and counted in the log) when the buffer is
// full.
func (p *EventPump) Sink() func(domain.Event) {
	return func(ev domain.Event) {
		select {
		case p.events <- ev:
		default:
			p.logger.Warn("event_pump: buffer full, event dropped",
				slog.String("type", string(ev.Type)),
			)
		}
	}
}

// Run drains the event queue until the context is cancelled. Intended to be
// run under an errgroup alongside the HTTP server.
func (p *EventPump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.events:
			p.fanOut(ctx, ev)
		}
	}
}

// fanOut delivers one event to every downstream consumer. Failures are
// logged and do not stop delivery to the remaining consumers.
func (p *EventPump) fanOut(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "event_pump: marshal event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.bus.Publish(ctx, EventChannel, payload); err != nil {
		p.logger.WarnContext(ctx, "event_pump: bus publish failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	if err := p.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		p.logger.WarnContext(ctx, "event_pump: stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	detail := map[string]any{"at": ev.At, "payload": ev.Payload}
	if err := p.audit.Log(ctx, string(ev.Type), detail); err != nil {
		p.logger.WarnContext(ctx, "event_pump: audit log failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	p.notifyOperators(ctx, ev)
}

// notifyOperators forwards the events operators subscribe to. The notifier's
// own event filter decides final delivery.
func (p *EventPump) notifyOperators(ctx context.Context, ev domain.Event) {
	if p.notifier == nil {
		return
	}

	var event, title string
	switch ev.Type {
	case domain.EventWagerSettled:
		event, title = notify.EventWagerSettled, "Wager settled"
	case domain.EventDisputeRaised:
		event, title = notify.EventDisputeRaised, "Dispute raised"
	case domain.EventDisputeResolved:
		event, title = notify.EventDisputeResolved, "Dispute resolved"
	case domain.EventKeeperAdded, domain.EventKeeperRemoved:
		event, title = notify.EventKeeperChanged, "Keeper set changed"
	default:
		return
	}

	if err := p.notifier.Notify(ctx, event, title, fmt.Sprintf("%+v", ev.Payload)); err != nil {
		p.logger.WarnContext(ctx, "event_pump: notify failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
