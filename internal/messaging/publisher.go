package messaging

import (
	"context"
	"log/slog"
	"time"

	"shop-admin/internal/observability"
	"shop-admin/internal/session"
)

const (
	eventBufferSize = 64
	publishTimeout  = 5 * time.Second
)

// Publisher sends session events to the broker
type Publisher interface {
	PublishSessionEvent(ctx context.Context, event *SessionEvent) error
}

// EventPublisher turns session transitions into audit events. Transitions are
// queued without blocking the session; Run drains the queue to the broker.
type EventPublisher struct {
	publisher Publisher
	device    string
	events    chan *SessionEvent
	now       func() time.Time
}

func NewEventPublisher(publisher Publisher, device string) *EventPublisher {
	return &EventPublisher{
		publisher: publisher,
		device:    device,
		events:    make(chan *SessionEvent, eventBufferSize),
		now:       time.Now,
	}
}

// Attach subscribes to machine and returns the unsubscribe func
func (p *EventPublisher) Attach(machine *session.Machine) func() {
	return machine.Subscribe(p.HandleTransition)
}

// HandleTransition queues an audit event for transitions that change who is
// signed in. Other transitions are ignored.
func (p *EventPublisher) HandleTransition(e session.Event) {
	event := p.eventFor(e)
	if event == nil {
		return
	}

	select {
	case p.events <- event:
	default:
		observability.SessionEventsPublished.WithLabelValues(event.Type, "dropped").Inc()
		slog.Warn("session event buffer full, dropping event",
			slog.String("type", event.Type))
	}
}

func (p *EventPublisher) eventFor(e session.Event) *SessionEvent {
	var eventType string
	source := e.Current

	switch e.Transition {
	case session.TransitionAuthenticate:
		if e.Previous.Authenticated() && e.Previous.Token == e.Current.Token {
			return nil
		}
		eventType = EventAuthenticated
	case session.TransitionClear:
		if !e.Previous.Authenticated() {
			return nil
		}
		eventType = EventCleared
		source = e.Previous
	case session.TransitionExpire:
		if !e.Previous.Authenticated() {
			return nil
		}
		eventType = EventExpired
		source = e.Previous
	default:
		return nil
	}

	event := &SessionEvent{
		Type:      eventType,
		Device:    p.device,
		Timestamp: p.now().Unix(),
	}
	if source.Profile != nil {
		event.ProfileID = source.Profile.ID
		event.Username = source.Profile.Username
		event.ShopName = source.Profile.ShopName
	}
	return event
}

// Run publishes queued events until ctx is done
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("session event publisher shutting down")
			return ctx.Err()

		case event := <-p.events:
			p.publish(ctx, event)
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, event *SessionEvent) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.publisher.PublishSessionEvent(pubCtx, event); err != nil {
		observability.SessionEventsPublished.WithLabelValues(event.Type, "error").Inc()
		slog.Error("failed to publish session event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
		return
	}
	observability.SessionEventsPublished.WithLabelValues(event.Type, "ok").Inc()
}
