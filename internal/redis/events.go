package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/metrics"
)

const publishTimeout = 2 * time.Second

// ChannelPublisher is the part of *redis.Client the dispatcher needs.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventDispatcher buffers appointment events and publishes them to a Redis channel from a
// single goroutine. Publish never blocks: when the buffer is full the event is dropped.
type EventDispatcher struct {
	client  ChannelPublisher
	channel string
	queue   chan appointment.Event
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewEventDispatcher(client ChannelPublisher, channel string, buffer int, m *metrics.Metrics, log zerolog.Logger) *EventDispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &EventDispatcher{
		client:  client,
		channel: channel,
		queue:   make(chan appointment.Event, buffer),
		metrics: m,
		log:     log,
	}
}

func (d *EventDispatcher) Publish(ev appointment.Event) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.EventDropped()
		d.log.Warn().
			Str("event", ev.Type).
			Str("appointment_id", ev.AppointmentID.String()).
			Msg("event buffer full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is left.
func (d *EventDispatcher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.send(ctx, ev)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *EventDispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.send(ctx, ev)
		default:
			return
		}
	}
}

func (d *EventDispatcher) send(ctx context.Context, ev appointment.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.metrics.EventDropped()
		d.log.Warn().Err(err).Str("event", ev.Type).Msg("failed to marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := d.client.Publish(pubCtx, d.channel, payload).Err(); err != nil {
		d.metrics.EventDropped()
		d.log.Warn().Err(err).
			Str("event", ev.Type).
			Str("channel", d.channel).
			Msg("failed to publish event")
		return
	}
	d.metrics.EventPublished()
}

// Subscribe streams events published on channel until ctx is cancelled.
func Subscribe(ctx context.Context, client *redis.Client, channel string) (<-chan appointment.Event, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan appointment.Event, 100)
	go func() {
		defer func() {
			_ = pubsub.Close()
			close(out)
		}()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev appointment.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
