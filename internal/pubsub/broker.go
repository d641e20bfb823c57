// Package pubsub carries change events to live subscribers over an
// in-process watermill channel.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Wildcard matches exactly one topic segment in a subscription pattern.
const Wildcard = "+"

// changesTopic is the single watermill topic every event travels on; the
// scoped topic is carried in message metadata and matched per subscriber.
const changesTopic = "entity.changes"

const topicMetadataKey = "topic"

// Event is a change notification about one row.
type Event struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Entity    string         `json:"entity"`
	Operation string         `json:"operation"`
	Row       map[string]any `json:"row,omitempty"`
}

// Config holds broker settings.
type Config struct {
	// BufferSize is the per-subscriber output buffer.
	BufferSize int64
}

// Broker publishes events and fans them out to pattern subscriptions.
type Broker struct {
	channel *gochannel.GoChannel
	log     zerolog.Logger
}

// New creates an in-process broker.
func New(cfg Config, logger zerolog.Logger) *Broker {
	logger = logger.With().Str("component", "pubsub").Logger()
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, loggerAdapter{log: logger})
	return &Broker{channel: ch, log: logger}
}

// Publish sends ev on topic. The event's ID and Topic are filled in.
func (b *Broker) Publish(topic string, ev Event) error {
	ev.ID = uuid.NewString()
	ev.Topic = topic

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(ev.ID, payload)
	msg.Metadata.Set(topicMetadataKey, topic)

	if err := b.channel.Publish(changesTopic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe streams every event whose topic matches pattern until ctx is
// done. The returned channel is closed afterwards.
func (b *Broker) Subscribe(ctx context.Context, pattern string) (<-chan Event, error) {
	messages, err := b.channel.Subscribe(ctx, changesTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			msg.Ack()
			if !Match(pattern, msg.Metadata.Get(topicMetadataKey)) {
				continue
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the broker down and closes all subscriptions.
func (b *Broker) Close() error {
	return b.channel.Close()
}

// Match reports whether topic matches pattern segment by segment, where
// the Wildcard segment matches any single segment.
func Match(pattern, topic string) bool {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return false
	}
	for i, p := range ps {
		if p != Wildcard && p != ts[i] {
			return false
		}
	}
	return true
}

// loggerAdapter routes watermill logs through zerolog.
type loggerAdapter struct {
	log    zerolog.Logger
	fields watermill.LogFields
}

func (a loggerAdapter) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	return e.Fields(map[string]any(a.fields.Add(fields)))
}

func (a loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.log.Error().Err(err), fields).Msg(msg)
}

func (a loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.log.Info(), fields).Msg(msg)
}

func (a loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), fields).Msg(msg)
}

func (a loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.log.Trace(), fields).Msg(msg)
}

func (a loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{log: a.log, fields: a.fields.Add(fields)}
}
