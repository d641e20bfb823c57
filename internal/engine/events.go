package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
	"rocket-guard/internal/pubsub"
)

const keepAliveInterval = 15 * time.Second

// EventBase is the unscoped topic of a change event.
func EventBase(entityName, op string, pk any) string {
	return fmt.Sprintf("/entity/%s/%s/%s", entityName, op, authz.TopicSegment(pk))
}

// SubscriptionBase is the unscoped topic pattern covering every change
// event of an entity.
func SubscriptionBase(entityName string) string {
	return fmt.Sprintf("/entity/%s/%s/%s", entityName, pubsub.Wildcard, pubsub.Wildcard)
}

// publish emits a change event on the row's scoped topic. Failures are
// logged; the write has already happened.
func (h *Handler) publish(ent *metadata.Entity, op string, row entity.Row) {
	if h.broker == nil || row == nil {
		return
	}
	base := EventBase(ent.Name, op, row[ent.PrimaryKey.Field])
	topic := h.authz.PublishTopic(ent.Name, base, row)
	err := h.broker.Publish(topic, pubsub.Event{Entity: ent.Name, Operation: op, Row: row})
	if err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish change event")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordEvent(ent.Name, op)
	}
}

// subscription is what one subscriber may receive: a topic pattern, the
// row predicate of its find clause, and the allow-list that trims rows.
type subscription struct {
	pattern  string
	clause   authz.Clause
	filter   entity.Where
	filtered bool
}

func (h *Handler) subscription(ctx context.Context, ent *metadata.Entity, user *metadata.UserContext) (subscription, error) {
	pattern, err := h.authz.SubscriptionTopic(ent.Name, SubscriptionBase(ent.Name), user)
	if err != nil {
		return subscription{}, err
	}
	res, err := h.authz.Resolve(h.authz.Roles(user), ent.Name, authz.OpFind)
	if err != nil {
		return subscription{}, err
	}
	filter, filtered, err := h.authz.SubscriptionFilter(ctx, ent.Name, user)
	if err != nil {
		return subscription{}, err
	}
	return subscription{pattern: pattern, clause: res.Clause, filter: filter, filtered: filtered}, nil
}

// deliver reports whether ev may reach the subscriber and trims its row.
func (s subscription) deliver(ev pubsub.Event) (pubsub.Event, bool) {
	if s.filtered && !s.filter.Matches(ev.Row) {
		return ev, false
	}
	ev.Row = visibleRow(s.clause, ev.Row)
	return ev, true
}

// visibleRow drops the fields the subscriber may not read.
func visibleRow(c authz.Clause, row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if c.AllowsField(k) {
			out[k] = v
		}
	}
	return out
}

// Subscribe handles GET /api/:entity/_subscribe as a server-sent event
// stream of the change events the caller is allowed to see.
func (h *Handler) Subscribe(c *fiber.Ctx) error {
	name := c.Params("entity")
	ent := h.registry.GetEntity(name)
	if ent == nil {
		return UnknownEntityError(name)
	}
	if h.broker == nil {
		return NewAppError("PUBSUB_DISABLED", 503, "Subscriptions are disabled")
	}

	sub, err := h.subscription(c.UserContext(), ent, getUser(c))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.broker.Subscribe(ctx, sub.pattern)
	if err != nil {
		cancel()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Topic", sub.pattern)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				ev, ok = sub.deliver(ev)
				if !ok {
					continue
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Operation, payload)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}
