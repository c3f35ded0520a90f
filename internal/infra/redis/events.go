package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/egress/internal/core/domain"
	"github.com/vietddude/egress/internal/routing/metrics"
)

// Announce publishes a domain event to peer instances, stamped with this
// client's origin.
func (c *Client) Announce(ctx context.Context, ev domain.DomainEvent) error {
	ev.Origin = c.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.eventsChannel(), data).Err(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	metrics.PeerEvents.WithLabelValues(string(ev.Type), "out").Inc()
	return nil
}

// Subscription delivers domain events published by other instances.
type Subscription struct {
	ps     *redis.PubSub
	origin string
}

// Subscribe joins the events channel. The subscription is confirmed before
// it returns, so no event published afterwards is missed.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := c.rdb.Subscribe(ctx, c.eventsChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &Subscription{ps: ps, origin: c.origin}, nil
}

// Run calls handle for every event from another origin until ctx is done or
// the subscription is closed.
func (s *Subscription) Run(ctx context.Context, handle func(domain.DomainEvent)) {
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.DomainEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("Dropping malformed domain event", "error", err)
				continue
			}
			if ev.Origin == s.origin {
				continue
			}
			metrics.PeerEvents.WithLabelValues(string(ev.Type), "in").Inc()
			handle(ev)
		}
	}
}

// Close leaves the channel.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
