package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/polypulse/polypulse/internal/domain"
)

const (
	// alertChannel is the Pub/Sub channel for live alert delivery.
	alertChannel = "alerts"
	// alertStream keeps a capped replay buffer for consumers that connect
	// after the fact.
	alertStream = "alerts:stream"
	// alertStreamMaxLen bounds the replay buffer, enforced approximately via
	// XADD MAXLEN ~.
	alertStreamMaxLen int64 = 10000
)

// AlertBus implements domain.AlertBus using Redis Pub/Sub for live fan-out
// plus a capped Redis stream for replay of recent alerts.
type AlertBus struct {
	rdb *redis.Client
}

// NewAlertBus creates an AlertBus backed by the given Client.
func NewAlertBus(c *Client) *AlertBus {
	return &AlertBus{rdb: c.Underlying()}
}

// Publish fans an alert out to live subscribers and appends it to the replay
// stream.
func (ab *AlertBus) Publish(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis: marshal alert %s: %w", alert.ID, err)
	}

	pipe := ab.rdb.Pipeline()
	pipe.Publish(ctx, alertChannel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: alertStream,
		MaxLen: alertStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// Subscribe returns a channel of raw alert payloads. The subscription is
// closed when the context is cancelled; the returned channel is closed at
// that point as well.
func (ab *AlertBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := ab.rdb.Subscribe(ctx, alertChannel)

	// Verify the subscription is established before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", alertChannel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Recent returns up to count of the newest alerts from the replay stream,
// oldest first.
func (ab *AlertBus) Recent(ctx context.Context, count int) ([]domain.Alert, error) {
	msgs, err := ab.rdb.XRevRangeN(ctx, alertStream, "+", "-", int64(count)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read alert stream: %w", err)
	}

	alerts := make([]domain.Alert, 0, len(msgs))
	// XRevRange yields newest first; walk backwards to restore order.
	for i := len(msgs) - 1; i >= 0; i-- {
		payload, ok := msgs[i].Values["payload"]
		if !ok {
			continue
		}
		raw, ok := payload.(string)
		if !ok {
			continue
		}
		var a domain.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

var _ domain.AlertBus = (*AlertBus)(nil)
