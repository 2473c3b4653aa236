// Package redisstream carries change events over Redis Pub/Sub.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultPingInterval = 30 * time.Second

var errNoPong = errors.New("redis: ping not acknowledged")

// Stream implements ports.ChangePublisher and ports.ChangeStream on channels
// named "<prefix>:<topic>".
type Stream struct {
	client       goredis.UniversalClient
	prefix       string
	pingInterval time.Duration
	log          zerolog.Logger
}

// Option customizes a Stream.
type Option func(*Stream)

// WithPingInterval sets how long a subscriber may sit idle before it pings the
// server. A ping left unanswered for another interval fails the subscription.
func WithPingInterval(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func New(client goredis.UniversalClient, prefix string, log zerolog.Logger, opts ...Option) *Stream {
	if prefix == "" {
		prefix = "changes"
	}
	s := &Stream{client: client, prefix: prefix, pingInterval: defaultPingInterval, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) Name() string { return "redis" }

// Channel returns the Pub/Sub channel carrying topic.
func (s *Stream) Channel(topic string) string {
	return s.prefix + ":" + topic
}

func (s *Stream) Publish(ctx context.Context, topic string, event domain.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := s.client.Publish(ctx, s.Channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", s.Channel(topic), err)
	}
	return nil
}

// Stream subscribes to topic and forwards events until ctx is done or the
// connection fails. A broken connection ends the call with CHANNEL_ERROR and
// an unanswered ping with TIMED_OUT; reconnecting is left to the caller.
func (s *Stream) Stream(ctx context.Context, topic string, sink ports.StreamSink) error {
	channel := s.Channel(topic)
	pubsub := s.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// unblocks a pending read once ctx is done
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		sink.OnStatus("CHANNEL_ERROR")
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sink.OnStatus("SUBSCRIBED")

	awaitingPong := false
	for {
		msg, err := pubsub.ReceiveTimeout(ctx, s.pingInterval)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !isTimeout(err) {
				sink.OnStatus("CHANNEL_ERROR")
				return fmt.Errorf("receive %s: %w", channel, err)
			}
			if awaitingPong {
				sink.OnStatus("TIMED_OUT")
				return fmt.Errorf("receive %s: %w", channel, errNoPong)
			}
			if err := pubsub.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				sink.OnStatus("CHANNEL_ERROR")
				return fmt.Errorf("ping %s: %w", channel, err)
			}
			awaitingPong = true
			continue
		}
		awaitingPong = false

		switch m := msg.(type) {
		case *goredis.Message:
			var event domain.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				s.log.Warn().Err(err).Str("channel", channel).Msg("discarding malformed change event")
				continue
			}
			sink.OnEvent(event)
		case *goredis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				sink.OnStatus("CLOSED")
				return nil
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
