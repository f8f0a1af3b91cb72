// Package redispubsub fans appended turns out over Redis pub/sub so that
// several processes sharing one durable store see each other's turns.
package redispubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const channelPrefix = "duet:session:"

// Channel is the pub/sub channel turns of sessionID are published on.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

var _ store.Broadcast = (*Broadcaster)(nil)

type Broadcaster struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Broadcaster {
	return &Broadcaster{client: client}
}

// Connect accepts a single redis:// URL or a comma separated list of them
// for a cluster.
func Connect(ctx context.Context, redisURL string) (*Broadcaster, error) {
	opts, err := universalOptions(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return New(client), nil
}

func universalOptions(raw string) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
		opts.DB = parsed.DB
	}

	if len(opts.Addrs) == 0 {
		return nil, errors.New("no redis address given")
	}
	if len(opts.Addrs) > 1 {
		opts.DB = 0
	}
	return opts, nil
}

func (b *Broadcaster) Close() error {
	return b.client.Close()
}

func (b *Broadcaster) Publish(ctx context.Context, sessionID string, turn dialogue.Turn) error {
	ctx, span := tracer.Start(ctx, "publish turn", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("turn.order", turn.Order),
	))
	defer span.End()

	payload, err := json.Marshal(turn)
	if err != nil {
		return recordError(span, fmt.Errorf("encode turn %d: %w", turn.Order, err))
	}
	if err := b.client.Publish(ctx, Channel(sessionID), payload).Err(); err != nil {
		return recordError(span, fmt.Errorf("publish turn %d: %w", turn.Order, err))
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so
// turns published after it returns are never missed. Messages published while
// the connection is broken are lost, so a receive error ends the subscription
// through onLost instead of reconnecting.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), onLost func(error)) (func(), error) {
	sub := b.client.Subscribe(ctx, Channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", Channel(sessionID), err)
	}

	var stopped atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			received, err := sub.Receive(ctx)
			if err != nil {
				if stopped.Load() || ctx.Err() != nil {
					return
				}
				logger.ErrorContext(ctx, "subscription failed", "channel", Channel(sessionID), "error", err)
				if onLost != nil {
					onLost(fmt.Errorf("receive from %s: %w", Channel(sessionID), err))
				}
				return
			}

			msg, ok := received.(*redis.Message)
			if !ok {
				continue
			}
			turn, err := decodeTurn(msg.Payload)
			if err != nil {
				logger.WarnContext(ctx, "dropping malformed turn", "channel", msg.Channel, "error", err)
				continue
			}
			onTurn(turn)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stopped.Store(true)
			if err := sub.Close(); err != nil {
				logger.Warn("failed to close subscription", "session", sessionID, "error", err)
			}
			<-done
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()

	return unsubscribe, nil
}

func decodeTurn(payload string) (dialogue.Turn, error) {
	var turn dialogue.Turn
	if err := json.Unmarshal([]byte(payload), &turn); err != nil {
		return dialogue.Turn{}, fmt.Errorf("decode turn: %w", err)
	}
	if turn.Order < 1 || !turn.Speaker.Valid() {
		return dialogue.Turn{}, fmt.Errorf("decode turn: invalid order %d or speaker %q", turn.Order, turn.Speaker)
	}
	return turn, nil
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
