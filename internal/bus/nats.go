package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// JetStreamBus is the production Bus: a durable NATS JetStream stream
// with a pull consumer per subscription.
type JetStreamBus struct {
	conn        *nats.Conn
	js          nats.JetStreamContext
	streamName  string
	durableName string
}

// Connect opens a NATS connection, attaches JetStream, and ensures
// streamName carries every subject the caller will publish or
// subscribe to.
func Connect(url, streamName, durableName string, subjects []string) (*JetStreamBus, error) {
	conn, err := nats.Connect(url, nats.Name("fenrir-engine"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}
	b := &JetStreamBus{conn: conn, js: js, streamName: streamName, durableName: durableName}
	if err := b.ensureStream(subjects); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *JetStreamBus) ensureStream(subjects []string) error {
	if len(subjects) == 0 {
		return nil
	}
	existing, err := b.js.StreamInfo(b.streamName)
	if err != nil {
		_, createErr := b.js.AddStream(&nats.StreamConfig{
			Name:     b.streamName,
			Subjects: subjects,
			Storage:  nats.FileStorage,
		})
		if createErr != nil {
			return fmt.Errorf("bus: create stream %s: %w", b.streamName, createErr)
		}
		return nil
	}

	merged := dedupSubjects(append(append([]string{}, existing.Config.Subjects...), subjects...))
	if len(merged) == len(existing.Config.Subjects) {
		return nil
	}
	cfg := existing.Config
	cfg.Subjects = merged
	if _, err := b.js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("bus: update stream %s: %w", b.streamName, err)
	}
	return nil
}

func (b *JetStreamBus) Publish(ctx context.Context, subject string, payload []byte) error {
	_, err := b.js.Publish(subject, payload)
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe opens a durable pull consumer and feeds a bounded channel
// from a background fetch loop, matching the 1024-deep buffering the
// router uses for its per-shard channels.
func (b *JetStreamBus) Subscribe(ctx context.Context, subject string) (<-chan Message, error) {
	sub, err := b.js.PullSubscribe(subject, b.durableName, nats.BindStream(b.streamName))
	if err != nil {
		return nil, fmt.Errorf("bus: pull subscribe %s: %w", subject, err)
	}

	out := make(chan Message, 1024)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msgs, err := sub.Fetch(32, nats.MaxWait(time.Second))
			if err != nil {
				if err != nats.ErrTimeout {
					log.Warn().Err(err).Str("subject", subject).Msg("bus fetch failed")
				}
				continue
			}
			for _, m := range msgs {
				msg := m
				select {
				case out <- Message{
					Payload: msg.Data,
					Ack:     func(context.Context) error { return msg.Ack() },
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *JetStreamBus) Close() error {
	b.conn.Close()
	return nil
}

func dedupSubjects(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
