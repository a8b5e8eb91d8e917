// Package redis appends usage records to a Redis stream so other services
// can consume them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nulzo/prism-gateway/internal/usage"
	goredis "github.com/redis/go-redis/v9"
)

// Sink XADDs one entry per record, each carrying the record as JSON under
// the "record" field.
type Sink struct {
	client *goredis.Client
	stream string
	// MaxLen caps the stream approximately (usage.stream_max_len); zero
	// leaves it unbounded.
	MaxLen int64
}

func New(client *goredis.Client, stream string) *Sink {
	return &Sink{client: client, stream: stream}
}

// Dial connects and pings so misconfiguration shows at startup.
func Dial(ctx context.Context, addr, password string, db int, stream string) (*Sink, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, stream), nil
}

func (s *Sink) Write(ctx context.Context, batch []*usage.Record) error {
	_, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, r := range batch {
			args, err := s.entry(r)
			if err != nil {
				return err
			}
			p.XAdd(ctx, args)
		}
		return nil
	})
	return err
}

func (s *Sink) entry(r *usage.Record) (*goredis.XAddArgs, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.MaxLen,
		Approx: s.MaxLen > 0,
		ID:     "*",
		Values: map[string]any{"id": r.ID, "provider": r.Provider, "record": b},
	}, nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
