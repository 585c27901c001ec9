package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/domain/market"
)

const (
	DefaultChannel   = "predictions"
	DefaultLatestKey = "predictions:latest"
)

// RedisSignals publishes prediction batches on a pub/sub channel and keeps the newest batch
// under a key so late readers can fetch it
type RedisSignals struct {
	client    *redis.Client
	channel   string
	latestKey string
	ttl       time.Duration
}

// RedisOptions configures channel, key and expiry; zero values use the defaults
type RedisOptions struct {
	Channel   string        `yaml:"channel"`
	LatestKey string        `yaml:"latest_key"`
	TTL       time.Duration `yaml:"ttl"`
}

// NewRedisSignals wraps an existing client
func NewRedisSignals(client *redis.Client, opts RedisOptions) *RedisSignals {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.LatestKey == "" {
		opts.LatestKey = DefaultLatestKey
	}
	return &RedisSignals{
		client:    client,
		channel:   opts.Channel,
		latestKey: opts.LatestKey,
		ttl:       opts.TTL,
	}
}

// Publish sends the batch once; subscribers that are not connected miss it
func (r *RedisSignals) Publish(ctx context.Context, batch market.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	receivers, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	log.Debug().Int64("receivers", receivers).Str("channel", r.channel).Msg("Published prediction batch")
	return nil
}

// SaveBatch replaces the stored latest batch
func (r *RedisSignals) SaveBatch(ctx context.Context, batch market.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := r.client.Set(ctx, r.latestKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.latestKey, err)
	}
	return nil
}

// LatestBatch reads the stored batch; false when the key is absent
func (r *RedisSignals) LatestBatch(ctx context.Context) (market.Batch, bool, error) {
	data, err := r.client.Get(ctx, r.latestKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return market.Batch{}, false, nil
		}
		return market.Batch{}, false, fmt.Errorf("redis get %s: %w", r.latestKey, err)
	}
	batch, err := decodeBatch(data)
	if err != nil {
		return market.Batch{}, false, err
	}
	return batch, true, nil
}

// Subscribe relays every batch received on the channel to handler until ctx ends.
// Undecodable messages are logged and dropped.
func (r *RedisSignals) Subscribe(ctx context.Context, handler func(market.Batch)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			batch, err := decodeBatch([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", r.channel).Msg("Dropping malformed batch")
				continue
			}
			handler(batch)
		}
	}
}

// Ping checks connectivity
func (r *RedisSignals) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodeBatch(data []byte) (market.Batch, error) {
	var batch market.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return market.Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	if batch.Long == nil {
		batch.Long = []market.Signal{}
	}
	if batch.Short == nil {
		batch.Short = []market.Signal{}
	}
	return batch, nil
}
