// Package queue carries indexation requests from whoever asks for one to the
// worker that runs it. Redis lists back it in a deployment; an in-process
// channel stands in when no redis is configured.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"graphsync/internal/config"
)

// ErrEmpty is returned by Pop when nothing arrived before the poll timeout.
var ErrEmpty = errors.New("queue empty")

type Request struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type Queue interface {
	Push(ctx context.Context, req Request) error
	// Pop blocks until a request arrives, the poll timeout passes (ErrEmpty)
	// or ctx is done.
	Pop(ctx context.Context) (Request, error)
	Close() error
}

// redisClient is the part of *redis.Client the queue uses.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

type Redis struct {
	client  redisClient
	key     string
	timeout time.Duration
}

const DefaultPopTimeout = 5 * time.Second

// NewRedis connects to redis and checks it answers.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}
	return newRedis(client, cfg.Queue), nil
}

func newRedis(client redisClient, key string) *Redis {
	return &Redis{client: client, key: key, timeout: DefaultPopTimeout}
}

func (q *Redis) Push(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("pushing to %s: %w", q.key, err)
	}
	return nil
}

func (q *Redis) Pop(ctx context.Context) (Request, error) {
	result, err := q.client.BLPop(ctx, q.timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Request{}, ErrEmpty
	}
	if err != nil {
		return Request{}, fmt.Errorf("popping from %s: %w", q.key, err)
	}
	if len(result) != 2 {
		return Request{}, fmt.Errorf("popping from %s: unexpected reply %v", q.key, result)
	}

	var req Request
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}

// Memory is an in-process queue for single-node setups and tests.
type Memory struct {
	ch chan Request
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{ch: make(chan Request, size)}
}

// Push fails instead of blocking when the buffer is full.
func (q *Memory) Push(ctx context.Context, req Request) error {
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full, dropping request for %s", req.Source)
	}
}

func (q *Memory) Pop(ctx context.Context) (Request, error) {
	select {
	case req := <-q.ch:
		return req, nil
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

func (q *Memory) Close() error {
	return nil
}
