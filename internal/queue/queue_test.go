package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vecino-labs/backend-vecino/internal/queue"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDequeue(t *testing.T) {
	client := newTestRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := enq.Enqueue(ctx, queue.Task{Kind: "push-notification", Payload: []byte("payload")})
	require.NoError(t, err)

	processed := make(chan []byte, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "push-notification",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task.Payload
			cancel()
			return nil
		},
	}

	go func() { _ = worker.Run(ctx) }()

	select {
	case payload := <-processed:
		require.Equal(t, []byte("payload"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for payload")
	}
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	client := newTestRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := enq.Enqueue(ctx, queue.Task{Kind: "push-notification", Payload: []byte("once"), IdempotencyKey: "k1"})
		require.NoError(t, err)
	}

	size, err := client.ZCard(ctx, "test:queue:push-notification").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	client := newTestRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := enq.Enqueue(ctx, queue.Task{Kind: "push-notification", Payload: []byte("doomed"), MaxAttempts: 2})
	require.NoError(t, err)

	var attempts atomic.Int64
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "push-notification",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			attempts.Add(1)
			return errors.New("gateway unavailable")
		},
	}

	go func() { _ = worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.LLen(context.Background(), "test:push-notification:dlq").Result()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, int64(2), attempts.Load())
}

func TestEnqueueRejectsInvalidKind(t *testing.T) {
	client := newTestRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}

	err := enq.Enqueue(context.Background(), queue.Task{Kind: "push notifications!", Payload: []byte("x")})
	require.Error(t, err)
}
