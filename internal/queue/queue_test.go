package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signoff/internal/queue"
)

func TestMemoryPushAndSubscribe(t *testing.T) {
	memoryQueue := queue.NewMemory()
	queueOpts := queue.QueueOpts{Stream: "signoff", Subject: "events"}

	output, err := memoryQueue.Push(queue.PushOpts{
		Data:  []byte(`{"kind":"mention"}`),
		Queue: queueOpts,
	})
	if err != nil {
		t.Fatalf("failed to push: %s", err)
	}
	if output.MessageSizeBytes != len(`{"kind":"mention"}`) {
		t.Errorf("unexpected message size: %d", output.MessageSizeBytes)
	}
	if _, err := memoryQueue.Push(queue.PushOpts{
		Data:  []byte(`{"kind":"directMessage"}`),
		Queue: queueOpts,
	}); err != nil {
		t.Fatalf("failed to push: %s", err)
	}
	if memoryQueue.Depth() != 2 {
		t.Fatalf("expected 2 buffered messages, got %d", memoryQueue.Depth())
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mutex sync.Mutex
	received := []string{}
	go memoryQueue.Subscribe(queue.SubscribeOpts{
		ConsumerId: "test-consumer",
		Context:    ctx,
		Handler: func(ctx context.Context, message queue.Message) error {
			mutex.Lock()
			received = append(received, string(message.Data))
			if len(received) == 2 {
				cancel()
			}
			mutex.Unlock()
			return nil
		},
		Queue: queueOpts,
	})

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for messages")
	}
	mutex.Lock()
	defer mutex.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(received))
	}
	if received[0] != `{"kind":"mention"}` {
		t.Errorf("expected delivery in push order, got %q first", received[0])
	}
}

func TestMemoryRequeuesOnHandlerFailure(t *testing.T) {
	memoryQueue := queue.NewMemory()
	queueOpts := queue.QueueOpts{Stream: "signoff", Subject: "events"}
	if _, err := memoryQueue.Push(queue.PushOpts{
		Data:  []byte("flaky"),
		Queue: queueOpts,
	}); err != nil {
		t.Fatalf("failed to push: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mutex sync.Mutex
	attempts := 0
	go memoryQueue.Subscribe(queue.SubscribeOpts{
		ConsumerId: "test-consumer",
		Context:    ctx,
		Handler: func(ctx context.Context, message queue.Message) error {
			mutex.Lock()
			defer mutex.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("transient failure")
			}
			cancel()
			return nil
		},
		Queue:      queueOpts,
		NakBackoff: 10 * time.Millisecond,
	})

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for the redelivery")
	}
	mutex.Lock()
	defer mutex.Unlock()
	if attempts != 2 {
		t.Errorf("expected the message redelivered once, got %d attempts", attempts)
	}
}
