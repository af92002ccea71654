package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newBroker(t *testing.T, opts ...Option) *InMemoryBroker {
	t.Helper()
	b := NewInMemoryBroker(opts...)
	if err := b.Declare(context.Background(), VilleQueue, ProcessedQueue); err != nil {
		t.Fatalf("declare: %v", err)
	}
	return b
}

func TestInMemoryBroker_PublishReceiveAck(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	if err := b.Publish(ctx, VilleQueue, []byte(`{"nom":"Paris"}`), "paris"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if l := b.Len(VilleQueue); l != 1 {
		t.Fatalf("expected length 1, got %d", l)
	}

	d, err := b.Receive(ctx, VilleQueue)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(d.Data()) != `{"nom":"Paris"}` {
		t.Errorf("unexpected payload %s", d.Data())
	}
	if b.InFlight(VilleQueue) != 1 {
		t.Errorf("expected one in-flight message")
	}
	if err := d.Ack(); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := d.Ack(); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled on double ack, got %v", err)
	}
	if b.Len(VilleQueue) != 0 || b.InFlight(VilleQueue) != 0 {
		t.Errorf("expected empty queue after ack")
	}
}

func TestInMemoryBroker_NakRedelivers(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	_ = b.Publish(ctx, VilleQueue, []byte("a"), "")
	_ = b.Publish(ctx, VilleQueue, []byte("b"), "")

	d, _ := b.Receive(ctx, VilleQueue)
	if err := d.Nak(); err != nil {
		t.Fatalf("nak: %v", err)
	}

	again, _ := b.Receive(ctx, VilleQueue)
	if string(again.Data()) != "a" {
		t.Fatalf("expected redelivery of a first, got %s", again.Data())
	}
	if n := again.(*memDelivery).Deliveries(); n != 2 {
		t.Errorf("expected delivery count 2, got %d", n)
	}
}

func TestInMemoryBroker_DuplicateMsgID(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBroker(t, WithDuplicateWindow(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = b.Publish(ctx, VilleQueue, []byte("x"), "id-1")
	_ = b.Publish(ctx, VilleQueue, []byte("x"), "id-1")
	if l := b.Len(VilleQueue); l != 1 {
		t.Fatalf("expected duplicate publish to be dropped, got length %d", l)
	}

	now = now.Add(2 * time.Minute)
	_ = b.Publish(ctx, VilleQueue, []byte("x"), "id-1")
	if l := b.Len(VilleQueue); l != 2 {
		t.Fatalf("expected publish after window to be kept, got length %d", l)
	}
}

func TestInMemoryBroker_DrainIsNonBlocking(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	empty, err := b.Drain(ctx, ProcessedQueue, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty drain, got %d, %v", len(empty), err)
	}

	for i := 0; i < 5; i++ {
		_ = b.Publish(ctx, ProcessedQueue, []byte(fmt.Sprintf("m%d", i)), "")
	}
	got, err := b.Drain(ctx, ProcessedQueue, 3)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 3 || string(got[0].Data()) != "m0" {
		t.Fatalf("expected first three messages in order, got %d", len(got))
	}
	if b.Len(ProcessedQueue) != 2 {
		t.Errorf("expected two messages left, got %d", b.Len(ProcessedQueue))
	}
}

func TestInMemoryBroker_ReceiveBlocksUntilPublish(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		d, err := b.Receive(ctx, VilleQueue)
		if err != nil {
			got <- err.Error()
			return
		}
		got <- string(d.Data())
	}()

	time.Sleep(20 * time.Millisecond)
	_ = b.Publish(ctx, VilleQueue, []byte("late"), "")

	if v := <-got; v != "late" {
		t.Fatalf("expected late, got %s", v)
	}
}

func TestInMemoryBroker_ReceiveHonoursContextAndClose(t *testing.T) {
	b := newBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Receive(ctx, VilleQueue); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Close()
	}()
	if _, err := b.Receive(context.Background(), VilleQueue); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestInMemoryBroker_UnknownQueue(t *testing.T) {
	b := NewInMemoryBroker()
	if err := b.Publish(context.Background(), "nope", nil, ""); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("expected ErrUnknownQueue, got %v", err)
	}
}

func TestInMemoryBroker_CompetingConsumers(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 200
	for i := 0; i < total; i++ {
		_ = b.Publish(ctx, VilleQueue, []byte(fmt.Sprintf("m%d", i)), "")
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, err := b.Drain(ctx, VilleQueue, 1)
				if err != nil || len(d) == 0 {
					return
				}
				mu.Lock()
				seen[string(d[0].Data())]++
				mu.Unlock()
				_ = d[0].Ack()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct messages, got %d", total, len(seen))
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("message %s delivered %d times", k, n)
		}
	}
}
