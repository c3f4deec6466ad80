package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryGatewayPublishSubscribe(t *testing.T) {
	g := NewMemoryGateway(time.Second)
	defer g.Close()

	received := make(chan []byte, 1)
	unsubscribe, err := g.Subscribe(context.Background(), "ao:events:all", func(payload []byte) {
		received <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if err := g.Publish(context.Background(), "ao:events:all", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hello" {
			t.Fatalf("expected hello, got %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryGatewayUnsubscribeStopsDelivery(t *testing.T) {
	g := NewMemoryGateway(time.Second)
	defer g.Close()

	var count int32
	unsubscribe, err := g.Subscribe(context.Background(), "ch", func([]byte) {
		atomic.AddInt32(&count, 1)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubscribe()

	g.Publish(context.Background(), "ch", []byte("x"))
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&count) != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestMemoryGatewayConcurrentSubscriptions(t *testing.T) {
	g := NewMemoryGateway(time.Second)
	defer g.Close()

	numGoroutines := 50
	var wg sync.WaitGroup
	var delivered int32

	unsubs := make([]func(), numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		channel := fmt.Sprintf("ch-%d", i)
		unsub, err := g.Subscribe(context.Background(), channel, func([]byte) {
			atomic.AddInt32(&delivered, 1)
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		unsubs[i] = unsub
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			channel := fmt.Sprintf("ch-%d", i)
			g.Publish(context.Background(), channel, []byte("x"))
		}(i)
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&delivered) != int32(numGoroutines) {
		t.Fatalf("expected %d deliveries, got %d", numGoroutines, delivered)
	}

	for _, unsub := range unsubs {
		unsub()
	}
}
