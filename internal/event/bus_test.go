package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

func TestPublishReachesTopicSubscribers(t *testing.T) {
	b := NewBus(zap.NewNop())
	ctx := context.Background()

	var got []string
	b.Subscribe(TopicDeviceStatusChanged, func(_ context.Context, e plugin.Event) {
		got = append(got, e.Source)
	})
	b.Subscribe(TopicIpamSynced, func(_ context.Context, e plugin.Event) {
		t.Error("wrong topic delivered")
	})

	if err := b.Publish(ctx, plugin.Event{Topic: TopicDeviceStatusChanged, Source: "monitor"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != "monitor" {
		t.Errorf("deliveries = %v, want one from monitor", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(zap.NewNop())
	ctx := context.Background()

	calls := 0
	unsub := b.Subscribe("t", func(context.Context, plugin.Event) { calls++ })

	b.Publish(ctx, plugin.Event{Topic: "t"})
	unsub()
	b.Publish(ctx, plugin.Event{Topic: "t"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 before unsubscribe", calls)
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	b := NewBus(zap.NewNop())
	ctx := context.Background()

	var topics []string
	unsub := b.SubscribeAll(func(_ context.Context, e plugin.Event) {
		topics = append(topics, e.Topic)
	})

	b.Publish(ctx, plugin.Event{Topic: TopicVMMigrated})
	b.Publish(ctx, plugin.Event{Topic: TopicIpamSynced})
	unsub()
	b.Publish(ctx, plugin.Event{Topic: TopicVMMigrated})

	if len(topics) != 2 || topics[0] != TopicVMMigrated || topics[1] != TopicIpamSynced {
		t.Errorf("topics = %v", topics)
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := NewBus(zap.NewNop())
	ctx := context.Background()

	reached := false
	b.Subscribe("t", func(context.Context, plugin.Event) { panic("bad handler") })
	b.Subscribe("t", func(context.Context, plugin.Event) { reached = true })

	if err := b.Publish(ctx, plugin.Event{Topic: "t"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !reached {
		t.Error("handler after the panicking one never ran")
	}
}

func TestPublishAsync(t *testing.T) {
	b := NewBus(zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		b.Subscribe("t", func(context.Context, plugin.Event) { wg.Done() })
	}
	go func() { wg.Wait(); close(done) }()

	b.PublishAsync(ctx, plugin.Event{Topic: "t"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers never ran")
	}
}

func TestUnsubscribeDuringConcurrentPublish(t *testing.T) {
	b := NewBus(zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsubs := make([]func(), 0, 50)
	for i := 0; i < 50; i++ {
		unsubs = append(unsubs, b.Subscribe("t", func(context.Context, plugin.Event) {
			mu.Lock()
			count++
			mu.Unlock()
		}))
	}

	// Exercised under -race: publishing and unsubscribing concurrently must
	// not trip the detector or deliver to a removed handler twice.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			b.Publish(ctx, plugin.Event{Topic: "t"})
		}
	}()
	go func() {
		defer wg.Done()
		for _, u := range unsubs {
			u()
		}
	}()
	wg.Wait()

	b.Publish(ctx, plugin.Event{Topic: "t"})
	mu.Lock()
	final := count
	mu.Unlock()
	b.Publish(ctx, plugin.Event{Topic: "t"})
	mu.Lock()
	defer mu.Unlock()
	if count != final {
		t.Errorf("handlers still registered after unsubscribe: %d -> %d", final, count)
	}
}
