package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"nse-alerts/internal/models"
)

func messageEvent(i int) models.Event {
	return models.NewMessageEvent(models.NotificationRecord{
		ID:            fmt.Sprintf("n%d", i),
		DestinationID: "@grp",
		Symbol:        "TCS",
		Timestamp:     time.Now(),
	})
}

// Property: For any number of subscribers and events, every subscriber
// with room in its buffer receives every event.
func TestProperty_AllSubscribersReceiveEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("all fast subscribers receive all events", prop.ForAll(
		func(subscriberCount int, eventCount int) bool {
			hub := NewHubWithConfig(HubConfig{BufferSize: 1000, SubscriberBufferSize: 100})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hub.Start(ctx)
			defer hub.Stop()

			subs := make([]*Subscriber, subscriberCount)
			for i := range subs {
				subs[i] = hub.Subscribe()
			}

			var wg sync.WaitGroup
			received := make([]int64, subscriberCount)
			for i, sub := range subs {
				wg.Add(1)
				go func(idx int, ch <-chan models.Event) {
					defer wg.Done()
					timeout := time.After(5 * time.Second)
					for {
						select {
						case _, ok := <-ch:
							if !ok {
								return
							}
							if atomic.AddInt64(&received[idx], 1) >= int64(eventCount) {
								return
							}
						case <-timeout:
							return
						}
					}
				}(i, sub.Channel)
			}

			for i := 0; i < eventCount; i++ {
				hub.Broadcast(messageEvent(i))
			}
			wg.Wait()

			for i := range received {
				if atomic.LoadInt64(&received[i]) != int64(eventCount) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// Property: A subscriber that never reads does not stop others from
// receiving events; its misses are counted as drops.
func TestProperty_SlowSubscribersDoNotBlockOthers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("slow subscribers do not block fast ones", prop.ForAll(
		func(eventCount int) bool {
			hub := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 5})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hub.Start(ctx)
			defer hub.Stop()

			fast := hub.Subscribe()
			_ = hub.Subscribe() // never read

			var got int64
			done := make(chan struct{})
			go func() {
				defer close(done)
				timeout := time.After(2 * time.Second)
				for {
					select {
					case _, ok := <-fast.Channel:
						if !ok {
							return
						}
						if atomic.AddInt64(&got, 1) >= int64(eventCount) {
							return
						}
					case <-timeout:
						return
					}
				}
			}()

			for i := 0; i < eventCount; i++ {
				hub.Publish(messageEvent(i))
				time.Sleep(time.Millisecond)
			}
			<-done

			deadline := time.Now().Add(time.Second)
			for hub.GetMetrics().EventsReceived < uint64(eventCount) && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(5 * time.Millisecond)

			m := hub.GetMetrics()
			return atomic.LoadInt64(&got) == int64(eventCount) &&
				m.EventsDropped == uint64(eventCount-5)
		},
		gen.IntRange(6, 30),
	))

	properties.TestingRun(t)
}

func TestSubscribersFilterByType(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	metricsOnly := hub.Subscribe(models.EventFinancialMetrics)

	hub.Publish(messageEvent(1))
	hub.Publish(models.NewMetricsEvent(models.FinancialMetrics{ID: "m1", Symbol: "TCS"}))

	select {
	case ev := <-metricsOnly.Channel:
		if ev.Type != models.EventFinancialMetrics || ev.Data == nil || ev.Data.Metrics[0].ID != "m1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("metrics event not delivered")
	}

	select {
	case ev := <-metricsOnly.Channel:
		t.Errorf("filtered subscriber got %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	hub.Unsubscribe(sub)
	if _, ok := <-sub.Channel; ok {
		t.Error("channel should be closed")
	}
	hub.Unsubscribe(sub) // second call is a no-op
	if hub.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d", hub.SubscriberCount())
	}
}
