package toolstream

import (
	"strconv"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainSub[T any](s *Subscription[T]) []T {
	var out []T
	for v := range s.C() {
		out = append(out, v)
	}
	return out
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster[int]()
	all := b.Subscribe(nil)
	even := b.Subscribe(func(v int) bool { return v%2 == 0 })
	for i := range 6 {
		b.Publish(i)
	}
	b.Close()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, drainSub(all))
	assert.Equal(t, []int{0, 2, 4}, drainSub(even))
}

func TestBroadcaster_NoReplay(t *testing.T) {
	b := NewBroadcaster[string]()
	b.Publish("early")
	late := b.Subscribe(nil)
	b.Publish("late")
	b.Close()
	assert.Equal(t, []string{"late"}, drainSub(late))
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster[int]()
	b.Close()
	b.Close()
	s := b.Subscribe(nil)
	assert.Empty(t, drainSub(s))
	b.Publish(1)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster[int]()
	slow := b.Subscribe(nil)
	fast := b.Subscribe(nil)
	var wg sync.WaitGroup
	var got []int
	wg.Go(func() { got = drainSub(fast) })
	for i := range 1000 {
		b.Publish(i)
	}
	b.Close()
	wg.Wait()
	assert.Len(t, got, 1000)
	assert.Len(t, drainSub(slow), 1000)
}

func TestSubscription_Close(t *testing.T) {
	b := NewBroadcaster[int]()
	s := b.Subscribe(nil)
	other := b.Subscribe(nil)
	b.Publish(1)
	s.Close()
	s.Close()
	for range s.C() {
	}
	b.Publish(2)
	b.Close()
	assert.Equal(t, []int{1, 2}, drainSub(other))
}

func TestMap(t *testing.T) {
	b := NewBroadcaster[int]()
	src := b.Subscribe(nil)
	labels := Map(src, func(v int) (string, bool) {
		return "n" + strconv.Itoa(v), v > 0
	})
	for _, v := range []int{0, 1, 2} {
		b.Publish(v)
	}
	b.Close()
	assert.Equal(t, []string{"n1", "n2"}, drainSub(labels))
}

func TestMap_CloseStopsSource(t *testing.T) {
	b := NewBroadcaster[int]()
	src := b.Subscribe(nil)
	mapped := Map(src, func(v int) (int, bool) { return v, true })
	mapped.Close()
	for range mapped.C() {
	}
	for range src.C() {
	}
	b.Publish(1)
	b.Close()
}

func TestBroadcaster_OrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	properties.Property("every subscriber sees every value in publish order", prop.ForAll(
		func(values []int, subscribers int) bool {
			b := NewBroadcaster[int]()
			subs := make([]*Subscription[int], subscribers)
			for i := range subs {
				subs[i] = b.Subscribe(nil)
			}
			for _, v := range values {
				b.Publish(v)
			}
			b.Close()
			for _, s := range subs {
				got := drainSub(s)
				if len(got) != len(values) {
					return false
				}
				for i := range got {
					if got[i] != values[i] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Int()),
		gen.IntRange(1, 4),
	))
	properties.TestingRun(t)
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := NewBroadcaster[int]()
	s := b.Subscribe(nil)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Go(func() {
			for i := range 100 {
				b.Publish(w*100 + i)
			}
		})
	}
	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		got = drainSub(s)
	}()
	wg.Wait()
	b.Close()
	<-done
	require.Len(t, got, 400)
}
