package toolstream

import "sync"

// Broadcaster fans published values out to subscribers. Delivery is lossless: every subscription
// has its own unbounded queue drained by its own goroutine, so a slow subscriber neither blocks
// the publisher nor delays other subscribers. Subscriptions see only values published after
// they subscribed.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription is one consumer of a Broadcaster. Its channel closes after the Broadcaster is
// closed and the queue is drained, or after Close.
type Subscription[T any] struct {
	filter  func(T) bool
	onClose func()

	mu       sync.Mutex
	queue    []T
	finished bool

	wake      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
	out       chan T
}

func newSubscription[T any](filter func(T) bool) *Subscription[T] {
	s := &Subscription[T]{
		filter: filter,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan T),
	}
	go s.pump()
	return s
}

// Subscribe registers a subscription. A nil filter accepts every value. Subscribing to a closed
// Broadcaster returns a subscription whose channel is already drained.
func (b *Broadcaster[T]) Subscribe(filter func(T) bool) *Subscription[T] {
	s := newSubscription(filter)
	s.onClose = func() { b.remove(s) }
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.finish()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish appends v to the queue of every matching subscription.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(v)
	}
}

// Close ends the stream. Subscribers still receive everything that was queued.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.finish()
	}
	clear(b.subs)
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// C returns the channel of values.
func (s *Subscription[T]) C() <-chan T { return s.out }

// Close stops the subscription and discards its queue. Other subscriptions are not affected.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *Subscription[T]) push(v T) {
	if s.filter != nil && !s.filter(v) {
		return
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
}

// finish marks the end of input; the pump closes out once the queue is empty.
func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			done := s.finished
			s.mu.Unlock()
			if done {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- v:
		case <-s.quit:
			return
		}
	}
}

// Map returns a subscription of fn applied to the values of src. Values for which fn reports
// false are dropped. Closing the result closes src.
func Map[T, U any](src *Subscription[T], fn func(T) (U, bool)) *Subscription[U] {
	dst := newSubscription[U](nil)
	dst.onClose = src.Close
	go func() {
		defer dst.finish()
		for v := range src.C() {
			if u, ok := fn(v); ok {
				dst.push(u)
			}
		}
	}()
	return dst
}
