package querycache

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Subscribe registers an observer for the query's state transitions and
// returns its unsubscribe function. The observer immediately receives the
// current state, then every subsequent transition exactly once, in order.
//
// Observers run synchronously inside the query's critical section: they must
// be fast and must not call back into the query (registry lookups are safe).
// Use Listen for a channel-based consumer.
func (q *Query[T]) Subscribe(fn func(State[T])) (cancel func()) {
	id := uuid.NewString()

	q.mu.Lock()
	q.subscribers[id] = fn
	// Replay-of-latest happens inside the lock so no transition can slip in
	// between the replay and the first live emission.
	q.notify(fn, q.state)
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
}

// Subscribers returns the number of active observers.
func (q *Query[T]) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subscribers)
}

// emitLocked delivers a snapshot to every subscriber. Callers hold q.mu.
// Delivery order across subscribers is unspecified; per subscriber it is
// chronological because all emissions happen under the query mutex.
func (q *Query[T]) emitLocked(st State[T]) {
	for _, fn := range q.subscribers {
		q.notify(fn, st)
	}
}

func (q *Query[T]) notify(fn func(State[T]), st State[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("subscriber panicked", "panic", r)
		}
	}()
	fn(st)
}

// Listen adapts a subscription to a channel. Every transition is delivered
// in order with no drops while the listener is active; the channel closes
// after cancel is called or ctx is done, discarding any undelivered tail.
func (q *Query[T]) Listen(ctx context.Context) (<-chan State[T], func()) {
	out := make(chan State[T])
	signal := make(chan struct{}, 1)
	stop := make(chan struct{})

	var mu sync.Mutex
	var queue []State[T]

	unsubscribe := q.Subscribe(func(st State[T]) {
		mu.Lock()
		queue = append(queue, st)
		mu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			close(stop)
		})
	}

	go func() {
		defer close(out)
		for {
			mu.Lock()
			pending := queue
			queue = nil
			mu.Unlock()

			for _, st := range pending {
				select {
				case out <- st:
				case <-stop:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}

			select {
			case <-signal:
			case <-stop:
				return
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return out, cancel
}
