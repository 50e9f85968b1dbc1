// internal/notify/feed.go
package notify

import "sync"

// Feed is a synchronous fan-out of values of type T to subscribed handlers.
// Handlers run in subscription order on the sending goroutine.
// The feed lock is never held while a handler runs, so handlers may send on
// the same feed. A panicking handler is recovered and reported to the
// OnPanic hook; later handlers still receive the value.
type Feed[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	subs    []*subscriber[T]
	onPanic func(recovered any)
}

type subscriber[T any] struct {
	id       uint64
	fn       func(T)
	closed   bool // guarded by Feed.mu
	inflight sync.WaitGroup
}

// Subscribe registers fn and returns a function that removes it.
//
// When unsubscribe returns, fn is not running and will not be invoked again.
// Unsubscribe must not be called from inside fn.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	f.nextID++
	s := &subscriber[T]{id: f.nextID, fn: fn}
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			s.closed = true
			for i, cur := range f.subs {
				if cur == s {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					break
				}
			}
			f.mu.Unlock()

			// No Add can follow once closed is set under f.mu.
			s.inflight.Wait()
		})
	}
}

// OnPanic sets the hook called with the value recovered from a panicking
// handler. Nil discards it.
func (f *Feed[T]) OnPanic(fn func(recovered any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPanic = fn
}

// Send delivers v to every current subscriber.
func (f *Feed[T]) Send(v T) {
	f.mu.Lock()
	subs := make([]*subscriber[T], len(f.subs))
	copy(subs, f.subs)
	onPanic := f.onPanic
	f.mu.Unlock()

	for _, s := range subs {
		f.mu.Lock()
		if s.closed {
			f.mu.Unlock()
			continue
		}
		s.inflight.Add(1)
		f.mu.Unlock()

		s.deliver(v, onPanic)
	}
}

func (s *subscriber[T]) deliver(v T, onPanic func(any)) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	s.fn(v)
}

// Len reports the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
