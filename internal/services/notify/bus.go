// Package notify fans committed balance changes out to independent observers.
package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fastprodman/balancesync/internal/infra/logging"
)

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Bus is a typed observer list. Delivery is synchronous and in registration
// order; a panicking observer does not stop delivery to the rest.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   []subscriber[T]
	nextID uint64
	log    *slog.Logger
}

func New[T any](log *slog.Logger) *Bus[T] {
	if log == nil {
		log = slog.Default()
	}

	return &Bus[T]{log: log}
}

// Subscribe registers fn for future events only. The returned function
// unsubscribes; calling it more than once is harmless.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once

	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish delivers v to every observer registered when Publish started and
// returns how many observers returned without panicking.
func (b *Bus[T]) Publish(v T) int {
	b.mu.Lock()
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	delivered := 0

	for _, s := range subs {
		if b.deliver(s, v) {
			delivered++
		}
	}

	return delivered
}

func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *Bus[T]) deliver(s subscriber[T], v T) (ok bool) {
	defer func() {
		r := recover()
		if r != nil {
			b.log.Error("subscriber panicked",
				slog.Uint64("subscriber", s.id),
				logging.Err(fmt.Errorf("panic: %v", r)),
			)

			ok = false
		}
	}()

	s.fn(v)

	return true
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)

			return
		}
	}
}
