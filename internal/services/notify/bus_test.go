package notify

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()

	bus := New[int](quietLogger())

	var got []string

	bus.Subscribe(func(v int) { got = append(got, "a") })
	bus.Subscribe(func(v int) { panic("boom") })
	bus.Subscribe(func(v int) { got = append(got, "c") })

	delivered := bus.Publish(1)
	if delivered != 2 {
		t.Fatalf("delivered: want 2, got %d", delivered)
	}

	want := []string{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("order: want %v, got %v", want, got)
	}
}

func TestBus_ExactlyOncePerPublish(t *testing.T) {
	t.Parallel()

	bus := New[string](quietLogger())

	const n = 5

	counts := make([]int, n)

	for i := range n {
		bus.Subscribe(func(string) { counts[i]++ })
	}

	bus.Publish("x")
	bus.Publish("y")

	for i, c := range counts {
		if c != 2 {
			t.Fatalf("subscriber %d: want 2 deliveries, got %d", i, c)
		}
	}
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	t.Parallel()

	bus := New[int](quietLogger())
	bus.Publish(1)

	var got []int

	bus.Subscribe(func(v int) { got = append(got, v) })
	bus.Publish(2)

	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("want only [2], got %v", got)
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()

	bus := New[int](quietLogger())

	var (
		got    []string
		unsubB func()
	)

	bus.Subscribe(func(int) {
		got = append(got, "a")
		unsubB()
	})

	unsubB = bus.Subscribe(func(int) { got = append(got, "b") })

	unsubSelf := func() {}
	unsubSelf = bus.Subscribe(func(int) {
		got = append(got, "c")
		unsubSelf()
	})

	bus.Subscribe(func(int) { got = append(got, "d") })

	bus.Publish(1)

	want := "abcd"
	if joined(got) != want {
		t.Fatalf("first publish: want %s, got %s", want, joined(got))
	}

	got = nil

	bus.Publish(2)

	if joined(got) != "ad" {
		t.Fatalf("second publish: want ad, got %s", joined(got))
	}

	if bus.Len() != 2 {
		t.Fatalf("len: want 2, got %d", bus.Len())
	}

	unsubB()
	unsubB()

	if bus.Len() != 2 {
		t.Fatalf("double unsubscribe removed another subscriber")
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	t.Parallel()

	bus := New[int](quietLogger())

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			unsub := bus.Subscribe(func(int) {})
			unsub()
		}()

		go func() {
			defer wg.Done()

			bus.Publish(1)
		}()
	}

	wg.Wait()

	if bus.Len() != 0 {
		t.Fatalf("want empty bus, got %d", bus.Len())
	}
}

func joined(s []string) string {
	out := ""
	for _, v := range s {
		out += v
	}

	return out
}
