package queue

import (
	"errors"
	"sync"
	"testing"
)

func TestNew_RejectsZeroCapacity(t *testing.T) {
	if _, err := New[int](0); !errors.Is(err, ErrCapacity) {
		t.Fatalf("err=%v want ErrCapacity", err)
	}
}

func TestFIFOOrderWithinCapacity(t *testing.T) {
	q, err := New[int](8)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for i := 0; i < 8; i++ {
		if !q.TryPush(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	for i := 0; i < 8; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("pop=%d,%v want %d,true", v, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("pop on empty queue succeeded")
	}
}

func TestDropNewestWhenFull(t *testing.T) {
	q, _ := New[int](3)
	for i := 0; i < 10; i++ {
		q.TryPush(i)
	}
	if q.Dropped() != 7 || q.Pushed() != 3 {
		t.Fatalf("dropped=%d pushed=%d want 7,3", q.Dropped(), q.Pushed())
	}
	for want := 0; want < 3; want++ {
		v, ok := q.TryPop()
		if !ok || v != want {
			t.Fatalf("pop=%d,%v want %d,true", v, ok, want)
		}
	}

	// Space frees up once consumed.
	if !q.TryPush(42) {
		t.Fatalf("push after drain rejected")
	}
	if v, _ := q.TryPop(); v != 42 {
		t.Fatalf("pop=%d want 42", v)
	}
}

func TestConcurrentProducerConsumerPreservesOrder(t *testing.T) {
	q, _ := New[int](16)
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	var accepted []int
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if q.TryPush(i) {
				accepted = append(accepted, i)
			}
		}
	}()

	var got []int
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if v, ok := q.TryPop(); ok {
			got = append(got, v)
			continue
		}
		select {
		case <-done:
			for v, ok := q.TryPop(); ok; v, ok = q.TryPop() {
				got = append(got, v)
			}
			if len(got) != len(accepted) {
				t.Fatalf("got %d items want %d", len(got), len(accepted))
			}
			for i := range got {
				if got[i] != accepted[i] {
					t.Fatalf("item %d=%d want %d", i, got[i], accepted[i])
				}
			}
			if uint64(len(accepted))+q.Dropped() != n {
				t.Fatalf("accepted=%d dropped=%d want sum %d", len(accepted), q.Dropped(), n)
			}
			return
		default:
		}
	}
}
