package queue

import (
	"sync"
	"testing"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("Dequeue() = %d, %v, want %d, true", v, ok, i)
		}
	}
}

func TestConcurrentProducersPreserveProducerOrder(t *testing.T) {
	q := New[int]()
	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make([]int, 8)
	for i := 0; i < perProducer*8; i++ {
		v, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue drained early")
		}
		producer := v / perProducer
		want := seen[producer]
		if v%perProducer != want {
			t.Fatalf("producer %d: got %d, want next value %d", producer, v%perProducer, want)
		}
		seen[producer]++
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New[string]()
	done := make(chan string)
	go func() {
		v, ok := q.Dequeue()
		if !ok {
			done <- "closed"
			return
		}
		done <- v
	}()
	q.Enqueue("hello")
	if got := <-done; got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestTryDequeueOnEmpty(t *testing.T) {
	q := New[int]()
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("TryDequeue on empty queue should report ok=false")
	}
	q.Enqueue(5)
	v, ok := q.TryDequeue()
	if !ok || v != 5 {
		t.Fatalf("TryDequeue() = %d, %v, want 5, true", v, ok)
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("TryDequeue after draining should report ok=false")
	}
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := New[int]()
	done := make(chan bool)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	q.Close()
	if ok := <-done; ok {
		t.Fatalf("Dequeue after Close should report ok=false")
	}
}
