package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	// Push 10 items
	vals := make([]int, 10)
	for i := 0; i < 10; i++ {
		vals[i] = i
		if !q.Push(&vals[i]) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	// Consume 10 items
	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %v", i, *val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	// Make sure queue is empty
	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
		// Expected timeout, queue is empty
	}
}

// TestSingleProducerOrder verifies FIFO delivery for a single producer.
// The commit log relies on this property: finalize is the sole producer and
// commit records must be delivered in strictly increasing index order.
func TestSingleProducerOrder(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const numItems = 10_000

	done := make(chan struct{})
	go func() {
		defer close(done)
		expected := 0
		for val := range q.Recv() {
			if *val != expected {
				t.Errorf("Out of order delivery: expected %d, got %d", expected, *val)
				return
			}
			expected++
		}
		if expected != numItems {
			t.Errorf("Expected %d items, got %d", numItems, expected)
		}
	}()

	for i := 0; i < numItems; i++ {
		val := i
		if !q.Push(&val) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	q.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}
}

// TestConcurrentProducers verifies the queue works correctly with multiple producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	// Use a map to track received items
	var mu sync.Mutex
	received := make(map[int]bool)

	// Start a consumer goroutine
	done := make(chan struct{})
	receivedCount := 0

	go func() {
		defer close(done)

		for receivedCount < totalItems {
			select {
			case val := <-q.Recv():

				if val == nil {
					t.Errorf("Received nil item")
					return
				}

				mu.Lock()
				if received[*val] {
					t.Errorf("Duplicate item received: %v", *val)
				}
				received[*val] = true
				receivedCount++
				mu.Unlock()
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", receivedCount, totalItems)
				return
			}
		}
	}()

	// Start producers
	var wg sync.WaitGroup
	wg.Add(numProducers)

	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()

			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				val := base + i
				if !q.Push(&val) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}

				// Add some randomness to producer timing
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	// Wait for all producers to finish
	wg.Wait()

	// Wait for consumer to process all items
	select {
	case <-done:
		// Consumer finished
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != totalItems {
		t.Errorf("Expected %d unique items, got %d", totalItems, len(received))
	}
}

// TestPushAfterClose verifies that pushes are rejected after Close
func TestPushAfterClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	val := 42
	if !q.Push(&val) {
		t.Fatalf("Push to open queue failed")
	}

	q.Close()

	if q.Push(&val) {
		t.Errorf("Push to closed queue should fail")
	}

	if !q.IsClosed() {
		t.Errorf("IsClosed should report true after Close")
	}

	// The item pushed before Close must still be delivered
	select {
	case got := <-q.Recv():
		if got == nil || *got != 42 {
			t.Errorf("Expected 42, got %v", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("Timeout waiting for item pushed before Close")
	}
}
