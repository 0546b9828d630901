package dispatcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	called := false
	d.Register("playerJoin", func(e Event) error {
		called = true
		return nil
	})

	err := d.Dispatch(Event{Name: "playerJoin", Payload: map[string]any{"id": float64(1)}})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestDispatcher_UnknownEvent(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Name: "nopeEvent"})

	if err == nil {
		t.Error("expected error for unknown event")
	}
}

func TestDispatcher_SetsTimestamp(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got time.Time
	d.Register("playerMove", func(e Event) error {
		got = e.Timestamp
		return nil
	})

	if err := d.Dispatch(Event{Name: "playerMove"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.IsZero() {
		t.Error("expected dispatch to stamp the event")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int64
	done := make(chan struct{})

	d.Register("playerMove", func(e Event) error {
		if processed.Add(1) == 3 {
			close(done)
		}
		return nil
	}, Buffered(10))

	for i := 0; i < 3; i++ {
		if err := d.Dispatch(Event{Name: "playerMove"}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out; processed %d of 3", processed.Load())
	}
}

func TestDispatcher_BufferedPreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	d.Register("playerMove", func(e Event) error {
		mu.Lock()
		order = append(order, e.Payload["seq"].(int))
		if len(order) == 50 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, Buffered(100))

	for i := 0; i < 50; i++ {
		if err := d.Dispatch(Event{Name: "playerMove", Payload: map[string]any{"seq": i}}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for buffered handler")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range order {
		if seq != i {
			t.Fatalf("event %d processed out of order: got seq %d", i, seq)
		}
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register("playerChat", func(e Event) error {
		<-block
		return nil
	}, Buffered(1))

	// First fills the consumer, second fills the buffer; eventually a
	// dispatch must report a full queue.
	var dropErr error
	for i := 0; i < 5; i++ {
		if err := d.Dispatch(Event{Name: "playerChat"}); err != nil {
			dropErr = err
			break
		}
	}
	close(block)

	if dropErr == nil {
		t.Error("expected a queue-full error")
	}
}

func TestDispatcher_Counts(t *testing.T) {
	d, _ := newTestDispatcher(t)

	done := make(chan struct{})
	var handled atomic.Int64
	d.Register("playerMove", func(e Event) error {
		if handled.Add(1) == 2 {
			close(done)
		}
		return nil
	}, Buffered(10))

	for i := 0; i < 2; i++ {
		if err := d.Dispatch(Event{Name: "playerMove"}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for buffered handler")
	}

	// the counter is bumped after the handler returns; poll for it
	deadline := time.Now().Add(2 * time.Second)
	for {
		processed, dropped := d.Counts()
		if processed == 2 && dropped == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("counts = (%d, %d), want (2, 0)", processed, dropped)
		}
		time.Sleep(time.Millisecond)
	}
}
