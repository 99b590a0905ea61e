package eventloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/relab/dagbft/eventloop"
)

type testEvent int

func TestHandler(t *testing.T) {
	el := eventloop.New(10)
	c := make(chan any)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- event
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	want := testEvent(42)
	el.AddEvent(want)

	var event any
	select {
	case <-ctx.Done():
		t.Fatal("timed out")
	case event = <-c:
	}

	e, ok := event.(testEvent)
	if !ok {
		t.Fatalf("wrong type for event: got: %T, want: %T", event, want)
	}

	if e != want {
		t.Fatalf("wrong value for event: got: %v, want: %v", e, want)
	}
}

func TestPrioritizedHandlerRunsFirst(t *testing.T) {
	type eventData struct {
		event    any
		priority bool
	}

	el := eventloop.New(10)
	c := make(chan eventData)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- eventData{event: event, priority: false}
	})
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- eventData{event: event, priority: true}
	}, eventloop.Prioritize())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	want := testEvent(42)
	el.AddEvent(want)

	for i := 0; i < 2; i++ {
		var data eventData
		select {
		case <-ctx.Done():
			t.Fatal("timed out")
		case data = <-c:
		}

		if i == 0 && !data.priority {
			t.Fatalf("expected the prioritized handler to run first")
		}

		if i == 1 && data.priority {
			t.Fatalf("expected the regular handler to run second")
		}

		e, ok := data.event.(testEvent)
		if !ok {
			t.Fatalf("wrong type for event: got: %T, want: %T", data.event, want)
		}

		if e != want {
			t.Fatalf("wrong value for event: got: %v, want: %v", e, want)
		}
	}
}

func TestTick(t *testing.T) {
	el := eventloop.New(10)
	count := 0
	el.RegisterHandler(testEvent(0), func(any) {
		count++
	})

	ctx := context.Background()
	if el.Tick(ctx) {
		t.Error("Tick returned true on an empty queue")
	}

	el.AddEvent(testEvent(1))
	el.AddEvent(testEvent(2))
	for el.Tick(ctx) {
	}
	if count != 2 {
		t.Errorf("handled %d events, want 2", count)
	}
}

func TestTicker(t *testing.T) {
	el := eventloop.New(10)
	c := make(chan any, 100)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- event
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	id := el.AddTicker(10*time.Millisecond, func(tick time.Time) (event any) { return testEvent(1) })

	// wait for a few ticks to arrive
	for i := 0; i < 3; i++ {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for ticks")
		case <-c:
		}
	}

	if !el.RemoveTicker(id) {
		t.Error("RemoveTicker returned false for a registered ticker")
	}
	if el.RemoveTicker(id) {
		t.Error("RemoveTicker returned true for a removed ticker")
	}
}

func TestRunDrainsQueueOnCancel(t *testing.T) {
	el := eventloop.New(10)
	count := 0
	el.RegisterHandler(testEvent(0), func(any) {
		count++
	})

	el.AddEvent(testEvent(1))
	el.AddEvent(testEvent(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	el.Run(ctx)

	if count != 2 {
		t.Errorf("handled %d events after cancelation, want 2", count)
	}
}
