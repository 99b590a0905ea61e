// Package eventloop provides an event loop which is widely used by the modules.
// The decision pipeline of the consensus core is driven entirely by handlers
// registered on the event loop, which keeps commit processing single-threaded
// and strictly ordered.
//
// Handlers are registered per event type. A handler registered with the
// Prioritize option runs before the regular handlers for the same event type.
package eventloop

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// EventHandler processes an event.
type EventHandler func(event any)

type handlerOpts struct {
	priority bool
}

// HandlerOption sets configuration options for event handlers.
type HandlerOption func(*handlerOpts)

// Prioritize instructs the event loop to run the handler before handlers that
// do not have priority. It should only be used if you must look at an event
// before other handlers get to look at it.
func Prioritize() HandlerOption {
	return func(ho *handlerOpts) {
		ho.priority = true
	}
}

type handler struct {
	callback EventHandler
	opts     handlerOpts
}

type ticker struct {
	interval time.Duration
	callback func(time.Time) any
	cancel   context.CancelFunc
}

type startTickerEvent struct {
	tickerID int
}

// EventLoop accepts events of any type and executes registered event handlers.
type EventLoop struct {
	eventQ queue

	mut sync.Mutex // protects the following:

	ctx context.Context // set by Run

	handlers map[reflect.Type][]handler

	tickers  map[int]*ticker
	tickerID int
}

// New returns a new event loop with the requested buffer size.
func New(bufferSize uint) *EventLoop {
	return &EventLoop{
		ctx:      context.Background(),
		eventQ:   newQueue(bufferSize),
		handlers: make(map[reflect.Type][]handler),
		tickers:  make(map[int]*ticker),
	}
}

// RegisterHandler registers the given event handler for the given event type.
func (el *EventLoop) RegisterHandler(eventType any, callback EventHandler, opts ...HandlerOption) {
	h := handler{callback: callback}
	for _, opt := range opts {
		opt(&h.opts)
	}

	el.mut.Lock()
	defer el.mut.Unlock()
	t := reflect.TypeOf(eventType)
	el.handlers[t] = append(el.handlers[t], h)
}

// AddEvent adds an event to the event queue.
func (el *EventLoop) AddEvent(event any) {
	if event != nil {
		el.eventQ.push(event)
	}
}

// Context returns the context associated with the event loop.
// Usually, this context will be the one passed to Run.
func (el *EventLoop) Context() context.Context {
	el.mut.Lock()
	defer el.mut.Unlock()
	return el.ctx
}

func (el *EventLoop) setContext(ctx context.Context) {
	el.mut.Lock()
	defer el.mut.Unlock()
	el.ctx = ctx
}

// Run runs the event loop. A context object can be provided to stop the event loop.
func (el *EventLoop) Run(ctx context.Context) {
	el.setContext(ctx)

loop:
	for {
		event, ok := el.eventQ.pop()
		if !ok {
			select {
			case <-el.eventQ.ready():
				continue loop
			case <-ctx.Done():
				break loop
			}
		}
		if e, ok := event.(startTickerEvent); ok {
			el.startTicker(e.tickerID)
			continue
		}
		el.processEvent(event)
	}

	// handle the events that were in the queue when the context was
	// canceled before quitting.
	l := el.eventQ.len()
	for i := 0; i < l; i++ {
		event, _ := el.eventQ.pop()
		el.processEvent(event)
	}
}

// Tick processes a single event. Returns true if an event was handled.
func (el *EventLoop) Tick(ctx context.Context) bool {
	el.setContext(ctx)

	event, ok := el.eventQ.pop()
	if !ok {
		return false
	}

	if e, ok := event.(startTickerEvent); ok {
		el.startTicker(e.tickerID)
	} else {
		el.processEvent(event)
	}

	return true
}

// processEvent dispatches the event to the correct handlers.
func (el *EventLoop) processEvent(event any) {
	t := reflect.TypeOf(event)

	// Must copy handlers to a list so that they can be executed after
	// unlocking the mutex. There should be few handlers per event type.
	var priorityList, handlerList []EventHandler

	el.mut.Lock()
	for _, handler := range el.handlers[t] {
		if handler.opts.priority {
			priorityList = append(priorityList, handler.callback)
		} else {
			handlerList = append(handlerList, handler.callback)
		}
	}
	el.mut.Unlock()

	for _, callback := range priorityList {
		callback(event)
	}
	for _, callback := range handlerList {
		callback(event)
	}
}

// AddTicker adds a ticker with the given interval and returns the ticker id.
// The ticker will send the event returned by callback onto the event loop at
// regular intervals.
func (el *EventLoop) AddTicker(interval time.Duration, callback func(tick time.Time) any) int {
	el.mut.Lock()

	id := el.tickerID
	el.tickerID++

	t := &ticker{
		interval: interval,
		callback: callback,
		cancel:   func() {}, // initialized in startTicker
	}
	el.tickers[id] = t

	el.mut.Unlock()

	// We want the ticker to be started from the event loop goroutine,
	// so we send a startTickerEvent instead of starting it here.
	el.eventQ.push(startTickerEvent{id})

	return id
}

// RemoveTicker removes the ticker with the given id.
// If the ticker was removed, RemoveTicker will return true.
func (el *EventLoop) RemoveTicker(id int) bool {
	el.mut.Lock()
	defer el.mut.Unlock()

	t, ok := el.tickers[id]
	if !ok {
		return false
	}
	t.cancel()
	delete(el.tickers, id)
	return true
}

func (el *EventLoop) startTicker(id int) {
	// lock the mutex such that the ticker cannot be removed until we have
	// started it
	el.mut.Lock()
	defer el.mut.Unlock()
	t, ok := el.tickers[id]
	if !ok {
		return
	}

	// run the ticker in a goroutine
	ctx, cancel := context.WithCancel(el.ctx)
	t.cancel = cancel
	go func(ctx context.Context, t *ticker) {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case tick := <-ticker.C:
				el.AddEvent(t.callback(tick))
			case <-ctx.Done():
				return
			}
		}
	}(ctx, t)
}
