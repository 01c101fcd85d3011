package events

import (
	"sync"
)

// Subscriber receives events from a Bus.
type Subscriber interface {
	// ID returns the unique subscriber identifier.
	ID() string

	// Kinds returns the event kinds this subscriber wants. An empty slice
	// subscribes to everything.
	Kinds() []Kind

	// OnEvent is called on the dispatch goroutine for each matching event.
	OnEvent(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc struct {
	Name   string
	Filter []Kind
	Fn     func(Event)
}

func (s SubscriberFunc) ID() string      { return s.Name }
func (s SubscriberFunc) Kinds() []Kind   { return s.Filter }
func (s SubscriberFunc) OnEvent(e Event) { s.Fn(e) }

// Bus fans events out to subscribers on a dedicated dispatch goroutine. It
// implements Sink, so the engine can publish without knowing who listens.
// Emit never blocks: when the buffer is full the event is dropped and
// counted.
type Bus struct {
	mu        sync.RWMutex
	byKind    map[Kind][]Subscriber
	wildcards []Subscriber
	closed    bool

	buffer  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	started sync.Once

	dropMu  sync.Mutex
	dropped uint64
}

// NewBus creates a bus with the given buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Bus{
		byKind: make(map[Kind][]Subscriber),
		buffer: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Emit implements Sink. Events published after Close are dropped.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.buffer <- e:
	default:
		b.dropMu.Lock()
		b.dropped++
		b.dropMu.Unlock()
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped
}

// Subscribe registers a subscriber.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	kinds := sub.Kinds()
	if len(kinds) == 0 {
		b.wildcards = append(b.wildcards, sub)
		return
	}
	for _, kind := range kinds {
		b.byKind[kind] = append(b.byKind[kind], sub)
	}
}

// Unsubscribe removes a subscriber by id.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcards = filterSubs(b.wildcards, subscriberID)
	for kind, subs := range b.byKind {
		b.byKind[kind] = filterSubs(subs, subscriberID)
	}
}

func filterSubs(subs []Subscriber, id string) []Subscriber {
	filtered := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ID() != id {
			filtered = append(filtered, sub)
		}
	}
	return filtered
}

// Start launches the dispatch goroutine. Safe to call once; later calls are
// no-ops.
func (b *Bus) Start() {
	b.started.Do(func() {
		b.wg.Add(1)
		go b.dispatch()
	})
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.buffer:
			b.deliver(e)
		case <-b.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case e := <-b.buffer:
					b.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcards {
		sub.OnEvent(e)
	}
	for _, sub := range b.byKind[e.Kind] {
		sub.OnEvent(e)
	}
}

// Close stops accepting events, drains the buffer, and waits for dispatch
// to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}
