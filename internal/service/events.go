package service

import "sync"

// Event types pushed to hosts when a directive asks for a side effect
const (
	EventLocateMe          = "locate_me"
	EventCenterMap         = "center_map"
	EventOpenComplaintForm = "open_complaint_form"
	EventNavigate          = "navigate"
)

// Event is a host side effect requested by the assistant
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Bus fans session events out to subscribers. Slow subscribers lose events
// rather than blocking the assistant.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. Call the returned func to leave.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends every subscription
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Collector gathers events for the duration of one request
type Collector struct {
	ch     <-chan Event
	cancel func()
}

// Collect subscribes until Drain is called
func (b *Bus) Collect() *Collector {
	ch, cancel := b.Subscribe(32)
	return &Collector{ch: ch, cancel: cancel}
}

// Drain unsubscribes and returns what arrived
func (c *Collector) Drain() []Event {
	c.cancel()
	var out []Event
	for e := range c.ch {
		out = append(out, e)
	}
	return out
}
