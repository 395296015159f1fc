// Package sse implements a Server-Sent Events broker pushing slot and
// state changes to connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// slotEvent is an internal request to broadcast a slot change.
type slotEvent struct {
	typ  string // "updated", "deleted", "evaluated"
	slot string
	kind string // record kind name, set for "evaluated" only
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns
// mutable state (clients + digest throttle timestamp). Public methods
// communicate with this loop through channels, so no mutexes are
// required.
type Broker struct {
	digestMin time.Duration
	onClients func(int)

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	slotEventCh   chan slotEvent
	stateEventCh  chan string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option adjusts broker construction.
type Option func(*Broker)

// WithClientCountFunc registers a callback invoked from the broker loop
// whenever the connected client count changes.
func WithClientCountFunc(fn func(int)) Option {
	return func(b *Broker) { b.onClients = fn }
}

// NewBroker creates a broker. digestThrottle bounds how often the
// aggregate slots.digest event may fire.
func NewBroker(digestThrottle time.Duration, opts ...Option) *Broker {
	if digestThrottle <= 0 {
		digestThrottle = 2 * time.Second
	}

	b := &Broker{
		digestMin:     digestThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		slotEventCh:   make(chan slotEvent, 256),
		stateEventCh:  make(chan string, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastDigest time.Time

	countChanged := func() {
		if b.onClients != nil {
			b.onClients(len(clients))
		}
	}

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			clients = map[chan []byte]struct{}{}
			countChanged()
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			countChanged()

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				countChanged()
			}

		case event := <-b.publishCh:
			broadcast(event)

		case ev := <-b.slotEventCh:
			data := map[string]string{"slot": ev.slot}
			switch ev.typ {
			case "updated":
				broadcast(Event{Type: "slot.updated", Data: data})
			case "deleted":
				broadcast(Event{Type: "slot.deleted", Data: data})
			case "evaluated":
				data["kind"] = ev.kind
				broadcast(Event{Type: "slot.evaluated", Data: data})
			}

			now := time.Now()
			if now.Sub(lastDigest) >= b.digestMin {
				lastDigest = now
				broadcast(Event{Type: "slots.digest", Data: map[string]string{}})
			}

		case key := <-b.stateEventCh:
			broadcast(Event{Type: "state.changed", Data: map[string]string{"key": key}})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an arbitrary event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishSlotUpdated broadcasts that a slot's stored record changed,
// plus a throttled slots.digest.
func (b *Broker) PublishSlotUpdated(slotID string) {
	b.publishSlot(slotEvent{typ: "updated", slot: slotID})
}

// PublishSlotDeleted broadcasts that a slot was removed, plus a
// throttled slots.digest.
func (b *Broker) PublishSlotDeleted(slotID string) {
	b.publishSlot(slotEvent{typ: "deleted", slot: slotID})
}

// PublishSlotEvaluated broadcasts a fresh evaluation snapshot for a
// slot; kind names the snapshot's record kind.
func (b *Broker) PublishSlotEvaluated(slotID, kind string) {
	b.publishSlot(slotEvent{typ: "evaluated", slot: slotID, kind: kind})
}

func (b *Broker) publishSlot(ev slotEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.slotEventCh <- ev:
	case <-b.stopped:
	}
}

// PublishStateChanged broadcasts a state store key change.
func (b *Broker) PublishStateChanged(key string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.stateEventCh <- key:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
