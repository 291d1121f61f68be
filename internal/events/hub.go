// Package events fans live simulation events out to stream subscribers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Event kinds.
const (
	KindStep  = "step"
	KindState = "state"
)

// Event is the envelope written to subscribers.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Message is one encoded event. Payload is the JSON Event envelope.
type Message struct {
	Type    string
	Payload []byte
}

// Subscriber receives messages on C. C is closed when the subscriber falls
// behind, unsubscribes or the hub stops.
type Subscriber struct {
	C    <-chan Message
	send chan Message
}

// Hub is a single-goroutine broadcaster. Publish never blocks the caller;
// events are dropped when the hub is saturated.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan Message
	done       chan struct{}

	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		subs:       make(map[*Subscriber]struct{}),
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for s := range h.subs {
			delete(h.subs, s)
			close(s.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			h.subs[s] = struct{}{}
		case s := <-h.unregister:
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.send)
			}
		case msg := <-h.broadcast:
			for s := range h.subs {
				select {
				case s.send <- msg:
				default:
					log.Debug().Msg("dropping slow event subscriber")
					delete(h.subs, s)
					close(s.send)
				}
			}
		}
	}
}

// Subscribe registers a new subscriber. It returns nil once the hub has
// stopped.
func (h *Hub) Subscribe() *Subscriber {
	ch := make(chan Message, 64)
	s := &Subscriber{C: ch, send: ch}
	select {
	case h.register <- s:
		return s
	case <-h.done:
		return nil
	}
}

// Unsubscribe removes s and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish encodes data as an event of the given kind and queues it.
func (h *Hub) Publish(kind string, data any) {
	b, err := json.Marshal(Event{Type: kind, Time: time.Now().UTC(), Data: data})
	if err != nil {
		log.Warn().Err(err).Str("type", kind).Msg("encoding event")
		return
	}
	select {
	case h.broadcast <- Message{Type: kind, Payload: b}:
	default:
		log.Debug().Str("type", kind).Msg("event hub saturated, dropping event")
	}
}
