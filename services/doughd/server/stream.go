package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"dough/core/events"
	"dough/services/doughd/api"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultSubscriber = 64
)

// Broadcaster fans committed events out to WebSocket subscribers. Slow
// subscribers drop events rather than stall the executor.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan api.Event]struct{}
	buffer int
	closed bool
}

// NewBroadcaster constructs a broadcaster with the given per-subscriber
// buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriber
	}
	return &Broadcaster{subs: make(map[chan api.Event]struct{}), buffer: buffer}
}

// Emit implements events.Emitter.
func (b *Broadcaster) Emit(ev events.Event) {
	if b == nil || ev == nil {
		return
	}
	evt := ev.Event()
	if evt == nil {
		return
	}
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	msg := api.Event{Type: evt.Type, Attributes: attrs}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// once the subscriber is done.
func (b *Broadcaster) Subscribe() (<-chan api.Event, func()) {
	ch := make(chan api.Event, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// handleEvents streams committed events. The optional ?types= query keeps
// only the listed event types.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := make(map[string]struct{})
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.stream.Subscribe()
	defer cancel()
	if err := streamEvents(ctx, conn, updates, filter); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan api.Event, filter map[string]struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			if len(filter) > 0 {
				if _, keep := filter[ev.Type]; !keep {
					continue
				}
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
