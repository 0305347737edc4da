// Package sse implements a Server-Sent Events broker that tells clients when
// vault files change.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"
)

// Event types emitted for vault changes.
const (
	TypeFileCreated  = "vault.file.created"
	TypeFileUpdated  = "vault.file.updated"
	TypeFileDeleted  = "vault.file.deleted"
	TypeVaultChanged = "vault.changed"
)

const (
	// heartbeat keeps idle connections open through proxies.
	heartbeat   = 30 * time.Second
	retryMillis = 3000
	clientQueue = 64
)

// Event is one message on the stream. Folder scopes vault.file.* events to
// subscribers of that folder; every other type reaches all subscribers.
type Event struct {
	Type   string
	Folder string
	Data   any
}

// FileEvent is the payload of vault.file.* events.
type FileEvent struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Folder string `json:"folder"`
}

// ChangedEvent is the payload of vault.changed. Changes counts file events
// since the previous vault.changed.
type ChangedEvent struct {
	Changes int `json:"changes"`
}

// Subscription is one connected client. Messages arrive on C, already
// framed for the wire; C is closed when the subscription ends.
type Subscription struct {
	C      <-chan []byte
	ch     chan []byte
	folder string
}

func (s *Subscription) wants(event Event) bool {
	if s.folder == "" || !isFileEvent(event.Type) {
		return true
	}
	return event.Folder == s.folder || strings.HasPrefix(event.Folder, s.folder+"/")
}

// Broker fans vault events out to subscribers.
//
// A single internal event loop owns the subscriber set, the event counter and
// the throttle state. Public methods talk to it over channels.
type Broker struct {
	changedMin time.Duration

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one vault.changed event per
// throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		changedMin:    throttle,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func frame(id uint64, event Event) ([]byte, error) {
	data := event.Data
	if data == nil {
		data = struct{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[*Subscription]struct{})
	var (
		nextID      uint64
		lastChanged time.Time
		pending     int
	)

	broadcast := func(event Event) {
		nextID++
		msg, err := frame(nextID, event)
		if err != nil {
			return
		}
		for s := range subs {
			if !s.wants(event) {
				continue
			}
			select {
			case s.ch <- msg:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s] = struct{}{}

		case s := <-b.unsubscribeCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case event := <-b.publishCh:
			broadcast(event)
			if !isFileEvent(event.Type) {
				continue
			}
			pending++
			now := time.Now()
			if now.Sub(lastChanged) >= b.changedMin {
				lastChanged = now
				broadcast(Event{Type: TypeVaultChanged, Data: ChangedEvent{Changes: pending}})
				pending = 0
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the event loop and ends every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client interested in folder and its subfolders. An empty
// folder receives everything.
func (b *Broker) Subscribe(folder string) *Subscription {
	ch := make(chan []byte, clientQueue)
	s := &Subscription{C: ch, ch: ch, folder: strings.Trim(folder, "/")}
	if b.closed.Load() {
		close(ch)
		return s
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- s:
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

// Publish sends an event to every interested client.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishFileEvent publishes a change to the note at rel (kind is created,
// updated or deleted) followed by a throttled vault.changed event. Unknown
// kinds are ignored.
func (b *Broker) PublishFileEvent(kind, rel string) {
	typ, ok := fileEventType(kind)
	if !ok {
		return
	}
	folder := path.Dir(rel)
	if folder == "." {
		folder = ""
	}
	b.Publish(Event{
		Type:   typ,
		Folder: folder,
		Data: FileEvent{
			Path:   rel,
			Name:   strings.TrimSuffix(path.Base(rel), path.Ext(rel)),
			Folder: folder,
		},
	})
}

func fileEventType(kind string) (string, bool) {
	switch kind {
	case "created":
		return TypeFileCreated, true
	case "updated":
		return TypeFileUpdated, true
	case "deleted":
		return TypeFileDeleted, true
	}
	return "", false
}

func isFileEvent(typ string) bool {
	return strings.HasPrefix(typ, "vault.file.")
}

// ServeHTTP is the SSE endpoint handler (GET /vault/events?folder=...).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get("folder"))
	defer b.Unsubscribe(sub)

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
