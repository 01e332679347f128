package web

import (
	"sync"

	"tmagjoy/internal/sensortask"
)

// Frame is one websocket message. Exactly one of Status and Menu is set.
type Frame struct {
	Type   string                `json:"type"`
	Status *sensortask.Status    `json:"status,omitempty"`
	Menu   *sensortask.MenuEvent `json:"menu,omitempty"`
}

const (
	FrameStatus = "status"
	FrameMenu   = "menu"
)

// Broadcaster fans status frames and menu events out to stream listeners.
// It keeps the most recent status frame so new subscribers get an immediate
// sample. Slow subscribers lose frames rather than stall the publisher.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Frame
	nextID   int
	last     Frame
	haveLast bool
	closed   bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Frame)}
}

// Subscribe registers a listener. The channel is closed by Unsubscribe or
// Close.
func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Frame) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Frame, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers reports the number of live listeners.
func (b *Broadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// PublishStatus sends st to every listener and remembers it.
func (b *Broadcaster) PublishStatus(st sensortask.Status) {
	b.publish(Frame{Type: FrameStatus, Status: &st}, true)
}

// PublishMenu sends ev to every listener. Menu events are not replayed.
func (b *Broadcaster) PublishMenu(ev sensortask.MenuEvent) {
	b.publish(Frame{Type: FrameMenu, Menu: &ev}, false)
}

func (b *Broadcaster) publish(f Frame, keep bool) {
	if b == nil {
		return
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send. Every send is non-blocking.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- f:
		default:
		}
	}
	b.mu.RUnlock()
	if keep {
		b.mu.Lock()
		b.last = f
		b.haveLast = true
		b.mu.Unlock()
	}
}

// Close ends every subscription. Later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
