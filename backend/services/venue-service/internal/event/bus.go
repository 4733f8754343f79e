package event

import (
	"strings"
	"sync"
)

const (
	TableUpdated     = "table.updated"
	TableRemoved     = "table.removed"
	SessionFinalized = "session.finalized"
	BonusExhausted   = "bonus.exhausted"
	ShiftOpened      = "shift.opened"
	ShiftClosed      = "shift.closed"
)

// BonusExhaustedPayload is published when the watchdog pauses a bonus-funded table.
type BonusExhaustedPayload struct {
	TableID string `json:"table_id"`
	Spent   string `json:"spent"`
}

// TableRemovedPayload is published when a table is deleted.
type TableRemovedPayload struct {
	TableID string `json:"table_id"`
}

// Bus fans events out to subscribers. Each subscriber has its own queue and
// sees events in publish order; subscribers do not block one another.
type Bus struct {
	handlers sync.Map
	mu       sync.Mutex
	inflight sync.WaitGroup
}

type subscriber struct {
	handle func(payload any)

	mu       sync.Mutex
	queue    []any
	draining bool
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(event string, handler func(payload any)) {
	if b == nil || handler == nil {
		return
	}

	name := strings.TrimSpace(event)
	if name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := make([]*subscriber, 0, 1)
	if current, ok := b.handlers.Load(name); ok {
		if casted, valid := current.([]*subscriber); valid {
			subs = append(subs, casted...)
		}
	}
	subs = append(subs, &subscriber{handle: handler})
	b.handlers.Store(name, subs)
}

func (b *Bus) Publish(event string, payload any) {
	if b == nil {
		return
	}

	current, ok := b.handlers.Load(strings.TrimSpace(event))
	if !ok {
		return
	}
	subs, ok := current.([]*subscriber)
	if !ok {
		return
	}

	for _, sub := range subs {
		b.inflight.Add(1)
		sub.mu.Lock()
		sub.queue = append(sub.queue, payload)
		start := !sub.draining
		sub.draining = true
		sub.mu.Unlock()
		if start {
			go b.drain(sub)
		}
	}
}

// drain runs queued payloads one at a time and exits once the queue is empty.
func (b *Bus) drain(sub *subscriber) {
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.draining = false
			sub.mu.Unlock()
			return
		}
		payload := sub.queue[0]
		sub.queue[0] = nil
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.handle(payload)
		b.inflight.Done()
	}
}

// Wait blocks until every event published so far has been handled.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}
