package realtime

import (
	"sync"
	"sync/atomic"
	"time"
)

type Table string

const (
	TableClients Table = "clients"
	TableAlerts  Table = "alerts"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeEvent notifies that a row changed. Subscribers do not inspect the
// payload beyond the table; every event triggers a full re-fetch.
type ChangeEvent struct {
	Table  Table     `json:"table"`
	Op     Op        `json:"op"`
	RowID  string    `json:"row_id"`
	At     time.Time `json:"at"`
	Origin string    `json:"origin,omitempty"`
}

// Publisher is the write side of the change feed.
type Publisher interface {
	Publish(ev ChangeEvent)
}

// Feed is the read side of the change feed.
type Feed interface {
	Subscribe(tables ...Table) (uint64, <-chan ChangeEvent)
	Unsubscribe(id uint64)
}

type subscriber struct {
	ch     chan ChangeEvent
	tables map[Table]bool
}

type Broadcaster struct {
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	bufferSize  int
	mu          sync.RWMutex
}

func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Broadcaster{
		subscribers: make(map[uint64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers for changes on the given tables. No tables means all.
func (b *Broadcaster) Subscribe(tables ...Table) (uint64, <-chan ChangeEvent) {
	id := b.nextID.Add(1)
	sub := &subscriber{
		ch:     make(chan ChangeEvent, b.bufferSize),
		tables: make(map[Table]bool, len(tables)),
	}
	for _, t := range tables {
		sub.tables[t] = true
	}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if len(sub.tables) > 0 && !sub.tables[ev.Table] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing their readers to exit
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
