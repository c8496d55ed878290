// ABOUTME: Bounded TTL log of (message, stream handle) deliveries
// ABOUTME: Guarantees a message is written to any one live handle at most once

package messaging

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultDeliveryTTL     = 10 * time.Minute
	defaultDeliveryMaxSize = 10000
)

type deliveryEntry struct {
	key string
	at  time.Time
}

// deliveryLog remembers recent deliveries. Entries are kept in insertion
// order, so expired entries are always at the front and are dropped lazily
// on the next mark.
type deliveryLog struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

func newDeliveryLog(ttl time.Duration, maxSize int) *deliveryLog {
	return &deliveryLog{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func deliveryKey(messageID, handleID string) string {
	return messageID + "|" + handleID
}

// markFirst records the delivery and reports whether it was the first one
// for this message and handle. Check and mark happen under one lock.
func (l *deliveryLog) markFirst(messageID, handleID string) bool {
	key := deliveryKey(messageID, handleID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked(now)

	if _, ok := l.entries[key]; ok {
		return false
	}

	if len(l.entries) >= l.maxSize {
		l.removeLocked(l.order.Front())
	}
	l.entries[key] = l.order.PushBack(&deliveryEntry{key: key, at: now})
	return true
}

func (l *deliveryLog) expireLocked(now time.Time) {
	for front := l.order.Front(); front != nil; front = l.order.Front() {
		entry := front.Value.(*deliveryEntry)
		if now.Sub(entry.at) < l.ttl {
			return
		}
		l.removeLocked(front)
	}
}

func (l *deliveryLog) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := elem.Value.(*deliveryEntry)
	l.order.Remove(elem)
	delete(l.entries, entry.key)
}

func (l *deliveryLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
