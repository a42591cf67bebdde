// Package display carries formatted time from the timekeeping loop to the
// goroutine that owns rendering.
package display

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot, latest-value channel. Publish never blocks: an
// unread value is replaced by the newer one. The consumer therefore sees a
// subsequence of the published values, in publication order.
type Mailbox struct {
	mu       sync.Mutex
	slot     chan string
	replaced atomic.Uint64
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		slot: make(chan string, 1),
	}
}

// Publish stores text for the consumer, replacing any value it has not read
// yet.
func (m *Mailbox) Publish(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		select {
		case m.slot <- text:
			return
		default:
		}
		select {
		case <-m.slot:
			m.replaced.Add(1)
		default:
		}
	}
}

// Updates returns the channel the consumer drains.
func (m *Mailbox) Updates() <-chan string {
	return m.slot
}

// Replaced returns how many values were overwritten before being read.
func (m *Mailbox) Replaced() uint64 {
	return m.replaced.Load()
}
