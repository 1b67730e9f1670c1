package relay

import (
	"sync"

	"github.com/parley-chat/parley/pkg/protocol"
)

// History is a bounded in-memory buffer of recent broadcast messages,
// replayed to newly admitted clients. Oldest entries are dropped once
// the capacity is reached. Nothing here survives a restart.
type History struct {
	mu      sync.Mutex
	max     int
	entries []*protocol.Message
}

// NewHistory creates a history buffer holding at most max messages.
// A max of 0 (or less) disables retention entirely.
func NewHistory(max int) *History {
	if max < 0 {
		max = 0
	}
	return &History{
		max:     max,
		entries: make([]*protocol.Message, 0, max),
	}
}

// Push appends a message, evicting the oldest entry when full.
func (h *History) Push(m *protocol.Message) {
	if h.max == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) >= h.max {
		h.entries = h.entries[1:]
	}
	h.entries = append(h.entries, m)
}

// Tail returns up to n most recent messages, oldest first. n <= 0
// returns everything retained.
func (h *History) Tail(n int) []*protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]*protocol.Message, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
