// Package archive ships chat transcripts to object storage. The sink
// is strictly best effort: it never blocks the relay, and a failed
// upload drops the batch rather than back-pressuring the room.
package archive

import (
	"context"

	"github.com/parley-chat/parley/pkg/protocol"
)

// Sink consumes chat messages for archival.
type Sink interface {
	// Offer hands a message to the sink without blocking. It reports
	// whether the message was accepted.
	Offer(m *protocol.Message) bool

	// Close flushes buffered messages and stops the sink.
	Close(ctx context.Context) error
}

// Record is one transcript line. Batches are serialized as ndjson, one
// record per line.
type Record struct {
	Kind   string `json:"kind"`
	Sender string `json:"sender,omitempty"`
	Body   string `json:"body"`
	Time   int64  `json:"time"` // Unix milliseconds
}

func recordFor(m *protocol.Message) Record {
	return Record{
		Kind:   m.Kind.String(),
		Sender: m.Sender,
		Body:   m.Body,
		Time:   int64(m.Time),
	}
}
