package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parley-chat/parley/internal/telemetry"
	"github.com/parley-chat/parley/pkg/protocol"
)

// Recorder receives a copy of every chat message that passes through the
// hub. Offer must not block; it reports whether the message was accepted.
type Recorder interface {
	Offer(m *protocol.Message) bool
}

// DeliveryReport summarizes one broadcast fan-out.
type DeliveryReport struct {
	// Delivered is the number of sessions whose queue accepted the frame.
	Delivered int

	// Failed is the number of sessions that could not accept the frame
	// (queue full or already closed). Failed sessions are scheduled for
	// removal; their teardown runs in their own goroutine.
	Failed int

	// Skipped is the number of sessions excluded from the fan-out.
	Skipped int
}

// HubOptions carries optional hub collaborators.
type HubOptions struct {
	// Recorder receives chat messages for archival. May be nil.
	Recorder Recorder

	// Metrics receives delivery counters. May be nil.
	Metrics *telemetry.Metrics
}

// Hub fans messages out to registered sessions.
//
// The hub never owns sessions and never writes to a transport directly:
// it borrows registry snapshots and enqueues to each session's bounded
// outbound queue. A recipient that cannot accept a frame is closed and
// left for its own read loop to tear down, so one stalled client cannot
// block delivery to the rest.
type Hub struct {
	registry *Registry
	history  *History
	recorder Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewHub creates a hub over the given registry. history may be nil to
// disable replay buffering.
func NewHub(registry *Registry, history *History, logger *slog.Logger) *Hub {
	return NewHubWithOptions(registry, history, logger, nil)
}

// NewHubWithOptions creates a hub with optional collaborators wired in.
func NewHubWithOptions(registry *Registry, history *History, logger *slog.Logger, opts *HubOptions) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		registry: registry,
		history:  history,
		logger:   logger.With("component", "hub"),
	}
	if opts != nil {
		h.recorder = opts.Recorder
		h.metrics = opts.Metrics
	}
	return h
}

// Broadcast delivers msg to every registered session except excludeID.
// Pass an empty excludeID to deliver to everyone.
//
// Delivery is an enqueue, not a write: each session's writer goroutine
// drains its queue under its own write deadline. Enqueue failures are
// counted, the failing session is closed, and the fan-out continues, so
// a broadcast never returns an error.
func (h *Hub) Broadcast(ctx context.Context, msg *protocol.Message, excludeID string) DeliveryReport {
	start := time.Now()
	_, span := telemetry.StartSpan(ctx, "relay.broadcast",
		telemetry.AttrKind.String(msg.Kind.String()),
	)

	if msg.Kind == protocol.KindChat {
		if h.history != nil {
			h.history.Push(msg)
		}
		if h.recorder != nil {
			h.recorder.Offer(msg)
		}
	}

	// Encode once; every recipient gets the same frame and the frame is
	// immutable after Enqueue.
	frame := msg.Frame()

	var report DeliveryReport
	sessions := h.registry.Snapshot()
	span.SetAttributes(telemetry.AttrFanout.Int(len(sessions)))

	for _, s := range sessions {
		if excludeID != "" && s.ID == excludeID {
			report.Skipped++
			continue
		}
		if err := s.Enqueue(frame); err != nil {
			report.Failed++
			h.handleDeliveryFailure(s, msg.Kind, err)
			continue
		}
		report.Delivered++
	}

	h.metrics.RecordMessage(msg.Kind.String())
	h.metrics.ObserveBroadcast(time.Since(start))

	span.SetAttributes(
		telemetry.AttrDelivered.Int(report.Delivered),
		telemetry.AttrFailed.Int(report.Failed),
	)
	telemetry.EndSpan(span, nil)

	if report.Failed > 0 {
		h.logger.Warn("broadcast completed with failures",
			"kind", msg.Kind.String(),
			"delivered", report.Delivered,
			"failed", report.Failed,
			"skipped", report.Skipped)
	} else {
		h.logger.Debug("broadcast completed",
			"kind", msg.Kind.String(),
			"delivered", report.Delivered,
			"skipped", report.Skipped)
	}

	return report
}

// handleDeliveryFailure records a failed enqueue and schedules the
// recipient for removal. Closing the conn makes the session's read loop
// fail, which runs the normal deregister-and-announce teardown in that
// session's goroutine rather than in the broadcast path.
func (h *Hub) handleDeliveryFailure(s *Session, kind protocol.Kind, err error) {
	reason := "closed"
	if errors.Is(err, ErrOutboxFull) {
		reason = "queue_full"
	}
	h.metrics.RecordDeliveryFailure(reason)
	h.logger.Warn("delivery failed, evicting session",
		"client_id", s.ID,
		"name", s.Name,
		"kind", kind.String(),
		"reason", reason)
	s.Close()
}
