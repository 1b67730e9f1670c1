package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

type fakeRecorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (f *fakeRecorder) Offer(m *protocol.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return true
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

// hubFixture registers n admitted sessions whose writers are not
// running, so broadcast frames stay queued on each outbox.
func hubFixture(t *testing.T, n int) (*Hub, *Registry, []*Session) {
	t.Helper()
	registry := NewRegistry(testLogger())
	sessions := make([]*Session, 0, n)
	names := []string{"alice", "bob", "carol", "dave", "erin"}
	for i := 0; i < n; i++ {
		sess, _ := newPipeSession(t, "id-"+names[i], names[i])
		if err := registry.Register(sess); err != nil {
			t.Fatalf("Register(%s) error: %v", names[i], err)
		}
		sessions = append(sessions, sess)
	}
	return NewHub(registry, nil, testLogger()), registry, sessions
}

func TestHubBroadcastDeliversToAll(t *testing.T) {
	hub, _, sessions := hubFixture(t, 3)

	msg := &protocol.Message{Kind: protocol.KindJoin, Sender: "dave", Time: uint64(time.Now().UnixMilli())}
	report := hub.Broadcast(context.Background(), msg, "")

	if report.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", report.Delivered)
	}
	if report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("Failed/Skipped = %d/%d, want 0/0", report.Failed, report.Skipped)
	}

	for _, sess := range sessions {
		select {
		case f := <-sess.outbox:
			if f.Type != protocol.FrameJoin {
				t.Errorf("queued frame type = %v, want %v", f.Type, protocol.FrameJoin)
			}
		default:
			t.Errorf("session %s has empty outbox", sess.Name)
		}
	}
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub, _, sessions := hubFixture(t, 3)
	sender := sessions[1]

	msg := protocol.NewChat(sender.Name, "hi there", time.Now())
	report := hub.Broadcast(context.Background(), msg, sender.ID)

	if report.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if len(sender.outbox) != 0 {
		t.Error("sender must not receive its own chat back")
	}
	for _, sess := range sessions {
		if sess == sender {
			continue
		}
		if len(sess.outbox) != 1 {
			t.Errorf("session %s outbox len = %d, want 1", sess.Name, len(sess.outbox))
		}
	}
}

func TestHubBroadcastFailureIsolation(t *testing.T) {
	registry := NewRegistry(testLogger())

	config := DefaultSessionConfig().Clone()
	config.OutboxSize = 1
	victim, _ := newPipeSessionWithConfig(t, "id-victim", "victim", config)
	healthy, _ := newPipeSession(t, "id-healthy", "healthy")
	for _, sess := range []*Session{victim, healthy} {
		if err := registry.Register(sess); err != nil {
			t.Fatalf("Register() error: %v", err)
		}
	}
	hub := NewHub(registry, nil, testLogger())

	// Fill the victim's queue so the broadcast enqueue fails.
	if err := victim.Enqueue(protocol.NewFrame(protocol.FrameSystem, nil)); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	msg := protocol.NewChat("someone", "overflow", time.Now())
	report := hub.Broadcast(context.Background(), msg, "")

	if report.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", report.Delivered)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
	if !victim.closed.Load() {
		t.Error("failed recipient should be closed for removal")
	}
	if healthy.closed.Load() {
		t.Error("healthy recipient must be unaffected")
	}
	if len(healthy.outbox) != 1 {
		t.Errorf("healthy outbox len = %d, want 1", len(healthy.outbox))
	}
}

func TestHubBroadcastClosedSession(t *testing.T) {
	hub, _, sessions := hubFixture(t, 2)
	sessions[0].Close()

	msg := protocol.NewChat("someone", "hello", time.Now())
	report := hub.Broadcast(context.Background(), msg, "")

	if report.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", report.Delivered)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
}

func TestHubBroadcastEmptyRegistry(t *testing.T) {
	registry := NewRegistry(testLogger())
	hub := NewHub(registry, nil, testLogger())

	report := hub.Broadcast(context.Background(), protocol.NewSystem("anyone?", time.Now()), "")
	if report.Delivered != 0 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report = %+v, want all zero", report)
	}
}

func TestHubHistoryTee(t *testing.T) {
	registry := NewRegistry(testLogger())
	history := NewHistory(10)
	hub := NewHub(registry, history, testLogger())

	hub.Broadcast(context.Background(), protocol.NewChat("alice", "kept", time.Now()), "")
	join := &protocol.Message{Kind: protocol.KindJoin, Sender: "bob", Time: uint64(time.Now().UnixMilli())}
	hub.Broadcast(context.Background(), join, "")

	// Only chat lands in history; announcements are transient.
	if history.Len() != 1 {
		t.Fatalf("history Len() = %d, want 1", history.Len())
	}
	if got := history.Tail(0)[0].Body; got != "kept" {
		t.Errorf("history entry Body = %q, want %q", got, "kept")
	}
}

func TestHubRecorderTee(t *testing.T) {
	registry := NewRegistry(testLogger())
	rec := &fakeRecorder{}
	hub := NewHubWithOptions(registry, nil, testLogger(), &HubOptions{Recorder: rec})

	hub.Broadcast(context.Background(), protocol.NewChat("alice", "archived", time.Now()), "")
	leave := &protocol.Message{Kind: protocol.KindLeave, Sender: "bob", Time: uint64(time.Now().UnixMilli())}
	hub.Broadcast(context.Background(), leave, "")

	if rec.count() != 1 {
		t.Errorf("recorded = %d, want 1 (chat only)", rec.count())
	}
}

// nopConn satisfies protocol.Conn for sessions whose transport is never
// exercised.
type nopConn struct{}

func (nopConn) ReadFrame() (*protocol.Frame, error) { return nil, io.EOF }
func (nopConn) WriteFrame(*protocol.Frame) error    { return nil }
func (nopConn) SetReadDeadline(time.Time) error     { return nil }
func (nopConn) SetWriteDeadline(time.Time) error    { return nil }
func (nopConn) Close() error                        { return nil }
func (nopConn) RemoteAddr() net.Addr                { return nil }

func BenchmarkHubBroadcast(b *testing.B) {
	for _, n := range []int{2, 8, 32} {
		b.Run(fmt.Sprintf("clients_%d", n), func(b *testing.B) {
			registry := NewRegistry(testLogger())
			sessions := make([]*Session, 0, n)
			for i := 0; i < n; i++ {
				sess := newSession(context.Background(), nopConn{}, nil, testLogger())
				sess.admit(fmt.Sprintf("id-%d", i), fmt.Sprintf("user%d", i))
				if err := registry.Register(sess); err != nil {
					b.Fatalf("Register() error: %v", err)
				}
				sessions = append(sessions, sess)
			}
			hub := NewHub(registry, nil, testLogger())
			msg := protocol.NewChat("user0", "a line of ordinary chat traffic", time.Now())

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				hub.Broadcast(context.Background(), msg, "")
				// Drain so outboxes never fill; no writers are running.
				for _, sess := range sessions {
					<-sess.outbox
				}
			}
		})
	}
}
