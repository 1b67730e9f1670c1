package client_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// newPipe returns the client side of a pipe plus a framed wrapper
// around the server side for scripting responses.
func newPipe(t *testing.T) (protocol.Conn, protocol.Conn) {
	t.Helper()
	cliSide, srvSide := net.Pipe()
	t.Cleanup(func() {
		cliSide.Close()
		srvSide.Close()
	})
	return protocol.NewStreamConn(cliSide), protocol.NewStreamConn(srvSide)
}

// acceptHandshake reads the hello on the server side and admits it.
func acceptHandshake(t *testing.T, server protocol.Conn, wantName, wantToken, clientID string) {
	t.Helper()
	f, err := server.ReadFrame()
	if err != nil {
		t.Errorf("reading hello: %v", err)
		return
	}
	if f.Type != protocol.FrameHello {
		t.Errorf("first frame = %v, want FrameHello", f.Type)
		return
	}
	hello, err := protocol.DecodeClientHello(f.Payload)
	if err != nil {
		t.Errorf("decoding hello: %v", err)
		return
	}
	if hello.Name != wantName || hello.Token != wantToken {
		t.Errorf("hello = %q/%q, want %q/%q", hello.Name, hello.Token, wantName, wantToken)
	}
	welcome := protocol.NewFrame(protocol.FrameWelcome,
		protocol.EncodeServerHello(protocol.NewServerHello(clientID, uint64(time.Now().UnixMilli()))))
	if err := server.WriteFrame(welcome); err != nil {
		t.Errorf("writing welcome: %v", err)
	}
}

func connectTestClient(t *testing.T, conn protocol.Conn, in io.Reader, out io.Writer) *client.Client {
	t.Helper()
	c, err := client.Connect(conn, client.Config{
		Name:        "alice",
		DialTimeout: 2 * time.Second,
		In:          in,
		Out:         out,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

func TestConnectHandshake(t *testing.T) {
	cli, server := newPipe(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		acceptHandshake(t, server, "alice", "secret-token", "id-123")
	}()

	c, err := client.Connect(cli, client.Config{
		Name:        "alice",
		Token:       "secret-token",
		DialTimeout: 2 * time.Second,
		In:          strings.NewReader(""),
		Out:         io.Discard,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-done

	if c.ID() != "id-123" {
		t.Errorf("ID() = %q, want %q", c.ID(), "id-123")
	}
	if c.Name() != "alice" {
		t.Errorf("Name() = %q, want %q", c.Name(), "alice")
	}
}

func TestConnectRejected(t *testing.T) {
	cli, server := newPipe(t)

	go func() {
		if _, err := server.ReadFrame(); err != nil {
			return
		}
		reject := protocol.NewFrame(protocol.FrameWelcome,
			protocol.EncodeServerHello(protocol.NewServerHelloError(protocol.HandshakeNotAuthorized)))
		_ = server.WriteFrame(reject)
	}()

	_, err := client.Connect(cli, client.Config{
		Name:        "alice",
		DialTimeout: 2 * time.Second,
		Logger:      testLogger(),
	})
	var hsErr *client.HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("Connect() error = %v, want HandshakeError", err)
	}
	if hsErr.Status != protocol.HandshakeNotAuthorized {
		t.Errorf("Status = %v, want NotAuthorized", hsErr.Status)
	}
}

func TestConnectInvalidNameLocally(t *testing.T) {
	cli, _ := newPipe(t)

	// The name never leaves the process, so no server script is needed.
	if _, err := client.Connect(cli, client.Config{Name: "bad name!", Logger: testLogger()}); err == nil {
		t.Fatal("Connect() error = nil, want error")
	}
}

func TestClientRunRendersIncoming(t *testing.T) {
	cli, server := newPipe(t)

	at := time.Date(2026, time.March, 14, 15, 9, 26, 0, time.Local)
	inR, inW := io.Pipe()
	defer inW.Close()
	var out bytes.Buffer

	done := make(chan struct{})
	go func() {
		defer close(done)
		acceptHandshake(t, server, "alice", "", "id-1")

		frames := []*protocol.Frame{
			protocol.NewChat("bob", "hi alice", at).Frame(),
			(&protocol.Message{Kind: protocol.KindJoin, Sender: "carol", Time: uint64(at.UnixMilli())}).Frame(),
			(&protocol.Message{Kind: protocol.KindLeave, Sender: "dave", Time: uint64(at.UnixMilli())}).Frame(),
			protocol.NewSystem("server is shutting down", at).Frame(),
		}
		replayed := protocol.NewChat("eve", "earlier", at)
		replayed.Replay = true
		frames = append(frames, replayed.Frame())

		for _, f := range frames {
			if err := server.WriteFrame(f); err != nil {
				t.Errorf("writing frame: %v", err)
				return
			}
		}
		server.Close()
	}()

	c := connectTestClient(t, cli, inR, &out)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-done

	stamp := at.Format("15:04:05")
	want := []string{
		fmt.Sprintf("bob [%s]: hi alice", stamp),
		"* carol entered the chat!",
		"* dave left the chat",
		"* server is shutting down",
		fmt.Sprintf("| eve [%s]: earlier", stamp),
		"* disconnected from server",
	}
	got := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("rendered %d lines, want %d:\n%s", len(got), len(want), out.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClientRunSendsInput(t *testing.T) {
	cli, server := newPipe(t)

	var out bytes.Buffer
	received := make(chan string, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		acceptHandshake(t, server, "alice", "", "id-1")
		for i := 0; i < 2; i++ {
			m, err := protocol.ReadMessage(server)
			if err != nil {
				t.Errorf("reading chat %d: %v", i, err)
				return
			}
			if m.Kind != protocol.KindChat || m.Sender != "alice" {
				t.Errorf("got %v from %q, want chat from alice", m.Kind, m.Sender)
			}
			received <- m.Body
		}
		server.Close()
	}()

	c := connectTestClient(t, cli, strings.NewReader("hello there\n!exit\n"), &out)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-done

	if body := <-received; body != "hello there" {
		t.Errorf("first send = %q, want %q", body, "hello there")
	}
	if body := <-received; body != "!exit" {
		t.Errorf("second send = %q, want %q", body, "!exit")
	}

	// The chat line is echoed locally; the exit command is not.
	if !strings.Contains(out.String(), "hello there") {
		t.Errorf("output missing local echo:\n%s", out.String())
	}
	if strings.Contains(out.String(), "!exit") {
		t.Errorf("output echoes the exit command:\n%s", out.String())
	}
}

func TestClientRunQuitCommand(t *testing.T) {
	cli, server := newPipe(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		acceptHandshake(t, server, "alice", "", "id-1")
		m, err := protocol.ReadMessage(server)
		if err != nil {
			t.Errorf("reading quit: %v", err)
			return
		}
		if m.Body != "/quit" {
			t.Errorf("Body = %q, want %q", m.Body, "/quit")
		}
		server.Close()
	}()

	c := connectTestClient(t, cli, strings.NewReader("/quit\n"), io.Discard)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-done
}

func TestClientRunContextCancel(t *testing.T) {
	cli, server := newPipe(t)

	go func() {
		acceptHandshake(t, server, "alice", "", "id-1")
		// Sit on the read until the client hangs up.
		_, _ = server.ReadFrame()
	}()

	inR, inW := io.Pipe()
	defer inW.Close()
	c := connectTestClient(t, cli, inR, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}
