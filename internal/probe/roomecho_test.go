package probe

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/xmpp"
)

// echoWorld is a tiny in-memory room: groupchat sends become observable by
// every waiting receiver.
type echoWorld struct {
	mu   sync.Mutex
	msgs []string
	cond chan struct{}
}

func newEchoWorld() *echoWorld { return &echoWorld{cond: make(chan struct{}, 64)} }

func (w *echoWorld) publish(body string) {
	w.mu.Lock()
	w.msgs = append(w.msgs, body)
	w.mu.Unlock()
	select {
	case w.cond <- struct{}{}:
	default:
	}
}

func (w *echoWorld) await(ctx context.Context, marker string) error {
	for {
		w.mu.Lock()
		for _, m := range w.msgs {
			if m == marker {
				w.mu.Unlock()
				return nil
			}
		}
		w.mu.Unlock()
		select {
		case <-ctx.Done():
			return xmpp.ErrEchoTimeout
		case <-w.cond:
		}
	}
}

type fakeConn struct {
	user     string
	world    *echoWorld
	joinErrs map[string]error // stage to error
	mu       sync.Mutex
	joins    []string
	destroys int
	closed   bool
}

func (f *fakeConn) JID() string { return f.user + "@chat.example.com/res" }

func (f *fakeConn) JoinRoom(_ context.Context, _, _, stage string) error {
	f.mu.Lock()
	f.joins = append(f.joins, stage)
	f.mu.Unlock()
	return f.joinErrs[stage]
}

func (f *fakeConn) SendGroupchat(_, body string) error {
	f.world.publish(body)
	return nil
}

func (f *fakeConn) AwaitEcho(ctx context.Context, _, marker string) error {
	return f.world.await(ctx, marker)
}

func (f *fakeConn) AwaitMessageContaining(ctx context.Context, _, substr string) error {
	return f.world.await(ctx, substr)
}

func (f *fakeConn) DestroyRoom(_ context.Context, _ string) error {
	f.mu.Lock()
	f.destroys++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ConfigureInstantRoom(_ context.Context, _ string) error { return nil }

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type fakeProv struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeProv) EnsureAccount(_ context.Context, user, _ string) error {
	f.mu.Lock()
	f.users = append(f.users, user)
	f.mu.Unlock()
	return nil
}

func echoFixture(t *testing.T, joinErrs map[string]map[string]error) (*RoomEchoStrategy, map[string]*fakeConn, *fakeProv) {
	t.Helper()
	world := newEchoWorld()
	conns := map[string]*fakeConn{}
	prov := &fakeProv{}

	dial := func(_ context.Context, _ xmpp.Settings, user, _, _ string, _ *zap.Logger) (xmpp.Conn, error) {
		c := &fakeConn{user: user, world: world, joinErrs: joinErrs[user]}
		conns[user] = c
		return c, nil
	}

	s := &RoomEchoStrategy{
		Settings: xmpp.Settings{WSURL: "wss://x/ws", Host: "chat.example.com", MUCService: "conference.chat.example.com"},
		Admin:    xmpp.Credentials{User: "admin", Password: "pw"},
		Sender:   xmpp.Credentials{User: "sentinel-sender", Password: "p1"},
		Receiver: xmpp.Credentials{User: "sentinel-receiver", Password: "p2"},
		RoomName: "sentinel-echo",
		Prov:     prov,
		Dial:     dial,
		Log:      zap.NewNop(),
	}
	return s, conns, prov
}

func echoDef() domain.CheckDefinition {
	return domain.CheckDefinition{InstanceID: "eu-1", ID: "echo", Type: domain.CheckRoomEcho, TimeoutSeconds: 5}
}

func TestRoomEcho_HappyPath(t *testing.T) {
	s, conns, prov := echoFixture(t, nil)

	out := s.Run(context.Background(), echoDef())
	if !out.OK {
		t.Fatalf("want ok, got %+v", out)
	}
	if len(prov.users) != 2 {
		t.Fatalf("both accounts should be ensured: %v", prov.users)
	}
	admin := conns["admin"]
	if admin.destroys != 1 {
		t.Fatalf("admin should best-effort destroy the room first: %d", admin.destroys)
	}
	if admin.joins[0] != "admin_join_create_room" {
		t.Fatalf("room must be created by the admin join: %v", admin.joins)
	}
	for user, c := range conns {
		if !c.closed {
			t.Fatalf("session for %s leaked open", user)
		}
	}
}

func TestRoomEcho_JoinRejectionFastFails(t *testing.T) {
	s, conns, _ := echoFixture(t, map[string]map[string]error{
		"sentinel-sender": {"sender_join": &domain.JoinError{Stage: "sender_join", Condition: "registration-required"}},
	})

	out := s.Run(context.Background(), echoDef())
	if out.OK {
		t.Fatalf("want failure, got %+v", out)
	}
	if !strings.Contains(out.ErrorText, "sender_join") || !strings.Contains(out.ErrorText, "registration-required") {
		t.Fatalf("stage tag lost: %q", out.ErrorText)
	}
	for user, c := range conns {
		if !c.closed {
			t.Fatalf("session for %s leaked open after failure", user)
		}
	}
	if _, dialed := conns["sentinel-receiver"]; dialed {
		t.Fatal("receiver must not be dialed after the sender join fails")
	}
}

func TestRoomEcho_EchoTimeout(t *testing.T) {
	s, conns, _ := echoFixture(t, nil)
	// receiver that never sees the marker: swallow sends
	s.Dial = func(_ context.Context, _ xmpp.Settings, user, _, _ string, _ *zap.Logger) (xmpp.Conn, error) {
		c := &fakeConn{user: user, world: newEchoWorld()} // isolated world per conn
		conns[user] = c
		return c, nil
	}
	def := echoDef()
	def.TimeoutSeconds = 1

	start := time.Now()
	out := s.Run(context.Background(), def)
	if out.OK || out.ErrorText != "XMPP_ECHO_TIMEOUT" {
		t.Fatalf("want echo timeout, got %+v", out)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("echo wait overran the check budget")
	}
	for user, c := range conns {
		if !c.closed {
			t.Fatalf("session for %s leaked open after timeout", user)
		}
	}
}

func TestRoomEcho_MissingSettingsSkips(t *testing.T) {
	s, _, _ := echoFixture(t, nil)
	s.Settings.WSURL = ""

	out := s.Run(context.Background(), echoDef())
	if out.OK || !domain.IsSkippedText(out.ErrorText) {
		t.Fatalf("missing settings must skip, got %+v", out)
	}
}
