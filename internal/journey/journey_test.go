package journey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/platform"
	"github.com/convomesh/sentinel/internal/xmpp"
)

// roomWorld mirrors the server side of one or more rooms: groupchat sends
// and upload notifications become observable by every waiting session.
type roomWorld struct {
	mu   sync.Mutex
	msgs []string
	cond chan struct{}
}

func newRoomWorld() *roomWorld { return &roomWorld{cond: make(chan struct{}, 64)} }

func (w *roomWorld) publish(body string) {
	w.mu.Lock()
	w.msgs = append(w.msgs, body)
	w.mu.Unlock()
	select {
	case w.cond <- struct{}{}:
	default:
	}
}

func (w *roomWorld) await(ctx context.Context, substr string) error {
	for {
		w.mu.Lock()
		for _, m := range w.msgs {
			if strings.Contains(m, substr) {
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

type journeyConn struct {
	user     string
	world    *roomWorld
	joinErrs map[string]error // stage to error
	mu       sync.Mutex
	joins    []string
	closed   bool
}

func (f *journeyConn) JID() string { return f.user + "@chat.example.com/journey" }

func (f *journeyConn) JoinRoom(_ context.Context, _, _, stage string) error {
	f.mu.Lock()
	f.joins = append(f.joins, stage)
	f.mu.Unlock()
	return f.joinErrs[stage]
}

func (f *journeyConn) SendGroupchat(_, body string) error {
	f.world.publish(body)
	return nil
}

func (f *journeyConn) AwaitEcho(ctx context.Context, _, marker string) error {
	return f.world.await(ctx, marker)
}

func (f *journeyConn) AwaitMessageContaining(ctx context.Context, _, substr string) error {
	return f.world.await(ctx, substr)
}

func (f *journeyConn) DestroyRoom(context.Context, string) error { return nil }

func (f *journeyConn) ConfigureInstantRoom(context.Context, string) error { return nil }

func (f *journeyConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// fakeAPI records every platform call and lets tests inject per-operation
// failures by name.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	world *roomWorld
	seq   int
}

func (f *fakeAPI) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
	return f.fail[op]
}

func (f *fakeAPI) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeAPI) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeAPI) PublicConfig(_ context.Context, _ string) (string, error) {
	return "app-token", f.record("PublicConfig")
}

func (f *fakeAPI) Login(_ context.Context, _, _, _ string) (string, error) {
	return "admin-token", f.record("Login")
}

func (f *fakeAPI) CreateApp(_ context.Context, _, name string) (*platform.App, error) {
	if err := f.record("CreateApp"); err != nil {
		return nil, err
	}
	return &platform.App{ID: f.next("app"), Name: name, Token: "tok-" + name}, nil
}

func (f *fakeAPI) DeleteApp(_ context.Context, _, _ string) error {
	return f.record("DeleteApp")
}

func (f *fakeAPI) SignupUser(_ context.Context, _, email, _, name string) (*platform.User, error) {
	if err := f.record("SignupUser"); err != nil {
		return nil, err
	}
	id := f.next("user")
	return &platform.User{
		ID: id, Email: email, Token: "tok-" + id,
		XMPPUser: "xmpp-" + name, XMPPPass: "pw-" + name,
	}, nil
}

func (f *fakeAPI) BulkDeleteUsers(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("BulkDeleteUsers(%d)", len(ids)))
	err := f.fail["BulkDeleteUsers"]
	f.mu.Unlock()
	return err
}

func (f *fakeAPI) CreateChat(_ context.Context, _, name, _ string) (*platform.Chat, error) {
	if err := f.record("CreateChat"); err != nil {
		return nil, err
	}
	return &platform.Chat{ID: f.next("chat"), Name: name, XMPPRoom: name}, nil
}

func (f *fakeAPI) DeleteChat(_ context.Context, _, _ string) error {
	return f.record("DeleteChat")
}

func (f *fakeAPI) AddMember(_ context.Context, _, _, _ string) error {
	return f.record("AddMember")
}

func (f *fakeAPI) RemoveMember(_ context.Context, _, _, _ string) error {
	return f.record("RemoveMember")
}

func (f *fakeAPI) UploadFile(_ context.Context, _, _, filename string, _ []byte) (*platform.FileRef, error) {
	if err := f.record("UploadFile"); err != nil {
		return nil, err
	}
	// the server announces new media into the room before the call returns
	if f.world != nil {
		f.world.publish("new file: " + filename)
	}
	return &platform.FileRef{ID: f.next("file"), PublicURL: "https://cdn.example.com/" + filename}, nil
}

func (f *fakeAPI) FetchPublic(_ context.Context, _ string) error {
	return f.record("FetchPublic")
}

func journeyFixture(t *testing.T, joinErrs map[string]map[string]error) (*Orchestrator, *fakeAPI, map[string]*journeyConn) {
	t.Helper()
	world := newRoomWorld()
	api := &fakeAPI{fail: map[string]error{}, world: world}
	conns := map[string]*journeyConn{}
	var mu sync.Mutex

	dial := func(_ context.Context, _ xmpp.Settings, user, _, _ string, _ *zap.Logger) (xmpp.Conn, error) {
		c := &journeyConn{user: user, world: world, joinErrs: joinErrs[user]}
		mu.Lock()
		conns[user] = c
		mu.Unlock()
		return c, nil
	}

	cfg := Config{
		Domain:        "example.com",
		AdminEmail:    "ops@example.com",
		AdminPassword: "secret",
		XMPP:          xmpp.Settings{WSURL: "wss://x/ws", Host: "chat.example.com", MUCService: "conference.chat.example.com"},
	}
	return NewOrchestrator(api, cfg, dial, zap.NewNop()), api, conns
}

func journeyDef(mode string) domain.CheckDefinition {
	return domain.CheckDefinition{
		InstanceID: "eu-1", ID: "journey", Type: domain.CheckJourney,
		JourneyMode: mode, TimeoutSeconds: 10,
	}
}

func stepNames(res domain.CheckResult) []string {
	steps, _ := res.Details["steps"].([]StepResult)
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func TestJourney_BasicHappyPath(t *testing.T) {
	o, api, _ := journeyFixture(t, nil)

	res := o.Run(context.Background(), journeyDef(""))
	if !res.OK {
		t.Fatalf("want ok, got %+v", res)
	}
	if res.Details["mode"] != "basic" {
		t.Fatalf("mode should default to basic: %v", res.Details["mode"])
	}

	want := []string{"public_config", "admin_login", "create_app", "create_users", "create_chat", "add_member"}
	got := stepNames(res)
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %s, want %s", i, got[i], want[i])
		}
	}

	// cleanup unwinds creation order: chat, then users, then app
	calls := api.calls
	idx := func(op string) int {
		for i, c := range calls {
			if strings.HasPrefix(c, op) {
				return i
			}
		}
		t.Fatalf("%s never called: %v", op, calls)
		return -1
	}
	if !(idx("DeleteChat") < idx("BulkDeleteUsers") && idx("BulkDeleteUsers") < idx("DeleteApp")) {
		t.Fatalf("cleanup order wrong: %v", calls)
	}
}

func TestJourney_FailureStillCleansUp(t *testing.T) {
	o, api, _ := journeyFixture(t, nil)
	api.fail["CreateChat"] = errors.New("boom")

	res := o.Run(context.Background(), journeyDef("basic"))
	if res.OK {
		t.Fatal("journey should fail when a step fails")
	}
	if !strings.Contains(res.ErrorText, "create_chat") {
		t.Fatalf("error should name the failed step: %q", res.ErrorText)
	}
	if api.called("AddMember") != 0 {
		t.Fatal("steps after the failure must not run")
	}
	if api.called("DeleteChat") != 0 {
		t.Fatal("no chat was created, nothing to delete")
	}
	if api.called("BulkDeleteUsers(2)") != 1 || api.called("DeleteApp") != 1 {
		t.Fatalf("created entities must still be torn down: %v", api.calls)
	}
}

func TestJourney_Advanced(t *testing.T) {
	// charlie is denied on rejoin after removal, which is the expected outcome
	o, api, conns := journeyFixture(t, map[string]map[string]error{
		"xmpp-charlie": {"removed_rejoin": &domain.JoinError{Stage: "removed_rejoin", Condition: "forbidden"}},
	})

	res := o.Run(context.Background(), journeyDef("advanced"))
	if !res.OK {
		t.Fatalf("want ok, got %+v", res)
	}
	if api.called("CreateChat") != 2 {
		t.Fatalf("advanced creates two rooms: %v", api.calls)
	}
	if api.called("UploadFile") != 1 || api.called("FetchPublic") != 1 {
		t.Fatalf("upload and public fetch must both run: %v", api.calls)
	}
	if api.called("RemoveMember") != 1 {
		t.Fatalf("member removal missing: %v", api.calls)
	}
	for user, c := range conns {
		if !c.closed {
			t.Fatalf("session for %s leaked open", user)
		}
	}
}

func TestJourney_AdvancedRejoinAllowedIsFailure(t *testing.T) {
	o, _, _ := journeyFixture(t, nil)

	res := o.Run(context.Background(), journeyDef("advanced"))
	if res.OK {
		t.Fatal("a removed participant rejoining must fail the journey")
	}
	if !strings.Contains(res.ErrorText, "removed_rejoin_denied") {
		t.Fatalf("error should name the membership step: %q", res.ErrorText)
	}
}

func TestJourney_MissingSettingsIsSkipped(t *testing.T) {
	o := NewOrchestrator(&fakeAPI{fail: map[string]error{}}, Config{}, nil, zap.NewNop())

	res := o.Run(context.Background(), journeyDef("basic"))
	if res.OK || !domain.IsSkippedText(res.ErrorText) {
		t.Fatalf("want skipped, got %+v", res)
	}
}

func TestJourney_ObserverFailureIsSwallowed(t *testing.T) {
	o, _, _ := journeyFixture(t, nil)
	o.cfg.ObserverRoom = "ops"
	o.cfg.XMPPAdmin = xmpp.Credentials{User: "admin", Password: "pw"}
	dead := errors.New("observer unreachable")
	o.dial = func(context.Context, xmpp.Settings, string, string, string, *zap.Logger) (xmpp.Conn, error) {
		return nil, dead
	}

	res := o.Run(context.Background(), journeyDef("basic"))
	if !res.OK {
		t.Fatalf("observer trouble must not fail the journey: %+v", res)
	}
}

func TestCleanupStack_LIFOAndPanicSafe(t *testing.T) {
	cl := newCleanupStack(zap.NewNop())
	var order []string
	cl.Add("first", func(context.Context) error { order = append(order, "first"); return nil })
	cl.Add("second", func(context.Context) error { panic("kaboom") })
	cl.Add("third", func(context.Context) error { order = append(order, "third"); return nil })

	cl.Run(context.Background())
	if len(order) != 2 || order[0] != "third" || order[1] != "first" {
		t.Fatalf("want LIFO past the panic, got %v", order)
	}
}
