// Package journey simulates real customer workflows against the platform:
// ephemeral app and users, chat rooms, message delivery and media upload,
// with compensating cleanup that always runs.
package journey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/platform"
	"github.com/convomesh/sentinel/internal/xmpp"
)

// API is the slice of the platform client a journey exercises.
type API interface {
	PublicConfig(ctx context.Context, domainSlug string) (string, error)
	Login(ctx context.Context, appToken, email, password string) (string, error)
	CreateApp(ctx context.Context, userToken, name string) (*platform.App, error)
	DeleteApp(ctx context.Context, userToken, appID string) error
	SignupUser(ctx context.Context, appToken, email, password, name string) (*platform.User, error)
	BulkDeleteUsers(ctx context.Context, userToken string, ids []string) error
	CreateChat(ctx context.Context, userToken, name, ownerID string) (*platform.Chat, error)
	DeleteChat(ctx context.Context, userToken, chatID string) error
	AddMember(ctx context.Context, userToken, chatID, userID string) error
	RemoveMember(ctx context.Context, userToken, chatID, userID string) error
	UploadFile(ctx context.Context, userToken, chatID, filename string, data []byte) (*platform.FileRef, error)
	FetchPublic(ctx context.Context, url string) error
}

var _ API = (*platform.Client)(nil)

// Config carries everything a journey needs beyond the check definition.
type Config struct {
	Domain        string
	AdminEmail    string
	AdminPassword string
	DefaultMode   string // "basic" unless overridden
	XMPP          xmpp.Settings
	XMPPAdmin     xmpp.Credentials
	ObserverRoom  string
}

type Orchestrator struct {
	api  API
	cfg  Config
	dial xmpp.DialFunc
	log  *zap.Logger
}

func NewOrchestrator(api API, cfg Config, dial xmpp.DialFunc, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{api: api, cfg: cfg, dial: dial, log: log}
}

// StepResult is one entry of the journey's step trace, stored in the result
// details for operator diagnosis.
type StepResult struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// state holds the transient entities of one run. Everything here is created
// and torn down within the same run; nothing persists.
type state struct {
	appToken   string
	adminToken string
	app        *platform.App
	users      []*platform.User
	chats      map[string]*platform.Chat
	sessions   map[string]xmpp.Conn
	file       *platform.FileRef
}

func (o *Orchestrator) Run(ctx context.Context, def domain.CheckDefinition) domain.CheckResult {
	if o.api == nil || o.cfg.Domain == "" || o.cfg.AdminEmail == "" || o.cfg.AdminPassword == "" {
		err := &domain.SkippedError{Reason: "platform settings missing"}
		return domain.CheckResult{OK: false, ErrorText: err.Error()}
	}

	mode := def.JourneyMode
	if mode == "" {
		mode = o.cfg.DefaultMode
	}
	if mode == "" {
		mode = "basic"
	}

	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	obs := newObserver(o.dial, o.cfg.XMPP, o.cfg.XMPPAdmin, o.cfg.ObserverRoom, o.log)
	defer obs.close()
	obs.notify(rctx, fmt.Sprintf("journey %s started (%s)", def.Key(), mode))

	cl := newCleanupStack(o.log)
	r := &runner{ctx: rctx, obs: obs}
	st := &state{chats: map[string]*platform.Chat{}, sessions: map[string]xmpp.Conn{}}

	if mode == "advanced" {
		o.runAdvanced(r, cl, st)
	} else {
		o.runBasic(r, cl, st)
	}

	// Cleanup never competes with the check budget and never affects outcome.
	cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
	cl.Run(cctx)
	ccancel()

	res := domain.CheckResult{
		OK:         r.failed == nil,
		DurationMS: time.Since(start).Milliseconds(),
		Details:    map[string]any{"mode": mode, "steps": r.steps},
	}
	if r.failed != nil {
		res.ErrorText = r.failed.Error()
		obs.notify(context.Background(), fmt.Sprintf("journey %s failed: %s", def.Key(), res.ErrorText))
	} else {
		obs.notify(context.Background(), fmt.Sprintf("journey %s passed in %dms", def.Key(), res.DurationMS))
	}
	return res
}

// runner executes steps in order, stopping at the first failure while
// keeping the full trace.
type runner struct {
	ctx    context.Context
	obs    *observer
	steps  []StepResult
	failed error
}

func (r *runner) step(name string, fn func(ctx context.Context) error) bool {
	if r.failed != nil {
		return false
	}
	start := time.Now()
	err := fn(r.ctx)
	rec := StepResult{Name: name, OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		rec.Error = err.Error()
		r.failed = fmt.Errorf("%s: %w", name, err)
		r.obs.notify(r.ctx, "step failed: "+name+": "+err.Error())
	} else {
		r.obs.notify(r.ctx, "step ok: "+name)
	}
	r.steps = append(r.steps, rec)
	return err == nil
}

func (o *Orchestrator) roomJID(chat *platform.Chat) string {
	local := chat.XMPPRoom
	if local == "" {
		local = chat.ID
	}
	if strings.Contains(local, "@") {
		return local
	}
	return local + "@" + o.cfg.XMPP.MUCService
}
