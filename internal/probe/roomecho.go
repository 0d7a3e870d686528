package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/xmpp"
)

const (
	opTimeout   = 3 * time.Second
	joinTimeout = 10 * time.Second
)

// RoomEchoStrategy drives the join/echo state machine: ensure the probe
// accounts, ensure the room through a privileged protocol join, join a sender
// and a receiver, send a unique marker from one side and await its echo on
// the other.
//
// Room creation deliberately avoids the administrative API (whose failures
// are opaque); the admin session joins the room into existence and stays
// connected until both participants are in, so a non-persistent room cannot
// vanish between joins.
type RoomEchoStrategy struct {
	Settings xmpp.Settings
	Admin    xmpp.Credentials
	Sender   xmpp.Credentials
	Receiver xmpp.Credentials
	RoomName string
	Prov     xmpp.AccountProvisioner
	Dial     xmpp.DialFunc
	Log      *zap.Logger
}

// NewRoomEchoStrategy resolves probe credentials: fixed accounts when
// configured, otherwise names with deterministically derived passwords so
// operators store nothing beyond the shared secret.
func NewRoomEchoStrategy(st xmpp.Settings, admin xmpp.Credentials, accountSecret string,
	sender, receiver xmpp.Credentials, prov xmpp.AccountProvisioner, log *zap.Logger) *RoomEchoStrategy {

	if sender.User == "" && accountSecret != "" {
		sender = xmpp.Credentials{User: "sentinel-sender", Password: xmpp.DerivePassword(accountSecret, "sender")}
	}
	if receiver.User == "" && accountSecret != "" {
		receiver = xmpp.Credentials{User: "sentinel-receiver", Password: xmpp.DerivePassword(accountSecret, "receiver")}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomEchoStrategy{
		Settings: st,
		Admin:    admin,
		Sender:   sender,
		Receiver: receiver,
		RoomName: "sentinel-echo",
		Prov:     prov,
		Dial:     xmpp.Dial,
		Log:      log,
	}
}

func (r *RoomEchoStrategy) Run(ctx context.Context, def domain.CheckDefinition) domain.CheckResult {
	if msg := r.missing(); msg != "" {
		err := &domain.SkippedError{Reason: msg}
		return domain.CheckResult{OK: false, ErrorText: err.Error()}
	}

	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	roomJID := r.RoomName + "@" + r.Settings.MUCService
	fail := func(err error) domain.CheckResult {
		return domain.CheckResult{
			OK:         false,
			DurationMS: time.Since(start).Milliseconds(),
			ErrorText:  err.Error(),
			Details:    map[string]any{"room": roomJID},
		}
	}

	// AccountsEnsured
	{
		pctx, pcancel := context.WithTimeout(rctx, opTimeout)
		err := r.Prov.EnsureAccount(pctx, r.Sender.User, r.Sender.Password)
		if err == nil {
			err = r.Prov.EnsureAccount(pctx, r.Receiver.User, r.Receiver.Password)
		}
		pcancel()
		if err != nil {
			return fail(err)
		}
	}

	dial := func(c xmpp.Credentials, resource string) (xmpp.Conn, error) {
		dctx, dcancel := context.WithTimeout(rctx, joinTimeout)
		defer dcancel()
		return r.Dial(dctx, r.Settings, c.User, c.Password, resource, r.Log)
	}

	// RoomEnsured: best-effort destroy, then create by privileged join.
	admin, err := dial(r.Admin, "monitor-admin")
	if err != nil {
		return fail(err)
	}
	defer admin.Close()

	dctx, dcancel := context.WithTimeout(rctx, opTimeout)
	if derr := admin.DestroyRoom(dctx, roomJID); derr != nil {
		r.Log.Debug("room_destroy_skipped", zap.String("room", roomJID), zap.Error(derr))
	}
	dcancel()

	if err := r.join(rctx, admin, roomJID, "monitor-admin", "admin_join_create_room"); err != nil {
		return fail(err)
	}
	uctx, ucancel := context.WithTimeout(rctx, opTimeout)
	if uerr := admin.ConfigureInstantRoom(uctx, roomJID); uerr != nil {
		r.Log.Debug("room_unlock_skipped", zap.String("room", roomJID), zap.Error(uerr))
	}
	ucancel()

	// SenderJoined
	sender, err := dial(r.Sender, "monitor-sender")
	if err != nil {
		return fail(err)
	}
	defer sender.Close()
	if err := r.join(rctx, sender, roomJID, "sender", "sender_join"); err != nil {
		return fail(err)
	}

	// ReceiverJoined
	receiver, err := dial(r.Receiver, "monitor-receiver")
	if err != nil {
		return fail(err)
	}
	defer receiver.Close()
	if err := r.join(rctx, receiver, roomJID, "receiver", "receiver_join"); err != nil {
		return fail(err)
	}

	// MarkerSent, then the echo wait gets whatever time remains.
	marker := xmpp.NewMarker()
	if err := sender.SendGroupchat(roomJID, marker); err != nil {
		return fail(err)
	}
	if err := receiver.AwaitEcho(rctx, roomJID, marker); err != nil {
		return fail(err)
	}

	return domain.CheckResult{
		OK:         true,
		DurationMS: time.Since(start).Milliseconds(),
		Details:    map[string]any{"room": roomJID},
	}
}

func (r *RoomEchoStrategy) join(ctx context.Context, c xmpp.Conn, roomJID, nick, stage string) error {
	jctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	return c.JoinRoom(jctx, roomJID, nick, stage)
}

func (r *RoomEchoStrategy) missing() string {
	switch {
	case r.Settings.WSURL == "" || r.Settings.Host == "" || r.Settings.MUCService == "":
		return "XMPP service settings missing"
	case r.Admin.User == "" || r.Admin.Password == "":
		return "XMPP admin credentials missing"
	case r.Sender.User == "" || r.Receiver.User == "":
		return "XMPP probe accounts missing (set fixed accounts or the account secret)"
	case r.Prov == nil || r.Dial == nil:
		return "XMPP provisioning not configured"
	}
	return ""
}
