package journey

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/xmpp"
)

// observer posts journey progress into an operations room. It is strictly
// best effort: a broken observer session must never fail or slow a journey,
// so every error here is swallowed after a debug log.
type observer struct {
	dial  xmpp.DialFunc
	st    xmpp.Settings
	admin xmpp.Credentials
	room  string
	log   *zap.Logger

	sess xmpp.Conn
	dead bool
}

func newObserver(dial xmpp.DialFunc, st xmpp.Settings, admin xmpp.Credentials, room string, log *zap.Logger) *observer {
	if log == nil {
		log = zap.NewNop()
	}
	return &observer{dial: dial, st: st, admin: admin, room: room, log: log}
}

func (o *observer) roomJID() string {
	if strings.Contains(o.room, "@") {
		return o.room
	}
	return o.room + "@" + o.st.MUCService
}

func (o *observer) notify(ctx context.Context, text string) {
	if o.dead || o.room == "" || o.dial == nil || o.admin.User == "" {
		return
	}
	if o.sess == nil {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		sess, err := o.dial(dctx, o.st, o.admin.User, o.admin.Password, "observer", o.log)
		if err != nil {
			o.giveUp("observer_dial_failed", err)
			return
		}
		if err := sess.JoinRoom(dctx, o.roomJID(), "sentinel", "observer_join"); err != nil {
			sess.Close()
			o.giveUp("observer_join_failed", err)
			return
		}
		o.sess = sess
	}
	if err := o.sess.SendGroupchat(o.roomJID(), text); err != nil {
		o.giveUp("observer_send_failed", err)
	}
}

func (o *observer) giveUp(event string, err error) {
	o.dead = true
	o.log.Debug(event, zap.Error(err))
}

func (o *observer) close() {
	if o.sess != nil {
		o.sess.Close()
		o.sess = nil
	}
}
