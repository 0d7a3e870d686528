// Package xmpp is a deliberately small XMPP-over-WebSocket client: enough to
// open an authenticated session, join multi-user rooms, exchange groupchat
// messages and run owner IQs. Incoming stanzas surface on one bounded event
// channel per session; join/echo confirmation are plain channel consumers
// under a deadline, so the state machines are testable with synthetic events.
package xmpp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

// Settings is what a session needs to reach the protocol service.
type Settings struct {
	WSURL      string
	Host       string
	MUCService string
}

type Credentials struct {
	User     string
	Password string
}

// Conn is the session surface the probes and journeys consume. *Session
// implements it; tests substitute fakes.
type Conn interface {
	JID() string
	JoinRoom(ctx context.Context, roomJID, nick, stage string) error
	SendGroupchat(roomJID, body string) error
	AwaitEcho(ctx context.Context, roomJID, marker string) error
	AwaitMessageContaining(ctx context.Context, roomJID, substr string) error
	DestroyRoom(ctx context.Context, roomJID string) error
	ConfigureInstantRoom(ctx context.Context, roomJID string) error
	Close()
}

// DialFunc lets callers swap the real Dial for a fake in tests.
type DialFunc func(ctx context.Context, st Settings, user, password, resource string, log *zap.Logger) (Conn, error)

// NewMarker builds a unique echo payload: timestamp plus random suffix, so a
// late echo from an earlier run can never satisfy the current one.
func NewMarker() string {
	return fmt.Sprintf("echo-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// DerivePassword produces the deterministic per-role account password from
// the shared secret. One-way and truncated: operators never store these.
func DerivePassword(secret, role string) string {
	key := pbkdf2.Key([]byte(secret), []byte("sentinel/"+role), 4096, 18, sha256.New)
	return base64.RawURLEncoding.EncodeToString(key)
}

// BareJID strips the resource suffix.
func BareJID(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

func fromRoom(from, roomJID string) bool {
	return from == roomJID || strings.HasPrefix(from, roomJID+"/")
}
