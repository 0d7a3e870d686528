package xmpp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
)

const (
	nsFraming = "urn:ietf:params:xml:ns:xmpp-framing"
	nsSASL    = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind    = "urn:ietf:params:xml:ns:xmpp-bind"
	nsMUC     = "http://jabber.org/protocol/muc"
	nsMUCOwn  = "http://jabber.org/protocol/muc#owner"

	eventBuffer      = 64
	handshakeTimeout = 10 * time.Second
)

// Session is one authenticated websocket connection to the XMPP service.
// A read loop feeds every decoded stanza into the bounded events channel;
// leaving a session open corrupts the next run for the same account (the
// server force-kicks the old resource with a conflict), so Close must run on
// every exit path.
type Session struct {
	conn    *websocket.Conn
	jid     string
	events  chan Event
	log     *zap.Logger
	writeMu sync.Mutex
	closed  sync.Once
	done    chan struct{}
}

var _ Conn = (*Session)(nil)

// Dial connects, authenticates (SASL PLAIN), binds the given resource and
// starts the read loop.
func Dial(ctx context.Context, st Settings, user, password, resource string, log *zap.Logger) (Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialer := &websocket.Dialer{
		Subprotocols:     []string{"xmpp"},
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, st.WSURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("xmpp dial %s (status %d): %w", st.WSURL, status, err)
	}

	s := &Session{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		log:    log,
		done:   make(chan struct{}),
	}
	if err := s.handshake(ctx, st, user, password, resource); err != nil {
		s.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) handshake(ctx context.Context, st Settings, user, password, resource string) error {
	open := fmt.Sprintf(`<open xmlns=%q to=%q version="1.0"/>`, nsFraming, st.Host)

	if err := s.sendRaw(open); err != nil {
		return err
	}
	if err := s.expect(ctx, "features"); err != nil {
		return fmt.Errorf("await stream features: %w", err)
	}

	creds := base64.StdEncoding.EncodeToString([]byte("\x00" + user + "\x00" + password))
	if err := s.sendRaw(fmt.Sprintf(`<auth xmlns=%q mechanism="PLAIN">%s</auth>`, nsSASL, creds)); err != nil {
		return err
	}
	f, err := s.readUntil(ctx, "success", "failure")
	if err != nil {
		return fmt.Errorf("await sasl outcome: %w", err)
	}
	if f.XMLName.Local == "failure" {
		return fmt.Errorf("xmpp auth failed for %s@%s", user, st.Host)
	}

	// stream restart after auth
	if err := s.sendRaw(open); err != nil {
		return err
	}
	if err := s.expect(ctx, "features"); err != nil {
		return fmt.Errorf("await post-auth features: %w", err)
	}

	bindID := "bind-" + uuid.NewString()[:8]
	bind := fmt.Sprintf(`<iq type="set" id=%q><bind xmlns=%q><resource>%s</resource></bind></iq>`,
		bindID, nsBind, xmlEscape(resource))
	if err := s.sendRaw(bind); err != nil {
		return err
	}
	for {
		f, err := s.readUntil(ctx, "iq")
		if err != nil {
			return fmt.Errorf("await bind result: %w", err)
		}
		if f.ID != bindID {
			continue
		}
		if f.Type != "result" {
			return fmt.Errorf("resource bind rejected: %s", f.Error.condition())
		}
		s.jid = f.BindJID
		if s.jid == "" {
			s.jid = user + "@" + st.Host + "/" + resource
		}
		return nil
	}
}

func (s *Session) JID() string { return s.jid }

// Events exposes the incoming stanza stream; consumed by the await helpers.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Debug("xmpp_read_closed", zap.Error(err))
			}
			return
		}
		f, err := parseFrame(raw)
		if err != nil {
			s.log.Debug("xmpp_frame_unparsable", zap.Error(err))
			continue
		}
		ev, ok := f.event()
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		default:
			// bounded channel: shed the oldest kind of load, never block the read loop
			s.log.Warn("xmpp_event_dropped", zap.String("from", ev.From))
		}
	}
}

// JoinRoom sends room presence and resolves only on a presence stanza from
// the room's own address. A presence error frame is an immediate, stage-tagged
// rejection; masking a policy denial behind the full deadline helps nobody.
func (s *Session) JoinRoom(ctx context.Context, roomJID, nick, stage string) error {
	p := fmt.Sprintf(`<presence to=%q><x xmlns=%q/></presence>`,
		roomJID+"/"+nick, nsMUC)
	if err := s.sendRaw(p); err != nil {
		return &domain.JoinError{Stage: stage, Condition: err.Error()}
	}
	return awaitRoomPresence(ctx, s.events, roomJID, stage)
}

func (s *Session) SendGroupchat(roomJID, body string) error {
	m := fmt.Sprintf(`<message to=%q type="groupchat" id=%q><body>%s</body></message>`,
		roomJID, "m-"+uuid.NewString()[:8], xmlEscape(body))
	return s.sendRaw(m)
}

func (s *Session) AwaitEcho(ctx context.Context, roomJID, marker string) error {
	return awaitEcho(ctx, s.events, roomJID, marker)
}

func (s *Session) AwaitMessageContaining(ctx context.Context, roomJID, substr string) error {
	return awaitMessageContaining(ctx, s.events, roomJID, substr)
}

// DestroyRoom issues a muc#owner destroy. Best-effort callers ignore the
// error; a missing room comes back item-not-found.
func (s *Session) DestroyRoom(ctx context.Context, roomJID string) error {
	id := "destroy-" + uuid.NewString()[:8]
	iq := fmt.Sprintf(`<iq to=%q type="set" id=%q><query xmlns=%q><destroy/></query></iq>`,
		roomJID, id, nsMUCOwn)
	if err := s.sendRaw(iq); err != nil {
		return err
	}
	return awaitIQResult(ctx, s.events, id)
}

// ConfigureInstantRoom submits the empty data form that unlocks a freshly
// created room so non-owner participants may join.
func (s *Session) ConfigureInstantRoom(ctx context.Context, roomJID string) error {
	id := "unlock-" + uuid.NewString()[:8]
	iq := fmt.Sprintf(`<iq to=%q type="set" id=%q><query xmlns=%q><x xmlns="jabber:x:data" type="submit"/></query></iq>`,
		roomJID, id, nsMUCOwn)
	if err := s.sendRaw(iq); err != nil {
		return err
	}
	return awaitIQResult(ctx, s.events, id)
}

func (s *Session) Close() {
	s.closed.Do(func() {
		close(s.done)
		_ = s.sendRaw(fmt.Sprintf(`<close xmlns=%q/>`, nsFraming))
		_ = s.conn.Close()
	})
}

func (s *Session) sendRaw(payload string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// expect discards frames until one with the wanted local name arrives.
func (s *Session) expect(ctx context.Context, name string) error {
	_, err := s.readUntil(ctx, name)
	return err
}

func (s *Session) readUntil(ctx context.Context, names ...string) (*frame, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := parseFrame(raw)
		if err != nil {
			continue
		}
		for _, n := range names {
			if f.XMLName.Local == n {
				return f, nil
			}
		}
	}
}

var errSessionClosed = errors.New("xmpp session closed")
