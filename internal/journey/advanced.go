package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/platform"
	"github.com/convomesh/sentinel/internal/xmpp"
)

const (
	sessionDialTimeout = 10 * time.Second
	echoWaitTimeout    = 15 * time.Second
)

// runAdvanced is a superset of basic: three users, two rooms, full join/echo
// cycles through the same protocol primitives the room-echo check uses, a
// media upload with the notification listener armed up front, and a negative
// membership test after removing a participant.
func (o *Orchestrator) runAdvanced(r *runner, cl *cleanupStack, st *state) {
	o.prelude(r, cl, st, 3)

	r.step("create_test_room", func(ctx context.Context) error {
		owner := st.users[0]
		chat, err := o.api.CreateChat(ctx, owner.Token, "sentinel-test", owner.ID)
		if err != nil {
			return err
		}
		st.chats["test"] = chat
		o.addChatCleanup(cl, "delete_test_room", owner, chat)
		return nil
	})
	r.step("create_validation_room", func(ctx context.Context) error {
		owner := st.users[0]
		chat, err := o.api.CreateChat(ctx, owner.Token, "sentinel-validation", owner.ID)
		if err != nil {
			return err
		}
		st.chats["validation"] = chat
		o.addChatCleanup(cl, "delete_validation_room", owner, chat)
		return nil
	})
	r.step("add_members", func(ctx context.Context) error {
		owner := st.users[0]
		for _, u := range st.users[1:] {
			if err := o.api.AddMember(ctx, owner.Token, st.chats["test"].ID, u.ID); err != nil {
				return err
			}
		}
		return o.api.AddMember(ctx, owner.Token, st.chats["validation"].ID, st.users[1].ID)
	})

	r.step("open_sessions", func(ctx context.Context) error {
		for _, name := range []string{"alice", "bob"} {
			if _, err := o.openSession(ctx, cl, st, name); err != nil {
				return err
			}
		}
		return nil
	})

	for _, room := range []string{"test", "validation"} {
		room := room
		r.step("echo_"+room+"_room", func(ctx context.Context) error {
			return o.joinEcho(ctx, st, room)
		})
	}

	r.step("upload_file", func(ctx context.Context) error {
		return o.uploadWithNotification(ctx, st)
	})
	r.step("file_public_fetch", func(ctx context.Context) error {
		return o.api.FetchPublic(ctx, st.file.PublicURL)
	})

	r.step("remove_member", func(ctx context.Context) error {
		return o.api.RemoveMember(ctx, st.users[0].Token, st.chats["test"].ID, st.users[2].ID)
	})
	r.step("removed_rejoin_denied", func(ctx context.Context) error {
		sess, err := o.openSession(ctx, cl, st, "charlie")
		if err != nil {
			return err
		}
		jctx, cancel := context.WithTimeout(ctx, sessionDialTimeout)
		defer cancel()
		jerr := sess.JoinRoom(jctx, o.roomJID(st.chats["test"]), "charlie", "removed_rejoin")
		if jerr == nil {
			// the removal did not stick; that is a product failure, not ours
			return errors.New("removed participant was able to rejoin the room")
		}
		var je *domain.JoinError
		if errors.As(jerr, &je) && je.Condition == "timeout" {
			return fmt.Errorf("rejoin denial not observed: %w", jerr)
		}
		return nil
	})

	r.step("post_removal_message", func(ctx context.Context) error {
		return st.sessions["bob"].SendGroupchat(o.roomJID(st.chats["test"]),
			"sentinel journey smoke "+xmpp.NewMarker())
	})
}

func (o *Orchestrator) openSession(ctx context.Context, cl *cleanupStack, st *state, name string) (xmpp.Conn, error) {
	if sess, ok := st.sessions[name]; ok {
		return sess, nil
	}
	u := st.userByName(name)
	if u == nil {
		return nil, fmt.Errorf("no such journey user %q", name)
	}
	if u.XMPPUser == "" {
		return nil, fmt.Errorf("user %s has no protocol credentials", name)
	}
	dctx, cancel := context.WithTimeout(ctx, sessionDialTimeout)
	defer cancel()
	sess, err := o.dial(dctx, o.cfg.XMPP, u.XMPPUser, u.XMPPPass, "journey", o.log)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", name, err)
	}
	st.sessions[name] = sess
	cl.Add("close_session_"+name, func(context.Context) error {
		sess.Close()
		return nil
	})
	return sess, nil
}

// joinEcho runs a full join, send and await-echo cycle in one room: alice
// receives, bob sends.
func (o *Orchestrator) joinEcho(ctx context.Context, st *state, room string) error {
	roomJID := o.roomJID(st.chats[room])
	receiver, sender := st.sessions["alice"], st.sessions["bob"]

	jctx, cancel := context.WithTimeout(ctx, sessionDialTimeout)
	defer cancel()
	if err := receiver.JoinRoom(jctx, roomJID, "alice", room+"_receiver_join"); err != nil {
		return err
	}
	if err := sender.JoinRoom(jctx, roomJID, "bob", room+"_sender_join"); err != nil {
		return err
	}

	marker := xmpp.NewMarker()
	if err := sender.SendGroupchat(roomJID, marker); err != nil {
		return err
	}
	ectx, ecancel := context.WithTimeout(ctx, echoWaitTimeout)
	defer ecancel()
	return receiver.AwaitEcho(ectx, roomJID, marker)
}

// uploadWithNotification arms the media-notification listener before issuing
// the upload: the server announces new media over the protocol channel before
// the HTTP call returns, so arming afterward can miss the event entirely.
func (o *Orchestrator) uploadWithNotification(ctx context.Context, st *state) error {
	filename := "sentinel-" + uuid.NewString()[:8] + ".png"
	roomJID := o.roomJID(st.chats["test"])

	wctx, wcancel := context.WithTimeout(ctx, echoWaitTimeout)
	defer wcancel()
	notified := make(chan error, 1)
	go func() {
		notified <- st.sessions["alice"].AwaitMessageContaining(wctx, roomJID, filename)
	}()

	ref, err := o.api.UploadFile(ctx, st.users[1].Token, st.chats["test"].ID, filename, probePNG)
	if err != nil {
		return err
	}
	st.file = ref

	if err := <-notified; err != nil {
		return fmt.Errorf("media notification for %s: %w", filename, err)
	}
	return nil
}

func (s *state) userByName(name string) *platform.User {
	for i, n := range userNames {
		if n == name && i < len(s.users) {
			return s.users[i]
		}
	}
	return nil
}

// probePNG is a minimal 1x1 PNG used as the upload payload.
var probePNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
