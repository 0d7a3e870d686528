package xmpp

import (
	"context"
	"errors"
	"strings"

	"github.com/convomesh/sentinel/internal/domain"
)

// ErrEchoTimeout is the echo wait's deadline failure; its text is what lands
// in the stored result.
var ErrEchoTimeout = errors.New("XMPP_ECHO_TIMEOUT")

// awaitRoomPresence resolves the join once a presence stanza from the room's
// own address (any occupant resource) arrives. Presence error frames reject
// immediately, tagged with the join stage.
func awaitRoomPresence(ctx context.Context, events <-chan Event, roomJID, stage string) error {
	for {
		select {
		case <-ctx.Done():
			return &domain.JoinError{Stage: stage, Condition: "timeout"}
		case ev, ok := <-events:
			if !ok {
				return &domain.JoinError{Stage: stage, Condition: errSessionClosed.Error()}
			}
			if ev.Kind != EventPresence || !fromRoom(ev.From, roomJID) {
				continue
			}
			if ev.Type == "error" {
				return &domain.JoinError{Stage: stage, Condition: ev.ErrCondition}
			}
			return nil
		}
	}
}

// awaitEcho waits for a groupchat message from the room whose body equals the
// marker exactly. Every other message is ignored.
func awaitEcho(ctx context.Context, events <-chan Event, roomJID, marker string) error {
	for {
		select {
		case <-ctx.Done():
			return ErrEchoTimeout
		case ev, ok := <-events:
			if !ok {
				return errSessionClosed
			}
			if ev.Kind == EventMessage && ev.Type == "groupchat" &&
				fromRoom(ev.From, roomJID) && ev.Body == marker {
				return nil
			}
		}
	}
}

func awaitMessageContaining(ctx context.Context, events <-chan Event, roomJID, substr string) error {
	for {
		select {
		case <-ctx.Done():
			return domain.ErrTimeout
		case ev, ok := <-events:
			if !ok {
				return errSessionClosed
			}
			if ev.Kind == EventMessage && fromRoom(ev.From, roomJID) &&
				substr != "" && strings.Contains(ev.Body, substr) {
				return nil
			}
		}
	}
}

func awaitIQResult(ctx context.Context, events <-chan Event, id string) error {
	for {
		select {
		case <-ctx.Done():
			return domain.ErrTimeout
		case ev, ok := <-events:
			if !ok {
				return errSessionClosed
			}
			if ev.Kind != EventIQ || ev.ID != id {
				continue
			}
			if ev.Type == "error" {
				return errors.New("iq error: " + ev.ErrCondition)
			}
			return nil
		}
	}
}
