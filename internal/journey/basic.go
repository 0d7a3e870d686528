package journey

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/convomesh/sentinel/internal/platform"
)

var userNames = []string{"alice", "bob", "charlie"}

// prelude is the shared create-side of both modes: app token, admin login,
// ephemeral app, ephemeral users. Every created entity registers its
// compensating delete before any later step can fail.
func (o *Orchestrator) prelude(r *runner, cl *cleanupStack, st *state, userCount int) {
	suffix := uuid.NewString()[:8]

	r.step("public_config", func(ctx context.Context) error {
		tok, err := o.api.PublicConfig(ctx, o.cfg.Domain)
		st.appToken = tok
		return err
	})
	r.step("admin_login", func(ctx context.Context) error {
		tok, err := o.api.Login(ctx, st.appToken, o.cfg.AdminEmail, o.cfg.AdminPassword)
		st.adminToken = tok
		return err
	})
	r.step("create_app", func(ctx context.Context) error {
		app, err := o.api.CreateApp(ctx, st.adminToken, "sentinel-journey-"+suffix)
		if err != nil {
			return err
		}
		st.app = app
		cl.Add("delete_app", func(ctx context.Context) error {
			return o.api.DeleteApp(ctx, st.adminToken, app.ID)
		})
		return nil
	})
	r.step("create_users", func(ctx context.Context) error {
		for i := 0; i < userCount; i++ {
			name := userNames[i%len(userNames)]
			email := fmt.Sprintf("sentinel-%s-%s@%s", name, suffix, o.cfg.Domain)
			u, err := o.api.SignupUser(ctx, st.app.Token, email, uuid.NewString(), name)
			if err != nil {
				return fmt.Errorf("signup %s: %w", name, err)
			}
			st.users = append(st.users, u)
			if len(st.users) == 1 {
				cl.Add("delete_users", func(ctx context.Context) error {
					ids := make([]string, len(st.users))
					for i, u := range st.users {
						ids[i] = u.ID
					}
					return o.api.BulkDeleteUsers(ctx, st.adminToken, ids)
				})
			}
		}
		return nil
	})
}

// runBasic: create, use, verify, clean up with two users and one room. The chat
// owner defaults to the first created user.
func (o *Orchestrator) runBasic(r *runner, cl *cleanupStack, st *state) {
	o.prelude(r, cl, st, 2)

	r.step("create_chat", func(ctx context.Context) error {
		owner := st.users[0]
		chat, err := o.api.CreateChat(ctx, owner.Token, "sentinel-room", owner.ID)
		if err != nil {
			return err
		}
		st.chats["test"] = chat
		o.addChatCleanup(cl, "delete_chat", owner, chat)
		return nil
	})
	r.step("add_member", func(ctx context.Context) error {
		if len(st.users) < 2 {
			return nil
		}
		return o.api.AddMember(ctx, st.users[0].Token, st.chats["test"].ID, st.users[1].ID)
	})
}

func (o *Orchestrator) addChatCleanup(cl *cleanupStack, name string, owner *platform.User, chat *platform.Chat) {
	cl.Add(name, func(ctx context.Context) error {
		return o.api.DeleteChat(ctx, owner.Token, chat.ID)
	})
}
