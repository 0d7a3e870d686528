package xmpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/convomesh/sentinel/internal/domain"
)

// AccountProvisioner ensures a probe account exists with a known password.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, user, password string) error
}

// Provisioner talks to the protocol server's admin REST endpoint with the
// administrative credentials. Provisioning is idempotent: registration, and on
// "already exists" an explicit password reset. Accounts are never deleted and
// recreated; that would kick an overlapping run off its session.
type Provisioner struct {
	BaseURL       string
	Host          string
	AdminUser     string
	AdminPassword string
	Client        *http.Client
}

var _ AccountProvisioner = (*Provisioner)(nil)

func NewProvisioner(baseURL, host, adminUser, adminPassword string) *Provisioner {
	return &Provisioner{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Host:          host,
		AdminUser:     adminUser,
		AdminPassword: adminPassword,
		Client:        &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *Provisioner) EnsureAccount(ctx context.Context, user, password string) error {
	status, body, err := p.post(ctx, "/api/register", map[string]string{
		"user": user, "host": p.Host, "password": password,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", user, err)
	}
	if status/100 == 2 {
		return nil
	}
	if status == http.StatusConflict || strings.Contains(strings.ToLower(body), "already registered") {
		return p.resetPassword(ctx, user, password)
	}
	return &domain.UpstreamError{Op: "xmpp register " + user, Status: status, Body: body}
}

func (p *Provisioner) resetPassword(ctx context.Context, user, password string) error {
	status, body, err := p.post(ctx, "/api/change_password", map[string]string{
		"user": user, "host": p.Host, "newpass": password,
	})
	if err != nil {
		return fmt.Errorf("reset password %s: %w", user, err)
	}
	if status/100 != 2 {
		return &domain.UpstreamError{Op: "xmpp change_password " + user, Status: status, Body: body}
	}
	return nil
}

func (p *Provisioner) post(ctx context.Context, path string, payload map[string]string) (int, string, error) {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.AdminUser, p.AdminPassword)

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, string(body), nil
}
