// Package platform is a typed client for the messaging platform's own HTTP
// API, covering exactly the calls the journey checks exercise. Any
// non-success response becomes a domain.UpstreamError, which aborts the
// remaining journey steps.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/convomesh/sentinel/internal/domain"
)

type App struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Token    string `json:"token"`
	XMPPUser string `json:"xmpp_user"`
	XMPPPass string `json:"xmpp_password"`
}

type Chat struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	XMPPRoom string `json:"xmpp_room"` // local part of the backing MUC room
}

type FileRef struct {
	ID        string `json:"id"`
	PublicURL string `json:"public_url"`
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// PublicConfig fetches the base application's public config for a domain slug
// and returns the application token embedded in it.
func (c *Client) PublicConfig(ctx context.Context, domainSlug string) (string, error) {
	var out struct {
		AppToken string `json:"app_token"`
	}
	err := c.do(ctx, http.MethodGet, "/api/config?domain="+domainSlug, "", nil, &out, "public config")
	if err != nil {
		return "", err
	}
	if out.AppToken == "" {
		return "", &domain.UpstreamError{Op: "public config", Status: 200, Body: "no app_token in response"}
	}
	return out.AppToken, nil
}

// Login performs an app-scoped login and returns the user token.
func (c *Client) Login(ctx context.Context, appToken, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", appToken, in, &out, "login "+email)
	return out.Token, err
}

// CreateApp creates an ephemeral application scoped to the calling user.
func (c *Client) CreateApp(ctx context.Context, userToken, name string) (*App, error) {
	var app App
	in := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/apps", userToken, in, &app, "create app"); err != nil {
		return nil, err
	}
	return &app, nil
}

func (c *Client) DeleteApp(ctx context.Context, userToken, appID string) error {
	return c.do(ctx, http.MethodDelete, "/api/apps/"+appID, userToken, nil, nil, "delete app")
}

// SignupUser signs a user up under the app and logs them in; the response
// carries the platform token and the user's protocol credentials.
func (c *Client) SignupUser(ctx context.Context, appToken, email, password, name string) (*User, error) {
	var u User
	in := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/users/signup", appToken, in, &u, "signup "+name); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) BulkDeleteUsers(ctx context.Context, userToken string, ids []string) error {
	in := map[string]any{"ids": ids}
	return c.do(ctx, http.MethodPost, "/api/users/bulk_delete", userToken, in, nil, "bulk delete users")
}

func (c *Client) CreateChat(ctx context.Context, userToken, name, ownerID string) (*Chat, error) {
	var chat Chat
	in := map[string]string{"name": name, "owner_id": ownerID}
	if err := c.do(ctx, http.MethodPost, "/api/chats", userToken, in, &chat, "create chat "+name); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) DeleteChat(ctx context.Context, userToken, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chats/"+chatID, userToken, nil, nil, "delete chat")
}

func (c *Client) AddMember(ctx context.Context, userToken, chatID, userID string) error {
	in := map[string]string{"user_id": userID}
	return c.do(ctx, http.MethodPost, "/api/chats/"+chatID+"/members", userToken, in, nil, "add member")
}

func (c *Client) RemoveMember(ctx context.Context, userToken, chatID, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chats/"+chatID+"/members/"+userID, userToken, nil, nil, "remove member")
}

// UploadFile posts a file into a chat as multipart form data.
func (c *Client) UploadFile(ctx context.Context, userToken, chatID, filename string, data []byte) (*FileRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/chats/"+chatID+"/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+userToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return nil, &domain.UpstreamError{Op: "upload file", Status: resp.StatusCode, Body: string(body)}
	}
	var ref FileRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return nil, fmt.Errorf("upload file: decode: %w", err)
	}
	return &ref, nil
}

// FetchPublic verifies a stored file is fetchable without credentials.
func (c *Client) FetchPublic(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("public fetch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return &domain.UpstreamError{Op: "public fetch", Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any, op string) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return &domain.UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode: %w", op, err)
		}
	}
	return nil
}
