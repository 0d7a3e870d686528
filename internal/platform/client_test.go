package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convomesh/sentinel/internal/domain"
)

func TestClient_PublicConfigAndLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/config":
			if r.URL.Query().Get("domain") != "acme" {
				t.Errorf("domain slug not forwarded: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"app_token": "app-tok"})
		case "/api/auth/login":
			if r.Header.Get("Authorization") != "Bearer app-tok" {
				t.Errorf("app token not sent: %q", r.Header.Get("Authorization"))
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "user-tok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	appToken, err := c.PublicConfig(context.Background(), "acme")
	if err != nil || appToken != "app-tok" {
		t.Fatalf("PublicConfig: %q, %v", appToken, err)
	}
	userToken, err := c.Login(context.Background(), appToken, "admin@acme.test", "pw")
	if err != nil || userToken != "user-tok" {
		t.Fatalf("Login: %q, %v", userToken, err)
	}
}

func TestClient_NonSuccessBecomesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateApp(context.Background(), "tok", "probe-app")
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusForbidden || ue.Op != "create app" {
		t.Fatalf("error lost context: %+v", ue)
	}
}

func TestClient_UploadFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part missing: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "probe.png" {
			t.Errorf("filename lost: %q", hdr.Filename)
		}
		_ = json.NewEncoder(w).Encode(FileRef{ID: "f1", PublicURL: "http://cdn/f1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ref, err := c.UploadFile(context.Background(), "tok", "chat-1", "probe.png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if ref.PublicURL != "http://cdn/f1" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}
