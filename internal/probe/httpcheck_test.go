package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/convomesh/sentinel/internal/domain"
)

func httpDef(url string, rules ...domain.ExpectRule) domain.CheckDefinition {
	return domain.CheckDefinition{
		InstanceID: "t", ID: "c", Type: domain.CheckHTTP,
		URL: url, TimeoutSeconds: 2, Expect: rules,
	}
}

func TestHTTPStrategy_StatusCodeRule(t *testing.T) {
	status := 200
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	chk := NewHTTPStrategy()
	rule := domain.ExpectRule{Type: "status_code", Expected: []int{200}}

	out := chk.Run(context.Background(), httpDef(srv.URL, rule))
	if !out.OK || out.StatusCode != 200 {
		t.Fatalf("want ok 200, got %+v", out)
	}

	status = 500
	out = chk.Run(context.Background(), httpDef(srv.URL, rule))
	if out.OK || out.StatusCode != 500 {
		t.Fatalf("want failure 500, got %+v", out)
	}
}

func TestHTTPStrategy_MissingURL(t *testing.T) {
	out := NewHTTPStrategy().Run(context.Background(), httpDef(""))
	if out.OK || out.DurationMS != 0 || out.ErrorText == "" {
		t.Fatalf("missing url must fail immediately: %+v", out)
	}
}

func TestHTTPStrategy_TimeoutCancelsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	def := httpDef(srv.URL)
	def.TimeoutSeconds = 1
	startedAt := time.Now()
	out := NewHTTPStrategy().Run(context.Background(), def)
	if out.OK || out.ErrorText != "timeout" {
		t.Fatalf("want timeout, got %+v", out)
	}
	if elapsed := time.Since(startedAt); elapsed > 3*time.Second {
		t.Fatalf("timeout did not cancel in time: %v", elapsed)
	}
}

func TestHTTPStrategy_JSONRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":{"b":"v1"},"version":"2.1"}`))
	}))
	defer srv.Close()

	out := NewHTTPStrategy().Run(context.Background(), httpDef(srv.URL,
		domain.ExpectRule{Type: "json", Path: "a.b", Exists: true},
		domain.ExpectRule{Type: "json", Path: "a.b", Equals: "v1"},
		domain.ExpectRule{Type: "json", Path: "version", CaptureAs: "v"},
		domain.ExpectRule{Type: "json", Path: "a.missing.deep", CaptureAs: "gone"},
	))
	if !out.OK {
		t.Fatalf("want ok, got %+v", out)
	}
	caps, _ := out.Details["captures"].(map[string]any)
	if caps == nil || caps["v"] != "2.1" {
		t.Fatalf("capture missing: %+v", out.Details)
	}
	if _, present := caps["gone"]; present {
		t.Fatalf("missing path must not be captured: %+v", caps)
	}

	out = NewHTTPStrategy().Run(context.Background(), httpDef(srv.URL,
		domain.ExpectRule{Type: "json", Path: "a.b", Equals: "other"},
	))
	if out.OK {
		t.Fatalf("equals mismatch must fail: %+v", out)
	}
}

func TestHTTPStrategy_UnparsableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	// exists rule is penalized by the parse failure
	out := NewHTTPStrategy().Run(context.Background(), httpDef(srv.URL,
		domain.ExpectRule{Type: "json", Path: "a.b", Exists: true},
	))
	if out.OK || out.Details["jsonParse"] != "failed" {
		t.Fatalf("want parse-failure penalty, got %+v", out)
	}

	// a capture-only rule is not
	out = NewHTTPStrategy().Run(context.Background(), httpDef(srv.URL,
		domain.ExpectRule{Type: "json", Path: "a.b", CaptureAs: "v"},
	))
	if !out.OK {
		t.Fatalf("capture-only rule must not fail the check: %+v", out)
	}
	if _, present := out.Details["captures"]; present {
		t.Fatalf("no captures expected on unparsable body: %+v", out.Details)
	}
}

func TestResolvePath(t *testing.T) {
	var v any
	v = map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(3)}}}
	if got := resolvePath(v, "a.b.c"); got != float64(3) {
		t.Fatalf("walk failed: %v", got)
	}
	if got := resolvePath(v, "a.x.c"); got != nil {
		t.Fatalf("missing segment must short-circuit to nil, got %v", got)
	}
	if got := resolvePath(v, "a.b.c.d"); got != nil {
		t.Fatalf("walking through a scalar must yield nil, got %v", got)
	}
}
