package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCheckDefinition_KeyAndTimeout(t *testing.T) {
	def := CheckDefinition{InstanceID: "eu-1", ID: "login-page"}
	if def.Key() != "eu-1/login-page" {
		t.Fatalf("unexpected key %q", def.Key())
	}
	if def.Timeout() != 30*time.Second {
		t.Fatalf("want default timeout, got %v", def.Timeout())
	}
	def.TimeoutSeconds = 5
	if def.Timeout() != 5*time.Second {
		t.Fatalf("want 5s, got %v", def.Timeout())
	}
}

func TestResultRecord_JSONRoundTrip(t *testing.T) {
	want := ResultRecord{
		CheckKey:   "eu-1/login-page",
		CheckedAt:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		OK:         true,
		StatusCode: 200,
		DurationMS: 123,
		Details:    map[string]any{"captures": map[string]any{"v": "1"}},
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ResultRecord
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.CheckKey != want.CheckKey || got.OK != want.OK ||
		got.StatusCode != want.StatusCode || !got.CheckedAt.Equal(want.CheckedAt) {
		t.Fatalf("mismatch after round-trip:\nwant=%+v\ngot =%+v", want, got)
	}
}

func TestSkippedError_TextContract(t *testing.T) {
	var err error = &SkippedError{Reason: "XMPP settings missing"}
	if !IsSkippedText(err.Error()) {
		t.Fatalf("skipped error text not recognized: %q", err.Error())
	}
	if IsSkippedText("dial tcp: connection refused") {
		t.Fatalf("plain failure misclassified as skipped")
	}
	var se *SkippedError
	if !errors.As(err, &se) {
		t.Fatalf("errors.As should match SkippedError")
	}
}

func TestJoinError_CarriesStage(t *testing.T) {
	err := &JoinError{Stage: "admin_join_create_room", Condition: "forbidden"}
	if err.Error() != "join failed at admin_join_create_room: forbidden" {
		t.Fatalf("unexpected text %q", err.Error())
	}
}
