package domain

import "time"

type CheckType string

const (
	CheckHTTP     CheckType = "http"
	CheckWSS      CheckType = "wss"
	CheckJourney  CheckType = "journey"
	CheckRoomEcho CheckType = "xmpp_room_echo"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityOptional Severity = "optional"
)

// ExpectRule narrows an HTTP check beyond "2xx means up".
//
// type "status_code" uses Expected; type "json" uses Path plus any of
// Equals/Exists/CaptureAs. All json rules of one check share a single parse
// of the response body.
type ExpectRule struct {
	Type      string `json:"type"`
	Expected  []int  `json:"expected,omitempty"`
	Path      string `json:"path,omitempty"`
	Equals    any    `json:"equals,omitempty"`
	Exists    bool   `json:"exists,omitempty"`
	CaptureAs string `json:"capture_as,omitempty"`
}

// CheckDefinition is immutable once loaded for a scheduling epoch; the config
// loader owns it, everything else reads it.
type CheckDefinition struct {
	InstanceID      string            `json:"instance_id"`
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            CheckType         `json:"type"`
	Severity        Severity          `json:"severity"`
	Enabled         bool              `json:"enabled"`
	IntervalSeconds int               `json:"interval_seconds"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	URL             string            `json:"url,omitempty"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Expect          []ExpectRule      `json:"expect,omitempty"`
	JourneyMode     string            `json:"journey_mode,omitempty"` // "basic" (default) or "advanced"
}

// Key is the fully-qualified check identity used for locking and storage.
func (c CheckDefinition) Key() string { return c.InstanceID + "/" + c.ID }

// Timeout returns the check's overall budget with a sane default.
func (c CheckDefinition) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type Instance struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Tags    []string          `json:"tags,omitempty"`
	Checks  []CheckDefinition `json:"checks"`
}

// CheckResult is the uniform outcome every strategy returns. Strategies catch
// their own failures and encode them here; nothing escapes past the executor.
type CheckResult struct {
	OK         bool           `json:"ok"`
	StatusCode int            `json:"status_code,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	ErrorText  string         `json:"error_text,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// ResultRecord is one append-only row in the result sink.
type ResultRecord struct {
	CheckKey   string         `json:"check_key"`
	CheckedAt  time.Time      `json:"checked_at"`
	OK         bool           `json:"ok"`
	StatusCode int            `json:"status_code,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	ErrorText  string         `json:"error_text,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

type RollupStatus string

const (
	StatusGreen RollupStatus = "green"
	StatusAmber RollupStatus = "amber"
	StatusRed   RollupStatus = "red"
)

// CheckStatus is one check's slice of the instance rollup. OK and CheckedAt
// are pointers so "no result yet" is distinguishable from a real outcome.
type CheckStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Severity   Severity   `json:"severity"`
	OK         *bool      `json:"ok,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
}

type InstanceRollup struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Tags    []string      `json:"tags,omitempty"`
	Status  RollupStatus  `json:"status"`
	Checks  []CheckStatus `json:"checks"`
}
