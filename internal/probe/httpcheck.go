package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/convomesh/sentinel/internal/domain"
)

const maxBodyBytes = 1 << 20

// HTTPStrategy issues one request per run. The check's timeout actively
// cancels the in-flight request through the context, so a timeout is
// reported as "timeout" and never leaks a late response.
type HTTPStrategy struct {
	Client *http.Client
}

func NewHTTPStrategy() *HTTPStrategy {
	return &HTTPStrategy{Client: &http.Client{}}
}

func (h *HTTPStrategy) Run(ctx context.Context, def domain.CheckDefinition) domain.CheckResult {
	if def.URL == "" {
		return domain.CheckResult{OK: false, ErrorText: "http check requires url"}
	}

	rctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	method := def.Method
	if method == "" {
		method = http.MethodGet
	}
	var reqBody io.Reader
	if def.Body != "" {
		reqBody = strings.NewReader(def.Body)
	}
	req, err := http.NewRequestWithContext(rctx, method, def.URL, reqBody)
	if err != nil {
		return domain.CheckResult{OK: false, ErrorText: err.Error()}
	}
	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.Client.Do(req)
	if err != nil {
		return domain.CheckResult{
			OK:         false,
			DurationMS: time.Since(start).Milliseconds(),
			ErrorText:  errText(rctx, err),
		}
	}
	defer resp.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	duration := time.Since(start).Milliseconds()
	if readErr != nil {
		return domain.CheckResult{
			OK:         false,
			StatusCode: resp.StatusCode,
			DurationMS: duration,
			ErrorText:  errText(rctx, readErr),
		}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	details := map[string]any{}
	ok = evalRules(def.Expect, resp.StatusCode, body, ok, details)

	res := domain.CheckResult{OK: ok, StatusCode: resp.StatusCode, DurationMS: duration}
	if !ok {
		if len(def.Expect) == 0 {
			res.ErrorText = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		} else {
			res.ErrorText = fmt.Sprintf("expectations not met (status %d)", resp.StatusCode)
		}
	}
	if len(details) > 0 {
		res.Details = details
	}
	return res
}

// evalRules applies expectation rules in declaration order. All json rules
// share one lazy parse of the body; a parse failure only penalizes rules that
// assert exists/equals, never capture-only rules.
func evalRules(rules []domain.ExpectRule, status int, body []byte, ok bool, details map[string]any) bool {
	var (
		parsed       any
		parseAttempt bool
		parseFailed  bool
		captures     map[string]any
	)
	for _, rule := range rules {
		switch rule.Type {
		case "status_code":
			ok = ok && containsInt(rule.Expected, status)
		case "json":
			if !parseAttempt {
				parseAttempt = true
				if err := json.Unmarshal(body, &parsed); err != nil {
					parseFailed = true
					details["jsonParse"] = "failed"
				}
			}
			if parseFailed {
				if rule.Exists || rule.Equals != nil {
					ok = false
				}
				continue
			}
			v := resolvePath(parsed, rule.Path)
			if rule.CaptureAs != "" && v != nil {
				if captures == nil {
					captures = map[string]any{}
					details["captures"] = captures
				}
				captures[rule.CaptureAs] = v
			}
			if rule.Exists && v == nil {
				ok = false
			}
			if rule.Equals != nil && (v == nil || fmt.Sprint(v) != fmt.Sprint(rule.Equals)) {
				ok = false
			}
		}
	}
	return ok
}

// resolvePath walks a dot-separated path through nested JSON objects,
// short-circuiting to nil on any missing segment.
func resolvePath(v any, path string) any {
	if path == "" {
		return v
	}
	for _, seg := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return v
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func errText(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout.Error()
	}
	return err.Error()
}
