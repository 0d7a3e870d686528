package probe

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convomesh/sentinel/internal/domain"
)

// WSStrategy opens a websocket connection and treats a successful open as
// up. The connection is closed on every branch; it is never left open.
type WSStrategy struct {
	Dialer *websocket.Dialer
}

func NewWSStrategy() *WSStrategy {
	return &WSStrategy{Dialer: &websocket.Dialer{}}
}

func (w *WSStrategy) Run(ctx context.Context, def domain.CheckDefinition) domain.CheckResult {
	if def.URL == "" {
		return domain.CheckResult{OK: false, ErrorText: "wss check requires url"}
	}

	rctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	start := time.Now()
	conn, resp, err := w.Dialer.DialContext(rctx, def.URL, nil)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		res := domain.CheckResult{OK: false, DurationMS: duration, ErrorText: errText(rctx, err)}
		if resp != nil {
			res.StatusCode = resp.StatusCode
		}
		return res
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()

	res := domain.CheckResult{OK: true, DurationMS: duration}
	if resp != nil {
		res.StatusCode = resp.StatusCode
	}
	return res
}
