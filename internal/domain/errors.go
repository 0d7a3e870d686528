package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyRunning: the check's run lock is held. Scheduled ticks skip
// silently on this; manual triggers surface it as an explicit conflict.
var ErrAlreadyRunning = errors.New("check already running")

// ErrTimeout is the canonical per-check deadline failure. Strategies render
// it as errorText "timeout" so it stays distinct from transport errors.
var ErrTimeout = errors.New("timeout")

const skippedPrefix = "skipped: "

// SkippedError marks a check that could not run because required
// environment/config is absent. The aggregator treats it as warn, not fail.
type SkippedError struct {
	Reason string
}

func (e *SkippedError) Error() string { return skippedPrefix + e.Reason }

// IsSkippedText reports whether a stored error text came from a SkippedError.
func IsSkippedText(errText string) bool { return strings.HasPrefix(errText, skippedPrefix) }

// JoinError is a protocol-level room join rejection or deadline, tagged with
// the stage that produced it (e.g. "admin_join_create_room") so operators can
// tell a policy denial from a slow server.
type JoinError struct {
	Stage     string
	Condition string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join failed at %s: %s", e.Stage, e.Condition)
}

// UpstreamError is a non-success response from the platform's own HTTP API.
// During a journey it aborts the remaining steps and triggers cleanup.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
}
