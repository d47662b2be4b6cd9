// Package wait implements blocking waits against a live session:
// wait_for, await_change and await_settle, all built on the same
// condition-variable-style broadcast that internal/term.Screen exposes
// through VersionAndChan, so none of them poll.
package wait

import (
	"context"
	"regexp"
	"time"

	"github.com/pilotty/pilotty/internal/ptysession"
)

// ErrorCode mirrors the subset of the daemon's error taxonomy that the
// wait subsystem can produce.
type ErrorCode string

const (
	CodeTimeout     ErrorCode = "TIMEOUT"
	CodeSessionGone ErrorCode = "SESSION_GONE"
)

// Error is returned by every function in this package on failure.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func timeoutErr(msg string) error     { return &Error{Code: CodeTimeout, Msg: msg} }
func sessionGoneErr(msg string) error { return &Error{Code: CodeSessionGone, Msg: msg} }

// ForText blocks until the session's rendered text matches pattern, the
// session exits, the context is cancelled, or timeout elapses.
func ForText(ctx context.Context, s *ptysession.Session, pattern *regexp.Regexp, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if pattern.MatchString(s.Screen.Grid().Text()) {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutErr("wait_for: timed out waiting for pattern match")
		}

		_, ch := s.Screen.VersionAndChan()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return sessionGoneErr("wait_for: session exited before pattern matched")
		case <-ch:
		case <-time.After(remaining):
			return timeoutErr("wait_for: timed out waiting for pattern match")
		}
	}
}

// ForChange blocks until the screen's version advances past sinceVersion,
// returning the new version.
func ForChange(ctx context.Context, s *ptysession.Session, sinceVersion uint64, timeout time.Duration) (uint64, error) {
	deadline := time.Now().Add(timeout)
	for {
		version, ch := s.Screen.VersionAndChan()
		if version > sinceVersion {
			return version, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return version, timeoutErr("await_change: timed out waiting for content change")
		}

		select {
		case <-ctx.Done():
			return version, ctx.Err()
		case <-s.Done():
			return version, sessionGoneErr("await_change: session exited before content changed")
		case <-ch:
		case <-time.After(remaining):
			return version, timeoutErr("await_change: timed out waiting for content change")
		}
	}
}

// ForSettle blocks until quiet elapses with no content change, the
// session exits, the context is cancelled, or the overall timeout
// elapses first.
func ForSettle(ctx context.Context, s *ptysession.Session, quiet, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutErr("await_settle: timed out before content settled")
		}

		wait := quiet
		if remaining < wait {
			wait = remaining
		}

		_, ch := s.Screen.VersionAndChan()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return sessionGoneErr("await_settle: session exited before content settled")
		case <-ch:
			continue
		case <-time.After(wait):
			if wait == quiet {
				return nil
			}
			return timeoutErr("await_settle: timed out before content settled")
		}
	}
}
