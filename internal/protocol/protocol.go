// Package protocol implements the request/response server that sits on
// top of the daemon's Unix domain socket: the JSON envelope, the per-op
// argument shapes, and the dispatch table that turns one decoded request
// into a call against internal/registry, internal/ptysession,
// internal/keys, internal/detect and internal/wait.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pilotty/pilotty/internal/config"
	"github.com/pilotty/pilotty/internal/detect"
	"github.com/pilotty/pilotty/internal/keys"
	"github.com/pilotty/pilotty/internal/logger"
	"github.com/pilotty/pilotty/internal/model"
	"github.com/pilotty/pilotty/internal/ptysession"
	"github.com/pilotty/pilotty/internal/registry"
	"github.com/pilotty/pilotty/internal/term"
	"github.com/pilotty/pilotty/internal/wait"
)

// Error codes, matching the daemon's error taxonomy verbatim.
const (
	CodeInvalidArg      = "INVALID_ARG"
	CodeInvalidKey      = "INVALID_KEY"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionExists   = "SESSION_EXISTS"
	CodeSessionGone     = "SESSION_GONE"
	CodeSpawnFailed     = "SPAWN_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL"
)

// defaultTimeout is used by any op whose timeout_ms is unset. An explicit
// zero is kept as a zero-length deadline.
const defaultTimeout = 30 * time.Second

// Request is one decoded line from the socket: {"op": "...", "args": {...}}.
type Request struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

// Response is the single JSON value written back before the connection
// closes: either {"ok":true,"result":...} or {"ok":false,"error":{...}}.
type Response struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the wire shape of a failed op: a stable code, a
// human-readable message, and an optional suggested remedy. No stack
// traces ever cross the wire.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// OpError is the internal error type every handler returns on failure;
// Handle converts it to an ErrorBody.
type OpError struct {
	Code       string
	Message    string
	Suggestion string
}

func (e *OpError) Error() string { return e.Message }

func newErr(code, msg string, suggestion ...string) *OpError {
	e := &OpError{Code: code, Message: msg}
	if len(suggestion) > 0 {
		e.Suggestion = suggestion[0]
	}
	return e
}

func invalidArg(format string, a ...interface{}) *OpError {
	return newErr(CodeInvalidArg, fmt.Sprintf(format, a...))
}

// Server dispatches decoded requests against one Registry. It tracks the
// most recently targeted session so ops whose "session" argument is
// omitted fall back to it.
type Server struct {
	Registry *registry.Registry
	Config   *config.Config

	lastUsedMu sync.Mutex
	lastUsed   string

	shutdownOnce sync.Once
	Shutdown     chan struct{}
}

// NewServer creates a Server dispatching against reg, spawning new
// sessions with cfg's scrollback cap.
func NewServer(reg *registry.Registry, cfg *config.Config) *Server {
	return &Server{
		Registry: reg,
		Config:   cfg,
		Shutdown: make(chan struct{}),
	}
}

func (srv *Server) scrollbackLines() int {
	if srv.Config == nil {
		return 0
	}
	return srv.Config.ScrollbackLines
}

// Handle decodes one request line, dispatches it, and returns the
// marshaled response line (without a trailing newline; the caller, i.e.
// internal/daemon's connection loop, appends one before writing it).
// A panic inside an op handler is recovered and reported as INTERNAL.
func (srv *Server) Handle(ctx context.Context, line []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("protocol: panic while handling request: %v\n%s", r, debug.Stack())
			out = marshalResp(errResponse(newErr(CodeInternal, "internal error while handling request")))
		}
	}()

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return marshalResp(errResponse(invalidArg("malformed request: %v", err)))
	}

	handler, ok := dispatch[req.Op]
	if !ok {
		return marshalResp(errResponse(invalidArg("unknown op %q", req.Op)))
	}

	result, err := handler(ctx, srv, req.Args)
	if err != nil {
		oe := toOpError(err)
		if oe.Code == CodeSessionNotFound {
			names := srv.Registry.List()
			sort.Strings(names)
			if len(names) == 0 {
				oe.Suggestion = "no live sessions; spawn one first"
			} else {
				oe.Suggestion = "live sessions: " + strings.Join(names, ", ")
			}
		}
		return marshalResp(errResponse(oe))
	}
	return marshalResp(Response{OK: true, Result: result})
}

func marshalResp(r Response) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Marshaling our own Response shape should never fail; if it
		// somehow does, still return well-formed JSON.
		b, _ = json.Marshal(Response{OK: false, Error: &ErrorBody{
			Code: CodeInternal, Message: "failed to encode response",
		}})
	}
	return b
}

func errResponse(err *OpError) Response {
	return Response{OK: false, Error: &ErrorBody{
		Code: err.Code, Message: err.Message, Suggestion: err.Suggestion,
	}}
}

func toOpError(err error) *OpError {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}

	var we *wait.Error
	if errors.As(err, &we) {
		return &OpError{Code: string(we.Code), Message: we.Msg}
	}

	var ce *keys.CodecError
	if errors.As(err, &ce) {
		return &OpError{Code: ce.Code, Message: ce.Msg}
	}

	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		return newErr(CodeSessionNotFound, err.Error(), "check list_sessions for the live session names")
	case errors.Is(err, registry.ErrSessionExists):
		return newErr(CodeSessionExists, err.Error(), "choose a different name or omit it")
	}

	return newErr(CodeInternal, err.Error())
}

type handlerFunc func(ctx context.Context, srv *Server, args json.RawMessage) (interface{}, error)

var dispatch = map[string]handlerFunc{
	"spawn":         opSpawn,
	"kill":          opKill,
	"list_sessions": opListSessions,
	"snapshot":      opSnapshot,
	"type":          opType,
	"key":           opKey,
	"click":         opClick,
	"scroll":        opScroll,
	"resize":        opResize,
	"wait_for":      opWaitFor,
	"shutdown":      opShutdown,
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidArg("malformed args: %v", err)
	}
	return nil
}

// resolveName returns the session name to act on: args.Session if
// non-empty, else the server's last-used session, else "default" (which
// will fail SESSION_NOT_FOUND if nothing has been spawned yet).
func (srv *Server) resolveName(name string) string {
	if name != "" {
		return name
	}
	srv.lastUsedMu.Lock()
	defer srv.lastUsedMu.Unlock()
	if srv.lastUsed != "" {
		return srv.lastUsed
	}
	return "default"
}

func (srv *Server) setLastUsed(name string) {
	srv.lastUsedMu.Lock()
	srv.lastUsed = name
	srv.lastUsedMu.Unlock()
}

// getSession resolves args.session to a live session. The argument is
// tried as a name first; if that misses and the caller supplied it
// explicitly (not defaulted from last-used/"default"), it is tried as
// an id too, since list_sessions hands clients ids as well as names.
func (srv *Server) getSession(requested string) (string, *ptysession.Session, error) {
	name := srv.resolveName(requested)
	s, err := srv.Registry.Get(name)
	if err != nil && requested != "" {
		if byID, idErr := srv.Registry.GetByID(requested); idErr == nil {
			if canonical, nameErr := srv.Registry.ResolveName(requested); nameErr == nil {
				srv.setLastUsed(canonical)
				return canonical, byID, nil
			}
		}
	}
	if err != nil {
		return "", nil, err
	}
	srv.setLastUsed(name)
	return name, s, nil
}

// validateSessionName enforces the naming restrictions on session
// names: no path separators, no "..", no NUL, not empty.
func validateSessionName(name string) error {
	if name == "" {
		return invalidArg("session name must not be empty")
	}
	for _, r := range name {
		if r == 0 {
			return invalidArg("session name must not contain a NUL byte")
		}
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return invalidArg("session name must not contain path separators or %q", "..")
	}
	return nil
}

// ---- spawn ----

type SpawnArgs struct {
	Name string   `json:"name,omitempty"`
	Argv []string `json:"argv"`
	Cwd  string   `json:"cwd,omitempty"`
	Env  []string `json:"env,omitempty"`
	Cols int      `json:"cols,omitempty"`
	Rows int      `json:"rows,omitempty"`
}

type SpawnResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func opSpawn(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a SpawnArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if len(a.Argv) == 0 {
		return nil, invalidArg("argv must be a non-empty command")
	}

	cols, rows := a.Cols, a.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	if cols < 1 || rows < 1 {
		return nil, invalidArg("cols and rows must be >= 1")
	}

	name := a.Name
	if name == "" {
		name = "default"
	} else if err := validateSessionName(name); err != nil {
		return nil, err
	}

	id := registry.NewID()
	sess, err := ptysession.Spawn(id, a.Argv, model.Size{Cols: cols, Rows: rows}, a.Cwd, a.Env, srv.scrollbackLines())
	if err != nil {
		return nil, newErr(CodeSpawnFailed, err.Error(), "check that argv[0] is an executable on PATH")
	}

	if err := srv.Registry.Create(name, sess); err != nil {
		_ = sess.Kill()
		return nil, err
	}

	srv.setLastUsed(name)
	return SpawnResult{ID: id, Name: name}, nil
}

// ---- kill ----

type KillArgs struct {
	Session string `json:"session"`
}

func opKill(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a KillArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Session == "" {
		return nil, invalidArg("session is required")
	}
	name, err := srv.Registry.ResolveName(a.Session)
	if err != nil {
		return nil, err
	}
	s, err := srv.Registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := s.Kill(); err != nil {
		return nil, newErr(CodeInternal, err.Error())
	}
	srv.Registry.Remove(name)
	return struct{}{}, nil
}

// ---- list_sessions ----

type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
}

type ListSessionsResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

func opListSessions(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	names := srv.Registry.List()
	sort.Strings(names)
	out := make([]SessionInfo, 0, len(names))
	for _, name := range names {
		s, err := srv.Registry.Get(name)
		if err != nil {
			continue
		}
		out = append(out, SessionInfo{ID: s.ID, Name: name, Command: commandString(s.Command)})
	}
	return ListSessionsResult{Sessions: out}, nil
}

func commandString(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// ---- snapshot ----

type SnapshotArgs struct {
	Session     string  `json:"session,omitempty"`
	Format      string  `json:"format,omitempty"`
	AwaitChange *uint64 `json:"await_change,omitempty"`
	SettleMs    int     `json:"settle_ms,omitempty"`
	TimeoutMs   *int    `json:"timeout_ms,omitempty"`
}

// SizeJSON, CursorJSON and ElementJSON are the wire shapes of the
// corresponding model types.
type SizeJSON struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type CursorJSON struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

type ElementJSON struct {
	Kind       string  `json:"kind"`
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	Width      int     `json:"width"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Focused    *bool   `json:"focused,omitempty"`
	Checked    *bool   `json:"checked,omitempty"`
}

// SnapshotResult is the full-format snapshot shape. Compact format omits
// Text; text format replaces the whole result with a plain string
// (handled separately in opSnapshot).
type SnapshotResult struct {
	SnapshotID  uint64        `json:"snapshot_id"`
	Size        SizeJSON      `json:"size"`
	Cursor      CursorJSON    `json:"cursor"`
	Text        string        `json:"text,omitempty"`
	Elements    []ElementJSON `json:"elements"`
	ContentHash uint64        `json:"content_hash"`
}

func opSnapshot(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a SnapshotArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	format := a.Format
	if format == "" {
		format = "full"
	}
	if format != "full" && format != "compact" && format != "text" {
		return nil, invalidArg("format must be one of full, compact, text")
	}

	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if a.TimeoutMs != nil {
		timeout = time.Duration(*a.TimeoutMs) * time.Millisecond
	}

	s.Lock()
	defer s.Unlock()

	if a.AwaitChange != nil {
		deadline := time.Now().Add(timeout)
		if s.Screen.ContentHash() == *a.AwaitChange {
			v := s.Screen.Version()
			for s.Screen.ContentHash() == *a.AwaitChange {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return nil, newErr(CodeTimeout, "snapshot: timed out waiting for await_change")
				}
				v, err = wait.ForChange(ctx, s, v, remaining)
				if err != nil {
					return nil, err
				}
			}
		}
		if a.SettleMs > 0 {
			if err := wait.ForSettle(ctx, s, time.Duration(a.SettleMs)*time.Millisecond, time.Until(deadline)); err != nil {
				return nil, err
			}
		}
	}

	return buildSnapshotResult(s, format), nil
}

func buildSnapshotResult(s *ptysession.Session, format string) interface{} {
	g := s.Screen.Grid()
	text := renderWithViewOffset(g, s.ViewOffset())
	elements := detect.Detect(g)

	if format == "text" {
		return textSnapshot(g, text)
	}

	out := SnapshotResult{
		SnapshotID:  s.NextSnapshotID(),
		Size:        SizeJSON{Cols: g.Size.Cols, Rows: g.Size.Rows},
		Cursor:      CursorJSON{Row: g.Cursor.Row, Col: g.Cursor.Col, Visible: g.Cursor.Visible},
		Elements:    toElementJSON(elements),
		ContentHash: s.Screen.ContentHash(),
	}
	if format == "full" {
		out.Text = text
	}
	return out
}

// textSnapshot renders the plain-text view for format=text: the screen
// text followed, when the cursor is visible, by one extra line holding a
// "^" under the cursor's column. The cursor's row is not marked.
func textSnapshot(g *model.Grid, text string) string {
	if !g.Cursor.Visible {
		return text
	}
	marker := ""
	for i := 0; i < g.Cursor.Col; i++ {
		marker += " "
	}
	marker += "^"
	return text + "\n" + marker
}

func toElementJSON(els []model.Element) []ElementJSON {
	out := make([]ElementJSON, 0, len(els))
	for _, e := range els {
		out = append(out, ElementJSON{
			Kind:       string(e.Kind),
			Row:        e.Row,
			Col:        e.Col,
			Width:      e.Width,
			Text:       e.Text,
			Confidence: e.Confidence,
			Focused:    e.Focused,
			Checked:    e.Checked,
		})
	}
	return out
}

// renderWithViewOffset substitutes retired scrollback lines in at the
// top of the rendered text when the session has scrolled its view back
// (internal/ptysession.Session.Scroll), trimming an equal number of rows
// from the bottom so the overall line count is unchanged.
func renderWithViewOffset(g *model.Grid, offset int) string {
	if offset <= 0 || len(g.Scrollback) == 0 {
		return g.Text()
	}
	if offset > len(g.Scrollback) {
		offset = len(g.Scrollback)
	}

	history := g.Scrollback[len(g.Scrollback)-offset:]
	lines := make([]string, 0, len(g.Cells))
	for _, line := range history {
		lines = append(lines, cellsToText(line.Cells))
	}
	liveRows := g.Cells
	if offset < len(liveRows) {
		liveRows = liveRows[:len(liveRows)-offset]
	} else {
		liveRows = nil
	}
	for _, row := range liveRows {
		lines = append(lines, cellsToText(row))
	}

	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func cellsToText(cells []model.Cell) string {
	runes := make([]rune, 0, len(cells))
	last := -1
	for _, c := range cells {
		if c.Width == 0 {
			continue
		}
		ch := c.Ch
		if ch == 0 {
			ch = ' '
		}
		runes = append(runes, ch)
		if ch != ' ' {
			last = len(runes) - 1
		}
	}
	return string(runes[:last+1])
}

// ---- type ----

type TypeArgs struct {
	Session string `json:"session,omitempty"`
	Text    string `json:"text"`
}

func opType(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a TypeArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}
	if s.Exited() {
		return nil, newErr(CodeSessionGone, "session has exited", "respawn the session")
	}

	s.Lock()
	defer s.Unlock()
	if _, err := s.Write([]byte(a.Text)); err != nil {
		return nil, newErr(CodeInternal, err.Error())
	}
	return struct{}{}, nil
}

// ---- key ----

type KeyArgs struct {
	Session string `json:"session,omitempty"`
	Keys    string `json:"keys"`
	DelayMs int    `json:"delay_ms,omitempty"`
}

func opKey(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a KeyArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Keys == "" {
		return nil, invalidArg("keys must not be empty")
	}
	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}
	if s.Exited() {
		return nil, newErr(CodeSessionGone, "session has exited", "respawn the session")
	}

	s.Lock()
	defer s.Unlock()

	chunks, err := keys.EncodeSequence(a.Keys, a.DelayMs, keys.Mode{AppCursorKeys: s.Screen.ApplicationCursorKeys()})
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.Delay):
			}
		}
		if _, err := s.Write(c.Bytes); err != nil {
			return nil, newErr(CodeInternal, err.Error())
		}
	}
	return struct{}{}, nil
}

// ---- click ----

type ClickArgs struct {
	Session string `json:"session,omitempty"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
}

func opClick(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a ClickArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Row < 0 || a.Col < 0 {
		return nil, invalidArg("row and col must be >= 0")
	}
	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}
	if s.Exited() {
		return nil, newErr(CodeSessionGone, "session has exited", "respawn the session")
	}

	s.Lock()
	defer s.Unlock()

	// A click is a no-op unless the target program has
	// requested mouse reporting; this never drives detect.Detect itself,
	// only the raw report xterm-family programs expect on stdin.
	report := encodeMouseReport(s.Screen.MouseTracking(), a.Row, a.Col)
	if report == nil {
		return struct{}{}, nil
	}
	if _, err := s.Write(report); err != nil {
		return nil, newErr(CodeInternal, err.Error())
	}
	return struct{}{}, nil
}

// encodeMouseReport builds a left-button press+release report in the
// protocol the target most recently negotiated. SGR (1006) reports use
// 1-based coordinates and a trailing M/m for press/release; legacy X10/
// normal reports are capped at 223 (0-based coordinate + 32 must fit a
// byte) and use the older 3-byte form.
func encodeMouseReport(mode term.MouseMode, row, col int) []byte {
	switch mode {
	case term.MouseSGR:
		press := fmt.Sprintf("\x1b[<0;%d;%dM", col+1, row+1)
		release := fmt.Sprintf("\x1b[<0;%d;%dm", col+1, row+1)
		return []byte(press + release)
	case term.MouseNormal:
		if col > 222 || row > 222 {
			return nil
		}
		press := []byte{0x1b, '[', 'M', byte(32), byte(col + 1 + 32), byte(row + 1 + 32)}
		release := []byte{0x1b, '[', 'M', byte(32 + 3), byte(col + 1 + 32), byte(row + 1 + 32)}
		return append(press, release...)
	default:
		return nil
	}
}

// ---- scroll ----

type ScrollArgs struct {
	Session string `json:"session,omitempty"`
	Dir     string `json:"dir"`
	Lines   int    `json:"lines"`
}

func opScroll(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a ScrollArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Dir != "up" && a.Dir != "down" {
		return nil, invalidArg("dir must be up or down")
	}
	if a.Lines < 1 {
		return nil, invalidArg("lines must be >= 1")
	}
	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}
	if err := s.Scroll(ptysession.ScrollDir(a.Dir), a.Lines); err != nil {
		return nil, newErr(CodeInternal, err.Error())
	}
	return struct{}{}, nil
}

// ---- resize ----

type ResizeArgs struct {
	Session string `json:"session,omitempty"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
}

func opResize(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a ResizeArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Cols < 1 || a.Rows < 1 {
		return nil, invalidArg("resize to (0,0) or negative size is rejected")
	}
	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}
	if s.Exited() {
		return nil, newErr(CodeSessionGone, "session has exited", "respawn the session")
	}
	if err := s.Resize(model.Size{Cols: a.Cols, Rows: a.Rows}); err != nil {
		return nil, newErr(CodeInternal, err.Error())
	}
	return struct{}{}, nil
}

// ---- wait_for ----

type WaitForArgs struct {
	Session   string `json:"session,omitempty"`
	Pattern   string `json:"pattern"`
	Regex     bool   `json:"regex,omitempty"`
	TimeoutMs *int   `json:"timeout_ms,omitempty"`
}

type WaitForResult struct {
	Matched bool `json:"matched"`
}

func opWaitFor(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	var a WaitForArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Pattern == "" {
		return nil, invalidArg("pattern must not be empty")
	}
	_, s, err := srv.getSession(a.Session)
	if err != nil {
		return nil, err
	}

	pat := a.Pattern
	if !a.Regex {
		pat = regexp.QuoteMeta(pat)
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, invalidArg("invalid regex pattern: %v", err)
	}

	timeout := defaultTimeout
	if a.TimeoutMs != nil {
		timeout = time.Duration(*a.TimeoutMs) * time.Millisecond
	}

	if err := wait.ForText(ctx, s, re, timeout); err != nil {
		return nil, err
	}
	return WaitForResult{Matched: true}, nil
}

// ---- shutdown ----

func opShutdown(ctx context.Context, srv *Server, raw json.RawMessage) (interface{}, error) {
	srv.shutdownOnce.Do(func() { close(srv.Shutdown) })
	return struct{}{}, nil
}
