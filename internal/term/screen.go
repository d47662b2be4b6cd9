// Package term implements the screen emulator: a thin wrapper around
// hinshun/vt10x that adds the grid snapshot, monotonic version counter
// and bounded scrollback the rest of the daemon needs.
package term

import (
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/hinshun/vt10x"

	"github.com/pilotty/pilotty/internal/hash"
	"github.com/pilotty/pilotty/internal/model"
)

const (
	attrBold      = 1 << 0
	attrUnderline = 1 << 1
	attrBlink     = 1 << 2
	attrReverse   = 1 << 3
	attrItalic    = 1 << 4
)

const defaultScrollback = 1000

// MouseMode is the mouse-reporting protocol an application has requested
// via DEC private modes. The daemon tracks but never acts on these except
// to decide how to encode a click op's synthetic report.
type MouseMode int

const (
	MouseOff MouseMode = iota
	MouseX10
	MouseNormal
	MouseSGR
)

// Screen owns one vt10x.Terminal and the bookkeeping layered on top of it:
// application-cursor-keys tracking, a bounded scrollback ring and the
// version/hash pair the wait subsystem blocks on for content changes.
type Screen struct {
	mu sync.Mutex

	vt   vt10x.Terminal
	size model.Size

	appCursorKeys bool
	mouseMode     MouseMode

	scrollbackCap int
	scrollback    []model.ScrollbackLine
	prevRows      [][]model.Cell

	version     uint64
	contentHash uint64
	versionCh   chan struct{}
}

// New creates a Screen of the given size. scrollbackCap <= 0 uses the
// default of 1000 lines (overridable by the caller via internal/config's
// PILOTTY_SCROLLBACK).
func New(size model.Size, scrollbackCap int) *Screen {
	if scrollbackCap <= 0 {
		scrollbackCap = defaultScrollback
	}
	s := &Screen{
		vt:            vt10x.New(vt10x.WithSize(size.Cols, size.Rows)),
		size:          size,
		scrollbackCap: scrollbackCap,
		versionCh:     make(chan struct{}),
	}
	s.contentHash = hash.Content("")
	return s
}

// VersionAndChan returns the current version together with the channel
// that will be closed the next time the version changes. A caller wanting
// to block until the content changes should read both under one call
// (the wait subsystem does exactly this) so it cannot miss a bump that
// happens between checking the version and starting to wait.
func (s *Screen) VersionAndChan() (uint64, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.versionCh
}

// Write feeds PTY output through the emulator. It is the only place DECCKM
// (CSI ?1h / CSI ?1l) and mouse modes are tracked and scrollback is
// retired; it bumps the version counter when the content hash changes
// (Resize does the same).
func (s *Screen) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanDECCKM(data, &s.appCursorKeys)
	scanMouseMode(data, &s.mouseMode)

	before := s.snapshotRowsLocked()

	s.vt.Lock()
	n, err := s.vt.Write(data)
	s.vt.Unlock()

	after := s.snapshotRowsLocked()
	s.retireScrolledLocked(before, after)
	s.prevRows = after

	s.bumpVersionLocked()
	return n, err
}

// Resize updates the emulator's dimensions. The scrollback ring is left
// untouched; only the live grid changes shape.
func (s *Screen) Resize(size model.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vt.Lock()
	s.vt.Resize(size.Cols, size.Rows)
	s.vt.Unlock()

	s.size = size
	s.prevRows = nil
	s.bumpVersionLocked()
}

// ApplicationCursorKeys reports whether DECCKM is currently set, for
// internal/keys to choose between CSI and SS3 arrow-key encodings.
func (s *Screen) ApplicationCursorKeys() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appCursorKeys
}

// MouseTracking reports the mouse-reporting protocol currently requested
// by the application, per the most recent DEC private mode sequence seen
// (?1000/?1002 for normal tracking, ?1006 for SGR extended coordinates).
func (s *Screen) MouseTracking() MouseMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mouseMode
}

// Version returns the monotonic counter bumped every time the rendered
// content hash changes. The wait subsystem blocks callers on this value.
func (s *Screen) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ContentHash returns the most recently computed content hash.
func (s *Screen) ContentHash() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentHash
}

// Grid renders a fresh, detached model.Grid from the live emulator state
// plus the retained scrollback.
func (s *Screen) Grid() *model.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gridLocked()
}

func (s *Screen) gridLocked() *model.Grid {
	g := model.NewGrid(s.size)

	s.vt.Lock()
	cur := s.vt.Cursor()
	g.Cursor = model.Cursor{Row: cur.Y, Col: cur.X, Visible: s.vt.CursorVisible()}
	for row := 0; row < s.size.Rows; row++ {
		for col := 0; col < s.size.Cols; col++ {
			g.Cells[row][col] = cellFromVT(s.vt.Cell(col, row))
		}
	}
	s.vt.Unlock()

	g.Scrollback = append([]model.ScrollbackLine(nil), s.scrollback...)
	return g
}

func cellFromVT(c vt10x.Glyph) model.Cell {
	ch := c.Char
	if ch == 0 {
		ch = ' '
	}
	width := uint8(runewidth.RuneWidth(ch))
	if width == 0 {
		width = 1
	}

	var attrs model.CellAttrs
	if c.Mode&attrBold != 0 {
		attrs |= model.AttrBold
	}
	if c.Mode&attrUnderline != 0 {
		attrs |= model.AttrUnderline
	}
	if c.Mode&attrReverse != 0 {
		attrs |= model.AttrReverse
	}

	return model.Cell{
		Ch:    ch,
		Width: width,
		FG:    colorFromVT(c.FG),
		BG:    colorFromVT(c.BG),
		Attrs: attrs,
	}
}

func colorFromVT(c vt10x.Color) model.Color {
	if c == vt10x.DefaultFG || c == vt10x.DefaultBG {
		return model.DefaultColor
	}
	if c < 256 {
		return model.Color{Index: int32(c)}
	}
	return model.Color{
		Truecolor: true,
		R:         uint8((c >> 16) & 0xFF),
		G:         uint8((c >> 8) & 0xFF),
		B:         uint8(c & 0xFF),
	}
}

// snapshotRowsLocked captures the current cell grid for scroll-detection
// purposes. Called with s.mu held.
func (s *Screen) snapshotRowsLocked() [][]model.Cell {
	rows := make([][]model.Cell, s.size.Rows)
	s.vt.Lock()
	for row := 0; row < s.size.Rows; row++ {
		line := make([]model.Cell, s.size.Cols)
		for col := 0; col < s.size.Cols; col++ {
			line[col] = cellFromVT(s.vt.Cell(col, row))
		}
		rows[row] = line
	}
	s.vt.Unlock()
	return rows
}

// retireScrolledLocked detects rows that scrolled off the top between two
// captured frames (the common case: the new frame's rows are a suffix of
// the old frame's rows, shifted up by n) and appends the retired rows to
// the bounded scrollback ring. vt10x does not expose a scroll hook, so
// this is a best-effort text comparison rather than a precise scroll
// event; it is accurate for the ordinary case of output appended at the
// bottom of a full screen.
func (s *Screen) retireScrolledLocked(before, after [][]model.Cell) {
	if len(before) == 0 || len(before) != len(after) {
		return
	}
	for n := 1; n < len(before); n++ {
		if rowsEqual(before[n:], after[:len(after)-n]) {
			for _, row := range before[:n] {
				s.scrollback = append(s.scrollback, model.ScrollbackLine{Cells: row})
			}
			if over := len(s.scrollback) - s.scrollbackCap; over > 0 {
				s.scrollback = s.scrollback[over:]
			}
			return
		}
	}
}

func rowsEqual(a, b [][]model.Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !rowTextEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func rowTextEqual(a, b []model.Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Ch != b[i].Ch {
			return false
		}
	}
	return true
}

func (s *Screen) bumpVersionLocked() {
	g := s.gridLocked()
	h := hash.Content(g.Text())
	if h != s.contentHash {
		s.contentHash = h
		s.version++
		close(s.versionCh)
		s.versionCh = make(chan struct{})
	}
}

// scanMouseMode scans raw PTY output for the DEC private mode sequences
// that enable or disable mouse reporting (?1000/?1002 normal tracking,
// ?1006 SGR extended coordinates) and updates mode in place. The daemon
// tracks these but never generates mouse reports on its own;
// internal/protocol consults this to decide how to encode a click op's
// synthetic report.
func scanMouseMode(data []byte, mode *MouseMode) {
	for i := 0; i+4 < len(data); i++ {
		if data[i] != 0x1b || data[i+1] != '[' || data[i+2] != '?' {
			continue
		}
		var num, j int
		for j = i + 3; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
			num = num*10 + int(data[j]-'0')
		}
		if j >= len(data) || j == i+3 {
			continue
		}
		set := data[j] == 'h'
		if !set && data[j] != 'l' {
			continue
		}
		switch num {
		case 1000, 1002, 1003:
			if set {
				*mode = MouseNormal
			} else {
				*mode = MouseOff
			}
		case 1006:
			if set {
				*mode = MouseSGR
			} else if *mode == MouseSGR {
				*mode = MouseNormal
			}
		}
	}
}

// scanDECCKM scans raw PTY output for CSI ?1h / CSI ?1l and updates the
// DECCKM flag in place. It intentionally looks only for the literal
// two-byte-parameter form xterm and every descendant emits; it does not
// attempt to parse arbitrary multi-parameter private-mode sequences.
func scanDECCKM(data []byte, appCursorKeys *bool) {
	for i := 0; i+4 < len(data); i++ {
		if data[i] != 0x1b || data[i+1] != '[' || data[i+2] != '?' || data[i+3] != '1' {
			continue
		}
		switch data[i+4] {
		case 'h':
			*appCursorKeys = true
		case 'l':
			*appCursorKeys = false
		}
	}
}
