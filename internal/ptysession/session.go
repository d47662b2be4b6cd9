// Package ptysession owns one PTY-backed process: its file descriptor,
// its command, and the goroutines that pump bytes between the two and
// the screen emulator.
package ptysession

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/pilotty/pilotty/internal/keys"
	"github.com/pilotty/pilotty/internal/logger"
	"github.com/pilotty/pilotty/internal/model"
	"github.com/pilotty/pilotty/internal/recovery"
	"github.com/pilotty/pilotty/internal/term"
)

// readBufSize is the chunk size used when draining PTY output.
const readBufSize = 65536

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL.
const killGrace = 2 * time.Second

// Session is one spawned PTY process plus its screen emulator.
type Session struct {
	ID      string
	Command []string

	CreatedAt time.Time

	pty *os.File
	cmd *exec.Cmd

	Screen *term.Screen

	mu           sync.Mutex
	size         model.Size
	lastActivity time.Time
	closed       bool
	exited       chan struct{}
	exitErr      error

	snapshotSeq atomic.Uint64

	reqMu      sync.Mutex
	viewOffset int
}

// NextSnapshotID returns a strictly increasing id, one per call, used to
// stamp each snapshot produced for this session.
func (s *Session) NextSnapshotID() uint64 {
	return s.snapshotSeq.Add(1)
}

// Lock serializes protocol-level requests against this session so that
// a "type then snapshot" pair observes the typed bytes in arrival order.
// It is distinct from the screen emulator's own internal lock.
func (s *Session) Lock() { s.reqMu.Lock() }

// Unlock releases the lock taken by Lock.
func (s *Session) Unlock() { s.reqMu.Unlock() }

// ScrollDir is the direction passed to Scroll.
type ScrollDir string

const (
	ScrollUp   ScrollDir = "up"
	ScrollDown ScrollDir = "down"
)

// Scroll adjusts the session's scrollback view offset: how many retired
// lines are substituted in at the top of the next snapshot's text. It
// never touches the live grid or the child process.
func (s *Session) Scroll(dir ScrollDir, lines int) error {
	if lines < 1 {
		return errors.New("ptysession: scroll lines must be >= 1")
	}
	max := len(s.Screen.Grid().Scrollback)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch dir {
	case ScrollUp:
		s.viewOffset += lines
	case ScrollDown:
		s.viewOffset -= lines
	default:
		return fmt.Errorf("ptysession: unknown scroll direction %q", dir)
	}
	if s.viewOffset < 0 {
		s.viewOffset = 0
	}
	if s.viewOffset > max {
		s.viewOffset = max
	}
	return nil
}

// ViewOffset returns the current scrollback view offset set by Scroll.
func (s *Session) ViewOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewOffset
}

// Spawn starts command under a new PTY of the given size. cwd, if
// non-empty, becomes the child's working directory. env, if non-nil, is
// appended to the child's environment (os.Environ() is always inherited
// first).
func Spawn(id string, command []string, size model.Size, cwd string, env []string, scrollback int) (*Session, error) {
	if len(command) == 0 {
		return nil, errors.New("ptysession: empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = cwd

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(size.Rows),
		Cols: uint16(size.Cols),
	})
	if err != nil {
		return nil, fmt.Errorf("ptysession: start: %w", err)
	}

	s := &Session{
		ID:           id,
		Command:      command,
		CreatedAt:    time.Now(),
		pty:          ptmx,
		cmd:          cmd,
		Screen:       term.New(size, scrollback),
		size:         size,
		lastActivity: time.Now(),
		exited:       make(chan struct{}),
	}

	recovery.SafeGo(fmt.Sprintf("ptysession[%s].read", id), s.readLoop)
	recovery.SafeGo(fmt.Sprintf("ptysession[%s].wait", id), s.waitLoop)

	return s, nil
}

func (s *Session) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			s.Screen.Write(buf[:n])
			s.mu.Lock()
			s.lastActivity = time.Now()
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	close(s.exited)
}

// Write sends bytes to the child's stdin (i.e. the PTY master's write
// side), updating LastActivity.
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("ptysession: session closed")
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return s.pty.Write(data)
}

// SendKeys encodes spec with the session's current application-cursor-keys
// mode and writes it to the PTY.
func (s *Session) SendKeys(spec string) error {
	b, err := keys.Encode(spec, keys.Mode{AppCursorKeys: s.Screen.ApplicationCursorKeys()})
	if err != nil {
		return err
	}
	_, err = s.Write(b)
	return err
}

// Resize changes both the PTY's kernel-reported window size and the
// screen emulator's grid size.
func (s *Session) Resize(size model.Size) error {
	if err := pty.Setsize(s.pty, &pty.Winsize{Rows: uint16(size.Rows), Cols: uint16(size.Cols)}); err != nil {
		return fmt.Errorf("ptysession: resize: %w", err)
	}
	s.Screen.Resize(size)
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
	return nil
}

// Size returns the session's current dimensions.
func (s *Session) Size() model.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// LastActivity returns the time of the most recent PTY read or write.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Exited reports whether the child process has exited.
func (s *Session) Exited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the child process exits.
func (s *Session) Done() <-chan struct{} {
	return s.exited
}

// Kill sends SIGTERM, waits killGrace for a clean exit, and escalates to
// SIGKILL if the process is still alive. It always closes the PTY.
func (s *Session) Kill() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	defer s.pty.Close()

	proc := s.cmd.Process
	if proc == nil {
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warnf("session %s: SIGTERM failed: %v", s.ID, err)
	}

	select {
	case <-s.exited:
		return nil
	case <-time.After(killGrace):
	}

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warnf("session %s: SIGKILL failed: %v", s.ID, err)
		return err
	}
	<-s.exited
	return nil
}
