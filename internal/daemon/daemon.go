// Package daemon implements socket and bootstrap lifecycle: taking the
// single-instance lock, listening on the Unix domain socket at the path
// internal/config resolved, the accept loop that feeds internal/protocol,
// and graceful SIGTERM shutdown. The socket directory (mode 0700) comes
// from internal/config's env-driven Detect; the single-instance lock
// uses gofrs/flock to refuse a
// second daemon on the same socket, and Daemonize re-execs the binary
// detached from the controlling terminal.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/pilotty/pilotty/internal/config"
	"github.com/pilotty/pilotty/internal/logger"
	"github.com/pilotty/pilotty/internal/protocol"
	"github.com/pilotty/pilotty/internal/registry"
)

// daemonizedEnv marks a process as already running detached, so a
// second invocation of the same binary doesn't re-exec forever.
const daemonizedEnv = "PILOTTY_DAEMONIZED"

// maxRequestLine bounds one JSON request line; an unbounded read would
// let one misbehaving client exhaust memory.
const maxRequestLine = 1 << 20

// Daemon owns the socket listener, the single-instance lock and the
// registry/protocol server built on top of it.
type Daemon struct {
	Config   *config.Config
	Registry *registry.Registry
	Server   *protocol.Server

	lock     *flock.Flock
	listener net.Listener

	wg sync.WaitGroup
}

// New builds a Daemon wired to cfg, without yet taking the lock or
// listening.
func New(cfg *config.Config) *Daemon {
	reg := registry.New(cfg.IdleTimeout, cfg.SweepInterval)
	return &Daemon{
		Config:   cfg,
		Registry: reg,
		Server:   protocol.NewServer(reg, cfg),
	}
}

// ErrAlreadyRunning is returned by Start when another daemon instance
// already holds the lock.
type ErrAlreadyRunning struct{ SocketPath string }

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("pilottyd already running on %s", e.SocketPath)
}

// Start takes the single-instance lock, clears a stale socket if one is
// left over from an unclean shutdown, and begins listening. It does not
// block; call Serve to run the accept loop.
func (d *Daemon) Start() error {
	d.lock = flock.New(d.Config.LockPath)
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("daemon: acquiring lock %s: %w", d.Config.LockPath, err)
	}
	if !locked {
		return &ErrAlreadyRunning{SocketPath: d.Config.SocketPath}
	}

	if err := d.clearStaleSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", d.Config.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", d.Config.SocketPath, err)
	}
	if err := os.Chmod(d.Config.SocketPath, 0o600); err != nil {
		logger.Warnf("daemon: failed to chmod socket %s: %v", d.Config.SocketPath, err)
	}
	d.listener = ln
	return nil
}

// clearStaleSocket removes a leftover socket file from an unclean
// shutdown. The lock is already held at this point (we only reach here
// after a successful TryLock), so any socket file on disk cannot belong
// to a live daemon: it is safe to unlink unconditionally.
func (d *Daemon) clearStaleSocket() error {
	if _, err := os.Stat(d.Config.SocketPath); err != nil {
		return nil
	}
	if err := os.Remove(d.Config.SocketPath); err != nil {
		return fmt.Errorf("daemon: removing stale socket %s: %w", d.Config.SocketPath, err)
	}
	logger.Infof("daemon: removed stale socket %s", d.Config.SocketPath)
	return nil
}

// Serve runs the accept loop until ctx is cancelled, the protocol
// server's shutdown op fires, or a SIGTERM/SIGINT is received, then
// performs an orderly shutdown: stop accepting, kill every session,
// release the lock, and unlink the socket.
func (d *Daemon) Serve(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	acceptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.wg.Add(1)
	go d.acceptLoop(acceptCtx)

	select {
	case <-ctx.Done():
	case <-sigCh:
		logger.Infof("daemon: received shutdown signal")
	case <-d.Server.Shutdown:
		logger.Infof("daemon: shutdown op received")
	}

	cancel()
	_ = d.listener.Close()
	d.wg.Wait()

	d.Registry.Shutdown()
	_ = d.lock.Unlock()
	_ = os.Remove(d.Config.SocketPath)
	return nil
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Warnf("daemon: accept error: %v", err)
				return
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

// handleConn implements the one-request-per-connection transport: read
// one LF-terminated JSON line, dispatch it, write one LF-terminated JSON
// response, close.
func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(io.LimitReader(conn, maxRequestLine+1))
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}
	if len(line) > maxRequestLine {
		return
	}

	resp := d.Server.Handle(ctx, line)
	resp = append(resp, '\n')
	_, _ = conn.Write(resp)
}

// Daemonize re-execs the current process detached from the controlling
// terminal (new session via Setsid, stdio redirected to /dev/null),
// unless the process is already running detached (PILOTTY_DAEMONIZED is
// set). It does not exit the parent itself: it returns true in the parent
// (caller should exit 0 immediately) and false in the child/foreground
// case.
func Daemonize() (bool, error) {
	if os.Getenv(daemonizedEnv) == "1" {
		return false, nil
	}

	self, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("daemon: resolving executable path: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("daemon: opening %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("daemon: re-exec: %w", err)
	}
	_ = cmd.Process.Release()
	return true, nil
}

// PingExisting dials an existing daemon's socket and issues a
// list_sessions op, used to decide whether a socket file left on disk
// belongs to a live process. Unused by the daemon itself; exported for
// client tooling that wants to avoid starting a second daemon.
func PingExisting(socketPath string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(`{"op":"list_sessions"}` + "\n")); err != nil {
		return false
	}
	buf := make([]byte, 4096)
	_, err = conn.Read(buf)
	return err == nil
}
