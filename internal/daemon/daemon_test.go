package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotty/pilotty/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		SocketDir:       dir,
		SocketPath:      filepath.Join(dir, "pilotty.sock"),
		LockPath:        filepath.Join(dir, "pilotty.lock"),
		ScrollbackLines: 200,
		IdleTimeout:     time.Minute,
		SweepInterval:   50 * time.Millisecond,
	}
}

func request(t *testing.T, socketPath string, req map[string]interface{}) map[string]interface{} {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	line, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(line, '\n'))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(reply), &out))
	return out
}

func TestStartThenServeHandlesSpawn(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg)
	require.NoError(t, d.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Serve(ctx)
		close(done)
	}()

	resp := request(t, cfg.SocketPath, map[string]interface{}{
		"op":   "spawn",
		"args": map[string]interface{}{"argv": []string{"/bin/sh"}, "cols": 40, "rows": 10},
	})
	assert.Equal(t, true, resp["ok"])

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestSecondStartFailsWithAlreadyRunning(t *testing.T) {
	cfg := testConfig(t)
	d1 := New(cfg)
	require.NoError(t, d1.Start())
	defer d1.listener.Close()
	defer d1.lock.Unlock()

	d2 := New(cfg)
	err := d2.Start()
	require.Error(t, err)
	var are *ErrAlreadyRunning
	require.ErrorAs(t, err, &are)
}

func TestStartClearsStaleSocketFile(t *testing.T) {
	cfg := testConfig(t)

	// Simulate a leftover socket file from an unclean shutdown: nothing
	// is listening on it, and nothing holds the lock.
	ln, err := net.Listen("unix", cfg.SocketPath)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close() // leaves the socket file on disk without a listener

	d := New(cfg)
	require.NoError(t, d.Start())
	defer d.listener.Close()
	defer d.lock.Unlock()
}

func TestShutdownOpStopsServe(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg)
	require.NoError(t, d.Start())

	done := make(chan struct{})
	go func() {
		_ = d.Serve(context.Background())
		close(done)
	}()

	resp := request(t, cfg.SocketPath, map[string]interface{}{"op": "shutdown"})
	assert.Equal(t, true, resp["ok"])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown op")
	}
}
