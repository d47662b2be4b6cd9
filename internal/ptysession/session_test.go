package ptysession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotty/pilotty/internal/model"
)

func waitForText(t *testing.T, s *Session, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if contains(s.Screen.Grid().Text(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in screen content", substr)
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestSpawnRunsCommandAndCapturesOutput(t *testing.T) {
	s, err := Spawn("t1", []string{"/bin/sh", "-c", "echo hello-pilotty"}, model.Size{Cols: 40, Rows: 5}, "", nil, 0)
	require.NoError(t, err)
	defer s.Kill()

	waitForText(t, s, "hello-pilotty", 2*time.Second)
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	_, err := Spawn("t2", nil, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	assert.Error(t, err)
}

func TestKillTerminatesProcess(t *testing.T) {
	s, err := Spawn("t3", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)

	err = s.Kill()
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
	assert.True(t, s.Exited())
}

func TestResizeUpdatesScreenSize(t *testing.T) {
	s, err := Spawn("t4", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	defer s.Kill()

	require.NoError(t, s.Resize(model.Size{Cols: 80, Rows: 24}))
	assert.Equal(t, model.Size{Cols: 80, Rows: 24}, s.Size())
}

func TestScrollClampsToScrollbackBounds(t *testing.T) {
	s, err := Spawn("t6", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 5)
	require.NoError(t, err)
	defer s.Kill()

	assert.Equal(t, 0, s.ViewOffset())

	require.NoError(t, s.Scroll(ScrollUp, 1000))
	assert.Equal(t, 0, s.ViewOffset()) // no scrollback retained yet, clamps to 0

	require.NoError(t, s.Scroll(ScrollDown, 1))
	assert.Equal(t, 0, s.ViewOffset())

	assert.Error(t, s.Scroll(ScrollUp, 0))
	assert.Error(t, s.Scroll(ScrollDir("sideways"), 1))
}

func TestNextSnapshotIDStrictlyIncreases(t *testing.T) {
	s, err := Spawn("t7", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	defer s.Kill()

	a := s.NextSnapshotID()
	b := s.NextSnapshotID()
	c := s.NextSnapshotID()
	assert.True(t, a < b)
	assert.True(t, b < c)
}

func TestWriteUpdatesLastActivity(t *testing.T) {
	s, err := Spawn("t5", []string{"/bin/sh", "-c", "cat"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	defer s.Kill()

	before := s.LastActivity()
	time.Sleep(5 * time.Millisecond)
	_, err = s.Write([]byte("x"))
	require.NoError(t, err)
	assert.True(t, s.LastActivity().After(before))
}
