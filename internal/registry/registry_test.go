package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotty/pilotty/internal/model"
	"github.com/pilotty/pilotty/internal/ptysession"
)

func spawnSleeper(t *testing.T, name string) *ptysession.Session {
	t.Helper()
	s, err := ptysession.Spawn(name, []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	return s
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	r := New(time.Minute, time.Hour)
	defer r.Shutdown()

	s1 := spawnSleeper(t, "dup")
	require.NoError(t, r.Create("dup", s1))

	s2 := spawnSleeper(t, "dup")
	defer s2.Kill()
	err := r.Create("dup", s2)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	r := New(time.Minute, time.Hour)
	defer r.Shutdown()

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListReturnsAllNames(t *testing.T) {
	r := New(time.Minute, time.Hour)
	defer r.Shutdown()

	require.NoError(t, r.Create("a", spawnSleeper(t, "a")))
	require.NoError(t, r.Create("b", spawnSleeper(t, "b")))

	names := r.List()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestSweepRemovesExitedSessions(t *testing.T) {
	r := New(time.Minute, 20*time.Millisecond)
	defer r.Shutdown()

	s, err := ptysession.Spawn("quick", []string{"/bin/sh", "-c", "exit 0"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	require.NoError(t, r.Create("quick", s))

	require.Eventually(t, func() bool {
		_, err := r.Get("quick")
		return err == ErrSessionNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSweepKillsIdleSessions(t *testing.T) {
	r := New(30*time.Millisecond, 20*time.Millisecond)
	defer r.Shutdown()

	s := spawnSleeper(t, "idle")
	require.NoError(t, r.Create("idle", s))

	require.Eventually(t, func() bool {
		return s.Exited()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewIDIsNonEmptyAndUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestGetByIDFindsSessionRegisteredUnderDifferentName(t *testing.T) {
	r := New(time.Minute, time.Hour)
	defer r.Shutdown()

	s, err := ptysession.Spawn("sess-id-1", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	require.NoError(t, r.Create("work", s))

	got, err := r.GetByID("sess-id-1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.GetByID("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolveNameAcceptsNameOrID(t *testing.T) {
	r := New(time.Minute, time.Hour)
	defer r.Shutdown()

	s, err := ptysession.Spawn("sess-id-2", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	require.NoError(t, r.Create("work2", s))

	name, err := r.ResolveName("work2")
	require.NoError(t, err)
	assert.Equal(t, "work2", name)

	name, err = r.ResolveName("sess-id-2")
	require.NoError(t, err)
	assert.Equal(t, "work2", name)

	_, err = r.ResolveName("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRemoveClearsByIDIndex(t *testing.T) {
	r := New(time.Minute, time.Hour)
	defer r.Shutdown()

	s, err := ptysession.Spawn("sess-id-3", []string{"/bin/sh", "-c", "sleep 30"}, model.Size{Cols: 10, Rows: 2}, "", nil, 0)
	require.NoError(t, err)
	defer s.Kill()
	require.NoError(t, r.Create("work3", s))

	r.Remove("work3")

	_, err = r.GetByID("sess-id-3")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
