// Package registry tracks every live session by name and id: atomic
// creation (no two sessions may share a name), lookup, enumeration, and
// a background sweeper that retires defunct or idle sessions.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/pilotty/pilotty/internal/logger"
	"github.com/pilotty/pilotty/internal/ptysession"
	"github.com/pilotty/pilotty/internal/recovery"
)

// ErrSessionExists is returned by Create when name is already in use.
var ErrSessionExists = errors.New("registry: session already exists")

// ErrSessionNotFound is returned by lookups that miss.
var ErrSessionNotFound = errors.New("registry: session not found")

// Registry is a thread-safe collection of live sessions, indexed by both
// name and id so a caller can address a session either way.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*ptysession.Session
	byID     map[string]*ptysession.Session

	idleTimeout   time.Duration
	sweepInterval time.Duration

	stop chan struct{}
}

// New creates an empty Registry and starts its background sweeper.
func New(idleTimeout, sweepInterval time.Duration) *Registry {
	r := &Registry{
		sessions:      make(map[string]*ptysession.Session),
		byID:          make(map[string]*ptysession.Session),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
	recovery.SafeGo("registry.sweep", r.sweepLoop)
	return r
}

// NewID generates an opaque, URL-safe session id. Session *names* remain
// caller-chosen strings; every spawned session gets an id from here,
// whether or not the caller named it.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Create atomically inserts session under name, failing with
// ErrSessionExists if the name is already taken.
func (r *Registry) Create(name string, session *ptysession.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[name]; ok {
		return ErrSessionExists
	}
	r.sessions[name] = session
	r.byID[session.ID] = session
	return nil
}

// Get looks up a session by name.
func (r *Registry) Get(name string) (*ptysession.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetByID looks up a session by the opaque id NewID generated for it,
// independent of whatever name it was registered under.
func (r *Registry) GetByID(id string) (*ptysession.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ResolveName returns the name a session is currently registered under,
// accepting either that name or its id. Callers that need the canonical
// name (e.g. to Remove it) should go through this rather than just
// GetByID, since Remove is keyed by name.
func (r *Registry) ResolveName(nameOrID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[nameOrID]; ok {
		return nameOrID, nil
	}
	if s, ok := r.byID[nameOrID]; ok {
		for name, sess := range r.sessions {
			if sess == s {
				return name, nil
			}
		}
	}
	return "", ErrSessionNotFound
}

// Remove deletes name from the registry without touching the underlying
// session (the caller is expected to have already killed it).
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[name]; ok {
		delete(r.byID, s.ID)
	}
	delete(r.sessions, name)
}

// List returns the names of every currently registered session in no
// particular order (map iteration order).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	return names
}

// Shutdown stops the sweeper and kills every registered session.
func (r *Registry) Shutdown() {
	close(r.stop)

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.sessions {
		if err := s.Kill(); err != nil {
			logger.Warnf("registry: error killing session %s during shutdown: %v", name, err)
		}
		delete(r.sessions, name)
		delete(r.byID, s.ID)
	}
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range r.sessions {
		if s.Exited() {
			logger.Infof("registry: session %s exited, removing", name)
			delete(r.sessions, name)
			delete(r.byID, s.ID)
			continue
		}
		if r.idleTimeout > 0 && time.Since(s.LastActivity()) > r.idleTimeout {
			logger.Infof("registry: session %s idle for >%s, shutting down", name, r.idleTimeout)
			if err := s.Kill(); err != nil {
				logger.Warnf("registry: error killing idle session %s: %v", name, err)
			}
			delete(r.sessions, name)
			delete(r.byID, s.ID)
		}
	}
}
