// Copyright 2025 The go-rednet Authors
// This file is part of the go-rednet library.
//
// The go-rednet library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-rednet library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-rednet library. If not, see <http://www.gnu.org/licenses/>.

package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/log"
)

// SessionCookie is the cookie name carrying the session id between the
// browser and the site.
const SessionCookie = "session"

const (
	defaultSessionTTL = 30 * time.Minute
	defaultJanitor    = time.Minute

	// Per-entry and per-session bounds on handler-stored values.
	maxEntryBytes   = 1024
	maxSessionBytes = 16 * 1024
)

var (
	// ErrEntryTooLarge rejects a single session value over the entry bound.
	ErrEntryTooLarge = errors.New("session entry too large")

	// ErrSessionFull rejects a write that would push the session over its
	// total budget.
	ErrSessionFull = errors.New("session storage exhausted")
)

// Session is one visitor's server-side state. Handlers reach it through the
// sandbox session API; the router owns the cookie handshake.
type Session struct {
	id   string
	csrf string

	mgr *SessionManager

	mu        sync.Mutex
	values    map[string]string
	size      int
	createdAt time.Time
	lastSeen  mclock.AbsTime
	expiresAt mclock.AbsTime
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// CSRF returns the per-session token forms embed to prove the submission
// came from a page this session was served.
func (s *Session) CSRF() string { return s.csrf }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Get returns the value stored under key.
func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value, enforcing the per-entry and per-session size bounds.
func (s *Session) Set(key, value string) error {
	if len(key)+len(value) > maxEntryBytes {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(key)+len(value))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	grow := len(key) + len(value)
	if old, ok := s.values[key]; ok {
		grow -= len(key) + len(old)
	}
	if s.size+grow > maxSessionBytes {
		return fmt.Errorf("%w: %d of %d bytes used", ErrSessionFull, s.size, maxSessionBytes)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.size += grow
	return nil
}

// Remove drops the value stored under key.
func (s *Session) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.values[key]; ok {
		delete(s.values, key)
		s.size -= len(key) + len(old)
	}
}

// touch slides the expiry window forward.
func (s *Session) touch(now mclock.AbsTime, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
	s.expiresAt = now.Add(ttl)
}

func (s *Session) expired(now mclock.AbsTime) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now > s.expiresAt
}

// SessionManagerConfig holds the session manager settings. Zero values
// select the defaults.
type SessionManagerConfig struct {
	TTL             time.Duration // sliding expiry window (default 30m)
	JanitorInterval time.Duration // expired-session sweep cadence (default 1m)

	Clock mclock.Clock     // expiry clock, for testing
	Now   func() time.Time // wall clock for creation stamps, for testing
	Log   log.Logger
}

func (cfg SessionManagerConfig) withDefaults() SessionManagerConfig {
	if cfg.TTL == 0 {
		cfg.TTL = defaultSessionTTL
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = defaultJanitor
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// SessionManager owns all sessions of the local sites. Sessions are
// ephemeral by design: they live in memory and die with the process.
type SessionManager struct {
	cfg   SessionManagerConfig
	clock mclock.Clock
	log   log.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewSessionManager creates a session manager and starts its janitor loop.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	cfg = cfg.withDefaults()
	m := &SessionManager{
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      cfg.Log.New("sys", "sessions"),
		sessions: make(map[string]*Session),
		quit:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Create mints a fresh session with a random id and CSRF token.
func (m *SessionManager) Create() *Session {
	now := m.clock.Now()
	s := &Session{
		id:        uuid.NewString(),
		csrf:      uuid.NewString(),
		mgr:       m,
		createdAt: m.cfg.Now(),
		lastSeen:  now,
		expiresAt: now.Add(m.cfg.TTL),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	sessionGauge.Update(int64(len(m.sessions)))
	m.mu.Unlock()
	sessionCreateMeter.Mark(1)
	return s
}

// Get returns the live session with the given id, sliding its expiry
// forward. Expired or unknown ids return nil.
func (m *SessionManager) Get(id string) *Session {
	if id == "" {
		return nil
	}
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	now := m.clock.Now()
	if s.expired(now) {
		m.remove(id)
		return nil
	}
	s.touch(now, m.cfg.TTL)
	return s
}

// GetOrCreate loads the session for id, or mints a new one. The bool
// reports whether a new session was created, which tells the router to set
// the cookie.
func (m *SessionManager) GetOrCreate(id string) (*Session, bool) {
	if s := m.Get(id); s != nil {
		return s, false
	}
	return m.Create(), true
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	sessionGauge.Update(int64(len(m.sessions)))
	m.mu.Unlock()
}

// janitor sweeps expired sessions so abandoned visitors do not accumulate.
func (m *SessionManager) janitor() {
	defer m.wg.Done()

	timer := m.clock.NewTimer(m.cfg.JanitorInterval)
	defer timer.Stop()
	for {
		select {
		case now := <-timer.C():
			var expired []string
			m.mu.Lock()
			for id, s := range m.sessions {
				if s.expired(now) {
					expired = append(expired, id)
				}
			}
			for _, id := range expired {
				delete(m.sessions, id)
			}
			sessionGauge.Update(int64(len(m.sessions)))
			m.mu.Unlock()
			if len(expired) > 0 {
				sessionExpireMeter.Mark(int64(len(expired)))
				m.log.Trace("Swept expired sessions", "expired", len(expired))
			}
			timer.Reset(m.cfg.JanitorInterval)
		case <-m.quit:
			return
		}
	}
}

// Close stops the janitor loop and drops all sessions.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		m.wg.Wait()
		m.mu.Lock()
		m.sessions = make(map[string]*Session)
		m.mu.Unlock()
	})
}
