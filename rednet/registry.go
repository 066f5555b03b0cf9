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

package rednet

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// PeerClass describes the role a peer plays on the network, inferred from
// its announcements and observed behavior.
type PeerClass string

const (
	ClassClient PeerClass = "client"
	ClassServer PeerClass = "server"
	ClassDNS    PeerClass = "dns"
	ClassHybrid PeerClass = "hybrid"
)

// PeerDescriptor is the registry's view of one remote node.
type PeerDescriptor struct {
	ID       wire.NodeID
	Class    PeerClass
	Version  string
	Caps     []string
	Names    []string // DNS names the peer announced it hosts
	Info     string
	LastSeen mclock.AbsTime
}

// ConnState is the lifecycle state of a logical connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection is a logical conversation with one remote node. The registry
// owns all connections; other components address peers by node id and hold
// connection handles only transiently.
type Connection struct {
	id wire.NodeID

	inbound chan inboundItem

	mu        sync.Mutex
	state     ConnState
	lastSeen  mclock.AbsTime
	closeOnce sync.Once
	quit      chan struct{}
}

type inboundItem struct {
	env   *wire.Envelope
	delay time.Duration // throttle imposed by the guard
}

// ID returns the remote node id.
func (c *Connection) ID() wire.NodeID {
	return c.id
}

// State returns the connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastSeen returns the time of the most recent traffic on the connection.
func (c *Connection) LastSeen() mclock.AbsTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// touch records traffic and opens the connection: a node whose valid
// envelope reached us is reachable by definition.
func (c *Connection) touch(now mclock.AbsTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now
	if c.state != StateClosed && c.state != StateClosing {
		c.state = StateOpen
	}
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// enqueue admits an inbound envelope, dropping the oldest queued item when
// the queue is full.
func (c *Connection) enqueue(item inboundItem) {
	for {
		select {
		case c.inbound <- item:
			return
		default:
		}
		select {
		case <-c.inbound:
			overloadDropMeter.Mark(1)
		default:
		}
	}
}

// dispatchLoop delivers queued envelopes to the handler one at a time,
// preserving per-source order. Throttle delays are served here so that
// delayed envelopes do not overtake each other.
func (c *Connection) dispatchLoop(clock mclock.Clock, handler func(*wire.Envelope)) {
	for {
		select {
		case item := <-c.inbound:
			if item.delay > 0 {
				select {
				case <-clock.After(item.delay):
				case <-c.quit:
					return
				}
			}
			dispatchMeter.Mark(1)
			handler(item.env)
		case <-c.quit:
			return
		}
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.quit)
	})
}

// RegistryConfig holds the peer registry settings. The zero value selects
// the defaults.
type RegistryConfig struct {
	Self wire.NodeID

	FreshnessWindow time.Duration // evict peers unseen for this long (default 5m)
	IdleTimeout     time.Duration // close connections idle for this long (default 2m)
	SweepInterval   time.Duration // eviction cadence (default 1m)

	Clock mclock.Clock
	Log   log.Logger
}

func (cfg RegistryConfig) withDefaults() RegistryConfig {
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// peerEntry augments the public descriptor with observed-behavior flags used
// for class inference.
type peerEntry struct {
	desc       PeerDescriptor
	hostsNames bool // announced or answered for names it owns
	answersDNS bool // produced dns_answer envelopes
}

func (p *peerEntry) class() PeerClass {
	switch {
	case p.hostsNames && p.answersDNS:
		return ClassHybrid
	case p.hostsNames:
		return ClassServer
	case p.answersDNS:
		return ClassDNS
	default:
		return ClassClient
	}
}

// Registry tracks known peers and owns all connections. It is the single
// owner: connections reference peers by id only, so there are no ownership
// cycles to manage.
type Registry struct {
	cfg   RegistryConfig
	clock mclock.Clock
	log   log.Logger

	mu    sync.Mutex
	peers map[wire.NodeID]*peerEntry
	conns map[wire.NodeID]*Connection

	transport *Transport // bound after construction, see Transport.bind

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewRegistry creates an empty registry. The sweep loop starts when the
// registry is bound to a transport.
func NewRegistry(cfg RegistryConfig) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Log.New("sys", "registry"),
		peers: make(map[wire.NodeID]*peerEntry),
		conns: make(map[wire.NodeID]*Connection),
		quit:  make(chan struct{}),
	}
}

func (r *Registry) bind(t *Transport) {
	r.transport = t
	r.wg.Add(1)
	go r.sweepLoop()
}

// GetOrOpen returns the connection to the given node, creating and opening
// it with a ping/pong exchange if none exists. The call is idempotent: an
// already-open connection is returned as is.
func (r *Registry) GetOrOpen(ctx context.Context, id wire.NodeID) (*Connection, error) {
	c := r.connection(id, true)
	if c.State() == StateOpen {
		return c, nil
	}
	c.setState(StateConnecting)
	if err := r.transport.Ping(ctx, id); err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.touch(r.clock.Now())
	return c, nil
}

// Connection returns the existing connection to id, or nil.
func (r *Registry) Connection(id wire.NodeID) *Connection {
	return r.connection(id, false)
}

// connection looks a connection up, optionally creating it in the idle
// state. Created connections get their dispatch goroutine immediately so
// inbound traffic is never stranded.
func (r *Registry) connection(id wire.NodeID, create bool) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		return c
	}
	if !create {
		return nil
	}
	c := &Connection{
		id:       id,
		state:    StateIdle,
		lastSeen: r.clock.Now(),
		inbound:  make(chan inboundItem, inboundQueueSize),
		quit:     make(chan struct{}),
	}
	r.conns[id] = c
	connectionGauge.Update(int64(len(r.conns)))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.dispatchLoop(r.clock, r.transport.dispatch)
	}()
	return c
}

// OnPeerSeen upserts a peer descriptor and refreshes its last-seen time.
func (r *Registry) OnPeerSeen(desc PeerDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[desc.ID]
	if !ok {
		e = &peerEntry{}
		r.peers[desc.ID] = e
		peerGauge.Update(int64(len(r.peers)))
	}
	if desc.Version != "" {
		e.desc.Version = desc.Version
	}
	if desc.Caps != nil {
		e.desc.Caps = desc.Caps
	}
	if desc.Info != "" {
		e.desc.Info = desc.Info
	}
	if len(desc.Names) > 0 {
		e.desc.Names = desc.Names
		e.hostsNames = true
	}
	e.desc.ID = desc.ID
	e.desc.LastSeen = r.clock.Now()
	e.desc.Class = e.class()
}

// onAnnounce folds a gossiped descriptor into the registry.
func (r *Registry) onAnnounce(src wire.NodeID, ann *wire.Announce) {
	r.OnPeerSeen(PeerDescriptor{
		ID:      src,
		Version: ann.Version,
		Caps:    ann.Caps,
		Names:   ann.Names,
		Info:    ann.Info,
	})
	// The announced class is advisory; observed behavior wins, but an
	// explicit server/dns claim seeds the inference flags.
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[src]; ok {
		switch PeerClass(ann.Class) {
		case ClassServer:
			e.hostsNames = true
		case ClassDNS:
			e.answersDNS = true
		case ClassHybrid:
			e.hostsNames = true
			e.answersDNS = true
		}
		e.desc.Class = e.class()
	}
}

// markSeen refreshes a peer's last-seen time without changing its metadata.
func (r *Registry) markSeen(id wire.NodeID) {
	r.OnPeerSeen(PeerDescriptor{ID: id})
}

// MarkAnswersDNS records that a peer produced a DNS answer, upgrading its
// class.
func (r *Registry) MarkAnswersDNS(id wire.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[id]; ok {
		e.answersDNS = true
		e.desc.Class = e.class()
	}
}

// Peer returns the descriptor of a known peer.
func (r *Registry) Peer(id wire.NodeID) (PeerDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[id]; ok {
		return e.desc, true
	}
	return PeerDescriptor{}, false
}

// Peers returns all known peer descriptors, ordered by node id.
func (r *Registry) Peers() []PeerDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerDescriptor, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.desc)
	}
	slices.SortFunc(out, func(a, b PeerDescriptor) int {
		return int(a.ID) - int(b.ID)
	})
	return out
}

// markFailed flags a connection after a failed keepalive exchange.
func (r *Registry) markFailed(id wire.NodeID) {
	if c := r.Connection(id); c != nil {
		c.setState(StateFailed)
		r.log.Debug("Connection failed", "node", id)
	}
}

// sweepLoop periodically evicts stale peers and closes idle or failed
// connections.
func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	timer := r.clock.NewTimer(r.cfg.SweepInterval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			r.sweep()
			timer.Reset(r.cfg.SweepInterval)
		case <-r.quit:
			return
		}
	}
}

func (r *Registry) sweep() {
	now := r.clock.Now()

	r.mu.Lock()
	var closing []*Connection
	for id, e := range r.peers {
		if now.Sub(e.desc.LastSeen) > r.cfg.FreshnessWindow {
			delete(r.peers, id)
			peerEvictMeter.Mark(1)
		}
	}
	for id, c := range r.conns {
		c.mu.Lock()
		idle := now.Sub(c.lastSeen) > r.cfg.IdleTimeout
		failed := c.state == StateFailed
		c.mu.Unlock()
		if idle || failed {
			delete(r.conns, id)
			closing = append(closing, c)
		}
	}
	peerGauge.Update(int64(len(r.peers)))
	connectionGauge.Update(int64(len(r.conns)))
	r.mu.Unlock()

	for _, c := range closing {
		c.setState(StateClosing)
		c.close()
		r.log.Trace("Connection closed", "node", c.id)
	}
}

// idleConnections returns open connections without traffic for the given
// duration. Used by the transport's keepalive loop.
func (r *Registry) idleConnections(olderThan time.Duration) []*Connection {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []*Connection
	for _, c := range r.conns {
		c.mu.Lock()
		if c.state == StateOpen && now.Sub(c.lastSeen) >= olderThan {
			idle = append(idle, c)
		}
		c.mu.Unlock()
	}
	return idle
}

// close shuts the registry down, closing all connections.
func (r *Registry) close() {
	r.closeOnce.Do(func() {
		close(r.quit)
		r.mu.Lock()
		conns := make([]*Connection, 0, len(r.conns))
		for _, c := range r.conns {
			conns = append(conns, c)
		}
		r.conns = make(map[wire.NodeID]*Connection)
		r.mu.Unlock()
		for _, c := range conns {
			c.close()
		}
		r.wg.Wait()
	})
}
