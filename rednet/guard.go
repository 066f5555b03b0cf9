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
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// Action is the guard's verdict on an inbound envelope.
type Action int

const (
	ActionAllow Action = iota
	ActionThrottle
	ActionDrop
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionThrottle:
		return "throttle"
	case ActionDrop:
		return "drop"
	case ActionBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Guard screens inbound work-initiating envelopes before dispatch. Drop and
// Block yield no response to the sender; Throttle delays dispatch; Allow
// passes the envelope through unchanged. Implementations must be safe for
// concurrent use.
type Guard interface {
	CheckRequest(env *wire.Envelope) Action
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(env *wire.Envelope) Action

func (f GuardFunc) CheckRequest(env *wire.Envelope) Action {
	return f(env)
}

// RateGuard is the built-in guard: a token bucket per source node. Sources
// within their budget are allowed, the first few excess requests are
// throttled, and sustained flooding is dropped. Explicitly blocked nodes
// always get Block.
type RateGuard struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache // wire.NodeID -> *guardBucket
	blocked map[wire.NodeID]struct{}
}

type guardBucket struct {
	lim     *rate.Limiter
	strikes int // consecutive over-limit requests
}

// NewRateGuard creates a guard allowing requestsPerSec sustained throughput
// per source with the given burst allowance.
func NewRateGuard(requestsPerSec float64, burst int) *RateGuard {
	buckets, _ := lru.New(1024)
	return &RateGuard{
		limit:   rate.Limit(requestsPerSec),
		burst:   burst,
		buckets: buckets,
		blocked: make(map[wire.NodeID]struct{}),
	}
}

// Block permanently rejects envelopes from the given node.
func (g *RateGuard) Block(id wire.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[id] = struct{}{}
}

// Unblock lifts an earlier Block.
func (g *RateGuard) Unblock(id wire.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocked, id)
}

// CheckRequest implements Guard.
func (g *RateGuard) CheckRequest(env *wire.Envelope) Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.blocked[env.Src]; ok {
		return ActionBlock
	}
	var b *guardBucket
	if v, ok := g.buckets.Get(env.Src); ok {
		b = v.(*guardBucket)
	} else {
		b = &guardBucket{lim: rate.NewLimiter(g.limit, g.burst)}
		g.buckets.Add(env.Src, b)
	}
	if b.lim.Allow() {
		b.strikes = 0
		return ActionAllow
	}
	// Slow the sender down before cutting it off entirely.
	b.strikes++
	if b.strikes <= g.burst {
		return ActionThrottle
	}
	return ActionDrop
}
