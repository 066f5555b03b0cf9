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

package dns

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// ErrUnreachable reports that a name was claimed but its holder did not
// answer the verification ping within the window.
var ErrUnreachable = errors.New("name unreachable")

// Transport is the slice of the RedNet transport the DNS system uses:
// broadcast queries with gathered answers, verification pings and withdraw
// notices. *rednet.Transport implements it.
type Transport interface {
	Self() wire.NodeID
	Gather(ctx context.Context, typ wire.Type, payload interface{}, window time.Duration, fn func(*wire.Envelope) bool) error
	PingTimeout(ctx context.Context, to wire.NodeID, timeout time.Duration) error
	Broadcast(typ wire.Type, payload interface{}) error
	Answer(to wire.NodeID, typ wire.Type, payload interface{}) error
}

// ResolverConfig holds the resolver settings.
type ResolverConfig struct {
	// Registry serves authoritative shortcuts and shadow bookkeeping.
	// Required.
	Registry *Registry

	// Cache holds learned records. Required.
	Cache *Cache

	// Transport carries queries and verification pings. Required.
	Transport Transport

	// These settings are optional:
	QueryWindow     time.Duration // answer collection span (default 800ms)
	VerifyTimeout   time.Duration // verification pong window (default 1s)
	AllowUnverified bool          // return answers whose holder did not pong
	MaxTTL          time.Duration // cap on answer-supplied TTLs (default 1h)
	RefreshInterval time.Duration // shadow re-check and cache sweep cadence (default 1m)

	Clock mclock.Clock // timers, for testing
	Log   log.Logger
}

func (cfg ResolverConfig) withDefaults() ResolverConfig {
	if cfg.QueryWindow == 0 {
		cfg.QueryWindow = 800 * time.Millisecond
	}
	if cfg.VerifyTimeout == 0 {
		cfg.VerifyTimeout = time.Second
	}
	if cfg.MaxTTL == 0 {
		cfg.MaxTTL = time.Hour
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Result is a successful resolution. Record is never nil; the flags tell the
// caller how much to trust it.
type Result struct {
	Record *Record

	// Stale marks a record past its TTL, served while a refresh runs.
	Stale bool

	// Unverified marks a record whose holder did not answer the
	// verification ping. Only returned when AllowUnverified is set.
	Unverified bool

	// Conflicts counts answers that disagreed with the winning record
	// during this lookup.
	Conflicts int

	// Warning is set when a name keeps attracting conflicting claims
	// across lookups. User agents should surface it.
	Warning string
}

// Resolver answers name lookups: local registry first, then the cache, then
// a broadcast query with verification. Concurrent lookups of the same name
// collapse into one network query.
type Resolver struct {
	cfg       ResolverConfig
	registry  *Registry
	cache     *Cache
	transport Transport
	clock     mclock.Clock
	log       log.Logger

	sf        singleflight.Group
	conflicts *lru.Cache // name -> int, lookups that saw conflicting claims

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewResolver creates a resolver. Call Start to run the background refresh
// loop; Lookup works without it.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("dns resolver needs a registry")
	case cfg.Cache == nil:
		return nil, errors.New("dns resolver needs a cache")
	case cfg.Transport == nil:
		return nil, errors.New("dns resolver needs a transport")
	}
	cfg = cfg.withDefaults()
	r := &Resolver{
		cfg:       cfg,
		registry:  cfg.Registry,
		cache:     cfg.Cache,
		transport: cfg.Transport,
		clock:     cfg.Clock,
		log:       cfg.Log.New("sys", "dns"),
		quit:      make(chan struct{}),
	}
	r.conflicts, _ = lru.New(512)
	return r, nil
}

// Start launches the refresh loop: periodic cache sweeps and re-checks of
// local alias claims against the network.
func (r *Resolver) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.refreshLoop()
	})
}

// Stop terminates the refresh loop and waits for in-flight background
// refreshes.
func (r *Resolver) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	r.wg.Wait()
}

// Lookup resolves a name.
//
// The precedence order is fixed: names this node is authoritative for answer
// immediately, then the cache, then the network. Errors follow the protocol
// taxonomy: ErrInvalidName for syntax, ErrNotFound when nobody claims the
// name, ErrUnreachable when the claimant did not answer verification.
func (r *Resolver) Lookup(ctx context.Context, raw string) (*Result, error) {
	name, err := ParseName(raw)
	if err != nil {
		return nil, err
	}
	lookupMeter.Mark(1)
	key := name.String()

	// Reserved names route to the built-in sites every node serves itself.
	if name.Kind == KindReserved {
		self := r.transport.Self()
		return &Result{Record: &Record{Name: key, Kind: KindReserved, Target: self, Owner: self}}, nil
	}

	// Authoritative shortcut. A computer name embedding the local id can
	// only ever be served here, so the registry's answer is final either
	// way.
	if name.Kind == KindComputer && name.Node == r.transport.Self() {
		if rec := r.registry.Lookup(name); rec != nil {
			return &Result{Record: rec}, nil
		}
		return nil, fmt.Errorf("%w: %s is not registered on this node", ErrNotFound, key)
	}
	// A live local alias needs no network round-trip. Shadowed aliases fall
	// through: the network-side winner is the answer everyone else sees.
	if name.Kind == KindAlias {
		if rec := r.registry.Lookup(name); rec != nil && !rec.Shadowed {
			return &Result{Record: rec}, nil
		}
	}

	switch rec, state := r.cache.Get(key); state {
	case Fresh:
		return r.result(key, rec, false), nil
	case Stale:
		r.refreshAsync(name)
		return r.result(key, rec, true), nil
	}
	if err := r.cache.Negative(key); err != nil {
		return nil, err
	}

	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.query(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// result assembles a cache-backed result, attaching the conflict warning if
// the name has a history.
func (r *Resolver) result(key string, rec *Record, stale bool) *Result {
	res := &Result{Record: rec, Stale: stale}
	if n := r.conflictCount(key); n >= 2 {
		res.Warning = fmt.Sprintf("name %s has %d conflicting claims on record", key, n)
	}
	return res
}

// query broadcasts a dns_query and aggregates the answers.
func (r *Resolver) query(ctx context.Context, name Name) (*Result, error) {
	key := name.String()
	queryMeter.Mark(1)

	payload := &wire.DNSQuery{Name: key, WantVerified: !r.cfg.AllowUnverified}
	var answers []*Record
	err := r.transport.Gather(ctx, wire.TypeDNSQuery, payload, r.cfg.QueryWindow, func(env *wire.Envelope) bool {
		var ans wire.DNSAnswer
		if env.DecodeData(&ans) != nil || ans.Name != key {
			return true
		}
		rec, err := recordFromAnswer(&ans)
		if err != nil {
			return true
		}
		rec.ttl = time.Duration(ans.TTL) * time.Second
		if name.Kind == KindComputer {
			// Only the embedded id can legitimately serve the name; any
			// other claim is noise. The first fitting answer ends the
			// window early.
			if rec.Target != name.Node {
				conflictMeter.Mark(1)
				return true
			}
			answers = append(answers, rec)
			return false
		}
		answers = append(answers, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		notFoundMeter.Mark(1)
		lerr := fmt.Errorf("%w: no answer for %s", ErrNotFound, key)
		r.cache.SetNegative(key, lerr)
		return nil, lerr
	}

	winner, conflicts := pickWinner(name, answers)
	if conflicts > 0 {
		conflictMeter.Mark(int64(conflicts))
		r.recordConflict(key)
		r.log.Debug("Conflicting DNS answers", "name", key, "conflicts", conflicts, "winner", winner.Owner)
	}

	// Verify the claim with a direct ping before anyone trusts it.
	verified := r.verify(ctx, winner.Target)
	if verified {
		winner.VerifiedAt = uint64(time.Now().UnixMilli())
	} else if !r.cfg.AllowUnverified {
		verifyFailMeter.Mark(1)
		lerr := fmt.Errorf("%w: %s claimed by node %d, no pong", ErrUnreachable, key, winner.Target)
		r.cache.SetNegative(key, lerr)
		return nil, lerr
	}

	if verified {
		ttl := winner.ttl
		if ttl <= 0 || ttl > r.cfg.MaxTTL {
			ttl = r.cfg.MaxTTL
		}
		r.cache.Set(winner, ttl)
	}
	res := r.result(key, winner.clone(), false)
	res.Unverified = !verified
	res.Conflicts = conflicts
	return res, nil
}

// pickWinner resolves competing answers. Computer names take the first
// answer (all candidates were already filtered to the embedded id); aliases
// go to the earliest registration, ties to the lowest owner id.
func pickWinner(name Name, answers []*Record) (winner *Record, conflicts int) {
	winner = answers[0]
	if name.Kind == KindComputer {
		return winner, len(answers) - 1
	}
	for _, rec := range answers[1:] {
		if rec.beats(winner) {
			winner = rec
		}
	}
	for _, rec := range answers {
		if rec.Owner != winner.Owner || rec.Target != winner.Target {
			conflicts++
		}
	}
	return winner, conflicts
}

// verify pings the claimed holder. The local node vouches for itself.
func (r *Resolver) verify(ctx context.Context, target wire.NodeID) bool {
	if target == r.transport.Self() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.VerifyTimeout)
	defer cancel()
	return r.transport.PingTimeout(ctx, target, r.cfg.VerifyTimeout) == nil
}

// refreshAsync re-runs the network query for a stale name off the caller's
// path. Collapsed through the same singleflight group as foreground lookups.
func (r *Resolver) refreshAsync(name Name) {
	key := name.String()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-r.quit:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.QueryWindow+r.cfg.VerifyTimeout)
		defer cancel()
		if _, err, _ := r.sf.Do(key, func() (interface{}, error) { return r.query(ctx, name) }); err != nil {
			r.log.Debug("Background DNS refresh failed", "name", key, "err", err)
		}
	}()
}

// HandleWithdraw processes a dns_withdraw broadcast: the named record is
// purged from the cache, and if one of our shadowed aliases just lost its
// blocker, its claim is re-checked.
func (r *Resolver) HandleWithdraw(env *wire.Envelope) {
	var wd wire.DNSWithdraw
	if err := env.DecodeData(&wd); err != nil {
		return
	}
	// Only the owner may withdraw its own record.
	if wd.Owner != env.Src {
		return
	}
	name, err := ParseName(wd.Name)
	if err != nil {
		return
	}
	key := name.String()
	if r.cache.RemoveOwned(key, wd.Owner) {
		withdrawServedMeter.Mark(1)
		r.log.Debug("Purged withdrawn DNS record", "name", key, "owner", wd.Owner)
	}
	if name.Kind != KindAlias {
		return
	}
	if rec := r.registry.Lookup(name); rec != nil && rec.Shadowed {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			select {
			case <-r.quit:
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.QueryWindow+time.Second)
			defer cancel()
			r.checkShadow(ctx, key)
		}()
	}
}

// refreshLoop periodically sweeps the cache and re-checks local alias claims
// so a later registrant learns it has been shadowed (or reclaims the name
// once the earlier claim is gone).
func (r *Resolver) refreshLoop() {
	defer r.wg.Done()

	timer := r.clock.NewTimer(r.cfg.RefreshInterval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			r.cache.Sweep()
			for _, rec := range r.registry.ListLocal() {
				if rec.Kind != KindAlias {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.QueryWindow+time.Second)
				r.checkShadow(ctx, rec.Name)
				cancel()
			}
			timer.Reset(r.cfg.RefreshInterval)
		case <-r.quit:
			return
		}
	}
}

// checkShadow queries the network for one of our alias names and adjusts the
// shadow flag: an earlier remote claim shadows ours, no such claim restores
// it.
func (r *Resolver) checkShadow(ctx context.Context, key string) {
	name, err := ParseName(key)
	if err != nil || name.Kind != KindAlias {
		return
	}
	ours := r.registry.Lookup(name)
	if ours == nil {
		return
	}
	var best *Record
	err = r.transport.Gather(ctx, wire.TypeDNSQuery, &wire.DNSQuery{Name: key}, r.cfg.QueryWindow, func(env *wire.Envelope) bool {
		var ans wire.DNSAnswer
		if env.DecodeData(&ans) != nil || ans.Name != key {
			return true
		}
		rec, err := recordFromAnswer(&ans)
		if err != nil || rec.Owner == r.transport.Self() {
			return true
		}
		if best == nil || rec.beats(best) {
			best = rec
		}
		return true
	})
	if err != nil {
		r.log.Debug("Shadow check query failed", "name", key, "err", err)
		return
	}
	r.registry.setShadowed(key, best != nil && best.beats(ours))
}

// recordConflict bumps the per-name tally of lookups that saw disagreement.
func (r *Resolver) recordConflict(key string) {
	n := r.conflictCount(key) + 1
	r.conflicts.Add(key, n)
}

func (r *Resolver) conflictCount(key string) int {
	if v, ok := r.conflicts.Get(key); ok {
		return v.(int)
	}
	return 0
}
