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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

var (
	// ErrUnauthorized rejects registrations the local node has no claim to.
	ErrUnauthorized = errors.New("not authorized for name")

	// ErrReserved rejects registrations of fenced-off labels. It matches
	// ErrUnauthorized in errors.Is checks.
	ErrReserved = fmt.Errorf("%w: reserved", ErrUnauthorized)

	// ErrNotFound reports that no record exists for a name.
	ErrNotFound = errors.New("name not found")
)

// RegistryConfig holds the settings of the authoritative registry.
type RegistryConfig struct {
	// Self is the local node id. Computer-form registrations must embed it.
	Self wire.NodeID

	// Store persists registrations across restarts. Required.
	Store *Store

	// Transport carries withdraw broadcasts and query answers. A nil
	// transport keeps the registry local-only, which tests use.
	Transport Transport

	// These settings are optional:
	AnswerTTL time.Duration    // cache lifetime advertised in answers (default 5m)
	Now       func() time.Time // wall clock source, for testing
	Log       log.Logger
}

func (cfg RegistryConfig) withDefaults() RegistryConfig {
	if cfg.AnswerTTL == 0 {
		cfg.AnswerTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Registry holds the names this node registered and answers network queries
// for them. It is the authoritative side of the DNS system; learned records
// live in the Cache.
type Registry struct {
	cfg   RegistryConfig
	store *Store
	log   log.Logger

	mu    sync.RWMutex
	local map[string]*Record
}

// NewRegistry creates a registry over the given store, loading any records a
// previous run persisted.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errors.New("dns registry needs a store")
	}
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:   cfg,
		store: cfg.Store,
		log:   cfg.Log.New("sys", "dns"),
		local: make(map[string]*Record),
	}
	for _, rec := range cfg.Store.Records() {
		r.local[rec.Name] = rec
	}
	if len(r.local) > 0 {
		r.log.Info("Loaded local DNS records", "records", len(r.local))
	}
	return r, nil
}

// Register claims a name for the local node. Computer-form names must embed
// the local node id; aliases are claimed as-is and may later be shadowed if
// an earlier claim surfaces. Re-registering an owned name is a no-op
// returning the existing record.
func (r *Registry) Register(raw string) (*Record, error) {
	name, err := ParseName(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case name.Kind == KindReserved:
		return nil, fmt.Errorf("%w name %q", ErrReserved, name.Alias)
	case name.Kind == KindComputer && Reserved(name.Sub):
		return nil, fmt.Errorf("%w subdomain %q", ErrReserved, name.Sub)
	case name.Kind == KindComputer && name.Node != r.cfg.Self:
		return nil, fmt.Errorf("%w: embeds node %d, this is node %d", ErrUnauthorized, name.Node, r.cfg.Self)
	}
	key := name.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.local[key]; ok {
		return rec.clone(), nil
	}
	rec := &Record{
		Name:         key,
		Kind:         name.Kind,
		Sub:          name.Sub,
		Target:       r.cfg.Self,
		Owner:        r.cfg.Self,
		RegisteredAt: uint64(r.cfg.Now().UnixMilli()),
	}
	if err := r.store.Put(rec); err != nil {
		return nil, err
	}
	r.local[key] = rec
	registerMeter.Mark(1)
	r.log.Info("Registered DNS name", "name", key, "kind", name.Kind)
	return rec.clone(), nil
}

// Unregister withdraws a local registration. Peers are told so their caches
// purge the record instead of waiting out the TTL.
func (r *Registry) Unregister(raw string) error {
	name, err := ParseName(raw)
	if err != nil {
		return err
	}
	key := name.String()

	r.mu.Lock()
	_, ok := r.local[key]
	delete(r.local, key)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := r.store.Delete(key); err != nil {
		return err
	}
	withdrawMeter.Mark(1)
	r.log.Info("Unregistered DNS name", "name", key)
	if r.cfg.Transport != nil {
		err := r.cfg.Transport.Broadcast(wire.TypeDNSWithdraw, &wire.DNSWithdraw{Name: key, Owner: r.cfg.Self})
		if err != nil {
			r.log.Debug("Withdraw broadcast failed", "name", key, "err", err)
		}
	}
	return nil
}

// ListLocal returns all local registrations, ordered by name.
func (r *Registry) ListLocal() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.local))
	for _, rec := range r.local {
		out = append(out, rec.clone())
	}
	slices.SortFunc(out, func(a, b *Record) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Names returns the local registration names, for peer announcements.
func (r *Registry) Names() []string {
	recs := r.ListLocal()
	names := make([]string, len(recs))
	for i, rec := range recs {
		names[i] = rec.Name
	}
	return names
}

// Lookup returns the local record for a name, or nil. Shadowed aliases are
// returned as well; the caller checks the flag.
func (r *Registry) Lookup(name Name) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.local[name.String()]; ok {
		return rec.clone()
	}
	return nil
}

// setShadowed flips the shadow flag on a local alias. A shadowed alias keeps
// working for local lookups but is withheld from network answers until the
// earlier claim disappears.
func (r *Registry) setShadowed(key string, shadowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.local[key]
	if !ok || rec.Shadowed == shadowed {
		return
	}
	rec.Shadowed = shadowed
	if err := r.store.Put(rec); err != nil {
		r.log.Warn("Failed to persist shadow flag", "name", key, "err", err)
	}
	if shadowed {
		shadowMeter.Mark(1)
		r.log.Warn("Local alias shadowed by earlier claim", "name", key)
	} else {
		r.log.Info("Local alias reclaimed", "name", key)
	}
}

// shadowedAliases returns the local aliases currently marked shadowed.
func (r *Registry) shadowedAliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for key, rec := range r.local {
		if rec.Kind == KindAlias && rec.Shadowed {
			out = append(out, key)
		}
	}
	return out
}

// HandleQuery answers a broadcast dns_query when the name is registered
// here. Shadowed aliases stay silent so the network converges on the
// first-come winner.
func (r *Registry) HandleQuery(env *wire.Envelope) {
	var q wire.DNSQuery
	if err := env.DecodeData(&q); err != nil {
		return
	}
	name, err := ParseName(q.Name)
	if err != nil || name.Kind == KindReserved {
		return
	}

	r.mu.RLock()
	rec, ok := r.local[name.String()]
	if ok && rec.Shadowed {
		ok = false
	}
	var ans *wire.DNSAnswer
	if ok {
		ans = rec.Answer(env.ID, r.cfg.AnswerTTL)
	}
	r.mu.RUnlock()

	if !ok || r.cfg.Transport == nil {
		return
	}
	queryServedMeter.Mark(1)
	if err := r.cfg.Transport.Answer(env.Src, wire.TypeDNSAnswer, ans); err != nil {
		r.log.Debug("DNS answer send failed", "to", env.Src, "err", err)
	}
}
