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
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// State classifies a cache lookup.
type State int

const (
	// Miss: no usable entry.
	Miss State = iota

	// Fresh: the entry is within its TTL.
	Fresh

	// Stale: the TTL has passed but the grace period has not. Stale
	// answers are served while a refresh runs, trading brief staleness
	// for availability.
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// CacheConfig holds the cache settings. Zero values select the defaults.
type CacheConfig struct {
	TTL         time.Duration // freshness span of learned records (default 5m)
	StaleGrace  time.Duration // span a stale record stays servable (default 30s)
	NegativeTTL time.Duration // span failed lookups are remembered (default 10s)
	MaxEntries  int           // record capacity (default 1024)

	Clock mclock.Clock // expiry clock, for testing
	Log   log.Logger
}

func (cfg CacheConfig) withDefaults() CacheConfig {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.StaleGrace == 0 {
		cfg.StaleGrace = 30 * time.Second
	}
	if cfg.NegativeTTL == 0 {
		cfg.NegativeTTL = 10 * time.Second
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

type cacheEntry struct {
	rec     *Record
	freshTo mclock.AbsTime // fresh until here, stale for StaleGrace after
}

type negativeEntry struct {
	err   error
	until mclock.AbsTime
}

// Cache holds records learned from peers, bounded in count and age. Expired
// entries linger briefly as stale answers so lookups keep working while a
// refresh is in flight. Failed lookups are remembered for a few seconds to
// damp query storms against names nobody serves.
type Cache struct {
	cfg      CacheConfig
	clock    mclock.Clock
	log      log.Logger
	entries  *lru.Cache // name -> *cacheEntry
	negative *lru.Cache // name -> *negativeEntry
}

// NewCache creates an empty record cache.
func NewCache(cfg CacheConfig) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Log,
	}
	c.entries, _ = lru.New(cfg.MaxEntries)
	c.negative, _ = lru.New(256)
	return c
}

// Get returns the cached record for name and how trustworthy it still is.
// Entries past their grace period read as misses.
func (c *Cache) Get(name string) (*Record, State) {
	v, ok := c.entries.Get(name)
	if !ok {
		return nil, Miss
	}
	e := v.(*cacheEntry)
	now := c.clock.Now()
	switch {
	case now <= e.freshTo:
		cacheHitMeter.Mark(1)
		return e.rec.clone(), Fresh
	case now <= e.freshTo.Add(c.cfg.StaleGrace):
		cacheStaleMeter.Mark(1)
		return e.rec.clone(), Stale
	default:
		c.entries.Remove(name)
		return nil, Miss
	}
}

// Set stores a learned record. A non-positive ttl selects the default. The
// record's ExpiresAt is stamped for display; expiry itself runs on the
// monotonic clock.
func (c *Cache) Set(rec *Record, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	rec = rec.clone()
	rec.ExpiresAt = uint64(time.Now().Add(ttl).UnixMilli())
	c.entries.Add(rec.Name, &cacheEntry{
		rec:     rec,
		freshTo: c.clock.Now().Add(ttl),
	})
	c.negative.Remove(rec.Name)
}

// Remove drops the entry for name.
func (c *Cache) Remove(name string) {
	c.entries.Remove(name)
}

// RemoveOwned drops the entry for name only when the cached record is owned
// by the given node. Withdraw handling uses it so a third party cannot evict
// someone else's record.
func (c *Cache) RemoveOwned(name string, owner wire.NodeID) bool {
	v, ok := c.entries.Peek(name)
	if !ok || v.(*cacheEntry).rec.Owner != owner {
		return false
	}
	c.entries.Remove(name)
	return true
}

// SetNegative remembers a failed lookup so immediate retries short-circuit.
func (c *Cache) SetNegative(name string, err error) {
	c.negative.Add(name, &negativeEntry{
		err:   err,
		until: c.clock.Now().Add(c.cfg.NegativeTTL),
	})
}

// Negative returns the remembered failure for name, or nil.
func (c *Cache) Negative(name string) error {
	v, ok := c.negative.Get(name)
	if !ok {
		return nil
	}
	e := v.(*negativeEntry)
	if c.clock.Now() > e.until {
		c.negative.Remove(name)
		return nil
	}
	negativeHitMeter.Mark(1)
	return e.err
}

// Sweep evicts entries past their grace period and expired negative entries,
// returning how many records were dropped. The resolver runs this on its
// refresh cadence; Get also evicts lazily, so sweeping is about memory, not
// correctness.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	evicted := 0
	for _, k := range c.entries.Keys() {
		v, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		if now > v.(*cacheEntry).freshTo.Add(c.cfg.StaleGrace) {
			c.entries.Remove(k)
			evicted++
		}
	}
	for _, k := range c.negative.Keys() {
		v, ok := c.negative.Peek(k)
		if ok && now > v.(*negativeEntry).until {
			c.negative.Remove(k)
		}
	}
	if evicted > 0 {
		c.log.Trace("Swept DNS cache", "evicted", evicted)
	}
	return evicted
}

// Clear drops every entry, positive and negative.
func (c *Cache) Clear() {
	c.entries.Purge()
	c.negative.Purge()
}

// Len returns the number of positive entries, servable or not.
func (c *Cache) Len() int {
	return c.entries.Len()
}
