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
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/internal/testlog"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

type resolverTest struct {
	transport *fakeTransport
	registry  *Registry
	cache     *Cache
	resolver  *Resolver
	clock     *mclock.Simulated
}

func newResolverTest(t *testing.T, self wire.NodeID, allowUnverified bool) *resolverTest {
	t.Helper()

	clock := new(mclock.Simulated)
	tr := newFakeTransport(self)
	reg := newTestRegistry(t, self, tr)
	cache := NewCache(CacheConfig{Clock: clock, Log: testlog.Logger(t, log.LvlTrace)})
	r, err := NewResolver(ResolverConfig{
		Registry:        reg,
		Cache:           cache,
		Transport:       tr,
		AllowUnverified: allowUnverified,
		Clock:           clock,
		Log:             testlog.Logger(t, log.LvlTrace),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)
	return &resolverTest{transport: tr, registry: reg, cache: cache, resolver: r, clock: clock}
}

func (rt *resolverTest) lookup(t *testing.T, name string) *Result {
	t.Helper()
	res, err := rt.resolver.Lookup(context.Background(), name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return res
}

// A computer name resolves to the node id embedded in it, is verified with a
// ping, and subsequent lookups come from the cache.
func TestResolverComputerName(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("shop.comp1234.rednet", 1234, 1234, 1000, 300)
	rt.transport.setAlive(1234, true)

	res := rt.lookup(t, "shop.comp1234.rednet")
	if res.Record.Target != 1234 {
		t.Fatalf("target = %d, want 1234", res.Record.Target)
	}
	if res.Stale || res.Unverified || res.Conflicts != 0 {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if res.Record.VerifiedAt == 0 {
		t.Fatal("verification time not stamped")
	}

	// Second lookup is served from the cache without a network query.
	rt.lookup(t, "shop.comp1234.rednet")
	if n := rt.transport.queryCount(); n != 1 {
		t.Fatalf("query count = %d, want 1", n)
	}
}

// Answers claiming a computer name for a different node are discarded as
// noise, so a name nobody legitimately serves reads as not found.
func TestResolverComputerNameImposter(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("shop.comp1234.rednet", 9999, 9999, 1000, 300)
	rt.transport.setAlive(9999, true)

	_, err := rt.resolver.Lookup(context.Background(), "shop.comp1234.rednet")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// Names embedding the local node id never hit the network: the registry
// answer is final in both directions.
func TestResolverAuthoritativeShortcut(t *testing.T) {
	rt := newResolverTest(t, 1234, false)
	if _, err := rt.registry.Register("shop.comp1234.rednet"); err != nil {
		t.Fatal(err)
	}

	res := rt.lookup(t, "shop.comp1234.rednet")
	if res.Record.Target != 1234 {
		t.Fatalf("target = %d, want 1234", res.Record.Target)
	}
	if _, err := rt.resolver.Lookup(context.Background(), "other.comp1234.rednet"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unregistered local name: err = %v, want ErrNotFound", err)
	}
	if n := rt.transport.queryCount(); n != 0 {
		t.Fatalf("query count = %d, want 0", n)
	}
}

// Reserved names resolve to the local node, which serves the built-in sites.
func TestResolverReservedName(t *testing.T) {
	rt := newResolverTest(t, 1234, false)

	res := rt.lookup(t, "home")
	if res.Record.Kind != KindReserved || res.Record.Target != 1234 {
		t.Fatalf("reserved record wrong: %+v", res.Record)
	}
	if n := rt.transport.queryCount(); n != 0 {
		t.Fatalf("query count = %d, want 0", n)
	}
}

func TestResolverInvalidName(t *testing.T) {
	rt := newResolverTest(t, 1234, false)
	if _, err := rt.resolver.Lookup(context.Background(), "bad_name"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

// Conflicting alias claims go to the earliest registration.
func TestResolverAliasConflict(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("news", 2222, 2222, 6000, 300)
	rt.transport.addAnswer("news", 1111, 1111, 1000, 300)
	rt.transport.setAlive(1111, true)
	rt.transport.setAlive(2222, true)

	res := rt.lookup(t, "news")
	if res.Record.Owner != 1111 {
		t.Fatalf("winner = %d, want 1111 (earliest registration)", res.Record.Owner)
	}
	if res.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", res.Conflicts)
	}
}

// Equal registration times break toward the lowest owner id.
func TestResolverAliasTiebreak(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("news", 3333, 3333, 1000, 300)
	rt.transport.addAnswer("news", 1111, 1111, 1000, 300)
	rt.transport.setAlive(1111, true)
	rt.transport.setAlive(3333, true)

	res := rt.lookup(t, "news")
	if res.Record.Owner != 1111 {
		t.Fatalf("winner = %d, want 1111 (lowest id)", res.Record.Owner)
	}
}

// Unanswered names read as not found and the failure is memoized briefly.
func TestResolverNotFound(t *testing.T) {
	rt := newResolverTest(t, 5678, false)

	_, err := rt.resolver.Lookup(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// The negative entry short-circuits an immediate retry.
	if _, err := rt.resolver.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retry err = %v, want ErrNotFound", err)
	}
	if n := rt.transport.queryCount(); n != 1 {
		t.Fatalf("query count = %d, want 1", n)
	}
	// After the negative TTL, the network is asked again.
	rt.clock.Run(11 * time.Second)
	if _, err := rt.resolver.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("late retry err = %v, want ErrNotFound", err)
	}
	if n := rt.transport.queryCount(); n != 2 {
		t.Fatalf("query count = %d, want 2", n)
	}
}

// A claimed name whose holder does not answer the verification ping is
// unreachable, not not-found.
func TestResolverUnreachable(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("dark", 666, 666, 1000, 300)

	_, err := rt.resolver.Lookup(context.Background(), "dark")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if rt.cache.Len() != 0 {
		t.Fatal("unverified record was cached")
	}
}

// With AllowUnverified the record is returned flagged and stays uncached.
func TestResolverAllowUnverified(t *testing.T) {
	rt := newResolverTest(t, 5678, true)
	rt.transport.addAnswer("dark", 666, 666, 1000, 300)

	res := rt.lookup(t, "dark")
	if !res.Unverified {
		t.Fatal("result not flagged unverified")
	}
	if rt.cache.Len() != 0 {
		t.Fatal("unverified record was cached")
	}
	rt.lookup(t, "dark")
	if n := rt.transport.queryCount(); n != 2 {
		t.Fatalf("query count = %d, want 2 (nothing cached)", n)
	}
}

// Stale cache entries are served immediately while a background refresh
// replaces them.
func TestResolverStaleServe(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("news", 1111, 1111, 1000, 10)
	rt.transport.setAlive(1111, true)

	rt.lookup(t, "news")
	rt.clock.Run(11 * time.Second) // past the 10s answer TTL, within grace

	res := rt.lookup(t, "news")
	if !res.Stale {
		t.Fatal("expected a stale result while the refresh runs")
	}
	rt.resolver.wg.Wait() // refresh done
	if n := rt.transport.queryCount(); n != 2 {
		t.Fatalf("query count = %d, want 2 after refresh", n)
	}
	res = rt.lookup(t, "news")
	if res.Stale {
		t.Fatal("still stale after refresh")
	}
	if n := rt.transport.queryCount(); n != 2 {
		t.Fatalf("query count = %d, want 2 (refreshed entry served)", n)
	}
}

func withdrawEnvelope(t *testing.T, src wire.NodeID, name string, owner wire.NodeID) *wire.Envelope {
	t.Helper()
	data, err := json.Marshal(&wire.DNSWithdraw{Name: name, Owner: owner})
	if err != nil {
		t.Fatal(err)
	}
	return &wire.Envelope{Version: 1, Type: wire.TypeDNSWithdraw, ID: src.String() + "-1", Src: src, Data: data}
}

// A withdraw purges the cached record, but only when it comes from the owner.
func TestResolverHandleWithdraw(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.cache.Set(testRecord("news", 2222, 1000), 0)

	// Spoofed source, then mismatched owner field: both ignored.
	rt.resolver.HandleWithdraw(withdrawEnvelope(t, 3333, "news", 2222))
	rt.resolver.HandleWithdraw(withdrawEnvelope(t, 2222, "news", 3333))
	if _, state := rt.cache.Get("news"); state != Fresh {
		t.Fatal("record purged by a non-owner withdraw")
	}

	rt.resolver.HandleWithdraw(withdrawEnvelope(t, 2222, "news", 2222))
	if _, state := rt.cache.Get("news"); state != Miss {
		t.Fatal("record survived the owner's withdraw")
	}
}

// When the blocking claim is withdrawn, a shadowed local alias is re-checked
// and reclaimed.
func TestResolverWithdrawReclaimsShadowedAlias(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	if _, err := rt.registry.Register("news"); err != nil {
		t.Fatal(err)
	}
	rt.registry.setShadowed("news", true)

	rt.resolver.HandleWithdraw(withdrawEnvelope(t, 1111, "news", 1111))
	rt.resolver.wg.Wait()

	name, _ := ParseName("news")
	if rec := rt.registry.Lookup(name); rec == nil || rec.Shadowed {
		t.Fatalf("alias not reclaimed: %+v", rec)
	}
}

// checkShadow flags a local alias when an earlier remote claim exists and
// clears the flag once it is gone.
func TestResolverShadowCheck(t *testing.T) {
	rt := newResolverTest(t, 2222, false)
	if _, err := rt.registry.Register("news"); err != nil {
		t.Fatal(err)
	}
	rt.transport.addAnswer("news", 1111, 1111, 1000, 300)

	rt.resolver.checkShadow(context.Background(), "news")
	name, _ := ParseName("news")
	if rec := rt.registry.Lookup(name); rec == nil || !rec.Shadowed {
		t.Fatalf("alias not shadowed by the earlier claim: %+v", rec)
	}

	rt.transport.clearAnswers("news")
	rt.resolver.checkShadow(context.Background(), "news")
	if rec := rt.registry.Lookup(name); rec == nil || rec.Shadowed {
		t.Fatalf("alias not reclaimed after the claim vanished: %+v", rec)
	}
}

// A shadowed local alias is resolved over the network, so every node agrees
// on the first-come winner.
func TestResolverShadowedAliasLookup(t *testing.T) {
	rt := newResolverTest(t, 2222, false)
	if _, err := rt.registry.Register("news"); err != nil {
		t.Fatal(err)
	}
	rt.transport.addAnswer("news", 1111, 1111, 1000, 300)
	rt.transport.setAlive(1111, true)

	// Live local alias answers locally.
	res := rt.lookup(t, "news")
	if res.Record.Target != 2222 {
		t.Fatalf("live alias target = %d, want 2222", res.Record.Target)
	}

	rt.registry.setShadowed("news", true)
	res = rt.lookup(t, "news")
	if res.Record.Target != 1111 {
		t.Fatalf("shadowed alias target = %d, want the network winner 1111", res.Record.Target)
	}
}

// Repeated conflicting lookups attach a warning to later results.
func TestResolverConflictWarning(t *testing.T) {
	rt := newResolverTest(t, 5678, false)
	rt.transport.addAnswer("news", 2222, 2222, 6000, 1)
	rt.transport.addAnswer("news", 1111, 1111, 1000, 1)
	rt.transport.setAlive(1111, true)
	rt.transport.setAlive(2222, true)

	rt.lookup(t, "news")
	// Expire the 1s-TTL entry past its grace period to force fresh queries.
	rt.clock.Run(time.Minute)
	rt.lookup(t, "news")
	rt.clock.Run(time.Minute)

	res := rt.lookup(t, "news")
	if res.Warning == "" {
		t.Fatal("expected a conflict warning after repeated disagreement")
	}
}
