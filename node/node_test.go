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

package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rednet-explorer/go-rednet/crawler"
	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/internal/testlog"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet"
	"github.com/rednet-explorer/go-rednet/rednet/bus"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// writeSite lays out a small site: a static front page, a Lua handler and a
// nested document.
func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.rwml": `<title>Redstone Shop</title>
<h1>Redstone</h1>
<p>redstone torches and rails</p>
[link /greet Say hello]
[link /docs/guide Wiring guide]`,
		"greet.lua": `
response.set_header("content-type", "text/plain")
response.write("hello " .. (request.params["name"] or "traveler"))
`,
		"docs/guide.rwml": `<title>Wiring Guide</title><p>redstone circuits guide</p>`,
	}
	for name, src := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0700))
		require.NoError(t, os.WriteFile(p, []byte(src), 0600))
	}
	return dir
}

func newTestNode(t *testing.T, net *bus.MemNetwork, id wire.NodeID, mut func(*Config)) *Node {
	t.Helper()
	cfg := Config{
		Bus:         net.Join(id),
		QueryWindow: 75 * time.Millisecond,
		Crawl:       crawler.Limits{MinInterval: time.Millisecond},
		Log:         testlog.Logger(t, log.LvlTrace),
	}
	if mut != nil {
		mut(&cfg)
	}
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { n.Stop() })
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// The datadir lock admits one instance at a time, and the lifecycle errors
// distinguish double starts from use after stop.
func TestNodeLifecycle(t *testing.T) {
	net := bus.NewMemNetwork()
	dir := t.TempDir()
	logger := testlog.Logger(t, log.LvlTrace)

	n1, err := New(Config{Bus: net.Join(1), DataDir: dir, Log: logger})
	require.NoError(t, err)
	require.NoError(t, n1.Start())
	require.ErrorIs(t, n1.Start(), ErrNodeRunning)

	n2, err := New(Config{Bus: net.Join(2), DataDir: dir, Log: logger})
	require.NoError(t, err)
	require.ErrorIs(t, n2.Start(), ErrDatadirUsed)

	require.NoError(t, n1.Stop())
	require.ErrorIs(t, n1.Stop(), ErrNodeStopped)
	_, err = n1.Search("anything", 0)
	require.ErrorIs(t, err, ErrNodeStopped)

	// The lock is free now, the second instance may have the directory.
	require.NoError(t, n2.Start())
	require.NoError(t, n2.Stop())
}

// A second node resolves the host's names and fetches its pages: static
// files, Lua handlers, refusals and the built-in home site.
func TestNodeServeAndFetch(t *testing.T) {
	net := bus.NewMemNetwork()
	siteDir := writeSite(t)
	host := newTestNode(t, net, 40, func(cfg *Config) {
		cfg.Sites = []SiteDef{{Name: "shop", Root: siteDir}}
	})
	client := newTestNode(t, net, 41, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.Resolve(ctx, "shop")
	require.NoError(t, err)
	require.Equal(t, host.Self(), res.Record.Target)

	// Computer-form names embed the answering node's id.
	_, err = host.Register("api.comp40.rednet")
	require.NoError(t, err)
	res, err = client.Resolve(ctx, "api.comp40.rednet")
	require.NoError(t, err)
	require.Equal(t, wire.NodeID(40), res.Record.Target)

	page, err := client.Fetch(ctx, "rdnt://shop")
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, page.Status)
	require.Equal(t, "text/rwml", page.ContentType)
	require.Contains(t, page.Body, "Redstone Shop")

	page, err = client.Fetch(ctx, "rdnt://shop/greet?name=steve")
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, page.Status)
	require.Equal(t, "hello steve", page.Body)

	// Refusals are pages with a status, not transport errors.
	page, err = client.Fetch(ctx, "rdnt://shop/missing")
	require.NoError(t, err)
	require.Equal(t, wire.StatusNotFound, page.Status)

	// Reserved names are served by the requesting node itself.
	page, err = client.Fetch(ctx, "rdnt://home")
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, page.Status)
	require.Contains(t, page.Body, "rdnt://search")
}

// Nodes learn about each other: the client's start announce reaches the
// host, and answering a DNS query reveals the host to the client.
func TestNodePeerAnnounce(t *testing.T) {
	net := bus.NewMemNetwork()
	siteDir := writeSite(t)
	host := newTestNode(t, net, 40, func(cfg *Config) {
		cfg.Sites = []SiteDef{{Name: "shop", Root: siteDir}}
	})
	client := newTestNode(t, net, 41, nil)

	waitFor(t, 2*time.Second, func() bool {
		for _, p := range host.Peers() {
			if p.ID == 41 && p.Class == rednet.ClassClient {
				return true
			}
		}
		return false
	}, "host never saw the client's announce")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Resolve(ctx, "shop")
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		for _, p := range client.Peers() {
			if p.ID == 40 {
				return true
			}
		}
		return false
	}, "client never registered the host peer")
}

// A crawl seeded with a remote site walks its listing, indexes the pages
// and makes them searchable; an immediate re-crawl skips the fresh pages.
func TestNodeCrawlSearch(t *testing.T) {
	net := bus.NewMemNetwork()
	siteDir := writeSite(t)
	newTestNode(t, net, 40, func(cfg *Config) {
		cfg.Sites = []SiteDef{{Name: "shop", Root: siteDir}}
	})
	client := newTestNode(t, net, 41, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rep, err := client.Crawl(ctx, []string{"rdnt://shop"})
	require.NoError(t, err)
	require.Contains(t, rep.Indexed, "rdnt://shop/")
	require.Contains(t, rep.Indexed, "rdnt://shop/greet")
	require.Contains(t, rep.Indexed, "rdnt://shop/docs/guide")

	results, err := client.Search("redstone", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.True(t, strings.HasPrefix(results[0].URL, "rdnt://shop"), "result URL %q", results[0].URL)

	rep, err = client.Crawl(ctx, []string{"rdnt://shop"})
	require.NoError(t, err)
	require.Empty(t, rep.Indexed)
	require.Contains(t, rep.Refreshed, "rdnt://shop/")
}

// Unregistering broadcasts a withdraw; other nodes drop the record and the
// name stops resolving.
func TestNodeWithdraw(t *testing.T) {
	net := bus.NewMemNetwork()
	siteDir := writeSite(t)
	host := newTestNode(t, net, 40, func(cfg *Config) {
		cfg.Sites = []SiteDef{{Name: "shop", Root: siteDir}}
	})
	client := newTestNode(t, net, 41, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := client.Resolve(ctx, "shop")
	require.NoError(t, err)

	require.NoError(t, host.Unregister("shop"))
	require.NotContains(t, host.Names(), "shop")

	waitFor(t, 3*time.Second, func() bool {
		_, err := client.Resolve(ctx, "shop")
		return errors.Is(err, dns.ErrNotFound)
	}, "withdrawn name still resolves")
}

// Changed site files map onto the URLs the crawler indexes them under, so
// the watcher hook evicts the right documents.
func TestPageURL(t *testing.T) {
	tests := []struct {
		site, rel string
		want      string
		ok        bool
	}{
		{"shop", "index.rwml", "rdnt://shop/", true},
		{"shop", "greet.lua", "rdnt://shop/greet", true},
		{"shop", "docs/guide.rwml", "rdnt://shop/docs/guide", true},
		{"shop", "docs/index.lua", "rdnt://shop/docs", true},
		{"shop", "logo.nft", "rdnt://shop/logo.nft", true},
		{"shop.comp12.rednet", "index.rwml", "rdnt://shop.comp12.rednet/", true},
		{"", "index.rwml", "", false},
	}
	for _, tt := range tests {
		got, ok := pageURL(tt.site, tt.rel)
		if ok != tt.ok || got != tt.want {
			t.Errorf("pageURL(%q, %q) = %q, %v; want %q, %v", tt.site, tt.rel, got, ok, tt.want, tt.ok)
		}
	}
}

// The index snapshot written on shutdown seeds the next instance on the
// same datadir.
func TestNodeSnapshotRestart(t *testing.T) {
	net := bus.NewMemNetwork()
	dir := t.TempDir()
	logger := testlog.Logger(t, log.LvlTrace)

	n1, err := New(Config{Bus: net.Join(50), DataDir: dir, Log: logger})
	require.NoError(t, err)
	require.NoError(t, n1.Start())
	n1.Index().AddDocument("rdnt://torches/", "Torch Shop", "redstone torches for sale", "rwml")
	require.NoError(t, n1.Stop())

	_, err = os.Stat(filepath.Join(dir, snapshotName))
	require.NoError(t, err, "no snapshot written on shutdown")

	n2, err := New(Config{Bus: net.Join(51), DataDir: dir, Log: logger})
	require.NoError(t, err)
	require.NoError(t, n2.Start())
	defer n2.Stop()

	results, err := n2.Search("redstone", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results, "snapshot did not restore the index")
	require.Equal(t, "rdnt://torches/", results[0].URL)
}
