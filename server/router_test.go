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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rednet-explorer/go-rednet/internal/testlog"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
	"github.com/rednet-explorer/go-rednet/safety"
	"github.com/rednet-explorer/go-rednet/sandbox"
	"github.com/rednet-explorer/go-rednet/search"
	"github.com/rednet-explorer/go-rednet/search/query"
)

const testSelf = wire.NodeID(7)

// capture records what the router sent back instead of a real transport.
type capture struct {
	mu        sync.Mutex
	responses []*wire.Response
	faults    []wire.Fault
}

func (c *capture) Respond(to wire.NodeID, inReplyTo string, resp *wire.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
	return nil
}

func (c *capture) RespondError(to wire.NodeID, inReplyTo string, status int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, wire.Fault{Re: inReplyTo, Status: status, Reason: reason})
	return nil
}

// lastResponse fails the test unless exactly one response and no fault was
// sent.
func (c *capture) lastResponse(t *testing.T) *wire.Response {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.faults) > 0 {
		t.Fatalf("unexpected fault: %+v", c.faults[len(c.faults)-1])
	}
	if len(c.responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(c.responses))
	}
	resp := c.responses[0]
	c.responses = nil
	return resp
}

// lastFault fails the test unless exactly one fault and no response was
// sent.
func (c *capture) lastFault(t *testing.T) wire.Fault {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) > 0 {
		t.Fatalf("unexpected response: %+v", c.responses[len(c.responses)-1])
	}
	if len(c.faults) != 1 {
		t.Fatalf("got %d faults, want 1", len(c.faults))
	}
	f := c.faults[0]
	c.faults = nil
	return f
}

func newTestPool(t *testing.T) *sandbox.Pool {
	t.Helper()
	return sandbox.NewPool(sandbox.Config{
		WallClock: 200 * time.Millisecond,
		Log:       testlog.Logger(t, log.LvlTrace),
	})
}

func newTestRouter(t *testing.T) (*Router, *capture, string) {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir)

	pool := newTestPool(t)
	sessions := NewSessionManager(SessionManagerConfig{Log: testlog.Logger(t, log.LvlTrace)})
	t.Cleanup(sessions.Close)

	cap := new(capture)
	r := NewRouter(RouterConfig{
		Self:      testSelf,
		Transport: cap,
		Sessions:  sessions,
		Pool:      pool,
		Scanner:   safety.Default(),
		Log:       testlog.Logger(t, log.LvlTrace),
	})
	site, err := NewSite(SiteConfig{
		Name: "comp7.rednet",
		Root: dir,
		Pool: pool,
		Log:  testlog.Logger(t, log.LvlTrace),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(site.Close)
	r.AddSite(site)
	return r, cap, dir
}

var reqSeq int

// request builds an inbound request envelope the way the transport would
// deliver it.
func request(t *testing.T, req *wire.Request) *wire.Envelope {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	reqSeq++
	return &wire.Envelope{
		Version: wire.Version,
		Type:    wire.TypeRequest,
		ID:      fmt.Sprintf("9-%d", reqSeq),
		Src:     9,
		Data:    data,
	}
}

func TestRouterStatic(t *testing.T) {
	r, cap, _ := newTestRouter(t)

	r.HandleRequest(request(t, &wire.Request{URL: "rdnt://comp7.rednet/about"}))
	resp := cap.lastResponse(t)
	if resp.Status != wire.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if resp.Headers["content-type"] != "text/rwml" {
		t.Fatalf("content-type = %q", resp.Headers["content-type"])
	}
	if resp.Body != "<p>about us</p>" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestRouterHandler(t *testing.T) {
	r, cap, dir := newTestRouter(t)

	src := `
		response.set_header("content-type", "text/plain")
		response.write("hello " .. (request.params["name"] or "stranger"))
	`
	if err := os.WriteFile(filepath.Join(dir, "greet.lua"), []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	r.HandleRequest(request(t, &wire.Request{URL: "comp7/greet?name=ada"}))
	resp := cap.lastResponse(t)
	if resp.Status != wire.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if resp.Body != "hello ada" {
		t.Fatalf("body = %q", resp.Body)
	}
	if resp.Headers["content-type"] != "text/plain" {
		t.Fatalf("content-type = %q", resp.Headers["content-type"])
	}
	if resp.Cookies[SessionCookie] == "" {
		t.Fatal("first visit did not set a session cookie")
	}
}

func TestRouterSessionRoundTrip(t *testing.T) {
	r, cap, dir := newTestRouter(t)

	src := `
		local n = tonumber(session.get("visits") or "0") + 1
		session.set("visits", tostring(n))
		response.write(tostring(n))
	`
	if err := os.WriteFile(filepath.Join(dir, "count.lua"), []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	r.HandleRequest(request(t, &wire.Request{URL: "comp7/count"}))
	first := cap.lastResponse(t)
	if first.Body != "1" {
		t.Fatalf("first visit = %q, want 1", first.Body)
	}
	sid := first.Cookies[SessionCookie]
	if sid == "" {
		t.Fatal("no session cookie on first visit")
	}

	r.HandleRequest(request(t, &wire.Request{
		URL:     "comp7/count",
		Cookies: map[string]string{SessionCookie: sid},
	}))
	second := cap.lastResponse(t)
	if second.Body != "2" {
		t.Fatalf("second visit = %q, want 2", second.Body)
	}
	if second.Cookies[SessionCookie] != "" {
		t.Fatal("returning visitor was handed a new cookie")
	}
}

func TestRouterRefusals(t *testing.T) {
	r, cap, dir := newTestRouter(t)

	handlers := map[string]string{
		"boom.lua": `error("boom")`,
		"spin.lua": `while true do end`,
		"peek.lua": `local c = os.clock`,
	}
	for name, src := range handlers {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0600); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		url    string
		status int
		reason string
	}{
		{"rdnt://comp7.rednet/missing", wire.StatusNotFound, "no such page"},
		{"rdnt://comp8.rednet/", wire.StatusNotFound, "not served here"},
		{"rdnt://nosuchsite/", wire.StatusNotFound, "no such site"},
		{"rdnt://comp7/boom", wire.StatusInternalError, "script error"},
		{"rdnt://comp7/spin", wire.StatusServiceUnavailable, "limit_exceeded"},
		{"rdnt://comp7/peek", wire.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		r.HandleRequest(request(t, &wire.Request{URL: tt.url}))
		fault := cap.lastFault(t)
		if fault.Status != tt.status || fault.Reason != tt.reason {
			t.Errorf("%s: fault = %d %q, want %d %q",
				tt.url, fault.Status, fault.Reason, tt.status, tt.reason)
		}
	}
}

func TestRouterHandlerStatus(t *testing.T) {
	r, cap, dir := newTestRouter(t)

	// A handler that picks its own status still gets a response envelope,
	// not a fault: the page exists, it just says no.
	src := `
		response.set_status(401)
		response.write("who are you?")
	`
	if err := os.WriteFile(filepath.Join(dir, "gate.lua"), []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	r.HandleRequest(request(t, &wire.Request{URL: "comp7/gate"}))
	resp := cap.lastResponse(t)
	if resp.Status != wire.StatusUnauthorized || resp.Body != "who are you?" {
		t.Fatalf("resp = %d %q", resp.Status, resp.Body)
	}
}

func TestRouterScannerBlocks(t *testing.T) {
	r, cap, dir := newTestRouter(t)

	evil := `<p>paste this: shell.run("wipe")</p>`
	if err := os.WriteFile(filepath.Join(dir, "bait.rwml"), []byte(evil), 0600); err != nil {
		t.Fatal(err)
	}
	r.HandleRequest(request(t, &wire.Request{URL: "comp7/bait"}))
	fault := cap.lastFault(t)
	if fault.Status != wire.StatusForbidden || fault.Reason != "content blocked" {
		t.Fatalf("fault = %d %q", fault.Status, fault.Reason)
	}
}

func TestRouterPermissionHook(t *testing.T) {
	r, cap, _ := newTestRouter(t)
	r.cfg.Permission = PermissionFunc(func(from wire.NodeID, site, path string) error {
		if path == "/logo.nfp" {
			return fmt.Errorf("%w: assets are private", ErrDenied)
		}
		return nil
	})

	r.HandleRequest(request(t, &wire.Request{URL: "comp7/logo.nfp"}))
	fault := cap.lastFault(t)
	if fault.Status != wire.StatusForbidden {
		t.Fatalf("status = %d, want 403", fault.Status)
	}
	r.HandleRequest(request(t, &wire.Request{URL: "comp7/about"}))
	if resp := cap.lastResponse(t); resp.Status != wire.StatusOK {
		t.Fatalf("allowed path status = %d", resp.Status)
	}
}

func TestRouterCrawlListing(t *testing.T) {
	r, cap, _ := newTestRouter(t)

	data, _ := json.Marshal(&wire.CrawlRequest{Name: "comp7.rednet"})
	r.HandleCrawl(&wire.Envelope{Type: wire.TypeCrawl, ID: "9-77", Src: 9, Data: data})

	resp := cap.lastResponse(t)
	if resp.Headers["content-type"] != "application/json" {
		t.Fatalf("content-type = %q", resp.Headers["content-type"])
	}
	var pages []string
	if err := json.Unmarshal([]byte(resp.Body), &pages); err != nil {
		t.Fatal(err)
	}
	want := []string{"/", "/about", "/docs/", "/docs/api", "/logo.nfp", "/shop"}
	if strings.Join(pages, ",") != strings.Join(want, ",") {
		t.Fatalf("pages = %v, want %v", pages, want)
	}
}

func TestBuiltinSearch(t *testing.T) {
	r, cap, _ := newTestRouter(t)

	ix := search.New(search.Config{Log: testlog.Logger(t, log.LvlTrace)})
	ix.AddDocument("rdnt://wiki.comp3.rednet/redstone", "Redstone Guide", "all about redstone circuits", "rwml")
	engine := query.NewEngine(ix, query.Config{Log: testlog.Logger(t, log.LvlTrace)})
	r.RegisterBuiltin("search", SearchBuiltin(engine))

	r.HandleRequest(request(t, &wire.Request{URL: "rdnt://search?q=redstone"}))
	resp := cap.lastResponse(t)
	if resp.Status != wire.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if !strings.Contains(resp.Body, "Redstone Guide") {
		t.Fatalf("results page missing hit:\n%s", resp.Body)
	}
	if !strings.Contains(resp.Body, "rdnt://wiki.comp3.rednet/redstone") {
		t.Fatalf("results page missing url:\n%s", resp.Body)
	}
}

func TestBuiltinHome(t *testing.T) {
	r, cap, _ := newTestRouter(t)

	r.RegisterBuiltin("home", HomeBuiltin(HomeData{
		Version: "0.8.3",
		Names:   func() []string { return []string{"comp7.rednet", "shop.comp7.rednet"} },
		Peers:   func() int { return 4 },
	}))
	r.HandleRequest(request(t, &wire.Request{URL: "home"}))
	resp := cap.lastResponse(t)
	if resp.Status != wire.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	for _, want := range []string{"0.8.3", "4 peers", "shop.comp7.rednet", "rdnt://search"} {
		if !strings.Contains(resp.Body, want) {
			t.Fatalf("home page missing %q:\n%s", want, resp.Body)
		}
	}
}
