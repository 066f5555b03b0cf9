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

package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/internal/testlog"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/safety"
	"github.com/rednet-explorer/go-rednet/search"
)

// fakeSite is one host's fixture content.
type fakeSite struct {
	listing []string
	pages   map[string]string // path -> rwml body
	robots  string            // empty means no robots.txt (404)
	dead    bool              // page fetches fail at the transport level
}

// fakeNet implements Fetcher over fixtures and records fetch order.
type fakeNet struct {
	sites map[string]*fakeSite

	mu      sync.Mutex
	fetches []string
}

func (f *fakeNet) Listing(ctx context.Context, name string) ([]string, error) {
	site, ok := f.sites[name]
	if !ok || site.listing == nil {
		return nil, errors.New("no listing")
	}
	return site.listing, nil
}

func (f *fakeNet) Fetch(ctx context.Context, u *dns.URL) (*Page, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, u.String())
	f.mu.Unlock()

	site, ok := f.sites[u.Name.String()]
	if !ok {
		return nil, errors.New("host unreachable")
	}
	if u.Path == "/robots.txt" {
		if site.robots == "" {
			return &Page{URL: u, Status: 404}, nil
		}
		return &Page{URL: u, Status: 200, ContentType: "text/plain", Body: site.robots}, nil
	}
	if site.dead {
		return nil, errors.New("host unreachable")
	}
	body, ok := site.pages[u.Path]
	if !ok {
		return &Page{URL: u, Status: 404}, nil
	}
	return &Page{URL: u, Status: 200, ContentType: "text/rwml", Body: body}, nil
}

func (f *fakeNet) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func newTestCrawler(t *testing.T, net *fakeNet, limits Limits) (*Crawler, *search.Index) {
	t.Helper()
	if limits.MinInterval == 0 {
		limits.MinInterval = time.Millisecond
	}
	if limits.Timeout == 0 {
		limits.Timeout = time.Second
	}
	if limits.MaxAge == 0 {
		limits.MaxAge = -1 // default tests re-fetch everything
	}
	ix := search.New(search.Config{Log: testlog.Logger(t, log.LvlTrace)})
	c, err := New(Config{
		Limits:  limits,
		Fetcher: net,
		Index:   ix,
		Scanner: safety.Default(),
		Log:     testlog.Logger(t, log.LvlTrace),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c, ix
}

func hasURL(list []string, url string) bool {
	for _, u := range list {
		if u == url {
			return true
		}
	}
	return false
}

func excludedReason(report *Report, url string) string {
	for _, e := range report.Excluded {
		if e.URL == url {
			return e.Reason
		}
	}
	return ""
}

func TestCrawlIndexesSite(t *testing.T) {
	net := &fakeNet{sites: map[string]*fakeSite{
		"wiki.comp3.rednet": {
			listing: []string{"/", "/guide"},
			pages: map[string]string{
				"/":      `<title>Wiki</title><p>Welcome to the wiki</p>[link /guide Guide]`,
				"/guide": `<title>Guide</title><p>Building redstone clocks</p>[link /deep Going deeper]`,
				"/deep":  `<title>Deep</title><p>Advanced redstone timing</p>`,
			},
		},
	}}
	c, ix := newTestCrawler(t, net, Limits{})

	report, err := c.Crawl(context.Background(), []string{"wiki.comp3.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if report.ID == "" {
		t.Fatal("report has no id")
	}
	for _, want := range []string{
		"rdnt://wiki.comp3.rednet/",
		"rdnt://wiki.comp3.rednet/guide",
		"rdnt://wiki.comp3.rednet/deep",
	} {
		if !hasURL(report.Indexed, want) {
			t.Errorf("missing %s from indexed set: %v", want, report.Indexed)
		}
	}
	if report.Truncated {
		t.Error("crawl reported spurious truncation")
	}
	// The pages must be findable afterwards.
	if ids := ix.Find([]string{"redstone"}); len(ids) != 2 {
		t.Errorf("Find(redstone) = %d docs, want 2", len(ids))
	}
}

func TestCrawlObeysRobots(t *testing.T) {
	net := &fakeNet{sites: map[string]*fakeSite{
		"comp4.rednet": {
			listing: []string{"/", "/private/mail"},
			robots:  "User-agent: *\nDisallow: /private\n",
			pages: map[string]string{
				"/":             `<p>public page</p>`,
				"/private/mail": `<p>secret inbox</p>`,
			},
		},
	}}
	c, ix := newTestCrawler(t, net, Limits{})

	report, err := c.Crawl(context.Background(), []string{"comp4.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if !hasURL(report.Indexed, "rdnt://comp4.rednet/") {
		t.Error("allowed page was not indexed")
	}
	if got := excludedReason(report, "rdnt://comp4.rednet/private/mail"); got != "robots.txt" {
		t.Errorf("private page exclusion = %q, want robots.txt", got)
	}
	if ids := ix.Find([]string{"secret"}); len(ids) != 0 {
		t.Error("disallowed page leaked into the index")
	}
}

func TestCrawlDeniesUnreachableRobots(t *testing.T) {
	// A host that cannot even serve robots.txt is not crawled at all.
	net := &fakeNet{sites: map[string]*fakeSite{}}
	c, _ := newTestCrawler(t, net, Limits{})

	report, err := c.Crawl(context.Background(), []string{"comp9.rednet/page"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Indexed) != 0 {
		t.Fatalf("indexed %v from an unreachable host", report.Indexed)
	}
	if got := excludedReason(report, "rdnt://comp9.rednet/page"); got != "robots.txt" {
		t.Errorf("exclusion = %q, want robots.txt (fail closed)", got)
	}
}

func TestCrawlAbandonsFailingHost(t *testing.T) {
	pages := map[string]string{}
	listing := make([]string, 0, 8)
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e", "/f", "/g", "/h"} {
		listing = append(listing, p)
		pages[p] = "<p>x</p>"
	}
	net := &fakeNet{sites: map[string]*fakeSite{
		"comp5.rednet": {listing: listing, pages: pages, dead: true},
	}}
	c, _ := newTestCrawler(t, net, Limits{})
	c.cfg.Workers = 1 // deterministic failure order

	report, err := c.Crawl(context.Background(), []string{"comp5.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	var unreachable, abandoned int
	for _, e := range report.Excluded {
		switch {
		case strings.HasPrefix(e.Reason, "unreachable"):
			unreachable++
		case e.Reason == "host abandoned":
			abandoned++
		}
	}
	if unreachable != hostErrorBudget {
		t.Errorf("unreachable = %d, want %d", unreachable, hostErrorBudget)
	}
	if abandoned == 0 {
		t.Error("no pages were abandoned after the error budget ran out")
	}
}

func TestCrawlDepthLimit(t *testing.T) {
	net := &fakeNet{sites: map[string]*fakeSite{
		"comp6.rednet": {
			listing: []string{"/"},
			pages: map[string]string{
				"/":   `[link /d1 one]`,
				"/d1": `[link /d2 two]`,
				"/d2": `[link /d3 three]`,
				"/d3": `<p>too deep</p>`,
			},
		},
	}}
	c, _ := newTestCrawler(t, net, Limits{MaxDepth: 2})

	report, err := c.Crawl(context.Background(), []string{"comp6.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if !hasURL(report.Indexed, "rdnt://comp6.rednet/d2") {
		t.Error("page at the depth limit was not indexed")
	}
	if hasURL(report.Indexed, "rdnt://comp6.rednet/d3") {
		t.Error("page beyond the depth limit was indexed")
	}
}

func TestCrawlPageBudget(t *testing.T) {
	pages := map[string]string{}
	var listing []string
	for _, p := range []string{"/p0", "/p1", "/p2", "/p3", "/p4", "/p5", "/p6", "/p7", "/p8", "/p9"} {
		listing = append(listing, p)
		pages[p] = "<p>page</p>"
	}
	net := &fakeNet{sites: map[string]*fakeSite{
		"comp2.rednet": {listing: listing, pages: pages},
	}}
	c, _ := newTestCrawler(t, net, Limits{MaxPages: 3})

	report, err := c.Crawl(context.Background(), []string{"comp2.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Truncated {
		t.Error("crawl over budget did not report truncation")
	}
	if len(report.Indexed) > 3 {
		t.Errorf("indexed %d pages, budget was 3", len(report.Indexed))
	}
}

func TestCrawlExternalLinks(t *testing.T) {
	sites := map[string]*fakeSite{
		"comp10.rednet": {
			listing: []string{"/"},
			pages:   map[string]string{"/": `[link rdnt://comp11.rednet/ partner site]`},
		},
		"comp11.rednet": {
			pages: map[string]string{"/": `<p>the partner</p>`},
		},
	}

	// Fenced in: the external link is recorded but not followed.
	c, _ := newTestCrawler(t, &fakeNet{sites: sites}, Limits{})
	report, err := c.Crawl(context.Background(), []string{"comp10.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if got := excludedReason(report, "rdnt://comp11.rednet/"); got != "external link" {
		t.Errorf("exclusion = %q, want external link", got)
	}

	// Follow mode walks into the partner host.
	c, _ = newTestCrawler(t, &fakeNet{sites: sites}, Limits{FollowExternal: true})
	report, err = c.Crawl(context.Background(), []string{"comp10.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if !hasURL(report.Indexed, "rdnt://comp11.rednet/") {
		t.Errorf("external page not crawled in follow mode: %v", report.Indexed)
	}
}

func TestCrawlSkipsFreshPages(t *testing.T) {
	net := &fakeNet{sites: map[string]*fakeSite{
		"comp12.rednet": {
			listing: []string{"/"},
			pages:   map[string]string{"/": `<p>rarely changes</p>`},
		},
	}}
	c, ix := newTestCrawler(t, net, Limits{MaxAge: time.Hour})
	ix.AddDocument("rdnt://comp12.rednet/", "Cached", "already here", "rwml")

	report, err := c.Crawl(context.Background(), []string{"comp12.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Indexed) != 0 {
		t.Errorf("fresh page was re-indexed: %v", report.Indexed)
	}
	if !hasURL(report.Refreshed, "rdnt://comp12.rednet/") {
		t.Errorf("fresh page missing from refreshed list: %v", report.Refreshed)
	}
}

func TestCrawlBlocksUnsafeContent(t *testing.T) {
	net := &fakeNet{sites: map[string]*fakeSite{
		"comp13.rednet": {
			listing: []string{"/"},
			pages:   map[string]string{"/": `<p>run this: shell.run("wipe")</p>`},
		},
	}}
	c, ix := newTestCrawler(t, net, Limits{})

	report, err := c.Crawl(context.Background(), []string{"comp13.rednet"})
	if err != nil {
		t.Fatal(err)
	}
	if got := excludedReason(report, "rdnt://comp13.rednet/"); got != "content blocked" {
		t.Errorf("exclusion = %q, want content blocked", got)
	}
	if ids := ix.Find([]string{"wipe"}); len(ids) != 0 {
		t.Error("blocked content entered the index")
	}
}

func TestCrawlSingleFlight(t *testing.T) {
	net := &fakeNet{sites: map[string]*fakeSite{}}
	c, _ := newTestCrawler(t, net, Limits{})
	c.busy.Store(true)
	if _, err := c.Crawl(context.Background(), []string{"comp1.rednet"}); !errors.Is(err, ErrCrawlRunning) {
		t.Fatalf("err = %v, want ErrCrawlRunning", err)
	}
}
