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

// Package crawler walks the RedNet web and feeds the search index. It is a
// polite guest: it obeys robots.txt, paces itself per host, abandons hosts
// that keep failing and fetches through the same request path a browser
// uses, so a crawled site cannot tell the difference.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/markup"
	"github.com/rednet-explorer/go-rednet/safety"
	"github.com/rednet-explorer/go-rednet/search"
)

const (
	defaultMaxDepth    = 3
	defaultMaxPages    = 100
	defaultMinInterval = 100 * time.Millisecond
	defaultTimeout     = 5 * time.Second
	defaultMaxAge      = time.Hour
	defaultWorkers     = 4

	// hostSlots bounds concurrent fetches against one host regardless of
	// how many workers are free.
	hostSlots = 2

	// hostErrorBudget is how many consecutive transport failures a host
	// gets before the rest of its pages are abandoned this run.
	hostErrorBudget = 5
)

// ErrCrawlRunning rejects a crawl started while another is in progress.
var ErrCrawlRunning = errors.New("crawl already running")

// Limits bounds one crawl run. Zero values select the defaults; MaxAge <= 0
// disables the freshness skip and re-fetches everything.
type Limits struct {
	MaxDepth       int           // link depth from the seeds
	MaxPages       int           // total page fetches per run
	MinInterval    time.Duration // per-host spacing floor, Crawl-delay can raise it
	Timeout        time.Duration // single fetch budget
	MaxAge         time.Duration // skip pages indexed more recently than this
	FollowExternal bool          // follow links that leave the seed host
}

func (l Limits) withDefaults() Limits {
	if l.MaxDepth == 0 {
		l.MaxDepth = defaultMaxDepth
	}
	if l.MaxPages == 0 {
		l.MaxPages = defaultMaxPages
	}
	if l.MinInterval == 0 {
		l.MinInterval = defaultMinInterval
	}
	if l.Timeout == 0 {
		l.Timeout = defaultTimeout
	}
	if l.MaxAge == 0 {
		l.MaxAge = defaultMaxAge
	}
	return l
}

// Page is one fetched page as the browser-equivalent request path returned
// it.
type Page struct {
	URL         *dns.URL
	Status      int
	ContentType string
	Body        string
}

// Fetcher is the crawler's window onto the network. The node implements it
// over the transport; tests implement it over fixtures.
type Fetcher interface {
	// Listing asks the node serving name which request paths it offers.
	Listing(ctx context.Context, name string) ([]string, error)

	// Fetch retrieves one page. Transport-level failures are errors;
	// refusals come back as pages with their status.
	Fetch(ctx context.Context, u *dns.URL) (*Page, error)
}

// Config assembles a crawler. Fetcher and Index are required.
type Config struct {
	Limits  Limits
	Fetcher Fetcher
	Index   *search.Index
	Parser  markup.Parser  // page text extraction, default RWML
	Scanner safety.Scanner // pre-index screen, default none
	Workers int            // concurrent fetches overall (default 4)
	Log     log.Logger
}

func (cfg Config) withDefaults() Config {
	cfg.Limits = cfg.Limits.withDefaults()
	if cfg.Parser == nil {
		cfg.Parser = markup.RWML{}
	}
	if cfg.Scanner == nil {
		cfg.Scanner = safety.Nop()
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Crawler walks sites and indexes their pages. One crawl runs at a time.
type Crawler struct {
	cfg  Config
	log  log.Logger
	busy atomic.Bool
}

// New creates a crawler.
func New(cfg Config) (*Crawler, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("crawler needs a fetcher")
	}
	if cfg.Index == nil {
		return nil, errors.New("crawler needs an index")
	}
	cfg = cfg.withDefaults()
	return &Crawler{cfg: cfg, log: cfg.Log.New("sys", "crawler")}, nil
}

// task is one page queued for fetching.
type task struct {
	u     *dns.URL
	depth int
}

// crawlRun is the per-run state shared between the dispatcher and workers.
type crawlRun struct {
	c       *Crawler
	visited mapset.Set[string]
	report  *reportBuilder

	mu    sync.Mutex
	hosts map[string]*hostState
}

// Crawl walks the given seeds, each a site name or rdnt URL, and returns
// the run report. The context bounds the whole run; a cancelled crawl
// reports what it indexed before stopping.
func (c *Crawler) Crawl(ctx context.Context, seeds []string) (*Report, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrCrawlRunning
	}
	defer c.busy.Store(false)

	start := time.Now()
	defer func() { crawlRunTimer.UpdateSince(start) }()

	run := &crawlRun{
		c:       c,
		visited: mapset.NewSet[string](),
		report:  newReport(seeds),
		hosts:   make(map[string]*hostState),
	}
	queue := run.seedTasks(ctx, seeds)
	if len(queue) == 0 {
		return run.report.finish(), nil
	}
	c.log.Info("Crawl starting", "seeds", len(seeds), "frontier", len(queue), "budget", c.cfg.Limits.MaxPages)

	budget := c.cfg.Limits.MaxPages - len(queue)

	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan task)
	results := make(chan []task)
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			for t := range tasks {
				links := run.process(gctx, t)
				select {
				case results <- links:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	inFlight := 0
dispatch:
	for len(queue) > 0 || inFlight > 0 {
		var (
			out  chan task
			next task
		)
		if len(queue) > 0 {
			out, next = tasks, queue[0]
		}
		select {
		case out <- next:
			queue = queue[1:]
			inFlight++
		case links := <-results:
			inFlight--
			for _, t := range links {
				if !run.visited.Add(t.u.String()) {
					continue
				}
				if budget <= 0 {
					run.report.truncated()
					continue
				}
				budget--
				queue = append(queue, t)
			}
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return run.report.finish(), err
	}
	report := run.report.finish()
	c.log.Info("Crawl finished", "indexed", len(report.Indexed), "excluded", len(report.Excluded),
		"truncated", report.Truncated, "elapsed", report.Elapsed)
	return report, ctx.Err()
}

// seedTasks resolves the seed list into the initial frontier. Each seed
// host is asked for its page listing; hosts that do not answer contribute
// just their seed URL.
func (r *crawlRun) seedTasks(ctx context.Context, seeds []string) []task {
	var queue []task
	add := func(u *dns.URL) {
		if len(queue) >= r.c.cfg.Limits.MaxPages {
			r.report.truncated()
			return
		}
		if r.visited.Add(u.String()) {
			queue = append(queue, task{u: u, depth: 0})
		}
	}
	for _, seed := range seeds {
		u, err := dns.ParseURL(seed)
		if err != nil {
			r.report.excluded(seed, "bad seed: "+err.Error())
			continue
		}
		lctx, cancel := context.WithTimeout(ctx, r.c.cfg.Limits.Timeout)
		paths, err := r.c.cfg.Fetcher.Listing(lctx, u.Name.String())
		cancel()
		if err != nil {
			r.c.log.Debug("Seed listing unavailable", "name", u.Name.String(), "err", err)
			add(u)
			continue
		}
		for _, p := range paths {
			ref, err := u.Resolve(p)
			if err != nil || ref.Name.String() != u.Name.String() {
				continue
			}
			add(ref)
		}
		// The seed page itself is part of the frontier even when the
		// listing omits it.
		add(u)
	}
	return queue
}

// process fetches one page and returns the follow-up tasks its links
// produce. All outcomes land in the report; only the dispatcher decides
// what enters the frontier.
func (r *crawlRun) process(ctx context.Context, t task) []task {
	url := t.u.String()
	host := r.host(t.u.Name.String())

	if host.isAbandoned() {
		r.report.excluded(url, "host abandoned")
		return nil
	}
	rules := host.rules(ctx, r)
	if !rules.Allowed(t.u.Path) {
		robotsDenyMeter.Mark(1)
		r.report.excluded(url, "robots.txt")
		return nil
	}
	// Freshly indexed pages are left alone until they age out.
	if age := r.c.cfg.Limits.MaxAge; age > 0 {
		if at, ok := r.c.cfg.Index.IndexedAt(url); ok && time.Since(at) < age {
			r.report.refreshed(url)
			return nil
		}
	}
	if err := host.slots.Acquire(ctx, 1); err != nil {
		r.report.excluded(url, "aborted")
		return nil
	}
	defer host.slots.Release(1)
	if err := host.limiter.Wait(ctx); err != nil {
		r.report.excluded(url, "aborted")
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, r.c.cfg.Limits.Timeout)
	page, err := r.c.cfg.Fetcher.Fetch(fctx, t.u)
	cancel()
	pageMeter.Mark(1)
	if err != nil {
		fetchErrorMeter.Mark(1)
		if host.fail() {
			abandonMeter.Mark(1)
			r.c.log.Warn("Abandoning host", "host", t.u.Name.String(), "errors", hostErrorBudget)
		}
		r.report.excluded(url, "unreachable: "+err.Error())
		return nil
	}
	host.ok()
	if page.Status != 200 {
		r.report.excluded(url, fmt.Sprintf("status %d", page.Status))
		return nil
	}
	if err := r.c.cfg.Scanner.Scan([]byte(page.Body), page.ContentType); err != nil {
		blockedMeter.Mark(1)
		r.report.excluded(url, "content blocked")
		return nil
	}
	kind := kindOf(page.ContentType)
	if kind == "" {
		r.report.excluded(url, "unindexable type "+page.ContentType)
		return nil
	}

	title, text, links := r.extract(page, kind)
	r.c.cfg.Index.AddDocument(url, title, text, kind)
	indexedMeter.Mark(1)
	r.report.indexed(url)

	if t.depth >= r.c.cfg.Limits.MaxDepth {
		return nil
	}
	var next []task
	for _, l := range links {
		ref, err := t.u.Resolve(l.Href)
		if err != nil {
			continue
		}
		if ref.Name.String() != t.u.Name.String() && !r.c.cfg.Limits.FollowExternal {
			r.report.excluded(ref.String(), "external link")
			continue
		}
		next = append(next, task{u: ref, depth: t.depth + 1})
	}
	return next
}

// extract pulls the indexable text out of a page.
func (r *crawlRun) extract(page *Page, kind string) (title, text string, links []markup.Link) {
	if kind != "rwml" {
		return "", page.Body, nil
	}
	doc, err := r.c.cfg.Parser.Parse(page.Body)
	if err != nil {
		return "", page.Body, nil
	}
	return doc.Title(), doc.Text(), doc.Links()
}

// kindOf maps a content type onto the index document kind, empty for types
// the index cannot use.
func kindOf(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "text/rwml", "":
		return "rwml"
	case "text/plain":
		return "text"
	case "application/json":
		return "json"
	default:
		return ""
	}
}

// host returns the per-host crawl state, creating it on first contact.
func (r *crawlRun) host(name string) *hostState {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[name]
	if !ok {
		h = &hostState{
			name:  name,
			slots: semaphore.NewWeighted(hostSlots),
		}
		r.hosts[name] = h
	}
	return h
}

// hostState carries the politeness bookkeeping for one crawled host.
type hostState struct {
	name  string
	slots *semaphore.Weighted

	once    sync.Once
	robots  *robotsRules
	limiter *rate.Limiter

	mu          sync.Mutex
	consecutive int
	abandoned   bool
}

// rules fetches and parses robots.txt exactly once per run. A missing file
// allows everything; an unreachable or refusing host is treated as
// disallowing everything, the polite reading of silence.
func (h *hostState) rules(ctx context.Context, r *crawlRun) *robotsRules {
	h.once.Do(func() {
		h.robots = h.fetchRules(ctx, r)
		interval := r.c.cfg.Limits.MinInterval
		if h.robots.delay > interval {
			interval = h.robots.delay
		}
		h.limiter = rate.NewLimiter(rate.Every(interval), 1)
	})
	return h.robots
}

func (h *hostState) fetchRules(ctx context.Context, r *crawlRun) *robotsRules {
	name, err := dns.ParseName(h.name)
	if err != nil {
		return denyAllRules
	}
	u := &dns.URL{Name: name, Path: "/robots.txt"}
	fctx, cancel := context.WithTimeout(ctx, r.c.cfg.Limits.Timeout)
	defer cancel()

	page, err := r.c.cfg.Fetcher.Fetch(fctx, u)
	if err != nil {
		r.c.log.Debug("robots.txt unreachable, denying host", "host", h.name, "err", err)
		return denyAllRules
	}
	switch page.Status {
	case 200:
		return parseRobots(page.Body)
	case 404:
		return allowAllRules
	default:
		return denyAllRules
	}
}

// fail counts a transport failure and reports whether the budget just ran
// out.
func (h *hostState) fail() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	if h.consecutive >= hostErrorBudget && !h.abandoned {
		h.abandoned = true
		return true
	}
	return false
}

func (h *hostState) ok() {
	h.mu.Lock()
	h.consecutive = 0
	h.mu.Unlock()
}

func (h *hostState) isAbandoned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abandoned
}
