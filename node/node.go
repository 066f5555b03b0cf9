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

// Package node assembles the RedNet stack into one lifecycle-managed
// container: bus transport, DNS, search index, sandbox, page server and
// crawler, constructed in dependency order and torn down in reverse.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rednet-explorer/go-rednet/crawler"
	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/params"
	"github.com/rednet-explorer/go-rednet/rednet"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
	"github.com/rednet-explorer/go-rednet/safety"
	"github.com/rednet-explorer/go-rednet/sandbox"
	"github.com/rednet-explorer/go-rednet/search"
	"github.com/rednet-explorer/go-rednet/search/query"
	"github.com/rednet-explorer/go-rednet/server"
)

var (
	ErrDatadirUsed = errors.New("datadir already in use by another instance")
	ErrNodeStopped = errors.New("node not started")
	ErrNodeRunning = errors.New("node already running")
)

const (
	lockFileName = "LOCK"
	dnsStoreDir  = "dns"
	snapshotName = "index.snap"
)

// Node is a running RedNet endpoint: it serves this machine's sites,
// answers DNS queries for its names, and gives local callers resolve,
// fetch, search and crawl entry points.
type Node struct {
	cfg Config
	log log.Logger

	lock *flock.Flock // instance lock, nil without a datadir

	transport *rednet.Transport
	store     *dns.Store
	registry  *dns.Registry
	resolver  *dns.Resolver

	index  *search.Index
	engine *query.Engine

	pool     *sandbox.Pool
	sessions *server.SessionManager
	router   *server.Router
	crawler  *crawler.Crawler

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup

	snapGen uint64 // index generation at the last snapshot write
}

// New validates the configuration and returns an unstarted node.
func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Node{
		cfg: cfg,
		log: cfg.Log.New("sys", "node"),
	}, nil
}

// Start brings the stack up. The bus must already be attached to the
// fabric; everything else is constructed here, in dependency order.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}

	if err := n.openDataDir(); err != nil {
		return err
	}
	if err := n.buildStack(); err != nil {
		n.teardown()
		return err
	}

	n.quit = make(chan struct{})
	n.wg.Add(1)
	go n.announceLoop()
	if n.cfg.DataDir != "" {
		n.wg.Add(1)
		go n.snapshotLoop()
	}

	n.running = true
	n.log.Info("Node started", "id", n.transport.Self(), "names", len(n.registry.Names()), "datadir", n.cfg.DataDir)
	return nil
}

// Stop tears the stack down in reverse construction order, detaches from
// the bus and releases the datadir.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return ErrNodeStopped
	}
	close(n.quit)
	n.wg.Wait()

	n.saveSnapshot()
	n.teardown()
	n.running = false
	n.log.Info("Node stopped")
	return nil
}

// openDataDir creates the data directory and takes the instance lock.
func (n *Node) openDataDir() error {
	if n.cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(n.cfg.DataDir, 0700); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(n.cfg.DataDir, lockFileName))
	held, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("datadir lock: %w", err)
	}
	if !held {
		return fmt.Errorf("%w: %s", ErrDatadirUsed, n.cfg.DataDir)
	}
	n.lock = lock
	return nil
}

func (n *Node) buildStack() error {
	cfg := n.cfg

	storePath := ""
	if cfg.DataDir != "" {
		storePath = filepath.Join(cfg.DataDir, dnsStoreDir)
	}
	store, err := dns.OpenStore(storePath, cfg.Log)
	if err != nil {
		return fmt.Errorf("dns store: %w", err)
	}
	n.store = store

	transport, err := rednet.NewTransport(rednet.Config{
		Bus:               cfg.Bus,
		Secret:            cfg.Secret,
		SendTimeout:       cfg.SendTimeout,
		Retries:           cfg.Retries,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Guard:             cfg.Guard,
		Clock:             cfg.Clock,
		Log:               cfg.Log,
	})
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	n.transport = transport

	registry, err := dns.NewRegistry(dns.RegistryConfig{
		Self:      transport.Self(),
		Store:     store,
		Transport: transport,
		Log:       cfg.Log,
	})
	if err != nil {
		return fmt.Errorf("dns registry: %w", err)
	}
	n.registry = registry

	resolver, err := dns.NewResolver(dns.ResolverConfig{
		Registry:        registry,
		Cache:           dns.NewCache(dns.CacheConfig{TTL: cfg.CacheTTL, Clock: cfg.Clock, Log: cfg.Log}),
		Transport:       transport,
		QueryWindow:     cfg.QueryWindow,
		VerifyTimeout:   cfg.VerifyTimeout,
		AllowUnverified: cfg.AllowUnverified,
		Clock:           cfg.Clock,
		Log:             cfg.Log,
	})
	if err != nil {
		return fmt.Errorf("dns resolver: %w", err)
	}
	n.resolver = resolver
	resolver.Start()

	n.index = search.New(search.Config{PositionsPerTerm: cfg.PositionsPerTerm, Log: cfg.Log})
	n.loadSnapshot()
	n.engine = query.NewEngine(n.index, query.Config{Log: cfg.Log})

	sandboxCfg := cfg.Sandbox
	if sandboxCfg.Log == nil {
		sandboxCfg.Log = cfg.Log
	}
	n.pool = sandbox.NewPool(sandboxCfg)
	n.sessions = server.NewSessionManager(server.SessionManagerConfig{Clock: cfg.Clock, Log: cfg.Log})

	n.router = server.NewRouter(server.RouterConfig{
		Self:           transport.Self(),
		Transport:      transport,
		Registry:       registry,
		Sessions:       n.sessions,
		Pool:           n.pool,
		Scanner:        safety.Default(),
		RequestTimeout: cfg.RequestTimeout,
		Log:            cfg.Log,
	})
	n.router.RegisterBuiltin("home", server.HomeBuiltin(server.HomeData{
		Version: params.VersionWithMeta,
		Names:   registry.Names,
		Peers:   func() int { return len(transport.Registry().Peers()) },
	}))
	n.router.RegisterBuiltin("search", server.SearchBuiltin(n.engine))

	for _, def := range cfg.Sites {
		if err := n.addSite(def); err != nil {
			return err
		}
	}

	n.crawler, err = crawler.New(crawler.Config{
		Limits:  cfg.Crawl,
		Fetcher: &netFetcher{node: n},
		Index:   n.index,
		Scanner: safety.Default(),
		Log:     cfg.Log,
	})
	if err != nil {
		return fmt.Errorf("crawler: %w", err)
	}

	transport.Handle(n.dispatch)
	return nil
}

// addSite registers the site's name and mounts its directory on the router.
func (n *Node) addSite(def SiteDef) error {
	rec, err := n.registry.Register(def.Name)
	if err != nil {
		return fmt.Errorf("site %s: %w", def.Name, err)
	}
	// The change hook runs on the watcher goroutine, so it works on the
	// captured index rather than the node fields behind n.mu.
	index, nlog := n.index, n.log
	site, err := server.NewSite(server.SiteConfig{
		Name:  rec.Name,
		Root:  def.Root,
		Watch: def.Watch,
		OnChange: func(rel string) {
			if url, ok := pageURL(rec.Name, rel); ok && index.RemoveURL(url) {
				nlog.Debug("Dropped changed page from index", "url", url)
			}
		},
		Pool: n.pool,
		Log:  n.cfg.Log,
	})
	if err != nil {
		return fmt.Errorf("site %s: %w", def.Name, err)
	}
	n.router.AddSite(site)
	return nil
}

// pageURL maps a changed site file onto the canonical URL the crawler
// indexes it under. Pages lose their extension the way the crawl listing
// renders them; assets keep theirs.
func pageURL(site, rel string) (string, bool) {
	req := "/" + rel
	switch strings.ToLower(path.Ext(req)) {
	case ".lua", ".rwml":
		req = strings.TrimSuffix(req, path.Ext(req))
		if strings.HasSuffix(req, "/index") {
			req = strings.TrimSuffix(req, "index")
		}
	}
	u, err := dns.ParseURL(site + req)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// teardown releases everything buildStack and openDataDir acquired. Safe on
// a partially built stack.
func (n *Node) teardown() {
	if n.router != nil {
		for _, site := range n.router.Sites() {
			n.router.RemoveSite(site.Name())
			site.Close()
		}
		n.router = nil
	}
	if n.sessions != nil {
		n.sessions.Close()
		n.sessions = nil
	}
	if n.resolver != nil {
		n.resolver.Stop()
		n.resolver = nil
	}
	if n.transport != nil {
		n.transport.Close()
		n.transport = nil
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			n.log.Warn("DNS store close failed", "err", err)
		}
		n.store = nil
	}
	if n.lock != nil {
		if err := n.lock.Unlock(); err != nil {
			n.log.Warn("Datadir unlock failed", "err", err)
		}
		n.lock = nil
	}
	n.crawler = nil
	n.engine = nil
	n.index = nil
	n.pool = nil
	n.registry = nil
}

// dispatch routes inbound envelopes the transport does not consume itself.
func (n *Node) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeRequest:
		n.router.HandleRequest(env)
	case wire.TypeCrawl:
		n.router.HandleCrawl(env)
	case wire.TypeDNSQuery:
		n.registry.HandleQuery(env)
	case wire.TypeDNSWithdraw:
		n.resolver.HandleWithdraw(env)
	default:
		n.log.Trace("Unhandled envelope", "type", env.Type, "from", env.Src)
	}
}

// announceLoop broadcasts this node's presence and hosted names, once at
// start and then on the configured interval.
func (n *Node) announceLoop() {
	defer n.wg.Done()

	n.announce()
	timer := n.cfg.Clock.NewTimer(n.cfg.AnnounceInterval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			n.announce()
			timer.Reset(n.cfg.AnnounceInterval)
		case <-n.quit:
			return
		}
	}
}

func (n *Node) announce() {
	names := n.registry.Names()
	class := rednet.ClassClient
	if len(names) > 0 {
		// Hosting names implies answering dns_query for them too.
		class = rednet.ClassHybrid
	}
	err := n.transport.Broadcast(wire.TypeAnnounce, &wire.Announce{
		Class:   string(class),
		Version: params.VersionWithMeta,
		Names:   names,
		Info:    params.ClientIdentifier,
	})
	if err != nil {
		n.log.Debug("Announce failed", "err", err)
	}
}

// snapshotLoop persists the index periodically, skipping writes when no
// document changed since the last one.
func (n *Node) snapshotLoop() {
	defer n.wg.Done()

	timer := n.cfg.Clock.NewTimer(n.cfg.SnapshotInterval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			n.saveSnapshot()
			timer.Reset(n.cfg.SnapshotInterval)
		case <-n.quit:
			return
		}
	}
}

func (n *Node) snapshotPath() string {
	if n.cfg.DataDir == "" {
		return ""
	}
	return filepath.Join(n.cfg.DataDir, snapshotName)
}

func (n *Node) loadSnapshot() {
	path := n.snapshotPath()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := n.index.LoadSnapshot(path); err != nil {
		n.log.Warn("Index snapshot load failed", "path", path, "err", err)
		return
	}
	n.snapGen = n.index.Generation()
}

func (n *Node) saveSnapshot() {
	path := n.snapshotPath()
	if path == "" || n.index == nil {
		return
	}
	gen := n.index.Generation()
	if gen == n.snapGen {
		return
	}
	if err := n.index.SaveSnapshot(path); err != nil {
		n.log.Warn("Index snapshot write failed", "path", path, "err", err)
		return
	}
	n.snapGen = gen
}

// Self reports the node id the bus assigned.
func (n *Node) Self() wire.NodeID {
	return n.cfg.Bus.Self()
}

// Router exposes the page server, letting callers mount sites at runtime.
// Nil when the node is stopped.
func (n *Node) Router() *server.Router {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.router
}

// Index exposes the local search index. Nil when the node is stopped.
func (n *Node) Index() *search.Index {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

// Resolve looks up a name on the network.
func (n *Node) Resolve(ctx context.Context, name string) (*dns.Result, error) {
	n.mu.Lock()
	resolver := n.resolver
	n.mu.Unlock()
	if resolver == nil {
		return nil, ErrNodeStopped
	}
	return resolver.Lookup(ctx, name)
}

// Register claims a name for this node.
func (n *Node) Register(name string) (*dns.Record, error) {
	n.mu.Lock()
	registry := n.registry
	n.mu.Unlock()
	if registry == nil {
		return nil, ErrNodeStopped
	}
	return registry.Register(name)
}

// Unregister withdraws a local registration and tells the network.
func (n *Node) Unregister(name string) error {
	n.mu.Lock()
	registry := n.registry
	n.mu.Unlock()
	if registry == nil {
		return ErrNodeStopped
	}
	return registry.Unregister(name)
}

// Names lists the names this node is authoritative for.
func (n *Node) Names() []string {
	n.mu.Lock()
	registry := n.registry
	n.mu.Unlock()
	if registry == nil {
		return nil
	}
	return registry.Names()
}

// Peers lists the peers currently known to the transport.
func (n *Node) Peers() []rednet.PeerDescriptor {
	n.mu.Lock()
	transport := n.transport
	n.mu.Unlock()
	if transport == nil {
		return nil
	}
	return transport.Registry().Peers()
}

// Search evaluates a query against the local index.
func (n *Node) Search(q string, limit int) ([]query.Result, error) {
	n.mu.Lock()
	engine := n.engine
	n.mu.Unlock()
	if engine == nil {
		return nil, ErrNodeStopped
	}
	return engine.Search(q, limit), nil
}

// Crawl walks the given seed URLs and indexes what it finds. One run at a
// time; a second call while one is active fails.
func (n *Node) Crawl(ctx context.Context, seeds []string) (*crawler.Report, error) {
	n.mu.Lock()
	c := n.crawler
	n.mu.Unlock()
	if c == nil {
		return nil, ErrNodeStopped
	}
	return c.Crawl(ctx, seeds)
}

// Fetch retrieves one page from the network, resolving the URL's name
// first. Remote refusals come back as pages carrying their status.
func (n *Node) Fetch(ctx context.Context, rawurl string) (*crawler.Page, error) {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()
	if !running {
		return nil, ErrNodeStopped
	}
	u, err := dns.ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	f := netFetcher{node: n, agent: params.ClientIdentifier + "/" + params.Version}
	return f.Fetch(ctx, u)
}
