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
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/fsnotify/fsnotify"

	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/sandbox"
)

const (
	// maxStaticBody bounds what a single asset request may ship. Anything
	// larger is refused rather than truncated.
	maxStaticBody = 1 << 20

	// maxCacheableBody keeps cached entries under the fastcache per-entry
	// ceiling. Bigger assets are read from disk on every request.
	maxCacheableBody = 48 * 1024

	defaultCacheBytes = 32 << 20

	// maxCrawlPages bounds the page listing returned to crawlers.
	maxCrawlPages = 256
)

var (
	// ErrNoResource reports that a request path maps to nothing under the
	// site root.
	ErrNoResource = errors.New("no such resource")

	// ErrAssetTooLarge refuses static files over the transfer bound.
	ErrAssetTooLarge = errors.New("asset too large")
)

// ResourceKind tells the router how to produce a response for a resolved
// path.
type ResourceKind int

const (
	ResourceStatic  ResourceKind = iota // file served verbatim
	ResourceHandler                     // Lua program executed per request
)

// Resource is the outcome of resolving a request path against a site root.
type Resource struct {
	Kind        ResourceKind
	Path        string // filesystem path
	ContentType string // static resources only
}

// contentTypes maps asset extensions to the type header the browser gets.
// Handlers produce their own type; everything unknown ships as bytes.
var contentTypes = map[string]string{
	".rwml": "text/rwml",
	".txt":  "text/plain",
	".md":   "text/plain",
	".json": "application/json",
	".nfp":  "image/nfp",
	".nft":  "image/nft",
}

func contentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SiteConfig describes one served site. Zero values select the defaults.
type SiteConfig struct {
	Name string // canonical site name, e.g. "shop.comp12.rednet"
	Root string // document root directory

	CacheBytes int  // static body cache capacity (default 32 MiB)
	Watch      bool // invalidate caches on filesystem changes

	// OnChange, when set, is invoked with the site-relative path of every
	// changed file. The node uses it to nudge re-indexing.
	OnChange func(rel string)

	Pool *sandbox.Pool // compiles and runs the site's handlers
	Log  log.Logger
}

func (cfg SiteConfig) withDefaults() SiteConfig {
	if cfg.CacheBytes == 0 {
		cfg.CacheBytes = defaultCacheBytes
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Site serves one document root: static assets out of a lookaside cache and
// Lua handlers compiled once and reused across requests.
type Site struct {
	name string
	root string
	pool *sandbox.Pool
	log  log.Logger

	cache      *fastcache.Cache
	generation atomic.Uint64

	progMu   sync.Mutex
	programs map[string]*siteProgram

	watcher  *fsnotify.Watcher
	onChange func(string)

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

type siteProgram struct {
	prog  *sandbox.Program
	mtime int64
}

// NewSite opens a site over a document root. The root must exist; an empty
// directory is a valid (if dull) site.
func NewSite(cfg SiteConfig) (*Site, error) {
	cfg = cfg.withDefaults()

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("site root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("site root %s is not a directory", root)
	}
	s := &Site{
		name:     cfg.Name,
		root:     root,
		pool:     cfg.Pool,
		log:      cfg.Log.New("site", cfg.Name),
		cache:    fastcache.New(cfg.CacheBytes),
		programs: make(map[string]*siteProgram),
		onChange: cfg.OnChange,
		quit:     make(chan struct{}),
	}
	if cfg.Watch {
		if err := s.startWatcher(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the canonical site name.
func (s *Site) Name() string { return s.name }

// Root returns the absolute document root.
func (s *Site) Root() string { return s.root }

// Resolve maps a request path onto a file under the site root. The lookup
// order is: the exact file, the path completed with a page extension, then
// a directory index. Handlers win over markup when both exist at the same
// completion step.
func (s *Site) Resolve(reqPath string) (*Resource, error) {
	rel := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	fsPath, err := s.join(rel)
	if err != nil {
		return nil, err
	}
	// Exact match first, unless it names a directory.
	if info, err := os.Stat(fsPath); err == nil && !info.IsDir() {
		return s.resource(fsPath), nil
	} else if err == nil && info.IsDir() {
		return s.index(fsPath)
	}
	// Complete the extension: /shop tries shop.lua, then shop.rwml.
	for _, ext := range []string{".lua", ".rwml"} {
		if info, err := os.Stat(fsPath + ext); err == nil && !info.IsDir() {
			return s.resource(fsPath + ext), nil
		}
	}
	return nil, ErrNoResource
}

// index resolves a directory to its index page.
func (s *Site) index(dir string) (*Resource, error) {
	for _, name := range []string{"index.lua", "index.rwml"} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return s.resource(p), nil
		}
	}
	return nil, ErrNoResource
}

func (s *Site) resource(fsPath string) *Resource {
	if strings.EqualFold(filepath.Ext(fsPath), ".lua") {
		return &Resource{Kind: ResourceHandler, Path: fsPath}
	}
	return &Resource{Kind: ResourceStatic, Path: fsPath, ContentType: contentTypeFor(fsPath)}
}

// join anchors a cleaned relative path under the root and rejects escapes.
func (s *Site) join(rel string) (string, error) {
	fsPath := filepath.Join(s.root, filepath.FromSlash(rel))
	if fsPath != s.root && !strings.HasPrefix(fsPath, s.root+string(filepath.Separator)) {
		return "", ErrNoResource
	}
	return fsPath, nil
}

// Static reads a static asset, serving repeat requests from the cache. The
// cache key carries the file mtime and the watcher generation, so stale
// bodies age out without explicit eviction.
func (s *Site) Static(fsPath string) ([]byte, error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, ErrNoResource
	}
	if info.Size() > maxStaticBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, info.Size())
	}
	key := []byte(fmt.Sprintf("%s\x00%d\x00%d", fsPath, info.ModTime().UnixNano(), s.generation.Load()))
	if body := s.cache.Get(nil, key); len(body) > 0 {
		staticCacheHitMeter.Mark(1)
		return body, nil
	}
	body, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, ErrNoResource
	}
	staticCacheMissMeter.Mark(1)
	if len(body) > 0 && len(body) <= maxCacheableBody {
		s.cache.Set(key, body)
	}
	return body, nil
}

// Program returns the compiled handler for a Lua file, compiling it on
// first use and whenever the file changes.
func (s *Site) Program(fsPath string) (*sandbox.Program, error) {
	if s.pool == nil {
		return nil, errors.New("site has no sandbox pool")
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, ErrNoResource
	}
	mtime := info.ModTime().UnixNano()

	s.progMu.Lock()
	if e, ok := s.programs[fsPath]; ok && e.mtime == mtime {
		s.progMu.Unlock()
		return e.prog, nil
	}
	s.progMu.Unlock()

	src, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, ErrNoResource
	}
	rel, _ := filepath.Rel(s.root, fsPath)
	prog, err := s.pool.Compile(s.name+"/"+filepath.ToSlash(rel), string(src))
	if err != nil {
		return nil, err
	}
	s.progMu.Lock()
	s.programs[fsPath] = &siteProgram{prog: prog, mtime: mtime}
	s.progMu.Unlock()
	return prog, nil
}

// Pages walks the document root and returns the request paths a crawler can
// fetch: handler and markup pages without their extension, other assets
// verbatim. The listing is sorted and capped.
func (s *Site) Pages() []string {
	seen := make(map[string]struct{})
	filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		if strings.HasPrefix(base, ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		req := "/" + filepath.ToSlash(rel)
		switch strings.ToLower(filepath.Ext(base)) {
		case ".lua", ".rwml":
			req = strings.TrimSuffix(req, filepath.Ext(base))
			if strings.HasSuffix(req, "/index") {
				req = strings.TrimSuffix(req, "index")
			}
		}
		if req == "" {
			req = "/"
		}
		seen[req] = struct{}{}
		return nil
	})
	pages := make([]string, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	if len(pages) > maxCrawlPages {
		pages = pages[:maxCrawlPages]
	}
	return pages
}

// startWatcher wires filesystem notifications into cache invalidation.
func (s *Site) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the whole tree; new directories join as they appear.
	err = filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.wg.Add(1)
	go s.watchLoop()
	return nil
}

func (s *Site) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					s.watcher.Add(ev.Name)
				}
			}
			s.invalidate(ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("Site watcher error", "err", err)
		case <-s.quit:
			return
		}
	}
}

// invalidate ages out cached state for a changed file and notifies the
// owner.
func (s *Site) invalidate(fsPath string) {
	s.generation.Add(1)
	s.progMu.Lock()
	delete(s.programs, fsPath)
	s.progMu.Unlock()
	siteChangeMeter.Mark(1)

	rel, err := filepath.Rel(s.root, fsPath)
	if err != nil {
		return
	}
	s.log.Trace("Site content changed", "path", rel)
	if s.onChange != nil {
		s.onChange(filepath.ToSlash(rel))
	}
}

// Close stops the watcher and releases the caches.
func (s *Site) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.watcher != nil {
			s.watcher.Close()
		}
		s.wg.Wait()
		s.cache.Reset()
	})
}
