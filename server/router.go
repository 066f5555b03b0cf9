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

// Package server turns request envelopes into page responses. The router
// validates that the addressed name is served here, resolves the path
// against the site's document root and either ships a static asset or runs
// the site's Lua handler in the sandbox. Every request gets exactly one
// reply, error or not; a browser must never wait out a timeout because a
// handler crashed.
package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
	"github.com/rednet-explorer/go-rednet/safety"
	"github.com/rednet-explorer/go-rednet/sandbox"
)

// defaultRequestTimeout bounds one request end to end. It sits above the
// sandbox wall clock so a handler that spends its full budget still gets
// reported as a handler limit, not a request timeout.
const defaultRequestTimeout = 8 * time.Second

// Responder is the slice of the transport the router needs to reply.
type Responder interface {
	Respond(to wire.NodeID, inReplyTo string, resp *wire.Response) error
	RespondError(to wire.NodeID, inReplyTo string, status int, reason string) error
}

// BuiltinFunc serves a reserved name natively in Go. Builtins bypass the
// sandbox but not the content scanner.
type BuiltinFunc func(req *wire.Request, u *dns.URL) *wire.Response

// RouterConfig holds the router collaborators. Transport, Registry and
// Sessions are required; the rest default to permissive no-ops.
type RouterConfig struct {
	Self      wire.NodeID
	Transport Responder
	Registry  *dns.Registry   // validates that alias requests landed on their owner
	Sessions  *SessionManager // cookie-driven per-visitor state
	Pool      *sandbox.Pool   // runs site handlers

	Permission Permission     // fetch policy, nil allows everything
	Scanner    safety.Scanner // outbound body screen, nil scans nothing

	RequestTimeout time.Duration // end-to-end budget per request (default 8s)
	Log            log.Logger
}

func (cfg RouterConfig) withDefaults() RouterConfig {
	if cfg.Permission == nil {
		cfg.Permission = AllowAll()
	}
	if cfg.Scanner == nil {
		cfg.Scanner = safety.Nop()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Router dispatches request envelopes to the sites of this node.
type Router struct {
	cfg  RouterConfig
	self wire.NodeID
	log  log.Logger

	mu       sync.RWMutex
	sites    map[string]*Site
	builtins map[string]BuiltinFunc
}

// NewRouter creates an empty router. Sites and builtins are added as they
// come up.
func NewRouter(cfg RouterConfig) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:      cfg,
		self:     cfg.Self,
		log:      cfg.Log.New("sys", "server"),
		sites:    make(map[string]*Site),
		builtins: make(map[string]BuiltinFunc),
	}
}

// AddSite registers a site under its canonical name.
func (r *Router) AddSite(s *Site) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[s.Name()] = s
}

// RemoveSite drops the site serving name, returning it so the caller can
// close it.
func (r *Router) RemoveSite(name string) *Site {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sites[name]
	delete(r.sites, name)
	return s
}

// Site returns the site serving name, or nil.
func (r *Router) Site(name string) *Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sites[name]
}

// Sites returns all served sites.
func (r *Router) Sites() []*Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	return out
}

// RegisterBuiltin serves a reserved label with a native handler.
func (r *Router) RegisterBuiltin(label string, fn BuiltinFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[label] = fn
}

// HandleRequest serves one request envelope. It never blocks past the
// request timeout and always sends exactly one reply.
func (r *Router) HandleRequest(env *wire.Envelope) {
	requestMeter.Mark(1)

	var req wire.Request
	if err := env.DecodeData(&req); err != nil {
		r.reject(env, wire.StatusBadRequest, "malformed request")
		return
	}
	u, err := dns.ParseURL(req.URL)
	if err != nil {
		r.reject(env, wire.StatusBadRequest, "bad url")
		return
	}
	start := time.Now()
	resp, err := r.serve(env.Src, &req, u)
	requestTimer.UpdateSince(start)

	if err != nil {
		var re *refusalError
		if errors.As(err, &re) {
			r.reject(env, re.status, re.reason)
		} else {
			r.reject(env, wire.StatusInternalError, "internal error")
		}
		return
	}
	if err := r.scan(resp); err != nil {
		r.log.Warn("Blocked outbound content", "site", u.Name.String(), "path", u.Path, "err", err)
		r.reject(env, wire.StatusForbidden, "content blocked")
		return
	}
	if err := r.cfg.Transport.Respond(env.Src, env.ID, resp); err != nil {
		r.log.Debug("Response send failed", "to", env.Src, "err", err)
	}
}

// serve produces the response for a parsed request. Routing and sandbox
// failures come back as refusal errors and turn into error envelopes; a
// handler that chooses its own 4xx status still gets a full response.
func (r *Router) serve(from wire.NodeID, req *wire.Request, u *dns.URL) (*wire.Response, error) {
	name := u.Name

	// Reserved names are served natively.
	if name.Kind == dns.KindReserved {
		r.mu.RLock()
		fn := r.builtins[name.Alias]
		r.mu.RUnlock()
		if fn == nil {
			return nil, refuse(wire.StatusNotFound, "no such site")
		}
		return fn(req, u), nil
	}

	// Requests for another node's computer name landed on the wrong host.
	if name.Kind == dns.KindComputer && name.Node != r.self {
		misdirectMeter.Mark(1)
		return nil, refuse(wire.StatusNotFound, "not served here")
	}
	// Alias requests must match a registration owned by this node.
	if name.Kind == dns.KindAlias && r.cfg.Registry != nil && r.cfg.Registry.Lookup(name) == nil {
		misdirectMeter.Mark(1)
		return nil, refuse(wire.StatusNotFound, "not served here")
	}

	site := r.Site(name.String())
	if site == nil {
		return nil, refuse(wire.StatusNotFound, "no such site")
	}
	res, err := site.Resolve(u.Path)
	if err != nil {
		return nil, refuse(wire.StatusNotFound, "no such page")
	}
	if err := r.cfg.Permission.AllowFetch(from, site.Name(), u.Path); err != nil {
		permissionDenyMeter.Mark(1)
		return nil, refuse(wire.StatusForbidden, err.Error())
	}
	switch res.Kind {
	case ResourceStatic:
		return r.serveStatic(site, res)
	default:
		return r.serveHandler(site, res, req, u)
	}
}

// serveStatic ships a file verbatim.
func (r *Router) serveStatic(site *Site, res *Resource) (*wire.Response, error) {
	body, err := site.Static(res.Path)
	if err != nil {
		if errors.Is(err, ErrAssetTooLarge) {
			return nil, refuse(wire.StatusForbidden, "asset too large")
		}
		return nil, refuse(wire.StatusNotFound, "no such page")
	}
	staticMeter.Mark(1)
	return &wire.Response{
		Status:  wire.StatusOK,
		Headers: map[string]string{"content-type": res.ContentType},
		Body:    string(body),
	}, nil
}

// serveHandler compiles and runs the site's Lua handler with the visitor's
// session attached.
func (r *Router) serveHandler(site *Site, res *Resource, req *wire.Request, u *dns.URL) (*wire.Response, error) {
	prog, err := site.Program(res.Path)
	if err != nil {
		return nil, sandboxRefusal(err)
	}
	sess, created := r.cfg.Sessions.GetOrCreate(req.Cookies[SessionCookie])

	params := u.Params()
	form := url.Values{}
	for k, v := range req.Form {
		params[k] = v
		form.Set(k, v)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	sreq := &sandbox.Request{
		Method:  method,
		URL:     u.String(),
		Path:    u.Path,
		Params:  params,
		Headers: req.Headers,
		Cookies: req.Cookies,
		Body:    form.Encode(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
	defer cancel()

	result, err := r.cfg.Pool.Invoke(ctx, prog, sreq, sess)
	if err != nil {
		handlerFailMeter.Mark(1)
		r.log.Debug("Handler failed", "site", site.Name(), "path", u.Path, "err", err)
		return nil, sandboxRefusal(err)
	}
	handlerMeter.Mark(1)

	resp := &wire.Response{
		Status:  result.Status,
		Headers: result.Headers,
		Cookies: result.Cookies,
		Body:    result.Body,
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	if resp.Headers["content-type"] == "" {
		resp.Headers["content-type"] = "text/rwml"
	}
	if created {
		if resp.Cookies == nil {
			resp.Cookies = map[string]string{}
		}
		if resp.Cookies[SessionCookie] == "" {
			resp.Cookies[SessionCookie] = sess.ID()
		}
	}
	return resp, nil
}

// HandleCrawl answers a crawl request with the site's page listing as a
// JSON array of request paths.
func (r *Router) HandleCrawl(env *wire.Envelope) {
	var creq wire.CrawlRequest
	if err := env.DecodeData(&creq); err != nil {
		r.reject(env, wire.StatusBadRequest, "malformed request")
		return
	}
	name, err := dns.ParseName(creq.Name)
	if err != nil {
		r.reject(env, wire.StatusBadRequest, "bad name")
		return
	}
	site := r.Site(name.String())
	if site == nil {
		r.reject(env, wire.StatusNotFound, "no such site")
		return
	}
	crawlServeMeter.Mark(1)
	body, err := json.Marshal(site.Pages())
	if err != nil {
		r.reject(env, wire.StatusInternalError, "listing failed")
		return
	}
	resp := &wire.Response{
		Status:  wire.StatusOK,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    string(body),
	}
	if err := r.cfg.Transport.Respond(env.Src, env.ID, resp); err != nil {
		r.log.Debug("Crawl response send failed", "to", env.Src, "err", err)
	}
}

// scan runs the outbound body screen.
func (r *Router) scan(resp *wire.Response) error {
	return r.cfg.Scanner.Scan([]byte(resp.Body), resp.Headers["content-type"])
}

// reject sends an error envelope for a request that cannot be served.
func (r *Router) reject(env *wire.Envelope, status int, reason string) {
	rejectMeter.Mark(1)
	r.log.Trace("Refused request", "from", env.Src, "status", status, "reason", reason)
	if err := r.cfg.Transport.RespondError(env.Src, env.ID, status, reason); err != nil {
		r.log.Debug("Refusal send failed", "to", env.Src, "err", err)
	}
}

// refusalError carries a routing refusal up to the reply path.
type refusalError struct {
	status int
	reason string
}

func (e *refusalError) Error() string {
	return e.reason
}

func refuse(status int, reason string) error {
	return &refusalError{status: status, reason: reason}
}

// sandboxRefusal maps a sandbox failure onto the status a browser should
// see. Handler bugs are the server's fault; spent budgets mean the page is
// briefly unavailable rather than broken.
func sandboxRefusal(err error) error {
	switch {
	case sandbox.IsKind(err, sandbox.KindForbidden):
		return refuse(wire.StatusForbidden, "forbidden")
	case sandbox.IsKind(err, sandbox.KindTimeout):
		return refuse(wire.StatusServiceUnavailable, "timeout")
	case sandbox.IsKind(err, sandbox.KindLimit):
		return refuse(wire.StatusServiceUnavailable, "limit_exceeded")
	case sandbox.IsKind(err, sandbox.KindSyntax):
		return refuse(wire.StatusInternalError, "script error")
	case errors.Is(err, ErrNoResource):
		return refuse(wire.StatusNotFound, "no such page")
	default:
		return refuse(wire.StatusInternalError, "script error")
	}
}
