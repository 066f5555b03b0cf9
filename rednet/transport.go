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

// Package rednet implements the RedNet transport: request/response
// correlation, retries and keepalive over the datagram bus, plus the registry
// of known peers and their connections.
package rednet

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/bus"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// inboundQueueSize bounds the per-connection inbound queue. Overflow drops
// the oldest queued envelope.
const inboundQueueSize = 256

var (
	// ErrTimeout is returned when no reply arrived within the deadline.
	// It is the only send failure the transport retries.
	ErrTimeout = errors.New("request timed out")

	// ErrRefused is returned when the bus would not accept the frame.
	// Terminal: retrying cannot help until the bus recovers.
	ErrRefused = errors.New("bus refused frame")

	errClosed = errors.New("transport closed")
)

// Config holds the transport settings. Zero values select the defaults.
type Config struct {
	// Bus is the datagram fabric to attach to. Required.
	Bus bus.Bus

	// Secret is the shared network secret for envelope MACs.
	Secret string

	// These settings are optional:
	SendTimeout       time.Duration // per-attempt reply window (default 5s)
	Retries           int           // extra attempts after a timeout (default 2)
	RetryBackoff      time.Duration // first retry delay, doubled per retry (default 200ms)
	KeepaliveInterval time.Duration // idle span before a keepalive ping (default 30s)
	PongTimeout       time.Duration // reply window for keepalive pings (default 2s)
	ThrottleDelay     time.Duration // dispatch delay for throttled envelopes (default 500ms)

	FreshnessWindow time.Duration // registry peer eviction window (default 5m)
	IdleTimeout     time.Duration // registry connection close window (default 2m)
	SweepInterval   time.Duration // registry sweep cadence (default 1m)

	Guard Guard            // inbound screen, nil allows everything
	Clock mclock.Clock     // timers, for testing
	Now   func() time.Time // codec wall clock, for testing
	Log   log.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = 2 * time.Second
	}
	if cfg.ThrottleDelay == 0 {
		cfg.ThrottleDelay = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// SendOpts tunes one Send call. The zero value selects the transport
// defaults.
type SendOpts struct {
	Timeout    time.Duration // per-attempt reply window, 0 selects the default
	Retries    int           // extra attempts after timeout, 0 selects the default, negative disables
	NoResponse bool          // resolve once the bus accepts the frame
}

// replyMatcher represents one pending reply.
//
// Broadcast queries gather replies from many nodes, so a matcher may stay
// active after a match: the callback's second return value reports whether
// the matcher is done. Incoming replies are dispatched to all matchers whose
// source, type and correlation id fit.
type replyMatcher struct {
	// these fields must match in the reply.
	from      *wire.NodeID // nil matches any source
	want      wire.Type
	alsoError bool // a TypeError reply also matches
	re        string

	// window is how long the matcher stays armed; deadline is filled in by
	// the loop when the matcher is registered.
	window   time.Duration
	deadline mclock.AbsTime

	// callback is invoked for each matching reply. A nil callback accepts
	// the first match and completes. If the callback returns done == false
	// the matcher keeps collecting until the window closes.
	callback replyMatchFunc

	// errc receives nil when the matcher completes, or ErrTimeout when the
	// window closes first.
	errc chan error

	// reply is the last accepted reply, safe to read after errc delivers.
	reply *wire.Envelope
}

type replyMatchFunc func(*wire.Envelope) (matched bool, done bool)

// matchesReply reports whether the matcher's source, type and correlation
// constraints fit an inbound reply.
func matchesReply(m *replyMatcher, r reply) bool {
	if m.re != r.re {
		return false
	}
	if m.from != nil && *m.from != r.env.Src {
		return false
	}
	return r.env.Type == m.want || (m.alsoError && r.env.Type == wire.TypeError)
}

// reply is one inbound reply envelope handed to the matcher loop.
type reply struct {
	env *wire.Envelope
	re  string

	// the loop reports whether any matcher accepted it by sending on this
	// channel.
	matched chan<- bool
}

// Transport connects the envelope codec to the bus. It correlates replies
// with pending requests, retries timed-out sends, keeps idle connections
// alive and feeds accepted inbound envelopes to the registered handler in
// per-source order.
type Transport struct {
	cfg   Config
	bus   bus.Bus
	codec *wire.Codec
	reg   *Registry
	clock mclock.Clock
	log   log.Logger

	pingSeq atomic.Uint64

	addMatcher chan *replyMatcher
	gotReply   chan reply
	closing    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	mu      sync.Mutex
	handler func(*wire.Envelope)
}

// NewTransport attaches a transport to the bus and starts its loops.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Bus == nil {
		return nil, errors.New("transport needs a bus")
	}
	cfg = cfg.withDefaults()
	self := cfg.Bus.Self()
	t := &Transport{
		cfg: cfg,
		bus: cfg.Bus,
		codec: wire.NewCodec(wire.Config{
			Self:   self,
			Secret: cfg.Secret,
			Now:    cfg.Now,
			Log:    cfg.Log,
		}),
		clock:      cfg.Clock,
		log:        cfg.Log.New("sys", "transport", "self", self),
		addMatcher: make(chan *replyMatcher),
		gotReply:   make(chan reply),
		closing:    make(chan struct{}),
	}
	t.reg = NewRegistry(RegistryConfig{
		Self:            self,
		FreshnessWindow: cfg.FreshnessWindow,
		IdleTimeout:     cfg.IdleTimeout,
		SweepInterval:   cfg.SweepInterval,
		Clock:           cfg.Clock,
		Log:             cfg.Log,
	})
	t.reg.bind(t)

	t.wg.Add(3)
	go t.loop()
	go t.readLoop()
	go t.keepaliveLoop()
	return t, nil
}

// Self returns the local node id.
func (t *Transport) Self() wire.NodeID {
	return t.codec.Self()
}

// Registry returns the peer and connection registry owned by the transport.
func (t *Transport) Registry() *Registry {
	return t.reg
}

// Handle registers the callback invoked for each accepted work-initiating
// envelope (requests, DNS queries and withdrawals, crawl requests).
// Envelopes from one source are delivered in order, one at a time.
func (t *Transport) Handle(fn func(*wire.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

func (t *Transport) dispatch(env *wire.Envelope) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		t.log.Trace("No handler for inbound envelope", "type", env.Type, "from", env.Src)
		return
	}
	h(env)
}

// Close shuts the transport down: pending sends fail, the bus detaches and
// the registry closes all connections.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.closing)
		t.bus.Close()
		t.reg.close()
		t.wg.Wait()
	})
}

// replyTypeFor maps a request type to the envelope type its reply carries.
func replyTypeFor(typ wire.Type) (want wire.Type, alsoError bool) {
	switch typ {
	case wire.TypePing:
		return wire.TypePong, false
	case wire.TypeDNSQuery:
		return wire.TypeDNSAnswer, false
	default:
		return wire.TypeResponse, true
	}
}

// Send seals a typed payload addressed to one node and waits for the
// correlated reply. Timed-out attempts are retried with exponential backoff;
// all other failures are terminal. Cancelling ctx stops the retries.
//
// The returned envelope may be a TypeError reply: protocol-level failures
// reported by the remote side are results, not transport errors.
func (t *Transport) Send(ctx context.Context, to wire.NodeID, typ wire.Type, payload interface{}, opts SendOpts) (*wire.Envelope, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = t.cfg.SendTimeout
	}
	retries := opts.Retries
	if retries == 0 {
		retries = t.cfg.Retries
	} else if retries < 0 {
		retries = 0
	}

	if opts.NoResponse {
		return nil, t.SendTo(to, typ, payload)
	}

	want, alsoError := replyTypeFor(typ)
	backoff := t.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		// Each attempt is a fresh envelope: receivers drop duplicate ids,
		// so resending the original frame could never be answered.
		env, packet, err := t.codec.Seal(typ, &to, payload)
		if err != nil {
			return nil, err
		}
		m := &replyMatcher{
			from:      &to,
			want:      want,
			alsoError: alsoError,
			re:        env.ID,
			window:    timeout,
			callback:  nil,
			errc:      make(chan error, 1),
		}
		t.enroll(m)
		sendMeter.Mark(1)
		if err := t.bus.Send(to, packet); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRefused, err)
		}
		select {
		case err := <-m.errc:
			if err == nil {
				return m.reply, nil
			}
			if !errors.Is(err, ErrTimeout) {
				return nil, err
			}
			if attempt >= retries {
				sendTimeoutMeter.Mark(1)
				return nil, ErrTimeout
			}
			sendRetryMeter.Mark(1)
			t.log.Trace("Retrying send", "to", to, "type", typ, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-t.clock.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.closing:
				return nil, errClosed
			}
			backoff *= 2
		case <-ctx.Done():
			// The abandoned matcher expires on its own; its errc is
			// buffered so the loop never blocks on it.
			return nil, ctx.Err()
		}
	}
}

// SendTo seals a typed payload addressed to one node and fires it without
// waiting for a reply.
func (t *Transport) SendTo(to wire.NodeID, typ wire.Type, payload interface{}) error {
	_, packet, err := t.codec.Seal(typ, &to, payload)
	if err != nil {
		return err
	}
	sendMeter.Mark(1)
	if err := t.bus.Send(to, packet); err != nil {
		return fmt.Errorf("%w: %v", ErrRefused, err)
	}
	return nil
}

// Broadcast seals a typed payload and fires it on the broadcast channel.
func (t *Transport) Broadcast(typ wire.Type, payload interface{}) error {
	_, packet, err := t.codec.Seal(typ, nil, payload)
	if err != nil {
		return err
	}
	broadcastMeter.Mark(1)
	if err := t.bus.Broadcast(packet); err != nil {
		return fmt.Errorf("%w: %v", ErrRefused, err)
	}
	return nil
}

// Gather broadcasts a typed payload and streams correlated replies of the
// expected type to fn until the window closes, fn returns false, or ctx is
// cancelled. A window that closes without replies is not an error.
func (t *Transport) Gather(ctx context.Context, typ wire.Type, payload interface{}, window time.Duration, fn func(*wire.Envelope) bool) error {
	env, packet, err := t.codec.Seal(typ, nil, payload)
	if err != nil {
		return err
	}
	want, _ := replyTypeFor(typ)
	m := &replyMatcher{
		want:   want,
		re:     env.ID,
		window: window,
		callback: func(e *wire.Envelope) (bool, bool) {
			return true, !fn(e)
		},
		errc: make(chan error, 1),
	}
	t.enroll(m)
	broadcastMeter.Mark(1)
	if err := t.bus.Broadcast(packet); err != nil {
		return fmt.Errorf("%w: %v", ErrRefused, err)
	}
	select {
	case err := <-m.errc:
		if err == nil || errors.Is(err, ErrTimeout) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping sends a keepalive probe and waits for the pong.
func (t *Transport) Ping(ctx context.Context, to wire.NodeID) error {
	return t.PingTimeout(ctx, to, t.cfg.PongTimeout)
}

// PingTimeout is Ping with an explicit reply window, used by DNS answer
// verification.
func (t *Transport) PingTimeout(ctx context.Context, to wire.NodeID, timeout time.Duration) error {
	_, err := t.Send(ctx, to, wire.TypePing, &wire.Ping{Seq: t.pingSeq.Add(1)}, SendOpts{
		Timeout: timeout,
		Retries: -1,
	})
	return err
}

// Respond sends a response correlated to an earlier inbound request.
func (t *Transport) Respond(to wire.NodeID, inReplyTo string, resp *wire.Response) error {
	_, packet, err := t.codec.NewResponse(to, inReplyTo, resp)
	if err != nil {
		return err
	}
	sendMeter.Mark(1)
	return t.bus.Send(to, packet)
}

// RespondError reports a protocol-level failure for an earlier inbound
// request.
func (t *Transport) RespondError(to wire.NodeID, inReplyTo string, status int, reason string) error {
	_, packet, err := t.codec.NewError(to, inReplyTo, status, reason)
	if err != nil {
		return err
	}
	sendMeter.Mark(1)
	return t.bus.Send(to, packet)
}

// Answer sends a typed payload to one node as the reply to a broadcast
// query. Correlation rides in the payload, filled in by the caller.
func (t *Transport) Answer(to wire.NodeID, typ wire.Type, payload interface{}) error {
	return t.SendTo(to, typ, payload)
}

// enroll adds a matcher to the pending reply queue.
func (t *Transport) enroll(m *replyMatcher) {
	select {
	case t.addMatcher <- m:
	case <-t.closing:
		m.errc <- errClosed
	}
}

// handleReply dispatches a reply envelope to the matcher loop. It reports
// whether any matcher accepted the reply.
func (t *Transport) handleReply(env *wire.Envelope) bool {
	re := replyRef(env)
	if re == "" {
		return false
	}
	matched := make(chan bool, 1)
	select {
	case t.gotReply <- reply{env: env, re: re, matched: matched}:
		return <-matched
	case <-t.closing:
		return false
	}
}

// replyRef extracts the correlation id from a reply payload.
func replyRef(env *wire.Envelope) string {
	var ref struct {
		Re string `json:"re"`
	}
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &ref) != nil {
		return ""
	}
	return ref.Re
}

// loop runs in its own goroutine. It tracks the pending reply queue and
// expires matchers whose window has closed.
func (t *Transport) loop() {
	defer t.wg.Done()

	var (
		plist   = list.New()
		timeout = t.clock.NewTimer(time.Hour)
		armed   = false
	)
	timeout.Stop() // armed on demand, spurious fires are tolerated
	defer timeout.Stop()

	// rearm points the timer at the earliest matcher deadline. Matcher
	// windows differ per call, so the queue is scanned rather than assumed
	// sorted. A stale fire from an earlier arming is harmless: the expiry
	// scan finds nothing due and the timer is re-pointed.
	rearm := func() {
		var (
			earliest mclock.AbsTime
			found    bool
		)
		for el := plist.Front(); el != nil; el = el.Next() {
			m := el.Value.(*replyMatcher)
			if !found || m.deadline < earliest {
				earliest = m.deadline
				found = true
			}
		}
		if !found {
			if armed {
				timeout.Stop()
				armed = false
			}
			return
		}
		d := earliest.Sub(t.clock.Now())
		if d < 0 {
			d = 0
		}
		timeout.Reset(d)
		armed = true
	}

	for {
		rearm()

		select {
		case <-t.closing:
			for el := plist.Front(); el != nil; el = el.Next() {
				el.Value.(*replyMatcher).errc <- errClosed
			}
			return

		case m := <-t.addMatcher:
			m.deadline = t.clock.Now().Add(m.window)
			plist.PushBack(m)

		case r := <-t.gotReply:
			var matched bool
			for el := plist.Front(); el != nil; {
				next := el.Next()
				m := el.Value.(*replyMatcher)
				if matchesReply(m, r) {
					ok, done := true, true
					if m.callback != nil {
						ok, done = m.callback(r.env)
					}
					matched = matched || ok
					if done {
						m.reply = r.env
						m.errc <- nil
						plist.Remove(el)
					}
				}
				el = next
			}
			r.matched <- matched

		case now := <-timeout.C():
			armed = false
			for el := plist.Front(); el != nil; {
				next := el.Next()
				m := el.Value.(*replyMatcher)
				if m.deadline <= now {
					m.errc <- ErrTimeout
					plist.Remove(el)
				}
				el = next
			}
		}
	}
}

// readLoop runs in its own goroutine, pulling frames off the bus.
func (t *Transport) readLoop() {
	defer t.wg.Done()

	for {
		select {
		case d, ok := <-t.bus.Recv():
			if !ok {
				return
			}
			t.handleFrame(d)
		case <-t.closing:
			return
		}
	}
}

// handleFrame validates one bus frame and routes it: protocol traffic is
// answered or matched inline, work-initiating envelopes pass the guard and
// queue on their source's connection.
func (t *Transport) handleFrame(d bus.Datagram) {
	env, err := t.codec.Decode(d.Payload)
	if err != nil {
		// Drops are metered by the codec per error kind; they never
		// surface beyond this trace line.
		t.log.Trace("Dropped inbound frame", "from", d.From, "err", err)
		return
	}
	conn := t.reg.connection(env.Src, true)
	conn.touch(t.clock.Now())
	t.reg.markSeen(env.Src)

	switch env.Type {
	case wire.TypePing:
		t.handlePing(env)

	case wire.TypePong, wire.TypeResponse, wire.TypeError, wire.TypeDNSAnswer:
		if env.Type == wire.TypeDNSAnswer {
			t.reg.MarkAnswersDNS(env.Src)
		}
		if !t.handleReply(env) {
			unsolicitedDropMeter.Mark(1)
			t.log.Trace("Unsolicited reply", "from", env.Src, "type", env.Type)
		}

	case wire.TypeAnnounce:
		var ann wire.Announce
		if err := env.DecodeData(&ann); err != nil {
			t.log.Trace("Bad announce payload", "from", env.Src, "err", err)
			return
		}
		t.reg.onAnnounce(env.Src, &ann)

	default:
		var delay time.Duration
		if t.cfg.Guard != nil {
			switch action := t.cfg.Guard.CheckRequest(env); action {
			case ActionThrottle:
				guardThrottleMeter.Mark(1)
				delay = t.cfg.ThrottleDelay
			case ActionDrop, ActionBlock:
				guardDropMeter.Mark(1)
				t.log.Debug("Guard rejected envelope", "from", env.Src, "type", env.Type, "action", action)
				return
			}
		}
		conn.enqueue(inboundItem{env: env, delay: delay})
	}
}

func (t *Transport) handlePing(env *wire.Envelope) {
	var ping wire.Ping
	if err := env.DecodeData(&ping); err != nil {
		return
	}
	_, packet, err := t.codec.Seal(wire.TypePong, &env.Src, &wire.Pong{Re: env.ID, Seq: ping.Seq})
	if err != nil {
		return
	}
	t.bus.Send(env.Src, packet)
}

// keepaliveLoop pings connections that have gone quiet and fails the ones
// that stop answering.
func (t *Transport) keepaliveLoop() {
	defer t.wg.Done()

	interval := t.cfg.KeepaliveInterval
	timer := t.clock.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			for _, c := range t.reg.idleConnections(interval) {
				keepalivePingMeter.Mark(1)
				go t.keepalive(c.ID())
			}
			timer.Reset(interval)
		case <-t.closing:
			return
		}
	}
}

func (t *Transport) keepalive(id wire.NodeID) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PongTimeout)
	defer cancel()
	if err := t.Ping(ctx, id); err != nil {
		keepaliveFailMeter.Mark(1)
		t.reg.markFailed(id)
	}
}
