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

package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"github.com/minio/highwayhash"

	"github.com/rednet-explorer/go-rednet/log"
)

// Version is the envelope version spoken on the wire.
const Version = 1

// DefaultSecret is the well-known network secret used when a deployment
// configures none. Envelopes under it are tamper-evident but not
// authenticated: anyone on the bus knows the key.
const DefaultSecret = "rednet-explorer/1"

const (
	// maxEnvelopeSize bounds frames in both directions. The largest legal
	// payload is a response carrying the full handler output budget, which
	// fits with ample headroom.
	maxEnvelopeSize = 128 * 1024

	defaultSkewMax      = 60 * time.Second
	defaultReplayWindow = 5 * time.Minute
	defaultReplayCap    = 8192
)

var (
	ErrParse        = errors.New("malformed envelope")
	ErrIntegrity    = errors.New("envelope MAC mismatch")
	ErrReplay       = errors.New("stale or replayed envelope")
	ErrEncode       = errors.New("unencodable payload")
	ErrMisaddressed = errors.New("envelope for another node")
)

// Config holds codec settings.
type Config struct {
	// Self is the node id stamped into the src field of sealed envelopes.
	Self NodeID

	// Secret is the shared network secret the MAC key derives from.
	// Empty selects DefaultSecret.
	Secret string

	// These settings are optional:
	SkewMax      time.Duration   // reject envelopes stamped further than this from now
	ReplayWindow time.Duration   // how long a seen envelope id stays unusable
	ReplayCap    int             // replay table size, entries
	Now          func() time.Time // wall clock source, for testing
	Log          log.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.Secret == "" {
		cfg.Secret = DefaultSecret
	}
	if cfg.SkewMax == 0 {
		cfg.SkewMax = defaultSkewMax
	}
	if cfg.ReplayWindow == 0 {
		cfg.ReplayWindow = defaultReplayWindow
	}
	if cfg.ReplayCap == 0 {
		cfg.ReplayCap = defaultReplayCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Codec seals outbound envelopes and verifies inbound ones. It is safe for
// concurrent use.
type Codec struct {
	cfg  Config
	key  [32]byte
	seq  atomic.Uint64
	seen *lru.Cache // replay guard: src|id -> expiry, unix milliseconds
	log  log.Logger
}

// NewCodec creates a codec for the given node identity and network secret.
func NewCodec(cfg Config) *Codec {
	cfg = cfg.withDefaults()
	c := &Codec{
		cfg: cfg,
		key: sha256.Sum256([]byte(cfg.Secret)),
		log: cfg.Log,
	}
	c.seen, _ = lru.New(cfg.ReplayCap)
	// Seed the sequence from the wall clock so ids keep increasing across
	// restarts.
	c.seq.Store(uint64(cfg.Now().UnixMilli()) * 1000)
	return c
}

// Self returns the node id envelopes are sealed with.
func (c *Codec) Self() NodeID {
	return c.cfg.Self
}

func (c *Codec) nextID() string {
	return fmt.Sprintf("%d-%d", c.cfg.Self, c.seq.Add(1))
}

// Seal builds an envelope of the given type around payload, stamps it with a
// fresh id and the current time, and computes the MAC. A nil tgt produces a
// broadcast frame. The returned bytes are the exact wire encoding.
func (c *Codec) Seal(t Type, tgt *NodeID, payload interface{}) (*Envelope, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	env := &Envelope{
		Version: Version,
		Type:    t,
		ID:      c.nextID(),
		Time:    uint64(c.cfg.Now().UnixMilli()),
		Src:     c.cfg.Self,
		Tgt:     tgt,
		Data:    data,
	}
	env.MAC = c.mac(env)
	packet, err := json.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(packet) > maxEnvelopeSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrEncode, len(packet))
	}
	egressTrafficMeter.Mark(int64(len(packet)))
	return env, packet, nil
}

// NewRequest seals a request envelope addressed to tgt.
func (c *Codec) NewRequest(tgt NodeID, req *Request) (*Envelope, []byte, error) {
	return c.Seal(TypeRequest, &tgt, req)
}

// NewResponse seals a response correlated to the request envelope id.
func (c *Codec) NewResponse(tgt NodeID, inReplyTo string, resp *Response) (*Envelope, []byte, error) {
	resp.Re = inReplyTo
	return c.Seal(TypeResponse, &tgt, resp)
}

// NewError seals a protocol-level error reply.
func (c *Codec) NewError(tgt NodeID, inReplyTo string, status int, reason string) (*Envelope, []byte, error) {
	return c.Seal(TypeError, &tgt, &Fault{Re: inReplyTo, Status: status, Reason: reason})
}

// Decode parses and verifies a raw frame received from the bus. Checks run
// in order: size, JSON shape, version, addressing, MAC, clock skew, replay.
// Failures come back as ErrParse, ErrMisaddressed, ErrIntegrity or ErrReplay;
// callers are expected to count these drops, not propagate them.
func (c *Codec) Decode(buf []byte) (*Envelope, error) {
	ingressTrafficMeter.Mark(int64(len(buf)))
	if len(buf) > maxEnvelopeSize {
		parseDropMeter.Mark(1)
		return nil, fmt.Errorf("%w: %d bytes", ErrParse, len(buf))
	}
	env := new(Envelope)
	if err := json.Unmarshal(buf, env); err != nil {
		parseDropMeter.Mark(1)
		if errors.Is(err, ErrParse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.Version != Version {
		parseDropMeter.Mark(1)
		return nil, fmt.Errorf("%w: version %d", ErrParse, env.Version)
	}
	if env.Tgt != nil && *env.Tgt != c.cfg.Self {
		misaddressedDropMeter.Mark(1)
		return nil, ErrMisaddressed
	}
	if c.mac(env) != env.MAC {
		integrityDropMeter.Mark(1)
		return nil, ErrIntegrity
	}
	// Clock checks run after the MAC so that forged frames cannot pollute
	// the replay table.
	now := c.cfg.Now().UnixMilli()
	skew := now - int64(env.Time)
	if skew > c.cfg.SkewMax.Milliseconds() {
		skewDropMeter.Mark(1)
		return nil, fmt.Errorf("%w: %dms old", ErrReplay, skew)
	}
	if -skew > c.cfg.SkewMax.Milliseconds() {
		skewDropMeter.Mark(1)
		return nil, fmt.Errorf("%w: %dms in the future", ErrReplay, -skew)
	}
	if !c.admit(env.Src, env.ID, now) {
		replayDropMeter.Mark(1)
		return nil, fmt.Errorf("%w: id %s", ErrReplay, env.ID)
	}
	return env, nil
}

// admit records an envelope id and reports whether it was fresh. Expired
// entries count as absent, so an id becomes acceptable again once the replay
// window has passed.
func (c *Codec) admit(src NodeID, id string, nowMs int64) bool {
	key := strconv.FormatUint(uint64(src), 10) + "|" + id
	if v, ok := c.seen.Get(key); ok {
		if exp := v.(int64); exp > nowMs {
			return false
		}
	}
	c.seen.Add(key, nowMs+c.cfg.ReplayWindow.Milliseconds())
	return true
}

// mac computes the envelope tag: HighwayHash-128 over id|ts|d under the
// network key. The d region is covered byte-for-byte as framed, so no
// canonicalization step is needed on either side.
func (c *Codec) mac(env *Envelope) string {
	msg := make([]byte, 0, len(env.ID)+len(env.Data)+22)
	msg = append(msg, env.ID...)
	msg = append(msg, '|')
	msg = strconv.AppendUint(msg, env.Time, 10)
	msg = append(msg, '|')
	msg = append(msg, env.Data...)
	sum := highwayhash.Sum128(msg, c.key[:])
	return hex.EncodeToString(sum[:])
}
