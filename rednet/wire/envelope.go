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

// Package wire implements the RedNet message envelope: a MAC-protected JSON
// frame exchanged between nodes over the datagram bus.
package wire

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// NodeID is the integer identity a node holds on the bus. The host
// environment assigns it, nodes never pick their own.
type NodeID uint32

func (n NodeID) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// Type enumerates the message types spoken on the wire. The set is closed:
// envelopes carrying any other type are rejected at decode time.
type Type string

const (
	TypeRequest     Type = "request"
	TypeResponse    Type = "response"
	TypeError       Type = "error"
	TypeDNSQuery    Type = "dns_query"
	TypeDNSAnswer   Type = "dns_answer"
	TypeDNSWithdraw Type = "dns_withdraw"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
	TypeAnnounce    Type = "peer_announce"
	TypeCrawl       Type = "crawl_request"
)

func (t Type) valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeError,
		TypeDNSQuery, TypeDNSAnswer, TypeDNSWithdraw,
		TypePing, TypePong, TypeAnnounce, TypeCrawl:
		return true
	}
	return false
}

// Envelope is the unit of exchange on the bus. The wire form is a JSON
// object with single-letter keys; any keys this version does not know are
// kept in Extra and written back verbatim so that newer minor versions can
// extend the frame without breaking old nodes.
type Envelope struct {
	Version uint            // v: protocol version
	Type    Type            // t: message type
	ID      string          // id: sender-unique, monotonically increasing
	Time    uint64          // ts: sender wall clock, unix milliseconds
	Src     NodeID          // src: sender node id (advisory, see MAC notes)
	Tgt     *NodeID         // tgt: receiver node id, nil for broadcast
	Data    json.RawMessage // d: type-specific payload, raw wire bytes
	MAC     string          // m: hex HighwayHash-128 over id|ts|d

	Extra map[string]json.RawMessage // unrecognized keys, preserved
}

// Broadcast reports whether the envelope is addressed to every listener.
func (e *Envelope) Broadcast() bool {
	return e.Tgt == nil
}

// DecodeData unmarshals the payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrParse)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrParse, err)
	}
	return nil
}

// MarshalJSON renders the wire form. Known fields win over stale duplicates
// in Extra.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, 8+len(e.Extra))
	for k, v := range e.Extra {
		obj[k] = v
	}
	var err error
	set := func(key string, v interface{}) {
		if err != nil {
			return
		}
		var raw []byte
		raw, err = json.Marshal(v)
		obj[key] = raw
	}
	set("v", e.Version)
	set("t", e.Type)
	set("id", e.ID)
	set("ts", e.Time)
	set("src", e.Src)
	if e.Tgt != nil {
		set("tgt", *e.Tgt)
	} else {
		delete(obj, "tgt")
	}
	if len(e.Data) > 0 {
		obj["d"] = e.Data
	} else {
		delete(obj, "d")
	}
	set("m", e.MAC)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalJSON parses the wire form, validating field presence and types.
// MAC and replay verification is the codec's job, not done here.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	take := func(key string, dst interface{}, required bool) error {
		raw, ok := obj[key]
		if !ok {
			if required {
				return fmt.Errorf("%w: missing %q", ErrParse, key)
			}
			return nil
		}
		delete(obj, key)
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrParse, key, err)
		}
		return nil
	}
	if err := take("v", &e.Version, true); err != nil {
		return err
	}
	if err := take("t", &e.Type, true); err != nil {
		return err
	}
	if err := take("id", &e.ID, true); err != nil {
		return err
	}
	if err := take("ts", &e.Time, true); err != nil {
		return err
	}
	if err := take("src", &e.Src, true); err != nil {
		return err
	}
	if raw, ok := obj["tgt"]; ok {
		delete(obj, "tgt")
		var tgt NodeID
		if err := json.Unmarshal(raw, &tgt); err != nil {
			return fmt.Errorf("%w: field \"tgt\": %v", ErrParse, err)
		}
		e.Tgt = &tgt
	}
	if raw, ok := obj["d"]; ok {
		delete(obj, "d")
		e.Data = raw
	}
	if err := take("m", &e.MAC, true); err != nil {
		return err
	}
	if !e.Type.valid() {
		return fmt.Errorf("%w: unknown type %q", ErrParse, e.Type)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrParse)
	}
	if len(obj) > 0 {
		e.Extra = obj
	}
	return nil
}

// Request is the payload of a TypeRequest envelope: one page fetch or form
// submission addressed to a hosted site.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Form    map[string]string `json:"form,omitempty"`
}

// Response is the payload of a TypeResponse envelope.
type Response struct {
	Re      string            `json:"re"` // id of the request envelope
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"` // cookies to set
	Body    string            `json:"body,omitempty"`
}

// Fault is the payload of a TypeError envelope, reporting a protocol-level
// failure for a previous request.
type Fault struct {
	Re     string `json:"re,omitempty"`
	Status int    `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// DNSQuery asks the network who serves a name. WantVerified tells answerers
// the asker will verify the claim with a ping before trusting it.
type DNSQuery struct {
	Name         string `json:"name"`
	WantVerified bool   `json:"want_verified,omitempty"`
}

// DNSAnswer claims a name on behalf of its registrant.
type DNSAnswer struct {
	Re           string `json:"re,omitempty"` // id of the dns_query envelope
	Name         string `json:"name"`
	Owner        NodeID `json:"owner"`
	Target       NodeID `json:"target"`
	RegisteredAt uint64 `json:"registered_at"` // unix milliseconds
	TTL          uint64 `json:"ttl,omitempty"` // seconds, 0 means default
}

// DNSWithdraw announces that the owner no longer serves a name.
type DNSWithdraw struct {
	Name  string `json:"name"`
	Owner NodeID `json:"owner"`
}

// Ping is the keepalive probe payload.
type Ping struct {
	Seq uint64 `json:"seq"`
}

// Pong answers a ping, echoing the probe id.
type Pong struct {
	Re  string `json:"re"`
	Seq uint64 `json:"seq"`
}

// Announce is gossiped on start and periodically afterwards so peers can
// populate their registries without probing.
type Announce struct {
	Class   string   `json:"class"`
	Version string   `json:"version,omitempty"`
	Names   []string `json:"names,omitempty"`
	Caps    []string `json:"caps,omitempty"`
	Info    string   `json:"info,omitempty"`
}

// CrawlRequest asks a host to enumerate the public pages of one of its
// sites, so crawlers can seed their walk without guessing paths. The reply
// is a regular response whose body is a JSON array of path strings.
type CrawlRequest struct {
	Name string `json:"name"`
}
