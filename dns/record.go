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

package dns

import (
	"time"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// Record is one name binding. Local registrations and records learned from
// peers share the shape; Owner tells them apart.
type Record struct {
	Name         string      `json:"name"`
	Kind         Kind        `json:"kind"`
	Sub          string      `json:"sub,omitempty"`
	Target       wire.NodeID `json:"target"`                // node the name resolves to
	Owner        wire.NodeID `json:"owner"`                 // node that registered the name
	RegisteredAt uint64      `json:"registered_at"`         // unix milliseconds
	ExpiresAt    uint64      `json:"expires_at,omitempty"`  // unix milliseconds, 0 when authoritative
	VerifiedAt   uint64      `json:"verified_at,omitempty"` // unix milliseconds of the last good ping
	Shadowed     bool        `json:"shadowed,omitempty"`    // alias superseded by an earlier remote claim

	// ttl carries the answer-advertised cache lifetime from the wire to
	// the resolver. Not persisted.
	ttl time.Duration
}

// clone returns a copy the caller may hand out without aliasing registry or
// cache state.
func (r *Record) clone() *Record {
	cp := *r
	return &cp
}

// beats reports whether r wins an alias conflict against other: the earliest
// registration wins, ties break toward the lowest owner id.
func (r *Record) beats(other *Record) bool {
	if r.RegisteredAt != other.RegisteredAt {
		return r.RegisteredAt < other.RegisteredAt
	}
	return r.Owner < other.Owner
}

// Answer renders the record as a dns_answer payload replying to the given
// query envelope id.
func (r *Record) Answer(re string, ttl time.Duration) *wire.DNSAnswer {
	return &wire.DNSAnswer{
		Re:           re,
		Name:         r.Name,
		Owner:        r.Owner,
		Target:       r.Target,
		RegisteredAt: r.RegisteredAt,
		TTL:          uint64(ttl / time.Second),
	}
}

// recordFromAnswer builds a learned record from a peer's answer. The answer
// is taken at face value here; verification and conflict arbitration are the
// resolver's job.
func recordFromAnswer(ans *wire.DNSAnswer) (*Record, error) {
	name, err := ParseName(ans.Name)
	if err != nil {
		return nil, err
	}
	return &Record{
		Name:         name.String(),
		Kind:         name.Kind,
		Sub:          name.Sub,
		Target:       ans.Target,
		Owner:        ans.Owner,
		RegisteredAt: ans.RegisteredAt,
	}, nil
}
