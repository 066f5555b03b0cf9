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

// Package bus provides the datagram fabric RedNet nodes talk over: an
// in-process hub for tests, UDP multicast for LAN deployments and a
// websocket bridge for hosted gateways.
package bus

import (
	"errors"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// MaxPayload bounds a single frame. Larger envelopes never reach the bus:
// the codec rejects them first, so hitting this limit means a foreign
// speaker is misbehaving.
const MaxPayload = 128 * 1024

var (
	ErrClosed    = errors.New("bus closed")
	ErrOversized = errors.New("payload exceeds bus frame limit")
)

// Datagram is one frame received from the bus. From is what the fabric
// reported, which on an open network is advisory.
type Datagram struct {
	From    wire.NodeID
	Payload []byte
}

// Bus is an unreliable datagram fabric. Frames may be lost, duplicated or
// reordered; Send queues locally and never blocks on remote delivery. The
// host environment assigns node identities, endpoints never pick their own.
type Bus interface {
	// Self reports the node id assigned to this endpoint.
	Self() wire.NodeID

	// Send queues a unicast frame to the given node.
	Send(to wire.NodeID, payload []byte) error

	// Broadcast queues a frame for every listener on the fabric.
	Broadcast(payload []byte) error

	// Recv returns the inbound frame channel. Close closes it.
	Recv() <-chan Datagram

	// Close detaches the endpoint from the fabric.
	Close() error
}
