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

package bus

import (
	"math/rand"
	"sync"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// memQueueSize is the inbound buffer of an attached endpoint. The fabric is
// lossy: frames beyond this are dropped, same as a saturated radio.
const memQueueSize = 256

// MemNetwork is an in-process datagram fabric connecting MemBus endpoints.
// It exists for tests and local simulations. Loss, duplication and reordering
// can be dialed in to exercise the unreliable-bus assumptions the protocol
// layer is built on.
type MemNetwork struct {
	mu    sync.Mutex
	nodes map[wire.NodeID]*MemBus

	lossRate    float64
	dupRate     float64
	reorderRate float64
	rng         *rand.Rand
}

// NewMemNetwork creates an empty fabric with perfect delivery.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		nodes: make(map[wire.NodeID]*MemBus),
		rng:   rand.New(rand.NewSource(0x52444e54)),
	}
}

// SetLoss makes the fabric drop frames with the given probability.
func (n *MemNetwork) SetLoss(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lossRate = rate
}

// SetDuplication makes the fabric deliver frames twice with the given
// probability.
func (n *MemNetwork) SetDuplication(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dupRate = rate
}

// SetReorder makes the fabric swap adjacent frames headed to the same
// endpoint with the given probability. A held frame rides behind the next
// one to that endpoint, so the last frame of a quiet stream can trail until
// more traffic arrives.
func (n *MemNetwork) SetReorder(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reorderRate = rate
}

// Join attaches a new endpoint under the given node id, displacing any
// earlier endpoint with the same id.
func (n *MemNetwork) Join(id wire.NodeID) *MemBus {
	n.mu.Lock()
	defer n.mu.Unlock()

	b := &MemBus{
		net:  n,
		self: id,
		recv: make(chan Datagram, memQueueSize),
		quit: make(chan struct{}),
	}
	n.nodes[id] = b
	return b
}

func (n *MemNetwork) leave(b *MemBus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[b.self] == b {
		delete(n.nodes, b.self)
	}
}

// deliver pushes a frame to one endpoint, applying the loss, duplication and
// reorder rates. The caller holds n.mu.
func (n *MemNetwork) deliver(to *MemBus, d Datagram) {
	if n.lossRate > 0 && n.rng.Float64() < n.lossRate {
		return
	}
	frame := Datagram{From: d.From, Payload: append([]byte(nil), d.Payload...)}
	if n.reorderRate > 0 && to.held == nil && n.rng.Float64() < n.reorderRate {
		to.held = &frame
		return
	}
	copies := 1
	if n.dupRate > 0 && n.rng.Float64() < n.dupRate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		to.enqueue(frame)
	}
	if held := to.held; held != nil {
		to.held = nil
		to.enqueue(*held)
	}
}

func (n *MemNetwork) send(from wire.NodeID, to wire.NodeID, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.nodes[to]; ok {
		n.deliver(b, Datagram{From: from, Payload: payload})
	}
}

func (n *MemNetwork) broadcast(from wire.NodeID, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, b := range n.nodes {
		if id == from {
			continue
		}
		n.deliver(b, Datagram{From: from, Payload: payload})
	}
}

// MemBus is one endpoint attached to a MemNetwork.
type MemBus struct {
	net  *MemNetwork
	self wire.NodeID
	recv chan Datagram
	held *Datagram // frame delayed by reordering, guarded by net.mu

	closeOnce sync.Once
	quit      chan struct{}
}

var _ Bus = (*MemBus)(nil)

// Self returns the node id the endpoint joined under.
func (b *MemBus) Self() wire.NodeID {
	return b.self
}

// Send queues a unicast frame. Frames to unknown nodes vanish silently, like
// on the real fabric.
func (b *MemBus) Send(to wire.NodeID, payload []byte) error {
	if err := b.check(payload); err != nil {
		return err
	}
	b.net.send(b.self, to, payload)
	return nil
}

// Broadcast queues a frame for every other endpoint on the fabric.
func (b *MemBus) Broadcast(payload []byte) error {
	if err := b.check(payload); err != nil {
		return err
	}
	b.net.broadcast(b.self, payload)
	return nil
}

func (b *MemBus) check(payload []byte) error {
	select {
	case <-b.quit:
		return ErrClosed
	default:
	}
	if len(payload) > MaxPayload {
		return ErrOversized
	}
	return nil
}

// enqueue hands a frame to the receiver, dropping it when the queue is
// full, as on a saturated bus. The caller holds net.mu.
func (b *MemBus) enqueue(d Datagram) {
	select {
	case b.recv <- d:
	default:
	}
}

// Recv returns the inbound frame channel.
func (b *MemBus) Recv() <-chan Datagram {
	return b.recv
}

// Close detaches the endpoint. Pending inbound frames are discarded.
func (b *MemBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.quit)
		b.net.leave(b)
		close(b.recv)
	})
	return nil
}
