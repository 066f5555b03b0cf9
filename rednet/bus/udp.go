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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// UDP frame layout: 4-byte magic, 4-byte sender id, 4-byte receiver id,
// envelope bytes. Everything is broadcast on the segment; receivers filter
// on the receiver id. The special id udpEveryone addresses all listeners.
const (
	udpHeaderSize = 12
	udpEveryone   = ^uint32(0)
)

var udpMagic = [4]byte{'r', 'd', 'n', 't'}

var errBadFrame = errors.New("malformed bus frame")

// UDPConfig configures a UDP broadcast endpoint.
type UDPConfig struct {
	// Self is the node id this endpoint answers to.
	Self wire.NodeID

	// Listen is the local address to bind, e.g. ":30321".
	Listen string

	// Broadcast is the segment broadcast address frames are sent to,
	// e.g. "255.255.255.255:30321".
	Broadcast string

	Log log.Logger
}

// UDPBus carries RedNet frames over UDP broadcast on a LAN segment. Unicast
// frames still go out as broadcasts with the receiver id in the header, the
// way the in-game wireless fabric behaves.
type UDPBus struct {
	cfg   UDPConfig
	conn  *net.UDPConn
	baddr *net.UDPAddr
	recv  chan Datagram
	log   log.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
	quit      chan struct{}
}

var _ Bus = (*UDPBus)(nil)

// ListenUDP binds the endpoint and starts its read loop.
func ListenUDP(cfg UDPConfig) (*UDPBus, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("bad listen address: %v", err)
	}
	baddr, err := net.ResolveUDPAddr("udp", cfg.Broadcast)
	if err != nil {
		return nil, fmt.Errorf("bad broadcast address: %v", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	b := &UDPBus{
		cfg:   cfg,
		conn:  conn,
		baddr: baddr,
		recv:  make(chan Datagram, memQueueSize),
		log:   cfg.Log.New("bus", "udp"),
		quit:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.readLoop()
	return b, nil
}

// Self returns the configured node id.
func (b *UDPBus) Self() wire.NodeID {
	return b.cfg.Self
}

// Send queues a frame addressed to one node.
func (b *UDPBus) Send(to wire.NodeID, payload []byte) error {
	return b.write(uint32(to), payload)
}

// Broadcast queues a frame addressed to every listener.
func (b *UDPBus) Broadcast(payload []byte) error {
	return b.write(udpEveryone, payload)
}

func (b *UDPBus) write(to uint32, payload []byte) error {
	select {
	case <-b.quit:
		return ErrClosed
	default:
	}
	if len(payload) > MaxPayload {
		return ErrOversized
	}
	frame := make([]byte, udpHeaderSize+len(payload))
	copy(frame, udpMagic[:])
	binary.BigEndian.PutUint32(frame[4:], uint32(b.cfg.Self))
	binary.BigEndian.PutUint32(frame[8:], to)
	copy(frame[udpHeaderSize:], payload)
	_, err := b.conn.WriteToUDP(frame, b.baddr)
	return err
}

// Recv returns the inbound frame channel.
func (b *UDPBus) Recv() <-chan Datagram {
	return b.recv
}

// Close shuts the socket down and stops the read loop.
func (b *UDPBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.quit)
		b.conn.Close()
		b.wg.Wait()
		close(b.recv)
	})
	return nil
}

// readLoop runs in its own goroutine, parsing frames off the socket.
func (b *UDPBus) readLoop() {
	defer b.wg.Done()

	buf := make([]byte, udpHeaderSize+MaxPayload)
	for {
		n, _, err := b.conn.ReadFromUDP(buf)
		if isTemporaryError(err) {
			b.log.Debug("Temporary UDP read error", "err", err)
			continue
		} else if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				b.log.Debug("UDP read error", "err", err)
			}
			return
		}
		from, payload, err := b.parseFrame(buf[:n])
		if err != nil {
			b.log.Trace("Dropped bus frame", "err", err)
			continue
		}
		if payload == nil {
			continue // not addressed to us
		}
		select {
		case b.recv <- Datagram{From: from, Payload: payload}:
		default:
			// Queue full, the frame is lost.
		}
	}
}

// parseFrame validates the header and returns the payload if the frame is
// addressed to this endpoint. A nil payload with nil error means the frame
// was for somebody else.
func (b *UDPBus) parseFrame(frame []byte) (wire.NodeID, []byte, error) {
	if len(frame) < udpHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", errBadFrame, len(frame))
	}
	if [4]byte(frame[:4]) != udpMagic {
		return 0, nil, fmt.Errorf("%w: bad magic", errBadFrame)
	}
	from := wire.NodeID(binary.BigEndian.Uint32(frame[4:8]))
	to := binary.BigEndian.Uint32(frame[8:12])
	if from == b.cfg.Self {
		return 0, nil, nil // our own broadcast echoed back
	}
	if to != udpEveryone && to != uint32(b.cfg.Self) {
		return 0, nil, nil
	}
	return from, append([]byte(nil), frame[udpHeaderSize:]...), nil
}

func isTemporaryError(err error) bool {
	tempErr, ok := err.(interface{ Temporary() bool })
	return ok && tempErr.Temporary()
}
