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
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsHelloWait  = 15 * time.Second
)

// wsFrame is the gateway exchange format. The gateway fills From on relayed
// frames; To is nil for broadcasts. The first frame from the gateway is a
// hello assigning the endpoint its node id in To.
type wsFrame struct {
	Hello   bool         `json:"hello,omitempty"`
	From    wire.NodeID  `json:"from,omitempty"`
	To      *wire.NodeID `json:"to,omitempty"`
	Payload []byte       `json:"payload,omitempty"`
}

// WSConfig configures a websocket gateway connection.
type WSConfig struct {
	// URL is the gateway endpoint, e.g. "ws://gateway.local:8546/bus".
	URL string

	// Handshake bounds the dial plus hello exchange.
	Handshake time.Duration

	Log log.Logger
}

// WSBus attaches to a host-environment gateway speaking the websocket relay
// protocol. The gateway assigns the node id during the hello exchange, which
// mirrors how the in-game host hands out computer ids.
type WSBus struct {
	conn *websocket.Conn
	self wire.NodeID
	recv chan Datagram
	send chan []byte
	log  log.Logger

	closeOnce sync.Once
	quit      chan struct{}
}

var _ Bus = (*WSBus)(nil)

// DialWS connects to the gateway and completes the hello exchange.
func DialWS(cfg WSConfig) (*WSBus, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Handshake == 0 {
		cfg.Handshake = wsHelloWait
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.Handshake}
	conn, _, err := dialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial: %w", err)
	}
	// The gateway speaks first, assigning our identity.
	conn.SetReadDeadline(time.Now().Add(cfg.Handshake))
	var hello wsFrame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gateway hello: %w", err)
	}
	if !hello.Hello || hello.To == nil {
		conn.Close()
		return nil, errors.New("gateway hello missing node id")
	}
	b := &WSBus{
		conn: conn,
		self: *hello.To,
		recv: make(chan Datagram, memQueueSize),
		send: make(chan []byte, memQueueSize),
		log:  cfg.Log.New("bus", "ws", "self", *hello.To),
		quit: make(chan struct{}),
	}
	go b.readPump()
	go b.writePump()
	return b, nil
}

// Self returns the node id the gateway assigned.
func (b *WSBus) Self() wire.NodeID {
	return b.self
}

// Send queues a unicast frame for relay through the gateway.
func (b *WSBus) Send(to wire.NodeID, payload []byte) error {
	return b.enqueue(&to, payload)
}

// Broadcast queues a frame for every endpoint behind the gateway.
func (b *WSBus) Broadcast(payload []byte) error {
	return b.enqueue(nil, payload)
}

func (b *WSBus) enqueue(to *wire.NodeID, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrOversized
	}
	raw, err := json.Marshal(&wsFrame{From: b.self, To: to, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case b.send <- raw:
		return nil
	case <-b.quit:
		return ErrClosed
	}
}

// Recv returns the inbound frame channel.
func (b *WSBus) Recv() <-chan Datagram {
	return b.recv
}

// Close tears the gateway connection down.
func (b *WSBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.quit)
		b.conn.Close()
	})
	return nil
}

// readPump relays gateway frames into the receive channel. It owns the read
// side of the connection and the pong handler.
func (b *WSBus) readPump() {
	defer func() {
		b.Close()
		close(b.recv)
	}()

	b.conn.SetReadLimit(MaxPayload + 4096)
	b.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Debug("Gateway read error", "err", err)
			}
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			b.log.Trace("Dropped gateway frame", "err", err)
			continue
		}
		if frame.Hello {
			continue
		}
		select {
		case b.recv <- Datagram{From: frame.From, Payload: frame.Payload}:
		default:
			// Queue full, the frame is lost.
		}
	}
}

// writePump owns the write side of the connection, interleaving queued
// frames with keepalive pings.
func (b *WSBus) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		b.Close()
	}()

	for {
		select {
		case raw := <-b.send:
			b.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := b.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				b.log.Debug("Gateway write error", "err", err)
				return
			}
		case <-ticker.C:
			b.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-b.quit:
			b.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
