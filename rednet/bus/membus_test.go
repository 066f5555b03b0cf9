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
	"testing"
	"time"
)

func recvOne(t *testing.T, b Bus) Datagram {
	t.Helper()
	select {
	case d := <-b.Recv():
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Datagram{}
	}
}

func TestMemBusUnicast(t *testing.T) {
	net := NewMemNetwork()
	a := net.Join(1)
	b := net.Join(2)
	defer a.Close()
	defer b.Close()

	if err := a.Send(2, []byte("hi")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	got := recvOne(t, b)
	if got.From != 1 || string(got.Payload) != "hi" {
		t.Fatalf("bad frame: from=%d payload=%q", got.From, got.Payload)
	}

	// Unicast must not leak to third parties.
	c := net.Join(3)
	defer c.Close()
	if err := a.Send(2, []byte("again")); err != nil {
		t.Fatal(err)
	}
	recvOne(t, b)
	select {
	case d := <-c.Recv():
		t.Fatalf("unicast leaked to node 3: %q", d.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBusBroadcast(t *testing.T) {
	net := NewMemNetwork()
	a := net.Join(1)
	b := net.Join(2)
	c := net.Join(3)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := a.Broadcast([]byte("all")); err != nil {
		t.Fatal(err)
	}
	for _, peer := range []*MemBus{b, c} {
		got := recvOne(t, peer)
		if got.From != 1 || string(got.Payload) != "all" {
			t.Fatalf("bad frame at %d: %+v", peer.Self(), got)
		}
	}
	// The sender must not hear its own broadcast.
	select {
	case d := <-a.Recv():
		t.Fatalf("sender received own broadcast: %q", d.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBusDuplication(t *testing.T) {
	net := NewMemNetwork()
	net.SetDuplication(1)
	a := net.Join(1)
	b := net.Join(2)
	defer a.Close()
	defer b.Close()

	if err := a.Send(2, []byte("x")); err != nil {
		t.Fatal(err)
	}
	recvOne(t, b)
	recvOne(t, b)
}

func TestMemBusReorder(t *testing.T) {
	net := NewMemNetwork()
	net.SetReorder(1)
	a := net.Join(1)
	b := net.Join(2)
	defer a.Close()
	defer b.Close()

	// At rate 1 every other frame is held behind its successor, so the
	// stream 1,2,3,4 arrives as 2,1,4,3.
	for _, p := range []string{"f1", "f2", "f3", "f4"} {
		if err := a.Send(2, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"f2", "f1", "f4", "f3"}
	for i, w := range want {
		got := recvOne(t, b)
		if string(got.Payload) != w {
			t.Fatalf("frame %d: got %q, want %q", i, got.Payload, w)
		}
	}
}

func TestMemBusLoss(t *testing.T) {
	net := NewMemNetwork()
	net.SetLoss(1)
	a := net.Join(1)
	b := net.Join(2)
	defer a.Close()
	defer b.Close()

	if err := a.Send(2, []byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-b.Recv():
		t.Fatalf("frame survived full loss: %q", d.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBusClosed(t *testing.T) {
	net := NewMemNetwork()
	a := net.Join(1)
	a.Close()

	if err := a.Send(2, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: error %v, want ErrClosed", err)
	}
	if err := a.Broadcast([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("broadcast after close: error %v, want ErrClosed", err)
	}
	// Double close is fine.
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemBusOversized(t *testing.T) {
	net := NewMemNetwork()
	a := net.Join(1)
	defer a.Close()

	big := make([]byte, MaxPayload+1)
	if err := a.Send(2, big); !errors.Is(err, ErrOversized) {
		t.Fatalf("oversized send: error %v, want ErrOversized", err)
	}
}
