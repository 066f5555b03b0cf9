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

package rednet

import (
	"testing"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// Verdicts escalate per source: burst tokens allow, the next few excess
// requests throttle, sustained excess drops. Other sources are unaffected.
func TestRateGuardVerdicts(t *testing.T) {
	g := NewRateGuard(0.001, 2)
	env := &wire.Envelope{Src: 7, Type: wire.TypeRequest}

	for i := 0; i < 2; i++ {
		if a := g.CheckRequest(env); a != ActionAllow {
			t.Fatalf("request %d: got %v, want allow", i, a)
		}
	}
	for i := 0; i < 2; i++ {
		if a := g.CheckRequest(env); a != ActionThrottle {
			t.Fatalf("excess request %d: got %v, want throttle", i, a)
		}
	}
	if a := g.CheckRequest(env); a != ActionDrop {
		t.Fatalf("flooding request: got %v, want drop", a)
	}

	if a := g.CheckRequest(&wire.Envelope{Src: 8, Type: wire.TypeRequest}); a != ActionAllow {
		t.Fatalf("unrelated source: got %v, want allow", a)
	}
}

func TestRateGuardBlock(t *testing.T) {
	g := NewRateGuard(100, 10)
	env := &wire.Envelope{Src: 9, Type: wire.TypeRequest}

	g.Block(9)
	if a := g.CheckRequest(env); a != ActionBlock {
		t.Fatalf("blocked source: got %v, want block", a)
	}
	g.Unblock(9)
	if a := g.CheckRequest(env); a != ActionAllow {
		t.Fatalf("unblocked source: got %v, want allow", a)
	}
}
