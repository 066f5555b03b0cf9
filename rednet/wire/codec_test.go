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
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	json "github.com/goccy/go-json"
)

// testClock is a settable wall clock for codec tests.
type testClock struct {
	now time.Time
}

func (tc *testClock) Now() time.Time {
	return tc.now
}

func (tc *testClock) advance(d time.Duration) {
	tc.now = tc.now.Add(d)
}

func newTestCodec(self NodeID) (*Codec, *testClock) {
	tc := &testClock{now: time.Unix(1700000000, 0)}
	c := NewCodec(Config{Self: self, Now: tc.Now})
	return c, tc
}

func TestSealDecodeRoundTrip(t *testing.T) {
	alice, clk := newTestCodec(7)
	bob := NewCodec(Config{Self: 12, Now: clk.Now})

	req := &Request{
		Method:  "GET",
		URL:     "rdnt://shop.comp7.rednet/index.rwml",
		Cookies: map[string]string{"session": "abc"},
	}
	sent, packet, err := alice.NewRequest(12, req)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	got, err := bob.Decode(packet)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, sent) {
		t.Fatalf("envelope mismatch:\nsent: %s\ngot:  %s", spew.Sdump(sent), spew.Sdump(got))
	}
	var decoded Request
	if err := got.DecodeData(&decoded); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if !reflect.DeepEqual(&decoded, req) {
		t.Fatalf("payload mismatch: %s", spew.Sdump(decoded))
	}
}

func TestUnknownKeysPreserved(t *testing.T) {
	alice, clk := newTestCodec(7)
	bob := NewCodec(Config{Self: 12, Now: clk.Now})

	_, packet, err := alice.Seal(TypePing, nil, &Ping{Seq: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Splice in a key from some future protocol revision.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(packet, &obj); err != nil {
		t.Fatal(err)
	}
	obj["hop"] = json.RawMessage(`3`)
	packet, err = json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}

	env, err := bob.Decode(packet)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(env.Extra["hop"]) != "3" {
		t.Fatalf("unknown key lost: %v", env.Extra)
	}
	reenc, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var round map[string]json.RawMessage
	if err := json.Unmarshal(reenc, &round); err != nil {
		t.Fatal(err)
	}
	if string(round["hop"]) != "3" {
		t.Fatalf("unknown key not round-tripped: %s", reenc)
	}
}

func TestDecodeErrors(t *testing.T) {
	clk := &testClock{now: time.Unix(1700000000, 0)}
	self := NewCodec(Config{Self: 7, Now: clk.Now})
	peer := NewCodec(Config{Self: 3, Now: clk.Now})
	stranger := NewCodec(Config{Self: 3, Secret: "other network", Now: clk.Now})

	sealFor := func(c *Codec, tgt NodeID) []byte {
		_, packet, err := c.Seal(TypePing, &tgt, &Ping{Seq: 9})
		if err != nil {
			t.Fatal(err)
		}
		return packet
	}
	// tamper flips a payload byte without re-MACing.
	tamper := func(packet []byte) []byte {
		s := strings.Replace(string(packet), `"seq":9`, `"seq":8`, 1)
		if s == string(packet) {
			t.Fatal("tamper target not found")
		}
		return []byte(s)
	}

	tests := []struct {
		name    string
		packet  []byte
		wantErr error
	}{
		{"garbage", []byte("not json"), ErrParse},
		{"empty object", []byte(`{}`), ErrParse},
		{"missing mac", []byte(`{"v":1,"t":"ping","id":"3-1","ts":1,"src":3}`), ErrParse},
		{"unknown type", []byte(`{"v":1,"t":"gossip","id":"3-1","ts":1,"src":3,"m":"00"}`), ErrParse},
		{"bad version", []byte(`{"v":9,"t":"ping","id":"3-1","ts":1,"src":3,"m":"00"}`), ErrParse},
		{"bad field type", []byte(`{"v":1,"t":"ping","id":17,"ts":1,"src":3,"m":"00"}`), ErrParse},
		{"not for us", sealFor(peer, 8), ErrMisaddressed},
		{"tampered payload", tamper(sealFor(peer, 7)), ErrIntegrity},
		{"wrong network key", sealFor(stranger, 7), ErrIntegrity},
	}
	for _, tt := range tests {
		if _, err := self.Decode(tt.packet); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: error %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestDecodeReplay(t *testing.T) {
	clk := &testClock{now: time.Unix(1700000000, 0)}
	self := NewCodec(Config{Self: 7, Now: clk.Now})
	peer := NewCodec(Config{Self: 3, Now: clk.Now})

	_, packet, err := peer.Seal(TypePing, nil, &Ping{Seq: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := self.Decode(packet); err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	if _, err := self.Decode(packet); !errors.Is(err, ErrReplay) {
		t.Fatalf("second decode: error %v, want ErrReplay", err)
	}
}

// forge builds a frame with a chosen id and timestamp, signed with the
// receiving codec's own key.
func forge(c *Codec, id string, ts uint64, src NodeID) []byte {
	env := &Envelope{
		Version: Version,
		Type:    TypePing,
		ID:      id,
		Time:    ts,
		Src:     src,
		Data:    json.RawMessage(`{"seq":1}`),
	}
	env.MAC = c.mac(env)
	packet, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return packet
}

func TestReplayWindowExpiry(t *testing.T) {
	clk := &testClock{now: time.Unix(1700000000, 0)}
	self := NewCodec(Config{Self: 7, Now: clk.Now})

	ts := func() uint64 { return uint64(clk.now.UnixMilli()) }

	if _, err := self.Decode(forge(self, "3-55", ts(), 3)); err != nil {
		t.Fatalf("fresh id rejected: %v", err)
	}
	if _, err := self.Decode(forge(self, "3-55", ts(), 3)); !errors.Is(err, ErrReplay) {
		t.Fatalf("repeat within window: error %v, want ErrReplay", err)
	}
	// Once the replay window has passed, the id is usable again as long as
	// the new frame carries a current timestamp.
	clk.advance(defaultReplayWindow + time.Second)
	if _, err := self.Decode(forge(self, "3-55", ts(), 3)); err != nil {
		t.Fatalf("id after window rejected: %v", err)
	}
}

func TestDecodeSkew(t *testing.T) {
	clk := &testClock{now: time.Unix(1700000000, 0)}
	self := NewCodec(Config{Self: 7, Now: clk.Now})

	now := clk.now.UnixMilli()
	tests := []struct {
		name string
		ts   int64
		ok   bool
	}{
		{"current", now, true},
		{"at past edge", now - 60_000, true},
		{"too old", now - 61_000, false},
		{"at future edge", now + 60_000, true},
		{"too new", now + 61_000, false},
	}
	for i, tt := range tests {
		id := "3-" + strconv.Itoa(100+i)
		_, err := self.Decode(forge(self, id, uint64(tt.ts), 3))
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrReplay) {
			t.Errorf("%s: error %v, want ErrReplay", tt.name, err)
		}
	}
}

func TestSealIDsIncrease(t *testing.T) {
	c, _ := newTestCodec(7)

	last := uint64(0)
	for i := 0; i < 10; i++ {
		env, _, err := c.Seal(TypePing, nil, &Ping{Seq: uint64(i)})
		if err != nil {
			t.Fatal(err)
		}
		parts := strings.SplitN(env.ID, "-", 2)
		if len(parts) != 2 || parts[0] != "7" {
			t.Fatalf("bad id shape: %q", env.ID)
		}
		seq, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			t.Fatalf("bad id sequence: %q", env.ID)
		}
		if seq <= last {
			t.Fatalf("id did not increase: %d after %d", seq, last)
		}
		last = seq
	}
}

func TestSealOversizedPayload(t *testing.T) {
	c, _ := newTestCodec(7)

	_, _, err := c.Seal(TypeResponse, nil, &Response{Body: strings.Repeat("x", maxEnvelopeSize)})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("error %v, want ErrEncode", err)
	}
}
