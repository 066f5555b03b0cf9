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

package safety

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultRules(t *testing.T) {
	s := Default()
	tests := []struct {
		body    string
		ctype   string
		blocked bool
	}{
		{"welcome to my site", "text/html", false},
		{"print('hello')", "application/lua", false},
		{`shell.run("rm /")`, "application/lua", true},
		{"SHELL . RUN('x')", "text/plain", true},           // case and spacing folded
		{"seashell.run is a function", "text/html", false}, // boundary keeps substrings clean
		{"marshalling data", "text/html", false},
		{`fs.open("/etc/passwd", "r")`, "application/lua", true},
		{"os.reboot()", "text/plain", true},
		{"loadstring(payload)()", "application/lua", true},
		{"require('mod')", "application/lua", true},
		{"_G.print = nil", "application/lua", true},
		{`_G["os"]`, "application/lua", true},
		{`print("\72\101\108\108\111")`, "text/plain", false}, // short escapes are fine
		{`"` + strings.Repeat(`\120`, 30) + `"`, "text/plain", true},
		{strings.Repeat(`\x41`, 30), "text/plain", true},
		// Binary bodies never match, whatever they contain.
		{`shell.run("boom")`, "image/nft", false},
		{strings.Repeat(`\x41`, 64), "application/octet-stream", false},
	}
	for _, tt := range tests {
		err := s.Scan([]byte(tt.body), tt.ctype)
		if tt.blocked && err == nil {
			t.Errorf("Scan(%q, %q): want blocked, got nil", tt.body, tt.ctype)
		}
		if !tt.blocked && err != nil {
			t.Errorf("Scan(%q, %q): unexpected error %v", tt.body, tt.ctype, err)
		}
		if err != nil && !errors.Is(err, ErrBlocked) {
			t.Errorf("Scan(%q, %q): error %v does not wrap ErrBlocked", tt.body, tt.ctype, err)
		}
	}
}

func TestTextual(t *testing.T) {
	tests := []struct {
		ctype string
		want  bool
	}{
		{"", true}, // unlabeled content is scanned
		{"text/html", true},
		{"text/plain; charset=utf-8", true},
		{"TEXT/NFT", true},
		{"application/json", true},
		{"application/lua", true},
		{"application/octet-stream", false},
		{"image/nft", false},
	}
	for _, tt := range tests {
		if got := textual(tt.ctype); got != tt.want {
			t.Errorf("textual(%q) = %v, want %v", tt.ctype, got, tt.want)
		}
	}
}

func TestNopScanner(t *testing.T) {
	if err := Nop().Scan([]byte(`shell.run("anything")`), "text/plain"); err != nil {
		t.Fatalf("Nop scanner rejected content: %v", err)
	}
}

func TestEmptyPatternScanner(t *testing.T) {
	s := NewPatternScanner()
	if err := s.Scan([]byte("loadstring(x)"), "text/plain"); err != nil {
		t.Fatalf("rule-less scanner rejected content: %v", err)
	}
}
