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

package crawler

import (
	"testing"
	"time"
)

func TestRobotsParsing(t *testing.T) {
	body := `
# site policy
User-agent: *
Disallow: /private
Allow: /private/press
Crawl-delay: 2

User-agent: grabby-bot
Disallow: /
`
	rules := parseRobots(body)
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/guide", true},
		{"/private", false},
		{"/private/mail", false},
		{"/private/press", true},
		{"/private/press/2025", true},
	}
	for _, tt := range tests {
		if got := rules.Allowed(tt.path); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if rules.delay != 2*time.Second {
		t.Errorf("delay = %v, want 2s", rules.delay)
	}
}

func TestRobotsAgentSelection(t *testing.T) {
	body := `
User-agent: rednet-crawler
Disallow: /nocrawl

User-agent: *
Disallow: /
`
	rules := parseRobots(body)
	if !rules.Allowed("/guide") {
		t.Error("agent-specific group not selected over wildcard")
	}
	if rules.Allowed("/nocrawl") {
		t.Error("agent-specific disallow ignored")
	}
}

func TestRobotsEmptyAndMissingGroups(t *testing.T) {
	// An empty Disallow means everything is allowed.
	rules := parseRobots("User-agent: *\nDisallow:\n")
	if !rules.Allowed("/anything") {
		t.Error("empty disallow blocked a path")
	}
	// No applicable group allows everything.
	rules = parseRobots("User-agent: othercrawler\nDisallow: /\n")
	if !rules.Allowed("/anything") {
		t.Error("inapplicable group blocked a path")
	}
	// Garbage degrades to allowing everything.
	rules = parseRobots("<p>this is not a robots file</p>")
	if !rules.Allowed("/") {
		t.Error("garbage file blocked a path")
	}
}

func TestRobotsLongestMatchTie(t *testing.T) {
	// Equal-length allow and disallow prefixes: allow wins.
	rules := parseRobots("User-agent: *\nDisallow: /data\nAllow: /docs\n")
	if !rules.Allowed("/docs/x") {
		t.Error("allow rule lost a tie it should win")
	}
	if rules.Allowed("/data/x") {
		t.Error("disallow prefix did not match")
	}
}
