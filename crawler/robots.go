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
	"strconv"
	"strings"
	"time"
)

// UserAgent is the token sites use to address this crawler in robots.txt.
const UserAgent = "rednet-crawler"

// robotsRule is one Allow or Disallow line. An empty path on a disallow
// means "disallow nothing" per the de facto standard.
type robotsRule struct {
	path  string
	allow bool
}

// robotsRules is the policy extracted from one robots.txt for our agent.
// The zero value allows everything, which covers sites without the file.
type robotsRules struct {
	rules []robotsRule
	delay time.Duration // Crawl-delay, zero when unset
}

var (
	allowAllRules = &robotsRules{}
	denyAllRules  = &robotsRules{rules: []robotsRule{{path: "/", allow: false}}}
)

// Allowed reports whether the policy permits fetching path. Matching
// follows the longest-prefix rule with Allow winning ties, so specific
// carve-outs override broad bans.
func (r *robotsRules) Allowed(path string) bool {
	if path == "" {
		path = "/"
	}
	bestLen, allowed := -1, true
	for _, rule := range r.rules {
		if rule.path == "" {
			continue
		}
		if !strings.HasPrefix(path, rule.path) {
			continue
		}
		if len(rule.path) > bestLen || (len(rule.path) == bestLen && rule.allow) {
			bestLen, allowed = len(rule.path), rule.allow
		}
	}
	return allowed
}

// parseRobots extracts the rule group addressed to our agent, falling back
// to the wildcard group. Unknown directives are skipped; a file with no
// applicable group allows everything.
func parseRobots(body string) *robotsRules {
	type group struct {
		agents []string
		rules  []robotsRule
		delay  time.Duration
	}
	var (
		groups  []*group
		current *group
		inRules bool
	)
	for _, line := range strings.Split(body, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "user-agent":
			// Consecutive user-agent lines extend the same group; one
			// after rules starts a new group.
			if current == nil || inRules {
				current = &group{}
				groups = append(groups, current)
				inRules = false
			}
			current.agents = append(current.agents, strings.ToLower(val))
		case "disallow", "allow":
			if current == nil {
				continue
			}
			inRules = true
			if val == "" && key == "disallow" {
				continue // "Disallow:" means allow everything
			}
			current.rules = append(current.rules, robotsRule{path: val, allow: key == "allow"})
		case "crawl-delay":
			if current == nil {
				continue
			}
			inRules = true
			if secs, err := strconv.ParseFloat(val, 64); err == nil && secs > 0 {
				current.delay = time.Duration(secs * float64(time.Second))
			}
		}
	}
	pick := func(agent string) *group {
		for _, g := range groups {
			for _, a := range g.agents {
				if a == agent {
					return g
				}
			}
		}
		return nil
	}
	g := pick(UserAgent)
	if g == nil {
		g = pick("*")
	}
	if g == nil {
		return allowAllRules
	}
	return &robotsRules{rules: g.rules, delay: g.delay}
}
