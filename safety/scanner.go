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

// Package safety screens page content for patterns that must not ship to
// browsers or enter the search index. It runs on the serving node for
// outbound bodies and on the crawling node before indexing, so a page has
// to pass twice before it can reach a result list.
package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBlocked is the sentinel wrapped by every scan rejection.
var ErrBlocked = errors.New("content blocked")

// Scanner inspects content before it leaves the node or enters the index.
// A nil error means the content is clean.
type Scanner interface {
	Scan(body []byte, contentType string) error
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(body []byte, contentType string) error

func (f ScannerFunc) Scan(body []byte, contentType string) error {
	return f(body, contentType)
}

// Nop returns a scanner that accepts everything.
func Nop() Scanner {
	return ScannerFunc(func([]byte, string) error { return nil })
}

// Rule is one named pattern a scanner refuses.
type Rule struct {
	Name string
	re   *regexp.Regexp
}

// NewRule compiles a rule. Invalid patterns are a programming error.
func NewRule(name, pattern string) Rule {
	return Rule{Name: name, re: regexp.MustCompile(pattern)}
}

// DefaultRules lists the stock deny patterns: script fragments that try to
// break out of the page sandbox, plus loaders smuggled in through text
// assets that a careless visitor might paste into a shell.
func DefaultRules() []Rule {
	return []Rule{
		NewRule("shell escape", `(?i)\bshell\s*\.\s*(run|execute|exit)\b`),
		NewRule("filesystem access", `(?i)\bfs\s*\.\s*(open|delete|move|copy|makeDir)\b`),
		NewRule("os reboot", `(?i)\bos\s*\.\s*(shutdown|reboot|run)\b`),
		NewRule("dynamic loader", `(?i)\b(loadstring|load|dofile|require)\s*\(`),
		NewRule("environment probe", `_G\s*[.\[]`),
		NewRule("byte escape blob", `(?:\\\d{1,3}\s*){24,}`),
		NewRule("hex escape blob", `(?:\\x[0-9a-fA-F]{2}){24,}`),
	}
}

// PatternScanner rejects text content matching any of its rules. Binary
// content types pass through untouched; patterns are meaningless there and
// image payloads trip the escape-blob rules by accident.
type PatternScanner struct {
	rules []Rule
}

// NewPatternScanner builds a scanner over the given rules. With no rules it
// behaves like Nop.
func NewPatternScanner(rules ...Rule) *PatternScanner {
	return &PatternScanner{rules: rules}
}

// Default returns a scanner loaded with the stock rules.
func Default() *PatternScanner {
	return NewPatternScanner(DefaultRules()...)
}

// Scan checks text content against every rule and reports the first match.
func (s *PatternScanner) Scan(body []byte, contentType string) error {
	if !textual(contentType) {
		return nil
	}
	for _, r := range s.rules {
		if r.re.Match(body) {
			return fmt.Errorf("%w: %s", ErrBlocked, r.Name)
		}
	}
	return nil
}

// textual reports whether a content type carries scannable text.
func textual(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "text/") || ct == "application/json" || ct == "application/lua"
}
