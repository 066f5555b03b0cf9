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

package search

import (
	"strings"
	"unicode/utf8"
)

// SnippetRadius is the number of characters shown on each side of the
// earliest query-term hit.
const SnippetRadius = 40

// Snippet cuts a window of ±radius characters around the byte offset off in
// body, ellipsized where truncated. Newlines inside the window collapse to
// spaces. The offset may point anywhere, it is clamped and aligned to a
// rune boundary.
func Snippet(body string, off, radius int) string {
	if body == "" {
		return ""
	}
	if off < 0 {
		off = 0
	}
	if off >= len(body) {
		off = len(body) - 1
	}
	for off > 0 && !utf8.RuneStart(body[off]) {
		off--
	}
	start := off
	for n := 0; n < radius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(body[:start])
		start -= size
	}
	end := off
	for n := 0; n < radius+1 && end < len(body); n++ {
		_, size := utf8.DecodeRuneInString(body[end:])
		end += size
	}
	snip := strings.Join(strings.Fields(body[start:end]), " ")
	if start > 0 {
		snip = "..." + snip
	}
	if end < len(body) {
		snip += "..."
	}
	return snip
}
