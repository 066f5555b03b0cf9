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

package sandbox

import (
	"fmt"
	"regexp"
)

// The static screen rejects source that names the blocked runtime surface
// or tries to smuggle such names past the scan with byte escapes. It scans
// raw source, comments and string literals included, so false positives
// are possible. That is acceptable: the screen is advisory, the stripped
// interpreter environment is what actually enforces the policy.
var screenChecks = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\b(os|io|debug|package)\s*[.\[]`), "blocked library access"},
	{regexp.MustCompile(`\b(require|dofile|loadfile|loadstring|load|collectgarbage|getfenv|setfenv|module)\s*\(`), "blocked function call"},
	{regexp.MustCompile(`\b_G\s*[.\[]`), "global table access"},
	{regexp.MustCompile(`\\\d{1,3}`), "byte escape in source"},
	{regexp.MustCompile(`\\x[0-9a-fA-F]{2}`), "hex escape in source"},
	{regexp.MustCompile(`\bstring\.char\s*\(`), "string.char construction"},
}

// Screen statically checks handler source before compilation. A non-nil
// return is always a KindForbidden error naming the first offending
// construct.
func Screen(src string) error {
	for _, c := range screenChecks {
		if m := c.re.FindString(src); m != "" {
			screenRejectMeter.Mark(1)
			return &Error{Kind: KindForbidden, Message: fmt.Sprintf("%s: %q", c.reason, m)}
		}
	}
	return nil
}
