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
	"errors"
	"fmt"
)

// Kind classifies sandbox failures. The router maps these onto response
// status codes, so the distinction between a handler bug, an exhausted
// budget and an aborted request must survive the error path.
type Kind int

const (
	// KindSyntax marks source that failed to parse or compile.
	KindSyntax Kind = iota

	// KindRuntime marks a Lua error raised while the handler ran.
	KindRuntime

	// KindTimeout marks an invocation aborted because the surrounding
	// request gave up, as opposed to the handler spending its own budget.
	KindTimeout

	// KindLimit marks an exhausted resource budget: wall clock, output
	// size, string size or session space.
	KindLimit

	// KindForbidden marks source rejected by the static screen.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindRuntime:
		return "runtime"
	case KindTimeout:
		return "timeout"
	case KindLimit:
		return "limit_exceeded"
	case KindForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified sandbox failure. Every error leaving Compile or
// Invoke is one of these.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return "sandbox: " + e.Kind.String() + ": " + e.Message
}

// IsKind reports whether err is a sandbox error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
