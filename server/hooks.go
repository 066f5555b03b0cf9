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

package server

import (
	"errors"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// ErrDenied is the sentinel wrapped by permission refusals.
var ErrDenied = errors.New("access denied")

// Permission decides whether a requester may fetch a resource from a site.
// It runs after routing, so the site and path identify a real resource. A
// nil error grants access.
type Permission interface {
	AllowFetch(from wire.NodeID, site, path string) error
}

// PermissionFunc adapts a function to the Permission interface.
type PermissionFunc func(from wire.NodeID, site, path string) error

func (f PermissionFunc) AllowFetch(from wire.NodeID, site, path string) error {
	return f(from, site, path)
}

// AllowAll grants every fetch. It is the default policy.
func AllowAll() Permission {
	return PermissionFunc(func(wire.NodeID, string, string) error { return nil })
}
