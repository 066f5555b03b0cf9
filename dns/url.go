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

package dns

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme is the URL scheme of the RedNet web.
const Scheme = "rdnt"

// URL is a parsed rdnt:// address. The canonical form has a lowercase name,
// no fragment and a cleaned path, so equal pages compare equal as strings.
type URL struct {
	Name     Name
	Path     string // URL-decoded, cleaned, always begins with "/"
	RawQuery string // percent-encoded k=v pairs, without the leading "?"
}

// ParseURL parses an rdnt URL. The scheme prefix is optional: bare
// "name/path" forms are accepted the way a browser address bar accepts them.
// Fragments are dropped, duplicate slashes collapse and the host lowercases,
// making the result canonical.
func ParseURL(raw string) (*URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidName)
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		if raw[:i] != Scheme {
			return nil, fmt.Errorf("%w: scheme %q", ErrInvalidName, raw[:i])
		}
	} else {
		raw = Scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	name, err := ParseName(u.Host)
	if err != nil {
		return nil, err
	}
	return &URL{Name: name, Path: cleanPath(u.Path), RawQuery: u.RawQuery}, nil
}

// cleanPath collapses slashes and dot segments. Anything escaping the root
// clamps to the root, so a crafted path cannot name files above it.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean("/" + p)
	return p
}

// String renders the canonical URL.
func (u *URL) String() string {
	s := Scheme + "://" + u.Name.String() + u.Path
	if u.RawQuery != "" {
		s += "?" + u.RawQuery
	}
	return s
}

// Query parses the query string into a multimap. Malformed pairs are
// dropped, matching what lenient web servers do.
func (u *URL) Query() url.Values {
	v, _ := url.ParseQuery(u.RawQuery)
	return v
}

// Params flattens the query into single values, keeping the first value of
// repeated keys. Handler scripts and form fills want this shape.
func (u *URL) Params() map[string]string {
	q := u.Query()
	if len(q) == 0 {
		return nil
	}
	params := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}

// Resolve interprets ref relative to u, the way a link on a page is followed.
// Absolute rdnt URLs pass through, rooted paths switch the path within the
// same site, and relative paths resolve against the directory of u.
func (u *URL) Resolve(ref string) (*URL, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("%w: empty link", ErrInvalidName)
	case strings.Contains(ref, "://"):
		return ParseURL(ref)
	}
	// Strip any fragment before path handling.
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[:i]
		if ref == "" {
			return &URL{Name: u.Name, Path: u.Path}, nil
		}
	}
	var rawq string
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref, rawq = ref[:i], ref[i+1:]
	}
	p := ref
	if !strings.HasPrefix(p, "/") {
		p = path.Join(path.Dir(u.Path), p)
	}
	return &URL{Name: u.Name, Path: cleanPath(p), RawQuery: rawq}, nil
}
