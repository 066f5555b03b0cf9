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
	"fmt"
	"strings"

	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
	"github.com/rednet-explorer/go-rednet/search/query"
)

// escapeRWML makes arbitrary text safe to embed in a page body.
var escapeRWML = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"[", "&#91;",
).Replace

// HomeData supplies the live values the home page renders.
type HomeData struct {
	Version string
	Names   func() []string // locally served names
	Peers   func() int      // currently known peers
}

// HomeBuiltin serves the rdnt://home landing page: the client version, the
// sites this node hosts and a pointer to search.
func HomeBuiltin(data HomeData) BuiltinFunc {
	return func(req *wire.Request, u *dns.URL) *wire.Response {
		var b strings.Builder
		b.WriteString("<title>RedNet Explorer</title>\n")
		b.WriteString("<h1>RedNet Explorer</h1>\n")
		fmt.Fprintf(&b, "<p>go-rednet %s</p>\n", escapeRWML(data.Version))
		if data.Peers != nil {
			fmt.Fprintf(&b, "<p>%d peers on the network</p>\n", data.Peers())
		}
		b.WriteString("<p>[link rdnt://search Search the RedNet web]</p>\n")
		if data.Names != nil {
			if names := data.Names(); len(names) > 0 {
				b.WriteString("<h2>Sites on this computer</h2>\n")
				for _, name := range names {
					fmt.Fprintf(&b, "<li>[link rdnt://%s %s]</li>\n", name, escapeRWML(name))
				}
			}
		}
		return &wire.Response{
			Status:  wire.StatusOK,
			Headers: map[string]string{"content-type": "text/rwml"},
			Body:    b.String(),
		}
	}
}

// SearchBuiltin serves the rdnt://search frontend over the local index. The
// q parameter carries the query; without one the page explains the syntax.
func SearchBuiltin(engine *query.Engine) BuiltinFunc {
	return func(req *wire.Request, u *dns.URL) *wire.Response {
		params := u.Params()
		for k, v := range req.Form {
			params[k] = v
		}
		q := strings.TrimSpace(params["q"])

		var b strings.Builder
		b.WriteString("<title>RedNet Search</title>\n")
		b.WriteString("<h1>Search</h1>\n")
		if q == "" {
			b.WriteString("<p>Pass a query: rdnt://search?q=redstone+tutorial</p>\n")
			b.WriteString("<p>Operators: \"quoted phrases\", -excluded, OR,\n")
			b.WriteString("site:name.rednet, type:lua, title:word</p>\n")
			return searchPage(&b)
		}
		results := engine.Search(q, 0)
		fmt.Fprintf(&b, "<p>%d results for %s</p>\n", len(results), escapeRWML(q))
		for i, res := range results {
			title := res.Title
			if title == "" {
				title = res.URL
			}
			fmt.Fprintf(&b, "<h3>%d. [link %s %s]</h3>\n", i+1, res.URL, escapeRWML(title))
			fmt.Fprintf(&b, "<p>%s</p>\n", escapeRWML(res.URL))
			if res.Snippet != "" {
				fmt.Fprintf(&b, "<p>%s</p>\n", escapeRWML(res.Snippet))
			}
		}
		if len(results) == 0 {
			b.WriteString("<p>Nothing indexed matches that query.</p>\n")
		}
		return searchPage(&b)
	}
}

func searchPage(b *strings.Builder) *wire.Response {
	return &wire.Response{
		Status:  wire.StatusOK,
		Headers: map[string]string{"content-type": "text/rwml"},
		Body:    b.String(),
	}
}
