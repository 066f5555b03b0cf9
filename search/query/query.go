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

// Package query parses search queries and ranks index documents. The
// grammar is flat: whitespace-separated clauses form AND groups, the word
// OR joins groups, '-' or NOT negates the following clause, double quotes
// delimit exact phrases and site:/type:/title: filters scope the whole
// query.
package query

import (
	"strings"

	"github.com/rednet-explorer/go-rednet/search"
)

// Phrase is an exact-phrase clause: its terms must appear as consecutive
// tokens in a matching document.
type Phrase []string

// Group is one AND group: a document matches the group when it contains
// every positive term, every phrase in consecutive form, and none of the
// negated ones.
type Group struct {
	Terms      []string
	Phrases    []Phrase
	NotTerms   []string
	NotPhrases []Phrase
}

func (g *Group) empty() bool {
	return len(g.Terms) == 0 && len(g.Phrases) == 0
}

// positive reports whether the group has something to match on. Groups
// with only negations cannot enumerate candidates and are dropped.
func (g *Group) positive() bool { return !g.empty() }

// Filters restrict the whole query regardless of where they were written.
type Filters struct {
	// Site keeps only documents hosted under the given name.
	Site string
	// Type keeps only documents of the given kind, "rwml" or "lua".
	Type string
	// Title keeps only documents whose title contains all these terms.
	Title []string
}

func (f *Filters) empty() bool {
	return f.Site == "" && f.Type == "" && len(f.Title) == 0
}

// Query is a parsed search query.
type Query struct {
	Groups  []Group
	Filters Filters
}

// Empty reports whether the query has nothing to match: no group survived
// tokenization. Filters alone do not make a query.
func (q *Query) Empty() bool {
	for i := range q.Groups {
		if q.Groups[i].positive() {
			return false
		}
	}
	return true
}

// Terms returns the deduplicated positive terms of the whole query,
// including phrase terms. This is the scoring set.
func (q *Query) Terms() []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	for i := range q.Groups {
		for _, t := range q.Groups[i].Terms {
			add(t)
		}
		for _, p := range q.Groups[i].Phrases {
			for _, t := range p {
				add(t)
			}
		}
	}
	return terms
}

// rawClause is one lexed unit of the query string.
type rawClause struct {
	text   string
	phrase bool // came from double quotes
	neg    bool // '-' prefix
}

// Parse turns a query string into its group structure. Parsing never
// fails: malformed input degrades to fewer clauses, an unusable query
// comes back Empty.
func Parse(q string) *Query {
	clauses := lex(q)
	out := &Query{}
	group := Group{}
	not := false // pending NOT from a previous clause

	flush := func() {
		if group.positive() {
			out.Groups = append(out.Groups, group)
		}
		group = Group{}
	}
	for _, c := range clauses {
		if !c.phrase {
			switch {
			case c.text == "OR" && !c.neg:
				not = false
				flush()
				continue
			case c.text == "NOT" && !c.neg:
				not = true
				continue
			}
			if field, value, ok := splitFilter(c.text); ok && !c.neg {
				not = false
				switch field {
				case "site":
					out.Filters.Site = strings.ToLower(value)
				case "type":
					out.Filters.Type = strings.ToLower(value)
				case "title":
					out.Filters.Title = append(out.Filters.Title, search.Terms(value)...)
				}
				continue
			}
		}
		neg := c.neg || not
		not = false
		terms := search.Terms(c.text)
		if len(terms) == 0 {
			continue
		}
		switch {
		case c.phrase && neg:
			group.NotPhrases = append(group.NotPhrases, Phrase(terms))
		case c.phrase:
			group.Phrases = append(group.Phrases, Phrase(terms))
		case neg:
			group.NotTerms = append(group.NotTerms, terms...)
		default:
			group.Terms = append(group.Terms, terms...)
		}
	}
	flush()
	return out
}

// lex splits the query into words and quoted phrases, recording negation
// prefixes. An unterminated quote runs to the end of the string.
func lex(q string) []rawClause {
	var out []rawClause
	i := 0
	for i < len(q) {
		switch {
		case q[i] == ' ' || q[i] == '\t' || q[i] == '\n' || q[i] == '\r':
			i++
		case q[i] == '-' || q[i] == '"':
			neg := false
			if q[i] == '-' {
				neg = true
				i++
			}
			if i < len(q) && q[i] == '"' {
				i++
				end := strings.IndexByte(q[i:], '"')
				if end < 0 {
					end = len(q) - i
				}
				out = append(out, rawClause{text: q[i : i+end], phrase: true, neg: neg})
				i += end + 1
			} else if neg {
				start := i
				for i < len(q) && !isWS(q[i]) {
					i++
				}
				if i > start {
					out = append(out, rawClause{text: q[start:i], neg: true})
				}
			}
		default:
			start := i
			for i < len(q) && !isWS(q[i]) {
				i++
			}
			out = append(out, rawClause{text: q[start:i]})
		}
	}
	return out
}

func isWS(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// splitFilter recognizes field:value clauses for the known fields.
func splitFilter(w string) (field, value string, ok bool) {
	i := strings.IndexByte(w, ':')
	if i <= 0 || i == len(w)-1 {
		return "", "", false
	}
	field = strings.ToLower(w[:i])
	switch field {
	case "site", "type", "title":
		return field, w[i+1:], true
	}
	return "", "", false
}
