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

package query

import (
	"math"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/search"
)

const (
	titleBoost  = 1.5
	urlBoost    = 1.2
	phraseBoost = 2.0

	defaultMaxResults = 20
)

// Result is one ranked hit.
type Result struct {
	DocID     search.DocID
	URL       string
	Title     string
	Kind      string
	Snippet   string
	Score     float64
	IndexedAt time.Time
}

// Config are the engine options.
type Config struct {
	// MaxResults caps Search output when the caller passes no limit.
	MaxResults int

	// Log is the destination for query events. Defaults to log.Root().
	Log log.Logger
}

// Engine evaluates parsed queries against an index.
type Engine struct {
	ix  *search.Index
	cfg Config
	log log.Logger
}

// NewEngine creates a query engine on top of ix.
func NewEngine(ix *search.Index, cfg Config) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Engine{ix: ix, cfg: cfg, log: cfg.Log.New("sys", "query")}
}

// Search parses and evaluates q, returning at most limit results (the
// configured maximum when limit <= 0). An empty or all-stopword query
// returns no results and no error.
func (e *Engine) Search(q string, limit int) []Result {
	start := time.Now()
	defer queryTimer.UpdateSince(start)

	parsed := Parse(q)
	if parsed.Empty() {
		emptyQueryMeter.Mark(1)
		return nil
	}
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}
	results := e.Evaluate(parsed)
	if len(results) > limit {
		results = results[:limit]
	}
	e.log.Debug("Query evaluated", "query", q, "hits", len(results), "elapsed", time.Since(start))
	return results
}

// Evaluate ranks the documents matching an already parsed query. The whole
// evaluation runs inside one index view, so a concurrent index update is
// either fully visible or not at all.
func (e *Engine) Evaluate(q *Query) []Result {
	queryMeter.Mark(1)
	var results []Result
	e.ix.View(func(v *search.View) {
		matches := e.match(v, q)
		if len(matches) == 0 {
			return
		}
		terms := q.Terms()
		n := v.DocCount()
		results = make([]Result, 0, len(matches))
		for id, m := range matches {
			doc, ok := v.Doc(id)
			if !ok {
				continue
			}
			score := e.score(v, doc, terms, n)
			if m.phrase {
				score *= phraseBoost
			}
			results = append(results, Result{
				DocID:     id,
				URL:       doc.URL,
				Title:     doc.Title,
				Kind:      doc.Kind,
				Snippet:   e.snippet(v, doc, terms),
				Score:     score,
				IndexedAt: doc.IndexedAt,
			})
		}
	})
	slices.SortFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.IndexedAt.After(b.IndexedAt):
			return -1
		case a.IndexedAt.Before(b.IndexedAt):
			return 1
		default:
			return int(b.DocID) - int(a.DocID)
		}
	})
	return results
}

type matchInfo struct {
	phrase bool // matched through a group with a verified phrase
}

// match collects the documents satisfying at least one group plus the
// query-wide filters.
func (e *Engine) match(v *search.View, q *Query) map[search.DocID]matchInfo {
	matches := make(map[search.DocID]matchInfo)
	// Tokenizations are shared across groups; phrase and negated-phrase
	// checks re-tokenize because stored positions are capped.
	tokCache := make(map[search.DocID][]search.Token)

	for gi := range q.Groups {
		g := &q.Groups[gi]
		if !g.positive() {
			continue
		}
		ids := e.groupCandidates(v, g)
		for _, id := range ids {
			doc, ok := v.Doc(id)
			if !ok || !e.groupAccepts(v, g, doc, tokCache) || !e.filterAccepts(v, &q.Filters, doc) {
				continue
			}
			m := matches[id]
			if len(g.Phrases) > 0 {
				m.phrase = true
			}
			matches[id] = m
		}
	}
	return matches
}

// groupCandidates intersects the posting lists of the group's positive
// terms, rarest term first.
func (e *Engine) groupCandidates(v *search.View, g *Group) []search.DocID {
	terms := append([]string{}, g.Terms...)
	for _, p := range g.Phrases {
		terms = append(terms, p...)
	}
	slices.SortFunc(terms, func(a, b string) int { return v.DocFreq(a) - v.DocFreq(b) })

	ids := v.Candidates(terms[0])
	for _, t := range terms[1:] {
		if len(ids) == 0 {
			return nil
		}
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := v.Posting(t, id); ok {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	return ids
}

// groupAccepts applies phrase adjacency and negations to one candidate.
func (e *Engine) groupAccepts(v *search.View, g *Group, doc *search.Document, tokCache map[search.DocID][]search.Token) bool {
	for _, t := range g.NotTerms {
		if _, ok := v.Posting(t, doc.ID); ok {
			return false
		}
	}
	if len(g.Phrases) == 0 && len(g.NotPhrases) == 0 {
		return true
	}
	toks, ok := tokCache[doc.ID]
	if !ok {
		toks = search.Tokenize(doc.Title + "\n" + doc.Body)
		tokCache[doc.ID] = toks
	}
	for _, p := range g.Phrases {
		if !containsPhrase(toks, p) {
			return false
		}
	}
	for _, p := range g.NotPhrases {
		if containsPhrase(toks, p) {
			return false
		}
	}
	return true
}

// containsPhrase reports whether the phrase terms occur as consecutive
// tokens.
func containsPhrase(toks []search.Token, p Phrase) bool {
	if len(p) == 0 {
		return false
	}
outer:
	for i := 0; i+len(p) <= len(toks); i++ {
		for j, t := range p {
			if toks[i+j].Term != t {
				continue outer
			}
		}
		return true
	}
	return false
}

// filterAccepts applies the query-wide site/type/title filters.
func (e *Engine) filterAccepts(v *search.View, f *Filters, doc *search.Document) bool {
	if f.empty() {
		return true
	}
	if f.Type != "" && !strings.EqualFold(doc.Kind, f.Type) {
		return false
	}
	if f.Site != "" && !siteMatches(doc.URL, f.Site) {
		return false
	}
	for _, t := range f.Title {
		p, ok := v.Posting(t, doc.ID)
		// The title is the combined-text prefix, so a term occurring in it
		// always has its first stored position inside the span.
		if !ok || len(p.Positions) == 0 || p.Positions[0] >= doc.TitleSpan() {
			return false
		}
	}
	return true
}

// siteMatches compares the document's host against the filter value, both
// in canonical name form when they parse.
func siteMatches(url, site string) bool {
	u, err := dns.ParseURL(url)
	if err != nil {
		return false
	}
	host := u.Name.String()
	if want, err := dns.ParseName(site); err == nil {
		return host == want.String()
	}
	return strings.EqualFold(host, site)
}

// score computes the tf-idf sum over the query terms present in doc.
func (e *Engine) score(v *search.View, doc *search.Document, terms []string, docCount int) float64 {
	lowerURL := strings.ToLower(doc.URL)
	var score float64
	for _, t := range terms {
		p, ok := v.Posting(t, doc.ID)
		if !ok {
			continue
		}
		idf := math.Log(float64(docCount) / float64(1+v.DocFreq(t)))
		if idf <= 0 {
			idf = 0.01 // floor for terms present in (almost) every document
		}
		w := float64(p.Count) * idf
		if len(p.Positions) > 0 && p.Positions[0] < doc.TitleSpan() {
			w *= titleBoost
		}
		if strings.Contains(lowerURL, t) {
			w *= urlBoost
		}
		score += w
	}
	return score
}

// snippet renders the ±40 character excerpt around the earliest body hit.
// Documents whose hits are all in the title fall back to the body start.
func (e *Engine) snippet(v *search.View, doc *search.Document, terms []string) string {
	best := -1
	for _, t := range terms {
		p, ok := v.Posting(t, doc.ID)
		if !ok {
			continue
		}
		for _, pos := range p.Positions {
			off, inBody := doc.BodyOffset(pos)
			if !inBody {
				continue
			}
			if best < 0 || off < best {
				best = off
			}
		}
	}
	if best < 0 {
		best = 0
	}
	return search.Snippet(doc.Body, best, search.SnippetRadius)
}
