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

// Package search implements the in-memory inverted index behind the RedNet
// search sites: tokenization, postings with capped byte positions, snippet
// extraction and gzipped JSON snapshots. Query parsing and ranking live in
// the search/query subpackage.
package search

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bloomfilter "github.com/holiman/bloomfilter/v2"
	"golang.org/x/exp/slices"

	"github.com/rednet-explorer/go-rednet/log"
)

// DocID identifies a document for the lifetime of the index. IDs are never
// reused; replacing a URL assigns a fresh one.
type DocID uint64

// Document is an indexed page. Fields are immutable once the document is in
// the index: a re-add of the same URL swaps in a whole new document.
type Document struct {
	ID        DocID     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	IndexedAt time.Time `json:"indexedAt"`

	// Terms is the total token count of title and body combined. Freqs maps
	// each distinct term to its occurrence count.
	Terms int            `json:"-"`
	Freqs map[string]int `json:"-"`
}

// TitleSpan returns the byte length of the title prefix in the combined
// text. A posting position below this boundary sits inside the title.
func (d *Document) TitleSpan() int { return len(d.Title) }

// BodyOffset translates a combined-text position into a byte offset in
// Body. The second return is false for positions inside the title.
func (d *Document) BodyOffset(pos int) (int, bool) {
	off := pos - len(d.Title) - 1
	if off < 0 {
		return 0, false
	}
	return off, true
}

// Posting records the occurrences of one term in one document. Positions
// are byte offsets into the combined text (title, newline, body) and only
// the first few are kept; Count always reflects all occurrences.
type Posting struct {
	Count     int
	Positions []int
}

// Stats is the index size summary.
type Stats struct {
	Documents int
	Terms     int
	Postings  int
}

const (
	// defaultPositionsPerTerm caps stored byte positions per (term, doc).
	defaultPositionsPerTerm = 10

	// bloomBits and bloomHashes size the term filter. At this size the
	// filter stays useful up to roughly a hundred thousand distinct terms.
	bloomBits   = 512 * 1024
	bloomHashes = 4

	// bloomStaleMax bounds how many removed documents the filter may still
	// reflect before it is rebuilt. Stale entries only cost a wasted lock.
	bloomStaleMax = 1024
)

// Config are the index options.
type Config struct {
	// PositionsPerTerm caps the byte positions retained per (term, document).
	PositionsPerTerm int

	// Now supplies document timestamps. Defaults to time.Now.
	Now func() time.Time

	// Log is the destination for index events. Defaults to log.Root().
	Log log.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.PositionsPerTerm <= 0 {
		cfg.PositionsPerTerm = defaultPositionsPerTerm
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

// Index is the in-memory inverted index. All exported methods are safe for
// concurrent use; mutations are atomic with respect to queries.
type Index struct {
	cfg Config
	log log.Logger

	mu       sync.RWMutex
	docs     map[DocID]*Document
	byURL    map[string]DocID
	terms    map[string]map[DocID]*Posting
	seq      uint64
	postings int
	gen      uint64

	// bloom rejects never-indexed terms without taking mu. Removals leave
	// stale bits behind; bloomStale counts them until the next rebuild.
	bloom      atomic.Pointer[bloomfilter.Filter]
	bloomStale int
}

// New creates an empty index.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()
	ix := &Index{
		cfg:   cfg,
		log:   cfg.Log.New("sys", "search"),
		docs:  make(map[DocID]*Document),
		byURL: make(map[string]DocID),
		terms: make(map[string]map[DocID]*Posting),
	}
	filter, _ := bloomfilter.New(bloomBits, bloomHashes)
	ix.bloom.Store(filter)
	return ix
}

// termHasher feeds a precomputed FNV-1a sum into the bloom filter, which
// only ever calls Sum64.
type termHasher uint64

func (h termHasher) Write(p []byte) (n int, err error) { panic("not implemented") }
func (h termHasher) Sum(b []byte) []byte               { panic("not implemented") }
func (h termHasher) Reset()                            { panic("not implemented") }
func (h termHasher) BlockSize() int                    { return 8 }
func (h termHasher) Size() int                         { return 8 }
func (h termHasher) Sum64() uint64                     { return uint64(h) }

func hashTerm(term string) termHasher {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(term); i++ {
		h ^= uint64(term[i])
		h *= prime64
	}
	return termHasher(h)
}

// AddDocument tokenizes title and body and adds the document under its
// canonical URL. A URL already present is replaced atomically: queries see
// either the old document or the new one, never both and never neither.
func (ix *Index) AddDocument(url, title, body, kind string) DocID {
	combined := title + "\n" + body
	toks := Tokenize(combined)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byURL[url]; ok {
		ix.removeLocked(old)
		replaceMeter.Mark(1)
	}
	ix.seq++
	doc := &Document{
		ID:        DocID(ix.seq),
		URL:       url,
		Title:     title,
		Body:      body,
		Kind:      kind,
		IndexedAt: ix.cfg.Now(),
		Terms:     len(toks),
		Freqs:     make(map[string]int),
	}
	ix.docs[doc.ID] = doc
	ix.byURL[url] = doc.ID
	ix.insertPostingsLocked(doc, toks, ix.bloom.Load())
	ix.gen++
	ix.updateGauges()
	addMeter.Mark(1)
	ix.log.Trace("Indexed document", "url", url, "id", doc.ID, "terms", doc.Terms)
	return doc.ID
}

// RemoveDocument removes a document and every posting referencing it.
// Returns false when the id is not in the index.
func (ix *Index) RemoveDocument(id DocID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.docs[id]; !ok {
		return false
	}
	ix.removeLocked(id)
	ix.gen++
	ix.updateGauges()
	removeMeter.Mark(1)
	return true
}

// RemoveURL removes the document indexed under url, if any.
func (ix *Index) RemoveURL(url string) bool {
	ix.mu.RLock()
	id, ok := ix.byURL[url]
	ix.mu.RUnlock()
	if !ok {
		return false
	}
	return ix.RemoveDocument(id)
}

// insertPostingsLocked records the tokens of doc in the posting lists.
// New terms are added to bloom when it is non-nil. Callers hold mu.
func (ix *Index) insertPostingsLocked(doc *Document, toks []Token, bloom *bloomfilter.Filter) {
	for _, tok := range toks {
		doc.Freqs[tok.Term]++
		m := ix.terms[tok.Term]
		if m == nil {
			m = make(map[DocID]*Posting)
			ix.terms[tok.Term] = m
			if bloom != nil {
				bloom.Add(hashTerm(tok.Term))
			}
		}
		p := m[doc.ID]
		if p == nil {
			p = new(Posting)
			m[doc.ID] = p
			ix.postings++
		}
		p.Count++
		if len(p.Positions) < ix.cfg.PositionsPerTerm {
			p.Positions = append(p.Positions, tok.Off)
		}
	}
}

// removeLocked unlinks a document from every structure. Callers hold mu.
func (ix *Index) removeLocked(id DocID) {
	doc := ix.docs[id]
	for term := range doc.Freqs {
		m := ix.terms[term]
		if _, ok := m[id]; ok {
			delete(m, id)
			ix.postings--
		}
		if len(m) == 0 {
			delete(ix.terms, term)
			ix.bloomStale++
		}
	}
	delete(ix.docs, id)
	delete(ix.byURL, doc.URL)
	if ix.bloomStale > bloomStaleMax {
		ix.rebuildBloomLocked()
	}
}

// rebuildBloomLocked builds a fresh filter from the live term set and swaps
// it in. Callers hold mu.
func (ix *Index) rebuildBloomLocked() {
	filter, _ := bloomfilter.New(bloomBits, bloomHashes)
	for term := range ix.terms {
		filter.Add(hashTerm(term))
	}
	ix.bloom.Store(filter)
	ix.bloomStale = 0
	bloomRebuildMeter.Mark(1)
}

// Find returns the ids of all documents containing at least one of the
// terms, ascending. The bloom filter screens out never-indexed terms before
// the read lock is taken.
func (ix *Index) Find(terms []string) []DocID {
	bloom := ix.bloom.Load()
	live := make([]string, 0, len(terms))
	for _, t := range terms {
		if bloom.Contains(hashTerm(t)) {
			live = append(live, t)
		}
	}
	findMeter.Mark(1)
	if len(live) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	seen := make(map[DocID]struct{})
	for _, t := range live {
		for id := range ix.terms[t] {
			seen[id] = struct{}{}
		}
	}
	ids := make([]DocID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IndexedAt reports when the document under url was last indexed.
func (ix *Index) IndexedAt(url string) (time.Time, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byURL[url]
	if !ok {
		return time.Time{}, false
	}
	return ix.docs[id].IndexedAt, true
}

// Stats returns the current size summary.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{Documents: len(ix.docs), Terms: len(ix.terms), Postings: ix.postings}
}

// Generation increments on every mutation. The snapshot loop uses it to
// skip writes when nothing changed.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.gen
}

// View runs fn under the read lock. Everything the query engine reads for
// one query happens inside a single View call, which is what makes index
// updates atomic from the engine's point of view. Documents handed out are
// immutable, holding them past fn is fine.
func (ix *Index) View(fn func(v *View)) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	fn(&View{ix: ix})
}

// View is a read transaction over the index.
type View struct {
	ix *Index
}

// DocCount returns the number of indexed documents.
func (v *View) DocCount() int { return len(v.ix.docs) }

// DocFreq returns how many documents contain term.
func (v *View) DocFreq(term string) int { return len(v.ix.terms[term]) }

// Candidates returns the ids of documents containing term, unordered.
func (v *View) Candidates(term string) []DocID {
	m := v.ix.terms[term]
	if len(m) == 0 {
		return nil
	}
	ids := make([]DocID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// Posting returns the posting of term in document id.
func (v *View) Posting(term string, id DocID) (Posting, bool) {
	p := v.ix.terms[term][id]
	if p == nil {
		return Posting{}, false
	}
	return *p, true
}

// Doc returns the document with the given id.
func (v *View) Doc(id DocID) (*Document, bool) {
	d, ok := v.ix.docs[id]
	return d, ok
}

// CheckConsistency verifies that postings and the document map agree: every
// posting references a live document, per-document counts match the posting
// counts, and the posting total matches the running counter.
func (ix *Index) CheckConsistency() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	total := 0
	for term, m := range ix.terms {
		if len(m) == 0 {
			return fmt.Errorf("term %q has an empty posting map", term)
		}
		for id, p := range m {
			doc, ok := ix.docs[id]
			if !ok {
				return fmt.Errorf("term %q references missing doc %d", term, id)
			}
			if doc.Freqs[term] != p.Count {
				return fmt.Errorf("term %q doc %d: posting count %d, document count %d", term, id, p.Count, doc.Freqs[term])
			}
			total++
		}
	}
	if total != ix.postings {
		return fmt.Errorf("posting counter %d, actual %d", ix.postings, total)
	}
	for id, doc := range ix.docs {
		for term, n := range doc.Freqs {
			p := ix.terms[term][id]
			if p == nil || p.Count != n {
				return fmt.Errorf("doc %d term %q not mirrored in postings", id, term)
			}
		}
		if ix.byURL[doc.URL] != id {
			return fmt.Errorf("doc %d not reachable through url %q", id, doc.URL)
		}
	}
	return nil
}

func (ix *Index) updateGauges() {
	documentGauge.Update(int64(len(ix.docs)))
	termGauge.Update(int64(len(ix.terms)))
	postingGauge.Update(int64(ix.postings))
}
