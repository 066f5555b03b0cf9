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
	"strings"
	"testing"
	"time"

	"github.com/rednet-explorer/go-rednet/internal/testlog"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/search"
)

type engineTest struct {
	ix     *search.Index
	engine *Engine
	now    time.Time
}

func newEngineTest(t *testing.T) *engineTest {
	t.Helper()
	et := &engineTest{now: time.Unix(1700000000, 0)}
	et.ix = search.New(search.Config{
		Log: testlog.Logger(t, log.LvlTrace),
		Now: func() time.Time {
			et.now = et.now.Add(time.Minute)
			return et.now
		},
	})
	et.engine = NewEngine(et.ix, Config{Log: testlog.Logger(t, log.LvlTrace)})
	return et
}

func (et *engineTest) urls(results []Result) []string {
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	return urls
}

func (et *engineTest) expect(t *testing.T, query string, want ...string) {
	t.Helper()
	got := et.urls(et.engine.Search(query, 0))
	if len(got) != len(want) {
		t.Fatalf("Search(%q) = %v, want %v", query, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Search(%q) = %v, want %v", query, got, want)
		}
	}
}

// The operator scenario: AND groups, negation and phrases against two
// documents sharing one term.
func TestSearchOperators(t *testing.T) {
	et := newEngineTest(t)
	a := "rdnt://docs.comp2.rednet/a.rwml"
	b := "rdnt://docs.comp2.rednet/b.rwml"
	et.ix.AddDocument(a, "", "turtle mining guide", "rwml")
	et.ix.AddDocument(b, "", "advanced mining", "rwml")

	et.expect(t, "turtle mining", a)
	et.expect(t, "mining -turtle", b)
	et.expect(t, `"advanced mining"`, b)
	et.expect(t, "mining NOT turtle", b)
	// Equal scores, so the more recently indexed document ranks first.
	et.expect(t, "turtle OR advanced", b, a)
	et.expect(t, `"mining guide"`, a)
	et.expect(t, `"guide mining"`) // wrong order, no phrase hit
	et.expect(t, "creeper")
}

func TestSearchEmptyQuery(t *testing.T) {
	et := newEngineTest(t)
	et.ix.AddDocument("rdnt://x.comp1.rednet/", "Anything", "at all", "rwml")

	for _, q := range []string{"", "  ", "a 1", "site:x.comp1"} {
		if res := et.engine.Search(q, 0); len(res) != 0 {
			t.Errorf("Search(%q) = %d results, want 0", q, len(res))
		}
	}
}

func TestSearchTitleBoost(t *testing.T) {
	et := newEngineTest(t)
	inTitle := "rdnt://a.comp1.rednet/"
	inBody := "rdnt://b.comp2.rednet/"
	// Same single occurrence of the term, once in a title, once in a body.
	et.ix.AddDocument(inBody, "other things", "all about mining here", "rwml")
	et.ix.AddDocument(inTitle, "mining handbook", "other things entirely", "rwml")

	res := et.engine.Search("mining", 0)
	if len(res) != 2 {
		t.Fatalf("results = %v", et.urls(res))
	}
	if res[0].URL != inTitle {
		t.Errorf("title hit not ranked first: %v", et.urls(res))
	}
	if res[0].Score <= res[1].Score {
		t.Errorf("title score %v not above body score %v", res[0].Score, res[1].Score)
	}
}

func TestSearchURLBoost(t *testing.T) {
	et := newEngineTest(t)
	plain := "rdnt://a.comp1.rednet/page.rwml"
	boosted := "rdnt://mining.comp2.rednet/page.rwml"
	et.ix.AddDocument(plain, "", "mining report daily", "rwml")
	et.ix.AddDocument(boosted, "", "mining report weekly", "rwml")

	res := et.engine.Search("mining", 0)
	if len(res) != 2 || res[0].URL != boosted {
		t.Errorf("url-boosted doc not first: %v", et.urls(res))
	}
}

func TestSearchPhraseBoost(t *testing.T) {
	et := newEngineTest(t)
	et.ix.AddDocument("rdnt://a.comp1.rednet/", "", "advanced mining rig", "rwml")

	loose := et.engine.Search("advanced mining", 0)
	exact := et.engine.Search(`"advanced mining"`, 0)
	if len(loose) != 1 || len(exact) != 1 {
		t.Fatalf("loose = %d, exact = %d results", len(loose), len(exact))
	}
	if want := loose[0].Score * 2; exact[0].Score != want {
		t.Errorf("phrase score = %v, want %v", exact[0].Score, want)
	}
}

func TestSearchRecencyTiebreak(t *testing.T) {
	et := newEngineTest(t)
	older := "rdnt://a.comp1.rednet/one"
	newer := "rdnt://a.comp1.rednet/two"
	// Identical content, so identical scores; the later add must win.
	et.ix.AddDocument(older, "same title", "same body text", "rwml")
	et.ix.AddDocument(newer, "same title", "same body text", "rwml")

	res := et.engine.Search("same", 0)
	if len(res) != 2 || res[0].URL != newer {
		t.Errorf("recent doc not first: %v", et.urls(res))
	}
}

func TestSearchFilters(t *testing.T) {
	et := newEngineTest(t)
	farm := "rdnt://farm.comp2.rednet/guide.rwml"
	mine := "rdnt://mine.comp3.rednet/guide.lua"
	et.ix.AddDocument(farm, "farming guide", "tips for crops", "rwml")
	et.ix.AddDocument(mine, "digging guide", "tips for shafts", "lua")

	et.expect(t, "tips site:farm.comp2", farm)
	et.expect(t, "tips site:mine.comp3.rednet", mine)
	et.expect(t, "tips type:lua", mine)
	et.expect(t, "tips title:digging", mine)
	et.expect(t, "tips title:crops") // crops is body-only
	et.expect(t, "tips site:ghost.comp9")
}

func TestSearchLimit(t *testing.T) {
	et := newEngineTest(t)
	for i := 0; i < 30; i++ {
		et.ix.AddDocument(
			"rdnt://bulk.comp1.rednet/p"+strings.Repeat("x", i+1),
			"bulk", "common filler body", "rwml")
	}
	if res := et.engine.Search("filler", 5); len(res) != 5 {
		t.Errorf("limited results = %d, want 5", len(res))
	}
	// Default cap applies when no limit is passed.
	if res := et.engine.Search("filler", 0); len(res) != defaultMaxResults {
		t.Errorf("default results = %d, want %d", len(res), defaultMaxResults)
	}
}

func TestSearchSnippet(t *testing.T) {
	et := newEngineTest(t)
	body := strings.Repeat("padding words here ", 10) + "the hidden treasure room " + strings.Repeat("more trailing text ", 10)
	et.ix.AddDocument("rdnt://a.comp1.rednet/", "Dungeon Map", body, "rwml")

	res := et.engine.Search("treasure", 0)
	if len(res) != 1 {
		t.Fatalf("results = %v", et.urls(res))
	}
	snip := res[0].Snippet
	if !strings.Contains(snip, "treasure") {
		t.Errorf("snippet %q misses the term", snip)
	}
	if !strings.HasPrefix(snip, "...") || !strings.HasSuffix(snip, "...") {
		t.Errorf("snippet %q not ellipsized on both sides", snip)
	}
	if len(snip) > 2*search.SnippetRadius+len("treasure")+8 {
		t.Errorf("snippet too wide: %q", snip)
	}

	// Title-only hits fall back to the body start.
	res = et.engine.Search("dungeon", 0)
	if len(res) != 1 || !strings.HasPrefix(res[0].Snippet, "padding") {
		t.Errorf("title-hit snippet = %q", res[0].Snippet)
	}
}
