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
	"reflect"
	"testing"
)

func TestParseGroups(t *testing.T) {
	q := Parse("turtle mining OR redstone")
	if len(q.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(q.Groups))
	}
	if want := []string{"turtle", "mining"}; !reflect.DeepEqual(q.Groups[0].Terms, want) {
		t.Errorf("group 0 = %v, want %v", q.Groups[0].Terms, want)
	}
	if want := []string{"redstone"}; !reflect.DeepEqual(q.Groups[1].Terms, want) {
		t.Errorf("group 1 = %v, want %v", q.Groups[1].Terms, want)
	}
}

func TestParseNegation(t *testing.T) {
	q := Parse("mining -turtle NOT creeper")
	g := q.Groups[0]
	if want := []string{"mining"}; !reflect.DeepEqual(g.Terms, want) {
		t.Errorf("terms = %v, want %v", g.Terms, want)
	}
	if want := []string{"turtle", "creeper"}; !reflect.DeepEqual(g.NotTerms, want) {
		t.Errorf("not terms = %v, want %v", g.NotTerms, want)
	}
}

func TestParsePhrase(t *testing.T) {
	q := Parse(`"advanced mining" rig -"old version"`)
	g := q.Groups[0]
	if len(g.Phrases) != 1 || !reflect.DeepEqual(g.Phrases[0], Phrase{"advanced", "mining"}) {
		t.Errorf("phrases = %v", g.Phrases)
	}
	if want := []string{"rig"}; !reflect.DeepEqual(g.Terms, want) {
		t.Errorf("terms = %v, want %v", g.Terms, want)
	}
	if len(g.NotPhrases) != 1 || !reflect.DeepEqual(g.NotPhrases[0], Phrase{"old", "version"}) {
		t.Errorf("not phrases = %v", g.NotPhrases)
	}
}

func TestParseFilters(t *testing.T) {
	q := Parse("mining site:Farm.Comp2 type:RWML title:guide")
	if q.Filters.Site != "farm.comp2" {
		t.Errorf("site = %q", q.Filters.Site)
	}
	if q.Filters.Type != "rwml" {
		t.Errorf("type = %q", q.Filters.Type)
	}
	if want := []string{"guide"}; !reflect.DeepEqual(q.Filters.Title, want) {
		t.Errorf("title = %v, want %v", q.Filters.Title, want)
	}
	if want := []string{"mining"}; !reflect.DeepEqual(q.Groups[0].Terms, want) {
		t.Errorf("terms = %v, want %v", q.Groups[0].Terms, want)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "a 1 42", "-excluded", "OR OR", `""`} {
		if q := Parse(in); !q.Empty() {
			t.Errorf("Parse(%q).Empty() = false: %+v", in, q)
		}
	}
	if q := Parse("turtle"); q.Empty() {
		t.Error("single-term query reported empty")
	}
}

func TestQueryTerms(t *testing.T) {
	q := Parse(`turtle "turtle mining" OR mining -creeper`)
	want := []string{"turtle", "mining"}
	if got := q.Terms(); !reflect.DeepEqual(got, want) {
		t.Errorf("terms = %v, want %v", got, want)
	}
}
