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
	"errors"
	"strings"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in   string
		want Name
	}{
		{"shop.comp1234.rednet", Name{Kind: KindComputer, Sub: "shop", Node: 1234}},
		{"shop.comp1234", Name{Kind: KindComputer, Sub: "shop", Node: 1234}},
		{"comp7.rednet", Name{Kind: KindComputer, Node: 7}},
		{"comp7", Name{Kind: KindComputer, Node: 7}},
		{"SHOP.COMP1234.REDNET", Name{Kind: KindComputer, Sub: "shop", Node: 1234}},
		{"news", Name{Kind: KindAlias, Alias: "news"}},
		{"news.rednet", Name{Kind: KindAlias, Alias: "news"}},
		{"my-site", Name{Kind: KindAlias, Alias: "my-site"}},
		{"x", Name{Kind: KindAlias, Alias: "x"}},
		{strings.Repeat("a", 63), Name{Kind: KindAlias, Alias: strings.Repeat("a", 63)}},
		{"home", Name{Kind: KindReserved, Alias: "home"}},
		{"ADMIN", Name{Kind: KindReserved, Alias: "admin"}},
		{"search.rednet", Name{Kind: KindReserved, Alias: "search"}},
		// "compose" starts with "comp" but has no numeric suffix, so it is
		// an ordinary alias.
		{"compose", Name{Kind: KindAlias, Alias: "compose"}},
	}
	for _, tt := range tests {
		got, err := ParseName(tt.in)
		if err != nil {
			t.Errorf("ParseName(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseName(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseNameInvalid(t *testing.T) {
	tests := []string{
		"",
		".",
		"rednet",                      // bare TLD
		strings.Repeat("a", 64),       // label too long
		"-shop",                       // leading hyphen
		"shop-",                       // trailing hyphen
		"-shop.comp1.rednet",          // leading hyphen in subdomain
		"shop_1",                      // underscore
		"shop!",                       // punctuation
		"sh op",                       // space
		"a.b.comp1.rednet",            // too many labels
		"shop.news.rednet",            // second label is not comp<id>
		"shop.comp.rednet",            // comp without id
		"shop.compx.rednet",           // comp with junk id
		"shop.comp99999999999.rednet", // id overflows 32 bits
	}
	for _, in := range tests {
		if _, err := ParseName(in); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ParseName(%q): error %v, want ErrInvalidName", in, err)
		}
	}
}

func TestNameString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SHOP.COMP1234.REDNET", "shop.comp1234.rednet"},
		{"shop.comp1234", "shop.comp1234.rednet"},
		{"comp7", "comp7.rednet"},
		{"News.rednet", "news"},
		{"home", "home"},
	}
	for _, tt := range tests {
		name, err := ParseName(tt.in)
		if err != nil {
			t.Fatalf("ParseName(%q): %v", tt.in, err)
		}
		if got := name.String(); got != tt.want {
			t.Errorf("ParseName(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReserved(t *testing.T) {
	for _, label := range []string{"admin", "root", "system", "home", "search", "ADMIN"} {
		if !Reserved(label) {
			t.Errorf("Reserved(%q) = false, want true", label)
		}
	}
	for _, label := range []string{"news", "shop", "administrator"} {
		if Reserved(label) {
			t.Errorf("Reserved(%q) = true, want false", label)
		}
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		in        string
		wantName  string
		wantPath  string
		wantQuery string
	}{
		{"rdnt://shop.comp1234.rednet/index.rwml", "shop.comp1234.rednet", "/index.rwml", ""},
		{"rdnt://shop.comp1234.rednet", "shop.comp1234.rednet", "/", ""},
		{"shop.comp1234.rednet/a/b.lua?q=turtle+mining&page=2", "shop.comp1234.rednet", "/a/b.lua", "q=turtle+mining&page=2"},
		{"rdnt://NEWS/About%20Us.rwml", "news", "/About Us.rwml", ""},
		{"rdnt://news//a///b.rwml", "news", "/a/b.rwml", ""},
		{"rdnt://news/a/../../../etc", "news", "/etc", ""},
		{"rdnt://news/page.rwml#section", "news", "/page.rwml", ""},
	}
	for _, tt := range tests {
		u, err := ParseURL(tt.in)
		if err != nil {
			t.Errorf("ParseURL(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got := u.Name.String(); got != tt.wantName {
			t.Errorf("ParseURL(%q).Name = %q, want %q", tt.in, got, tt.wantName)
		}
		if u.Path != tt.wantPath {
			t.Errorf("ParseURL(%q).Path = %q, want %q", tt.in, u.Path, tt.wantPath)
		}
		if u.RawQuery != tt.wantQuery {
			t.Errorf("ParseURL(%q).RawQuery = %q, want %q", tt.in, u.RawQuery, tt.wantQuery)
		}
	}
}

func TestParseURLInvalid(t *testing.T) {
	for _, in := range []string{"", "http://news/page", "rdnt://bad_host/"} {
		if _, err := ParseURL(in); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ParseURL(%q): error %v, want ErrInvalidName", in, err)
		}
	}
}

func TestURLResolve(t *testing.T) {
	base, err := ParseURL("rdnt://shop.comp1.rednet/docs/guide.rwml")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		ref  string
		want string
	}{
		{"intro.rwml", "rdnt://shop.comp1.rednet/docs/intro.rwml"},
		{"../index.rwml", "rdnt://shop.comp1.rednet/index.rwml"},
		{"/about.rwml", "rdnt://shop.comp1.rednet/about.rwml"},
		{"rdnt://news/front.rwml", "rdnt://news/front.rwml"},
		{"search.lua?q=fuel", "rdnt://shop.comp1.rednet/docs/search.lua?q=fuel"},
		{"page.rwml#frag", "rdnt://shop.comp1.rednet/docs/page.rwml"},
	}
	for _, tt := range tests {
		got, err := base.Resolve(tt.ref)
		if err != nil {
			t.Errorf("Resolve(%q): unexpected error %v", tt.ref, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got.String(), tt.want)
		}
	}
}

func TestURLParams(t *testing.T) {
	u, err := ParseURL("rdnt://news/search.lua?q=turtle+mining&page=2&page=3")
	if err != nil {
		t.Fatal(err)
	}
	params := u.Params()
	if params["q"] != "turtle mining" {
		t.Errorf("q = %q, want %q", params["q"], "turtle mining")
	}
	if params["page"] != "2" {
		t.Errorf("page = %q, want %q (first value wins)", params["page"], "2")
	}
}
