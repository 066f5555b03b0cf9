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

package search

import (
	"strings"
	"unicode"
)

// Token is one indexable term together with the byte offset of its first
// retained byte in the source text.
type Token struct {
	Term string
	Off  int
}

// Tokenize splits text into index terms. Terms are lowercased, split on any
// rune that is not a letter, digit or hyphen, and must survive three checks:
// at least two bytes long, not purely numeric, and containing at least one
// letter or digit. Edge hyphens are stripped, inner ones kept, so
// "mining-turtle" is one term but "--" is nothing.
func Tokenize(text string) []Token {
	var (
		tokens []Token
		start  = -1
	)
	flush := func(end int) {
		if start < 0 {
			return
		}
		if tok, ok := mkToken(text[start:end], start); ok {
			tokens = append(tokens, tok)
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

// Terms returns just the term strings of Tokenize(text), in order and with
// duplicates. It is the query-side twin of Tokenize.
func Terms(text string) []string {
	toks := Tokenize(text)
	terms := make([]string, len(toks))
	for i, tok := range toks {
		terms[i] = tok.Term
	}
	return terms
}

func mkToken(raw string, off int) (Token, bool) {
	for len(raw) > 0 && raw[0] == '-' {
		raw = raw[1:]
		off++
	}
	raw = strings.TrimRight(raw, "-")
	if len(raw) < 2 {
		return Token{}, false
	}
	numeric, alnum := true, false
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			alnum = true
		case unicode.IsLetter(r):
			numeric, alnum = false, true
		default: // inner hyphen
			numeric = false
		}
	}
	if numeric || !alnum {
		return Token{}, false
	}
	return Token{Term: strings.ToLower(raw), Off: off}, true
}
