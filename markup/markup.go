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

// Package markup extracts plain text and link structure from RWML documents.
// It is not a renderer: the crawler and the built-in sites only need the
// text content for indexing and the anchors for link walking. A full
// renderer can be plugged in through the Parser interface.
package markup

import (
	"strconv"
	"strings"
)

// Link is an anchor extracted from a document. Href is kept exactly as
// written; resolving it against the document URL is the caller's concern.
type Link struct {
	Href string
	Text string
}

// Document is the extraction result: the title, the flattened text content
// and the anchors, in document order.
type Document struct {
	title string
	text  string
	links []Link
}

// Title returns the document title, or the empty string when the source
// declares none.
func (d *Document) Title() string { return d.title }

// Text returns the text content with all markup stripped. The title is not
// part of the text, callers index it separately.
func (d *Document) Text() string { return d.text }

// Links returns the anchors in document order.
func (d *Document) Links() []Link { return d.links }

// Parser turns page source into an extracted document. The zero-value RWML
// parser is used when no external one is injected.
type Parser interface {
	Parse(src string) (*Document, error)
}

// RWML is the built-in extractor for the RedNet website markup language.
// It understands two anchor forms, angle-bracket tags with an href
// attribute and the bracket directive [link dest text...], strips every
// other tag and decodes the usual entities. Extraction is lenient: broken
// markup degrades to text, it never fails.
type RWML struct{}

// Parse implements Parser.
func (RWML) Parse(src string) (*Document, error) {
	p := extractor{src: src}
	p.run()
	doc := &Document{
		title: strings.TrimSpace(p.title.String()),
		text:  collapse(p.text.String()),
		links: p.links,
	}
	if doc.title == "" {
		doc.title = strings.TrimSpace(p.heading.String())
	}
	return doc, nil
}

// blockTags force a line break in the flattened text so that tokens from
// adjacent blocks do not fuse.
var blockTags = map[string]bool{
	"br": true, "p": true, "h1": true, "h2": true, "h3": true,
	"hr": true, "li": true, "div": true, "tr": true, "center": true,
}

type extractor struct {
	src   string
	pos   int
	text  strings.Builder
	title strings.Builder
	// first h1 body, used as the title fallback
	heading strings.Builder

	links  []Link
	anchor *Link // open <a>, anchor text accumulates here

	inTitle   bool
	inHeading bool
	sawH1     bool
}

func (p *extractor) run() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '<':
			if !p.tag() {
				p.emit("<")
				p.pos++
			}
		case '[':
			if !p.directive() {
				p.emit("[")
				p.pos++
			}
		case '&':
			s, n := decodeEntity(p.src[p.pos:])
			p.emit(s)
			p.pos += n
		default:
			p.emit(string(c))
			p.pos++
		}
	}
	if p.anchor != nil {
		p.closeAnchor()
	}
}

// emit routes a text fragment to the active sinks.
func (p *extractor) emit(s string) {
	switch {
	case p.inTitle:
		p.title.WriteString(s)
		return
	case p.inHeading:
		p.heading.WriteString(s)
	}
	p.text.WriteString(s)
	if p.anchor != nil {
		p.anchor.Text += s
	}
}

// tag consumes one angle-bracket tag at p.pos. Returns false when the byte
// sequence is not a well-formed tag, in which case the '<' is literal text.
func (p *extractor) tag() bool {
	end := tagEnd(p.src, p.pos)
	if end < 0 {
		return false
	}
	inner := p.src[p.pos+1 : end]
	p.pos = end + 1

	closing := strings.HasPrefix(inner, "/")
	inner = strings.TrimPrefix(inner, "/")
	inner = strings.TrimSuffix(inner, "/")
	name, attrs := parseTag(inner)
	if name == "" {
		return true // stray <>, swallow
	}
	switch name {
	case "title":
		p.inTitle = !closing
	case "h1":
		if closing {
			p.inHeading = false
		} else if !p.sawH1 {
			p.inHeading = true
			p.sawH1 = true
		}
	case "a":
		if closing {
			if p.anchor != nil {
				p.closeAnchor()
			}
		} else {
			if p.anchor != nil {
				p.closeAnchor()
			}
			p.anchor = &Link{Href: attrs["href"]}
		}
	}
	if blockTags[name] {
		p.text.WriteByte('\n')
	}
	return true
}

func (p *extractor) closeAnchor() {
	l := *p.anchor
	p.anchor = nil
	l.Text = strings.TrimSpace(l.Text)
	if l.Href != "" {
		p.links = append(p.links, l)
	}
}

// directive consumes a [link dest text...] bracket directive. Anything else
// in brackets is left alone.
func (p *extractor) directive() bool {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return false
	}
	body := p.src[p.pos+1 : p.pos+end]
	fields := strings.Fields(body)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "link") {
		return false
	}
	text := strings.Join(fields[2:], " ")
	if text == "" {
		text = fields[1]
	}
	p.links = append(p.links, Link{Href: fields[1], Text: text})
	p.emit(text)
	p.pos += end + 1
	return true
}

// tagEnd finds the '>' closing the tag that starts at open, skipping over
// quoted attribute values. Returns -1 when the tag never closes.
func tagEnd(s string, open int) int {
	var quote byte
	for i := open + 1; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '>':
			return i
		case '<':
			return -1 // tag reopened before closing, treat as text
		}
	}
	return -1
}

// parseTag splits "a href='x' rel=2" into the lowercase name and its
// attributes. Values may be quoted or bare.
func parseTag(s string) (string, map[string]string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	i := 0
	for i < len(s) && !isSpace(s[i]) {
		i++
	}
	name := strings.ToLower(s[:i])
	var attrs map[string]string
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		key := strings.ToLower(s[start:i])
		if key == "" {
			break
		}
		var val string
		if i < len(s) && s[i] == '=' {
			i++
			if i < len(s) && (s[i] == '"' || s[i] == '\'') {
				q := s[i]
				i++
				vstart := i
				for i < len(s) && s[i] != q {
					i++
				}
				val = s[vstart:i]
				if i < len(s) {
					i++
				}
			} else {
				vstart := i
				for i < len(s) && !isSpace(s[i]) {
					i++
				}
				val = s[vstart:i]
			}
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[key] = val
	}
	return name, attrs
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// decodeEntity decodes the entity at the start of s (which begins with '&')
// and returns the replacement together with the number of source bytes
// consumed. Unknown entities pass through literally.
func decodeEntity(s string) (string, int) {
	end := strings.IndexByte(s, ';')
	if end < 0 || end > 8 {
		return "&", 1
	}
	body := s[1:end]
	switch body {
	case "lt":
		return "<", end + 1
	case "gt":
		return ">", end + 1
	case "amp":
		return "&", end + 1
	case "quot":
		return `"`, end + 1
	case "apos":
		return "'", end + 1
	}
	if strings.HasPrefix(body, "#") {
		num := body[1:]
		base := 10
		if strings.HasPrefix(num, "x") || strings.HasPrefix(num, "X") {
			num, base = num[1:], 16
		}
		if n, err := strconv.ParseInt(num, base, 32); err == nil && n > 0 && n < 0x110000 {
			return string(rune(n)), end + 1
		}
	}
	return "&", 1
}

// collapse normalizes whitespace: runs of spaces and tabs become one space,
// blank lines vanish, edges are trimmed.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space, newline := false, true
	for _, r := range s {
		switch {
		case r == '\n':
			if !newline {
				b.WriteByte('\n')
				newline, space = true, false
			}
		case r == ' ' || r == '\t' || r == '\r':
			space = true
		default:
			if space && !newline {
				b.WriteByte(' ')
			}
			space, newline = false, false
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
