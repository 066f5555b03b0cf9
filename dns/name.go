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

// Package dns implements the distributed name system of RedNet: parsing and
// validation of names, the authoritative registry of locally hosted names,
// a TTL cache of learned records and the network-querying resolver. There is
// no root server; names are claimed by their owners and resolved by asking
// whoever is currently on the bus.
package dns

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rednet-explorer/go-rednet/rednet/wire"
)

// TLD is the pseudo top-level domain every RedNet name lives under. It is
// optional on input and always present in the canonical form of computer
// names.
const TLD = "rednet"

// compPrefix marks the label that embeds the authoritative node id.
const compPrefix = "comp"

// maxLabelLen is the longest acceptable label, mirroring real-world DNS.
const maxLabelLen = 63

var ErrInvalidName = errors.New("invalid name")

// Kind classifies a parsed name.
type Kind int

const (
	// KindComputer names embed the serving node's id: sub.comp<id>.rednet.
	// They cannot conflict because node ids are unique.
	KindComputer Kind = iota

	// KindAlias names are single human-memorable labels claimed first-come.
	KindAlias

	// KindReserved names are administrative labels every node serves
	// locally. They can be looked up but never registered.
	KindReserved
)

func (k Kind) String() string {
	switch k {
	case KindComputer:
		return "computer"
	case KindAlias:
		return "alias"
	case KindReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for stored records.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "computer":
		*k = KindComputer
	case "alias":
		*k = KindAlias
	case "reserved":
		*k = KindReserved
	default:
		return fmt.Errorf("unknown name kind %q", text)
	}
	return nil
}

// reservedLabels can be resolved but never registered. home and search route
// to the built-in sites; the rest are fenced off so no peer can impersonate
// an administrative surface.
var reservedLabels = mapset.NewThreadUnsafeSet(
	"admin", "root", "system", "rednet", "www", "dns",
	"search", "home", "settings", "update", "comp", "api",
)

// Reserved reports whether label is refused for registration.
func Reserved(label string) bool {
	return reservedLabels.Contains(strings.ToLower(label))
}

// Name is a parsed RedNet name.
type Name struct {
	Kind  Kind
	Sub   string      // computer form subdomain, may be empty
	Node  wire.NodeID // computer form only: the embedded node id
	Alias string      // alias and reserved forms: the single label
}

// String renders the canonical form: lowercase, computer names carrying the
// TLD, aliases bare.
func (n Name) String() string {
	switch n.Kind {
	case KindComputer:
		if n.Sub == "" {
			return fmt.Sprintf("%s%d.%s", compPrefix, n.Node, TLD)
		}
		return fmt.Sprintf("%s.%s%d.%s", n.Sub, compPrefix, n.Node, TLD)
	default:
		return n.Alias
	}
}

// ParseName parses and validates a RedNet name. Accepted shapes, with an
// optional trailing ".rednet" on each:
//
//	comp<id>            root site of node <id>
//	<sub>.comp<id>      subdomain site of node <id>
//	<label>             alias, or reserved when the label is fenced off
//
// Labels are 1..63 characters of ASCII letters, digits and hyphen, with no
// hyphen at either end. Input is case-insensitive; the returned name is
// canonical lowercase.
func ParseName(s string) (Name, error) {
	s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return Name{}, fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	labels := strings.Split(s, ".")
	if labels[len(labels)-1] == TLD {
		labels = labels[:len(labels)-1]
	}
	switch len(labels) {
	case 0:
		return Name{}, fmt.Errorf("%w: bare %q", ErrInvalidName, TLD)

	case 1:
		if id, ok := parseCompLabel(labels[0]); ok {
			return Name{Kind: KindComputer, Node: id}, nil
		}
		if err := checkLabel(labels[0]); err != nil {
			return Name{}, err
		}
		if Reserved(labels[0]) {
			return Name{Kind: KindReserved, Alias: labels[0]}, nil
		}
		return Name{Kind: KindAlias, Alias: labels[0]}, nil

	case 2:
		id, ok := parseCompLabel(labels[1])
		if !ok {
			return Name{}, fmt.Errorf("%w: %q is not a computer label", ErrInvalidName, labels[1])
		}
		if err := checkLabel(labels[0]); err != nil {
			return Name{}, err
		}
		return Name{Kind: KindComputer, Sub: labels[0], Node: id}, nil

	default:
		return Name{}, fmt.Errorf("%w: too many labels in %q", ErrInvalidName, s)
	}
}

// parseCompLabel extracts the node id from a comp<id> label.
func parseCompLabel(label string) (wire.NodeID, bool) {
	if !strings.HasPrefix(label, compPrefix) || len(label) == len(compPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(label[len(compPrefix):], 10, 32)
	if err != nil {
		return 0, false
	}
	return wire.NodeID(id), true
}

// checkLabel enforces label syntax. The input is already lowercase.
func checkLabel(label string) error {
	switch {
	case label == "":
		return fmt.Errorf("%w: empty label", ErrInvalidName)
	case len(label) > maxLabelLen:
		return fmt.Errorf("%w: label exceeds %d characters", ErrInvalidName, maxLabelLen)
	case label[0] == '-' || label[len(label)-1] == '-':
		return fmt.Errorf("%w: label starts or ends with a hyphen", ErrInvalidName)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') || c == '-' {
			continue
		}
		return fmt.Errorf("%w: character %q in label", ErrInvalidName, c)
	}
	return nil
}
