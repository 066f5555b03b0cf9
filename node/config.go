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

package node

import (
	"errors"
	"time"

	"github.com/rednet-explorer/go-rednet/common/mclock"
	"github.com/rednet-explorer/go-rednet/crawler"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/rednet"
	"github.com/rednet-explorer/go-rednet/rednet/bus"
	"github.com/rednet-explorer/go-rednet/sandbox"
)

const (
	defaultAnnounceInterval = time.Minute
	defaultSnapshotInterval = 5 * time.Minute
)

// SiteDef declares one directory-backed site the node registers and serves.
type SiteDef struct {
	// Name the site answers to: an alias ("shop") or a computer-form
	// name embedding this node's id ("shop.comp7.rednet").
	Name string `toml:",omitempty"`

	// Root is the directory holding the site's pages and handlers.
	Root string `toml:",omitempty"`

	// Watch invalidates cached pages and compiled handlers when files
	// under Root change.
	Watch bool `toml:",omitempty"`
}

// Config collects the settings of a RedNet node. Zero values select
// defaults suitable for an interactive client.
type Config struct {
	// DataDir holds the DNS store, the index snapshot and the instance
	// lock. Empty keeps all state in memory.
	DataDir string `toml:",omitempty"`

	// Bus is the datagram fabric the node attaches to. Required.
	Bus bus.Bus `toml:"-"`

	// Secret keys the envelope MACs. Every node on a fabric must agree;
	// empty selects the well-known default.
	Secret string `toml:",omitempty"`

	// Sites are registered and served once the node starts.
	Sites []SiteDef `toml:",omitempty"`

	// AllowUnverified lets lookups return records whose holder did not
	// answer the verification ping.
	AllowUnverified bool `toml:",omitempty"`

	// AnnounceInterval paces presence broadcasts (default 1m).
	AnnounceInterval time.Duration `toml:",omitempty"`

	// SnapshotInterval paces index snapshots to disk (default 5m).
	// Snapshots need a DataDir; without one the interval is ignored.
	SnapshotInterval time.Duration `toml:",omitempty"`

	// RequestTimeout bounds one served page request end to end.
	RequestTimeout time.Duration `toml:",omitempty"`

	// These tune the components they name; zero picks each component's
	// default.
	QueryWindow       time.Duration `toml:",omitempty"` // DNS answer collection span
	VerifyTimeout     time.Duration `toml:",omitempty"` // DNS verification pong window
	CacheTTL          time.Duration `toml:",omitempty"` // learned DNS record freshness
	SendTimeout       time.Duration `toml:",omitempty"` // transport reply window per attempt
	Retries           int           `toml:",omitempty"` // transport resend attempts
	KeepaliveInterval time.Duration `toml:",omitempty"` // transport idle ping cadence
	PositionsPerTerm  int           `toml:",omitempty"` // index positions kept per term and page

	// Crawl bounds crawler runs started through this node.
	Crawl crawler.Limits `toml:",omitempty"`

	// Sandbox bounds handler execution.
	Sandbox sandbox.Config `toml:"-"`

	// Guard screens inbound request traffic. Nil admits everything.
	Guard rednet.Guard `toml:"-"`

	Clock mclock.Clock `toml:"-"` // timers, for testing
	Log   log.Logger   `toml:"-"`
}

func (cfg Config) withDefaults() Config {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = defaultAnnounceInterval
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Bus == nil {
		return errors.New("node: Bus is required")
	}
	for _, def := range cfg.Sites {
		if def.Name == "" || def.Root == "" {
			return errors.New("node: site definitions need both Name and Root")
		}
	}
	return nil
}
