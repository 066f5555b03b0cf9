// Copyright 2025 The go-rednet Authors
// This file is part of go-rednet.
//
// go-rednet is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-rednet is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-rednet. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/rednet-explorer/go-rednet/internal/flags"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/node"
	"github.com/rednet-explorer/go-rednet/rednet"
	"github.com/rednet-explorer/go-rednet/rednet/bus"
	"github.com/rednet-explorer/go-rednet/rednet/wire"
	"github.com/rednet-explorer/go-rednet/sandbox"
)

var dumpConfigCommand = &cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Export configuration values in a TOML format",
	ArgsUsage:   "[<dumpfile (optional)>]",
	Flags:       flags.Merge(nodeFlags, busFlags, tuningFlags),
	Description: `Export configuration values in TOML format (to stdout by default).`,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s.%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.Name(), link)
	},
}

// busSettings selects and parameterizes the datagram fabric the node
// attaches to. A websocket gateway wins over UDP when both are configured.
type busSettings struct {
	NodeID     uint32 `toml:",omitempty"` // id on the UDP bus
	Listen     string `toml:",omitempty"`
	Broadcast  string `toml:",omitempty"`
	GatewayURL string `toml:",omitempty"`
}

// guardSettings parameterize the inbound request guard. Rate zero leaves
// inbound traffic unscreened.
type guardSettings struct {
	Rate  float64 `toml:",omitempty"` // requests admitted per second and peer
	Burst int     `toml:",omitempty"`
}

// sandboxSettings bound handler execution. Zeros pick the sandbox defaults.
type sandboxSettings struct {
	WallClock time.Duration `toml:",omitempty"`
	OutputMax int           `toml:",omitempty"`
	MemoryMax int           `toml:",omitempty"`
}

type rednetConfig struct {
	Node    node.Config
	Bus     busSettings
	Guard   guardSettings
	Sandbox sandboxSettings
}

func loadConfig(file string, cfg *rednetConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add the file name to errors that carry a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func defaultConfig() *rednetConfig {
	return &rednetConfig{
		Bus: busSettings{
			Listen:    udpListenFlag.Value,
			Broadcast: udpBroadcastFlag.Value,
		},
		Guard: guardSettings{Burst: guardBurstFlag.Value},
	}
}

// makeConfig assembles the run configuration: compiled defaults first, then
// the TOML file, then explicit flags, each layer overriding the last.
func makeConfig(ctx *cli.Context) (*rednetConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, cfg); err != nil {
			return nil, configError(err)
		}
	}
	if err := applyFlags(ctx, cfg); err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

func applyFlags(ctx *cli.Context, cfg *rednetConfig) error {
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Node.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(secretFlag.Name) {
		cfg.Node.Secret = ctx.String(secretFlag.Name)
	}
	if err := applySiteFlags(ctx, cfg); err != nil {
		return err
	}
	if ctx.IsSet(allowUnverifiedFlag.Name) {
		cfg.Node.AllowUnverified = ctx.Bool(allowUnverifiedFlag.Name)
	}
	if ctx.IsSet(announceIntervalFlag.Name) {
		cfg.Node.AnnounceInterval = ctx.Duration(announceIntervalFlag.Name)
	}
	if ctx.IsSet(snapshotIntervalFlag.Name) {
		cfg.Node.SnapshotInterval = ctx.Duration(snapshotIntervalFlag.Name)
	}
	if ctx.IsSet(requestTimeoutFlag.Name) {
		cfg.Node.RequestTimeout = ctx.Duration(requestTimeoutFlag.Name)
	}
	if ctx.IsSet(dnsCacheTTLFlag.Name) {
		cfg.Node.CacheTTL = ctx.Duration(dnsCacheTTLFlag.Name)
	}
	if ctx.IsSet(dnsQueryWindowFlag.Name) {
		cfg.Node.QueryWindow = ctx.Duration(dnsQueryWindowFlag.Name)
	}
	if ctx.IsSet(dnsVerifyTimeoutFlag.Name) {
		cfg.Node.VerifyTimeout = ctx.Duration(dnsVerifyTimeoutFlag.Name)
	}
	if ctx.IsSet(transportTimeoutFlag.Name) {
		cfg.Node.SendTimeout = ctx.Duration(transportTimeoutFlag.Name)
	}
	if ctx.IsSet(transportRetriesFlag.Name) {
		cfg.Node.Retries = ctx.Int(transportRetriesFlag.Name)
	}
	if ctx.IsSet(transportKeepaliveFlag.Name) {
		cfg.Node.KeepaliveInterval = ctx.Duration(transportKeepaliveFlag.Name)
	}
	if ctx.IsSet(indexPositionsFlag.Name) {
		cfg.Node.PositionsPerTerm = ctx.Int(indexPositionsFlag.Name)
	}
	if ctx.IsSet(crawlDepthFlag.Name) {
		cfg.Node.Crawl.MaxDepth = ctx.Int(crawlDepthFlag.Name)
	}
	if ctx.IsSet(crawlPagesFlag.Name) {
		cfg.Node.Crawl.MaxPages = ctx.Int(crawlPagesFlag.Name)
	}
	if ctx.IsSet(crawlIntervalFlag.Name) {
		cfg.Node.Crawl.MinInterval = ctx.Duration(crawlIntervalFlag.Name)
	}
	if ctx.IsSet(sandboxWallClockFlag.Name) {
		cfg.Sandbox.WallClock = ctx.Duration(sandboxWallClockFlag.Name)
	}
	if ctx.IsSet(sandboxOutputMaxFlag.Name) {
		cfg.Sandbox.OutputMax = ctx.Int(sandboxOutputMaxFlag.Name)
	}
	if ctx.IsSet(sandboxMemoryMaxFlag.Name) {
		cfg.Sandbox.MemoryMax = ctx.Int(sandboxMemoryMaxFlag.Name)
	}
	if ctx.IsSet(guardRateFlag.Name) {
		cfg.Guard.Rate = ctx.Float64(guardRateFlag.Name)
	}
	if ctx.IsSet(guardBurstFlag.Name) {
		cfg.Guard.Burst = ctx.Int(guardBurstFlag.Name)
	}
	return applyBusFlags(ctx, cfg)
}

// applySiteFlags parses --site name=directory values. Sites given on the
// command line replace the configured list.
func applySiteFlags(ctx *cli.Context, cfg *rednetConfig) error {
	if ctx.IsSet(siteFlag.Name) {
		var defs []node.SiteDef
		for _, v := range ctx.StringSlice(siteFlag.Name) {
			name, root, ok := strings.Cut(v, "=")
			if !ok || name == "" || root == "" {
				return fmt.Errorf("invalid --%s value %q, want name=directory", siteFlag.Name, v)
			}
			defs = append(defs, node.SiteDef{Name: name, Root: root})
		}
		cfg.Node.Sites = defs
	}
	if ctx.IsSet(siteWatchFlag.Name) {
		watch := ctx.Bool(siteWatchFlag.Name)
		for i := range cfg.Node.Sites {
			cfg.Node.Sites[i].Watch = watch
		}
	}
	return nil
}

func applyBusFlags(ctx *cli.Context, cfg *rednetConfig) error {
	if ctx.IsSet(nodeIDFlag.Name) {
		id := ctx.Uint64(nodeIDFlag.Name)
		if id > math.MaxUint32 {
			return fmt.Errorf("--%s %d overflows the id space", nodeIDFlag.Name, id)
		}
		cfg.Bus.NodeID = uint32(id)
	}
	if ctx.IsSet(udpListenFlag.Name) {
		cfg.Bus.Listen = ctx.String(udpListenFlag.Name)
	}
	if ctx.IsSet(udpBroadcastFlag.Name) {
		cfg.Bus.Broadcast = ctx.String(udpBroadcastFlag.Name)
	}
	if ctx.IsSet(wsURLFlag.Name) {
		cfg.Bus.GatewayURL = ctx.String(wsURLFlag.Name)
	}
	return nil
}

// openBus attaches to the configured datagram fabric.
func openBus(settings busSettings) (bus.Bus, error) {
	if settings.GatewayURL != "" {
		b, err := bus.DialWS(bus.WSConfig{URL: settings.GatewayURL, Log: log.Root()})
		if err != nil {
			return nil, networkError(fmt.Errorf("gateway %s: %w", settings.GatewayURL, err))
		}
		return b, nil
	}
	if settings.NodeID == 0 {
		return nil, configError(fmt.Errorf("--%s is required for the UDP bus", nodeIDFlag.Name))
	}
	b, err := bus.ListenUDP(bus.UDPConfig{
		Self:      wire.NodeID(settings.NodeID),
		Listen:    settings.Listen,
		Broadcast: settings.Broadcast,
		Log:       log.Root(),
	})
	if err != nil {
		return nil, networkError(fmt.Errorf("udp bus on %s: %w", settings.Listen, err))
	}
	return b, nil
}

// makeNode builds an unstarted node from flags and the optional config file.
func makeNode(ctx *cli.Context) (*node.Node, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, err
	}
	b, err := openBus(cfg.Bus)
	if err != nil {
		return nil, err
	}
	cfg.Node.Bus = b
	cfg.Node.Sandbox = sandbox.Config{
		WallClock: cfg.Sandbox.WallClock,
		OutputMax: cfg.Sandbox.OutputMax,
		MemoryMax: cfg.Sandbox.MemoryMax,
	}
	if cfg.Guard.Rate > 0 {
		cfg.Node.Guard = rednet.NewRateGuard(cfg.Guard.Rate, cfg.Guard.Burst)
	}
	cfg.Node.Log = log.Root()
	stack, err := node.New(cfg.Node)
	if err != nil {
		b.Close()
		return nil, configError(err)
	}
	return stack, nil
}

// dumpConfig renders the effective configuration after flag application.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return internalError(err)
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().First(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return internalError(err)
		}
		defer dump.Close()
	}
	dump.Write(out)
	return nil
}
