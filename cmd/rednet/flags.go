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
	"github.com/urfave/cli/v2"

	"github.com/rednet-explorer/go-rednet/internal/flags"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &flags.DirectoryFlag{
		Name:  "datadir",
		Usage: "Data directory for the DNS store, index snapshot and instance lock",
	}
	secretFlag = &cli.StringFlag{
		Name:  "secret",
		Usage: "Shared network secret keying the envelope MACs",
	}
	siteFlag = &cli.StringSliceFlag{
		Name:  "site",
		Usage: "Site to register and serve as name=directory (repeatable)",
	}
	siteWatchFlag = &cli.BoolFlag{
		Name:  "site.watch",
		Usage: "Invalidate cached pages when site files change on disk",
	}
	allowUnverifiedFlag = &cli.BoolFlag{
		Name:  "dns.allowunverified",
		Usage: "Return DNS answers whose holder did not answer the verification ping",
	}
	announceIntervalFlag = &cli.DurationFlag{
		Name:  "announce.interval",
		Usage: "Cadence of presence broadcasts (default 1m)",
	}
	snapshotIntervalFlag = &cli.DurationFlag{
		Name:  "snapshot.interval",
		Usage: "Cadence of index snapshots to the datadir (default 5m)",
	}
	guardRateFlag = &cli.Float64Flag{
		Name:  "guard.rate",
		Usage: "Per-peer inbound requests admitted per second, 0 disables the guard",
	}
	guardBurstFlag = &cli.IntFlag{
		Name:  "guard.burst",
		Usage: "Per-peer burst the inbound guard tolerates",
		Value: 8,
	}
	metricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "Dump the metrics registry to stderr every 30s",
	}

	// Bus selection. A websocket gateway wins over UDP when both are set.
	nodeIDFlag = &cli.Uint64Flag{
		Name:  "node.id",
		Usage: "Node id on the UDP bus (the host environment assigns ids on a gateway)",
	}
	udpListenFlag = &cli.StringFlag{
		Name:  "udp.listen",
		Usage: "Local address the UDP bus binds",
		Value: ":30321",
	}
	udpBroadcastFlag = &cli.StringFlag{
		Name:  "udp.broadcast",
		Usage: "Segment broadcast address UDP frames are sent to",
		Value: "255.255.255.255:30321",
	}
	wsURLFlag = &cli.StringFlag{
		Name:  "ws.url",
		Usage: "Websocket gateway endpoint, e.g. ws://gateway.local:8546/bus",
	}

	// Component tuning. Zero leaves the component default in place.
	dnsCacheTTLFlag = &cli.DurationFlag{
		Name:  "dns.cachettl",
		Usage: "Freshness span of learned DNS records (default 5m)",
	}
	dnsQueryWindowFlag = &cli.DurationFlag{
		Name:  "dns.querywindow",
		Usage: "Span DNS answers are collected over (default 800ms)",
	}
	dnsVerifyTimeoutFlag = &cli.DurationFlag{
		Name:  "dns.verifytimeout",
		Usage: "Window the claimed holder has to answer the verification ping (default 1s)",
	}
	transportTimeoutFlag = &cli.DurationFlag{
		Name:  "transport.timeout",
		Usage: "Reply window per send attempt (default 5s)",
	}
	transportRetriesFlag = &cli.IntFlag{
		Name:  "transport.retries",
		Usage: "Resend attempts after a timed-out send (default 2)",
	}
	transportKeepaliveFlag = &cli.DurationFlag{
		Name:  "transport.keepalive",
		Usage: "Idle span before a connection is pinged (default 30s)",
	}
	requestTimeoutFlag = &cli.DurationFlag{
		Name:  "server.timeout",
		Usage: "End-to-end budget for one served page request (default 8s)",
	}
	sandboxWallClockFlag = &cli.DurationFlag{
		Name:  "sandbox.wallclock",
		Usage: "Execution budget of one handler invocation (default 5s)",
	}
	sandboxOutputMaxFlag = &cli.IntFlag{
		Name:  "sandbox.outputmax",
		Usage: "Response body budget of one handler invocation in bytes (default 100KiB)",
	}
	sandboxMemoryMaxFlag = &cli.IntFlag{
		Name:  "sandbox.memorymax",
		Usage: "Approximate memory budget of one handler invocation in bytes (default 1MiB)",
	}
	crawlDepthFlag = &cli.IntFlag{
		Name:  "crawl.maxdepth",
		Usage: "Link depth a crawl follows from its seeds (default 3)",
	}
	crawlPagesFlag = &cli.IntFlag{
		Name:  "crawl.maxpages",
		Usage: "Page fetches one crawl run may spend (default 100)",
	}
	crawlIntervalFlag = &cli.DurationFlag{
		Name:  "crawl.mininterval",
		Usage: "Spacing floor between fetches from one host (default 100ms)",
	}
	indexPositionsFlag = &cli.IntFlag{
		Name:  "index.positions",
		Usage: "Byte positions kept per term and page for snippets (default 10)",
	}

	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	vmoduleFlag = &cli.StringFlag{
		Name:  "vmodule",
		Usage: "Per-module verbosity: comma-separated list of <pattern>=<level> (e.g. dns/*=5,server/*=4)",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a file instead of stderr",
	}
	logRotateFlag = &cli.BoolFlag{
		Name:  "log.rotate",
		Usage: "Rotate the log file, keeping compressed backups",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs with JSON",
	}
)

var (
	nodeFlags = []cli.Flag{
		configFileFlag,
		dataDirFlag,
		secretFlag,
		siteFlag,
		siteWatchFlag,
		allowUnverifiedFlag,
		announceIntervalFlag,
		snapshotIntervalFlag,
		guardRateFlag,
		guardBurstFlag,
		metricsFlag,
	}
	busFlags = []cli.Flag{
		nodeIDFlag,
		udpListenFlag,
		udpBroadcastFlag,
		wsURLFlag,
	}
	tuningFlags = []cli.Flag{
		dnsCacheTTLFlag,
		dnsQueryWindowFlag,
		dnsVerifyTimeoutFlag,
		transportTimeoutFlag,
		transportRetriesFlag,
		transportKeepaliveFlag,
		requestTimeoutFlag,
		sandboxWallClockFlag,
		sandboxOutputMaxFlag,
		sandboxMemoryMaxFlag,
		crawlDepthFlag,
		crawlPagesFlag,
		crawlIntervalFlag,
		indexPositionsFlag,
	}
	loggingFlags = []cli.Flag{
		verbosityFlag,
		vmoduleFlag,
		logFileFlag,
		logRotateFlag,
		logJSONFlag,
	}
)
