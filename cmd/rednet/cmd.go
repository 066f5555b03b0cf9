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
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/rednet-explorer/go-rednet/dns"
	"github.com/rednet-explorer/go-rednet/internal/flags"
	"github.com/rednet-explorer/go-rednet/node"
	"github.com/rednet-explorer/go-rednet/params"
	"github.com/rednet-explorer/go-rednet/rednet"
)

var (
	resolveCommand = &cli.Command{
		Action:    lookupName,
		Name:      "resolve",
		Usage:     "Resolve a name on the connected network",
		ArgsUsage: "<name>",
		Flags:     flags.Merge(nodeFlags, busFlags, tuningFlags),
		Description: `Attaches to the bus, resolves the given name and prints the winning
record. Names past their freshness window are re-queried on the network.`,
	}
	registerCommand = &cli.Command{
		Action:    registerName,
		Name:      "register",
		Usage:     "Register a name for this node",
		ArgsUsage: "<name>",
		Flags:     flags.Merge(nodeFlags, busFlags, tuningFlags),
		Description: `Claims the given alias or computer-form name for this node and prints
the resulting record. The claim is kept in the datadir's DNS store; run
serve with the same datadir to keep answering for it.`,
	}
	searchCommand = &cli.Command{
		Action:    searchIndex,
		Name:      "search",
		Usage:     "Search the local page index",
		ArgsUsage: "<query>...",
		Flags:     flags.Merge(nodeFlags, busFlags, tuningFlags, []cli.Flag{limitFlag}),
		Description: `Runs the given query against the index in the datadir. Populate the
index first with the crawl command.`,
	}
	crawlCommand = &cli.Command{
		Action:    crawlNetwork,
		Name:      "crawl",
		Usage:     "Crawl sites into the local page index",
		ArgsUsage: "<name or rdnt url>...",
		Flags:     flags.Merge(nodeFlags, busFlags, tuningFlags),
		Description: `Walks the given seeds politely (robots.txt, per-host spacing), indexes
what they serve and prints the run report as JSON. Interrupting the run
keeps what was indexed so far.`,
	}
	versionCommand = &cli.Command{
		Action:    version,
		Name:      "version",
		Usage:     "Print version numbers",
		ArgsUsage: " ",
	}

	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum results to print",
		Value: 10,
	}
)

// withNode runs fn against a started node and tears it down afterwards.
func withNode(ctx *cli.Context, fn func(*node.Node) error) error {
	stack, err := makeNode(ctx)
	if err != nil {
		return err
	}
	if err := stack.Start(); err != nil {
		return startError(err)
	}
	defer stack.Stop()
	return fn(stack)
}

// lookupError classifies a failed name lookup.
func lookupError(err error) error {
	switch {
	case errors.Is(err, dns.ErrInvalidName), errors.Is(err, dns.ErrNotFound):
		return usageError(err)
	case errors.Is(err, dns.ErrUnreachable), errors.Is(err, rednet.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return networkError(err)
	default:
		return internalError(err)
	}
}

func lookupName(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return usageError(errors.New("resolve wants exactly one name"))
	}
	name := ctx.Args().First()
	return withNode(ctx, func(stack *node.Node) error {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res, err := stack.Resolve(cctx, name)
		if err != nil {
			return lookupError(err)
		}
		printRecord(res.Record)
		if res.Stale {
			fmt.Println("Stale:      answer is past its TTL, a refresh is running")
		}
		if res.Unverified {
			fmt.Println("Unverified: the holder did not answer the verification ping")
		}
		if res.Conflicts > 0 {
			fmt.Println("Conflicts: ", res.Conflicts)
		}
		if res.Warning != "" {
			fmt.Println("Warning:   ", res.Warning)
		}
		return nil
	})
}

func registerName(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return usageError(errors.New("register wants exactly one name"))
	}
	name := ctx.Args().First()
	return withNode(ctx, func(stack *node.Node) error {
		rec, err := stack.Register(name)
		if err != nil {
			if errors.Is(err, dns.ErrInvalidName) || errors.Is(err, dns.ErrUnauthorized) {
				return usageError(err)
			}
			return internalError(err)
		}
		printRecord(rec)
		return nil
	})
}

func printRecord(rec *dns.Record) {
	fmt.Println("Name:      ", rec.Name)
	fmt.Println("Kind:      ", rec.Kind)
	fmt.Println("Target:    ", rec.Target)
	fmt.Println("Owner:     ", rec.Owner)
	fmt.Println("Registered:", msTime(rec.RegisteredAt))
	if rec.ExpiresAt != 0 {
		fmt.Println("Expires:   ", msTime(rec.ExpiresAt))
	}
}

func msTime(ms uint64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339)
}

func searchIndex(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return usageError(errors.New("search wants a query"))
	}
	q := strings.Join(ctx.Args().Slice(), " ")
	return withNode(ctx, func(stack *node.Node) error {
		results, err := stack.Search(q, ctx.Int(limitFlag.Name))
		if err != nil {
			return internalError(err)
		}
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, res := range results {
			fmt.Printf("%2d. %s (%.2f)\n", i+1, res.URL, res.Score)
			if res.Title != "" {
				fmt.Printf("    %s\n", res.Title)
			}
			if res.Snippet != "" {
				fmt.Printf("    %s\n", res.Snippet)
			}
		}
		return nil
	})
}

func crawlNetwork(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return usageError(errors.New("crawl wants at least one seed"))
	}
	seeds := ctx.Args().Slice()
	return withNode(ctx, func(stack *node.Node) error {
		cctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		report, err := stack.Crawl(cctx, seeds)
		if report != nil {
			out, jerr := json.MarshalIndent(report, "", "  ")
			if jerr != nil {
				return internalError(jerr)
			}
			fmt.Println(string(out))
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return networkError(err)
		default:
			return internalError(err)
		}
	})
}

func version(ctx *cli.Context) error {
	fmt.Println(params.ClientIdentifier)
	fmt.Println("Version:", params.VersionWithMeta)
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	if gitDate != "" {
		fmt.Println("Git Commit Date:", gitDate)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
