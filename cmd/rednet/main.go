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

// rednet is the command line interface to the RedNet in-game web: it runs
// hosting nodes and offers one-shot resolve, register, search and crawl
// operations against the network.
package main

import (
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/urfave/cli/v2"

	"github.com/rednet-explorer/go-rednet/internal/flags"
	"github.com/rednet-explorer/go-rednet/log"
	"github.com/rednet-explorer/go-rednet/node"
)

const envPrefix = "REDNET"

var (
	// Git details set via linker flags.
	gitCommit = ""
	gitDate   = ""

	app = flags.NewApp(gitCommit, gitDate, "the RedNet in-game web command line interface")
)

func init() {
	app.Action = serve
	app.Commands = []*cli.Command{
		serveCommand,
		resolveCommand,
		registerCommand,
		searchCommand,
		crawlCommand,
		dumpConfigCommand,
		versionCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = flags.Merge(nodeFlags, busFlags, tuningFlags, loggingFlags)
	flags.AutoEnvVars(app.Flags, envPrefix)

	app.Before = func(ctx *cli.Context) error {
		flags.MigrateGlobalFlags(ctx)
		if err := setupLogging(ctx); err != nil {
			return configError(err)
		}
		flags.CheckEnvVars(ctx, app.Flags, envPrefix)
		if ctx.Bool(metricsFlag.Name) {
			// Dump the meter registry to stderr on an interval, the
			// in-game screens have nothing better to scrape.
			go metrics.Log(metrics.DefaultRegistry, 30*time.Second,
				stdlog.New(os.Stderr, "metrics ", stdlog.Lmicroseconds))
		}
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// Process exit codes. Anything uncoded (flag parse failures and other
// caller mistakes) exits as usage.
const (
	codeUsage    = 1
	codeNetwork  = 2
	codeConfig   = 3
	codeInternal = 4
)

// exitError carries the process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error    { return &exitError{codeUsage, err} }
func networkError(err error) error  { return &exitError{codeNetwork, err} }
func configError(err error) error   { return &exitError{codeConfig, err} }
func internalError(err error) error { return &exitError{codeInternal, err} }

func exitCode(err error) int {
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	return codeUsage
}

// startError classifies a node start failure.
func startError(err error) error {
	if errors.Is(err, node.ErrDatadirUsed) {
		return configError(err)
	}
	return internalError(err)
}

var serveCommand = &cli.Command{
	Action:    serve,
	Name:      "serve",
	Usage:     "Run a RedNet node until interrupted",
	ArgsUsage: " ",
	Flags:     flags.Merge(nodeFlags, busFlags, tuningFlags),
	Description: `Attaches to the bus, registers the configured sites and serves them,
answering DNS queries and crawl listings, until SIGINT or SIGTERM.
Running rednet without a subcommand does the same.`,
}

func serve(ctx *cli.Context) error {
	if ctx.NArg() > 0 {
		return usageError(fmt.Errorf("unexpected arguments: %s", strings.Join(ctx.Args().Slice(), " ")))
	}
	stack, err := makeNode(ctx)
	if err != nil {
		return err
	}
	if err := stack.Start(); err != nil {
		return startError(err)
	}
	defer stack.Stop()
	log.Info("RedNet node is up", "id", stack.Self(), "names", strings.Join(stack.Names(), ","))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down...")
	return nil
}
