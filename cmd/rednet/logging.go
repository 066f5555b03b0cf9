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
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rednet-explorer/go-rednet/log"
)

// setupLogging installs the root log handler from the logging flags. Color
// is used on real terminals only; file output is never colored.
func setupLogging(ctx *cli.Context) error {
	var (
		output   io.Writer = os.Stderr
		usecolor           = (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) &&
			os.Getenv("TERM") != "dumb"
	)
	if file := ctx.String(logFileFlag.Name); file != "" {
		usecolor = false
		if ctx.Bool(logRotateFlag.Name) {
			output = &lumberjack.Logger{
				Filename:   file,
				MaxSize:    100, // megabytes
				MaxBackups: 10,
				MaxAge:     30, // days
				Compress:   true,
			}
		} else {
			f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return err
			}
			output = f
		}
	} else if usecolor {
		output = colorable.NewColorableStderr()
	}

	format := log.TerminalFormat(usecolor)
	if ctx.Bool(logJSONFlag.Name) {
		format = log.JSONFormat()
	}
	glogger := log.NewGlogHandler(log.StreamHandler(output, format))
	glogger.Verbosity(log.Lvl(ctx.Int(verbosityFlag.Name)))
	if err := glogger.Vmodule(ctx.String(vmoduleFlag.Name)); err != nil {
		return err
	}
	log.Root().SetHandler(glogger)
	return nil
}
