// Copyright 2014 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// forkd is a command-line tool for forking remote chains into local backends.
package main

import (
	"fmt"
	"os"

	"github.com/sunyihoo/forkdb/cmd/utils"
	"github.com/sunyihoo/forkdb/internal/debug"
	"github.com/sunyihoo/forkdb/internal/flags"
	"github.com/sunyihoo/forkdb/internal/version"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "forkd"

var app = flags.NewApp("the fork backend command line interface")

func init() {
	app.Commands = []*cli.Command{
		// See forkcmd.go:
		envCommand,
		rollCommand,
		// See cachecmd.go:
		cacheCommand,
		// See config.go:
		dumpConfigCommand,
		versionCommand,
	}
	app.Flags = flags.Merge(
		[]cli.Flag{configFileFlag},
		utils.CacheFlags,
		utils.RemoteFlags,
		utils.MetricsFlags,
		debug.Flags,
	)
	app.Before = func(ctx *cli.Context) error {
		flags.CheckEnvVars(ctx, app.Flags, "FORKD")
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
}

func printVersion(ctx *cli.Context) error {
	fmt.Print(version.Info(clientIdentifier))
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
