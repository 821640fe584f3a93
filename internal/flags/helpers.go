// Copyright 2020 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package flags

import (
	"fmt"
	"os"
	"strings"

	"github.com/sunyihoo/forkdb/internal/version"
	"github.com/urfave/cli/v2"
)

// NewApp creates an app with sane defaults.
// NewApp 创建一个带有合理默认值的应用。
func NewApp(usage string) *cli.App {
	build, _ := version.Current()
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Version = build.Version()
	app.Usage = usage
	app.Copyright = "Copyright 2025 The go-ethereum Authors"
	app.Before = func(ctx *cli.Context) error {
		CheckEnvVars(ctx, app.Flags, "FORKD")
		return nil
	}
	return app
}

// Merge merges the given flag slices.
// Merge 合并给定的标志切片。
func Merge(groups ...[]cli.Flag) []cli.Flag {
	var ret []cli.Flag
	for _, group := range groups {
		ret = append(ret, group...)
	}
	return ret
}

// CheckEnvVars iterates over all the environment variables and checks if any of
// them look like a CLI flag but is not consumed. This can be used to detect old
// or mistyped names.
// CheckEnvVars 遍历所有环境变量，检查是否有看起来像 CLI 标志但未被使用的变量，用于发现过时或拼写错误的名称。
func CheckEnvVars(ctx *cli.Context, flags []cli.Flag, prefix string) {
	if !ctx.IsSet("verbosity") {
		// The logger is not set up yet, only report when asked for it.
		return
	}
	known := make(map[string]string)
	for _, f := range flags {
		docflag, ok := f.(cli.DocGenerationFlag)
		if !ok {
			continue
		}
		for _, envVar := range docflag.GetEnvVars() {
			known[envVar] = f.Names()[0]
		}
	}
	keyvals := os.Environ()
	for _, kv := range keyvals {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		if _, ok := known[key]; !ok {
			fmt.Fprintf(os.Stderr, "Unknown environment variable %s, it does not match any flag\n", key)
		}
	}
}
