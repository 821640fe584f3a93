// Copyright 2015 The go-ethereum Authors
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
	"math/big"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestPathExpansion(t *testing.T) {
	home := HomeDir()
	require.NotEmpty(t, home)
	tests := map[string]string{
		"/home/someuser/tmp":   "/home/someuser/tmp",
		"~":                    home,
		"~/tmp":                home + "/tmp",
		"~thisOtherUser/b/":    "~thisOtherUser/b",
		"$FORKD_TEST_ROOT/a/b": "/tmp/a/b",
		"/a/b/":                "/a/b",
	}
	if runtime.GOOS == "windows" {
		t.Skip("unix paths only")
	}
	t.Setenv("FORKD_TEST_ROOT", "/tmp")
	for test, expected := range tests {
		assert.Equal(t, expected, expandPath(test), test)
	}
}

func TestFlagParsing(t *testing.T) {
	var (
		gasPrice = &BigFlag{Name: "gasprice"}
		cacheDir = &DirectoryFlag{Name: "cache.dir"}
		parsed   *big.Int
		dir      string
	)
	app := cli.NewApp()
	app.Flags = []cli.Flag{gasPrice, cacheDir}
	app.Action = func(ctx *cli.Context) error {
		parsed = GlobalBig(ctx, gasPrice.Name)
		dir = ctx.String(cacheDir.Name)
		return nil
	}
	require.NoError(t, app.Run([]string{"forkd", "--gasprice", "0x3b9aca00", "--cache.dir", "/var/forkdb/../cache/"}))
	assert.Equal(t, big.NewInt(1_000_000_000), parsed)
	assert.Equal(t, "/var/cache", dir)

	assert.Error(t, app.Run([]string{"forkd", "--gasprice", "lots"}))
}

func TestMerge(t *testing.T) {
	a := []cli.Flag{&cli.BoolFlag{Name: "a"}}
	b := []cli.Flag{&cli.BoolFlag{Name: "b"}, &cli.BoolFlag{Name: "c"}}
	assert.Len(t, Merge(a, b), 3)
}
