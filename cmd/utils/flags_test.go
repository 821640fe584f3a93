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

package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/forkdb/fork"
	"github.com/urfave/cli/v2"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Authorization: Bearer abc", "X-Api-Key:k:v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc", "X-Api-Key": "k:v"}, headers)

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)
	_, err = parseHeaders([]string{": empty name"})
	assert.Error(t, err)
}

func TestMakeForkRequests(t *testing.T) {
	var requests []fork.CreateFork
	app := cli.NewApp()
	app.Flags = ForkFlags
	app.Action = func(ctx *cli.Context) error {
		var err error
		requests, err = MakeForkRequests(ctx)
		return err
	}
	args := []string{"forkd",
		"--fork.url", "http://a.example", "--fork.url", "ws://b.example",
		"--fork.block", "17000000", "--fork.gasprice", "7", "--no-storage-caching",
	}
	require.NoError(t, app.Run(args))
	require.Len(t, requests, 2)

	for _, req := range requests {
		require.NotNil(t, req.Block)
		assert.Equal(t, uint64(17_000_000), *req.Block)
		assert.False(t, req.EnableCaching)
		assert.Equal(t, big.NewInt(7), req.Overrides.GasPrice)
		assert.Nil(t, req.Overrides.ChainID)
	}
	assert.Equal(t, fork.ForkID("ws://b.example@17000000"), requests[1].ID())
}
