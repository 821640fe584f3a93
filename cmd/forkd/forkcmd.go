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

package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/sunyihoo/forkdb/cmd/utils"
	"github.com/sunyihoo/forkdb/fork"
	"github.com/sunyihoo/forkdb/fork/backend"
	"github.com/sunyihoo/forkdb/internal/flags"
	"github.com/urfave/cli/v2"
)

var (
	rollToFlag = &cli.Uint64Flag{
		Name:     "to",
		Usage:    "Block number to roll the fork to",
		Required: true,
		Category: flags.ForkCategory,
	}

	envCommand = &cli.Command{
		Action:    forkEnv,
		Name:      "env",
		Usage:     "Create forks and print their environments",
		ArgsUsage: " ",
		Flags: flags.Merge(
			[]cli.Flag{configFileFlag, utils.ForkAccountFlag},
			utils.ForkFlags,
			utils.CacheFlags,
			utils.RemoteFlags,
			utils.MetricsFlags,
		),
		Description: `
The env command creates one fork per --fork.url, all of them concurrently, and
prints the environment each fork was resolved at. Accounts given with
--fork.account are loaded from every fork. Fetched state is written to the RPC
cache unless --no-storage-caching is set.`,
	}
	rollCommand = &cli.Command{
		Action:    forkRoll,
		Name:      "roll",
		Usage:     "Create a fork and roll it to another block",
		ArgsUsage: " ",
		Flags: flags.Merge(
			[]cli.Flag{configFileFlag, rollToFlag},
			utils.ForkFlags,
			utils.CacheFlags,
			utils.RemoteFlags,
			utils.MetricsFlags,
		),
		Description: `
The roll command creates a fork of --fork.url at --fork.block and rolls it to
the block given with --to. Both forks are printed.`,
	}
)

// forkResult is what a single creation in the env command produced.
type forkResult struct {
	url      string
	id       fork.ForkID
	accounts []accountResult
	err      error
}

type accountResult struct {
	addr common.Address
	info *backend.AccountInfo
	err  error
}

// startManager spawns the fork manager configured by the command line.
func startManager(ctx *cli.Context) (*fork.Handle, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, err
	}
	utils.SetupMetrics(&cfg.Metrics)
	return fork.Spawn(cfg.Fork, fork.RemoteConnector(cfg.Fork.Remote))
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
}

func forkEnv(ctx *cli.Context) error {
	requests, err := utils.MakeForkRequests(ctx)
	if err != nil {
		return err
	}
	accounts, err := utils.ParseAccounts(ctx)
	if err != nil {
		return err
	}
	handle, err := startManager(ctx)
	if err != nil {
		return err
	}
	// Closing the last handle flushes every fork to the RPC cache.
	defer handle.Close()

	cctx, cancel := interruptible(ctx)
	defer cancel()

	var (
		results = make([]forkResult, len(requests))
		wg      sync.WaitGroup
	)
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req fork.CreateFork, h *fork.Handle) {
			defer wg.Done()
			defer h.Close()
			results[i] = createFork(cctx, h, req, accounts)
		}(i, req, handle.Clone())
	}
	wg.Wait()

	var failed int
	for _, res := range results {
		if res.err != nil {
			log.Error("Failed to create fork", "url", fork.NewForkID(res.url, nil).Redacted(), "err", res.err)
			failed++
		}
	}
	forks, err := handle.Forks()
	if err != nil {
		return err
	}
	printForks(forks)
	if len(accounts) > 0 {
		printAccounts(results)
	}
	if stats, err := handle.Stats(); err == nil {
		log.Info("Fork manager state", "forks", stats.Forks, "workers", stats.Workers)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d forks failed", failed, len(requests))
	}
	return nil
}

// createFork creates a single fork and loads the requested accounts from it.
func createFork(ctx context.Context, h *fork.Handle, req fork.CreateFork, accounts []common.Address) forkResult {
	res := forkResult{url: req.URL}
	id, b, env, err := h.CreateFork(ctx, req)
	if err != nil {
		res.err = err
		return res
	}
	res.id = id
	log.Info("Created fork", "id", id.Redacted(), "chain", env.ChainID, "block", env.Number, "hash", env.Hash)

	for _, addr := range accounts {
		info, err := b.Basic(ctx, addr)
		res.accounts = append(res.accounts, accountResult{addr: addr, info: info, err: err})
	}
	return res
}

func forkRoll(ctx *cli.Context) error {
	requests, err := utils.MakeForkRequests(ctx)
	if err != nil {
		return err
	}
	if len(requests) != 1 {
		return errors.New("roll takes exactly one --fork.url")
	}
	handle, err := startManager(ctx)
	if err != nil {
		return err
	}
	defer handle.Close()

	cctx, cancel := interruptible(ctx)
	defer cancel()

	id, _, _, err := handle.CreateFork(cctx, requests[0])
	if err != nil {
		return err
	}
	rolled, _, env, err := handle.RollFork(cctx, id, ctx.Uint64(rollToFlag.Name))
	if err != nil {
		return err
	}
	log.Info("Rolled fork", "from", id.Redacted(), "to", rolled.Redacted(), "hash", env.Hash)

	forks, err := handle.Forks()
	if err != nil {
		return err
	}
	printForks(forks)
	return nil
}

func printForks(forks []fork.ForkInfo) {
	sort.Slice(forks, func(i, j int) bool { return forks[i].ID < forks[j].ID })

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Fork", "Chain", "Block", "Hash", "Timestamp", "Base fee", "Gas price", "Cached", "Senders"})
	for _, f := range forks {
		table.Append([]string{
			f.ID.Redacted(),
			strconv.FormatUint(f.Env.ChainID, 10),
			strconv.FormatUint(f.Env.Number, 10),
			f.Env.Hash.TerminalString(),
			strconv.FormatUint(f.Env.Timestamp, 10),
			bigString(f.Env.BaseFee),
			bigString(f.Env.GasPrice),
			strconv.FormatBool(f.Persistent),
			strconv.Itoa(f.Senders),
		})
	}
	table.Render()
}

func printAccounts(results []forkResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Fork", "Account", "Balance", "Nonce", "Code"})
	for _, res := range results {
		for _, acc := range res.accounts {
			if acc.err != nil {
				table.Append([]string{res.id.Redacted(), acc.addr.Hex(), "error: " + acc.err.Error(), "", ""})
				continue
			}
			table.Append([]string{
				res.id.Redacted(),
				acc.addr.Hex(),
				acc.info.Balance.Dec(),
				strconv.FormatUint(acc.info.Nonce, 10),
				common.StorageSize(len(acc.info.Code)).String(),
			})
		}
	}
	table.Render()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
