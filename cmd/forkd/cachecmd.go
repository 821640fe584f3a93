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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/sunyihoo/forkdb/cmd/utils"
	"github.com/sunyihoo/forkdb/fork/backend"
	"github.com/sunyihoo/forkdb/internal/flags"
	"github.com/urfave/cli/v2"
)

var (
	cacheCommand = &cli.Command{
		Name:      "cache",
		Usage:     "Inspect and clean the on-disk RPC caches",
		ArgsUsage: "",
		Subcommands: []*cli.Command{
			cacheListCommand,
			cacheCleanCommand,
			cacheStatsCommand,
		},
	}
	cacheListCommand = &cli.Command{
		Action:    listCaches,
		Name:      "ls",
		Usage:     "List the RPC caches",
		ArgsUsage: " ",
		Flags:     flags.Merge([]cli.Flag{configFileFlag, utils.CacheChainFlag}, utils.CacheFlags),
	}
	cacheCleanCommand = &cli.Command{
		Action:    cleanCaches,
		Name:      "clean",
		Usage:     "Remove RPC caches",
		ArgsUsage: "[<block>...]",
		Flags:     flags.Merge([]cli.Flag{configFileFlag, utils.CacheChainFlag}, utils.CacheFlags),
		Description: `
Removes the RPC caches, optionally only those of the chain given with --chain
and, if blocks are given as arguments, only those of the listed blocks. Caches
held open by a running process are skipped.`,
	}
	cacheStatsCommand = &cli.Command{
		Action:    cacheStats,
		Name:      "stats",
		Usage:     "Print the metadata and database statistics of an RPC cache",
		ArgsUsage: "<chain> <block>",
		Flags:     flags.Merge([]cli.Flag{configFileFlag}, utils.CacheFlags),
	}
)

// selectCaches lists the caches matching the --chain flag and block arguments.
func selectCaches(ctx *cli.Context, root string) ([]backend.CacheInfo, error) {
	caches, err := backend.ListCaches(root)
	if err != nil {
		return nil, err
	}
	blocks := make(map[uint64]bool)
	for _, arg := range ctx.Args().Slice() {
		number, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid block number %q", arg)
		}
		blocks[number] = true
	}
	var selected []backend.CacheInfo
	for _, cache := range caches {
		if ctx.IsSet(utils.CacheChainFlag.Name) && cache.ChainID != ctx.Uint64(utils.CacheChainFlag.Name) {
			continue
		}
		if len(blocks) > 0 && !blocks[cache.Block] {
			continue
		}
		selected = append(selected, cache)
	}
	return selected, nil
}

func cacheRoot(ctx *cli.Context) (string, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return "", err
	}
	if cfg.Fork.CacheDir == "" {
		return "", errors.New("no RPC cache directory configured")
	}
	return cfg.Fork.CacheDir, nil
}

func listCaches(ctx *cli.Context) error {
	root, err := cacheRoot(ctx)
	if err != nil {
		return err
	}
	caches, err := selectCaches(ctx, root)
	if err != nil {
		return err
	}
	var total common.StorageSize
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Chain", "Block", "Size", "In use", "Path"})
	for _, cache := range caches {
		total += cache.Size
		table.Append([]string{
			strconv.FormatUint(cache.ChainID, 10),
			strconv.FormatUint(cache.Block, 10),
			cache.Size.String(),
			strconv.FormatBool(cache.InUse),
			cache.Path,
		})
	}
	table.SetFooter([]string{"", "Total", total.String(), "", ""})
	table.Render()
	return nil
}

func cleanCaches(ctx *cli.Context) error {
	root, err := cacheRoot(ctx)
	if err != nil {
		return err
	}
	caches, err := selectCaches(ctx, root)
	if err != nil {
		return err
	}
	var (
		removed int
		freed   common.StorageSize
	)
	for _, cache := range caches {
		err := backend.RemoveCache(cache.Path)
		switch {
		case errors.Is(err, backend.ErrCacheInUse):
			log.Warn("Skipping RPC cache in use", "chain", cache.ChainID, "block", cache.Block)
		case err != nil:
			return err
		default:
			removed++
			freed += cache.Size
			log.Debug("Removed RPC cache", "path", cache.Path)
		}
	}
	log.Info("Cleaned RPC caches", "removed", removed, "skipped", len(caches)-removed, "freed", freed)
	return nil
}

func cacheStats(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return errors.New("need chain id and block number")
	}
	chain, err := strconv.ParseUint(ctx.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chain id: %v", err)
	}
	block, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block number: %v", err)
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	path := backend.CachePath(cfg.Fork.CacheDir, chain, block)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no RPC cache for chain %d at block %d", chain, block)
	}
	registry, err := backend.NewRegistry(cfg.Fork.CacheEngine, cfg.Fork.CacheMemory)
	if err != nil {
		return err
	}
	store, err := registry.Open(path)
	if err != nil {
		return err
	}
	defer store.Release()

	meta, err := backend.ReadMeta(store)
	if err != nil {
		return err
	}
	if meta != nil {
		fmt.Printf("Chain:      %d\n", meta.ChainID)
		fmt.Printf("Block:      %d (%s)\n", meta.BlockNumber, meta.BlockHash.Hex())
		fmt.Printf("Timestamp:  %d\n", meta.Timestamp)
		fmt.Printf("Endpoints:  %s\n", strings.Join(meta.HostList(), ", "))
	}
	showDBStats(store)
	return nil
}

func showDBStats(db ethdb.KeyValueStater) {
	stats, err := db.Stat()
	if err != nil {
		log.Warn("Failed to read database stats", "error", err)
		return
	}
	fmt.Println(stats)
}
