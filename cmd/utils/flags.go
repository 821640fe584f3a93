// Copyright 2015 The go-ethereum Authors
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

// Package utils contains internal helper functions for forkd commands.
package utils

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/sunyihoo/forkdb/fork"
	"github.com/sunyihoo/forkdb/internal/flags"
	"github.com/urfave/cli/v2"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// Fork settings
	ForkURLFlag = &cli.StringSliceFlag{
		Name:     "fork.url",
		Usage:    "Endpoint of the chain to fork, repeat to fork several chains",
		EnvVars:  []string{"FORKD_FORK_URL"},
		Category: flags.ForkCategory,
	}
	ForkBlockFlag = &cli.Uint64Flag{
		Name:     "fork.block",
		Usage:    "Block number to fork at (default = latest)",
		Category: flags.ForkCategory,
	}
	ForkChainIDFlag = &cli.Uint64Flag{
		Name:     "fork.chainid",
		Usage:    "Override the chain id of the forks",
		Category: flags.ForkCategory,
	}
	ForkGasLimitFlag = &cli.Uint64Flag{
		Name:     "fork.gaslimit",
		Usage:    "Override the block gas limit of the forks",
		Category: flags.ForkCategory,
	}
	ForkGasPriceFlag = &flags.BigFlag{
		Name:     "fork.gasprice",
		Usage:    "Override the gas price (wei) of the forks",
		Category: flags.ForkCategory,
	}
	ForkBaseFeeFlag = &flags.BigFlag{
		Name:     "fork.basefee",
		Usage:    "Override the base fee (wei) of the forks",
		Category: flags.ForkCategory,
	}
	ForkTimestampFlag = &cli.Uint64Flag{
		Name:     "fork.timestamp",
		Usage:    "Override the block timestamp of the forks",
		Category: flags.ForkCategory,
	}
	ForkAccountFlag = &cli.StringSliceFlag{
		Name:     "fork.account",
		Usage:    "Account to load from every fork, repeat for several accounts",
		Category: flags.ForkCategory,
	}
	NoStorageCachingFlag = &cli.BoolFlag{
		Name:     "no-storage-caching",
		Usage:    "Keep fetched state in memory only",
		Category: flags.ForkCategory,
	}

	// RPC cache settings
	CacheDirFlag = &flags.DirectoryFlag{
		Name:     "cache.dir",
		Usage:    "Root directory of the on-disk RPC caches",
		Value:    flags.DirectoryString(DefaultCacheDir()),
		Category: flags.CacheCategory,
	}
	CacheEngineFlag = &cli.StringFlag{
		Name:     "cache.engine",
		Usage:    "Database engine of the RPC caches (pebble|leveldb)",
		Value:    fork.Defaults.CacheEngine,
		Category: flags.CacheCategory,
	}
	CacheMemoryFlag = &cli.IntFlag{
		Name:     "cache.memory",
		Usage:    "Megabytes of memory allocated to the clean cache of each fork",
		Value:    fork.Defaults.CacheMemory,
		Category: flags.CacheCategory,
	}
	CacheFlushIntervalFlag = &cli.DurationFlag{
		Name:     "cache.flushinterval",
		Usage:    "Time interval to flush fetched state to the RPC caches",
		Value:    fork.Defaults.FlushInterval,
		Category: flags.CacheCategory,
	}
	CacheChainFlag = &cli.Uint64Flag{
		Name:     "chain",
		Usage:    "Only touch the caches of the given chain id",
		Category: flags.CacheCategory,
	}

	// Remote endpoint settings
	RPCRetriesFlag = &cli.IntFlag{
		Name:     "rpc.retries",
		Usage:    "Maximum number of retries of a failed or rate limited request",
		Value:    fork.Defaults.Remote.Retries,
		Category: flags.RemoteCategory,
	}
	RPCBackoffFlag = &cli.DurationFlag{
		Name:     "rpc.backoff",
		Usage:    "Initial backoff between retries",
		Value:    fork.Defaults.Remote.Backoff,
		Category: flags.RemoteCategory,
	}
	RPCComputeUnitsFlag = &cli.Uint64Flag{
		Name:     "rpc.cups",
		Usage:    "Compute units per second the endpoints allow (0 = unlimited)",
		Value:    fork.Defaults.Remote.ComputeUnitsPerSecond,
		Category: flags.RemoteCategory,
	}
	RPCTimeoutFlag = &cli.DurationFlag{
		Name:     "rpc.timeout",
		Usage:    "Timeout of a single request",
		Value:    fork.Defaults.Remote.Timeout,
		Category: flags.RemoteCategory,
	}
	RPCHeaderFlag = &cli.StringSliceFlag{
		Name:     "rpc.header",
		Usage:    "Extra HTTP header sent to the endpoints, as 'Name: value'",
		Category: flags.RemoteCategory,
	}

	// Metrics flags
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
	MetricsHTTPFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    `Enable stand-alone metrics HTTP server listening interface.`,
		Category: flags.MetricsCategory,
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:     "metrics.port",
		Usage:    `Metrics HTTP server listening port.`,
		Value:    metrics.DefaultConfig.Port,
		Category: flags.MetricsCategory,
	}
)

var (
	// ForkFlags select and shape the forks a command creates.
	ForkFlags = []cli.Flag{
		ForkURLFlag,
		ForkBlockFlag,
		ForkChainIDFlag,
		ForkGasLimitFlag,
		ForkGasPriceFlag,
		ForkBaseFeeFlag,
		ForkTimestampFlag,
		NoStorageCachingFlag,
	}
	// CacheFlags configure the on-disk RPC caches.
	CacheFlags = []cli.Flag{
		CacheDirFlag,
		CacheEngineFlag,
		CacheMemoryFlag,
		CacheFlushIntervalFlag,
	}
	// RemoteFlags configure the connections to the endpoints.
	RemoteFlags = []cli.Flag{
		RPCRetriesFlag,
		RPCBackoffFlag,
		RPCComputeUnitsFlag,
		RPCTimeoutFlag,
		RPCHeaderFlag,
	}
	// MetricsFlags configure the metrics system.
	MetricsFlags = []cli.Flag{
		MetricsEnabledFlag,
		MetricsHTTPFlag,
		MetricsPortFlag,
	}
)

// DefaultCacheDir is the default root of the RPC caches.
// DefaultCacheDir 是 RPC 缓存的默认根目录。
func DefaultCacheDir() string {
	if home := flags.HomeDir(); home != "" {
		return filepath.Join(home, ".forkdb", "cache")
	}
	return ""
}

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := os.Stderr
	outf, _ := os.Stdout.Stat()
	errf, _ := os.Stderr.Stat()
	if outf != nil && errf != nil && os.SameFile(outf, errf) {
		w = os.Stdout
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// SetForkConfig applies fork manager related command line flags to the config.
// SetForkConfig 将与分叉管理器相关的命令行标志应用到配置中。
func SetForkConfig(ctx *cli.Context, cfg *fork.Config) error {
	if ctx.IsSet(CacheDirFlag.Name) {
		cfg.CacheDir = ctx.String(CacheDirFlag.Name)
	}
	if ctx.IsSet(CacheEngineFlag.Name) {
		cfg.CacheEngine = ctx.String(CacheEngineFlag.Name)
	}
	if ctx.IsSet(CacheMemoryFlag.Name) {
		cfg.CacheMemory = ctx.Int(CacheMemoryFlag.Name)
	}
	if ctx.IsSet(CacheFlushIntervalFlag.Name) {
		cfg.FlushInterval = ctx.Duration(CacheFlushIntervalFlag.Name)
	}
	if ctx.IsSet(RPCRetriesFlag.Name) {
		cfg.Remote.Retries = ctx.Int(RPCRetriesFlag.Name)
	}
	if ctx.IsSet(RPCBackoffFlag.Name) {
		cfg.Remote.Backoff = ctx.Duration(RPCBackoffFlag.Name)
	}
	if ctx.IsSet(RPCComputeUnitsFlag.Name) {
		cfg.Remote.ComputeUnitsPerSecond = ctx.Uint64(RPCComputeUnitsFlag.Name)
	}
	if ctx.IsSet(RPCTimeoutFlag.Name) {
		cfg.Remote.Timeout = ctx.Duration(RPCTimeoutFlag.Name)
	}
	if ctx.IsSet(RPCHeaderFlag.Name) {
		headers, err := parseHeaders(ctx.StringSlice(RPCHeaderFlag.Name))
		if err != nil {
			return err
		}
		cfg.Remote.Headers = headers
	}
	return nil
}

func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, value := range values {
		name, val, ok := strings.Cut(value, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want 'Name: value'", value)
		}
		headers[name] = strings.TrimSpace(val)
	}
	return headers, nil
}

// MakeForkRequests builds one fork request per --fork.url, sharing the block,
// caching and environment override flags.
// MakeForkRequests 为每个 --fork.url 构建一个分叉请求，共享区块、缓存和环境覆盖标志。
func MakeForkRequests(ctx *cli.Context) ([]fork.CreateFork, error) {
	urls := ctx.StringSlice(ForkURLFlag.Name)
	if len(urls) == 0 {
		return nil, fmt.Errorf("missing --%s", ForkURLFlag.Name)
	}
	var overrides fork.EnvOverrides
	if ctx.IsSet(ForkChainIDFlag.Name) {
		v := ctx.Uint64(ForkChainIDFlag.Name)
		overrides.ChainID = &v
	}
	if ctx.IsSet(ForkGasLimitFlag.Name) {
		v := ctx.Uint64(ForkGasLimitFlag.Name)
		overrides.GasLimit = &v
	}
	if ctx.IsSet(ForkTimestampFlag.Name) {
		v := ctx.Uint64(ForkTimestampFlag.Name)
		overrides.Timestamp = &v
	}
	if ctx.IsSet(ForkGasPriceFlag.Name) {
		overrides.GasPrice = flags.GlobalBig(ctx, ForkGasPriceFlag.Name)
	}
	if ctx.IsSet(ForkBaseFeeFlag.Name) {
		overrides.BaseFee = flags.GlobalBig(ctx, ForkBaseFeeFlag.Name)
	}
	var block *uint64
	if ctx.IsSet(ForkBlockFlag.Name) {
		v := ctx.Uint64(ForkBlockFlag.Name)
		block = &v
	}
	requests := make([]fork.CreateFork, 0, len(urls))
	for _, url := range urls {
		requests = append(requests, fork.CreateFork{
			URL:           url,
			Block:         block,
			EnableCaching: !ctx.Bool(NoStorageCachingFlag.Name),
			Overrides:     overrides,
		})
	}
	return requests, nil
}

// ParseAccounts parses the --fork.account addresses.
func ParseAccounts(ctx *cli.Context) ([]common.Address, error) {
	var accounts []common.Address
	for _, value := range ctx.StringSlice(ForkAccountFlag.Name) {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid account %q", value)
		}
		accounts = append(accounts, common.HexToAddress(value))
	}
	return accounts, nil
}

// SetMetricsConfig applies metrics related command line flags to the config.
func SetMetricsConfig(ctx *cli.Context, cfg *metrics.Config) {
	if ctx.IsSet(MetricsEnabledFlag.Name) {
		cfg.Enabled = ctx.Bool(MetricsEnabledFlag.Name)
	}
	if ctx.IsSet(MetricsHTTPFlag.Name) {
		cfg.HTTP = ctx.String(MetricsHTTPFlag.Name)
	}
	if ctx.IsSet(MetricsPortFlag.Name) {
		cfg.Port = ctx.Int(MetricsPortFlag.Name)
	}
}

// SetupMetrics enables the metrics system and, if an address is configured,
// serves the registry over HTTP.
// SetupMetrics 启用指标系统，如果配置了地址，则通过 HTTP 提供注册表。
func SetupMetrics(cfg *metrics.Config) {
	if !cfg.Enabled {
		return
	}
	log.Info("Enabling metrics collection")
	metrics.Enabled = true

	if cfg.HTTP != "" {
		address := net.JoinHostPort(cfg.HTTP, strconv.Itoa(cfg.Port))
		log.Info("Enabling stand-alone metrics HTTP endpoint", "address", address)
		exp.Setup(address)
	}
	go metrics.CollectProcessMetrics(3 * time.Second)
}
