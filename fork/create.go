// Copyright 2025 The go-ethereum Authors
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

package fork

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/forkdb/fork/backend"
	"github.com/sunyihoo/forkdb/fork/remote"
)

// RemoteChain is a connection to the chain a fork is taken from.
// RemoteChain 是与被分叉链之间的连接。
type RemoteChain interface {
	backend.Source

	// ResolveEnvironment resolves the chain environment at block, nil meaning
	// the latest block.
	ResolveEnvironment(ctx context.Context, block *uint64) (Environment, error)
}

// Connector opens connections to remote chains.
// Connector 打开与远程链的连接。
type Connector interface {
	Connect(ctx context.Context, url string) (RemoteChain, error)
}

// ConnectorFunc is an adapter to allow the use of ordinary functions as
// connectors.
type ConnectorFunc func(ctx context.Context, url string) (RemoteChain, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, url string) (RemoteChain, error) {
	return f(ctx, url)
}

// RemoteConnector returns the connector dialing endpoints with retrying,
// rate limited clients.
func RemoteConnector(config remote.Config) Connector {
	return ConnectorFunc(func(ctx context.Context, url string) (RemoteChain, error) {
		p, err := remote.Dial(ctx, url, config)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// creation is the outcome of a creation task, reported back to the loop.
type creation struct {
	pending *pendingCreation // the creation this is the result of

	spec    CreateFork
	backend *backend.SharedBackend
	handler *backend.Handler
	err     error
}

// create runs a creation task and reports the result to the loop. Results
// arriving after the loop has terminated are discarded.
// create 运行一个创建任务并将结果报告给循环。循环终止后到达的结果会被丢弃。
func (m *MultiFork) create(ctx context.Context, p *pendingCreation, spec CreateFork) {
	c := &creation{pending: p}
	c.spec, c.backend, c.handler, c.err = m.buildFork(ctx, spec)

	select {
	case m.created <- c:
	case <-m.term:
		if c.handler != nil {
			c.handler.Close()
		}
	}
}

// buildFork connects to the remote chain, resolves the environment and sets up
// the backend of the fork together with its worker.
// buildFork 连接远程链，解析环境，并创建分叉的后端及其工作者。
func (m *MultiFork) buildFork(ctx context.Context, spec CreateFork) (CreateFork, *backend.SharedBackend, *backend.Handler, error) {
	var (
		start  = time.Now()
		logger = log.New("fork", spec.ID().Redacted())
	)
	logger.Debug("Creating fork")

	chain, err := m.connector.Connect(ctx, spec.URL)
	if err != nil {
		return spec, nil, nil, fmt.Errorf("failed to connect to %s: %w", remote.Host(spec.URL), err)
	}
	env, err := chain.ResolveEnvironment(ctx, spec.Block)
	if err != nil {
		chain.Close()
		return spec, nil, nil, fmt.Errorf("failed to resolve fork environment: %w", err)
	}
	// The cache belongs to the remote chain, so it is keyed by the resolved
	// environment before any overrides.
	meta := backend.NewMeta(env, spec.URL)
	spec.Overrides.apply(&env)
	spec.Env = env

	var store *backend.Store
	if spec.EnableCaching && m.registry != nil {
		path := backend.CachePath(m.config.CacheDir, meta.ChainID, meta.BlockNumber)
		// The disk cache is optional. Another process may own it, in which
		// case the fork keeps its state in memory.
		if store, err = m.registry.Open(path); err != nil {
			logger.Warn("Fork cache unavailable, keeping state in memory", "path", path, "err", err)
			store = nil
		}
	}
	db, err := backend.NewBlockchainDb(meta, store, m.config.CacheMemory*1024*1024)
	if err != nil {
		if store != nil {
			store.Release()
		}
		chain.Close()
		return spec, nil, nil, err
	}
	b, h := backend.New(chain, env, db)

	createTimer.UpdateSince(start)
	logger.Info("Created fork", "chainid", env.ChainID, "number", env.Number, "hash", env.Hash,
		"persistent", db.Persistent(), "elapsed", common.PrettyDuration(time.Since(start)))
	return spec, b, h, nil
}
