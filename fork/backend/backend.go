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

// Package backend implements the state backend of a single fork: a layered
// cache of the remote chain state pinned at one block, and the background
// worker fetching whatever the cache is missing.
//
// Package backend 实现了单个分叉的状态后端：固定在某个区块的远程链状态的分层缓存，
// 以及获取缓存中缺失数据的后台工作者。
package backend

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/sunyihoo/forkdb/fork/remote"
)

// SharedBackend serves the state of one fork. It is safe for concurrent use and
// is shared by pointer between every consumer of the fork. Cached data is read
// directly, misses are delegated to the fork's Handler.
//
// SharedBackend 提供单个分叉的状态。它可以安全地并发使用，并通过指针在分叉的所有使用者之间共享。
// 缓存数据被直接读取，未命中的请求被委托给分叉的 Handler。
type SharedBackend struct {
	env     remote.Environment
	db      *BlockchainDb
	handler *Handler
}

// New creates the backend of a fork together with its worker. The worker has
// to be driven by calling Run for the backend to serve cache misses.
// New 创建分叉的后端及其工作者。必须调用 Run 驱动工作者，后端才能处理缓存未命中。
func New(source Source, env remote.Environment, db *BlockchainDb) (*SharedBackend, *Handler) {
	handler := NewHandler(source, db)
	return &SharedBackend{env: env, db: db, handler: handler}, handler
}

// Env returns the environment the fork was created with.
func (b *SharedBackend) Env() remote.Environment {
	return b.env
}

// Meta returns the cache metadata of the fork.
func (b *SharedBackend) Meta() *Meta {
	return b.db.Meta().Copy()
}

// Persistent reports whether the fork's cache is kept on disk.
func (b *SharedBackend) Persistent() bool {
	return b.db.Persistent()
}

// Stats returns the number of entries the fork holds in memory.
func (b *SharedBackend) Stats() DbStats {
	return b.db.Stats()
}

// closed reports whether the worker has stopped.
func (b *SharedBackend) closed() bool {
	select {
	case <-b.handler.term:
		return true
	default:
		return false
	}
}

// do sends a request to the worker and waits for its reply.
func do[T any](ctx context.Context, b *SharedBackend, req interface{}, reply chan result[T]) (T, error) {
	var zero T
	select {
	case b.handler.requests <- req:
	case <-b.handler.term:
		return zero, ErrBackendClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.val, res.err
	case <-b.handler.term:
		// The teardown fails all waiters, prefer its answer if present.
		select {
		case res := <-reply:
			return res.val, res.err
		default:
			return zero, ErrBackendClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Basic returns the balance, nonce and code of an account.
// Basic 返回账户的余额、nonce 和代码。
func (b *SharedBackend) Basic(ctx context.Context, addr common.Address) (*AccountInfo, error) {
	if b.closed() {
		return nil, ErrBackendClosed
	}
	if acc, ok := b.db.Account(addr); ok {
		return acc, nil
	}
	reply := make(chan result[*AccountInfo], 1)
	return do(ctx, b, &accountReq{addr: addr, reply: reply}, reply)
}

// Storage returns the value of a storage slot.
// Storage 返回存储槽的值。
func (b *SharedBackend) Storage(ctx context.Context, addr common.Address, slot common.Hash) (*uint256.Int, error) {
	if b.closed() {
		return nil, ErrBackendClosed
	}
	if value, ok := b.db.Storage(addr, slot); ok {
		return value, nil
	}
	reply := make(chan result[*uint256.Int], 1)
	return do(ctx, b, &storageReq{addr: addr, slot: slot, reply: reply}, reply)
}

// BlockHash returns the hash of a block. Blocks unknown to the remote chain
// hash to the empty code hash.
// BlockHash 返回区块的哈希。远程链未知的区块哈希为空代码哈希。
func (b *SharedBackend) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	if b.closed() {
		return common.Hash{}, ErrBackendClosed
	}
	if hash, ok := b.db.BlockHash(number); ok {
		return hash, nil
	}
	reply := make(chan result[common.Hash], 1)
	return do(ctx, b, &blockHashReq{number: number, reply: reply}, reply)
}

// FullBlock returns the block with the given number including its transactions.
func (b *SharedBackend) FullBlock(ctx context.Context, number uint64) (*types.Block, error) {
	reply := make(chan result[*types.Block], 1)
	return do(ctx, b, &fullBlockReq{number: number, reply: reply}, reply)
}

// Transaction returns the transaction with the given hash.
func (b *SharedBackend) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	reply := make(chan result[*types.Transaction], 1)
	return do(ctx, b, &txReq{hash: hash, reply: reply}, reply)
}

// SetPinnedBlock changes the block subsequent remote fetches are made at.
// Already cached data is kept.
// SetPinnedBlock 更改后续远程获取所使用的区块。已缓存的数据会被保留。
func (b *SharedBackend) SetPinnedBlock(ctx context.Context, number uint64) error {
	req := &pinReq{number: number, reply: make(chan struct{})}
	select {
	case b.handler.requests <- req:
	case <-b.handler.term:
		return ErrBackendClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.reply
	return nil
}

// FlushCache writes the data fetched so far to the fork's on-disk cache.
// FlushCache 将迄今为止获取的数据写入分叉的磁盘缓存。
func (b *SharedBackend) FlushCache() error {
	return b.db.Flush()
}

// Close stops the fork's worker, flushing and releasing its cache.
func (b *SharedBackend) Close() error {
	return b.handler.Close()
}
