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

package backend

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
	"github.com/sunyihoo/forkdb/fork/remote"
	"golang.org/x/sync/errgroup"
)

const (
	blockCacheLimit = 64   // Number of full blocks kept in memory
	txCacheLimit    = 1024 // Number of transactions kept in memory
)

var (
	fetchAccountMeter   = metrics.NewRegisteredMeter("fork/backend/fetch/account", nil)
	fetchStorageMeter   = metrics.NewRegisteredMeter("fork/backend/fetch/storage", nil)
	fetchBlockHashMeter = metrics.NewRegisteredMeter("fork/backend/fetch/blockhash", nil)
	fetchBlockMeter     = metrics.NewRegisteredMeter("fork/backend/fetch/block", nil)
	fetchTxMeter        = metrics.NewRegisteredMeter("fork/backend/fetch/tx", nil)
	fetchFailMeter      = metrics.NewRegisteredMeter("fork/backend/fetch/fail", nil)
	dedupMeter          = metrics.NewRegisteredMeter("fork/backend/dedup", nil)
)

// ErrBackendClosed is returned by a backend whose worker has stopped.
var ErrBackendClosed = errors.New("fork backend closed")

// Source is the remote chain a backend fetches missing state from.
// Source 是后端获取缺失状态的远程链。
type Source interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	Close()
}

// result is the outcome of a fetch delivered to a waiting caller.
type result[T any] struct {
	val T
	err error
}

// waiters tracks the callers waiting on an in-flight fetch per key.
type waiters[K comparable, T any] map[K][]chan result[T]

// add registers a waiter and reports whether it is the first one for the key,
// in which case the caller has to start the fetch.
func (w waiters[K, T]) add(key K, ch chan result[T]) bool {
	w[key] = append(w[key], ch)
	return len(w[key]) == 1
}

// deliver hands the same result to every waiter of the key.
func (w waiters[K, T]) deliver(key K, val T, err error) {
	for _, ch := range w[key] {
		ch <- result[T]{val: val, err: err}
	}
	delete(w, key)
}

// fail hands err to all waiters of every key.
func (w waiters[K, T]) fail(err error) {
	var zero T
	for key := range w {
		w.deliver(key, zero, err)
	}
}

// Requests served by the handler. Every reply channel is buffered with a
// capacity of one so delivering never blocks the loop.
type (
	accountReq struct {
		addr  common.Address
		reply chan result[*AccountInfo]
	}
	storageReq struct {
		addr  common.Address
		slot  common.Hash
		reply chan result[*uint256.Int]
	}
	blockHashReq struct {
		number uint64
		reply  chan result[common.Hash]
	}
	fullBlockReq struct {
		number uint64
		reply  chan result[*types.Block]
	}
	txReq struct {
		hash  common.Hash
		reply chan result[*types.Transaction]
	}
	pinReq struct {
		number uint64
		reply  chan struct{}
	}
)

type slotKey struct {
	addr common.Address
	slot common.Hash
}

// Handler is the background worker of a fork backend. It serves cache misses
// by fetching from the remote chain, deduplicating concurrent requests for the
// same data. All of its state is owned by the Run loop.
//
// Handler 是分叉后端的后台工作者。它通过从远程链获取数据来处理缓存未命中，并对同一数据的并发请求去重。
// 它的所有状态都由 Run 循环独占。
type Handler struct {
	source Source
	db     *BlockchainDb
	pinned uint64 // block number remote queries are made at

	requests chan interface{} // Requests from the shared backends
	fetched  chan func()      // Completed fetches to be applied on the loop
	quit     chan struct{}    // Closed to request the loop to stop
	term     chan struct{}    // Closed once the handler is fully torn down

	accounts waiters[common.Address, *AccountInfo]
	storage  waiters[slotKey, *uint256.Int]
	hashes   waiters[uint64, common.Hash]
	blocks   *lru.Cache[uint64, *types.Block]
	txs      *lru.Cache[common.Hash, *types.Transaction]

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup // in-flight fetches
	claimed atomic.Bool    // set by whoever runs the teardown, Run or Close
	once    sync.Once
	err     error // teardown error, valid after term is closed

	log log.Logger
}

// NewHandler creates the worker of a backend pinned at the block the db was
// populated from. The worker does nothing until Run is called.
func NewHandler(source Source, db *BlockchainDb) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		source:   source,
		db:       db,
		pinned:   db.Meta().BlockNumber,
		requests: make(chan interface{}),
		fetched:  make(chan func()),
		quit:     make(chan struct{}),
		term:     make(chan struct{}),
		accounts: make(waiters[common.Address, *AccountInfo]),
		storage:  make(waiters[slotKey, *uint256.Int]),
		hashes:   make(waiters[uint64, common.Hash]),
		blocks:   lru.NewCache[uint64, *types.Block](blockCacheLimit),
		txs:      lru.NewCache[common.Hash, *types.Transaction](txCacheLimit),
		ctx:      ctx,
		cancel:   cancel,
		log:      db.log,
	}
}

// Run drives the handler until Close is called. It returns immediately if the
// handler was already closed or is run elsewhere.
// Run 驱动处理器直到调用 Close。如果处理器已关闭或已在其他地方运行，则立即返回。
func (h *Handler) Run() {
	if !h.claimed.CompareAndSwap(false, true) {
		return
	}
	defer h.teardown()

	for {
		select {
		case req := <-h.requests:
			h.handle(req)

		case done := <-h.fetched:
			done()

		case <-h.quit:
			return
		}
	}
}

// Close stops the handler, waiting for the teardown to finish. The remaining
// dirty cache entries are flushed and the store released. Close may be called
// any number of times, all calls return the result of the teardown.
//
// Close 停止处理器并等待清理完成。剩余的脏缓存条目会被刷新，存储会被释放。
// Close 可以调用任意次，所有调用都返回清理的结果。
func (h *Handler) Close() error {
	h.once.Do(func() { close(h.quit) })
	if h.claimed.CompareAndSwap(false, true) {
		// Never started, tear down inline.
		h.teardown()
	}
	<-h.term
	return h.err
}

// Done returns a channel closed when the handler has stopped.
func (h *Handler) Done() <-chan struct{} {
	return h.term
}

func (h *Handler) teardown() {
	h.cancel()
	// Fetches finishing now will see quit closed and drop their result.
	h.wg.Wait()

	h.accounts.fail(ErrBackendClosed)
	h.storage.fail(ErrBackendClosed)
	h.hashes.fail(ErrBackendClosed)

	h.source.Close()
	h.err = h.db.Close()
	if h.err != nil {
		h.log.Error("Failed to flush fork cache", "err", h.err)
	}
	close(h.term)
}

func (h *Handler) handle(req interface{}) {
	switch req := req.(type) {
	case *accountReq:
		if acc, ok := h.db.Account(req.addr); ok {
			req.reply <- result[*AccountInfo]{val: acc}
			return
		}
		if !h.accounts.add(req.addr, req.reply) {
			dedupMeter.Mark(1)
			return
		}
		h.fetchAccount(req.addr)

	case *storageReq:
		if value, ok := h.db.Storage(req.addr, req.slot); ok {
			req.reply <- result[*uint256.Int]{val: value}
			return
		}
		key := slotKey{req.addr, req.slot}
		if !h.storage.add(key, req.reply) {
			dedupMeter.Mark(1)
			return
		}
		h.fetchStorage(key)

	case *blockHashReq:
		if hash, ok := h.db.BlockHash(req.number); ok {
			req.reply <- result[common.Hash]{val: hash}
			return
		}
		if !h.hashes.add(req.number, req.reply) {
			dedupMeter.Mark(1)
			return
		}
		h.fetchBlockHash(req.number)

	case *fullBlockReq:
		if block, ok := h.blocks.Get(req.number); ok {
			req.reply <- result[*types.Block]{val: block}
			return
		}
		h.fetchBlock(req)

	case *txReq:
		if tx, ok := h.txs.Get(req.hash); ok {
			req.reply <- result[*types.Transaction]{val: tx}
			return
		}
		h.fetchTransaction(req)

	case *pinReq:
		h.log.Debug("Pinning fork backend", "number", req.number)
		h.pinned = req.number
		close(req.reply)

	default:
		h.log.Error("Unknown fork backend request", "type", fmt.Sprintf("%T", req))
	}
}

// spawn runs a fetch in its own goroutine and hands the closure it returns
// back to the loop.
func (h *Handler) spawn(fetch func(ctx context.Context) func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		done := fetch(h.ctx)
		select {
		case h.fetched <- done:
		case <-h.quit:
		}
	}()
}

func (h *Handler) number() *big.Int {
	return new(big.Int).SetUint64(h.pinned)
}

func (h *Handler) fetchAccount(addr common.Address) {
	fetchAccountMeter.Mark(1)
	number := h.number()

	h.spawn(func(ctx context.Context) func() {
		var (
			balance *big.Int
			nonce   uint64
			code    []byte
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			balance, err = h.source.BalanceAt(gctx, addr, number)
			return err
		})
		g.Go(func() (err error) {
			nonce, err = h.source.NonceAt(gctx, addr, number)
			return err
		})
		g.Go(func() (err error) {
			code, err = h.source.CodeAt(gctx, addr, number)
			return err
		})
		err := g.Wait()

		return func() {
			if err != nil {
				fetchFailMeter.Mark(1)
				h.log.Debug("Failed to fetch account", "addr", addr, "err", err)
				h.accounts.deliver(addr, nil, fmt.Errorf("failed to get account %s: %w", addr, err))
				return
			}
			acc := &AccountInfo{
				Balance:  uint256.MustFromBig(balance),
				Nonce:    nonce,
				CodeHash: types.EmptyCodeHash,
				Code:     code,
			}
			if len(code) > 0 {
				acc.CodeHash = crypto.Keccak256Hash(code)
			}
			h.db.SetAccount(addr, acc)

			for _, ch := range h.accounts[addr] {
				ch <- result[*AccountInfo]{val: acc.Copy()}
			}
			delete(h.accounts, addr)
		}
	})
}

func (h *Handler) fetchStorage(key slotKey) {
	fetchStorageMeter.Mark(1)
	number := h.number()

	h.spawn(func(ctx context.Context) func() {
		enc, err := h.source.StorageAt(ctx, key.addr, key.slot, number)
		return func() {
			if err != nil {
				fetchFailMeter.Mark(1)
				h.storage.deliver(key, nil, fmt.Errorf("failed to get storage %s/%s: %w", key.addr, key.slot, err))
				return
			}
			value := new(uint256.Int).SetBytes(enc)
			h.db.SetStorage(key.addr, key.slot, value)

			for _, ch := range h.storage[key] {
				ch <- result[*uint256.Int]{val: new(uint256.Int).Set(value)}
			}
			delete(h.storage, key)
		}
	})
}

func (h *Handler) fetchBlockHash(number uint64) {
	fetchBlockHashMeter.Mark(1)

	h.spawn(func(ctx context.Context) func() {
		block, err := h.source.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return func() {
			var hash common.Hash
			switch {
			case errors.Is(err, ethereum.NotFound):
				// A block that does not exist hashes to the empty code hash.
				h.log.Warn("Fork block not found", "number", number)
				hash = types.EmptyCodeHash
			case err != nil:
				fetchFailMeter.Mark(1)
				h.hashes.deliver(number, common.Hash{}, fmt.Errorf("failed to get block hash %d: %w", number, err))
				return
			default:
				hash = block.Hash()
				h.blocks.Add(number, block)
			}
			h.db.SetBlockHash(number, hash)
			h.hashes.deliver(number, hash, nil)
		}
	})
}

// fetchBlock retrieves a full block. Blocks are not persisted, concurrent
// requests for the same block are rare enough to not be deduplicated.
func (h *Handler) fetchBlock(req *fullBlockReq) {
	fetchBlockMeter.Mark(1)

	h.spawn(func(ctx context.Context) func() {
		block, err := h.source.BlockByNumber(ctx, new(big.Int).SetUint64(req.number))
		return func() {
			if errors.Is(err, ethereum.NotFound) {
				req.reply <- result[*types.Block]{err: fmt.Errorf("%w: %d", remote.ErrBlockNotFound, req.number)}
				return
			}
			if err != nil {
				fetchFailMeter.Mark(1)
				req.reply <- result[*types.Block]{err: fmt.Errorf("failed to get block %d: %w", req.number, err)}
				return
			}
			h.blocks.Add(req.number, block)
			req.reply <- result[*types.Block]{val: block}
		}
	})
}

func (h *Handler) fetchTransaction(req *txReq) {
	fetchTxMeter.Mark(1)

	h.spawn(func(ctx context.Context) func() {
		tx, _, err := h.source.TransactionByHash(ctx, req.hash)
		return func() {
			if err != nil {
				fetchFailMeter.Mark(1)
				req.reply <- result[*types.Transaction]{err: fmt.Errorf("failed to get transaction %s: %w", req.hash, err)}
				return
			}
			h.txs.Add(req.hash, tx)
			req.reply <- result[*types.Transaction]{val: tx}
		}
	})
}
