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
	"encoding/json"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	cacheCleanHitMeter  = metrics.NewRegisteredMeter("fork/cache/clean/hit", nil)
	cacheCleanMissMeter = metrics.NewRegisteredMeter("fork/cache/clean/miss", nil)
	cacheDirtyHitMeter  = metrics.NewRegisteredMeter("fork/cache/dirty/hit", nil)
	cacheDiskHitMeter   = metrics.NewRegisteredMeter("fork/cache/disk/hit", nil)

	cacheFlushTimeTimer    = metrics.NewRegisteredResettingTimer("fork/cache/flush/time", nil)
	cacheFlushEntriesMeter = metrics.NewRegisteredMeter("fork/cache/flush/entries", nil)
	cacheFlushBytesMeter   = metrics.NewRegisteredMeter("fork/cache/flush/bytes", nil)
)

// AccountInfo is the basic account data fetched from the remote chain.
// AccountInfo 是从远程链获取的账户基本数据。
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

// Copy returns a deep copy of the account.
func (a *AccountInfo) Copy() *AccountInfo {
	cpy := &AccountInfo{
		Nonce:    a.Nonce,
		CodeHash: a.CodeHash,
		Code:     common.CopyBytes(a.Code),
	}
	if a.Balance != nil {
		cpy.Balance = new(uint256.Int).Set(a.Balance)
	}
	return cpy
}

// DbStats counts the entries held in memory.
type DbStats struct {
	Accounts    int    // Dirty accounts not yet flushed 未刷新的脏账户数
	Storage     int    // Dirty storage slots not yet flushed 未刷新的脏存储槽数
	BlockHashes int    // Dirty block hashes not yet flushed 未刷新的脏区块哈希数
	CleanBytes  uint64 // Size of the clean cache 干净缓存的大小
}

// BlockchainDb is the layered cache of the state fetched from the remote chain.
// Fresh entries live in dirty maps until the next flush writes them to the
// store and moves them into the clean cache. A db without a store keeps
// everything in memory for the lifetime of the fork.
//
// BlockchainDb 是从远程链获取的状态的分层缓存。新条目保存在脏映射中，直到下一次刷新
// 将其写入存储并移入干净缓存。没有存储的 db 会在分叉的整个生命周期内将所有内容保存在内存中。
type BlockchainDb struct {
	meta   *Meta
	store  *Store           // nil if the fork is not persisted
	cleans *fastcache.Cache // GC friendly memory cache of flushed entries

	lock     sync.RWMutex
	accounts map[common.Address]*AccountInfo
	storage  map[common.Address]map[common.Hash]uint256.Int
	hashes   map[uint64]common.Hash
	closed   bool

	log log.Logger
}

// NewBlockchainDb creates the cache of a fork. If a store is given, data cached
// by an earlier run is reused when its metadata matches, and discarded
// otherwise. cleanSize is the clean cache allowance in bytes.
//
// NewBlockchainDb 创建分叉的缓存。如果给定了存储，则在其元数据匹配时复用之前运行缓存的数据，否则丢弃这些数据。
// cleanSize 是干净缓存的字节数上限。
func NewBlockchainDb(meta *Meta, store *Store, cleanSize int) (*BlockchainDb, error) {
	db := &BlockchainDb{
		meta:     meta,
		store:    store,
		accounts: make(map[common.Address]*AccountInfo),
		storage:  make(map[common.Address]map[common.Hash]uint256.Int),
		hashes:   make(map[uint64]common.Hash),
		log:      log.New("chainid", meta.ChainID, "block", meta.BlockNumber),
	}
	if store == nil {
		return db, nil
	}
	if cleanSize > 0 {
		db.cleans = fastcache.New(cleanSize)
	}
	if err := db.loadMeta(); err != nil {
		return nil, err
	}
	return db, nil
}

// loadMeta checks the metadata stored alongside the cache, wiping a cache that
// was populated from a different chain state.
func (db *BlockchainDb) loadMeta() error {
	stored, err := ReadMeta(db.store)
	switch {
	case err != nil:
		db.log.Warn("Discarding unreadable fork cache metadata", "path", db.store.Path(), "err", err)
		err = db.wipe()
	case stored == nil:
	case !db.meta.Compatible(stored):
		db.log.Warn("Discarding incompatible fork cache", "path", db.store.Path(),
			"chainid", stored.ChainID, "number", stored.BlockNumber, "hash", stored.BlockHash)
		err = db.wipe()
	default:
		db.meta.Hosts.Append(stored.HostList()...)
		db.log.Info("Loaded fork cache", "path", db.store.Path(), "hosts", len(db.meta.HostList()))
	}
	if err != nil {
		return err
	}
	return db.writeMeta(db.store)
}

// wipe deletes every entry of the store.
func (db *BlockchainDb) wipe() error {
	it := db.store.NewIterator(nil, nil)
	defer it.Release()

	batch := db.store.NewBatch()
	for it.Next() {
		if err := batch.Delete(it.Key()); err != nil {
			return err
		}
		if batch.ValueSize() >= ethdb.IdealBatchSize {
			if err := batch.Write(); err != nil {
				return err
			}
			batch.Reset()
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	return batch.Write()
}

func (db *BlockchainDb) writeMeta(w ethdb.KeyValueWriter) error {
	blob, err := json.Marshal(db.meta)
	if err != nil {
		return err
	}
	return w.Put(metaKey, blob)
}

// Meta returns the metadata of the cache.
func (db *BlockchainDb) Meta() *Meta {
	return db.meta
}

// Persistent reports whether the cache is backed by a store.
func (db *BlockchainDb) Persistent() bool {
	return db.store != nil
}

// readClean looks a key up in the clean cache, then in the store.
func (db *BlockchainDb) readClean(key []byte) ([]byte, bool) {
	if db.store == nil || db.closed {
		return nil, false
	}
	if db.cleans != nil {
		if enc := db.cleans.Get(nil, key); enc != nil {
			cacheCleanHitMeter.Mark(1)
			return enc, true
		}
		cacheCleanMissMeter.Mark(1)
	}
	enc, err := db.store.Get(key)
	if err != nil || len(enc) == 0 {
		return nil, false
	}
	cacheDiskHitMeter.Mark(1)
	if db.cleans != nil {
		db.cleans.Set(key, enc)
	}
	return enc, true
}

// Account retrieves a cached account.
// Account 检索缓存的账户。
func (db *BlockchainDb) Account(addr common.Address) (*AccountInfo, bool) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if acc, ok := db.accounts[addr]; ok {
		cacheDirtyHitMeter.Mark(1)
		return acc.Copy(), true
	}
	enc, ok := db.readClean(accountKey(addr))
	if !ok {
		return nil, false
	}
	acc := new(AccountInfo)
	if err := rlp.DecodeBytes(enc, acc); err != nil {
		db.log.Error("Invalid cached account", "addr", addr, "err", err)
		return nil, false
	}
	return acc, true
}

// SetAccount inserts a freshly fetched account.
func (db *BlockchainDb) SetAccount(addr common.Address, acc *AccountInfo) {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.accounts[addr] = acc.Copy()
}

// Storage retrieves a cached storage slot.
// Storage 检索缓存的存储槽。
func (db *BlockchainDb) Storage(addr common.Address, slot common.Hash) (*uint256.Int, bool) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if slots, ok := db.storage[addr]; ok {
		if value, ok := slots[slot]; ok {
			cacheDirtyHitMeter.Mark(1)
			return new(uint256.Int).Set(&value), true
		}
	}
	enc, ok := db.readClean(storageKey(addr, slot))
	if !ok {
		return nil, false
	}
	return new(uint256.Int).SetBytes(enc), true
}

// SetStorage inserts a freshly fetched storage slot.
func (db *BlockchainDb) SetStorage(addr common.Address, slot common.Hash, value *uint256.Int) {
	db.lock.Lock()
	defer db.lock.Unlock()

	slots, ok := db.storage[addr]
	if !ok {
		slots = make(map[common.Hash]uint256.Int)
		db.storage[addr] = slots
	}
	slots[slot] = *value
}

// BlockHash retrieves a cached block hash.
// BlockHash 检索缓存的区块哈希。
func (db *BlockchainDb) BlockHash(number uint64) (common.Hash, bool) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if hash, ok := db.hashes[number]; ok {
		cacheDirtyHitMeter.Mark(1)
		return hash, true
	}
	enc, ok := db.readClean(blockHashKey(number))
	if !ok {
		return common.Hash{}, false
	}
	return common.BytesToHash(enc), true
}

// SetBlockHash inserts a freshly fetched block hash.
func (db *BlockchainDb) SetBlockHash(number uint64, hash common.Hash) {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.hashes[number] = hash
}

// Stats returns the number of entries held in memory.
func (db *BlockchainDb) Stats() DbStats {
	db.lock.RLock()
	defer db.lock.RUnlock()

	stats := DbStats{
		Accounts:    len(db.accounts),
		BlockHashes: len(db.hashes),
	}
	for _, slots := range db.storage {
		stats.Storage += len(slots)
	}
	if db.cleans != nil {
		var s fastcache.Stats
		db.cleans.UpdateStats(&s)
		stats.CleanBytes = s.BytesSize
	}
	return stats
}

// Flush writes all dirty entries to the store in a single batch and moves them
// into the clean cache. It is a noop for a db without a store.
//
// Flush 将所有脏条目以单个批次写入存储，并将它们移入干净缓存。对于没有存储的 db，这是一个空操作。
func (db *BlockchainDb) Flush() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	return db.flush()
}

func (db *BlockchainDb) flush() error {
	if db.store == nil || db.closed {
		return nil
	}
	var (
		start   = time.Now()
		batch   = db.store.NewBatch()
		entries int
	)
	put := func(key, value []byte) error {
		entries++
		if db.cleans != nil {
			db.cleans.Set(key, value)
		}
		return batch.Put(key, value)
	}
	for addr, acc := range db.accounts {
		enc, err := rlp.EncodeToBytes(acc)
		if err != nil {
			return err
		}
		if err := put(accountKey(addr), enc); err != nil {
			return err
		}
	}
	for addr, slots := range db.storage {
		for slot, value := range slots {
			enc := value.Bytes32()
			if err := put(storageKey(addr, slot), enc[:]); err != nil {
				return err
			}
		}
	}
	for number, hash := range db.hashes {
		if err := put(blockHashKey(number), hash.Bytes()); err != nil {
			return err
		}
	}
	if err := db.writeMeta(batch); err != nil {
		return err
	}
	size := batch.ValueSize()
	if err := batch.Write(); err != nil {
		return err
	}
	db.accounts = make(map[common.Address]*AccountInfo)
	db.storage = make(map[common.Address]map[common.Hash]uint256.Int)
	db.hashes = make(map[uint64]common.Hash)

	cacheFlushTimeTimer.Update(time.Since(start))
	cacheFlushEntriesMeter.Mark(int64(entries))
	cacheFlushBytesMeter.Mark(int64(size))

	if entries > 0 {
		db.log.Debug("Flushed fork cache", "entries", entries, "size", common.StorageSize(size), "elapsed", common.PrettyDuration(time.Since(start)))
	}
	return nil
}

// Close flushes the remaining dirty entries and releases the store.
// Close 刷新剩余的脏条目并释放存储。
func (db *BlockchainDb) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return nil
	}
	err := db.flush()
	db.closed = true
	if db.cleans != nil {
		db.cleans.Reset()
	}
	if db.store != nil {
		if rerr := db.store.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
