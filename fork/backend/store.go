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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// Supported cache database engines.
const (
	EnginePebble  = "pebble"
	EngineLevelDB = "leveldb"
)

const (
	minStoreCache   = 16 // Minimum cache allowance (MB) of a single store
	minStoreHandles = 16 // Minimum number of open files of a single store
)

var (
	// ErrCacheInUse is returned if a cache directory is locked by another process.
	ErrCacheInUse = errors.New("fork cache in use")

	// ErrUnknownEngine is returned for an unsupported cache database engine.
	ErrUnknownEngine = errors.New("unknown fork cache engine")
)

// Store is a reference counted key-value database holding the cache of one
// chain and block. It is shared by every fork resolving to the same path.
// Store 是一个带引用计数的键值数据库，保存某条链某个区块的缓存。解析到同一路径的所有分叉共享它。
type Store struct {
	ethdb.KeyValueStore

	path string
	lock *flock.Flock // shared lock on <path>.lock, nil for memory stores
	reg  *Registry    // nil for stores not tracked by a registry
	refs int          // guarded by reg.lock
}

// NewMemoryStore creates a store that is never persisted. It is mostly used by
// tests.
func NewMemoryStore() *Store {
	return &Store{KeyValueStore: memorydb.New(), refs: 1}
}

// Path returns the directory backing the store, empty for memory stores.
func (s *Store) Path() string {
	return s.path
}

// Release drops a reference to the store, closing it with the last one.
// Release 释放对存储的一个引用，最后一个引用释放时关闭存储。
func (s *Store) Release() error {
	if s.reg == nil {
		return s.KeyValueStore.Close()
	}
	return s.reg.release(s)
}

// Registry keeps track of the on-disk stores opened by this process so that
// forks sharing a cache path share the database too.
// Registry 跟踪本进程打开的磁盘存储，使共享缓存路径的分叉也共享同一个数据库。
type Registry struct {
	engine string
	cache  int // cache allowance (MB) given to each store
	group  singleflight.Group

	lock   sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a store registry opening databases with the given
// engine and per-store cache allowance in megabytes.
func NewRegistry(engine string, cache int) (*Registry, error) {
	switch engine {
	case "":
		engine = EnginePebble
	case EnginePebble, EngineLevelDB:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	if cache < minStoreCache {
		cache = minStoreCache
	}
	return &Registry{
		engine: engine,
		cache:  cache,
		stores: make(map[string]*Store),
	}, nil
}

// Open returns the store at path, opening it if no fork uses it yet. Concurrent
// opens of the same path are collapsed into one.
// Open 返回位于 path 的存储；如果还没有分叉使用它则打开它。对同一路径的并发打开会被合并为一次。
func (r *Registry) Open(path string) (*Store, error) {
	path = filepath.Clean(path)
	for {
		if s := r.acquire(path); s != nil {
			return s, nil
		}
		_, err, _ := r.group.Do(path, func() (interface{}, error) {
			r.lock.Lock()
			_, ok := r.stores[path]
			r.lock.Unlock()
			if ok {
				return nil, nil
			}
			s, err := r.openStore(path)
			if err != nil {
				return nil, err
			}
			r.lock.Lock()
			r.stores[path] = s
			r.lock.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		// The store may have been released by a racing user between the open
		// and our acquire, in which case it is opened anew.
	}
}

// acquire takes a reference on an already open store.
func (r *Registry) acquire(path string) *Store {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.stores[path]
	if !ok {
		return nil
	}
	s.refs++
	return s
}

func (r *Registry) release(s *Store) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	// Close while holding the lock, a concurrent open of the same path must
	// not race the database's own directory lock.
	delete(r.stores, s.path)
	err := s.KeyValueStore.Close()
	if lerr := s.lock.Unlock(); lerr != nil && err == nil {
		err = lerr
	}
	log.Debug("Closed fork cache", "path", s.path, "err", err)
	return err
}

// openStore locks and opens the database at path.
func (r *Registry) openStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	// The engine locks the directory exclusively. The shared flock only marks
	// the cache as in use so that "cache clean" leaves it alone.
	lock := flock.New(path + ".lock")
	if locked, err := lock.TryRLock(); err != nil {
		return nil, err
	} else if !locked {
		return nil, fmt.Errorf("%w: %s", ErrCacheInUse, path)
	}
	var (
		db  ethdb.KeyValueStore
		err error
	)
	switch r.engine {
	case EngineLevelDB:
		db, err = leveldb.New(path, r.cache, minStoreHandles, "fork/cache/", false)
	default:
		db, err = pebble.New(path, r.cache, minStoreHandles, "fork/cache/", false, false)
	}
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open fork cache %s: %w", path, err)
	}
	log.Debug("Opened fork cache", "path", path, "engine", r.engine, "cache", r.cache)
	return &Store{KeyValueStore: db, path: path, lock: lock, reg: r}, nil
}

// Len returns the number of stores currently open.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.stores)
}
