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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"
)

// CachePath returns the directory caching the state of a chain at a block.
// CachePath 返回缓存某条链在某个区块状态的目录。
func CachePath(root string, chainID, number uint64) string {
	return filepath.Join(root, strconv.FormatUint(chainID, 10), strconv.FormatUint(number, 10))
}

// CacheInfo describes one on-disk fork cache.
type CacheInfo struct {
	ChainID uint64
	Block   uint64
	Path    string
	Size    common.StorageSize
	InUse   bool // whether a running process holds the cache open
}

// ListCaches returns the fork caches found under root, ordered by chain and
// block. A missing root holds no caches.
// ListCaches 返回 root 下找到的分叉缓存，按链和区块排序。不存在的 root 不包含任何缓存。
func ListCaches(root string) ([]CacheInfo, error) {
	chains, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var caches []CacheInfo
	for _, chain := range chains {
		chainID, err := strconv.ParseUint(chain.Name(), 10, 64)
		if err != nil || !chain.IsDir() {
			continue
		}
		blocks, err := os.ReadDir(filepath.Join(root, chain.Name()))
		if err != nil {
			return nil, err
		}
		for _, block := range blocks {
			number, err := strconv.ParseUint(block.Name(), 10, 64)
			if err != nil || !block.IsDir() {
				continue
			}
			path := CachePath(root, chainID, number)
			size, err := dirSize(path)
			if err != nil {
				return nil, err
			}
			caches = append(caches, CacheInfo{
				ChainID: chainID,
				Block:   number,
				Path:    path,
				Size:    common.StorageSize(size),
				InUse:   inUse(path),
			})
		}
	}
	sort.Slice(caches, func(i, j int) bool {
		if caches[i].ChainID != caches[j].ChainID {
			return caches[i].ChainID < caches[j].ChainID
		}
		return caches[i].Block < caches[j].Block
	})
	return caches, nil
}

// RemoveCache deletes a fork cache unless it is in use.
// RemoveCache 删除一个分叉缓存，除非它正在被使用。
func RemoveCache(path string) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrCacheInUse, path)
	}
	defer os.Remove(path + ".lock")
	defer lock.Unlock()

	return os.RemoveAll(path)
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

func inUse(path string) bool {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return true
	}
	lock.Unlock()
	return false
}
