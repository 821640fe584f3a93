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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/sunyihoo/forkdb/fork/remote"
)

// Meta describes the chain state a cache was populated from. A cache is only
// reused by a fork resolving to the same chain, block number and block hash.
// Meta 描述了缓存数据来源的链状态。只有解析到相同链、区块号和区块哈希的分叉才会复用该缓存。
type Meta struct {
	ChainID     uint64
	BlockNumber uint64
	BlockHash   common.Hash
	Timestamp   uint64

	// Hosts are the endpoint hosts that contributed to the cache. Only the host
	// is kept, urls often carry api keys.
	// Hosts 是为缓存贡献过数据的端点主机。只保存主机部分，因为 URL 常常携带 API 密钥。
	Hosts mapset.Set[string]
}

// metaJSON is the on-disk representation of Meta.
type metaJSON struct {
	ChainID     uint64      `json:"chainId"`
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
	Timestamp   uint64      `json:"timestamp"`
	Hosts       []string    `json:"hosts"`
}

// NewMeta creates the metadata of a fork pinned at the given environment.
func NewMeta(env remote.Environment, url string) *Meta {
	hosts := mapset.NewSet[string]()
	if url != "" {
		hosts.Add(remote.Host(url))
	}
	return &Meta{
		ChainID:     env.ChainID,
		BlockNumber: env.Number,
		BlockHash:   env.Hash,
		Timestamp:   env.Timestamp,
		Hosts:       hosts,
	}
}

// Compatible reports whether data cached under other can serve this fork.
// Compatible 报告在 other 下缓存的数据是否可以服务于当前分叉。
func (m *Meta) Compatible(other *Meta) bool {
	return m.ChainID == other.ChainID && m.BlockNumber == other.BlockNumber && m.BlockHash == other.BlockHash
}

// HostList returns the sorted contributing hosts.
func (m *Meta) HostList() []string {
	if m.Hosts == nil {
		return nil
	}
	hosts := m.Hosts.ToSlice()
	sort.Strings(hosts)
	return hosts
}

// Copy returns a deep copy of the metadata.
func (m *Meta) Copy() *Meta {
	cpy := *m
	cpy.Hosts = mapset.NewSet[string](m.HostList()...)
	return &cpy
}

// MarshalJSON implements json.Marshaler.
func (m *Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(metaJSON{
		ChainID:     m.ChainID,
		BlockNumber: m.BlockNumber,
		BlockHash:   m.BlockHash,
		Timestamp:   m.Timestamp,
		Hosts:       m.HostList(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Meta) UnmarshalJSON(input []byte) error {
	var dec metaJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	m.ChainID = dec.ChainID
	m.BlockNumber = dec.BlockNumber
	m.BlockHash = dec.BlockHash
	m.Timestamp = dec.Timestamp
	m.Hosts = mapset.NewSet[string](dec.Hosts...)
	return nil
}

// ReadMeta reads the metadata stored in a fork cache. A cache without metadata
// yields nil.
// ReadMeta 读取存储在分叉缓存中的元数据。没有元数据的缓存返回 nil。
func ReadMeta(db ethdb.KeyValueReader) (*Meta, error) {
	if has, err := db.Has(metaKey); err != nil || !has {
		return nil, err
	}
	blob, err := db.Get(metaKey)
	if err != nil {
		return nil, err
	}
	meta := new(Meta)
	if err := json.Unmarshal(blob, meta); err != nil {
		return nil, err
	}
	return meta, nil
}
