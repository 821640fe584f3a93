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
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// The fields below define the low level database schema prefixing.
// 以下字段定义了底层数据库模式的前缀。
var (
	// metaKey tracks the chain and block the cache was populated from.
	metaKey = []byte("ForkCacheMeta")

	accountPrefix   = []byte("a") // accountPrefix + address -> RLP(AccountInfo)
	storagePrefix   = []byte("s") // storagePrefix + address + slot -> 32 byte value
	blockHashPrefix = []byte("h") // blockHashPrefix + num (uint64 big endian) -> hash
)

// encodeBlockNumber encodes a block number as big endian uint64
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// accountKey = accountPrefix + address
func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr.Bytes()...)
}

// storageKey = storagePrefix + address + slot
func storageKey(addr common.Address, slot common.Hash) []byte {
	buf := make([]byte, len(storagePrefix)+common.AddressLength+common.HashLength)
	n := copy(buf, storagePrefix)
	n += copy(buf[n:], addr.Bytes())
	copy(buf[n:], slot.Bytes())
	return buf
}

// blockHashKey = blockHashPrefix + num (uint64 big endian)
func blockHashKey(number uint64) []byte {
	return append(append([]byte{}, blockHashPrefix...), encodeBlockNumber(number)...)
}
