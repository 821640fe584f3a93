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
	"math/big"
	"strconv"
	"strings"

	"github.com/sunyihoo/forkdb/fork/remote"
)

// Environment is the chain environment a fork was resolved at.
type Environment = remote.Environment

// ForkID identifies a fork by the endpoint and block it was requested at, in
// the form url@block or url@latest. The identity is derived from the request,
// not from what "latest" resolved to, so all requests for the latest block of
// an endpoint share one fork until it is rolled explicitly.
//
// ForkID 通过请求时的端点和区块标识一个分叉，格式为 url@block 或 url@latest。
// 标识来自请求本身，而不是 "latest" 解析出的结果，因此对某个端点最新区块的所有请求
// 都共享同一个分叉，直到显式滚动为止。
type ForkID string

// NewForkID creates the identifier of a fork of url at block. A nil block
// stands for the latest block.
func NewForkID(url string, block *uint64) ForkID {
	if block == nil {
		return ForkID(url + "@latest")
	}
	return ForkID(url + "@" + strconv.FormatUint(*block, 10))
}

// String implements fmt.Stringer.
func (id ForkID) String() string {
	return string(id)
}

// Redacted returns the identifier with the url reduced to its host, which is
// safe to print.
func (id ForkID) Redacted() string {
	s := string(id)
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return remote.Host(s)
	}
	return remote.Host(s[:at]) + s[at:]
}

// EnvOverrides replace parts of the environment resolved from the remote chain.
// Nil fields keep the resolved value.
// EnvOverrides 替换从远程链解析出的部分环境。nil 字段保留解析出的值。
type EnvOverrides struct {
	ChainID   *uint64
	GasLimit  *uint64
	GasPrice  *big.Int
	BaseFee   *big.Int
	Timestamp *uint64
}

func (o EnvOverrides) apply(env *Environment) {
	if o.ChainID != nil {
		env.ChainID = *o.ChainID
	}
	if o.GasLimit != nil {
		env.GasLimit = *o.GasLimit
	}
	if o.GasPrice != nil {
		env.GasPrice = new(big.Int).Set(o.GasPrice)
	}
	if o.BaseFee != nil {
		env.BaseFee = new(big.Int).Set(o.BaseFee)
	}
	if o.Timestamp != nil {
		env.Timestamp = *o.Timestamp
	}
}

// CreateFork is a request to fork the chain behind URL at Block.
// CreateFork 是在 Block 处分叉 URL 背后的链的请求。
type CreateFork struct {
	URL           string       // Endpoint of the remote chain 远程链的端点
	Block         *uint64      // Block to fork at, nil for the latest one 分叉的区块，nil 表示最新区块
	EnableCaching bool         // Whether fetched state is persisted on disk 是否将获取的状态持久化到磁盘
	Overrides     EnvOverrides // Changes applied to the resolved environment 应用于解析环境的修改

	// Env is the environment the fork was created with. It is filled in by the
	// manager and ignored in requests.
	// Env 是创建分叉时的环境，由管理器填充，在请求中被忽略。
	Env Environment
}

// ID returns the identifier of the requested fork.
func (c CreateFork) ID() ForkID {
	return NewForkID(c.URL, c.Block)
}

// withBlock returns a copy of the request pinned at another block.
func (c CreateFork) withBlock(number uint64) CreateFork {
	c.Block = &number
	c.Env = Environment{}
	return c
}
