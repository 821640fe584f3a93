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

package remote

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// latestWalkBack is how many blocks the resolver is willing to step back from
// the reported head when the head block is still pending.
// latestWalkBack 是当链头区块仍处于 pending 状态时，解析器最多向前回退的区块数。
const latestWalkBack = 2

// ErrBlockNotFound is returned if the remote endpoint does not know the block a
// fork was requested at.
var ErrBlockNotFound = errors.New("fork block not found")

// Environment is the set of chain parameters resolved from the remote endpoint
// at the block a fork is pinned to. It is immutable once a fork is created.
// Environment 是在分叉固定的区块上从远程端点解析出的链参数集合，分叉创建后不可变。
type Environment struct {
	ChainID    uint64         `json:"chainId"`
	Number     uint64         `json:"number"`
	Hash       common.Hash    `json:"hash"`
	Timestamp  uint64         `json:"timestamp"`
	GasLimit   uint64         `json:"gasLimit"`
	BaseFee    *big.Int       `json:"baseFee"`  // nil before London
	GasPrice   *big.Int       `json:"gasPrice"` // eth_gasPrice at resolution time
	Coinbase   common.Address `json:"coinbase"`
	Difficulty *big.Int       `json:"difficulty"`
	PrevRandao common.Hash    `json:"prevRandao"`
}

// ResolveEnvironment queries the chain id, the gas price and the header of the
// requested block. A nil block means the latest block that is no longer pending.
// ResolveEnvironment 查询链 ID、Gas 价格以及所请求区块的区块头。block 为 nil 表示最新的非 pending 区块。
func (p *Provider) ResolveEnvironment(ctx context.Context, block *uint64) (Environment, error) {
	chainID, err := p.ChainID(ctx)
	if err != nil {
		return Environment{}, fmt.Errorf("failed to get chain id: %w", err)
	}
	gasPrice, err := p.SuggestGasPrice(ctx)
	if err != nil {
		return Environment{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	var number uint64
	if block != nil {
		number = *block
	} else {
		if number, err = p.findLatestForkBlock(ctx); err != nil {
			return Environment{}, fmt.Errorf("failed to get latest block: %w", err)
		}
	}
	header, err := p.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return Environment{}, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}
	if err != nil {
		return Environment{}, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	env := Environment{
		ChainID:    chainID.Uint64(),
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		Timestamp:  header.Time,
		GasLimit:   header.GasLimit,
		BaseFee:    header.BaseFee,
		GasPrice:   gasPrice,
		Coinbase:   header.Coinbase,
		Difficulty: header.Difficulty,
		PrevRandao: header.MixDigest,
	}
	p.log.Debug("Resolved fork environment", "chainid", env.ChainID, "number", env.Number, "hash", env.Hash)
	return env, nil
}

// findLatestForkBlock picks the head block number, stepping back while the
// block at that height has no hash yet (i.e. it is still pending on the node).
// findLatestForkBlock 选取链头区块号；如果该高度的区块还没有哈希（即节点上仍为 pending），则向前回退。
func (p *Provider) findLatestForkBlock(ctx context.Context) (uint64, error) {
	num, err := p.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	for i := 0; i < latestWalkBack; i++ {
		var head struct {
			Hash *common.Hash `json:"hash"`
		}
		err := p.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(num), false)
		if err == nil && head.Hash != nil && *head.Hash != (common.Hash{}) {
			break
		}
		// Block not actually sealed yet, try the one before
		if num == 0 {
			break
		}
		num--
	}
	return num, nil
}
