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
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/forkdb/fork/remote"
)

const (
	defaultWait  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
)

var (
	testAddr = common.HexToAddress("0x71562b71999873db5b286df957af199ec94617f7")
	testCode = []byte{0x60, 0x00, 0x60, 0x00, 0xfd}
	testSlot = common.HexToHash("0x02")
)

// testSource is a remote chain answering from memory and counting calls.
type testSource struct {
	gate chan struct{} // if set, account fetches wait for it to be closed

	mu      sync.Mutex
	err     error
	numbers []uint64 // block numbers state was requested at

	balanceCalls atomic.Int32
	storageCalls atomic.Int32
	blockCalls   atomic.Int32
	closed       atomic.Bool
}

func (s *testSource) record(number *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers = append(s.numbers, number.Uint64())
	return s.err
}

func (s *testSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *testSource) lastNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numbers[len(s.numbers)-1]
}

func (s *testSource) BalanceAt(ctx context.Context, account common.Address, number *big.Int) (*big.Int, error) {
	s.balanceCalls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if err := s.record(number); err != nil {
		return nil, err
	}
	return big.NewInt(1_000_000), nil
}

func (s *testSource) NonceAt(ctx context.Context, account common.Address, number *big.Int) (uint64, error) {
	return 7, nil
}

func (s *testSource) CodeAt(ctx context.Context, account common.Address, number *big.Int) ([]byte, error) {
	return testCode, nil
}

func (s *testSource) StorageAt(ctx context.Context, account common.Address, key common.Hash, number *big.Int) ([]byte, error) {
	s.storageCalls.Add(1)
	if err := s.record(number); err != nil {
		return nil, err
	}
	return common.BigToHash(big.NewInt(42)).Bytes(), nil
}

func (s *testSource) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	s.blockCalls.Add(1)
	if number.Uint64() > 1000 {
		return nil, ethereum.NotFound
	}
	return types.NewBlockWithHeader(&types.Header{Number: number, Difficulty: common.Big0}), nil
}

func (s *testSource) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (s *testSource) Close() {
	s.closed.Store(true)
}

func testMeta(hash common.Hash, url string) *Meta {
	return NewMeta(remote.Environment{ChainID: 1, Number: 100, Hash: hash, Timestamp: 1234}, url)
}

// newTestBackend creates a running backend on top of the given store.
func newTestBackend(t *testing.T, source *testSource, meta *Meta, store *Store) *SharedBackend {
	t.Helper()

	db, err := NewBlockchainDb(meta, store, 1024*1024)
	require.NoError(t, err)

	b, h := New(source, remote.Environment{ChainID: meta.ChainID, Number: meta.BlockNumber}, db)
	go h.Run()
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBasicDeduplicatesFetches(t *testing.T) {
	source := &testSource{gate: make(chan struct{})}
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)

	var (
		wg      sync.WaitGroup
		results = make([]*AccountInfo, 8)
		errs    = make([]error, 8)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Basic(context.Background(), testAddr)
		}(i)
	}
	require.Eventually(t, func() bool { return source.balanceCalls.Load() == 1 }, defaultWait, pollInterval)
	close(source.gate)
	wg.Wait()

	assert.Equal(t, int32(1), source.balanceCalls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, uint64(1_000_000), results[i].Balance.Uint64())
		assert.Equal(t, uint64(7), results[i].Nonce)
		assert.Equal(t, testCode, results[i].Code)
		assert.Equal(t, crypto.Keccak256Hash(testCode), results[i].CodeHash)
	}
	// Callers get independent copies.
	results[0].Balance.SetUint64(1)
	assert.Equal(t, uint64(1_000_000), results[1].Balance.Uint64())
}

func TestStorageServedFromCache(t *testing.T) {
	source := new(testSource)
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)

	for i := 0; i < 3; i++ {
		value, err := b.Storage(context.Background(), testAddr, testSlot)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), value.Uint64())
	}
	assert.Equal(t, int32(1), source.storageCalls.Load())
	assert.Equal(t, 1, b.Stats().Storage)
}

func TestBlockHash(t *testing.T) {
	source := new(testSource)
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)

	hash, err := b.BlockHash(context.Background(), 99)
	require.NoError(t, err)
	want := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(99), Difficulty: common.Big0}).Hash()
	assert.Equal(t, want, hash)

	// Unknown blocks hash to the empty code hash.
	hash, err = b.BlockHash(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, types.EmptyCodeHash, hash)

	// The full block of a resolved hash is served from memory.
	block, err := b.FullBlock(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, want, block.Hash())
	assert.Equal(t, int32(2), source.blockCalls.Load())

	_, err = b.FullBlock(context.Background(), 5000)
	require.ErrorIs(t, err, remote.ErrBlockNotFound)
}

func TestFetchErrorNotCached(t *testing.T) {
	source := new(testSource)
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)

	failure := errors.New("connection refused")
	source.setErr(failure)
	_, err := b.Storage(context.Background(), testAddr, testSlot)
	require.ErrorIs(t, err, failure)

	source.setErr(nil)
	value, err := b.Storage(context.Background(), testAddr, testSlot)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), value.Uint64())
	assert.Equal(t, int32(2), source.storageCalls.Load())
}

func TestSetPinnedBlock(t *testing.T) {
	source := new(testSource)
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)

	_, err := b.Storage(context.Background(), testAddr, testSlot)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), source.lastNumber())

	require.NoError(t, b.SetPinnedBlock(context.Background(), 50))
	_, err = b.Basic(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), source.lastNumber())
}

func TestClosedBackend(t *testing.T) {
	source := new(testSource)
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, source.closed.Load())

	_, err := b.Basic(context.Background(), testAddr)
	require.ErrorIs(t, err, ErrBackendClosed)
	_, err = b.FullBlock(context.Background(), 1)
	require.ErrorIs(t, err, ErrBackendClosed)
	require.ErrorIs(t, b.SetPinnedBlock(context.Background(), 1), ErrBackendClosed)
}

func TestCloseBeforeRun(t *testing.T) {
	source := new(testSource)
	db, err := NewBlockchainDb(testMeta(common.Hash{1}, ""), nil, 0)
	require.NoError(t, err)

	b, h := New(source, remote.Environment{}, db)
	require.NoError(t, b.Close())
	h.Run() // returns immediately

	_, err = b.Storage(context.Background(), testAddr, testSlot)
	require.ErrorIs(t, err, ErrBackendClosed)
	assert.True(t, source.closed.Load())
}

func TestFullBlockAndTransaction(t *testing.T) {
	source := new(testSource)
	b := newTestBackend(t, source, testMeta(common.Hash{1}, ""), nil)
	ctx := context.Background()

	block, err := b.FullBlock(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), block.NumberU64())

	again, err := b.FullBlock(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, block.Hash(), again.Hash())
	assert.Equal(t, int32(1), source.blockCalls.Load(), "second lookup must be served from memory")

	_, err = b.FullBlock(ctx, 2000)
	assert.ErrorIs(t, err, remote.ErrBlockNotFound)

	_, err = b.Transaction(ctx, common.Hash{0xaa})
	assert.ErrorIs(t, err, ethereum.NotFound)
}
