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
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/forkdb/fork/backend"
)

// shutdownGuard is shared by all clones of a handle. When the last clone is
// closed it shuts the manager down and stops it from accepting requests.
// shutdownGuard 由一个 Handle 的所有克隆共享。当最后一个克隆关闭时，它关闭管理器并使其停止接受请求。
type shutdownGuard struct {
	m    *MultiFork
	refs atomic.Int64
	once sync.Once
}

// acquire takes a reference, failing once the count dropped to zero and the
// manager is being torn down.
func (g *shutdownGuard) acquire() bool {
	for {
		n := g.refs.Load()
		if n == 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (g *shutdownGuard) release() {
	if g.refs.Add(-1) == 0 {
		g.once.Do(g.teardown)
	}
}

// teardown requests a shutdown, waiting for it to be acknowledged, and then
// closes the inbound side of the manager. A manager that already terminated is
// left alone.
func (g *shutdownGuard) teardown() {
	reply := make(chan struct{})
	select {
	case g.m.requests <- &shutdownReq{reply: reply}:
		select {
		case <-reply:
		case <-g.m.term:
		}
	case <-g.m.term:
		log.Debug("Fork manager already terminated")
	}
	close(g.m.stop)
}

// Handle is a client of the fork manager. Handles are safe for concurrent use
// and cheap to clone. Every clone has to be closed, the manager shuts down when
// the last one is.
//
// Handle 是分叉管理器的客户端。Handle 可以安全地并发使用，并且克隆的开销很小。
// 每个克隆都必须关闭，最后一个克隆关闭时管理器随之关闭。
type Handle struct {
	m      *MultiFork
	guard  *shutdownGuard
	closed atomic.Bool
}

func newHandle(m *MultiFork) *Handle {
	guard := &shutdownGuard{m: m}
	guard.refs.Store(1)
	return &Handle{m: m, guard: guard}
}

// Clone returns a new handle to the same manager. Cloning a closed handle
// returns a closed handle.
// Clone 返回指向同一管理器的新 Handle。克隆已关闭的 Handle 会返回一个已关闭的 Handle。
func (h *Handle) Clone() *Handle {
	clone := &Handle{m: h.m, guard: h.guard}
	if h.closed.Load() || !h.guard.acquire() {
		clone.closed.Store(true)
	}
	return clone
}

// Close releases the handle. Closing the last handle shuts the manager down,
// flushing the caches of all forks, and blocks until that is done. Close is
// idempotent.
// Close 释放该 Handle。关闭最后一个 Handle 会关闭管理器（刷新所有分叉的缓存），并阻塞直到完成。Close 是幂等的。
func (h *Handle) Close() {
	if h.closed.CompareAndSwap(false, true) {
		h.guard.release()
	}
}

// send delivers a request to the manager.
func (h *Handle) send(ctx context.Context, req interface{}) error {
	if h.closed.Load() {
		return ErrUnavailable
	}
	select {
	case h.m.requests <- req:
		return nil
	case <-h.m.stop:
		return ErrUnavailable
	case <-h.m.term:
		return ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait blocks until the manager replies. A manager terminating without a reply
// results in ErrUnavailable.
func wait[T any](ctx context.Context, m *MultiFork, reply chan T) (T, error) {
	var zero T
	select {
	case res := <-reply:
		return res, nil
	case <-m.term:
		select {
		case res := <-reply:
			return res, nil
		default:
			return zero, ErrUnavailable
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// request sends a request and waits for the reply.
func request[T any](ctx context.Context, h *Handle, req interface{}, reply chan T) (T, error) {
	if err := h.send(ctx, req); err != nil {
		var zero T
		return zero, err
	}
	return wait(ctx, h.m, reply)
}

// CreateFork returns the fork described by spec, creating it if it does not
// exist yet. Concurrent calls for the same fork share one creation. The
// context only bounds how long the caller waits, an abandoned creation still
// completes for the other waiters.
//
// CreateFork 返回 spec 描述的分叉，如果不存在则创建它。对同一分叉的并发调用共享一次创建。
// context 只限制调用方等待的时间，被放弃等待的创建仍会为其他等待者完成。
func (h *Handle) CreateFork(ctx context.Context, spec CreateFork) (ForkID, *backend.SharedBackend, Environment, error) {
	reply := make(chan createResult, 1)
	res, err := request(ctx, h, &createForkReq{spec: spec, reply: reply}, reply)
	if err == nil {
		err = res.err
	}
	if err != nil {
		return "", nil, Environment{}, err
	}
	return res.id, res.backend, res.env, nil
}

// RollFork creates a fork of the same endpoint and settings as an existing
// fork, pinned at another block. The existing fork is left untouched.
// RollFork 以已有分叉相同的端点和设置创建一个固定在另一区块的分叉，已有分叉保持不变。
func (h *Handle) RollFork(ctx context.Context, id ForkID, block uint64) (ForkID, *backend.SharedBackend, Environment, error) {
	reply := make(chan createResult, 1)
	res, err := request(ctx, h, &rollForkReq{id: id, block: block, reply: reply}, reply)
	if err == nil {
		err = res.err
	}
	if err != nil {
		return "", nil, Environment{}, err
	}
	return res.id, res.backend, res.env, nil
}

// GetFork returns the backend of a fork.
// GetFork 返回分叉的后端。
func (h *Handle) GetFork(id ForkID) (*backend.SharedBackend, bool, error) {
	reply := make(chan *backend.SharedBackend, 1)
	b, err := request(context.Background(), h, &getForkReq{id: id, reply: reply}, reply)
	if err != nil {
		return nil, false, err
	}
	return b, b != nil, nil
}

// GetEnv returns the environment of a fork.
// GetEnv 返回分叉的环境。
func (h *Handle) GetEnv(id ForkID) (Environment, bool, error) {
	reply := make(chan lookup[Environment], 1)
	res, err := request(context.Background(), h, &getEnvReq{id: id, reply: reply}, reply)
	return res.val, res.ok, err
}

// GetForkURL returns the endpoint of a fork.
// GetForkURL 返回分叉的端点。
func (h *Handle) GetForkURL(id ForkID) (string, bool, error) {
	reply := make(chan lookup[string], 1)
	res, err := request(context.Background(), h, &getForkURLReq{id: id, reply: reply}, reply)
	return res.val, res.ok, err
}

// Forks lists the forks known to the manager.
func (h *Handle) Forks() ([]ForkInfo, error) {
	reply := make(chan []ForkInfo, 1)
	return request(context.Background(), h, &listForksReq{reply: reply}, reply)
}

// Stats returns a snapshot of the manager state.
func (h *Handle) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	return request(context.Background(), h, &statsReq{reply: reply}, reply)
}

// Shutdown stops all forks, flushing their caches, and forgets them. Creations
// in flight fail with ErrShutdown. The manager keeps serving requests, forks
// requested afterwards are created anew.
//
// Shutdown 停止所有分叉（刷新它们的缓存）并丢弃它们。进行中的创建以 ErrShutdown 失败。
// 管理器继续处理请求，之后请求的分叉会被重新创建。
func (h *Handle) Shutdown(ctx context.Context) error {
	reply := make(chan struct{})
	if err := h.send(ctx, &shutdownReq{reply: reply}); err != nil {
		return err
	}
	_, err := wait(ctx, h.m, reply)
	return err
}

// SubscribeForkEvents registers a subscription for fork creations. Events are
// delivered asynchronously and are not ordered with respect to each other. A
// subscriber that stops reading never delays the manager.
// SubscribeForkEvents 注册分叉创建事件的订阅。事件异步投递，彼此之间无顺序保证；
// 停止读取的订阅者不会拖慢管理器。
func (h *Handle) SubscribeForkEvents(ch chan<- NewForkEvent) event.Subscription {
	return h.m.scope.Track(h.m.feed.Subscribe(ch))
}
