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

// Package fork implements the manager of the forks of remote chains served by
// a local development node.
//
// A single goroutine owns all forks. Clients talk to it through Handles, which
// can be cloned freely and are safe for concurrent use. Concurrent requests for
// the same fork are collapsed into one creation whose result is handed to every
// caller, and the background workers of all forks are kept running until the
// last Handle is closed.
//
// Package fork 实现了本地开发节点所服务的远程链分叉的管理器。
//
// 单个 goroutine 拥有所有分叉。客户端通过 Handle 与其通信，Handle 可以自由克隆并且可以安全地并发使用。
// 对同一分叉的并发请求会被合并为一次创建，其结果交给每个调用方；所有分叉的后台工作者会一直运行，
// 直到最后一个 Handle 被关闭。
package fork

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/forkdb/fork/backend"
)

// createdFork is a fork known to the manager.
type createdFork struct {
	spec    CreateFork // request with the resolved environment filled in
	backend *backend.SharedBackend

	// numSenders counts the replies that handed out the backend. It only ever
	// grows and is informational, forks are not evicted when unused. Callers
	// that stopped waiting before the creation finished are still counted,
	// their reply is buffered but never read.
	numSenders int
}

// pendingCreation is a creation in flight together with everyone waiting on it.
type pendingCreation struct {
	id      ForkID
	cancel  context.CancelFunc
	waiters []chan createResult // the first one triggered the creation
}

// MultiFork is the manager of all forks of a node. Its state is owned by the
// loop goroutine and only accessed through requests sent by Handles.
//
// MultiFork 是节点所有分叉的管理器。它的状态由 loop goroutine 独占，只能通过 Handle 发送的请求访问。
type MultiFork struct {
	config    Config
	connector Connector
	registry  *backend.Registry // nil if forks are never persisted

	requests   chan interface{}      // Requests from the handles
	stop       chan struct{}         // Closed when the last handle is gone
	term       chan struct{}         // Closed when the loop terminates
	created    chan *creation        // Results of the creation tasks
	workerExit chan *backend.Handler // Workers that stopped running

	forks   map[ForkID]*createdFork
	pending map[ForkID]*pendingCreation
	workers mapset.Set[*backend.Handler]

	ctx      context.Context // Parent of all creation tasks
	cancel   context.CancelFunc
	flushing atomic.Bool // Whether a periodic flush is running

	feed  event.FeedOf[NewForkEvent]
	scope event.SubscriptionScope
}

// Spawn starts a fork manager and returns the first handle to it. Further
// handles are obtained by cloning. A nil connector dials the endpoints with
// the remote settings of the config.
//
// Spawn 启动一个分叉管理器并返回它的第一个 Handle，后续的 Handle 通过克隆获得。
// connector 为 nil 时使用配置中的远程设置拨号端点。
func Spawn(config Config, connector Connector) (*Handle, error) {
	config = (&config).sanitize()
	if connector == nil {
		connector = RemoteConnector(config.Remote)
	}
	var registry *backend.Registry
	if config.CacheDir != "" {
		var err error
		if registry, err = backend.NewRegistry(config.CacheEngine, config.CacheMemory); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &MultiFork{
		config:     config,
		connector:  connector,
		registry:   registry,
		requests:   make(chan interface{}, config.RequestQueue),
		stop:       make(chan struct{}),
		term:       make(chan struct{}),
		created:    make(chan *creation),
		workerExit: make(chan *backend.Handler),
		forks:      make(map[ForkID]*createdFork),
		pending:    make(map[ForkID]*pendingCreation),
		workers:    mapset.NewThreadUnsafeSet[*backend.Handler](),
		ctx:        ctx,
		cancel:     cancel,
	}
	go m.loop()

	return newHandle(m), nil
}

// loop is the manager's event loop. It terminates once no handle is left and
// every worker has stopped.
// loop 是管理器的事件循环。当不再有 Handle 且所有工作者都已停止时终止。
func (m *MultiFork) loop() {
	defer close(m.term)
	defer m.scope.Close()
	defer m.cancel()

	var (
		requests = m.requests
		stop     = m.stop
		flush    = time.NewTicker(m.config.FlushInterval)
	)
	defer flush.Stop()

	for {
		select {
		case req := <-requests:
			m.handle(req)

		case <-stop:
			// No new requests will be accepted. Callers blocked on a queued
			// request are released by the termination.
			log.Debug("Fork manager has no handles left", "workers", m.workers.Cardinality())
			requests, stop = nil, nil

		case c := <-m.created:
			m.complete(c)

		case h := <-m.workerExit:
			m.workers.Remove(h)
			workersGauge.Update(int64(m.workers.Cardinality()))

		case <-flush.C:
			m.flushCaches()
		}
		if stop == nil && m.workers.Cardinality() == 0 {
			m.abandon(ErrUnavailable)
			log.Debug("Fork manager terminated")
			return
		}
	}
}

// handle serves a request of a handle. Every request is replied to.
func (m *MultiFork) handle(req interface{}) {
	switch req := req.(type) {
	case *createForkReq:
		m.createFork(req.spec, req.reply)

	case *rollForkReq:
		fork, ok := m.forks[req.id]
		if !ok {
			unknownMeter.Mark(1)
			req.reply <- createResult{err: ErrUnknownFork}
			return
		}
		m.createFork(fork.spec.withBlock(req.block), req.reply)

	case *getForkReq:
		if fork, ok := m.forks[req.id]; ok {
			req.reply <- fork.backend
		} else {
			req.reply <- nil
		}

	case *getEnvReq:
		fork, ok := m.forks[req.id]
		if ok {
			req.reply <- lookup[Environment]{val: fork.spec.Env, ok: true}
		} else {
			req.reply <- lookup[Environment]{}
		}

	case *getForkURLReq:
		fork, ok := m.forks[req.id]
		if ok {
			req.reply <- lookup[string]{val: fork.spec.URL, ok: true}
		} else {
			req.reply <- lookup[string]{}
		}

	case *listForksReq:
		forks := make([]ForkInfo, 0, len(m.forks))
		for id, fork := range m.forks {
			forks = append(forks, ForkInfo{
				ID:         id,
				URL:        fork.spec.URL,
				Env:        fork.spec.Env,
				Persistent: fork.backend.Persistent(),
				Senders:    fork.numSenders,
			})
		}
		req.reply <- forks

	case *statsReq:
		stats := Stats{
			Forks:   len(m.forks),
			Pending: len(m.pending),
			Workers: m.workers.Cardinality(),
		}
		for _, p := range m.pending {
			stats.Waiters += len(p.waiters)
		}
		req.reply <- stats

	case *shutdownReq:
		m.shutdown()
		close(req.reply)

	default:
		log.Error("Unknown fork manager request", "request", req)
	}
}

// createFork serves a fork request: from the existing forks, by joining the
// creation in flight or by starting a new creation.
// createFork 处理一个分叉请求：从已有分叉中返回、加入进行中的创建，或启动新的创建。
func (m *MultiFork) createFork(spec CreateFork, reply chan createResult) {
	id := spec.ID()

	if fork, ok := m.forks[id]; ok {
		reuseMeter.Mark(1)
		fork.numSenders++
		reply <- createResult{id: id, backend: fork.backend, env: fork.spec.Env}
		return
	}
	if p, ok := m.pending[id]; ok {
		waiterMeter.Mark(1)
		p.waiters = append(p.waiters, reply)
		return
	}
	createMeter.Mark(1)
	ctx, cancel := context.WithCancel(m.ctx)
	p := &pendingCreation{
		id:      id,
		cancel:  cancel,
		waiters: []chan createResult{reply},
	}
	m.pending[id] = p
	pendingGauge.Update(int64(len(m.pending)))

	go m.create(ctx, p, spec)
}

// complete hands the result of a creation task to all its waiters.
// complete 将创建任务的结果交给所有等待者。
func (m *MultiFork) complete(c *creation) {
	p := c.pending
	if m.pending[p.id] != p {
		// The creation was abandoned by a shutdown.
		log.Debug("Dropping abandoned fork", "id", p.id.Redacted(), "err", c.err)
		if c.handler != nil {
			go c.handler.Close()
		}
		return
	}
	delete(m.pending, p.id)
	pendingGauge.Update(int64(len(m.pending)))
	p.cancel()

	if c.err != nil {
		createFailMeter.Mark(1)
		log.Warn("Failed to create fork", "id", p.id.Redacted(), "waiters", len(p.waiters), "err", c.err)
		for _, reply := range p.waiters {
			reply <- createResult{err: c.err}
		}
		return
	}
	m.forks[p.id] = &createdFork{
		spec:       c.spec,
		backend:    c.backend,
		numSenders: len(p.waiters),
	}
	forksGauge.Update(int64(len(m.forks)))
	m.startWorker(c.handler)

	res := createResult{id: p.id, backend: c.backend, env: c.spec.Env}
	for _, reply := range p.waiters {
		reply <- res
	}
	// Subscribers are served off the loop, a slow reader must not stall it.
	// A blocked send is released when the subscription ends.
	ev := NewForkEvent{ID: p.id, Env: c.spec.Env, Backend: c.backend, Waiters: len(p.waiters)}
	go m.feed.Send(ev)
}

// startWorker drives a fork's background worker on its own goroutine.
func (m *MultiFork) startWorker(h *backend.Handler) {
	m.workers.Add(h)
	workersGauge.Update(int64(m.workers.Cardinality()))

	go func() {
		h.Run()
		select {
		case m.workerExit <- h:
		case <-m.term:
		}
	}()
}

// shutdown stops every worker, flushing their caches, and forgets all forks.
// Creations in flight are abandoned.
// shutdown 停止所有工作者（刷新它们的缓存）并丢弃所有分叉。进行中的创建会被放弃。
func (m *MultiFork) shutdown() {
	m.abandon(ErrShutdown)

	var wg sync.WaitGroup
	for _, h := range m.workers.ToSlice() {
		wg.Add(1)
		go func(h *backend.Handler) {
			defer wg.Done()
			if err := h.Close(); err != nil {
				log.Warn("Failed to close fork backend", "err", err)
			}
		}(h)
	}
	wg.Wait()

	log.Info("Fork manager shut down", "forks", len(m.forks), "workers", m.workers.Cardinality())
	m.workers.Clear()
	m.forks = make(map[ForkID]*createdFork)

	forksGauge.Update(0)
	workersGauge.Update(0)
}

// abandon cancels the creations in flight and fails their waiters.
func (m *MultiFork) abandon(err error) {
	for id, p := range m.pending {
		p.cancel()
		for _, reply := range p.waiters {
			reply <- createResult{err: err}
		}
		delete(m.pending, id)
	}
	pendingGauge.Update(0)
}

// flushCaches writes the caches of all forks to disk on a separate goroutine.
// A flush is skipped if the previous one is still running.
// flushCaches 在单独的 goroutine 中将所有分叉的缓存写入磁盘。如果上一次刷新仍在进行，则跳过本次。
func (m *MultiFork) flushCaches() {
	if len(m.forks) == 0 {
		return
	}
	if !m.flushing.CompareAndSwap(false, true) {
		return
	}
	backends := make([]*backend.SharedBackend, 0, len(m.forks))
	for _, fork := range m.forks {
		backends = append(backends, fork.backend)
	}
	go func() {
		defer m.flushing.Store(false)

		start := time.Now()
		for _, b := range backends {
			if err := b.FlushCache(); err != nil {
				log.Warn("Failed to flush fork cache", "err", err)
			}
		}
		flushTimer.UpdateSince(start)
		log.Trace("Flushed fork caches", "forks", len(backends), "elapsed", common.PrettyDuration(time.Since(start)))
	}()
}
