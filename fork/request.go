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

import "github.com/sunyihoo/forkdb/fork/backend"

// Requests accepted by the manager loop. Reply channels are buffered with a
// capacity of one, so the loop never blocks on a caller that gave up waiting.
// 管理器循环接受的请求。回复通道的容量为 1，因此循环永远不会因放弃等待的调用方而阻塞。
type (
	createForkReq struct {
		spec  CreateFork
		reply chan createResult
	}
	rollForkReq struct {
		id    ForkID
		block uint64
		reply chan createResult
	}
	getForkReq struct {
		id    ForkID
		reply chan *backend.SharedBackend
	}
	getEnvReq struct {
		id    ForkID
		reply chan lookup[Environment]
	}
	getForkURLReq struct {
		id    ForkID
		reply chan lookup[string]
	}
	listForksReq struct {
		reply chan []ForkInfo
	}
	statsReq struct {
		reply chan Stats
	}
	shutdownReq struct {
		reply chan struct{}
	}
)

// createResult is the reply to a fork creation or roll. Every waiter of one
// creation receives the same result.
type createResult struct {
	id      ForkID
	backend *backend.SharedBackend
	env     Environment
	err     error
}

// lookup is the reply to a map read.
type lookup[T any] struct {
	val T
	ok  bool
}

// ForkInfo describes a fork known to the manager.
// ForkInfo 描述管理器已知的一个分叉。
type ForkInfo struct {
	ID         ForkID
	URL        string
	Env        Environment
	Persistent bool
	Senders    int // number of replies handing out this fork, including abandoned waits
}

// Stats is a snapshot of the manager state.
type Stats struct {
	Forks   int // Created forks 已创建的分叉数
	Pending int // Creations in flight 进行中的创建数
	Waiters int // Callers waiting on creations in flight 等待进行中创建的调用方数
	Workers int // Running background workers 运行中的后台工作者数
}
