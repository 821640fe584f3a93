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

// NewForkEvent is posted when a fork has been created.
// NewForkEvent 在一个分叉被创建后发布。
type NewForkEvent struct {
	ID      ForkID
	Env     Environment
	Backend *backend.SharedBackend
	Waiters int // number of callers the fork was handed to
}
