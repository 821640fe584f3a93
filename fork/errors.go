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

import "errors"

var (
	// ErrUnavailable is returned if the fork manager is no longer running.
	// ErrUnavailable 在分叉管理器不再运行时返回。
	ErrUnavailable = errors.New("fork manager unavailable")

	// ErrUnknownFork is returned when rolling a fork that was never created.
	// ErrUnknownFork 在滚动一个从未创建过的分叉时返回。
	ErrUnknownFork = errors.New("unknown fork")

	// ErrShutdown is returned to callers waiting on a fork creation that was
	// abandoned by a shutdown of the manager.
	// ErrShutdown 返回给等待某个分叉创建的调用方，该创建因管理器关闭而被放弃。
	ErrShutdown = errors.New("fork manager shut down")
)
