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
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/forkdb/fork/backend"
	"github.com/sunyihoo/forkdb/fork/remote"
)

// Config are the configuration parameters of the fork manager.
// Config 是分叉管理器的配置参数。
type Config struct {
	CacheDir      string        // Root of the on-disk caches, empty disables persistence 磁盘缓存的根目录，为空则禁用持久化
	CacheEngine   string        // Database engine of the caches (pebble or leveldb) 缓存的数据库引擎（pebble 或 leveldb）
	CacheMemory   int           // Memory allowance (MB) of each fork's cache 每个分叉缓存的内存配额（MB）
	FlushInterval time.Duration // Time interval to flush fork caches to disk 将分叉缓存刷新到磁盘的时间间隔
	RequestQueue  int           // Number of requests queued before callers block 调用方阻塞前排队的请求数

	Remote remote.Config // Connection settings of the remote endpoints 远程端点的连接设置
}

// Defaults contains the default settings of the fork manager.
// Defaults 包含分叉管理器的默认设置。
var Defaults = Config{
	CacheEngine:   backend.EnginePebble,
	CacheMemory:   32,
	FlushInterval: time.Minute,
	RequestQueue:  64,
	Remote:        remote.DefaultConfig,
}

// sanitize checks the provided user configurations and changes anything that's
// unreasonable or unworkable.
// sanitize 检查用户提供的配置并修改任何不合理或不可用的设置。
func (config *Config) sanitize() Config {
	conf := *config
	if conf.CacheEngine == "" {
		conf.CacheEngine = Defaults.CacheEngine
	}
	if conf.CacheMemory < 0 {
		log.Warn("Sanitizing invalid fork cache memory", "provided", conf.CacheMemory, "updated", Defaults.CacheMemory)
		conf.CacheMemory = Defaults.CacheMemory
	}
	if conf.FlushInterval <= 0 {
		log.Warn("Sanitizing invalid fork flush interval", "provided", conf.FlushInterval, "updated", Defaults.FlushInterval)
		conf.FlushInterval = Defaults.FlushInterval
	}
	if conf.RequestQueue < 1 {
		log.Warn("Sanitizing invalid fork request queue", "provided", conf.RequestQueue, "updated", Defaults.RequestQueue)
		conf.RequestQueue = Defaults.RequestQueue
	}
	if conf.Remote.Retries < 0 {
		log.Warn("Sanitizing invalid fork rpc retries", "provided", conf.Remote.Retries, "updated", Defaults.Remote.Retries)
		conf.Remote.Retries = Defaults.Remote.Retries
	}
	if conf.Remote.Backoff <= 0 {
		log.Warn("Sanitizing invalid fork rpc backoff", "provided", conf.Remote.Backoff, "updated", Defaults.Remote.Backoff)
		conf.Remote.Backoff = Defaults.Remote.Backoff
	}
	if conf.Remote.Timeout <= 0 {
		conf.Remote.Timeout = Defaults.Remote.Timeout
	}
	return conf
}
