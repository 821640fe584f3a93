// Copyright 2014 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/forkdb/fork/backend"
)

func TestConfigRoundtrip(t *testing.T) {
	cfg := defaultConfig()
	cfg.Fork.CacheDir = "/var/lib/forkdb"
	cfg.Fork.CacheEngine = backend.EngineLevelDB
	cfg.Fork.FlushInterval = 5 * time.Minute
	cfg.Fork.Remote.Retries = 9
	cfg.Fork.Remote.Headers = map[string]string{"Authorization": "Bearer secret"}

	out, err := tomlSettings.Marshal(&cfg)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "forkd.toml")
	require.NoError(t, os.WriteFile(file, out, 0644))

	var loaded forkdConfig
	require.NoError(t, loadConfig(file, &loaded))
	assert.Equal(t, cfg.Fork, loaded.Fork)
	assert.Equal(t, cfg.Metrics.Port, loaded.Metrics.Port)
}

func TestConfigUnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "forkd.toml")
	require.NoError(t, os.WriteFile(file, []byte("[Fork]\nCacheEngin = \"pebble\"\n"), 0644))

	var cfg forkdConfig
	err := loadConfig(file, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CacheEngin")
}
