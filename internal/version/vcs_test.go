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

package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFromSettings(t *testing.T) {
	b, ok := fromSettings([]debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2025-03-14T09:26:53Z"},
		{Key: "vcs.modified", Value: "true"},
	})
	assert.True(t, ok)
	assert.Equal(t, Build{Commit: "0123456789abcdef", Date: "20250314", Dirty: true}, b)
	assert.Equal(t, WithMeta+"-01234567-20250314", b.Version())

	// Builds outside a checkout carry no revision.
	_, ok = fromSettings(nil)
	assert.False(t, ok)
	assert.Equal(t, WithMeta, Build{}.Version())
}

func TestWithCommit(t *testing.T) {
	assert.Equal(t, WithMeta+"-01234567-20250314", WithCommit("0123456789abcdef", "20250314"))
	assert.Equal(t, WithMeta, WithCommit("short", ""))
}
