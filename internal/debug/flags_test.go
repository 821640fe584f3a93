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

package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLogLocation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	require.NoError(t, validateLogLocation(dir))

	_, err := os.Stat(filepath.Join(dir, "tmp"))
	assert.True(t, os.IsNotExist(err), "test file left behind")
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer
	for _, format := range []string{"", "terminal", "json", "logfmt"} {
		h, err := newHandler(format, &buf)
		require.NoError(t, err, format)
		assert.NotNil(t, h, format)
	}
	_, err := newHandler("xml", &buf)
	assert.Error(t, err)
}
