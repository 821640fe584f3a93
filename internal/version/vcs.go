// Copyright 2022 The go-ethereum Authors
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
	"time"
)

// Set by the linker for release builds, e.g.
// -ldflags "-X github.com/sunyihoo/forkdb/internal/version.gitCommit=..."
var gitCommit, gitDate string

// Build describes the revision a binary was built from.
// Build 描述构建二进制文件所用的版本。
type Build struct {
	Commit string // full commit hash
	Date   string // commit date as YYYYMMDD
	Dirty  bool   // built from a modified tree
}

// Current returns the revision of the running binary. Linker provided values
// win over the stamp the go tool embeds.
// Current 返回当前程序的版本。链接器提供的值优先于 go 工具嵌入的信息。
func Current() (Build, bool) {
	if gitCommit != "" {
		return Build{Commit: gitCommit, Date: gitDate}, true
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Path != ourPath {
		return Build{}, false
	}
	return fromSettings(info.Settings)
}

func fromSettings(settings []debug.BuildSetting) (Build, bool) {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}
	b := Build{Commit: vcs["vcs.revision"], Dirty: vcs["vcs.modified"] == "true"}
	if t, err := time.Parse(time.RFC3339, vcs["vcs.time"]); err == nil {
		b.Date = t.UTC().Format("20060102")
	}
	return b, b.Commit != "" && b.Date != ""
}

// Version is the version string of the binary with the short commit appended.
func (b Build) Version() string {
	return WithCommit(b.Commit, b.Date)
}
