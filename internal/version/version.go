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

// Package version implements reading of build version information.
// Package version 实现了构建版本信息的读取。
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sunyihoo/forkdb/version"
)

const ourPath = "github.com/sunyihoo/forkdb" // Path to our module

// Semantic holds the textual version string for major.minor.patch.
var Semantic = fmt.Sprintf("%d.%d.%d", version.Major, version.Minor, version.Patch)

// WithMeta holds the textual version string including the metadata.
// WithMeta 保存包含元数据的版本字符串。
var WithMeta = func() string {
	if version.Meta == "" {
		return Semantic
	}
	return Semantic + "-" + version.Meta
}()

// WithCommit appends the abbreviated commit hash and, for unstable builds, the
// commit date to the version string.
// WithCommit 在版本字符串后附加缩写的提交哈希，非稳定版本还会附加提交日期。
func WithCommit(gitCommit, gitDate string) string {
	vsn := WithMeta
	if len(gitCommit) >= 8 {
		vsn += "-" + gitCommit[:8]
	}
	if version.Meta != "stable" && gitDate != "" {
		vsn += "-" + gitDate
	}
	return vsn
}

// Info returns a multi-line description of the running binary.
// Info 返回当前运行程序的多行描述。
func Info(name string) string {
	var b strings.Builder
	fmt.Fprintln(&b, name)
	fmt.Fprintln(&b, "Version:", WithMeta)
	if build, ok := Current(); ok {
		fmt.Fprintln(&b, "Git Commit:", build.Commit)
		fmt.Fprintln(&b, "Git Commit Date:", build.Date)
		if build.Dirty {
			fmt.Fprintln(&b, "Git Tree: dirty")
		}
	}
	fmt.Fprintln(&b, "Architecture:", runtime.GOARCH)
	fmt.Fprintln(&b, "Go Version:", runtime.Version())
	fmt.Fprintln(&b, "Operating System:", runtime.GOOS)
	return b.String()
}
