// Copyright 2015 The go-ethereum Authors
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

// Package flags holds the flag types and categories shared by the forkd
// command line.
package flags

import (
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/urfave/cli/v2"
)

// The env var lookup of CheckEnvVars and the help categories rely on these.
var (
	_ cli.DocGenerationFlag = (*DirectoryFlag)(nil)
	_ cli.CategorizableFlag = (*DirectoryFlag)(nil)
	_ cli.DocGenerationFlag = (*BigFlag)(nil)
	_ cli.CategorizableFlag = (*BigFlag)(nil)
)

// DirectoryString is a flag value expanding the parsed argument to a clean
// path, resolving a leading tilde and environment variables.
// DirectoryString 是一个标志值，将解析的参数展开为规范路径，解析开头的波浪号和环境变量。
type DirectoryString string

func (s *DirectoryString) String() string {
	return string(*s)
}

func (s *DirectoryString) Set(value string) error {
	*s = DirectoryString(expandPath(value))
	return nil
}

// DirectoryFlag is a cli.Flag holding a directory, e.g. the RPC cache root
// ~/.forkdb/cache -> /home/username/.forkdb/cache
// DirectoryFlag 是保存目录的 cli.Flag，例如 RPC 缓存根目录。
type DirectoryFlag struct {
	Name string

	Category    string
	DefaultText string
	Usage       string

	Required   bool
	Hidden     bool
	HasBeenSet bool

	Value DirectoryString

	Aliases []string
	EnvVars []string
}

func (f *DirectoryFlag) Names() []string { return append([]string{f.Name}, f.Aliases...) }
func (f *DirectoryFlag) IsSet() bool     { return f.HasBeenSet }
func (f *DirectoryFlag) String() string  { return cli.FlagStringer(f) }

// Apply reads the value from the environment, if present, and registers the
// flag in the set for parsing.
func (f *DirectoryFlag) Apply(set *flag.FlagSet) error {
	if value, ok := lookupEnv(f.EnvVars); ok {
		f.Value.Set(value)
		f.HasBeenSet = true
	}
	eachName(f, func(name string) {
		set.Var(&f.Value, name, f.Usage)
	})
	return nil
}

func (f *DirectoryFlag) IsRequired() bool      { return f.Required }
func (f *DirectoryFlag) IsVisible() bool       { return !f.Hidden }
func (f *DirectoryFlag) GetCategory() string   { return f.Category }
func (f *DirectoryFlag) TakesValue() bool      { return true }
func (f *DirectoryFlag) GetUsage() string      { return f.Usage }
func (f *DirectoryFlag) GetValue() string      { return f.Value.String() }
func (f *DirectoryFlag) GetEnvVars() []string  { return f.EnvVars }
func (f *DirectoryFlag) GetDefaultText() string {
	if f.DefaultText != "" {
		return f.DefaultText
	}
	return f.GetValue()
}

// BigFlag is a command line flag that accepts 256 bit integers in decimal or
// hexadecimal syntax, used for wei denominated overrides.
// BigFlag 是接受十进制或十六进制 256 位整数的命令行标志，用于以 wei 计价的覆盖值。
type BigFlag struct {
	Name string

	Category    string
	DefaultText string
	Usage       string

	Required   bool
	Hidden     bool
	HasBeenSet bool

	Value        *big.Int
	defaultValue *big.Int

	Aliases []string
	EnvVars []string
}

func (f *BigFlag) Names() []string { return append([]string{f.Name}, f.Aliases...) }
func (f *BigFlag) IsSet() bool     { return f.HasBeenSet }
func (f *BigFlag) String() string  { return cli.FlagStringer(f) }

func (f *BigFlag) Apply(set *flag.FlagSet) error {
	// Remember the default before the environment gets a chance to change it.
	if f.Value != nil {
		f.defaultValue = new(big.Int).Set(f.Value)
	}
	value := new(big.Int)
	if f.Value != nil {
		value.Set(f.Value)
	}
	if env, ok := lookupEnv(f.EnvVars); ok {
		parsed, ok := math.ParseBig256(env)
		if !ok {
			return fmt.Errorf("could not parse %q from environment for flag %s", env, f.Name)
		}
		value.Set(parsed)
		f.HasBeenSet = true
	}
	f.Value = value
	eachName(f, func(name string) {
		set.Var((*bigValue)(f.Value), name, f.Usage)
	})
	return nil
}

func (f *BigFlag) IsRequired() bool     { return f.Required }
func (f *BigFlag) IsVisible() bool      { return !f.Hidden }
func (f *BigFlag) GetCategory() string  { return f.Category }
func (f *BigFlag) TakesValue() bool     { return true }
func (f *BigFlag) GetUsage() string     { return f.Usage }
func (f *BigFlag) GetValue() string     { return f.Value.String() }
func (f *BigFlag) GetEnvVars() []string { return f.EnvVars }
func (f *BigFlag) GetDefaultText() string {
	if f.DefaultText != "" {
		return f.DefaultText
	}
	return f.defaultValue.String()
}

// bigValue turns *big.Int into a flag.Value
type bigValue big.Int

func (b *bigValue) String() string {
	if b == nil {
		return ""
	}
	return (*big.Int)(b).String()
}

func (b *bigValue) Set(s string) error {
	intVal, ok := math.ParseBig256(s)
	if !ok {
		return errors.New("invalid integer syntax")
	}
	*b = (bigValue)(*intVal)
	return nil
}

// GlobalBig returns the value of a BigFlag from the global flag set.
// GlobalBig 从全局标志集中返回 BigFlag 的值。
func GlobalBig(ctx *cli.Context, name string) *big.Int {
	val := ctx.Generic(name)
	if val == nil {
		return nil
	}
	return (*big.Int)(val.(*bigValue))
}

// expandPath resolves a leading "~" to the home directory, expands
// environment variables and cleans the result. ~someuser/tmp is not expanded.
func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home := HomeDir(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}

// HomeDir returns the home directory of the current user, or "" if unknown.
// HomeDir 返回当前用户的主目录，未知时返回空字符串。
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

func lookupEnv(names []string) (string, bool) {
	for _, name := range names {
		if value, ok := os.LookupEnv(strings.TrimSpace(name)); ok {
			return value, true
		}
	}
	return "", false
}

func eachName(f cli.Flag, fn func(string)) {
	for _, name := range f.Names() {
		fn(strings.Trim(name, " "))
	}
}
