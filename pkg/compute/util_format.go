// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compute

import (
	"fmt"
	"strings"

	"github.com/daviszhen/relplan/pkg/util"
)

// FormatCtx writes lines under a stack of prefixes. An empty line is
// the prefix without trailing spaces.
type FormatCtx struct {
	buf      strings.Builder
	prefixes []string
	prefix   string
}

func (fc *FormatCtx) AddPrefix(p string) {
	fc.prefixes = append(fc.prefixes, fc.prefix)
	fc.prefix += p
}

func (fc *FormatCtx) RestorePrefix() {
	if len(fc.prefixes) == 0 {
		fc.prefix = ""
		return
	}
	fc.prefix = util.Back(fc.prefixes)
	fc.prefixes = util.Pop(fc.prefixes)
}

func (fc *FormatCtx) writeLine(s string) {
	line := fc.prefix + s
	if s == "" {
		line = strings.TrimRight(line, " ")
	}
	fc.buf.WriteString(line)
	fc.buf.WriteByte('\n')
}

func (fc *FormatCtx) String() string {
	return fc.buf.String()
}

// Writeln writes every line of s under the current prefix.
func (fc *FormatCtx) Writeln(s string) {
	for _, line := range strings.Split(s, "\n") {
		fc.writeLine(line)
	}
}

func (fc *FormatCtx) Writefln(f string, args ...any) {
	fc.Writeln(fmt.Sprintf(f, args...))
}

func formatColumns(cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("#%d", c)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatOrder(order []ColumnOrder) string {
	parts := make([]string, len(order))
	for i, o := range order {
		parts[i] = o.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatLimit(limit int) string {
	if limit < 0 {
		return "none"
	}
	return fmt.Sprint(limit)
}
