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

package common

import (
	"fmt"
	"slices"
	"strings"
)

// RelationType describes the output of a relation: its column types and
// the column sets known to be unique keys.
type RelationType struct {
	Columns []ColumnType
	Keys    [][]int
}

func NewRelationType(cols []ColumnType) RelationType {
	return RelationType{Columns: cols}
}

func (rt RelationType) Arity() int {
	return len(rt.Columns)
}

// WithKey adds a key. Duplicates are dropped and keys stay sorted.
func (rt RelationType) WithKey(key []int) RelationType {
	k := slices.Clone(key)
	slices.Sort(k)
	k = slices.Compact(k)
	for _, old := range rt.Keys {
		if slices.Equal(old, k) {
			return rt
		}
	}
	keys := make([][]int, 0, len(rt.Keys)+1)
	keys = append(keys, rt.Keys...)
	keys = append(keys, k)
	slices.SortFunc(keys, slices.Compare[[]int])
	rt.Keys = keys
	return rt
}

func (rt RelationType) WithKeys(keys [][]int) RelationType {
	for _, key := range keys {
		rt = rt.WithKey(key)
	}
	return rt
}

func (rt RelationType) TypesString() string {
	parts := make([]string, len(rt.Columns))
	for i, col := range rt.Columns {
		parts[i] = col.String()
	}
	return strings.Join(parts, ", ")
}

func (rt RelationType) KeysString() string {
	parts := make([]string, len(rt.Keys))
	for i, key := range rt.Keys {
		cols := make([]string, len(key))
		for j, c := range key {
			cols[j] = fmt.Sprintf("#%d", c)
		}
		parts[i] = "(" + strings.Join(cols, ", ") + ")"
	}
	return strings.Join(parts, ", ")
}

func (rt RelationType) String() string {
	return fmt.Sprintf("types = (%s) keys = (%s)", rt.TypesString(), rt.KeysString())
}
