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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go/parquet"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/util"
)

func twoColumns() common.RelationType {
	return common.NewRelationType([]common.ColumnType{
		{Typ: common.BigintType()},
		{Typ: common.VarcharType(), Nullable: true},
	})
}

func TestCatalogResolve(t *testing.T) {
	cat := NewCatalog("", "")
	ent, err := cat.CreateTable([]string{"ordered"}, []string{"x", "y"}, twoColumns())
	require.NoError(t, err)
	assert.Equal(t, "materialize.public.ordered", ent.FullName())
	assert.Equal(t, "u1", ent.Id.String())

	view, err := cat.CreateView([]string{"public", "ordered_view"}, []string{"x", "y"}, twoColumns(), "SELECT * FROM ordered")
	require.NoError(t, err)
	assert.Equal(t, "u2", view.Id.String())
	assert.Equal(t, ItemView, view.Kind)

	for _, name := range [][]string{
		{"ordered"},
		{"public", "ordered"},
		{"materialize", "public", "ordered"},
	} {
		got, err := cat.Resolve(name)
		require.NoError(t, err)
		assert.Same(t, ent, got)
	}

	_, err = cat.Resolve([]string{"missing"})
	assert.True(t, ErrUnknownCatalogItem.Is(err))
	_, err = cat.Resolve([]string{"a", "b", "c", "d"})
	assert.True(t, ErrInvalidName.Is(err))
	_, err = cat.CreateTable([]string{"ordered"}, []string{"x", "y"}, twoColumns())
	assert.True(t, ErrItemExists.Is(err))
}

func TestCatalogScanOrder(t *testing.T) {
	cat := NewCatalog("", "")
	for _, name := range []string{"c", "a", "b"} {
		_, err := cat.CreateTable([]string{name}, []string{"x", "y"}, twoColumns())
		require.NoError(t, err)
	}
	names := make([]string, 0)
	cat.Scan(func(ent *CatalogEntry) bool {
		names = append(names, ent.Name)
		return true
	})
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestLoadTables(t *testing.T) {
	cat := NewCatalog("", "")
	err := cat.LoadTables([]util.CatalogTable{
		{
			Name: "ordered",
			Columns: []util.CatalogColumn{
				{Name: "X", Type: "bigint"},
				{Name: "y", Type: "text", Nullable: true},
			},
			Keys: [][]int{{0}},
		},
	})
	require.NoError(t, err)
	ent, err := cat.Resolve([]string{"ordered"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ent.Columns)
	assert.Equal(t, "int8, text?", ent.Typ.TypesString())
	assert.Equal(t, [][]int{{0}}, ent.Typ.Keys)

	err = cat.LoadTables([]util.CatalogTable{
		{Name: "bad", Columns: []util.CatalogColumn{{Name: "z", Type: "blob"}}},
	})
	assert.True(t, ErrInvalidColumnType.Is(err))

	err = cat.LoadTables([]util.CatalogTable{
		{Name: "badkey", Columns: []util.CatalogColumn{{Name: "z", Type: "int4"}}, Keys: [][]int{{3}}},
	})
	assert.True(t, ErrInvalidName.Is(err))
}

func TestParquetSchemaToColumns(t *testing.T) {
	i64 := parquet.Type_INT64
	bytes := parquet.Type_BYTE_ARRAY
	utf8 := parquet.ConvertedType_UTF8
	optional := parquet.FieldRepetitionType_OPTIONAL
	required := parquet.FieldRepetitionType_REQUIRED
	children := int32(2)
	elems := []*parquet.SchemaElement{
		{Name: "Parquet_go_root", NumChildren: &children},
		{Name: "X", Type: &i64, RepetitionType: &required},
		{Name: "y", Type: &bytes, ConvertedType: &utf8, RepetitionType: &optional},
	}
	columns, typ, err := schemaToColumns(elems)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, columns)
	assert.Equal(t, "int8, text?", typ.TypesString())

	_, _, err = schemaToColumns([]*parquet.SchemaElement{
		{Name: "root", NumChildren: &children},
		{Name: "nested", NumChildren: &children},
	})
	assert.True(t, ErrInvalidColumnType.Is(err))
}
