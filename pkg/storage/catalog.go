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
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/util"
)

var (
	ErrUnknownCatalogItem = errors.NewKind("unknown catalog item '%s'")
	ErrItemExists         = errors.NewKind("catalog item '%s' already exists")
	ErrInvalidName        = errors.NewKind("invalid name %s")
	ErrInvalidColumnType  = errors.NewKind("invalid type %s for column %s")
)

type ItemKind int

const (
	ItemTable ItemKind = iota
	ItemView
)

func (kind ItemKind) String() string {
	switch kind {
	case ItemTable:
		return "table"
	case ItemView:
		return "view"
	default:
		panic(fmt.Sprintf("usp item kind %d", kind))
	}
}

// GlobalId identifies a catalog item for the lifetime of the catalog.
type GlobalId uint64

func (id GlobalId) String() string {
	return fmt.Sprintf("u%d", uint64(id))
}

type CatalogEntry struct {
	Id       GlobalId
	Kind     ItemKind
	Database string
	Schema   string
	Name     string
	Columns  []string
	Typ      common.RelationType
	//view definition
	Sql string
	//parquet file the table schema came from
	Path string
}

func (ent *CatalogEntry) FullName() string {
	return fmt.Sprintf("%s.%s.%s", ent.Database, ent.Schema, ent.Name)
}

func (ent *CatalogEntry) String() string {
	return fmt.Sprintf("%s %s (%s)", ent.Kind, ent.FullName(), ent.Id)
}

func catalogEntryLess(a, b *CatalogEntry) bool {
	return a.FullName() < b.FullName()
}

// Catalog holds the named tables and views. Compilation only reads it;
// DDL statements are the only writers.
type Catalog struct {
	_lock     sync.RWMutex
	_nextId   uint64
	_database string
	_schema   string
	_entries  *btree.BTreeG[*CatalogEntry]
}

func NewCatalog(database, schema string) *Catalog {
	if database == "" {
		database = util.DefaultDatabase
	}
	if schema == "" {
		schema = util.DefaultSchema
	}
	return &Catalog{
		_nextId:   1,
		_database: database,
		_schema:   schema,
		_entries:  btree.NewBTreeG[*CatalogEntry](catalogEntryLess),
	}
}

func (cat *Catalog) Database() string {
	return cat._database
}

func (cat *Catalog) Schema() string {
	return cat._schema
}

// Qualify completes a one, two or three part name with the defaults.
func (cat *Catalog) Qualify(name []string) (database, schema, item string, err error) {
	switch len(name) {
	case 1:
		return cat._database, cat._schema, name[0], nil
	case 2:
		return cat._database, name[0], name[1], nil
	case 3:
		return name[0], name[1], name[2], nil
	default:
		return "", "", "", ErrInvalidName.New(strings.Join(name, "."))
	}
}

func (cat *Catalog) lookup(database, schema, name string) (*CatalogEntry, bool) {
	return cat._entries.Get(&CatalogEntry{Database: database, Schema: schema, Name: name})
}

// Resolve finds the table or view a possibly partial name refers to.
func (cat *Catalog) Resolve(name []string) (*CatalogEntry, error) {
	database, schema, item, err := cat.Qualify(name)
	if err != nil {
		return nil, err
	}
	cat._lock.RLock()
	defer cat._lock.RUnlock()
	if ent, has := cat.lookup(database, schema, item); has {
		return ent, nil
	}
	return nil, ErrUnknownCatalogItem.New(strings.Join(name, "."))
}

func (cat *Catalog) create(kind ItemKind, name []string, columns []string, typ common.RelationType, sql string) (*CatalogEntry, error) {
	database, schema, item, err := cat.Qualify(name)
	if err != nil {
		return nil, err
	}
	if len(columns) != typ.Arity() {
		panic(fmt.Sprintf("usp %d column names for %d columns", len(columns), typ.Arity()))
	}
	cat._lock.Lock()
	defer cat._lock.Unlock()
	if _, has := cat.lookup(database, schema, item); has {
		return nil, ErrItemExists.New(strings.Join(name, "."))
	}
	ent := &CatalogEntry{
		Id:       GlobalId(cat._nextId),
		Kind:     kind,
		Database: database,
		Schema:   schema,
		Name:     item,
		Columns:  util.CopyTo(columns),
		Typ:      typ,
		Sql:      sql,
	}
	cat._nextId++
	cat._entries.Set(ent)
	util.Debug("create catalog item",
		zap.String("name", ent.FullName()),
		zap.String("id", ent.Id.String()),
		zap.String("kind", kind.String()),
		zap.String("typ", typ.String()))
	return ent, nil
}

func (cat *Catalog) CreateTable(name []string, columns []string, typ common.RelationType) (*CatalogEntry, error) {
	return cat.create(ItemTable, name, columns, typ, "")
}

func (cat *Catalog) CreateView(name []string, columns []string, typ common.RelationType, sql string) (*CatalogEntry, error) {
	return cat.create(ItemView, name, columns, typ, sql)
}

// Scan visits the entries in name order until fun returns false.
func (cat *Catalog) Scan(fun func(ent *CatalogEntry) bool) {
	cat._lock.RLock()
	defer cat._lock.RUnlock()
	cat._entries.Scan(fun)
}

// LoadTables creates the tables listed in the configuration.
func (cat *Catalog) LoadTables(tables []util.CatalogTable) error {
	for _, table := range tables {
		var columns []string
		var typ common.RelationType
		var err error
		if table.ParquetPath != "" {
			columns, typ, err = LoadParquetSchema(table.ParquetPath)
			if err != nil {
				return err
			}
		} else {
			columns, typ, err = configColumns(table)
			if err != nil {
				return err
			}
		}
		for _, key := range table.Keys {
			for _, col := range key {
				if col < 0 || col >= typ.Arity() {
					return ErrInvalidName.New(fmt.Sprintf("key column #%d of %s", col, table.Name))
				}
			}
		}
		typ = typ.WithKeys(table.Keys)
		ent, err := cat.CreateTable(strings.Split(table.Name, "."), columns, typ)
		if err != nil {
			return err
		}
		ent.Path = table.ParquetPath
	}
	return nil
}

func configColumns(table util.CatalogTable) ([]string, common.RelationType, error) {
	columns := make([]string, 0, len(table.Columns))
	types := make([]common.ColumnType, 0, len(table.Columns))
	for _, col := range table.Columns {
		typ, ok := common.LTypeFromName(col.Type)
		if !ok {
			return nil, common.RelationType{}, ErrInvalidColumnType.New(col.Type, col.Name)
		}
		columns = append(columns, strings.ToLower(col.Name))
		types = append(types, common.ColumnType{Typ: typ, Nullable: col.Nullable})
	}
	return columns, common.NewRelationType(types), nil
}
