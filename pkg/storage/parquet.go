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
	"strings"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	pqReader "github.com/xitongsys/parquet-go/reader"
	"go.uber.org/zap"

	"github.com/daviszhen/relplan/pkg/common"
	"github.com/daviszhen/relplan/pkg/util"
)

// LoadParquetSchema derives column names and types from the footer of a
// parquet file. Only flat schemas are supported.
func LoadParquetSchema(path string) ([]string, common.RelationType, error) {
	pqFile, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return nil, common.RelationType{}, err
	}
	defer pqFile.Close()

	reader, err := pqReader.NewParquetColumnReader(pqFile, 1)
	if err != nil {
		return nil, common.RelationType{}, err
	}
	defer reader.ReadStop()

	columns, typ, err := schemaToColumns(reader.SchemaHandler.SchemaElements)
	if err != nil {
		return nil, common.RelationType{}, err
	}
	util.Debug("load parquet schema",
		zap.String("path", path),
		zap.Strings("columns", columns),
		zap.String("typ", typ.String()))
	return columns, typ, nil
}

func schemaToColumns(elems []*parquet.SchemaElement) ([]string, common.RelationType, error) {
	columns := make([]string, 0)
	types := make([]common.ColumnType, 0)
	//the first element is the root
	for i, elem := range elems {
		if i == 0 {
			continue
		}
		if elem.GetNumChildren() > 0 || !elem.IsSetType() {
			return nil, common.RelationType{}, ErrInvalidColumnType.New("group", elem.GetName())
		}
		typ, err := parquetColumnType(elem)
		if err != nil {
			return nil, common.RelationType{}, err
		}
		columns = append(columns, strings.ToLower(elem.GetName()))
		types = append(types, common.ColumnType{
			Typ:      typ,
			Nullable: elem.GetRepetitionType() == parquet.FieldRepetitionType_OPTIONAL,
		})
	}
	return columns, common.NewRelationType(types), nil
}

func parquetColumnType(elem *parquet.SchemaElement) (common.LType, error) {
	if elem.IsSetConvertedType() {
		switch elem.GetConvertedType() {
		case parquet.ConvertedType_UTF8:
			return common.VarcharType(), nil
		case parquet.ConvertedType_DATE:
			return common.DateType(), nil
		case parquet.ConvertedType_DECIMAL:
			return common.DecimalType(int(elem.GetPrecision()), int(elem.GetScale())), nil
		case parquet.ConvertedType_TIMESTAMP_MILLIS,
			parquet.ConvertedType_TIMESTAMP_MICROS:
			return common.TimestampType(), nil
		}
	}
	switch elem.GetType() {
	case parquet.Type_BOOLEAN:
		return common.BooleanType(), nil
	case parquet.Type_INT32:
		return common.IntegerType(), nil
	case parquet.Type_INT64:
		return common.BigintType(), nil
	case parquet.Type_INT96:
		return common.TimestampType(), nil
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return common.DoubleType(), nil
	case parquet.Type_BYTE_ARRAY, parquet.Type_FIXED_LEN_BYTE_ARRAY:
		return common.VarcharType(), nil
	}
	return common.LType{}, ErrInvalidColumnType.New(elem.GetType().String(), elem.GetName())
}
