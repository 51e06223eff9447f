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
	"gopkg.in/src-d/go-errors.v1"

	"github.com/daviszhen/relplan/pkg/storage"
)

var (
	// resolution errors
	ErrUnknownCatalogItem = storage.ErrUnknownCatalogItem
	ErrItemExists         = storage.ErrItemExists
	ErrUnknownColumn      = errors.NewKind("column %q does not exist")
	ErrAmbiguousColumn    = errors.NewKind("column reference %q is ambiguous")
	ErrUnknownTable       = errors.NewKind("missing FROM-clause entry for table %q")
	ErrDuplicateAlias     = errors.NewKind("table name %q specified more than once")
	ErrUnknownFunction    = errors.NewKind("function %s does not exist")

	// type errors
	ErrNoOverload          = errors.NewKind("no overload for %s")
	ErrUnknownType         = errors.NewKind("type %q does not exist")
	ErrColumnCountMismatch = errors.NewKind("%s has %d columns, expected %d")
	ErrSetOpTypeMismatch   = errors.NewKind("%s types %s and %s cannot be matched")
	ErrSubqueryColumns     = errors.NewKind("subquery must return exactly one column, got %d")
	ErrGrouping            = errors.NewKind("column %q must appear in the GROUP BY clause or be used in an aggregate function")
	ErrAggregateNotAllowed = errors.NewKind("aggregate functions are not allowed in %s")
	ErrInvalidArgument     = errors.NewKind("invalid argument: %s")

	// unsupported constructs
	ErrUnsupported = errors.NewKind("%s not yet supported")
	// parameters cannot be typed without executing the statement
	ErrUnknownParameterType = errors.NewKind("could not determine data type of parameter $%d")

	// evaluation errors. they keep an expression from being folded
	ErrDivisionByZero  = errors.NewKind("division by zero")
	ErrNumericOverflow = errors.NewKind("%s out of range")
	ErrInvalidCast     = errors.NewKind("invalid input syntax %q for type %s")

	// internal invariants
	ErrInvalidPlan = errors.NewKind("invalid plan: %s")
)
