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
	"math"
	"strings"

	dec "github.com/govalues/decimal"
	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/daviszhen/relplan/pkg/common"
)

// bindExpr binds an expression of the clause iwc. The type is
// computed along the way since the input columns are known.
func (b *Builder) bindExpr(qs *queryScope, iwc InWhichClause, expr *pg_query.Node) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	switch n := expr.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		return b.bindColumnRef(qs, n.ColumnRef)
	case *pg_query.Node_AConst:
		d, err := bindConst(n.AConst)
		if err != nil {
			return nil, none, err
		}
		return Lit(d), common.ColumnType{Typ: d.Typ, Nullable: d.IsNull}, nil
	case *pg_query.Node_ParamRef:
		return nil, none, ErrUnknownParameterType.New(n.ParamRef.Number)
	case *pg_query.Node_AExpr:
		return b.bindAExpr(qs, iwc, n.AExpr)
	case *pg_query.Node_BoolExpr:
		return b.bindBoolExpr(qs, iwc, n.BoolExpr)
	case *pg_query.Node_NullTest:
		arg, typ, err := b.bindExpr(qs, iwc, n.NullTest.Arg)
		if err != nil {
			return nil, none, err
		}
		ret, rtyp, err := b.call("isnull", []*ScalarExpr{arg}, []common.ColumnType{typ})
		if err != nil || n.NullTest.Nulltesttype == pg_query.NullTestType_IS_NULL {
			return ret, rtyp, err
		}
		return b.call("not", []*ScalarExpr{ret}, []common.ColumnType{rtyp})
	case *pg_query.Node_SubLink:
		return b.bindSubquery(qs, iwc, n.SubLink)
	case *pg_query.Node_FuncCall:
		return b.bindFuncCall(qs, iwc, n.FuncCall)
	case *pg_query.Node_TypeCast:
		return b.bindTypeCast(qs, iwc, n.TypeCast)
	case *pg_query.Node_CaseExpr:
		return b.bindCase(qs, iwc, n.CaseExpr)
	case *pg_query.Node_CoalesceExpr:
		args, typs, err := b.bindExprs(qs, iwc, n.CoalesceExpr.Args)
		if err != nil {
			return nil, none, err
		}
		args, typs, err = castToCommon("COALESCE", args, typs)
		if err != nil {
			return nil, none, err
		}
		return b.call("coalesce", args, typs)
	default:
		return nil, none, ErrUnsupported.New(fmt.Sprintf("expression %T", n))
	}
}

func (b *Builder) bindExprs(qs *queryScope, iwc InWhichClause, exprs []*pg_query.Node) ([]*ScalarExpr, []common.ColumnType, error) {
	args := make([]*ScalarExpr, len(exprs))
	typs := make([]common.ColumnType, len(exprs))
	for i, expr := range exprs {
		var err error
		args[i], typs[i], err = b.bindExpr(qs, iwc, expr)
		if err != nil {
			return nil, nil, err
		}
	}
	return args, typs, nil
}

// call binds a registered function and derives its nullability.
func (b *Builder) call(name string, args []*ScalarExpr, typs []common.ColumnType) (*ScalarExpr, common.ColumnType, error) {
	ltyps := make([]common.LType, len(typs))
	for i, typ := range typs {
		ltyps[i] = typ.Typ
	}
	ret, err := BindFunction(name, args, ltyps)
	if err != nil {
		return nil, common.ColumnType{}, err
	}
	nullable := getFunction(name).nullable(typs)
	return ret, common.ColumnType{Typ: ret.DataTyp.Typ, Nullable: nullable}, nil
}

func (b *Builder) bindColumnRef(qs *queryScope, ref *pg_query.ColumnRef) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	parts := make([]string, 0, len(ref.Fields))
	for _, field := range ref.Fields {
		if field.GetAStar() != nil {
			return nil, none, ErrUnsupported.New("* in expressions")
		}
		parts = append(parts, field.GetString_().GetSval())
	}
	var table, column string
	switch len(parts) {
	case 1:
		column = parts[0]
	case 2, 3, 4:
		table, column = parts[len(parts)-2], parts[len(parts)-1]
	default:
		return nil, none, ErrInvalidArgument.New("improper qualified name " + strings.Join(parts, "."))
	}
	bind, depth, err := qs.ctx.GetMatchingBinding(table, column)
	if err != nil {
		return nil, none, err
	}
	return bind.Bind(column, depth)
}

func bindConst(c *pg_query.A_Const) (common.Datum, error) {
	if c.Isnull {
		return common.NullDatum(common.Null()), nil
	}
	switch v := c.Val.(type) {
	case *pg_query.A_Const_Ival:
		i := int64(v.Ival.Ival)
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return common.IntegerDatum(i), nil
		}
		return common.BigintDatum(i), nil
	case *pg_query.A_Const_Fval:
		//integers beyond int4 also arrive as fval
		d, err := dec.Parse(v.Fval.Fval)
		if err != nil {
			return common.Datum{}, ErrInvalidCast.New(v.Fval.Fval, common.DecimalType(0, 0))
		}
		if d.Scale() == 0 {
			if i, _, ok := d.Int64(0); ok {
				return common.BigintDatum(i), nil
			}
		}
		return common.DecimalDatum(d), nil
	case *pg_query.A_Const_Sval:
		return common.VarcharDatum(v.Sval.Sval), nil
	case *pg_query.A_Const_Boolval:
		return common.BoolDatum(v.Boolval.Boolval), nil
	case *pg_query.A_Const_Bsval:
		return common.Datum{}, ErrUnsupported.New("bit string literals")
	default:
		return common.Datum{}, ErrUnsupported.New(fmt.Sprintf("constant %T", v))
	}
}

// coerceLiterals gives an untyped text or null literal the type of the
// other side, the way string constants adapt in comparisons.
func coerceLiterals(args []*ScalarExpr, typs []common.ColumnType) error {
	if len(args) != 2 {
		return nil
	}
	for i := 0; i < 2; i++ {
		lit, other := args[i], typs[1-i].Typ
		if lit.Typ != ET_Literal || other.IsNull() || lit.Datum.Typ.Id == other.Id {
			continue
		}
		if !lit.Datum.IsNull && lit.Datum.Typ.Id != common.LTID_VARCHAR {
			continue
		}
		d, err := castDatum(lit.Datum, other)
		if err != nil {
			return err
		}
		args[i] = Lit(d)
		typs[i] = common.ColumnType{Typ: other, Nullable: d.IsNull}
	}
	return nil
}

func (b *Builder) bindBinary(name string, left, right *ScalarExpr, ltyp, rtyp common.ColumnType) (*ScalarExpr, common.ColumnType, error) {
	args := []*ScalarExpr{left, right}
	typs := []common.ColumnType{ltyp, rtyp}
	if err := coerceLiterals(args, typs); err != nil {
		return nil, common.ColumnType{}, err
	}
	return b.call(name, args, typs)
}

// lastName is the unqualified part of a qualified name.
func lastName(names []*pg_query.Node) string {
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1].GetString_().GetSval()
}

func (b *Builder) bindAExpr(qs *queryScope, iwc InWhichClause, expr *pg_query.A_Expr) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	op := lastName(expr.Name)
	switch expr.Kind {
	case pg_query.A_Expr_Kind_AEXPR_OP:
		right, rtyp, err := b.bindExpr(qs, iwc, expr.Rexpr)
		if err != nil {
			return nil, none, err
		}
		if expr.Lexpr == nil {
			switch op {
			case "-":
				if right.Typ == ET_Literal && !right.Datum.IsNull {
					if d, err := evalNeg(right.Datum.Typ, []common.Datum{right.Datum}); err == nil {
						return Lit(d), rtyp, nil
					}
				}
				return b.call("neg", []*ScalarExpr{right}, []common.ColumnType{rtyp})
			case "+":
				return right, rtyp, nil
			default:
				return nil, none, ErrUnsupported.New("prefix operator " + op)
			}
		}
		left, ltyp, err := b.bindExpr(qs, iwc, expr.Lexpr)
		if err != nil {
			return nil, none, err
		}
		switch op {
		case "!=":
			op = "<>"
		case "~~", "!~~", "~~*", "!~~*":
			return nil, none, ErrUnsupported.New("LIKE")
		}
		if _, ok := scalarFuncs[op]; !ok || !getFunction(op)._infix {
			return nil, none, ErrUnknownFunction.New("operator " + op)
		}
		return b.bindBinary(op, left, right, ltyp, rtyp)
	case pg_query.A_Expr_Kind_AEXPR_IN:
		left, ltyp, err := b.bindExpr(qs, iwc, expr.Lexpr)
		if err != nil {
			return nil, none, err
		}
		list := expr.Rexpr.GetList()
		if list == nil {
			return nil, none, ErrUnsupported.New("IN without a list")
		}
		//x in (a, b) is x = a or x = b. not in is x <> a and x <> b
		cmp, join := "=", "or"
		if op == "<>" {
			cmp, join = "<>", "and"
		}
		var ret *ScalarExpr
		var rtyp common.ColumnType
		for _, item := range list.Items {
			right, typ, err := b.bindExpr(qs, iwc, item)
			if err != nil {
				return nil, none, err
			}
			e, etyp, err := b.bindBinary(cmp, left, right, ltyp, typ)
			if err != nil {
				return nil, none, err
			}
			if ret == nil {
				ret, rtyp = e, etyp
				continue
			}
			if ret, rtyp, err = b.bindBinary(join, ret, e, rtyp, etyp); err != nil {
				return nil, none, err
			}
		}
		return ret, rtyp, nil
	case pg_query.A_Expr_Kind_AEXPR_BETWEEN, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN:
		left, ltyp, err := b.bindExpr(qs, iwc, expr.Lexpr)
		if err != nil {
			return nil, none, err
		}
		list := expr.Rexpr.GetList()
		if list == nil || len(list.Items) != 2 {
			return nil, none, ErrInvalidArgument.New("BETWEEN needs two bounds")
		}
		lo, lotyp, err := b.bindExpr(qs, iwc, list.Items[0])
		if err != nil {
			return nil, none, err
		}
		hi, hityp, err := b.bindExpr(qs, iwc, list.Items[1])
		if err != nil {
			return nil, none, err
		}
		ge, getyp, err := b.bindBinary(">=", left, lo, ltyp, lotyp)
		if err != nil {
			return nil, none, err
		}
		le, letyp, err := b.bindBinary("<=", left, hi, ltyp, hityp)
		if err != nil {
			return nil, none, err
		}
		ret, rtyp, err := b.bindBinary("and", ge, le, getyp, letyp)
		if err != nil || expr.Kind == pg_query.A_Expr_Kind_AEXPR_BETWEEN {
			return ret, rtyp, err
		}
		return b.call("not", []*ScalarExpr{ret}, []common.ColumnType{rtyp})
	case pg_query.A_Expr_Kind_AEXPR_DISTINCT, pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT:
		left, ltyp, err := b.bindExpr(qs, iwc, expr.Lexpr)
		if err != nil {
			return nil, none, err
		}
		right, rtyp, err := b.bindExpr(qs, iwc, expr.Rexpr)
		if err != nil {
			return nil, none, err
		}
		ret, typ, err := b.bindBinary("<=>", left, right, ltyp, rtyp)
		if err != nil || expr.Kind == pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT {
			return ret, typ, err
		}
		return b.call("not", []*ScalarExpr{ret}, []common.ColumnType{typ})
	case pg_query.A_Expr_Kind_AEXPR_NULLIF:
		left, ltyp, err := b.bindExpr(qs, iwc, expr.Lexpr)
		if err != nil {
			return nil, none, err
		}
		right, rtyp, err := b.bindExpr(qs, iwc, expr.Rexpr)
		if err != nil {
			return nil, none, err
		}
		return b.bindBinary("nullif", left, right, ltyp, rtyp)
	case pg_query.A_Expr_Kind_AEXPR_LIKE, pg_query.A_Expr_Kind_AEXPR_ILIKE:
		return nil, none, ErrUnsupported.New("LIKE")
	default:
		return nil, none, ErrUnsupported.New(fmt.Sprintf("operator kind %s", expr.Kind))
	}
}

func (b *Builder) bindBoolExpr(qs *queryScope, iwc InWhichClause, expr *pg_query.BoolExpr) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	args, typs, err := b.bindExprs(qs, iwc, expr.Args)
	if err != nil {
		return nil, none, err
	}
	switch expr.Boolop {
	case pg_query.BoolExprType_NOT_EXPR:
		return b.call("not", args, typs)
	case pg_query.BoolExprType_AND_EXPR, pg_query.BoolExprType_OR_EXPR:
		name := "and"
		if expr.Boolop == pg_query.BoolExprType_OR_EXPR {
			name = "or"
		}
		ret, rtyp := args[0], typs[0]
		for i := 1; i < len(args); i++ {
			if ret, rtyp, err = b.bindBinary(name, ret, args[i], rtyp, typs[i]); err != nil {
				return nil, none, err
			}
		}
		return ret, rtyp, nil
	default:
		return nil, none, ErrUnsupported.New(fmt.Sprintf("bool expression %s", expr.Boolop))
	}
}

func (b *Builder) bindSubquery(qs *queryScope, iwc InWhichClause, link *pg_query.SubLink) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	if !iwc.allowSubquery() {
		return nil, none, ErrUnsupported.New("subquery in " + iwc.String())
	}
	sel := link.Subselect.GetSelectStmt()
	if sel == nil {
		return nil, none, ErrUnsupported.New(fmt.Sprintf("subquery %T", link.Subselect.GetNode()))
	}
	switch link.SubLinkType {
	case pg_query.SubLinkType_EXPR_SUBLINK, pg_query.SubLinkType_EXISTS_SUBLINK:
	case pg_query.SubLinkType_ANY_SUBLINK:
		return nil, none, ErrUnsupported.New("IN subquery")
	default:
		return nil, none, ErrUnsupported.New(fmt.Sprintf("subquery kind %s", link.SubLinkType))
	}
	rel, names, err := b.buildSelect(sel, NewBindContext(qs.ctx))
	if err != nil {
		return nil, none, err
	}
	if link.SubLinkType == pg_query.SubLinkType_EXISTS_SUBLINK {
		return Exists(rel), common.ColumnType{Typ: common.BooleanType()}, nil
	}
	if len(names) != 1 {
		return nil, none, ErrSubqueryColumns.New(len(names))
	}
	return Select(rel), rel.Type().Columns[0].WithNullable(true), nil
}

func getFuncName(fc *pg_query.FuncCall) string {
	name := lastName(fc.Funcname)
	if name == "substring" {
		return "substr"
	}
	return name
}

func (b *Builder) bindFuncCall(qs *queryScope, iwc InWhichClause, fc *pg_query.FuncCall) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	if fc.Over != nil {
		return nil, none, ErrUnsupported.New("window functions")
	}
	name := getFuncName(fc)
	if fun, ok := aggFuncByName(name); ok {
		return b.bindAggregate(qs, iwc, fc, fun)
	}
	if fc.AggStar || fc.AggDistinct || len(fc.AggOrder) != 0 || fc.AggFilter != nil {
		return nil, none, ErrInvalidArgument.New(name + " is not an aggregate function")
	}
	if fc.FuncVariadic {
		return nil, none, ErrUnsupported.New("VARIADIC")
	}
	args, typs, err := b.bindExprs(qs, iwc, fc.Args)
	if err != nil {
		return nil, none, err
	}
	return b.call(name, args, typs)
}

func (b *Builder) bindAggregate(qs *queryScope, iwc InWhichClause, fc *pg_query.FuncCall, fun AggFunc) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	if !iwc.allowAggregate() {
		return nil, none, ErrAggregateNotAllowed.New(iwc.String())
	}
	if len(fc.AggOrder) != 0 || fc.AggFilter != nil || fc.AggWithinGroup {
		return nil, none, ErrUnsupported.New("aggregate ORDER BY or FILTER")
	}
	agg := &AggregateExpr{Func: fun, Distinct: fc.AggDistinct}
	if fc.AggStar {
		if fun != AGG_Count {
			return nil, none, ErrNoOverload.New(fun.String() + "(*)")
		}
	} else {
		if len(fc.Args) != 1 {
			return nil, none, ErrNoOverload.New(fmt.Sprintf("%s with %d arguments", fun, len(fc.Args)))
		}
		arg, typ, err := b.bindExpr(qs, IWC_AGG, fc.Args[0])
		if err != nil {
			return nil, none, err
		}
		if _, ok := aggResultType(fun, typ.Typ); !ok {
			return nil, none, ErrNoOverload.New(fmt.Sprintf("%s(%s)", fun, typ.Typ))
		}
		agg.Expr = arg
	}
	typ := agg.ColumnType(qs.ctx.columns, len(qs.groups) == 0)
	return qs.addAggregate(agg, typ), typ, nil
}

func typeName(tn *pg_query.TypeName) string {
	for i := len(tn.Names) - 1; i >= 0; i-- {
		if name := tn.Names[i].GetString_().GetSval(); name != "pg_catalog" {
			return name
		}
	}
	return ""
}

func resolveType(tn *pg_query.TypeName) (common.LType, error) {
	if len(tn.ArrayBounds) != 0 {
		return common.LType{}, ErrUnsupported.New("array types")
	}
	name := typeName(tn)
	typ, ok := common.LTypeFromName(name)
	if !ok {
		return common.LType{}, ErrUnknownType.New(name)
	}
	return typ, nil
}

func (b *Builder) bindTypeCast(qs *queryScope, iwc InWhichClause, cast *pg_query.TypeCast) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	to, err := resolveType(cast.TypeName)
	if err != nil {
		return nil, none, err
	}
	arg, typ, err := b.bindExpr(qs, iwc, cast.Arg)
	if err != nil {
		return nil, none, err
	}
	if arg.Typ == ET_Literal {
		d, err := castDatum(arg.Datum, to)
		if err != nil {
			return nil, none, err
		}
		return Lit(d), common.ColumnType{Typ: to, Nullable: d.IsNull}, nil
	}
	ret, err := BindCast(arg, typ.Typ, to)
	if err != nil {
		return nil, none, err
	}
	return ret, common.ColumnType{Typ: to, Nullable: typ.Nullable}, nil
}

// castToCommon casts every argument to their common type.
func castToCommon(what string, args []*ScalarExpr, typs []common.ColumnType) ([]*ScalarExpr, []common.ColumnType, error) {
	target := common.Null()
	for _, typ := range typs {
		next, ok := common.MaxLType(target, typ.Typ)
		if !ok {
			return nil, nil, ErrSetOpTypeMismatch.New(what, target, typ.Typ)
		}
		target = next
	}
	if target.IsNull() {
		target = common.VarcharType()
	}
	for i, arg := range args {
		cast, err := BindCast(arg, typs[i].Typ, target)
		if err != nil {
			return nil, nil, err
		}
		args[i] = cast
		typs[i] = common.ColumnType{Typ: target, Nullable: typs[i].Nullable}
	}
	return args, typs, nil
}

func (b *Builder) bindCase(qs *queryScope, iwc InWhichClause, expr *pg_query.CaseExpr) (*ScalarExpr, common.ColumnType, error) {
	var none common.ColumnType
	var arg *ScalarExpr
	var argTyp common.ColumnType
	var err error
	if expr.Arg != nil {
		if arg, argTyp, err = b.bindExpr(qs, iwc, expr.Arg); err != nil {
			return nil, none, err
		}
	}
	conds := make([]*ScalarExpr, 0, len(expr.Args))
	results := make([]*ScalarExpr, 0, len(expr.Args)+1)
	typs := make([]common.ColumnType, 0, len(expr.Args)+1)
	for _, node := range expr.Args {
		when := node.GetCaseWhen()
		if when == nil {
			return nil, none, ErrUnsupported.New(fmt.Sprintf("CASE item %T", node.GetNode()))
		}
		cond, ctyp, err := b.bindExpr(qs, iwc, when.Expr)
		if err != nil {
			return nil, none, err
		}
		if arg != nil {
			if cond, ctyp, err = b.bindBinary("=", arg, cond, argTyp, ctyp); err != nil {
				return nil, none, err
			}
		}
		if ctyp.Typ.Id != common.LTID_BOOLEAN && !ctyp.Typ.IsNull() {
			return nil, none, ErrInvalidArgument.New(fmt.Sprintf("argument of CASE/WHEN must be type bool, not type %s", ctyp.Typ))
		}
		conds = append(conds, cond)
		result, rtyp, err := b.bindExpr(qs, iwc, when.Result)
		if err != nil {
			return nil, none, err
		}
		results = append(results, result)
		typs = append(typs, rtyp)
	}
	if expr.Defresult != nil {
		els, etyp, err := b.bindExpr(qs, iwc, expr.Defresult)
		if err != nil {
			return nil, none, err
		}
		results = append(results, els)
		typs = append(typs, etyp)
	} else {
		results = append(results, Lit(common.NullDatum(common.Null())))
		typs = append(typs, common.ColumnType{Typ: common.Null(), Nullable: true})
	}
	results, typs, err = castToCommon("CASE", results, typs)
	if err != nil {
		return nil, none, err
	}
	ret, rtyp := results[len(results)-1], typs[len(typs)-1]
	for i := len(conds) - 1; i >= 0; i-- {
		ret = If(conds[i], results[i], ret)
		rtyp = typs[i].Union(rtyp)
	}
	return ret, rtyp, nil
}
