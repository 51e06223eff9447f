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
	"strconv"
	"strings"

	dec "github.com/govalues/decimal"

	"github.com/daviszhen/relplan/pkg/common"
)

type FuncNullHandling int

const (
	//null in, null out
	DefaultNullHandling FuncNullHandling = iota
	//null in, maybe null out. the function sees null arguments
	SpecialHandling
	NeverNull
	//null only if every argument is null
	NullIfAllNull
	MayBeNull
)

type bindFunc func(args []common.LType) (common.LType, bool)
type evalFunc func(ret common.LType, args []common.Datum) (common.Datum, error)

type Function struct {
	_name         string
	_infix        bool
	_nullHandling FuncNullHandling
	_bind         bindFunc
	_eval         evalFunc
	//custom rendering of casts
	_format func(args []string) string
}

func (fun *Function) Name() string {
	return fun._name
}

func (fun *Function) nullable(args []common.ColumnType) bool {
	switch fun._nullHandling {
	case DefaultNullHandling, SpecialHandling:
		for _, arg := range args {
			if arg.Nullable {
				return true
			}
		}
		return false
	case NeverNull:
		return false
	case NullIfAllNull:
		for _, arg := range args {
			if !arg.Nullable {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (fun *Function) format(args []string) string {
	if fun._format != nil {
		return fun._format(args)
	}
	if fun._infix && len(args) == 2 {
		return fmt.Sprintf("(%s %s %s)", args[0], fun._name, args[1])
	}
	return fun._name + "(" + strings.Join(args, ", ") + ")"
}

func (fun *Function) Eval(ret common.LType, args []common.Datum) (common.Datum, error) {
	if fun._nullHandling == DefaultNullHandling {
		for _, arg := range args {
			if arg.IsNull {
				return common.NullDatum(ret), nil
			}
		}
	}
	return fun._eval(ret, args)
}

type FunctionList map[string]*Function

func (flist FunctionList) Add(fun *Function) {
	if _, ok := flist[fun._name]; ok {
		panic(fmt.Sprintf("function %s already registered", fun._name))
	}
	flist[fun._name] = fun
}

var scalarFuncs = make(FunctionList)

func init() {
	RegisterOps()
	RegisterCasts()
}

func getFunction(name string) *Function {
	fun, ok := scalarFuncs[name]
	if !ok {
		panic(fmt.Sprintf("usp function %s", name))
	}
	return fun
}

// BindFunction resolves the overload of name for the argument types.
func BindFunction(name string, args []*ScalarExpr, argTyps []common.LType) (*ScalarExpr, error) {
	fun, ok := scalarFuncs[name]
	if !ok {
		return nil, ErrUnknownFunction.New(name)
	}
	ret, ok := fun._bind(argTyps)
	if !ok {
		return nil, ErrNoOverload.New(signature(fun, argTyps))
	}
	return callFunc(name, ret, args...), nil
}

func signature(fun *Function, args []common.LType) string {
	names := make([]string, len(args))
	for i, arg := range args {
		names[i] = arg.String()
	}
	if fun._infix && len(names) == 2 {
		return fmt.Sprintf("%s %s %s", names[0], fun._name, names[1])
	}
	return fun._name + "(" + strings.Join(names, ", ") + ")"
}

func RegisterOps() {
	for _, op := range []string{"+", "-", "*", "/", "%"} {
		scalarFuncs.Add(&Function{_name: op, _infix: true, _bind: bindArith, _eval: evalArith(op)})
	}
	for _, op := range []string{"=", "<>", "<", "<=", ">", ">="} {
		scalarFuncs.Add(&Function{_name: op, _infix: true, _bind: bindCompare, _eval: evalCompare(op)})
	}
	//null safe equality. null <=> null is true
	scalarFuncs.Add(&Function{_name: "<=>", _infix: true, _nullHandling: NeverNull, _bind: bindCompare, _eval: evalNotDistinct})
	scalarFuncs.Add(&Function{_name: "and", _infix: true, _nullHandling: SpecialHandling, _bind: bindBool(2), _eval: evalAnd})
	scalarFuncs.Add(&Function{_name: "or", _infix: true, _nullHandling: SpecialHandling, _bind: bindBool(2), _eval: evalOr})
	scalarFuncs.Add(&Function{_name: "||", _infix: true, _bind: bindConcatOp, _eval: evalConcat})
	scalarFuncs.Add(&Function{_name: "not", _bind: bindBool(1), _eval: evalNot})
	scalarFuncs.Add(&Function{_name: "neg", _bind: bindNumeric, _eval: evalNeg})
	scalarFuncs.Add(&Function{_name: "abs", _bind: bindNumeric, _eval: evalAbs})
	scalarFuncs.Add(&Function{_name: "isnull", _nullHandling: NeverNull, _bind: bindAny(1, common.BooleanType()), _eval: evalIsNull})
	scalarFuncs.Add(&Function{_name: "coalesce", _nullHandling: NullIfAllNull, _bind: bindCommon, _eval: evalCoalesce})
	scalarFuncs.Add(&Function{_name: "nullif", _nullHandling: MayBeNull, _bind: bindNullIf, _eval: evalNullIf})
	scalarFuncs.Add(&Function{_name: "concat", _nullHandling: NeverNull, _bind: bindConcat, _eval: evalConcat})
	scalarFuncs.Add(&Function{_name: "lower", _bind: bindText(1, common.VarcharType()), _eval: evalLower})
	scalarFuncs.Add(&Function{_name: "upper", _bind: bindText(1, common.VarcharType()), _eval: evalUpper})
	scalarFuncs.Add(&Function{_name: "length", _bind: bindText(1, common.IntegerType()), _eval: evalLength})
	scalarFuncs.Add(&Function{_name: "substr", _bind: bindSubstr, _eval: evalSubstr})
}

func bindArith(args []common.LType) (common.LType, bool) {
	if len(args) != 2 {
		return common.LType{}, false
	}
	ret, ok := common.MaxLType(args[0], args[1])
	if !ok {
		return ret, false
	}
	if ret.IsNull() {
		return common.IntegerType(), true
	}
	return ret, ret.IsNumeric()
}

func bindCompare(args []common.LType) (common.LType, bool) {
	if len(args) != 2 {
		return common.LType{}, false
	}
	_, ok := common.MaxLType(args[0], args[1])
	return common.BooleanType(), ok
}

func bindBool(n int) bindFunc {
	return func(args []common.LType) (common.LType, bool) {
		if len(args) != n {
			return common.LType{}, false
		}
		for _, arg := range args {
			if arg.Id != common.LTID_BOOLEAN && !arg.IsNull() {
				return common.LType{}, false
			}
		}
		return common.BooleanType(), true
	}
}

func bindNumeric(args []common.LType) (common.LType, bool) {
	if len(args) != 1 {
		return common.LType{}, false
	}
	if args[0].IsNull() {
		return common.IntegerType(), true
	}
	return args[0], args[0].IsNumeric()
}

func bindAny(n int, ret common.LType) bindFunc {
	return func(args []common.LType) (common.LType, bool) {
		return ret, len(args) == n
	}
}

func bindText(n int, ret common.LType) bindFunc {
	return func(args []common.LType) (common.LType, bool) {
		if len(args) != n {
			return common.LType{}, false
		}
		for _, arg := range args {
			if arg.Id != common.LTID_VARCHAR && !arg.IsNull() {
				return common.LType{}, false
			}
		}
		return ret, true
	}
}

func bindCommon(args []common.LType) (common.LType, bool) {
	if len(args) == 0 {
		return common.LType{}, false
	}
	ret := args[0]
	for _, arg := range args[1:] {
		var ok bool
		ret, ok = common.MaxLType(ret, arg)
		if !ok {
			return ret, false
		}
	}
	return ret, true
}

func bindNullIf(args []common.LType) (common.LType, bool) {
	if len(args) != 2 {
		return common.LType{}, false
	}
	if _, ok := common.MaxLType(args[0], args[1]); !ok {
		return common.LType{}, false
	}
	return args[0], true
}

func bindConcatOp(args []common.LType) (common.LType, bool) {
	if len(args) != 2 {
		return common.LType{}, false
	}
	if args[0].Id != common.LTID_VARCHAR && args[1].Id != common.LTID_VARCHAR {
		return common.LType{}, false
	}
	return common.VarcharType(), true
}

func bindConcat(args []common.LType) (common.LType, bool) {
	return common.VarcharType(), len(args) > 0
}

func bindSubstr(args []common.LType) (common.LType, bool) {
	if len(args) != 2 && len(args) != 3 {
		return common.LType{}, false
	}
	if args[0].Id != common.LTID_VARCHAR && !args[0].IsNull() {
		return common.LType{}, false
	}
	for _, arg := range args[1:] {
		if arg.Id != common.LTID_INTEGER && arg.Id != common.LTID_BIGINT && !arg.IsNull() {
			return common.LType{}, false
		}
	}
	return common.VarcharType(), true
}

func evalArith(op string) evalFunc {
	return func(ret common.LType, args []common.Datum) (common.Datum, error) {
		l, r := args[0], args[1]
		switch ret.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			v, err := arithInt(op, l.I64, r.I64)
			if err != nil {
				return common.Datum{}, err
			}
			if ret.Id == common.LTID_INTEGER && (v > math.MaxInt32 || v < math.MinInt32) {
				return common.Datum{}, ErrNumericOverflow.New("int4")
			}
			return common.Datum{Typ: ret, I64: v}, nil
		case common.LTID_DECIMAL:
			ld, _ := l.AsDecimal()
			rd, _ := r.AsDecimal()
			v, err := arithDecimal(op, ld, rd)
			if err != nil {
				return common.Datum{}, err
			}
			return common.DecimalDatum(v), nil
		case common.LTID_DOUBLE:
			lf, _ := l.AsFloat()
			rf, _ := r.AsFloat()
			v, err := arithFloat(op, lf, rf)
			if err != nil {
				return common.Datum{}, err
			}
			return common.DoubleDatum(v), nil
		default:
			panic(fmt.Sprintf("usp arith type %s", ret))
		}
	}
}

func arithInt(op string, l, r int64) (int64, error) {
	switch op {
	case "+":
		v := l + r
		if (v > l) != (r > 0) {
			return 0, ErrNumericOverflow.New("int8")
		}
		return v, nil
	case "-":
		v := l - r
		if (v < l) != (r > 0) {
			return 0, ErrNumericOverflow.New("int8")
		}
		return v, nil
	case "*":
		if l == 0 || r == 0 {
			return 0, nil
		}
		v := l * r
		if v/r != l || (l == -1 && r == math.MinInt64) || (r == -1 && l == math.MinInt64) {
			return 0, ErrNumericOverflow.New("int8")
		}
		return v, nil
	case "/":
		if r == 0 {
			return 0, ErrDivisionByZero.New()
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, ErrDivisionByZero.New()
		}
		return l % r, nil
	default:
		panic(fmt.Sprintf("usp op %s", op))
	}
}

func arithDecimal(op string, l, r dec.Decimal) (dec.Decimal, error) {
	switch op {
	case "+":
		return l.Add(r)
	case "-":
		return l.Sub(r)
	case "*":
		return l.Mul(r)
	case "/":
		if r.IsZero() {
			return dec.Decimal{}, ErrDivisionByZero.New()
		}
		return l.Quo(r)
	case "%":
		if r.IsZero() {
			return dec.Decimal{}, ErrDivisionByZero.New()
		}
		_, rem, err := l.QuoRem(r)
		return rem, err
	default:
		panic(fmt.Sprintf("usp op %s", op))
	}
}

func arithFloat(op string, l, r float64) (float64, error) {
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, ErrDivisionByZero.New()
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, ErrDivisionByZero.New()
		}
		return math.Mod(l, r), nil
	default:
		panic(fmt.Sprintf("usp op %s", op))
	}
}

func evalCompare(op string) evalFunc {
	return func(_ common.LType, args []common.Datum) (common.Datum, error) {
		c := args[0].Compare(args[1])
		var ret bool
		switch op {
		case "=":
			ret = c == 0
		case "<>":
			ret = c != 0
		case "<":
			ret = c < 0
		case "<=":
			ret = c <= 0
		case ">":
			ret = c > 0
		case ">=":
			ret = c >= 0
		default:
			panic(fmt.Sprintf("usp op %s", op))
		}
		return common.BoolDatum(ret), nil
	}
}

func evalAnd(_ common.LType, args []common.Datum) (common.Datum, error) {
	hasNull := false
	for _, arg := range args {
		if arg.IsNull {
			hasNull = true
		} else if !arg.Bool {
			return common.BoolDatum(false), nil
		}
	}
	if hasNull {
		return common.NullDatum(common.BooleanType()), nil
	}
	return common.BoolDatum(true), nil
}

func evalOr(_ common.LType, args []common.Datum) (common.Datum, error) {
	hasNull := false
	for _, arg := range args {
		if arg.IsNull {
			hasNull = true
		} else if arg.Bool {
			return common.BoolDatum(true), nil
		}
	}
	if hasNull {
		return common.NullDatum(common.BooleanType()), nil
	}
	return common.BoolDatum(false), nil
}

func evalNot(_ common.LType, args []common.Datum) (common.Datum, error) {
	return common.BoolDatum(!args[0].Bool), nil
}

func evalNeg(ret common.LType, args []common.Datum) (common.Datum, error) {
	arg := args[0]
	switch ret.Id {
	case common.LTID_INTEGER, common.LTID_BIGINT:
		if arg.I64 == math.MinInt64 {
			return common.Datum{}, ErrNumericOverflow.New("int8")
		}
		return common.Datum{Typ: ret, I64: -arg.I64}, nil
	case common.LTID_DECIMAL:
		return common.DecimalDatum(arg.Dec.Neg()), nil
	default:
		return common.DoubleDatum(-arg.F64), nil
	}
}

func evalAbs(ret common.LType, args []common.Datum) (common.Datum, error) {
	if args[0].Compare(common.Datum{Typ: ret}) >= 0 {
		return args[0], nil
	}
	return evalNeg(ret, args)
}

func evalNotDistinct(_ common.LType, args []common.Datum) (common.Datum, error) {
	return common.BoolDatum(args[0].Compare(args[1]) == 0), nil
}

func evalIsNull(_ common.LType, args []common.Datum) (common.Datum, error) {
	return common.BoolDatum(args[0].IsNull), nil
}

func evalCoalesce(ret common.LType, args []common.Datum) (common.Datum, error) {
	for _, arg := range args {
		if !arg.IsNull {
			return castDatum(arg, ret)
		}
	}
	return common.NullDatum(ret), nil
}

func evalNullIf(ret common.LType, args []common.Datum) (common.Datum, error) {
	if !args[0].IsNull && !args[1].IsNull && args[0].Compare(args[1]) == 0 {
		return common.NullDatum(ret), nil
	}
	return args[0], nil
}

func datumText(d common.Datum) string {
	switch d.Typ.Id {
	case common.LTID_VARCHAR, common.LTID_DATE, common.LTID_TIMESTAMP, common.LTID_INTERVAL:
		return d.Str
	default:
		return d.String()
	}
}

func evalConcat(_ common.LType, args []common.Datum) (common.Datum, error) {
	var sb strings.Builder
	for _, arg := range args {
		if arg.IsNull {
			continue
		}
		sb.WriteString(datumText(arg))
	}
	return common.VarcharDatum(sb.String()), nil
}

func evalLower(_ common.LType, args []common.Datum) (common.Datum, error) {
	return common.VarcharDatum(strings.ToLower(args[0].Str)), nil
}

func evalUpper(_ common.LType, args []common.Datum) (common.Datum, error) {
	return common.VarcharDatum(strings.ToUpper(args[0].Str)), nil
}

func evalLength(_ common.LType, args []common.Datum) (common.Datum, error) {
	return common.IntegerDatum(int64(len([]rune(args[0].Str)))), nil
}

// evalSubstr counts characters from 1. A start before the string
// shortens the length.
func evalSubstr(_ common.LType, args []common.Datum) (common.Datum, error) {
	runes := []rune(args[0].Str)
	start := args[1].I64
	end := int64(len(runes)) + 1
	if len(args) == 3 {
		if args[2].I64 < 0 {
			return common.Datum{}, ErrInvalidArgument.New("negative substring length")
		}
		end = start + args[2].I64
	}
	start = max(start, 1)
	end = min(end, int64(len(runes))+1)
	if start >= end {
		return common.VarcharDatum(""), nil
	}
	return common.VarcharDatum(string(runes[start-1 : end-1])), nil
}

func castFuncName(typ common.LType) string {
	return "cast_" + typ.String()
}

// BindCast converts arg to typ. Casting to the own type is a no-op.
func BindCast(arg *ScalarExpr, from, to common.LType) (*ScalarExpr, error) {
	if from.Id == to.Id {
		return arg, nil
	}
	if arg.Typ == ET_Literal && arg.Datum.IsNull {
		return Lit(common.NullDatum(to)), nil
	}
	return BindFunction(castFuncName(to), []*ScalarExpr{arg}, []common.LType{from})
}

func RegisterCasts() {
	for _, typ := range []common.LType{
		common.BooleanType(),
		common.IntegerType(),
		common.BigintType(),
		common.DecimalType(0, 0),
		common.DoubleType(),
		common.VarcharType(),
		common.DateType(),
		common.TimestampType(),
		common.IntervalType(),
	} {
		target := typ
		scalarFuncs.Add(&Function{
			_name: castFuncName(target),
			_bind: func(args []common.LType) (common.LType, bool) {
				return target, len(args) == 1 && castable(args[0], target)
			},
			_eval: func(ret common.LType, args []common.Datum) (common.Datum, error) {
				return castDatum(args[0], ret)
			},
			_format: func(args []string) string {
				return fmt.Sprintf("cast(%s as %s)", args[0], target)
			},
		})
	}
}

func castable(from, to common.LType) bool {
	switch {
	case from.IsNull(), from.Id == to.Id:
		return true
	case to.Id == common.LTID_VARCHAR, from.Id == common.LTID_VARCHAR:
		return true
	case from.IsNumeric() && to.IsNumeric():
		return true
	case from.Id == common.LTID_DATE && to.Id == common.LTID_TIMESTAMP:
		return true
	}
	return false
}

func castDatum(d common.Datum, to common.LType) (common.Datum, error) {
	if d.IsNull {
		return common.NullDatum(to), nil
	}
	if d.Typ.Id == to.Id {
		return d, nil
	}
	invalid := func() error {
		return ErrInvalidCast.New(datumText(d), to)
	}
	switch to.Id {
	case common.LTID_VARCHAR:
		return common.VarcharDatum(datumText(d)), nil
	case common.LTID_DATE, common.LTID_TIMESTAMP, common.LTID_INTERVAL:
		return common.Datum{Typ: to, Str: datumText(d)}, nil
	case common.LTID_BOOLEAN:
		b, err := strconv.ParseBool(d.Str)
		if err != nil || d.Typ.Id != common.LTID_VARCHAR {
			return common.Datum{}, invalid()
		}
		return common.BoolDatum(b), nil
	case common.LTID_INTEGER, common.LTID_BIGINT:
		var v int64
		switch d.Typ.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			v = d.I64
		case common.LTID_DECIMAL:
			w, _, ok := d.Dec.Round(0).Int64(0)
			if !ok {
				return common.Datum{}, invalid()
			}
			v = w
		case common.LTID_DOUBLE:
			if math.IsNaN(d.F64) || d.F64 > math.MaxInt64 || d.F64 < math.MinInt64 {
				return common.Datum{}, invalid()
			}
			v = int64(math.RoundToEven(d.F64))
		case common.LTID_VARCHAR:
			var err error
			v, err = strconv.ParseInt(strings.TrimSpace(d.Str), 10, 64)
			if err != nil {
				return common.Datum{}, invalid()
			}
		default:
			return common.Datum{}, invalid()
		}
		if to.Id == common.LTID_INTEGER && (v > math.MaxInt32 || v < math.MinInt32) {
			return common.Datum{}, ErrNumericOverflow.New("int4")
		}
		return common.Datum{Typ: to, I64: v}, nil
	case common.LTID_DECIMAL:
		switch d.Typ.Id {
		case common.LTID_INTEGER, common.LTID_BIGINT:
			v, _ := d.AsDecimal()
			return common.DecimalDatum(v), nil
		case common.LTID_DOUBLE:
			v, err := dec.NewFromFloat64(d.F64)
			if err != nil {
				return common.Datum{}, invalid()
			}
			return common.DecimalDatum(v), nil
		case common.LTID_VARCHAR:
			v, err := dec.Parse(strings.TrimSpace(d.Str))
			if err != nil {
				return common.Datum{}, invalid()
			}
			return common.DecimalDatum(v), nil
		}
	case common.LTID_DOUBLE:
		if d.Typ.Id == common.LTID_VARCHAR {
			v, err := strconv.ParseFloat(strings.TrimSpace(d.Str), 64)
			if err != nil {
				return common.Datum{}, invalid()
			}
			return common.DoubleDatum(v), nil
		}
		if v, ok := d.AsFloat(); ok {
			return common.DoubleDatum(v), nil
		}
	}
	return common.Datum{}, invalid()
}
