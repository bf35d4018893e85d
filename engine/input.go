package engine

import (
	"github.com/BaSui01/scoreflow/types"
)

// checkArguments 校验必填字段存在且非 null，并检查声明类型可被转换
func checkArguments(inputs []types.Field, args types.Record) error {
	for _, f := range inputs {
		v, ok := args[f.Name]
		if !ok || v.IsNull() {
			if f.Required {
				return types.Errorf(types.ErrEvaluation, "missing required field %q", f.Name)
			}
			continue
		}
		if err := checkType(f, v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(f types.Field, v types.Value) error {
	switch f.Type {
	case types.FieldNumber:
		if _, ok := v.AsFloat(); !ok {
			return types.Errorf(types.ErrEvaluation, "field %q: expected number, got %s %q", f.Name, v.Kind(), v.String())
		}
	case types.FieldBoolean:
		if _, ok := v.AsBool(); !ok {
			return types.Errorf(types.ErrEvaluation, "field %q: expected boolean, got %s %q", f.Name, v.Kind(), v.String())
		}
	case types.FieldString:
		if !v.IsScalar() {
			return types.Errorf(types.ErrEvaluation, "field %q: expected string, got %s", f.Name, v.Kind())
		}
	}
	return nil
}

// numberArg returns the numeric value of an optional field; absent fields read as zero.
func numberArg(args types.Record, name string) (float64, bool, error) {
	v, ok := args[name]
	if !ok || v.IsNull() {
		return 0, false, nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return 0, false, types.Errorf(types.ErrEvaluation, "field %q: expected number, got %s %q", name, v.Kind(), v.String())
	}
	return f, true, nil
}

// stringsArg flattens a scalar or sequence into its string forms.
func stringsArg(v types.Value) []string {
	switch v.Kind() {
	case types.KindNull:
		return nil
	case types.KindSequence:
		elems := v.Elements()
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			out = append(out, stringsArg(e)...)
		}
		return out
	default:
		return []string{v.String()}
	}
}
