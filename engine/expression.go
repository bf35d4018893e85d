package engine

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/BaSui01/scoreflow/types"
)

func init() {
	Register("expression", buildExpression)
}

// expressionSpec 使用 CEL (Common Expression Language) 表达式计算输出字段。
//
// 每个输入字段声明为同名 CEL 变量，类型由字段类型决定：
// number → double，string → string，boolean → bool，any → dyn。
//
// 示例：
//   - score: "0.4 * age + 1.5 * income"
//   - segment: "income > 1000.0 ? \"high\" : \"low\""
type expressionSpec struct {
	Outputs []expressionOutput `yaml:"outputs" validate:"required,min=1,dive"`
}

type expressionOutput struct {
	Name string `yaml:"name" validate:"required,identifier"`
	Expr string `yaml:"expr" validate:"required"`
}

type compiledOutput struct {
	name string
	prg  cel.Program
}

type expressionModel struct {
	schema  types.Schema
	outputs []compiledOutput
}

func buildExpression(doc *Document) (Evaluator, error) {
	if len(doc.Inputs) == 0 {
		return nil, errors.New("expression model requires declared inputs")
	}
	var spec expressionSpec
	if err := doc.DecodeSpec(&spec); err != nil {
		return nil, err
	}

	// CEL 变量全部必填，激活时缺失变量会导致求值失败
	inputs := make([]types.Field, len(doc.Inputs))
	opts := make([]cel.EnvOption, 0, len(doc.Inputs))
	for i, f := range doc.Inputs {
		if err := validate.Var(f.Name, "identifier"); err != nil {
			return nil, fmt.Errorf("input %q is not a valid identifier", f.Name)
		}
		f.Required = true
		inputs[i] = f
		opts = append(opts, cel.Variable(f.Name, celType(f.Type)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	outputs := make([]compiledOutput, 0, len(spec.Outputs))
	fields := make([]types.Field, 0, len(spec.Outputs))
	seen := make(map[string]struct{}, len(spec.Outputs))
	for _, out := range spec.Outputs {
		if _, dup := seen[out.Name]; dup {
			return nil, fmt.Errorf("duplicate output %q", out.Name)
		}
		seen[out.Name] = struct{}{}

		ast, issues := env.Compile(out.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile %q: %w", out.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", out.Name, err)
		}
		outputs = append(outputs, compiledOutput{name: out.Name, prg: prg})
		fields = append(fields, types.Field{Name: out.Name, Type: types.FieldAny})
	}

	return &expressionModel{
		schema: types.Schema{
			Kind:       doc.Kind,
			Summary:    doc.Summary,
			Inputs:     inputs,
			Outputs:    fields,
			GroupField: doc.GroupField,
		},
		outputs: outputs,
	}, nil
}

func celType(t types.FieldType) *cel.Type {
	switch t {
	case types.FieldNumber:
		return cel.DoubleType
	case types.FieldString:
		return cel.StringType
	case types.FieldBoolean:
		return cel.BoolType
	default:
		return cel.DynType
	}
}

func (m *expressionModel) Schema() types.Schema { return m.schema }

func (m *expressionModel) Evaluate(args types.Record) (types.Record, error) {
	if err := checkArguments(m.schema.Inputs, args); err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(m.schema.Inputs))
	for _, f := range m.schema.Inputs {
		v := args[f.Name]
		switch f.Type {
		case types.FieldNumber:
			activation[f.Name], _ = v.AsFloat()
		case types.FieldBoolean:
			activation[f.Name], _ = v.AsBool()
		case types.FieldString:
			activation[f.Name] = v.String()
		default:
			activation[f.Name] = v.Interface()
		}
	}

	result := make(types.Record, len(m.outputs))
	for _, out := range m.outputs {
		val, _, err := out.prg.Eval(activation)
		if err != nil {
			return nil, types.Errorf(types.ErrEvaluation, "output %q: %v", out.name, err)
		}
		v, err := fromCEL(val)
		if err != nil {
			return nil, types.Errorf(types.ErrEvaluation, "output %q: %v", out.name, err)
		}
		result[out.name] = v
	}
	return result, nil
}

func fromCEL(val ref.Val) (types.Value, error) {
	switch val.Type() {
	case celtypes.NullType:
		return types.Null(), nil
	case celtypes.ListType:
		native, err := val.ConvertToNative(reflect.TypeOf([]any{}))
		if err != nil {
			return types.Null(), err
		}
		return types.FromInterface(native)
	default:
		return types.FromInterface(val.Value())
	}
}
