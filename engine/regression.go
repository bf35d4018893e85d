package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/BaSui01/scoreflow/types"
)

func init() {
	Register("regression", buildRegression)
}

// regressionSpec 线性回归模型参数
//
// 预测原理：
//  1. 线性加权求和: z = intercept + sum(coefficient_i * x_i)
//  2. 可选 logit 归一化: P = 1 / (1 + exp(-z))
type regressionSpec struct {
	Intercept     float64            `yaml:"intercept"`
	Coefficients  map[string]float64 `yaml:"coefficients" validate:"required,min=1"`
	Normalization string             `yaml:"normalization" validate:"omitempty,oneof=none logit"`
}

type regressionModel struct {
	schema types.Schema
	spec   regressionSpec
	terms  []string
	output string
}

func buildRegression(doc *Document) (Evaluator, error) {
	var spec regressionSpec
	if err := doc.DecodeSpec(&spec); err != nil {
		return nil, err
	}

	terms := make([]string, 0, len(spec.Coefficients))
	for name := range spec.Coefficients {
		terms = append(terms, name)
	}
	sort.Strings(terms)

	inputs := doc.Inputs
	if len(inputs) == 0 {
		// 未声明输入时，每个系数对应一个必填数值字段
		inputs = make([]types.Field, 0, len(terms))
		for _, name := range terms {
			inputs = append(inputs, types.Field{Name: name, Type: types.FieldNumber, Required: true})
		}
	} else {
		declared := make(map[string]struct{}, len(inputs))
		for _, f := range inputs {
			declared[f.Name] = struct{}{}
		}
		for _, name := range terms {
			if _, ok := declared[name]; !ok {
				return nil, fmt.Errorf("coefficient %q has no declared input", name)
			}
		}
	}

	output := doc.OutputOr("score")
	return &regressionModel{
		schema: types.Schema{
			Kind:       doc.Kind,
			Summary:    doc.Summary,
			Inputs:     inputs,
			Outputs:    []types.Field{{Name: output, Type: types.FieldNumber}},
			GroupField: doc.GroupField,
		},
		spec:   spec,
		terms:  terms,
		output: output,
	}, nil
}

func (m *regressionModel) Schema() types.Schema { return m.schema }

func (m *regressionModel) Evaluate(args types.Record) (types.Record, error) {
	if err := checkArguments(m.schema.Inputs, args); err != nil {
		return nil, err
	}

	z := m.spec.Intercept
	for _, name := range m.terms {
		x, _, err := numberArg(args, name)
		if err != nil {
			return nil, err
		}
		z += m.spec.Coefficients[name] * x
	}
	if m.spec.Normalization == "logit" {
		z = 1 / (1 + math.Exp(-z))
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return nil, types.Errorf(types.ErrEvaluation, "non-finite result %v", z)
	}
	return types.Record{m.output: types.Number(z)}, nil
}
