package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BaSui01/scoreflow/types"
)

func init() {
	Register("association", buildAssociation)
}

// associationSpec 关联规则模型：以一组商品（一笔交易的全部行项目）为输入，
// 输出规则前件全部命中时推荐的后件商品。
type associationSpec struct {
	ItemField string            `yaml:"item_field" validate:"required"`
	Rules     []associationRule `yaml:"rules" validate:"required,min=1,dive"`
}

type associationRule struct {
	ID         string   `yaml:"id" validate:"required"`
	Antecedent []string `yaml:"antecedent" validate:"required,min=1"`
	Consequent []string `yaml:"consequent" validate:"required,min=1"`
	Support    float64  `yaml:"support,omitempty" validate:"gte=0,lte=1"`
	Confidence float64  `yaml:"confidence" validate:"gte=0,lte=1"`
}

type associationModel struct {
	schema    types.Schema
	itemField string
	rules     []associationRule
	output    string
}

func buildAssociation(doc *Document) (Evaluator, error) {
	if doc.GroupField == "" {
		return nil, errors.New("association model requires group_field")
	}
	var spec associationSpec
	if err := doc.DecodeSpec(&spec); err != nil {
		return nil, err
	}
	if spec.ItemField == doc.GroupField {
		return nil, fmt.Errorf("item_field and group_field must differ, both are %q", spec.ItemField)
	}

	seen := make(map[string]struct{}, len(spec.Rules))
	for _, r := range spec.Rules {
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	// 按置信度降序排列，置信度相同时保持文档顺序
	rules := make([]associationRule, len(spec.Rules))
	copy(rules, spec.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Confidence > rules[j].Confidence
	})

	inputs := doc.Inputs
	if len(inputs) == 0 {
		inputs = []types.Field{
			{Name: doc.GroupField, Type: types.FieldAny, Required: true},
			{Name: spec.ItemField, Type: types.FieldAny, Required: true},
		}
	}

	output := doc.OutputOr("recommendations")
	if output == "rules" {
		return nil, errors.New(`output name "rules" is reserved`)
	}
	return &associationModel{
		schema: types.Schema{
			Kind:    doc.Kind,
			Summary: doc.Summary,
			Inputs:  inputs,
			Outputs: []types.Field{
				{Name: output, Type: types.FieldAny},
				{Name: "rules", Type: types.FieldAny},
			},
			GroupField: doc.GroupField,
		},
		itemField: spec.ItemField,
		rules:     rules,
		output:    output,
	}, nil
}

func (m *associationModel) Schema() types.Schema { return m.schema }

func (m *associationModel) Evaluate(args types.Record) (types.Record, error) {
	if err := checkArguments(m.schema.Inputs, args); err != nil {
		return nil, err
	}
	v, ok := args[m.itemField]
	if !ok || v.IsNull() {
		return nil, types.Errorf(types.ErrEvaluation, "missing required field %q", m.itemField)
	}

	basket := make(map[string]struct{})
	for _, item := range stringsArg(v) {
		basket[item] = struct{}{}
	}

	recommended := make([]types.Value, 0)
	fired := make([]types.Value, 0)
	emitted := make(map[string]struct{})
	for _, r := range m.rules {
		if !containsAll(basket, r.Antecedent) {
			continue
		}
		fired = append(fired, types.String(r.ID))
		for _, item := range r.Consequent {
			if _, inBasket := basket[item]; inBasket {
				continue
			}
			if _, dup := emitted[item]; dup {
				continue
			}
			emitted[item] = struct{}{}
			recommended = append(recommended, types.String(item))
		}
	}

	return types.Record{
		m.output: types.Sequence(recommended...),
		"rules":  types.Sequence(fired...),
	}, nil
}

func containsAll(set map[string]struct{}, items []string) bool {
	for _, item := range items {
		if _, ok := set[item]; !ok {
			return false
		}
	}
	return true
}
