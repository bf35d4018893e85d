package engine

import (
	"errors"
	"fmt"

	"github.com/BaSui01/scoreflow/types"
)

func init() {
	Register("tree", buildTree)
}

// treeSpec 决策树：从根节点开始，选择第一个谓词成立的子节点继续下降，
// 结果取最深的、带有 score 或 label 的匹配节点。
type treeSpec struct {
	Root treeNode `yaml:"root"`
}

type treeNode struct {
	Predicate *predicate `yaml:"predicate,omitempty"`
	Score     *float64   `yaml:"score,omitempty"`
	Label     string     `yaml:"label,omitempty"`
	Children  []treeNode `yaml:"children,omitempty" validate:"dive"`
}

type predicate struct {
	Field string `yaml:"field" validate:"required"`
	Op    string `yaml:"op" validate:"required,oneof=== != < <= > >="`
	Value any    `yaml:"value"`

	operand types.Value
}

type treeModel struct {
	schema types.Schema
	root   treeNode
	output string
}

func buildTree(doc *Document) (Evaluator, error) {
	var spec treeSpec
	if err := doc.DecodeSpec(&spec); err != nil {
		return nil, err
	}
	if err := prepareNode(&spec.Root); err != nil {
		return nil, err
	}

	inputs := doc.Inputs
	if len(inputs) == 0 {
		seen := make(map[string]struct{})
		collectFields(&spec.Root, seen, &inputs)
	}

	output := doc.OutputOr("score")
	return &treeModel{
		schema: types.Schema{
			Kind:       doc.Kind,
			Summary:    doc.Summary,
			Inputs:     inputs,
			Outputs:    []types.Field{{Name: output, Type: types.FieldAny}},
			GroupField: doc.GroupField,
		},
		root:   spec.Root,
		output: output,
	}, nil
}

func prepareNode(n *treeNode) error {
	if n.Score != nil && n.Label != "" {
		return errors.New("node declares both score and label")
	}
	if n.Predicate != nil {
		v, err := types.FromInterface(n.Predicate.Value)
		if err != nil {
			return fmt.Errorf("predicate on %q: %w", n.Predicate.Field, err)
		}
		if !v.IsScalar() {
			return fmt.Errorf("predicate on %q: value must be a scalar", n.Predicate.Field)
		}
		if v.Kind() != types.KindNumber {
			switch n.Predicate.Op {
			case "==", "!=":
			default:
				return fmt.Errorf("predicate on %q: operator %s needs a numeric value", n.Predicate.Field, n.Predicate.Op)
			}
		}
		n.Predicate.operand = v
	}
	for i := range n.Children {
		if err := prepareNode(&n.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

func collectFields(n *treeNode, seen map[string]struct{}, out *[]types.Field) {
	if n.Predicate != nil {
		if _, ok := seen[n.Predicate.Field]; !ok {
			seen[n.Predicate.Field] = struct{}{}
			typ := types.FieldString
			if n.Predicate.operand.Kind() == types.KindNumber {
				typ = types.FieldNumber
			}
			*out = append(*out, types.Field{Name: n.Predicate.Field, Type: typ})
		}
	}
	for i := range n.Children {
		collectFields(&n.Children[i], seen, out)
	}
}

func (m *treeModel) Schema() types.Schema { return m.schema }

func (m *treeModel) Evaluate(args types.Record) (types.Record, error) {
	if err := checkArguments(m.schema.Inputs, args); err != nil {
		return nil, err
	}

	node := &m.root
	if node.Predicate != nil {
		ok, err := node.Predicate.match(args)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.NewError(types.ErrEvaluation, "no matching tree node")
		}
	}

	var result *treeNode
	for node != nil {
		if node.Score != nil || node.Label != "" {
			result = node
		}
		var next *treeNode
		for i := range node.Children {
			child := &node.Children[i]
			if child.Predicate == nil {
				next = child
				break
			}
			ok, err := child.Predicate.match(args)
			if err != nil {
				return nil, err
			}
			if ok {
				next = child
				break
			}
		}
		node = next
	}

	if result == nil {
		return nil, types.NewError(types.ErrEvaluation, "no scored tree node matched")
	}
	if result.Score != nil {
		return types.Record{m.output: types.Number(*result.Score)}, nil
	}
	return types.Record{m.output: types.String(result.Label)}, nil
}

// match 判断谓词是否成立；字段缺失时谓词不成立
func (p *predicate) match(args types.Record) (bool, error) {
	v, ok := args[p.Field]
	if !ok || v.IsNull() {
		return false, nil
	}

	if want, isNum := p.operand.Num(); isNum {
		got, ok := v.AsFloat()
		if !ok {
			return false, types.Errorf(types.ErrEvaluation, "field %q: expected number, got %q", p.Field, v.String())
		}
		switch p.Op {
		case "==":
			return got == want, nil
		case "!=":
			return got != want, nil
		case "<":
			return got < want, nil
		case "<=":
			return got <= want, nil
		case ">":
			return got > want, nil
		case ">=":
			return got >= want, nil
		}
		return false, nil
	}

	eq := v.String() == p.operand.String()
	if p.Op == "!=" {
		return !eq, nil
	}
	return eq, nil
}
