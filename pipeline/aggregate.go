package pipeline

import (
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🧺 Request Aggregator
// =============================================================================

// AggregateRequests 按 groupField 的取值把原始请求合并为更少的请求。
//
//   - 分组依据为取值本身（类型与值），Number(1) 与 String("1") 属于不同分组。
//   - 分组顺序为各分组值在输入中首次出现的顺序，相同输入总是得到相同输出。
//   - 合并后请求的 ID 为分组值的字符串形式，分组字段保留该标量值。
//   - 其他字段：全部成员取值相同时保留为标量，否则按输入顺序收集为序列（保留重复值），
//     缺少该字段的成员不参与。
//   - groupField 缺失、为 null 或为空字符串的请求被丢弃，不报错。
//
// 以下情况返回 INVALID_GROUP_FIELD：groupField 为空；所有请求都不含该字段；
// 分组值不是标量；不同类型的分组值字符串形式相同，导致合并后的 ID 冲突。
func AggregateRequests(groupField string, requests []types.EvaluationRequest) ([]types.EvaluationRequest, error) {
	if groupField == "" {
		return nil, types.NewError(types.ErrInvalidGroupField, "group field is required")
	}
	if len(requests) == 0 {
		return []types.EvaluationRequest{}, nil
	}

	type group struct {
		key     types.Value
		members []types.Record
	}

	var (
		order  []string
		groups = make(map[string]*group)
		seen   bool
	)

	// ids 记录合并后 ID 对应的分组值类型，用于发现冲突
	ids := make(map[string]types.Kind)

	for _, req := range requests {
		if _, ok := req.Arguments[groupField]; ok {
			seen = true
		}
		v, ok := groupValue(req.Arguments, groupField)
		if !ok {
			continue
		}
		if !v.IsScalar() {
			return nil, types.Errorf(types.ErrInvalidGroupField,
				"group field %q of request %q is a %s, want a scalar", groupField, req.ID, v.Kind())
		}

		key := groupKey(v)
		g, exists := groups[key]
		if !exists {
			id := v.String()
			if other, taken := ids[id]; taken {
				return nil, types.Errorf(types.ErrInvalidGroupField,
					"group field %q has %s and %s values that both map to id %q", groupField, other, v.Kind(), id)
			}
			ids[id] = v.Kind()
			g = &group{key: v}
			groups[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, req.Arguments)
	}

	if !seen {
		return nil, types.Errorf(types.ErrInvalidGroupField, "no request has group field %q", groupField)
	}

	out := make([]types.EvaluationRequest, 0, len(order))
	for _, key := range order {
		g := groups[key]
		out = append(out, types.EvaluationRequest{
			ID:        g.key.String(),
			Arguments: mergeMembers(groupField, g.key, g.members),
		})
	}
	return out, nil
}

// groupValue 返回请求的分组值，缺失、null 或空字符串时返回 false
func groupValue(args types.Record, groupField string) (types.Value, bool) {
	v, ok := args[groupField]
	if !ok || v.IsNull() {
		return types.Value{}, false
	}
	if s, isStr := v.Str(); isStr && s == "" {
		return types.Value{}, false
	}
	return v, true
}

// groupKey 区分类型，避免不同类型但字符串形式相同的值落入同一分组
func groupKey(v types.Value) string {
	return v.Kind().String() + ":" + v.String()
}

func mergeMembers(groupField string, key types.Value, members []types.Record) types.Record {
	var fields []string
	values := make(map[string][]types.Value)
	for _, m := range members {
		for _, name := range m.Keys() {
			if name == groupField {
				continue
			}
			if _, ok := values[name]; !ok {
				fields = append(fields, name)
			}
			values[name] = append(values[name], m[name])
		}
	}

	merged := make(types.Record, len(fields)+1)
	merged[groupField] = key
	for _, name := range fields {
		vs := values[name]
		if allEqual(vs) {
			merged[name] = vs[0]
			continue
		}
		merged[name] = types.Sequence(vs...)
	}
	return merged
}

func allEqual(vs []types.Value) bool {
	for i := 1; i < len(vs); i++ {
		if !vs[i].Equal(vs[0]) {
			return false
		}
	}
	return true
}
