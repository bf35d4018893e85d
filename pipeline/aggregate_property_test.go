package pipeline

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/scoreflow/types"
)

// buildGroupedRequests 由生成的分组下标与商品下标构造请求；分组下标 -1 表示缺少分组字段
func buildGroupedRequests(groups, items []int) []types.EvaluationRequest {
	n := len(groups)
	if len(items) < n {
		n = len(items)
	}
	reqs := make([]types.EvaluationRequest, n)
	for i := 0; i < n; i++ {
		args := types.Record{"item": types.String(fmt.Sprintf("item-%d", items[i]))}
		if groups[i] >= 0 {
			args["tx"] = types.String(fmt.Sprintf("t%d", groups[i]))
		}
		reqs[i] = types.EvaluationRequest{ID: fmt.Sprintf("%d", i), Arguments: args}
	}
	return reqs
}

func firstAppearance(reqs []types.EvaluationRequest) ([]string, map[string][]types.Value) {
	var order []string
	members := make(map[string][]types.Value)
	for _, r := range reqs {
		g, ok := r.Arguments["tx"]
		if !ok {
			continue
		}
		key := g.String()
		if _, seen := members[key]; !seen {
			order = append(order, key)
		}
		members[key] = append(members[key], r.Arguments["item"])
	}
	return order, members
}

func TestProperty_AggregationGroupsByFirstAppearance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("groups follow first appearance and members keep input order", prop.ForAll(
		func(groups, items []int) bool {
			reqs := buildGroupedRequests(groups, items)
			order, members := firstAppearance(reqs)

			out, err := AggregateRequests("tx", reqs)
			if len(reqs) > 0 && len(order) == 0 {
				return types.IsErrorCode(err, types.ErrInvalidGroupField)
			}
			if err != nil {
				t.Logf("aggregate failed: %v", err)
				return false
			}
			if len(out) != len(order) {
				return false
			}
			for i, merged := range out {
				if merged.ID != order[i] {
					return false
				}
				want := members[order[i]]
				got := merged.Arguments["item"]
				if got.Kind() == types.KindSequence {
					if !reflect.DeepEqual(got.Elements(), want) {
						return false
					}
					continue
				}
				for _, m := range want {
					if !m.Equal(got) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-1, 5)),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.Property("aggregation is deterministic and idempotent", prop.ForAll(
		func(groups, items []int) bool {
			reqs := buildGroupedRequests(groups, items)
			first, err1 := AggregateRequests("tx", reqs)
			second, err2 := AggregateRequests("tx", reqs)
			if (err1 == nil) != (err2 == nil) {
				return false
			}
			if err1 != nil {
				return true
			}
			if !sameRequests(first, second) {
				return false
			}
			if len(first) == 0 {
				return true
			}
			again, err := AggregateRequests("tx", first)
			if err != nil {
				t.Logf("re-aggregate failed: %v", err)
				return false
			}
			return sameRequests(first, again)
		},
		gen.SliceOf(gen.IntRange(-1, 5)),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.Property("group values keep their type", prop.ForAll(
		func(groups []int) bool {
			reqs := make([]types.EvaluationRequest, len(groups))
			for i, g := range groups {
				reqs[i] = types.EvaluationRequest{ID: fmt.Sprintf("%d", i), Arguments: types.Record{"tx": typedGroupValue(g)}}
			}
			out, err := AggregateRequests("tx", reqs)
			if len(reqs) == 0 {
				return err == nil && len(out) == 0
			}
			if err != nil {
				t.Logf("aggregate failed: %v", err)
				return false
			}
			byID := make(map[string]types.Value, len(out))
			for _, merged := range out {
				byID[merged.ID] = merged.Arguments["tx"]
			}
			for _, r := range reqs {
				v := r.Arguments["tx"]
				if got, ok := byID[v.String()]; !ok || !got.Equal(v) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}

// typedGroupValue 偶数生成数值、奇数生成字符串，字符串形式互不相同
func typedGroupValue(g int) types.Value {
	if g%2 == 0 {
		return types.Number(float64(g))
	}
	return types.String(fmt.Sprintf("k%d", g))
}

func sameRequests(a, b []types.EvaluationRequest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || !a[i].Arguments.Equal(b[i].Arguments) {
			return false
		}
	}
	return true
}
