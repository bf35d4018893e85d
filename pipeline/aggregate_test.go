package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/scoreflow/types"
)

var shoppingGroups = []string{"t1", "t2", "t1", "t3", "t2", "t4", "t1", "t5", "t3", "t2", "t4", "t5", "t1"}

var shoppingItems = []string{
	"cracker", "cracker", "water", "cracker", "water",
	"banana", "banana", "water", "banana", "cola", "cracker", "cola", "cola",
}

func shoppingRequests() []types.EvaluationRequest {
	reqs := make([]types.EvaluationRequest, len(shoppingGroups))
	for i, g := range shoppingGroups {
		reqs[i] = types.EvaluationRequest{
			ID: fmt.Sprintf("%d", i+1),
			Arguments: types.Record{
				"transaction": types.String(g),
				"item":        types.String(shoppingItems[i]),
			},
		}
	}
	return reqs
}

func ids(reqs []types.EvaluationRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}

func TestAggregateRequests_FirstAppearanceOrder(t *testing.T) {
	out, err := AggregateRequests("transaction", shoppingRequests())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3", "t4", "t5"}, ids(out))

	again, err := AggregateRequests("transaction", shoppingRequests())
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestAggregateRequests_MergesFields(t *testing.T) {
	out, err := AggregateRequests("transaction", shoppingRequests())
	require.NoError(t, err)

	t1 := out[0].Arguments
	assert.True(t, t1["transaction"].Equal(types.String("t1")))
	// t1 成员位于下标 0, 2, 6, 12
	assert.True(t, t1["item"].Equal(types.Sequence(
		types.String("cracker"), types.String("water"), types.String("banana"), types.String("cola"),
	)), "got %s", t1["item"])

	// t4 的两个成员都是 banana/cracker，取值不同
	t4 := out[3].Arguments
	assert.True(t, t4["item"].Equal(types.Sequence(types.String("banana"), types.String("cracker"))))
}

func TestAggregateRequests_ConsistentValuesStayScalar(t *testing.T) {
	reqs := []types.EvaluationRequest{
		{ID: "1", Arguments: types.Record{"g": types.Number(7), "store": types.String("s1"), "item": types.String("a")}},
		{ID: "2", Arguments: types.Record{"g": types.Number(7), "store": types.String("s1"), "item": types.String("a")}},
		{ID: "3", Arguments: types.Record{"g": types.Number(7), "item": types.String("b")}},
	}
	out, err := AggregateRequests("g", reqs)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "7", out[0].ID)
	assert.True(t, out[0].Arguments["g"].Equal(types.Number(7)))
	assert.True(t, out[0].Arguments["store"].Equal(types.String("s1")))
	assert.True(t, out[0].Arguments["item"].Equal(types.Sequence(types.String("a"), types.String("a"), types.String("b"))),
		"duplicates are preserved")
}

func TestAggregateRequests_DropsRequestsWithoutGroupValue(t *testing.T) {
	reqs := []types.EvaluationRequest{
		{ID: "1", Arguments: types.Record{"g": types.String("x"), "item": types.String("a")}},
		{ID: "2", Arguments: types.Record{"item": types.String("lost")}},
		{ID: "3", Arguments: types.Record{"g": types.Null(), "item": types.String("lost")}},
		{ID: "4", Arguments: types.Record{"g": types.String("y"), "item": types.String("b")}},
	}
	out, err := AggregateRequests("g", reqs)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids(out))
	for _, r := range out {
		assert.NotEqual(t, "lost", r.Arguments["item"].String())
	}
}

func TestAggregateRequests_InvalidGroupField(t *testing.T) {
	reqs := shoppingRequests()

	_, err := AggregateRequests("", reqs)
	assert.Equal(t, types.ErrInvalidGroupField, types.GetErrorCode(err))

	_, err = AggregateRequests("basket", reqs)
	assert.Equal(t, types.ErrInvalidGroupField, types.GetErrorCode(err))

	_, err = AggregateRequests("g", []types.EvaluationRequest{
		{ID: "1", Arguments: types.Record{"g": types.Sequence(types.String("a"))}},
	})
	assert.Equal(t, types.ErrInvalidGroupField, types.GetErrorCode(err))
}

func TestAggregateRequests_EmptyInput(t *testing.T) {
	out, err := AggregateRequests("g", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAggregateRequests_GroupsByTypedValue(t *testing.T) {
	reqs := []types.EvaluationRequest{
		{ID: "1", Arguments: types.Record{"g": types.Number(1), "v": types.String("n1")}},
		{ID: "2", Arguments: types.Record{"g": types.String("a"), "v": types.String("s")}},
		{ID: "3", Arguments: types.Record{"g": types.Number(1), "v": types.String("n2")}},
		{ID: "4", Arguments: types.Record{"g": types.Bool(false), "v": types.String("b")}},
	}
	out, err := AggregateRequests("g", reqs)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "a", "false"}, ids(out))

	assert.Equal(t, types.KindNumber, out[0].Arguments["g"].Kind())
	assert.True(t, out[0].Arguments["v"].Equal(types.Sequence(types.String("n1"), types.String("n2"))))
	assert.Equal(t, types.KindString, out[1].Arguments["g"].Kind())
	assert.Equal(t, types.KindBool, out[2].Arguments["g"].Kind())
}

func TestAggregateRequests_RejectsCollidingIDs(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Value
	}{
		{"number and string", types.Number(1), types.String("1")},
		{"bool and string", types.Bool(true), types.String("true")},
		{"string and number", types.String("2.5"), types.Number(2.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AggregateRequests("g", []types.EvaluationRequest{
				{ID: "1", Arguments: types.Record{"g": tt.a}},
				{ID: "2", Arguments: types.Record{"g": tt.b}},
			})
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidGroupField, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.a.String())
		})
	}
}

func TestAggregateRequests_DropsEmptyStringGroups(t *testing.T) {
	reqs := []types.EvaluationRequest{
		{ID: "1", Arguments: types.Record{"g": types.String(""), "item": types.String("lost")}},
		{ID: "2", Arguments: types.Record{"g": types.String("x"), "item": types.String("a")}},
	}
	out, err := AggregateRequests("g", reqs)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(out))

	out, err = AggregateRequests("g", reqs[:1])
	require.NoError(t, err, "the field is present, only its value is empty")
	assert.Empty(t, out)
}

func TestAggregateRequests_DoesNotMutateInput(t *testing.T) {
	reqs := shoppingRequests()
	before := shoppingRequests()

	_, err := AggregateRequests("transaction", reqs)
	require.NoError(t, err)
	for i := range reqs {
		assert.True(t, before[i].Arguments.Equal(reqs[i].Arguments))
	}
}
