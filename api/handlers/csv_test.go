package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/scoreflow/types"
)

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, '\t', sniffDelimiter([]byte("id\tx\ty\n1\t2\t3")))
	assert.Equal(t, ';', sniffDelimiter([]byte("id;x\n1;2,5")))
	assert.Equal(t, ',', sniffDelimiter([]byte("id,x\n1,2")))
	assert.Equal(t, ',', sniffDelimiter([]byte("x")))
	assert.Equal(t, ',', sniffDelimiter(nil))
}

func TestPeekHeaderLine(t *testing.T) {
	t.Run("stops at the first line", func(t *testing.T) {
		// 首行之后的读取会失败，说明探测不依赖读完请求体
		in := io.MultiReader(strings.NewReader("id;x\n1;2\n"), iotest.ErrReader(errors.New("body not drained")))
		br := bufio.NewReaderSize(in, csvBufferSize)
		line, err := peekHeaderLine(br)
		require.NoError(t, err)
		assert.Equal(t, "id;x", string(line))
		assert.Equal(t, 9, br.Buffered(), "peeked bytes stay in the buffer")
	})

	t.Run("long header spans several peeks", func(t *testing.T) {
		header := strings.Repeat("column\t", 300) + "last"
		br := bufio.NewReaderSize(strings.NewReader(header+"\n1\n"), csvBufferSize)
		line, err := peekHeaderLine(br)
		require.NoError(t, err)
		assert.Equal(t, header, string(line))
	})

	t.Run("single line without newline", func(t *testing.T) {
		line, err := peekHeaderLine(bufio.NewReader(strings.NewReader("a,b")))
		require.NoError(t, err)
		assert.Equal(t, "a,b", string(line))
	})

	t.Run("header longer than the buffer", func(t *testing.T) {
		br := bufio.NewReaderSize(strings.NewReader(strings.Repeat("a", 100)+"\n"), 16)
		line, err := peekHeaderLine(br)
		require.NoError(t, err)
		assert.Len(t, line, 16)
	})

	t.Run("read error", func(t *testing.T) {
		_, err := peekHeaderLine(bufio.NewReader(iotest.ErrReader(errors.New("boom"))))
		assert.EqualError(t, err, "boom")
	})
}

func TestReadCSVRequests(t *testing.T) {
	in := "\ufeffID,x,label\nfirst,1,a\nsecond,,b\n"
	batch, err := ReadCSVRequests(strings.NewReader(in), ',')
	require.NoError(t, err)
	require.Len(t, batch.Requests, 2)

	assert.Equal(t, "first", batch.Requests[0].ID)
	assert.True(t, batch.Requests[0].Arguments.Equal(types.Record{"x": types.String("1"), "label": types.String("a")}))

	_, hasX := batch.Requests[1].Arguments["x"]
	assert.False(t, hasX, "empty cells are missing fields")

	batch, err = ReadCSVRequests(strings.NewReader("x\ty\n1\t2\n3\t4\n"), '\t')
	require.NoError(t, err)
	assert.Equal(t, "1", batch.Requests[0].ID)
	assert.Equal(t, "2", batch.Requests[1].ID)
}

func TestReadCSVRequests_Errors(t *testing.T) {
	tests := map[string]string{
		"empty input":      "",
		"empty header":     "x,,y\n1,2,3\n",
		"duplicate header": "x,x\n1,2\n",
		"ragged row":       "x,y\n1\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSVRequests(strings.NewReader(in), ',')
			assert.Error(t, err)
		})
	}
}

func TestWriteCSVResponses(t *testing.T) {
	resp := &types.BatchEvaluationResponse{Responses: []types.EvaluationResponse{
		{ID: "1", Result: types.Record{"score": types.Number(0.5), "label": types.String("yes")}},
		{ID: "2", Error: types.NewError(types.ErrEvaluation, `missing required field "x"`)},
		{ID: "3", Result: types.Record{"score": types.Number(2), "tags": types.Sequence(types.String("a"), types.String("b"))}},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSVResponses(&buf, resp, ';'))

	want := "id;label;score;tags;error\n" +
		"1;yes;0.5;;\n" +
		"2;;;;\"missing required field \"\"x\"\"\"\n" +
		"3;;2;\"[\"\"a\"\",\"\"b\"\"]\";\n"
	assert.Equal(t, want, buf.String())

	buf.Reset()
	require.NoError(t, WriteCSVResponses(&buf, &types.BatchEvaluationResponse{Responses: resp.Responses[:1]}, ','))
	assert.Equal(t, "id,label,score\n1,yes,0.5\n", buf.String(), "no error column when nothing failed")
}

func TestModelHandler_EvaluateCSV(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.registry.Deploy(context.Background(), "score", []byte(scoreModel)))

	in := "id\tx\na\t1\nb\t\nc\t2.5\n"
	resp := env.do(t, http.MethodPost, "/model/score/csv", "text/csv", in)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "id\tscore\terror\na\t3\t\nb\t\t\"missing required field \"\"x\"\"\"\nc\t6\t\n", string(out))

	snap := env.registry.Get("score").Metrics()
	assert.Equal(t, int64(3), snap.Evaluations)
	assert.Equal(t, int64(1), snap.Batches)
}

func TestModelHandler_EvaluateCSVAggregates(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.registry.Deploy(context.Background(), "shopping", []byte(shoppingModel)))

	in := "transaction,item\nt1,cracker\nt2,banana\nt1,water\n"
	resp := env.do(t, http.MethodPost, "/model/shopping/csv", "text/csv", in)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,recommendations,rules", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "t1,"))
	assert.True(t, strings.HasPrefix(lines[2], "t2,"))
}

func TestModelHandler_EvaluateCSVErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.registry.Deploy(context.Background(), "score", []byte(scoreModel)))

	resp := env.do(t, http.MethodPost, "/model/missing/csv", "text/csv", "x\n1\n")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(types.ErrModelNotFound), errorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/model/score/csv", "text/csv", "x,y\n1\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(types.ErrInvalidRequest), errorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/model/score/csv", "text/csv", "id,x\n,1\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModelHandler_EvaluateCSVLargerThanBuffer(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.registry.Deploy(context.Background(), "score", []byte(scoreModel)))

	const rows = 10000
	var in strings.Builder
	in.WriteString("id,x\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&in, "row-%d,%d\n", i, i)
	}
	require.Greater(t, in.Len(), csvBufferSize)

	resp := env.do(t, http.MethodPost, "/model/score/csv", "text/csv", in.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.Len(t, lines, rows+1)
	assert.Equal(t, "id,score", lines[0])
	assert.Equal(t, "row-0,1", lines[1])
	assert.Equal(t, fmt.Sprintf("row-%d,%d", rows-1, 2*(rows-1)+1), lines[rows])
	assert.Equal(t, int64(rows), env.registry.Get("score").Metrics().Evaluations)
}

func TestModelHandler_EvaluateCSVBodyLimit(t *testing.T) {
	env := newTestEnv(t, 64)
	require.NoError(t, env.registry.Deploy(context.Background(), "score", []byte(scoreModel)))

	body := "id,x\n" + strings.Repeat("a,1\n", 50)
	resp := env.do(t, http.MethodPost, "/model/score/csv", "text/csv", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, string(types.ErrInvalidRequest), errorCode(t, resp))
	assert.Zero(t, env.registry.Get("score").Metrics().Evaluations)
}
