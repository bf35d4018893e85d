package handlers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/internal/ctxkeys"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 📄 CSV 求值
// =============================================================================

const (
	errorColumn = "error"

	// csvBufferSize 请求体读缓冲大小，也是分隔符探测可见的首行长度上限
	csvBufferSize = 64 << 10
	csvPeekSize   = 512
)

// HandleEvaluateCSV 以 CSV 表为批量请求求值，并以相同分隔符返回 CSV 结果。
//
// 首行为表头。名为 id（不区分大小写）的列作为请求 ID，没有该列时使用从 1 开始的行号。
// 空单元格视为缺失字段。输出列为 id、结果字段（排序）以及存在失败记录时的 error 列。
// 分隔符由缓冲区中预读的首行决定，请求体随后按流解析。
func (h *ModelHandler) HandleEvaluateCSV(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id := handle.ID()

	body := bufio.NewReaderSize(h.limitBody(w, r), csvBufferSize)
	line, err := peekHeaderLine(body)
	if err != nil {
		h.writeBodyError(w, r, err)
		return
	}

	delim := sniffDelimiter(line)
	req, err := ReadCSVRequests(body, delim)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeBodyError(w, r, err)
			return
		}
		WriteErrorFor(w, r, types.WrapError(err, types.ErrInvalidRequest, "invalid CSV input").WithModel(id), h.logger)
		return
	}

	h.logger.Debug("CSV batch parsed",
		zap.String("model_id", id),
		zap.String("delimiter", delimiterName(delim)),
		zap.Int("rows", len(req.Requests)),
	)

	resp, err := h.evaluator.EvaluateBatch(ctxkeys.WithModelID(r.Context(), id), id, req)
	if err != nil {
		WriteErrorFor(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if err := WriteCSVResponses(w, resp, delim); err != nil {
		// 响应头已写出，只能记录日志
		h.logger.Warn("write CSV response failed", zap.String("model_id", id), zap.Error(err))
	}
}

// ReadCSVRequests 把 CSV 表解析为批量请求
func ReadCSVRequests(in io.Reader, delim rune) (*types.BatchEvaluationRequest, error) {
	reader := csv.NewReader(in)
	reader.Comma = delim

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, types.NewError(types.ErrInvalidRequest, "CSV input has no header row")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	idCol := -1
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		header[i] = name
		if name == "" {
			return nil, types.Errorf(types.ErrInvalidRequest, "CSV header column %d is empty", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, types.Errorf(types.ErrInvalidRequest, "duplicate CSV header column %q", name)
		}
		seen[name] = struct{}{}
		if idCol < 0 && strings.EqualFold(name, "id") {
			idCol = i
		}
	}

	batch := &types.BatchEvaluationRequest{Requests: []types.EvaluationRequest{}}
	for row := 1; ; row++ {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		req := types.EvaluationRequest{ID: strconv.Itoa(row), Arguments: make(types.Record, len(cells))}
		for i, cell := range cells {
			if i == idCol {
				req.ID = cell
				continue
			}
			if cell == "" {
				continue
			}
			req.Arguments[header[i]] = types.String(cell)
		}
		batch.Requests = append(batch.Requests, req)
	}
	return batch, nil
}

// WriteCSVResponses 把批量响应写为 CSV
func WriteCSVResponses(out io.Writer, resp *types.BatchEvaluationResponse, delim rune) error {
	fieldSet := make(map[string]struct{})
	for _, r := range resp.Responses {
		for name := range r.Result {
			fieldSet[name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	withErrors := resp.Failures() > 0

	writer := csv.NewWriter(out)
	writer.Comma = delim

	header := append([]string{"id"}, fields...)
	if withErrors {
		header = append(header, errorColumn)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, r := range resp.Responses {
		row[0] = r.ID
		for i, name := range fields {
			row[i+1] = r.Result[name].String()
		}
		if withErrors {
			row[len(row)-1] = ""
			if r.Error != nil {
				row[len(row)-1] = r.Error.Message
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// peekHeaderLine 返回首行内容但不消费缓冲区，首行超过缓冲区大小时返回已缓冲部分
func peekHeaderLine(br *bufio.Reader) ([]byte, error) {
	for n := csvPeekSize; ; n *= 2 {
		if n > br.Size() {
			n = br.Size()
		}
		b, err := br.Peek(n)
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			return b[:i], nil
		}
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return nil, err
		}
		if n == br.Size() {
			return b, nil
		}
	}
}

// sniffDelimiter 根据表头行选择分隔符：制表符、分号、逗号中出现次数最多者，默认逗号
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	best, bestCount := ',', 0
	for _, d := range []rune{'\t', ';', ','} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// delimiterName 返回分隔符名称，用于日志
func delimiterName(d rune) string {
	switch d {
	case '\t':
		return "tab"
	case ';':
		return "semicolon"
	case ',':
		return "comma"
	default:
		return fmt.Sprintf("%q", d)
	}
}
