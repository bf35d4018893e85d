package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/api"
	"github.com/BaSui01/scoreflow/internal/tlsutil"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🔌 ScoreFlow HTTP Client
// =============================================================================

const defaultTimeout = 60 * time.Second

// Client 访问 ScoreFlow 服务的 HTTP 客户端
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	caFile     string
	logger     *zap.Logger
}

// Option 配置 Client
type Option func(*Client)

// WithHTTPClient 使用自定义 http.Client（此时忽略 WithTimeout 与 WithCAFile）
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout 设置单次请求超时，0 表示不限制
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithCAFile 只信任 caFile 中的 CA 证书（https 地址）
func WithCAFile(caFile string) Option {
	return func(cl *Client) { cl.caFile = caFile }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// New 创建客户端。https 地址使用加固后的 TLS 传输。
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %s has no host", baseURL)
	}

	c := &Client{
		baseURL: u,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
		if u.Scheme == "https" {
			tlsConfig, err := tlsutil.ClientTLSConfig(c.caFile)
			if err != nil {
				return nil, err
			}
			c.httpClient.Transport = tlsutil.TransportWith(tlsConfig)
		}
	}
	c.logger = c.logger.With(zap.String("component", "client"), zap.String("base_url", u.String()))
	return c, nil
}

// =============================================================================
// 🧮 模型生命周期
// =============================================================================

// Deploy 以 source 部署模型 id
func (c *Client) Deploy(ctx context.Context, id string, source []byte) (*types.ModelInfo, error) {
	var info types.ModelInfo
	err := c.do(ctx, http.MethodPut, modelPath(id), "application/yaml", bytes.NewReader(source), &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Undeploy 下线模型 id
func (c *Client) Undeploy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, modelPath(id), "", nil, &api.UndeployResponse{})
}

// List 列出已部署模型
func (c *Client) List(ctx context.Context) ([]types.ModelInfo, error) {
	var infos []types.ModelInfo
	if err := c.do(ctx, http.MethodGet, "/model", "", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Info 返回模型信息
func (c *Client) Info(ctx context.Context, id string) (*types.ModelInfo, error) {
	var info types.ModelInfo
	if err := c.do(ctx, http.MethodGet, modelPath(id), "", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Metrics 返回模型指标快照
func (c *Client) Metrics(ctx context.Context, id string) (*types.ModelMetrics, error) {
	var snap types.ModelMetrics
	if err := c.do(ctx, http.MethodGet, modelPath(id)+"/metrics", "", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Source 下载部署时的原始模型文档
func (c *Client) Source(ctx context.Context, id string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.stream(ctx, http.MethodGet, modelPath(id)+"/source", "", nil, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// =============================================================================
// 🎯 求值
// =============================================================================

// Evaluate 对单条请求求值。记录级失败体现在响应的 Error 字段中，不返回 error。
func (c *Client) Evaluate(ctx context.Context, id string, req *types.EvaluationRequest) (*types.EvaluationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var resp types.EvaluationResponse
	if err := c.do(ctx, http.MethodPost, modelPath(id), "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvaluateBatch 批量求值
func (c *Client) EvaluateBatch(ctx context.Context, id string, req *types.BatchEvaluationRequest) (*types.BatchEvaluationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var resp types.BatchEvaluationResponse
	if err := c.do(ctx, http.MethodPost, modelPath(id)+"/batch", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvaluateCSV 把 in 中的 CSV 表流式发送给模型 id，并把 CSV 结果流式写入 out。
// 服务端返回 4xx/5xx 时不写 out，返回携带服务端消息的 *types.Error。
func (c *Client) EvaluateCSV(ctx context.Context, id string, in io.Reader, out io.Writer) error {
	return c.stream(ctx, http.MethodPost, modelPath(id)+"/csv", "text/csv", in, out)
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// Ready 调用 /ready，服务未就绪时返回 SERVICE_UNAVAILABLE
func (c *Client) Ready(ctx context.Context) (*api.HealthReport, error) {
	resp, err := c.send(ctx, http.MethodGet, "/ready", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var report api.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, types.WrapError(err, types.ErrInternalError, "decode health report").WithHTTPStatus(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return &report, types.Errorf(types.ErrServiceUnavailable, "service is %s", report.Status).WithHTTPStatus(resp.StatusCode)
	}
	return &report, nil
}

// =============================================================================
// 🔧 传输
// =============================================================================

// do 发送请求并把信封中的 data 解码到 out
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return statusError(resp.StatusCode)
		}
		return types.WrapError(err, types.ErrInternalError, "decode response").WithHTTPStatus(resp.StatusCode)
	}
	if err := env.Err(resp.StatusCode); err != nil {
		return err
	}
	return env.Decode(out)
}

// stream 发送请求，成功时把响应体原样写入 out，失败时解码错误信封
func (c *Client) stream(ctx context.Context, method, path, contentType string, body io.Reader, out io.Writer) error {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var env api.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error == nil {
			return statusError(resp.StatusCode)
		}
		return env.Error.AsError(resp.StatusCode)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/csv")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.WrapError(err, types.ErrServiceUnavailable, fmt.Sprintf("%s %s", method, path))
	}
	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

func statusError(status int) *types.Error {
	return types.Errorf(types.ErrInternalError, "unexpected status %d %s", status, http.StatusText(status)).WithHTTPStatus(status)
}

func modelPath(id string) string {
	return "/model/" + url.PathEscape(id)
}
