package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"synchire-go/internal/config"
	"synchire-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("synchire-go/parser")

const (
	defaultChatCompletionsURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultChatModelName      = "qwen-plus"
	defaultChatTimeout        = 60 * time.Second
)

// chatMessage OpenAI 兼容的消息结构
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// APIError 接口返回的错误，StatusCode 为 0 表示 HTTP 200 但响应体带 error 字段
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("API 返回错误 %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("API 请求失败，状态 %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// HTTPStatus 供重试策略按状态码分类
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// ChatModel 通过 OpenAI 兼容的 chat/completions 接口访问大模型，
// 实现 eino 的 model.ToolCallingChatModel。提取场景只需要 JSON 文本输出，不支持工具调用。
type ChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float64
	maxTokens   int
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewChatModel 根据 LLM 配置创建模型客户端
func NewChatModel(cfg config.LLMConfig, logger zerolog.Logger) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	name := cfg.Model
	if strings.TrimSpace(name) == "" {
		name = defaultChatModelName
	}
	url := cfg.BaseURL
	if strings.TrimSpace(url) == "" {
		url = defaultChatCompletionsURL
	} else if !strings.HasSuffix(url, "/chat/completions") {
		url = strings.TrimRight(url, "/") + "/chat/completions"
	}

	m := &ChatModel{
		apiKey:     cfg.APIKey,
		modelName:  name,
		apiURL:     url,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: config.GetDuration(cfg.Timeout, defaultChatTimeout)},
		logger:     logger.With().Str("component", "chat_model").Logger(),
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		m.temperature = &t
	}
	m.logger.Info().Str("url", url).Str("model", name).Msg("LLM 客户端已创建")
	return m, nil
}

// ModelName 返回实际使用的模型名
func (m *ChatModel) ModelName() string {
	return m.modelName
}

// Generate 发送一次非流式补全请求
func (m *ChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	ctx, span := tracer.Start(ctx, "ChatModel.Generate")
	defer span.End()

	options := model.GetCommonOptions(&model.Options{}, opts...)

	req := chatCompletionRequest{
		Model:          m.modelName,
		Messages:       make([]chatMessage, 0, len(messages)),
		Temperature:    m.temperature,
		MaxTokens:      m.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		t := float64(*options.Temperature)
		req.Temperature = &t
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	m.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("body", tracing.TruncateString(string(respBody), 500)).
		Msg("LLM 响应")

	if resp.StatusCode != http.StatusOK {
		err := &APIError{StatusCode: resp.StatusCode, Message: tracing.TruncateString(string(respBody), 300)}
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if parsed.Error != nil {
		return nil, &APIError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("API 返回空 choices")
	}

	choice := parsed.Choices[0]
	out := &schema.Message{Role: schema.Assistant}
	if choice.Message.Role != "" {
		out.Role = schema.RoleType(choice.Message.Role)
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	out.ResponseMeta = &schema.ResponseMeta{
		FinishReason: choice.FinishReason,
		Usage: &schema.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	return out, nil
}

// Stream 不支持
func (m *ChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("ChatModel 不支持流式输出")
}

// WithTools 提取场景不使用工具，原样返回
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) > 0 {
		m.logger.Warn().Int("tools", len(tools)).Msg("ChatModel 忽略工具绑定")
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)
