package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dossier-ai/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// ErrNonTextContent возвращается, если модель ответила блоком не текстового типа.
var ErrNonTextContent = errors.New("anthropic: response content is not text")

// APIError ошибка HTTP уровня от Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("anthropic: unexpected status %d", e.StatusCode)
}

// Client выполняет запросы к Anthropic Messages API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента Anthropic.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout + 5*time.Second}, baseURL: baseURL, apiKey: apiKey}
}

// Message сообщение диалога.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleUser сообщение пользователя.
const RoleUser = "user"

// MessageRequest тело запроса /messages.
type MessageRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

// ContentBlock блок ответа модели.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage статистика токенов.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageResponse ответ модели.
type MessageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text возвращает текст первого блока. Нетекстовый первый блок считается ошибкой.
func (r MessageResponse) Text() (string, error) {
	if len(r.Content) == 0 {
		return "", fmt.Errorf("anthropic: empty content")
	}
	if r.Content[0].Type != "text" {
		return "", fmt.Errorf("%w: %s", ErrNonTextContent, r.Content[0].Type)
	}
	return r.Content[0].Text, nil
}

// CreateMessage вызывает /messages и ждёт полный ответ.
func (c *Client) CreateMessage(ctx context.Context, req MessageRequest) (MessageResponse, error) {
	req.Stream = false
	start := time.Now()
	resp, err := c.do(ctx, req)
	if err != nil {
		metrics.ObserveNetworkRequest("anthropic", "messages", req.Model, start, err)
		return MessageResponse{}, err
	}
	defer resp.Body.Close()

	var message MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		err = fmt.Errorf("anthropic: decode response: %w", err)
		metrics.ObserveNetworkRequest("anthropic", "messages", req.Model, start, err)
		return MessageResponse{}, err
	}
	metrics.ObserveNetworkRequest("anthropic", "messages", req.Model, start, nil)
	metrics.ObserveLLMGeneration(req.Model, time.Since(start), message.Usage.InputTokens, message.Usage.OutputTokens)
	return message, nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamMessage вызывает /messages с stream=true и передаёт текстовые фрагменты в onText.
// Возвращает собранный ответ после message_stop.
func (c *Client) StreamMessage(ctx context.Context, req MessageRequest, onText func(string) error) (MessageResponse, error) {
	req.Stream = true
	start := time.Now()
	resp, err := c.do(ctx, req)
	if err != nil {
		metrics.ObserveNetworkRequest("anthropic", "messages_stream", req.Model, start, err)
		return MessageResponse{}, err
	}
	defer resp.Body.Close()

	result, err := readStream(resp.Body, onText)
	metrics.ObserveNetworkRequest("anthropic", "messages_stream", req.Model, start, err)
	if err != nil {
		return MessageResponse{}, err
	}
	if result.Model == "" {
		result.Model = req.Model
	}
	metrics.ObserveLLMGeneration(req.Model, time.Since(start), result.Usage.InputTokens, result.Usage.OutputTokens)
	return result, nil
}

func readStream(body io.Reader, onText func(string) error) (MessageResponse, error) {
	var (
		result  MessageResponse
		text    strings.Builder
		stopped bool
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return MessageResponse{}, fmt.Errorf("anthropic: decode stream event: %w", err)
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				result.Model = ev.Message.Model
				result.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type != "text" {
				return MessageResponse{}, fmt.Errorf("%w: %s", ErrNonTextContent, ev.ContentBlock.Type)
			}
		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Type != "text_delta" {
				continue
			}
			text.WriteString(ev.Delta.Text)
			if onText != nil && ev.Delta.Text != "" {
				if err := onText(ev.Delta.Text); err != nil {
					return MessageResponse{}, err
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				result.StopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				result.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			stopped = true
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return MessageResponse{}, fmt.Errorf("anthropic: %s", msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return MessageResponse{}, fmt.Errorf("anthropic: read stream: %w", err)
	}
	if !stopped {
		return MessageResponse{}, fmt.Errorf("anthropic: stream ended before message_stop")
	}
	result.Content = []ContentBlock{{Type: "text", Text: text.String()}}
	return result, nil
}

func (c *Client) do(ctx context.Context, req MessageRequest) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed apiErrorResponse
		if err := json.Unmarshal(data, &parsed); err == nil {
			apiErr.Type = parsed.Error.Type
			apiErr.Message = parsed.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
