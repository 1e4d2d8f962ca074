package llm

import (
	"context"
	"errors"
	"fmt"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/anthropic"
	"dossier-ai/internal/infra/openai"
)

type messagesClient interface {
	CreateMessage(ctx context.Context, req anthropic.MessageRequest) (anthropic.MessageResponse, error)
	StreamMessage(ctx context.Context, req anthropic.MessageRequest, onText func(string) error) (anthropic.MessageResponse, error)
}

// AnthropicProvider вызывает Anthropic Messages API.
type AnthropicProvider struct {
	client messagesClient
}

// NewAnthropicProvider создаёт провайдера Anthropic.
func NewAnthropicProvider(client messagesClient) *AnthropicProvider {
	return &AnthropicProvider{client: client}
}

func (p *AnthropicProvider) message(req Request) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    []anthropic.Message{{Role: anthropic.RoleUser, Content: req.User}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// Complete реализует Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (domain.LLMResult, error) {
	resp, err := p.client.CreateMessage(ctx, p.message(req))
	if err != nil {
		return domain.LLMResult{}, err
	}
	return anthropicResult(resp)
}

// Stream реализует Provider.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) (domain.LLMResult, error) {
	resp, err := p.client.StreamMessage(ctx, p.message(req), onChunk)
	if err != nil {
		if errors.Is(err, anthropic.ErrNonTextContent) {
			return domain.LLMResult{}, fmt.Errorf("%w: %v", ErrNonTextContent, err)
		}
		return domain.LLMResult{}, err
	}
	return anthropicResult(resp)
}

func anthropicResult(resp anthropic.MessageResponse) (domain.LLMResult, error) {
	text, err := resp.Text()
	if err != nil {
		if errors.Is(err, anthropic.ErrNonTextContent) {
			return domain.LLMResult{}, fmt.Errorf("%w: %v", ErrNonTextContent, err)
		}
		return domain.LLMResult{}, err
	}
	return domain.LLMResult{
		Content: text,
		Usage: domain.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string) error) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider вызывает OpenAI-совместимый Chat Completions API.
type OpenAIProvider struct {
	client chatClient
}

// NewOpenAIProvider создаёт провайдера OpenAI.
func NewOpenAIProvider(client chatClient) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) chat(req Request) openai.ChatCompletionRequest {
	chat := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: req.System},
			{Role: openai.RoleUser, Content: req.User},
		},
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	}
	return chat
}

// Complete реализует Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (domain.LLMResult, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.chat(req))
	if err != nil {
		return domain.LLMResult{}, err
	}
	return openaiResult(resp)
}

// Stream реализует Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) (domain.LLMResult, error) {
	resp, err := p.client.StreamChatCompletion(ctx, p.chat(req), onChunk)
	if err != nil {
		return domain.LLMResult{}, err
	}
	return openaiResult(resp)
}

func openaiResult(resp openai.ChatCompletionResponse) (domain.LLMResult, error) {
	if len(resp.Choices) == 0 {
		return domain.LLMResult{}, fmt.Errorf("openai completion: пустой ответ")
	}
	result := domain.LLMResult{Content: resp.Choices[0].Message.Content}
	if resp.Usage != nil {
		result.Usage = domain.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return result, nil
}
