package worker

import (
	"context"
	"errors"
	"io"
	"os"

	openai "github.com/sashabaranov/go-openai"

	gcerrors "github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/telemetry"
)

// OpenAIBackend calls a chat-completion API through go-openai. Any endpoint
// speaking the same protocol works via BaseURL.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// OpenAIOptions configure the backend. APIKeyEnv names the environment
// variable holding the key.
type OpenAIOptions struct {
	Model     string
	APIKeyEnv string
	BaseURL   string
}

func NewOpenAIBackend(opts OpenAIOptions) (*OpenAIBackend, error) {
	key := os.Getenv(opts.APIKeyEnv)
	if key == "" {
		return nil, gcerrors.NewSessionError(
			"backend API key not set in "+opts.APIKeyEnv, gcerrors.ErrInvalidInput)
	}
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: opts.Model}, nil
}

func (b *OpenAIBackend) Complete(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	ccr := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req),
		Tools:    toOpenAITools(req.Tools),
	}
	if ccr.Model == "" {
		ccr.Model = b.model
	}
	if onDelta == nil {
		return b.complete(ctx, ccr)
	}
	return b.stream(ctx, ccr, onDelta)
}

func (b *OpenAIBackend) complete(ctx context.Context, ccr openai.ChatCompletionRequest) (Response, error) {
	resp, err := b.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("backend returned no choices")
	}
	msg := resp.Choices[0].Message
	return Response{
		Content:   msg.Content,
		ToolCalls: fromOpenAIToolCalls(msg.ToolCalls),
		Usage: telemetry.TokenUsage{
			Model:        ccr.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (b *OpenAIBackend) stream(ctx context.Context, ccr openai.ChatCompletionRequest, onDelta func(string)) (Response, error) {
	ccr.Stream = true
	ccr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := b.client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		return Response{}, err
	}
	defer stream.Close()

	var (
		content string
		calls   []ToolCall
		usage   telemetry.TokenUsage
	)
	usage.Model = ccr.Model

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, err
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			onDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(calls) <= idx {
				calls = append(calls, ToolCall{})
			}
			if tc.ID != "" {
				calls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].Name = tc.Function.Name
			}
			calls[idx].Arguments += tc.Function.Arguments
		}
	}
	return Response{Content: content, ToolCalls: calls, Usage: usage}, nil
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
