// Package openai adapts the OpenAI Chat Completions API to the
// oracle.Client interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/sashabaranov/go-openai"

	"forge.dev/forge/internal/oracle"
)

// ChatClient is the subset of the go-openai client used by Client, so
// tests can substitute a fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request sdk.ChatCompletionRequest) (*sdk.ChatCompletionStream, error)
}

// Options configures default model selection.
type Options struct {
	Model         string
	MaxTokens     int
	ContextWindow int
}

// Client implements oracle.Client over the OpenAI Chat Completions API.
type Client struct {
	chat          ChatClient
	model         string
	maxTokens     int
	contextWindow int
}

// New builds a Client from a go-openai ChatClient and Options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.Model)
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	cw := opts.ContextWindow
	if cw <= 0 {
		cw = 128_000
	}
	return &Client{chat: chat, model: modelID, maxTokens: opts.MaxTokens, contextWindow: cw}, nil
}

// NewFromAPIKey constructs a Client using the default go-openai HTTP
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(sdk.NewClient(apiKey), opts)
}

// Complete issues a non-streaming chat completion call.
func (c *Client) Complete(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	request, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, classify(err)
	}
	return translateResponse(resp), nil
}

// Stream issues a streaming chat completion call and adapts its chunks
// into oracle.Chunk values.
func (c *Client) Stream(ctx context.Context, req *oracle.Request) (oracle.Streamer, error) {
	request, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	request.Stream = true
	s, err := c.chat.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, classify(err)
	}
	return newStreamer(s), nil
}

// CountTokens estimates a text's token count using a 4-characters-per-token
// heuristic; go-openai does not expose a free-standing tokenizer call.
func (c *Client) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

// ContextWindow returns the configured context window size in tokens.
func (c *Client) ContextWindow() int { return c.contextWindow }

// IsAvailable always reports true: circuit-breaker state lives one layer
// up, in internal/fallback.
func (c *Client) IsAvailable() bool { return true }

func (c *Client) buildRequest(req *oracle.Request) (sdk.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return sdk.ChatCompletionRequest{}, errors.New("openai: at least one message is required")
	}
	modelID := c.model
	messages := make([]sdk.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs, err := encodeMessage(m)
		if err != nil {
			return sdk.ChatCompletionRequest{}, err
		}
		messages = append(messages, msgs...)
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return sdk.ChatCompletionRequest{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	request := sdk.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Tools:       tools,
		Stop:        req.StopSequences,
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return sdk.ChatCompletionRequest{}, err
		}
		request.ToolChoice = tc
	}
	return request, nil
}

func encodeMessage(m oracle.Message) ([]sdk.ChatCompletionMessage, error) {
	role := sdk.ChatMessageRoleUser
	if m.Role == oracle.RoleAssistant {
		role = sdk.ChatMessageRoleAssistant
	}
	var text strings.Builder
	var toolCalls []sdk.ToolCall
	var results []sdk.ChatCompletionMessage
	for _, part := range m.Parts {
		switch v := part.(type) {
		case oracle.TextPart:
			text.WriteString(v.Text)
		case oracle.ToolUsePart:
			toolCalls = append(toolCalls, sdk.ToolCall{
				ID:   v.ID,
				Type: sdk.ToolTypeFunction,
				Function: sdk.FunctionCall{
					Name:      v.Name,
					Arguments: string(v.Input),
				},
			})
		case oracle.ToolResultPart:
			results = append(results, sdk.ChatCompletionMessage{
				Role:       sdk.ChatMessageRoleTool,
				Content:    toolResultString(v),
				ToolCallID: v.ToolUseID,
			})
		}
	}
	out := make([]sdk.ChatCompletionMessage, 0, 1+len(results))
	if text.Len() > 0 || len(toolCalls) > 0 {
		out = append(out, sdk.ChatCompletionMessage{Role: role, Content: text.String(), ToolCalls: toolCalls})
	}
	out = append(out, results...)
	return out, nil
}

func toolResultString(v oracle.ToolResultPart) string {
	switch c := v.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeTools(defs []oracle.ToolDefinition) ([]sdk.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %s schema: %w", def.Name, err)
		}
		out = append(out, sdk.Tool{
			Type: sdk.ToolTypeFunction,
			Function: &sdk.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out, nil
}

func encodeToolChoice(choice *oracle.ToolChoice) (any, error) {
	switch choice.Mode {
	case "", oracle.ToolChoiceAuto:
		return "auto", nil
	case oracle.ToolChoiceNone:
		return "none", nil
	case oracle.ToolChoiceAny:
		return "required", nil
	case oracle.ToolChoiceTool:
		if choice.Name == "" {
			return nil, errors.New("openai: tool choice mode \"tool\" requires a name")
		}
		return sdk.ToolChoice{Type: sdk.ToolTypeFunction, Function: sdk.ToolFunction{Name: choice.Name}}, nil
	default:
		return nil, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(resp sdk.ChatCompletionResponse) *oracle.Response {
	out := &oracle.Response{}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.StopReason = mapFinishReason(choice.FinishReason)
		for _, call := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, oracle.ToolCall{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: json.RawMessage(call.Function.Arguments),
			})
		}
	}
	out.Usage = oracle.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return out
}

func mapFinishReason(r sdk.FinishReason) oracle.StopReason {
	switch r {
	case sdk.FinishReasonStop:
		return oracle.StopEndTurn
	case sdk.FinishReasonLength:
		return oracle.StopMaxTokens
	case sdk.FinishReasonToolCalls, sdk.FinishReasonFunctionCall:
		return oracle.StopToolUse
	default:
		return oracle.StopEndTurn
	}
}

// classify turns a go-openai error into the package-wide oracle.Error
// taxonomy the retry policy and circuit breaker key off of.
func classify(err error) *oracle.Error {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatusCode
		kind := oracle.KindServerError
		switch {
		case status == 401 || status == 403:
			kind = oracle.KindUnauthorized
		case status == 429:
			kind = oracle.KindRateLimited
		case status == 408:
			kind = oracle.KindTimeout
		case status >= 500:
			kind = oracle.KindServerError
		case status >= 400:
			kind = oracle.KindMalformed
		}
		return oracle.NewError("openai", "chat.completions", kind, status, apiErr.Message, err)
	}
	var reqErr *sdk.RequestError
	if errors.As(err, &reqErr) {
		return oracle.NewError("openai", "chat.completions", oracle.KindNetwork, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return oracle.NewError("openai", "chat.completions", oracle.KindNetwork, 0, err.Error(), err)
}
