// Package anthropic adapts the Anthropic Claude Messages API to the
// oracle.Client interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"forge.dev/forge/internal/oracle"
)

// MessagesClient is the subset of the Anthropic SDK used by Client, so
// tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures default model selection and generation parameters.
type Options struct {
	Model          string
	MaxTokens      int
	Temperature    float32
	ContextWindow  int
}

// Client implements oracle.Client over the Anthropic Messages API.
type Client struct {
	msg           MessagesClient
	model         string
	maxTokens     int
	temperature   float32
	contextWindow int
}

// New builds a Client from an Anthropic Messages client and Options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	cw := opts.ContextWindow
	if cw <= 0 {
		cw = 200_000
	}
	return &Client{
		msg:           msg,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		contextWindow: cw,
	}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, classify(err)
	}
	return translateResponse(msg), nil
}

// Stream issues a Messages.NewStreaming call and adapts its events into
// oracle.Chunk values.
func (c *Client) Stream(ctx context.Context, req *oracle.Request) (oracle.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}
	return newStreamer(stream), nil
}

// CountTokens estimates a text's token count using a 4-characters-per-token
// heuristic; the Messages API does not expose a free token-counting call
// on this client surface.
func (c *Client) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

// ContextWindow returns the configured context window size in tokens.
func (c *Client) ContextWindow() int { return c.contextWindow }

// IsAvailable always reports true: circuit-breaker state lives one layer
// up, in internal/fallback, not in the backend adapter itself.
func (c *Client) IsAvailable() bool { return true }

func (c *Client) prepareRequest(req *oracle.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(float64(t))
	} else if c.temperature > 0 {
		params.Temperature = sdk.Float(float64(c.temperature))
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return &params, nil
}

func encodeMessages(msgs []oracle.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case oracle.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case oracle.ToolUsePart:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			case oracle.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case oracle.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case oracle.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeToolResult(v oracle.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []oracle.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := toolInputSchema(def.InputSchema)
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func toolInputSchema(schema any) sdk.ToolInputSchemaParam {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}
}

func encodeToolChoice(choice *oracle.ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", oracle.ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case oracle.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case oracle.ToolChoiceAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case oracle.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool choice mode \"tool\" requires a name")
		}
		return sdk.ToolChoiceParamOfTool(choice.Name), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(msg *sdk.Message) *oracle.Response {
	resp := &oracle.Response{}
	var text string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, oracle.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	resp.Content = text
	resp.StopReason = mapStopReason(string(msg.StopReason))
	resp.Usage = oracle.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp
}

func mapStopReason(s string) oracle.StopReason {
	switch s {
	case "end_turn", "stop_sequence":
		if s == "stop_sequence" {
			return oracle.StopStopSequence
		}
		return oracle.StopEndTurn
	case "max_tokens":
		return oracle.StopMaxTokens
	case "tool_use":
		return oracle.StopToolUse
	default:
		return oracle.StopEndTurn
	}
}

// classify turns an Anthropic SDK error into the package-wide oracle.Error
// taxonomy the retry policy and circuit breaker key off of.
func classify(err error) *oracle.Error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
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
		return oracle.NewError("anthropic", "messages.new", kind, status, apiErr.Error(), err)
	}
	return oracle.NewError("anthropic", "messages.new", oracle.KindNetwork, 0, err.Error(), err)
}
