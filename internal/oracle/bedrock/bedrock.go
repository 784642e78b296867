// Package bedrock adapts the AWS Bedrock Converse API to the
// oracle.Client interface.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"forge.dev/forge/internal/oracle"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client used by
// Client, so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures default model selection and generation parameters.
type Options struct {
	Model         string
	MaxTokens     int
	Temperature   float32
	ContextWindow int
}

// Client implements oracle.Client over the Bedrock Converse API.
type Client struct {
	runtime       RuntimeClient
	model         string
	maxTokens     int
	temperature   float32
	contextWindow int
}

// New builds a Client from a Bedrock runtime client and Options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	cw := opts.ContextWindow
	if cw <= 0 {
		cw = 200_000
	}
	return &Client{runtime: runtime, model: opts.Model, maxTokens: opts.MaxTokens, temperature: opts.Temperature, contextWindow: cw}, nil
}

// Complete issues a Converse call.
func (c *Client) Complete(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := c.buildConverseInput(parts, req)
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	return translateResponse(out, parts.sanToCanon)
}

// Stream issues a ConverseStream call and adapts its events into
// oracle.Chunk values.
func (c *Client) Stream(ctx context.Context, req *oracle.Request) (oracle.Streamer, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := c.buildConverseStreamInput(parts, req)
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(stream, parts.sanToCanon), nil
}

// CountTokens estimates a text's token count using a 4-characters-per-token
// heuristic.
func (c *Client) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

// ContextWindow returns the configured context window size in tokens.
func (c *Client) ContextWindow() int { return c.contextWindow }

// IsAvailable always reports true: circuit-breaker state lives one layer
// up, in internal/fallback.
func (c *Client) IsAvailable() bool { return true }

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	canonToSan map[string]string
	sanToCanon map[string]string
}

func (c *Client) prepareRequest(req *oracle.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools, req.ToolChoice)
	if err != nil {
		return nil, err
	}
	messages, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}
	var system []brtypes.SystemContentBlock
	if req.System != "" {
		system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	return &requestParts{
		modelID:    c.model,
		messages:   messages,
		system:     system,
		toolConfig: toolConfig,
		canonToSan: canonToSan,
		sanToCanon: sanToCanon,
	}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req *oracle.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(parts.modelID), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) buildConverseStreamInput(parts *requestParts, req *oracle.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(parts.modelID), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTokens
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens))
	}
	t := temp
	if t <= 0 {
		t = c.temperature
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []oracle.Message, nameMap map[string]string) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case oracle.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case oracle.ToolUsePart:
				tb := brtypes.ToolUseBlock{Input: toDocument(v.Input)}
				if v.Name != "" {
					sanitized, ok := nameMap[v.Name]
					if !ok {
						return nil, fmt.Errorf("bedrock: tool_use references %q which is not in the current tool configuration", v.Name)
					}
					tb.Name = aws.String(sanitized)
				}
				if v.ID != "" {
					tb.ToolUseId = aws.String(toolUseID(v.ID))
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case oracle.ToolResultPart:
				tr := brtypes.ToolResultBlock{ToolUseId: aws.String(toolUseID(v.ToolUseID))}
				if s, ok := v.Content.(string); ok {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: s}}
				} else {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberJson{Value: toDocument(v.Content)}}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == oracle.RoleUser {
			role = brtypes.ConversationRoleUser
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []oracle.ToolDefinition, choice *oracle.ToolChoice) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		canonToSan[def.Name] = sanitized
		sanToCanon[sanitized] = def.Name
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	cfg := &brtypes.ToolConfiguration{Tools: toolList}
	if choice != nil {
		switch choice.Mode {
		case "", oracle.ToolChoiceAuto:
		case oracle.ToolChoiceAny:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
		case oracle.ToolChoiceTool:
			sanitized, ok := canonToSan[choice.Name]
			if !ok {
				return nil, nil, nil, fmt.Errorf("bedrock: tool choice name %q does not match any tool", choice.Name)
			}
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
		}
	}
	return cfg, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool name to Bedrock's [a-zA-Z0-9_-]+,
// <=64-char constraint, appending a stable hash suffix on truncation.
func sanitizeToolName(in string) string {
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		case r == '.':
			out = append(out, '_')
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	const maxLen = 64
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:8]
	return sanitized[:maxLen-9] + "_" + suffix
}

func toolUseID(id string) string {
	if isProviderSafeID(id) {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return "t" + hex.EncodeToString(sum[:])[:16]
}

func isProviderSafeID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func toDocument(v any) document.Interface {
	if v == nil {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if len(raw) == 0 {
			decoded = map[string]any{"type": "object"}
		} else if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = map[string]any{"type": "object"}
		}
		return document.NewLazyDocument(&decoded)
	}
	return document.NewLazyDocument(&v)
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (*oracle.Response, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	resp := &oracle.Response{}
	var text strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text.WriteString(v.Value)
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = nameMap[*v.Value.Name]
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, oracle.ToolCall{ID: id, Name: name, Input: decodeDocument(v.Value.Input)})
			}
		}
	}
	resp.Content = text.String()
	if usage := output.Usage; usage != nil {
		resp.Usage = oracle.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	resp.StopReason = mapStopReason(string(output.StopReason))
	return resp, nil
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

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}

// classify turns a Bedrock SDK error into the package-wide oracle.Error
// taxonomy the retry policy and circuit breaker key off of.
func classify(err error) *oracle.Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := oracle.KindServerError
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = oracle.KindRateLimited
		case "AccessDeniedException", "UnrecognizedClientException":
			kind = oracle.KindUnauthorized
		case "ValidationException":
			kind = oracle.KindMalformed
		}
		status := 0
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
			if status == 429 {
				kind = oracle.KindRateLimited
			}
		}
		return oracle.NewError("bedrock", "converse", kind, status, apiErr.ErrorMessage(), err)
	}
	return oracle.NewError("bedrock", "converse", oracle.KindNetwork, 0, err.Error(), err)
}
