package openai

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/oracle"
)

// fakeChatClient scripts CreateChatCompletion's response/error. The
// streaming path returns a concrete *sdk.ChatCompletionStream, which this
// fake does not attempt to construct.
type fakeChatClient struct {
	resp sdk.ChatCompletionResponse
	err  error
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, request sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error) {
	return f.resp, f.err
}

func (f *fakeChatClient) CreateChatCompletionStream(ctx context.Context, request sdk.ChatCompletionRequest) (*sdk.ChatCompletionStream, error) {
	return nil, f.err
}

func basicRequest() *oracle.Request {
	return &oracle.Request{
		Messages: []oracle.Message{{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.TextPart{Text: "hi"}}}},
	}
}

func TestNew_RequiresChatClient(t *testing.T) {
	_, err := New(nil, Options{Model: "gpt-x"})
	require.Error(t, err)
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(&fakeChatClient{}, Options{})
	require.Error(t, err)
}

func TestNew_TrimsWhitespaceFromModel(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "  gpt-x  "})
	require.NoError(t, err)
	require.Equal(t, "gpt-x", c.model)
}

func TestNew_DefaultsContextWindowWhenUnset(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-x"})
	require.NoError(t, err)
	require.Equal(t, 128_000, c.ContextWindow())
}

func TestNewFromAPIKey_RequiresAPIKey(t *testing.T) {
	_, err := NewFromAPIKey("  ", Options{Model: "gpt-x"})
	require.Error(t, err)
}

func TestComplete_TranslatesContentFinishReasonToolCallsAndUsage(t *testing.T) {
	resp := sdk.ChatCompletionResponse{
		Choices: []sdk.ChatCompletionChoice{
			{
				Message: sdk.ChatCompletionMessage{
					Content: "the answer",
					ToolCalls: []sdk.ToolCall{
						{ID: "call_1", Type: sdk.ToolTypeFunction, Function: sdk.FunctionCall{Name: "search", Arguments: `{"q":"x"}`}},
					},
				},
				FinishReason: sdk.FinishReasonToolCalls,
			},
		},
		Usage: sdk.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
	}
	c, err := New(&fakeChatClient{resp: resp}, Options{Model: "gpt-x"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), basicRequest())
	require.NoError(t, err)
	require.Equal(t, "the answer", out.Content)
	require.Equal(t, oracle.StopToolUse, out.StopReason)
	require.Equal(t, oracle.TokenUsage{InputTokens: 12, OutputTokens: 8, TotalTokens: 20}, out.Usage)
	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, "call_1", out.ToolCalls[0].ID)
	require.Equal(t, "search", out.ToolCalls[0].Name)
	require.JSONEq(t, `{"q":"x"}`, string(out.ToolCalls[0].Input))
}

func TestComplete_EmptyChoicesYieldsZeroValueResponse(t *testing.T) {
	c, err := New(&fakeChatClient{resp: sdk.ChatCompletionResponse{}}, Options{Model: "gpt-x"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), basicRequest())
	require.NoError(t, err)
	require.Equal(t, "", out.Content)
	require.Empty(t, out.ToolCalls)
}

func TestComplete_RequiresAtLeastOneMessage(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-x"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &oracle.Request{})
	require.Error(t, err)
}

func TestComplete_ToolChoiceModeToolRequiresName(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-x"})
	require.NoError(t, err)

	req := basicRequest()
	req.ToolChoice = &oracle.ToolChoice{Mode: oracle.ToolChoiceTool}
	_, err = c.Complete(context.Background(), req)
	require.Error(t, err)
}

func TestBuildRequest_PrependsSystemMessageAndEncodesToolResult(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-x"})
	require.NoError(t, err)

	req := &oracle.Request{
		System: "be concise",
		Messages: []oracle.Message{
			{Role: oracle.RoleAssistant, Parts: []oracle.Part{oracle.ToolUsePart{ID: "call_1", Name: "search", Input: json.RawMessage(`{}`)}}},
			{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.ToolResultPart{ToolUseID: "call_1", Content: "result text"}}},
		},
	}
	out, err := c.buildRequest(req)
	require.NoError(t, err)
	require.Equal(t, sdk.ChatMessageRoleSystem, out.Messages[0].Role)
	require.Equal(t, "be concise", out.Messages[0].Content)

	var sawToolCall, sawToolResult bool
	for _, m := range out.Messages {
		if len(m.ToolCalls) > 0 {
			sawToolCall = true
			require.Equal(t, "search", m.ToolCalls[0].Function.Name)
		}
		if m.Role == sdk.ChatMessageRoleTool {
			sawToolResult = true
			require.Equal(t, "call_1", m.ToolCallID)
			require.Equal(t, "result text", m.Content)
		}
	}
	require.True(t, sawToolCall)
	require.True(t, sawToolResult)
}

func TestMapFinishReason(t *testing.T) {
	require.Equal(t, oracle.StopEndTurn, mapFinishReason(sdk.FinishReasonStop))
	require.Equal(t, oracle.StopMaxTokens, mapFinishReason(sdk.FinishReasonLength))
	require.Equal(t, oracle.StopToolUse, mapFinishReason(sdk.FinishReasonToolCalls))
	require.Equal(t, oracle.StopToolUse, mapFinishReason(sdk.FinishReasonFunctionCall))
	require.Equal(t, oracle.StopEndTurn, mapFinishReason(sdk.FinishReason("unknown")))
}

func TestClassify_MapsAPIErrorStatusCodesToKinds(t *testing.T) {
	cases := []struct {
		status int
		want   oracle.ErrorKind
	}{
		{401, oracle.KindUnauthorized},
		{403, oracle.KindUnauthorized},
		{429, oracle.KindRateLimited},
		{408, oracle.KindTimeout},
		{500, oracle.KindServerError},
		{503, oracle.KindServerError},
		{400, oracle.KindMalformed},
	}
	for _, tc := range cases {
		apiErr := &sdk.APIError{HTTPStatusCode: tc.status, Message: "boom"}
		oe := classify(apiErr)
		require.Equal(t, tc.want, oe.Kind, "status %d", tc.status)
		require.Equal(t, tc.status, oe.HTTP)
		require.Equal(t, "openai", oe.Provider)
	}
}

func TestClassify_RequestErrorIsNetworkKind(t *testing.T) {
	reqErr := &sdk.RequestError{HTTPStatusCode: 0, Err: context.DeadlineExceeded}
	oe := classify(reqErr)
	require.Equal(t, oracle.KindNetwork, oe.Kind)
}

func TestClassify_NonSDKErrorFallsBackToNetworkKindWithZeroStatus(t *testing.T) {
	oe := classify(context.Canceled)
	require.Equal(t, oracle.KindNetwork, oe.Kind)
	require.Equal(t, 0, oe.HTTP)
}

func TestComplete_WrapsClassifiedErrorFromChatClient(t *testing.T) {
	c, err := New(&fakeChatClient{err: &sdk.APIError{HTTPStatusCode: 429, Message: "slow down"}}, Options{Model: "gpt-x"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), basicRequest())
	require.Error(t, err)
	oe, ok := oracle.AsError(err)
	require.True(t, ok)
	require.Equal(t, oracle.KindRateLimited, oe.Kind)
	require.True(t, oe.Retryable())
}

func TestCountTokens_UsesFourCharacterHeuristic(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-x"})
	require.NoError(t, err)
	require.Equal(t, 1, c.CountTokens("abcd"))
	require.Equal(t, 2, c.CountTokens("abcde"))
}

func TestIsAvailable_AlwaysTrue(t *testing.T) {
	c, err := New(&fakeChatClient{}, Options{Model: "gpt-x"})
	require.NoError(t, err)
	require.True(t, c.IsAvailable())
}
