package openai

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	sdk "github.com/sashabaranov/go-openai"

	"forge.dev/forge/internal/oracle"
)

// streamer adapts a go-openai chat completion stream to oracle.Streamer.
type streamer struct {
	stream *sdk.ChatCompletionStream

	chunks chan oracle.Chunk
	once   sync.Once

	text       strings.Builder
	toolCalls  map[int]*streamToolCall
	order      []int
	usage      oracle.TokenUsage
	stopReason oracle.StopReason
}

type streamToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newStreamer(s *sdk.ChatCompletionStream) *streamer {
	st := &streamer{stream: s, chunks: make(chan oracle.Chunk, 32), toolCalls: make(map[int]*streamToolCall)}
	go st.run()
	return st
}

func (s *streamer) Recv() (oracle.Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		return oracle.Chunk{}, io.EOF
	}
	return chunk, nil
}

func (s *streamer) Close() error {
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return
			}
			s.chunks <- s.doneChunk()
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			s.text.WriteString(choice.Delta.Content)
			s.chunks <- oracle.Chunk{Type: oracle.ChunkText, Text: choice.Delta.Content}
		}
		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			tc, ok := s.toolCalls[idx]
			if !ok {
				tc = &streamToolCall{id: call.ID, name: call.Function.Name}
				s.toolCalls[idx] = tc
				s.order = append(s.order, idx)
				s.chunks <- oracle.Chunk{Type: oracle.ChunkToolUseStart, ToolCallID: tc.id, ToolName: tc.name}
			}
			if call.Function.Arguments != "" {
				tc.args.WriteString(call.Function.Arguments)
				s.chunks <- oracle.Chunk{
					Type:       oracle.ChunkToolUseDelta,
					ToolCallID: tc.id,
					ToolName:   tc.name,
					ToolInput:  json.RawMessage(call.Function.Arguments),
				}
			}
		}
		if choice.FinishReason != "" {
			s.stopReason = mapFinishReason(choice.FinishReason)
		}
		if resp.Usage != nil {
			s.usage = oracle.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
	}
}

func (s *streamer) doneChunk() oracle.Chunk {
	toolCalls := make([]oracle.ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		tc := s.toolCalls[idx]
		input := json.RawMessage(tc.args.String())
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		toolCalls = append(toolCalls, oracle.ToolCall{ID: tc.id, Name: tc.name, Input: input})
		s.chunks <- oracle.Chunk{Type: oracle.ChunkToolUseEnd, ToolCallID: tc.id, ToolName: tc.name, ToolInput: input}
	}
	stop := s.stopReason
	if stop == "" {
		stop = oracle.StopEndTurn
	}
	return oracle.Chunk{
		Type: oracle.ChunkDone,
		Response: &oracle.Response{
			Content:    s.text.String(),
			StopReason: stop,
			Usage:      s.usage,
			ToolCalls:  toolCalls,
		},
	}
}
