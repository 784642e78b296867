package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"forge.dev/forge/internal/oracle"
)

// streamer adapts an Anthropic Messages SSE stream to oracle.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan oracle.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{ctx: ctx, cancel: cancel, stream: stream, chunks: make(chan oracle.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) Recv() (oracle.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return oracle.Chunk{}, err
		}
		return oracle.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return oracle.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	p := newChunkProcessor(s.emit)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(classify(err))
			} else {
				s.setErr(nil)
				s.emitDone(p)
			}
			return
		}
		if err := p.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emitDone(p *chunkProcessor) {
	_ = s.emit(oracle.Chunk{
		Type: oracle.ChunkDone,
		Response: &oracle.Response{
			Content:    p.text.String(),
			StopReason: mapStopReason(p.stopReason),
			Usage:      p.usage,
			ToolCalls:  p.toolCalls,
		},
	})
}

func (s *streamer) emit(chunk oracle.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts Anthropic streaming events into oracle.Chunks,
// accumulating the final text/usage/tool calls for the terminal ChunkDone.
type chunkProcessor struct {
	emit func(oracle.Chunk) error

	toolBlocks map[int]*toolBuffer
	text       strings.Builder
	toolCalls  []oracle.ToolCall
	usage      oracle.TokenUsage
	stopReason string
}

func newChunkProcessor(emit func(oracle.Chunk) error) *chunkProcessor {
	return &chunkProcessor{emit: emit, toolBlocks: make(map[int]*toolBuffer)}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() json.RawMessage {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(joined)
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		return nil
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			tb := &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			p.toolBlocks[idx] = tb
			return p.emit(oracle.Chunk{Type: oracle.ChunkToolUseStart, ToolCallID: tb.id, ToolName: tb.name})
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			p.text.WriteString(delta.Text)
			return p.emit(oracle.Chunk{Type: oracle.ChunkText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return p.emit(oracle.Chunk{
				Type:       oracle.ChunkToolUseDelta,
				ToolCallID: tb.id,
				ToolName:   tb.name,
				ToolInput:  json.RawMessage(delta.PartialJSON),
			})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		tb := p.toolBlocks[idx]
		if tb == nil {
			return nil
		}
		delete(p.toolBlocks, idx)
		input := tb.finalInput()
		p.toolCalls = append(p.toolCalls, oracle.ToolCall{ID: tb.id, Name: tb.name, Input: input})
		return p.emit(oracle.Chunk{Type: oracle.ChunkToolUseEnd, ToolCallID: tb.id, ToolName: tb.name, ToolInput: input})
	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		p.usage = oracle.TokenUsage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		return nil
	case sdk.MessageStopEvent:
		return nil
	}
	return nil
}
