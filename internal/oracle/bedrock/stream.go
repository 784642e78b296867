package bedrock

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"forge.dev/forge/internal/oracle"
)

// streamer adapts a Bedrock ConverseStream event stream to oracle.Streamer.
type streamer struct {
	stream *bedrockruntime.ConverseStreamEventStream
	chunks chan oracle.Chunk
}

func newStreamer(stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) *streamer {
	s := &streamer{stream: stream, chunks: make(chan oracle.Chunk, 32)}
	go s.run(nameMap)
	return s
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

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.chunks)
	defer s.stream.Close()

	p := newChunkProcessor(nameMap)
	events := s.stream.Events()
	for event := range events {
		chunks, done := p.handle(event)
		for _, c := range chunks {
			s.chunks <- c
		}
		if done {
			return
		}
	}
	s.chunks <- p.doneChunk()
}

type chunkProcessor struct {
	toolBlocks map[int]*toolBuffer
	nameMap    map[string]string

	text       strings.Builder
	toolCalls  []oracle.ToolCall
	usage      oracle.TokenUsage
	stopReason oracle.StopReason
}

func newChunkProcessor(nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{toolBlocks: make(map[int]*toolBuffer), nameMap: nameMap}
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

func (p *chunkProcessor) handle(event any) ([]oracle.Chunk, bool) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			tb := &toolBuffer{}
			if start.Value.ToolUseId != nil {
				tb.id = *start.Value.ToolUseId
			}
			if start.Value.Name != nil {
				raw := normalizeToolName(*start.Value.Name)
				if canonical, ok := p.nameMap[raw]; ok {
					tb.name = canonical
				} else {
					tb.name = raw
				}
			}
			p.toolBlocks[idx] = tb
			return []oracle.Chunk{{Type: oracle.ChunkToolUseStart, ToolCallID: tb.id, ToolName: tb.name}}, false
		}
		return nil, false
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil, false
			}
			p.text.WriteString(delta.Value)
			return []oracle.Chunk{{Type: oracle.ChunkText, Text: delta.Value}}, false
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := p.toolBlocks[idx]
			if tb == nil || delta.Value.Input == nil {
				return nil, false
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return []oracle.Chunk{{
				Type:       oracle.ChunkToolUseDelta,
				ToolCallID: tb.id,
				ToolName:   tb.name,
				ToolInput:  json.RawMessage(fragment),
			}}, false
		}
		return nil, false
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		tb := p.toolBlocks[idx]
		if tb == nil {
			return nil, false
		}
		delete(p.toolBlocks, idx)
		input := tb.finalInput()
		p.toolCalls = append(p.toolCalls, oracle.ToolCall{ID: tb.id, Name: tb.name, Input: input})
		return []oracle.Chunk{{Type: oracle.ChunkToolUseEnd, ToolCallID: tb.id, ToolName: tb.name, ToolInput: input}}, false
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = mapStopReason(string(ev.Value.StopReason))
		return nil, false
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil, false
		}
		p.usage = oracle.TokenUsage{
			InputTokens:  int32Value(ev.Value.Usage.InputTokens),
			OutputTokens: int32Value(ev.Value.Usage.OutputTokens),
			TotalTokens:  int32Value(ev.Value.Usage.TotalTokens),
		}
		return nil, false
	default:
		return nil, false
	}
}

func (p *chunkProcessor) doneChunk() oracle.Chunk {
	stop := p.stopReason
	if stop == "" {
		stop = oracle.StopEndTurn
	}
	return oracle.Chunk{
		Type: oracle.ChunkDone,
		Response: &oracle.Response{
			Content:    p.text.String(),
			StopReason: stop,
			Usage:      p.usage,
			ToolCalls:  p.toolCalls,
		},
	}
}

func contentIndex(idx *int32) int {
	if idx == nil {
		return 0
	}
	return int(*idx)
}

func int32Value(ptr *int32) int {
	if ptr == nil {
		return 0
	}
	return int(*ptr)
}

func normalizeToolName(name string) string {
	if strings.HasPrefix(name, "$FUNCTIONS.") {
		return strings.TrimPrefix(name, "$FUNCTIONS.")
	}
	return name
}
