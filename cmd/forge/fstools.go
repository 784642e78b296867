package main

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/tools"
)

// registerFSTools wires the read/write/edit/delete/shell tools forge chat
// exposes to the model, each rooted at root and gated by the same
// confirm.Gate that classifies write_file/edit_file/delete_file/bash_exec
// as requiring confirmation.
func registerFSTools(reg *tools.Registry, root string) {
	reg.Register(tools.Definition{Name: "read_file", Description: "Read a file's contents", Handler: readFileHandler(root)})
	reg.Register(tools.Definition{Name: "write_file", Description: "Create or overwrite a file", Handler: writeFileHandler(root)})
	reg.Register(tools.Definition{Name: "edit_file", Description: "Replace a file's contents", Handler: writeFileHandler(root)})
	reg.Register(tools.Definition{Name: "delete_file", Description: "Delete a file", Handler: deleteFileHandler(root)})
	reg.Register(tools.Definition{Name: "bash_exec", Description: "Run a shell command", Handler: bashExecHandler(root)})
}

type pathPayload struct {
	Path string `json:"path"`
}

type writePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type shellPayload struct {
	Command string `json:"command"`
}

func resultError(start time.Time, err error) domain.ToolResult {
	return domain.ToolResult{Success: false, Error: err.Error(), Duration: time.Since(start)}
}

func readFileHandler(root string) tools.Handler {
	return func(_ context.Context, input json.RawMessage) domain.ToolResult {
		start := time.Now()
		var p pathPayload
		if err := json.Unmarshal(input, &p); err != nil {
			return resultError(start, err)
		}
		data, err := os.ReadFile(filepath.Join(root, p.Path))
		if err != nil {
			return resultError(start, err)
		}
		payload, _ := json.Marshal(map[string]string{"content": string(data)})
		return domain.ToolResult{Success: true, Data: payload, Duration: time.Since(start)}
	}
}

func writeFileHandler(root string) tools.Handler {
	return func(_ context.Context, input json.RawMessage) domain.ToolResult {
		start := time.Now()
		var p writePayload
		if err := json.Unmarshal(input, &p); err != nil {
			return resultError(start, err)
		}
		full := filepath.Join(root, p.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return resultError(start, err)
		}
		if err := os.WriteFile(full, []byte(p.Content), 0o644); err != nil {
			return resultError(start, err)
		}
		return domain.ToolResult{Success: true, Duration: time.Since(start)}
	}
}

func deleteFileHandler(root string) tools.Handler {
	return func(_ context.Context, input json.RawMessage) domain.ToolResult {
		start := time.Now()
		var p pathPayload
		if err := json.Unmarshal(input, &p); err != nil {
			return resultError(start, err)
		}
		if err := os.Remove(filepath.Join(root, p.Path)); err != nil {
			return resultError(start, err)
		}
		return domain.ToolResult{Success: true, Duration: time.Since(start)}
	}
}

// bashExecTimeout bounds a single shell invocation from forge chat.
const bashExecTimeout = 30 * time.Second

func bashExecHandler(root string) tools.Handler {
	return func(ctx context.Context, input json.RawMessage) domain.ToolResult {
		start := time.Now()
		var p shellPayload
		if err := json.Unmarshal(input, &p); err != nil {
			return resultError(start, err)
		}
		ctx, cancel := context.WithTimeout(ctx, bashExecTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		payload, _ := json.Marshal(map[string]string{"output": string(out)})
		if err != nil {
			return domain.ToolResult{Success: false, Data: payload, Error: err.Error(), Duration: time.Since(start)}
		}
		return domain.ToolResult{Success: true, Data: payload, Duration: time.Since(start)}
	}
}
