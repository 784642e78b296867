package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"forge.dev/forge/internal/confirm"
	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/oracle"
	"forge.dev/forge/internal/tools"
	"forge.dev/forge/internal/tools/executor"
)

const chatSystemPrompt = "You are forge, a coding assistant with file and shell tools scoped to the current project root."

// runChat is an interactive REPL over the configured oracle backend, with
// file and shell tools gated by the same confirm.Gate the build pipeline
// would use for any future agentic editing mode.
func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	root := fs.String("root", ".", "project root")
	configPath := fs.String("config", "forge.yaml", "path to forge.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := forgeConfigAt(*root, *configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, *root)
	if err != nil {
		return err
	}
	registerFSTools(a.tools, *root)

	ctx := context.Background()
	prompter := newStdinPrompter()
	toolDefs := chatToolDefinitions()
	var messages []oracle.Message

	for {
		line, err := prompter.Prompt("you> ")
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		messages = append(messages, oracle.Message{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.TextPart{Text: line}}})
		resp, err := a.oracle.Complete(ctx, &oracle.Request{
			Messages:    messages,
			System:      chatSystemPrompt,
			Tools:       toolDefs,
			ToolChoice:  &oracle.ToolChoice{Mode: oracle.ToolChoiceAuto},
			MaxTokens:   cfg.Oracle.MaxTokens,
			Temperature: cfg.Oracle.Temperature,
		})
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		messages = append(messages, assistantMessage(resp))
		if resp.Content != "" {
			fmt.Println("forge>", resp.Content)
		}
		if len(resp.ToolCalls) == 0 {
			continue
		}

		followUp, err := runToolCalls(ctx, a, prompter, resp.ToolCalls)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		messages = append(messages, followUp)

		final, err := a.oracle.Complete(ctx, &oracle.Request{
			Messages:    messages,
			System:      chatSystemPrompt,
			Tools:       toolDefs,
			MaxTokens:   cfg.Oracle.MaxTokens,
			Temperature: cfg.Oracle.Temperature,
		})
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		messages = append(messages, assistantMessage(final))
		if final.Content != "" {
			fmt.Println("forge>", final.Content)
		}
	}
}

func assistantMessage(resp *oracle.Response) oracle.Message {
	parts := []oracle.Part{oracle.TextPart{Text: resp.Content}}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, oracle.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Input})
	}
	return oracle.Message{Role: oracle.RoleAssistant, Parts: parts}
}

// runToolCalls confirms and dispatches calls, then folds every call's
// outcome (executed, skipped, or refused) into one tool-result message so
// every ToolUsePart the model issued has a matching ToolResultPart, as the
// wire protocol requires.
func runToolCalls(ctx context.Context, a *app, prompter *stdinPrompter, calls []oracle.ToolCall) (oracle.Message, error) {
	var allowed []domain.ToolCall
	skipped := make(map[string]string)

	for _, tc := range calls {
		dc := domain.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input}
		ident := tools.Ident(tc.Name)
		if a.gate.RequiresConfirmation(ident, tc.Input) && !a.trusted.IsTrusted(ident) {
			preview := confirm.BuildPreview(ident, tc.Input)
			answer, err := prompter.Prompt(fmt.Sprintf("confirm %s %s [y/n/t/!]: ", preview.Label, preview.Summary))
			if err != nil {
				return oracle.Message{}, err
			}
			switch confirm.ParseDecision(answer) {
			case confirm.DecisionYes:
				allowed = append(allowed, dc)
			case confirm.DecisionTrustProject, confirm.DecisionTrustGlobal:
				if err := a.trusted.Trust(ident); err != nil {
					return oracle.Message{}, err
				}
				allowed = append(allowed, dc)
			case confirm.DecisionAbort:
				skipped[tc.ID] = "aborted by user"
			default:
				skipped[tc.ID] = "declined by user"
			}
			continue
		}
		allowed = append(allowed, dc)
	}

	batch := executor.Run(ctx, allowed, a.tools, executor.Options{Logger: a.logger})
	results := make(map[string]domain.ToolResult, len(batch.Executed))
	for _, ex := range batch.Executed {
		results[ex.ID] = ex.Result
	}

	var parts []oracle.Part
	for _, tc := range calls {
		if reason, ok := skipped[tc.ID]; ok {
			parts = append(parts, oracle.ToolResultPart{ToolUseID: tc.ID, Content: reason, IsError: true})
			continue
		}
		result, ok := results[tc.ID]
		if !ok {
			parts = append(parts, oracle.ToolResultPart{ToolUseID: tc.ID, Content: "tool call was skipped", IsError: true})
			continue
		}
		if !result.Success {
			parts = append(parts, oracle.ToolResultPart{ToolUseID: tc.ID, Content: result.Error, IsError: true})
			continue
		}
		parts = append(parts, oracle.ToolResultPart{ToolUseID: tc.ID, Content: string(result.Data)})
	}
	return oracle.Message{Role: oracle.RoleUser, Parts: parts}, nil
}

func chatToolDefinitions() []oracle.ToolDefinition {
	return []oracle.ToolDefinition{
		{Name: "read_file", Description: "Read a file's contents", InputSchema: schemaOf("path")},
		{Name: "write_file", Description: "Create or overwrite a file", InputSchema: schemaOf("path", "content")},
		{Name: "edit_file", Description: "Replace a file's contents", InputSchema: schemaOf("path", "content")},
		{Name: "delete_file", Description: "Delete a file", InputSchema: schemaOf("path")},
		{Name: "bash_exec", Description: "Run a shell command", InputSchema: schemaOf("command")},
	}
}

func schemaOf(fields ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{"type": "object", "properties": props, "required": fields}
}
