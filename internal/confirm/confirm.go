// Package confirm implements the per-tool-call confirmation gate: risk
// classification, decision parsing, and trust bookkeeping.
package confirm

import (
	"encoding/json"
	"strings"

	"forge.dev/forge/internal/tools"
)

// Decision is the user's answer to a confirmation prompt.
type Decision string

// Recognised decisions.
const (
	DecisionYes          Decision = "yes"
	DecisionNo           Decision = "no"
	DecisionTrustProject Decision = "trust_project"
	DecisionTrustGlobal  Decision = "trust_global"
	DecisionAbort        Decision = "abort"
)

// ParseDecision parses raw user input into a Decision. Input is
// case-insensitive and whitespace-trimmed; the single-letter forms
// y/n/t/! map to yes/no/trust_project/trust_global. Any unrecognised
// input maps to DecisionNo, the fail-closed default.
func ParseDecision(raw string) Decision {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "y", "yes":
		return DecisionYes
	case "n", "no":
		return DecisionNo
	case "t", "trust_project", "trust-project":
		return DecisionTrustProject
	case "!", "trust_global", "trust-global":
		return DecisionTrustGlobal
	case "abort":
		return DecisionAbort
	default:
		return DecisionNo
	}
}

// UserInteractionSink presents a single-line prompt and returns the
// caller's free-text response. Implementations must surface SIGINT or
// stream-close as an "abort" response.
type UserInteractionSink interface {
	Prompt(message string) (response string, err error)
}

// writeTools always require confirmation.
var writeTools = map[tools.Ident]struct{}{
	"write_file":  {},
	"edit_file":   {},
	"delete_file": {},
}

// shellAllowlist holds full safe command prefixes, not bare leading
// tokens: "git" alone would also admit "git push"/"git reset --hard",
// so multi-word subcommands that are actually read-only are spelled out
// in full (e.g. "git status", not "git").
var shellAllowlist = []string{
	"ls",
	"grep",
	"cat",
	"git status",
	"git diff",
	"git log",
	"git show",
	"pwd",
	"find",
	"echo",
}

// shellMetachars are chaining/redirection/substitution characters whose
// presence forces confirmation regardless of the leading token.
const shellMetachars = "|;&>`$"

// Gate classifies tool calls by risk; confirmation responses are parsed by
// ParseDecision. It holds no mutable state itself; trust decisions are recorded through
// a separate trust.Store.
type Gate struct {
	shellTool string
}

// Option configures a Gate at construction time.
type Option func(*Gate)

// WithShellTool overrides the tool name treated as shell execution.
// Defaults to "bash_exec".
func WithShellTool(name string) Option {
	return func(g *Gate) { g.shellTool = name }
}

// New constructs a Gate.
func New(opts ...Option) *Gate {
	g := &Gate{shellTool: "bash_exec"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequiresConfirmation classifies a tool call by risk.
func (g *Gate) RequiresConfirmation(name tools.Ident, input json.RawMessage) bool {
	if _, isWrite := writeTools[name]; isWrite {
		return true
	}
	if string(name) == g.shellTool {
		return g.shellRequiresConfirmation(input)
	}
	// Read-side and unknown tools never require confirmation.
	return false
}

type shellInput struct {
	Command string `json:"command"`
}

// shellRequiresConfirmation implements the shell-specific rule: safe iff
// the command matches one of shellAllowlist's full prefixes and contains
// no chaining metacharacters. A missing/empty command fails closed.
func (g *Gate) shellRequiresConfirmation(input json.RawMessage) bool {
	var parsed shellInput
	_ = json.Unmarshal(input, &parsed)
	cmd := strings.TrimSpace(parsed.Command)
	if cmd == "" {
		return true
	}
	if strings.ContainsAny(cmd, shellMetachars) {
		return true
	}
	for _, safe := range shellAllowlist {
		if cmd == safe || strings.HasPrefix(cmd, safe+" ") {
			return false
		}
	}
	return true
}

// Preview describes what a confirmation prompt should show the user. The
// terminal rendering itself is an external collaborator; this struct is
// the narrow interface between the gate and that renderer.
type Preview struct {
	// Label is "create" for write_file, "modify" for edit_file,
	// "delete" for delete_file, or "shell" for any other tool.
	Label string
	// Summary is a short, head-truncated description safe to print
	// without further processing (e.g. the command line, or
	// "<path>" for a file write).
	Summary string
}

// BuildPreview constructs the Preview for a tool call about to be
// confirmed.
func BuildPreview(name tools.Ident, input json.RawMessage) Preview {
	switch name {
	case "write_file":
		return Preview{Label: "create", Summary: pathFromInput(input)}
	case "edit_file":
		return Preview{Label: "modify", Summary: pathFromInput(input)}
	case "delete_file":
		return Preview{Label: "delete", Summary: pathFromInput(input)}
	default:
		var parsed shellInput
		_ = json.Unmarshal(input, &parsed)
		return Preview{Label: "shell", Summary: truncate(parsed.Command, 120)}
	}
}

type pathInput struct {
	Path string `json:"path"`
}

func pathFromInput(input json.RawMessage) string {
	var p pathInput
	_ = json.Unmarshal(input, &p)
	return p.Path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
