package confirm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDecision_RecognisesLongAndShortForms(t *testing.T) {
	cases := map[string]Decision{
		"y":             DecisionYes,
		"Y":             DecisionYes,
		"yes":           DecisionYes,
		" yes ":         DecisionYes,
		"n":             DecisionNo,
		"no":            DecisionNo,
		"t":             DecisionTrustProject,
		"trust_project": DecisionTrustProject,
		"trust-project": DecisionTrustProject,
		"!":             DecisionTrustGlobal,
		"trust_global":  DecisionTrustGlobal,
		"trust-global":  DecisionTrustGlobal,
		"abort":         DecisionAbort,
	}
	for raw, want := range cases {
		require.Equal(t, want, ParseDecision(raw), "input %q", raw)
	}
}

func TestParseDecision_UnrecognisedInputFailsClosedToNo(t *testing.T) {
	require.Equal(t, DecisionNo, ParseDecision(""))
	require.Equal(t, DecisionNo, ParseDecision("maybe"))
	require.Equal(t, DecisionNo, ParseDecision("ye"))
}

func TestGate_RequiresConfirmationForWriteTools(t *testing.T) {
	g := New()
	require.True(t, g.RequiresConfirmation("write_file", nil))
	require.True(t, g.RequiresConfirmation("edit_file", nil))
	require.True(t, g.RequiresConfirmation("delete_file", nil))
}

func TestGate_NeverRequiresConfirmationForReadFile(t *testing.T) {
	g := New()
	require.False(t, g.RequiresConfirmation("read_file", nil))
}

func TestGate_UnknownToolNeverRequiresConfirmation(t *testing.T) {
	g := New()
	require.False(t, g.RequiresConfirmation("some_unknown_tool", nil))
}

func shellInputJSON(cmd string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"command": cmd})
	return data
}

func TestGate_ShellAllowsPlainAllowlistedCommand(t *testing.T) {
	g := New()
	require.False(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git status")))
	require.False(t, g.RequiresConfirmation("bash_exec", shellInputJSON("ls -la")))
}

func TestGate_ShellRequiresConfirmationForNonAllowlistedCommand(t *testing.T) {
	g := New()
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("rm -rf /")))
}

func TestGate_ShellRequiresConfirmationForDestructiveGitSubcommands(t *testing.T) {
	g := New()
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git push")))
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git commit -m wip")))
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git reset --hard")))
}

func TestGate_ShellAllowsOtherReadOnlyGitSubcommands(t *testing.T) {
	g := New()
	require.False(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git diff")))
	require.False(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git log --oneline")))
	require.False(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git show HEAD")))
}

func TestGate_ShellRequiresConfirmationWhenMetacharsPresentEvenIfAllowlisted(t *testing.T) {
	g := New()
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("git status | grep foo")))
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("echo hi > out.txt")))
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("echo $(whoami)")))
}

func TestGate_ShellRequiresConfirmationForEmptyCommand(t *testing.T) {
	g := New()
	require.True(t, g.RequiresConfirmation("bash_exec", shellInputJSON("")))
	require.True(t, g.RequiresConfirmation("bash_exec", json.RawMessage(`{}`)))
}

func TestGate_WithShellToolOverridesDefaultToolName(t *testing.T) {
	g := New(WithShellTool("run_shell"))
	require.False(t, g.RequiresConfirmation("bash_exec", shellInputJSON("rm -rf /")))
	require.True(t, g.RequiresConfirmation("run_shell", shellInputJSON("rm -rf /")))
}

func TestBuildPreview_FileToolsUsePathAsSummary(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"path": "main.go"})
	require.Equal(t, Preview{Label: "create", Summary: "main.go"}, BuildPreview("write_file", input))
	require.Equal(t, Preview{Label: "modify", Summary: "main.go"}, BuildPreview("edit_file", input))
	require.Equal(t, Preview{Label: "delete", Summary: "main.go"}, BuildPreview("delete_file", input))
}

func TestBuildPreview_ShellToolUsesTruncatedCommandAsSummary(t *testing.T) {
	preview := BuildPreview("bash_exec", shellInputJSON("git status"))
	require.Equal(t, "shell", preview.Label)
	require.Equal(t, "git status", preview.Summary)
}

func TestBuildPreview_TruncatesLongShellCommands(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	preview := BuildPreview("bash_exec", shellInputJSON(long))
	require.Less(t, len(preview.Summary), len(long))
	require.Contains(t, preview.Summary, "…")
}
