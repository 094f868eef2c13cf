package prompt

import (
	"reflect"
	"strings"
	"testing"

	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/llm"
)

func TestAssemble(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "Hi"},
		{Role: history.RoleAssistant, Content: "Hello!"},
	}

	got := Assemble("Be brief.", turns, false)
	want := []llm.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Assemble() = %v, want %v", got, want)
	}
}

func TestAssemble_NoSystemPrompt(t *testing.T) {
	got := Assemble("", []history.Turn{{Role: history.RoleUser, Content: "Hi"}}, false)
	if len(got) != 1 || got[0].Role != "user" {
		t.Errorf("Assemble() with empty system prompt = %v, want just the user turn", got)
	}
}

func TestAssemble_SenderLabels(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "who won?", Sender: "alice"},
		{Role: history.RoleUser, Content: "no idea"},
		{Role: history.RoleAssistant, Content: "The reds.", Sender: "assistant"},
	}

	got := Assemble("", turns, true)
	if got[0].Content != "who won? (sent by alice)" {
		t.Errorf("labeled user turn = %q", got[0].Content)
	}
	if got[1].Content != "no idea" {
		t.Errorf("unlabeled user turn = %q, want unchanged", got[1].Content)
	}
	// Assistant turns never get sender labels.
	if got[2].Content != "The reds." {
		t.Errorf("assistant turn = %q, want unchanged", got[2].Content)
	}
}

func TestAssemble_LabelsDisabledInPrivateChats(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "hello", Sender: "bob"},
	}
	got := Assemble("", turns, false)
	if got[0].Content != "hello" {
		t.Errorf("private chat turn = %q, want no label", got[0].Content)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "a", Sender: "x"},
		{Role: history.RoleAssistant, Content: "b"},
	}
	first := Assemble("sys", turns, true)
	second := Assemble("sys", turns, true)
	if !reflect.DeepEqual(first, second) {
		t.Error("Assemble() must be deterministic for identical inputs")
	}
}

func TestTranscript(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "ping", Sender: "alice"},
		{Role: history.RoleAssistant, Content: "pong"},
	}
	got := Transcript(turns)
	want := "user: ping (sent by alice)\nassistant: pong"
	if got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
}

func TestTranscript_Empty(t *testing.T) {
	if got := Transcript(nil); got != "" {
		t.Errorf("Transcript(nil) = %q, want empty", got)
	}
}

func TestWithTools(t *testing.T) {
	got := WithTools("Be helpful.", "echo(text): repeats text")
	if !strings.HasPrefix(got, "Be helpful.\n\n") {
		t.Errorf("base prompt not preserved: %q", got)
	}
	if !strings.Contains(got, "```tool_code") || !strings.Contains(got, "echo(text): repeats text") {
		t.Errorf("tool guidance missing: %q", got)
	}
}

func TestWithTools_NoTools(t *testing.T) {
	if got := WithTools("Be helpful.", ""); got != "Be helpful." {
		t.Errorf("WithTools with empty list = %q", got)
	}
	if got := WithTools("", "echo(text): repeats text"); strings.HasPrefix(got, "\n") {
		t.Errorf("empty base left leading whitespace: %q", got)
	}
}
