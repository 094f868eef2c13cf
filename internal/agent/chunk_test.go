package agent

import (
	"strings"
	"testing"
)

func TestSplitMessageShortText(t *testing.T) {
	chunks := SplitMessage("Hello!", 4096)
	if len(chunks) != 1 || chunks[0] != "Hello!" {
		t.Errorf("chunks = %v, want [Hello!]", chunks)
	}
}

func TestSplitMessageSentenceBoundaries(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	chunks := SplitMessage(text, 25)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks %q, want 3", len(chunks), chunks)
	}
	for i, c := range chunks {
		if len(c) > 25 {
			t.Errorf("chunk %d is %d runes, over limit: %q", i, len(c), c)
		}
		if !strings.HasSuffix(c, ".") {
			t.Errorf("chunk %d ends mid-sentence: %q", i, c)
		}
	}
}

func TestSplitMessagePacksSentences(t *testing.T) {
	text := "One. Two. Three. Four."
	chunks := SplitMessage(text, 13)
	want := []string{"One. Two.", "Three. Four."}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %q, want %q", len(chunks), chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestSplitMessageOversizedSentence(t *testing.T) {
	long := strings.Repeat("a", 10)
	chunks := SplitMessage(long+" tail.", 4)
	var rejoined strings.Builder
	for _, c := range chunks {
		if runeLen(c) > 4 {
			t.Errorf("chunk %q over limit", c)
		}
		rejoined.WriteString(c)
	}
	got := strings.Join(strings.Fields(rejoined.String()), "")
	if got != long+"tail." {
		t.Errorf("round-trip = %q", got)
	}
}

func TestSplitMessageRoundTrip(t *testing.T) {
	texts := []string{
		"A single long run of text with no sentence punctuation at all just words",
		"Mixed! Endings? Yes. Indeed.",
		"Tiny",
		"Ends abruptly",
	}
	for _, text := range texts {
		for _, max := range []int{1, 3, 7, 20, 4096} {
			chunks := SplitMessage(text, max)
			joined := strings.Join(chunks, "")
			want := strings.Join(strings.Fields(text), "")
			got := strings.Join(strings.Fields(joined), "")
			if got != want {
				t.Errorf("SplitMessage(%q, %d) loses content: %q", text, max, chunks)
			}
			for _, c := range chunks {
				if runeLen(c) > max {
					t.Errorf("SplitMessage(%q, %d): chunk %q over limit", text, max, c)
				}
			}
		}
	}
}

func TestSplitMessageMultibyte(t *testing.T) {
	text := strings.Repeat("héllo ", 10)
	for _, c := range SplitMessage(text, 8) {
		if runeLen(c) > 8 {
			t.Errorf("chunk %q is %d runes", c, runeLen(c))
		}
		if !strings.Contains(text, strings.Fields(c)[0]) {
			t.Errorf("chunk %q corrupted", c)
		}
	}
}
