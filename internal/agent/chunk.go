package agent

import "strings"

// DefaultChunkSize is the transport's outbound message length limit.
const DefaultChunkSize = 4096

// SplitMessage breaks text into chunks of at most max runes, splitting
// at sentence boundaries (end punctuation followed by whitespace) so
// chunks do not end mid-sentence when avoidable. A single sentence
// longer than max is hard-split rather than dropped. Concatenating the
// chunks reconstructs the text modulo boundary whitespace.
func SplitMessage(text string, max int) []string {
	if max < 1 {
		max = 1
	}
	if runeLen(text) <= max {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, sentence := range splitSentences(text) {
		if runeLen(sentence) > max {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
				current = ""
			}
			chunks = append(chunks, hardSplit(sentence, max)...)
			continue
		}
		if runeLen(current)+runeLen(sentence)+1 > max {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			current = sentence + " "
		} else {
			current += sentence + " "
		}
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// splitSentences cuts text after end-of-sentence punctuation that is
// followed by whitespace. The separating whitespace is consumed. Text
// with no such boundary comes back as a single element.
func splitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) && isSpace(text[i+1]) {
			out = append(out, text[start:i+1])
			i++
			for i < len(text) && isSpace(text[i]) {
				i++
			}
			start = i
			continue
		}
		i++
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// hardSplit slices an oversized sentence into max-rune pieces.
func hardSplit(sentence string, max int) []string {
	runes := []rune(sentence)
	var out []string
	for i := 0; i < len(runes); i += max {
		end := min(i+max, len(runes))
		piece := strings.TrimSpace(string(runes[i:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
