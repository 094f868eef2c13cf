package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Invocation is a parsed tool call: a function name plus arguments
// keyed by parameter name.
type Invocation struct {
	Name string
	Args map[string]any
}

var fenceRe = regexp.MustCompile("(?s)```tool_code\\s*(.*?)\\s*```")

// ExtractCall finds the first tool_code fence in model output and
// returns its trimmed body. The second return is false when no fence
// is present.
func ExtractCall(text string) (string, bool) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// WrapOutput renders tool output (or error text) as a tool_output
// fence for reinjection into the conversation.
func WrapOutput(output string) string {
	return "```tool_output\n" + output + "\n```"
}

// Parse turns a call expression like
//
//	echo("hello")
//	calc(expression="2 + 2")
//
// into an Invocation. Positional arguments bind to the tool's Params
// in order; the registry resolves names, so Parse only needs the
// parameter list of the target tool to do the binding.
func (r *Registry) Parse(code string) (*Invocation, error) {
	p := &callParser{input: code}
	name, err := p.ident()
	if err != nil {
		return nil, &ParseError{Input: code, Reason: err.Error()}
	}

	tool := r.Get(name)
	if tool == nil {
		return nil, &ErrToolUnavailable{ToolName: name}
	}

	if !p.consume('(') {
		return nil, &ParseError{Input: code, Reason: "expected '(' after tool name"}
	}

	args := make(map[string]any)
	positional := 0
	for {
		p.skipSpace()
		if p.consume(')') {
			break
		}
		if len(args) > 0 && !p.consume(',') {
			return nil, &ParseError{Input: code, Reason: "expected ',' between arguments"}
		}
		p.skipSpace()

		key := ""
		mark := p.pos
		if id, err := p.ident(); err == nil {
			p.skipSpace()
			if p.consume('=') {
				key = id
			} else {
				p.pos = mark
			}
		} else {
			p.pos = mark
		}

		val, err := p.value()
		if err != nil {
			return nil, &ParseError{Input: code, Reason: err.Error()}
		}
		if key == "" {
			if positional >= len(tool.Params) {
				return nil, &ParseError{Input: code, Reason: fmt.Sprintf("too many positional arguments for %s", name)}
			}
			key = tool.Params[positional]
			positional++
		}
		args[key] = val
	}

	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, &ParseError{Input: code, Reason: "trailing input after call"}
	}

	return &Invocation{Name: name, Args: args}, nil
}

// callParser is a cursor over a single call expression.
type callParser struct {
	input string
	pos   int
}

func (p *callParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *callParser) consume(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *callParser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '_' || unicode.IsLetter(rune(c)) || (p.pos > start && unicode.IsDigit(rune(c))) {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at offset %d", start)
	}
	return p.input[start:p.pos], nil
}

func (p *callParser) value() (any, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("expected argument value")
	}
	switch c := p.input[p.pos]; {
	case c == '"' || c == '\'':
		return p.stringLit(c)
	case c == '-' || unicode.IsDigit(rune(c)):
		return p.numberLit()
	default:
		id, err := p.ident()
		if err != nil {
			return nil, fmt.Errorf("unexpected character %q in argument", c)
		}
		switch id {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		}
		return nil, fmt.Errorf("unquoted argument %q", id)
	}
}

func (p *callParser) stringLit(quote byte) (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case quote:
			p.pos++
			return b.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.input) {
				return "", fmt.Errorf("unterminated escape in string")
			}
			esc := p.input[p.pos]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string literal")
}

func (p *callParser) numberLit() (float64, error) {
	start := p.pos
	if p.input[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsDigit(rune(c)) || c == '.' {
			p.pos++
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return n, nil
}
