package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractCall(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"plain text", "Hello there!", "", false},
		{"simple fence", "```tool_code\necho(\"hi\")\n```", `echo("hi")`, true},
		{"fence mid reply", "Let me check.\n```tool_code\nclock()\n```\nOne moment.", "clock()", true},
		{"inline fence", "```tool_code calc(\"1+1\") ```", `calc("1+1")`, true},
		{"other fence label", "```python\nprint(1)\n```", "", false},
		{"tool_output fence ignored", "```tool_output\n42\n```", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCall(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractCall(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParsePositional(t *testing.T) {
	r := NewRegistry()
	call, err := r.Parse(`echo("hello world")`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if call.Name != "echo" {
		t.Errorf("Name = %q, want echo", call.Name)
	}
	if call.Args["text"] != "hello world" {
		t.Errorf("Args[text] = %v", call.Args["text"])
	}
}

func TestParseNamed(t *testing.T) {
	r := NewRegistry()
	call, err := r.Parse(`calc(expression="2 + 2")`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if call.Args["expression"] != "2 + 2" {
		t.Errorf("Args[expression] = %v", call.Args["expression"])
	}
}

func TestParseNoArgs(t *testing.T) {
	r := NewRegistry()
	call, err := r.Parse("clock()")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if call.Name != "clock" || len(call.Args) != 0 {
		t.Errorf("got %+v", call)
	}
}

func TestParseLiterals(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:   "mix",
		Params: []string{"s", "n", "b"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	})
	call, err := r.Parse(`mix('single', -3.5, true)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if call.Args["s"] != "single" || call.Args["n"] != -3.5 || call.Args["b"] != true {
		t.Errorf("args = %+v", call.Args)
	}
}

func TestParseErrors(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name string
		code string
	}{
		{"empty", ""},
		{"no parens", "echo"},
		{"unterminated string", `echo("oops`},
		{"trailing junk", `clock()clock()`},
		{"too many args", `clock("a")`},
		{"bareword arg", `echo(hello)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Parse(tt.code); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.code)
			}
		})
	}
}

func TestParseUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Parse(`launch_missiles("now")`)
	var unavail *ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("Parse unknown tool err = %v, want ErrToolUnavailable", err)
	}
	if unavail.ToolName != "launch_missiles" {
		t.Errorf("ToolName = %q", unavail.ToolName)
	}
}

func TestExecuteEcho(t *testing.T) {
	r := NewRegistry()
	out, err := r.Execute(context.Background(), "echo", map[string]any{"text": "ping"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "ping" {
		t.Errorf("out = %q, want ping", out)
	}
}

func TestExecuteUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	var unavail *ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Errorf("err = %v, want ErrToolUnavailable", err)
	}
}

func TestCalc(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2 + 2", "4"},
		{"10 / 4", "2.5"},
		{"(1 + 2) * 3", "9"},
		{"-4 + 1", "-3"},
		{"2 * -3", "-6"},
	}
	r := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := r.Execute(context.Background(), "calc", map[string]any{"expression": tt.expr})
			if err != nil {
				t.Fatalf("calc(%q): %v", tt.expr, err)
			}
			if out != tt.want {
				t.Errorf("calc(%q) = %q, want %q", tt.expr, out, tt.want)
			}
		})
	}
}

func TestCalcErrors(t *testing.T) {
	r := NewRegistry()
	for _, expr := range []string{"1 / 0", "2 +", "nope", "(1 + 2"} {
		if _, err := r.Execute(context.Background(), "calc", map[string]any{"expression": expr}); err == nil {
			t.Errorf("calc(%q) succeeded, want error", expr)
		}
	}
}

func TestWrapOutput(t *testing.T) {
	got := WrapOutput("42")
	if got != "```tool_output\n42\n```" {
		t.Errorf("WrapOutput = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	desc := NewRegistry().Describe()
	for _, want := range []string{"echo(text)", "clock()", "calc(expression)"} {
		if !strings.Contains(desc, want) {
			t.Errorf("Describe() missing %q:\n%s", want, desc)
		}
	}
}
