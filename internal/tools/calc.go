package tools

import (
	"fmt"
	"strconv"
	"unicode"
)

// evalExpr evaluates a basic arithmetic expression with the usual
// precedence: unary minus, then * and /, then + and -. Parentheses
// group as expected.
func evalExpr(expr string) (float64, error) {
	e := &exprParser{input: expr}
	v, err := e.sum()
	if err != nil {
		return 0, err
	}
	e.skipSpace()
	if e.pos != len(e.input) {
		return 0, fmt.Errorf("unexpected %q at offset %d", e.input[e.pos], e.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (e *exprParser) skipSpace() {
	for e.pos < len(e.input) && unicode.IsSpace(rune(e.input[e.pos])) {
		e.pos++
	}
}

func (e *exprParser) peek() byte {
	e.skipSpace()
	if e.pos >= len(e.input) {
		return 0
	}
	return e.input[e.pos]
}

func (e *exprParser) sum() (float64, error) {
	v, err := e.product()
	if err != nil {
		return 0, err
	}
	for {
		switch e.peek() {
		case '+':
			e.pos++
			rhs, err := e.product()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			e.pos++
			rhs, err := e.product()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (e *exprParser) product() (float64, error) {
	v, err := e.unary()
	if err != nil {
		return 0, err
	}
	for {
		switch e.peek() {
		case '*':
			e.pos++
			rhs, err := e.unary()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case '/':
			e.pos++
			rhs, err := e.unary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

func (e *exprParser) unary() (float64, error) {
	if e.peek() == '-' {
		e.pos++
		v, err := e.unary()
		return -v, err
	}
	return e.atom()
}

func (e *exprParser) atom() (float64, error) {
	switch c := e.peek(); {
	case c == '(':
		e.pos++
		v, err := e.sum()
		if err != nil {
			return 0, err
		}
		if e.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		e.pos++
		return v, nil
	case unicode.IsDigit(rune(c)) || c == '.':
		start := e.pos
		for e.pos < len(e.input) {
			c := e.input[e.pos]
			if unicode.IsDigit(rune(c)) || c == '.' {
				e.pos++
				continue
			}
			break
		}
		v, err := strconv.ParseFloat(e.input[start:e.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", e.input[start:e.pos])
		}
		return v, nil
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q in expression", c)
	}
}
