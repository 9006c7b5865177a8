package kql

import (
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string
	depth int
}

func (t token) is(text string) bool {
	return t.kind != tokString && t.text == text
}

func (t token) isIdent(text string) bool {
	return t.kind == tokIdent && t.text == text
}

var twoCharPuncts = map[string]struct{}{
	"==": {}, "!=": {}, "=~": {}, "!~": {}, "<=": {}, ">=": {}, "=>": {}, "..": {},
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// lex splits a query into tokens, dropping whitespace and // comments.
// Each token records its bracket nesting depth; opening brackets carry the
// depth outside them and closing brackets the depth after closing.
func lex(src string) ([]token, *Diagnostic) {
	var (
		toks  []token
		depth int
		stack []byte
	)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '\'' || c == '"' ||
			((c == '@' || c == 'h' || c == 'H') && i+1 < len(src) && (src[i+1] == '\'' || src[i+1] == '"')):
			start := i
			verbatim := c == '@'
			if c != '\'' && c != '"' {
				i++
			}
			quote := src[i]
			i++
			closed := false
			for i < len(src) {
				if !verbatim && src[i] == '\\' {
					i += 2
					continue
				}
				if src[i] == quote {
					// Verbatim strings escape a quote by doubling it.
					if verbatim && i+1 < len(src) && src[i+1] == quote {
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				i++
			}
			if !closed {
				return nil, syntaxf("unterminated string literal.")
			}
			toks = append(toks, token{kind: tokString, text: src[start:i], depth: depth})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			// Hyphenated operator names such as project-away or mv-expand.
			for i+1 < len(src) && src[i] == '-' && isIdentStart(src[i+1]) {
				j := i + 1
				for j < len(src) && isIdentPart(src[j]) {
					j++
				}
				if _, ok := hyphenated[src[start:j]]; !ok {
					break
				}
				i = j
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], depth: depth})
		case isDigit(c):
			start := i
			for i < len(src) && (isIdentPart(src[i]) || (src[i] == '.' && i+1 < len(src) && isDigit(src[i+1]))) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], depth: depth})
		case c == '(' || c == '[' || c == '{':
			toks = append(toks, token{kind: tokPunct, text: string(c), depth: depth})
			stack = append(stack, c)
			depth++
			i++
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != opening(c) {
				return nil, syntaxf("unbalanced parentheses.")
			}
			stack = stack[:len(stack)-1]
			depth--
			toks = append(toks, token{kind: tokPunct, text: string(c), depth: depth})
			i++
		default:
			if i+1 < len(src) {
				if _, ok := twoCharPuncts[src[i:i+2]]; ok {
					toks = append(toks, token{kind: tokPunct, text: src[i : i+2], depth: depth})
					i += 2
					continue
				}
			}
			toks = append(toks, token{kind: tokPunct, text: string(c), depth: depth})
			i++
		}
	}
	if len(stack) != 0 {
		return nil, syntaxf("unbalanced parentheses.")
	}
	return toks, nil
}

func opening(c byte) byte {
	switch c {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

// splitTop cuts toks at every separator found at nesting depth base.
// Empty pieces are kept so callers can reject them.
func splitTop(toks []token, sep string, base int) [][]token {
	var (
		out [][]token
		cur []token
	)
	for _, t := range toks {
		if t.depth == base && t.kind == tokPunct && t.text == sep {
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return append(out, cur)
}

// group returns the tokens strictly inside the bracket opened at toks[i],
// rebased to depth zero, and the index just past the closing bracket.
func group(toks []token, i int) ([]token, int) {
	open := toks[i]
	inner := make([]token, 0)
	for j := i + 1; j < len(toks); j++ {
		t := toks[j]
		if t.depth == open.depth && t.kind == tokPunct && (t.text == ")" || t.text == "]" || t.text == "}") {
			return inner, j + 1
		}
		t.depth -= open.depth + 1
		inner = append(inner, t)
	}
	return inner, len(toks)
}

func joinTokens(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}
