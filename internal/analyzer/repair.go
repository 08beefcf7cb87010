package analyzer

import (
	"strings"
)

// repairJSON attempts a best-effort recovery of near-JSON model output:
// trailing commas, single-quoted strings, unquoted keys, and truncated
// output missing closing brackets. No JSON-repair library appears
// anywhere in the example corpus, so this is hand-rolled — see
// DESIGN.md for the standard-library justification.
func repairJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", false
	}
	s = extractOutermostObject(s)
	if s == "" {
		return "", false
	}
	s = quoteUnquotedKeys(s)
	s = singleToDoubleQuotedStrings(s)
	s = stripTrailingCommas(s)
	s = closeUnbalancedBrackets(s)
	return s, true
}

// extractOutermostObject trims any leading/trailing prose around the
// first top-level {...} or [...] span.
func extractOutermostObject(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// quoteUnquotedKeys wraps bareword object keys ("key:" -> "\"key\":")
// using a small hand-rolled scanner rather than a regex backreference
// (Go's regexp/RE2 has none).
func quoteUnquotedKeys(s string) string {
	var out strings.Builder
	inString := false
	var escape bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if isIdentStart(c) && precededByObjectOpenOrComma(s, i) {
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			k := j
			for k < len(s) && (s[k] == ' ' || s[k] == '\t' || s[k] == '\n') {
				k++
			}
			if k < len(s) && s[k] == ':' {
				out.WriteByte('"')
				out.WriteString(s[i:j])
				out.WriteByte('"')
				i = j - 1
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

func precededByObjectOpenOrComma(s string, i int) bool {
	j := i - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
		j--
	}
	if j < 0 {
		return true
	}
	return s[j] == '{' || s[j] == ','
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// singleToDoubleQuotedStrings rewrites 'text' string literals as
// "text", leaving already-double-quoted strings untouched.
func singleToDoubleQuotedStrings(s string) string {
	var out strings.Builder
	inDouble := false
	var escape bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inDouble {
			out.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inDouble = false
			}
			continue
		}
		if c == '"' {
			inDouble = true
			out.WriteByte(c)
			continue
		}
		if c == '\'' {
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			out.WriteByte('"')
			out.WriteString(s[i+1 : j])
			out.WriteByte('"')
			i = j
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

// stripTrailingCommas removes a comma immediately preceding a closing
// bracket, the one malformation json.Unmarshal never tolerates.
func stripTrailingCommas(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

// closeUnbalancedBrackets appends any missing closing braces/brackets
// for output truncated mid-structure, respecting string literals.
func closeUnbalancedBrackets(s string) string {
	var stack []byte
	inString := false
	var escape bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var sb strings.Builder
	sb.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}
	return sb.String()
}
