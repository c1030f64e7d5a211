package mcq

import "strings"

// Repair makes a best-effort attempt to turn model text into parseable
// JSON. It strips markdown fences and surrounding prose, removes trailing
// commas, and closes unterminated strings, arrays and objects. The result
// is not guaranteed to be valid.
func Repair(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	s = s[start:]
	if end := strings.LastIndexByte(s, '}'); end >= 0 && balancedAt(s, end) {
		s = s[:end+1]
	}

	return closeJSON(s)
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "```")
}

// balancedAt reports whether the object opened at s[0] is closed exactly at
// s[end], ignoring brackets inside strings.
func balancedAt(s string, end int) bool {
	depth := 0
	inString, escaped := false, false
	for i := 0; i <= end; i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 && i != end {
				return false
			}
		}
	}
	return depth == 0
}

// closeJSON drops trailing commas and appends whatever closers are missing.
func closeJSON(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 8)

	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
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
			trimTrailingComma(&out)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
		out.WriteByte(c)
	}

	if inString {
		if escaped {
			out.WriteByte('\\')
		}
		out.WriteByte('"')
	}
	trimTrailingComma(&out)
	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteByte(stack[i])
	}
	return out.String()
}

func trimTrailingComma(b *strings.Builder) {
	s := b.String()
	t := strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(t, ",") {
		b.Reset()
		b.WriteString(t[:len(t)-1])
	}
}
