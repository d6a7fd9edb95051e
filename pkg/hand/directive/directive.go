// Package directive parses structured instructions embedded in free-form
// model output. The grammar is line-oriented: a read request line, a write
// block fenced like a markdown code block, a tool invocation line, and a
// completion marker. Anything else is narrative and is ignored; the parser
// never fails.
package directive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies one directive family.
type Kind string

// Directive families.
const (
	KindRead      Kind = "read"
	KindWrite     Kind = "write"
	KindTool      Kind = "tool"
	KindSatisfied Kind = "satisfied"
)

// Line prefixes recognized by the parser. Prefix match is case-sensitive and
// anchored at the start of the line.
const (
	ReadPrefix = "@@READ:"
	FilePrefix = "@@FILE:"
	ToolPrefix = "@@TOOL:"
)

const satisfiedKeyword = "satisfied"

// Directive is one parsed instruction. Which fields are set depends on Kind:
// read and write use Path, write additionally Content, tool uses Tool and
// Payload, satisfied uses Value.
//
//nolint:govet // Parsed-value struct, logical grouping preferred
type Directive struct {
	Kind    Kind
	Path    string
	Content string
	Tool    string
	Payload string
	Value   bool
	Line    int // 1-based line where the directive started
}

// Parse extracts all directives from text in the order they appear. Text with
// no recognized markers yields an empty list.
func Parse(text string) []Directive {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var directives []Directive

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")

		switch {
		case strings.HasPrefix(line, ReadPrefix):
			path := strings.TrimSpace(line[len(ReadPrefix):])
			if path != "" {
				directives = append(directives, Directive{Kind: KindRead, Path: path, Line: i + 1})
			}

		case strings.HasPrefix(line, FilePrefix):
			path := strings.TrimSpace(line[len(FilePrefix):])
			if path == "" {
				continue
			}
			content, last, ok := captureFencedBlock(lines, i+1)
			if !ok {
				// No opening fence: the line is narrative. An unterminated
				// block consumes to EOF so truncated file content is never
				// rescanned for markers.
				i = last
				continue
			}
			directives = append(directives, Directive{Kind: KindWrite, Path: path, Content: content, Line: i + 1})
			i = last

		case strings.HasPrefix(line, ToolPrefix):
			rest := strings.TrimSpace(line[len(ToolPrefix):])
			if rest == "" {
				continue
			}
			name, payload := splitTool(rest)
			directives = append(directives, Directive{Kind: KindTool, Tool: name, Payload: payload, Line: i + 1})

		default:
			if value, ok := completionValue(line); ok {
				directives = append(directives, Directive{Kind: KindSatisfied, Value: value, Line: i + 1})
			}
		}
	}

	return directives
}

// Satisfied reports the value of the last completion marker in directives,
// and whether any marker was present.
func Satisfied(directives []Directive) (value, found bool) {
	for _, d := range directives {
		if d.Kind == KindSatisfied {
			value = d.Value
			found = true
		}
	}
	return value, found
}

// captureFencedBlock captures the content of a fenced block opening at or
// after lines[start] (blank lines before the fence are tolerated). It returns
// the content, the index of the last consumed line, and whether a complete
// block was found. When the opening fence is missing nothing is consumed;
// when the closing fence is missing the remainder is consumed and discarded.
func captureFencedBlock(lines []string, start int) (content string, last int, ok bool) {
	j := start
	for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
		j++
	}
	if j >= len(lines) {
		return "", start - 1, false
	}

	fence := fenceRun(strings.TrimRight(lines[j], "\r"))
	if fence == 0 {
		return "", start - 1, false
	}

	for k := j + 1; k < len(lines); k++ {
		if closes(strings.TrimRight(lines[k], "\r"), fence) {
			return strings.Join(lines[j+1:k], "\n"), k, true
		}
	}
	return "", len(lines) - 1, false
}

// fenceRun returns the length of the leading backtick run if line opens a
// fence (three or more backticks, optionally followed by an info string), or
// zero otherwise.
func fenceRun(line string) int {
	n := 0
	for n < len(line) && line[n] == '`' {
		n++
	}
	if n < 3 {
		return 0
	}
	return n
}

// closes reports whether line is a closing fence for an opening run of the
// given length: only backticks, at least as many as the opening.
func closes(line string, open int) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < open {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '`' {
			return false
		}
	}
	return true
}

// completionValue matches a completion marker line. The keyword is matched
// case-insensitively; the value must be exactly "yes" or "no".
func completionValue(line string) (value, ok bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < len(satisfiedKeyword) || !strings.EqualFold(trimmed[:len(satisfiedKeyword)], satisfiedKeyword) {
		return false, false
	}
	rest := strings.TrimSpace(trimmed[len(satisfiedKeyword):])
	if !strings.HasPrefix(rest, ":") {
		return false, false
	}
	switch strings.TrimSpace(rest[1:]) {
	case "yes":
		return true, true
	case "no":
		return false, true
	}
	return false, false
}

// splitTool splits a tool invocation rest into capability name and raw
// payload.
func splitTool(rest string) (name, payload string) {
	if idx := strings.IndexAny(rest, " \t"); idx >= 0 {
		return rest[:idx], strings.TrimSpace(rest[idx+1:])
	}
	return rest, ""
}

// Payload decodes a tool payload into key/value pairs. A payload starting
// with "{" is decoded as JSON with non-string values rendered back to text;
// otherwise it is split into key=value fields with double-quoted values
// honored. Malformed payloads yield an empty map rather than an error, so
// callers fall back to the raw payload string.
func Payload(raw string) map[string]string {
	out := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}

	if strings.HasPrefix(raw, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			for k, v := range obj {
				out[k] = stringify(v)
			}
			return out
		}
		return out
	}

	for _, field := range splitFields(raw) {
		eq := strings.Index(field, "=")
		if eq <= 0 {
			continue
		}
		out[strings.TrimSpace(field[:eq])] = unquote(field[eq+1:])
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// splitFields splits on whitespace while keeping double-quoted runs intact.
func splitFields(s string) []string {
	var fields []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			current.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuote:
			if current.Len() > 0 {
				fields = append(fields, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		fields = append(fields, current.String())
	}
	return fields
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
