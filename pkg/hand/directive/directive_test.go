package directive

import (
	"reflect"
	"testing"
)

func TestParseNarrativeOnly(t *testing.T) {
	texts := []string{
		"",
		"I looked at the code and everything seems fine.",
		"Here is a plan:\n1. read main.go\n2. fix the bug\n",
		"The marker @@READ is mentioned mid-sentence without a colon.",
		"READ: not a directive\nFILE: also not\nTOOL: nope",
	}
	for _, text := range texts {
		if got := Parse(text); len(got) != 0 {
			t.Errorf("Parse(%q) = %v, want empty", text, got)
		}
	}
}

func TestParseRead(t *testing.T) {
	directives := Parse("Let me look at it.\n@@READ: cmd/main.go\nThanks.")
	if len(directives) != 1 {
		t.Fatalf("len = %d, want 1", len(directives))
	}
	d := directives[0]
	if d.Kind != KindRead || d.Path != "cmd/main.go" {
		t.Errorf("directive = %+v, want read cmd/main.go", d)
	}
	if d.Line != 2 {
		t.Errorf("line = %d, want 2", d.Line)
	}
}

func TestParseReadEmptyPathIgnored(t *testing.T) {
	if got := Parse("@@READ:   \n"); len(got) != 0 {
		t.Errorf("empty read path should be narrative, got %v", got)
	}
}

func TestParseWriteRoundTrip(t *testing.T) {
	content := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}"
	text := "Writing the file now.\n@@FILE: cmd/main.go\n```go\n" + content + "\n```\nDone."

	directives := Parse(text)
	if len(directives) != 1 {
		t.Fatalf("len = %d, want 1", len(directives))
	}
	d := directives[0]
	if d.Kind != KindWrite || d.Path != "cmd/main.go" {
		t.Errorf("directive = kind %s path %s, want write cmd/main.go", d.Kind, d.Path)
	}
	if d.Content != content {
		t.Errorf("content = %q, want %q", d.Content, content)
	}
}

func TestParseWriteFenceContainsBackticks(t *testing.T) {
	content := "# Notes\n\n```sh\nmake test\n```\n\ndone"
	text := "@@FILE: NOTES.md\n````\n" + content + "\n````\n"

	directives := Parse(text)
	if len(directives) != 1 {
		t.Fatalf("len = %d, want 1", len(directives))
	}
	if directives[0].Content != content {
		t.Errorf("content = %q, want %q", directives[0].Content, content)
	}
}

func TestParseWriteBlankLineBeforeFence(t *testing.T) {
	directives := Parse("@@FILE: a.txt\n\n```\nhello\n```\n")
	if len(directives) != 1 || directives[0].Content != "hello" {
		t.Errorf("directives = %v, want single write with content hello", directives)
	}
}

func TestParseWriteMissingFenceIsNarrative(t *testing.T) {
	directives := Parse("@@FILE: a.txt\nno fence here\n@@READ: b.txt\n")
	if len(directives) != 1 {
		t.Fatalf("len = %d, want 1", len(directives))
	}
	if directives[0].Kind != KindRead || directives[0].Path != "b.txt" {
		t.Errorf("directive = %+v, want the following read", directives[0])
	}
}

func TestParseWriteUnterminatedFenceDropped(t *testing.T) {
	// Truncated output: the open block is discarded and its content is not
	// rescanned for markers.
	directives := Parse("@@FILE: a.txt\n```\npartial content\nSATISFIED: yes\n")
	if len(directives) != 0 {
		t.Errorf("directives = %v, want empty for unterminated block", directives)
	}
}

func TestParseTool(t *testing.T) {
	tests := []struct {
		text    string
		tool    string
		payload string
	}{
		{"@@TOOL: command go test ./...", "command", "go test ./..."},
		{"@@TOOL: command {\"cmd\": \"make build\"}", "command", "{\"cmd\": \"make build\"}"},
		{"@@TOOL: web_search query=\"golang context\"", "web_search", "query=\"golang context\""},
		{"@@TOOL: web_browse https://go.dev/doc", "web_browse", "https://go.dev/doc"},
		{"@@TOOL: command", "command", ""},
	}
	for _, tt := range tests {
		directives := Parse(tt.text)
		if len(directives) != 1 {
			t.Errorf("Parse(%q) len = %d, want 1", tt.text, len(directives))
			continue
		}
		d := directives[0]
		if d.Kind != KindTool || d.Tool != tt.tool || d.Payload != tt.payload {
			t.Errorf("Parse(%q) = %+v, want tool=%s payload=%q", tt.text, d, tt.tool, tt.payload)
		}
	}
}

func TestParseCompletionMarker(t *testing.T) {
	tests := []struct {
		text  string
		value bool
		found bool
	}{
		{"SATISFIED: yes", true, true},
		{"SATISFIED: no", false, true},
		{"satisfied: yes", true, true},
		{"Satisfied : no", false, true},
		{"  SATISFIED: yes  ", true, true},
		{"SATISFIED: YES", false, false},
		{"SATISFIED: maybe", false, false},
		{"SATISFIED yes", false, false},
		{"UNSATISFIED: yes", false, false},
	}
	for _, tt := range tests {
		directives := Parse(tt.text)
		value, found := Satisfied(directives)
		if found != tt.found || value != tt.value {
			t.Errorf("Parse(%q): value=%t found=%t, want value=%t found=%t",
				tt.text, value, found, tt.value, tt.found)
		}
	}
}

func TestSatisfiedLastMarkerWins(t *testing.T) {
	directives := Parse("SATISFIED: no\nsome rethinking\nSATISFIED: yes\n")
	value, found := Satisfied(directives)
	if !found || !value {
		t.Errorf("value=%t found=%t, want the later yes to win", value, found)
	}
}

func TestParsePreservesOrder(t *testing.T) {
	text := "@@READ: a.txt\n@@FILE: b.txt\n```\nbody\n```\n@@TOOL: command ls\nSATISFIED: no\n"
	directives := Parse(text)
	if len(directives) != 4 {
		t.Fatalf("len = %d, want 4", len(directives))
	}
	order := []Kind{KindRead, KindWrite, KindTool, KindSatisfied}
	for i, kind := range order {
		if directives[i].Kind != kind {
			t.Errorf("directives[%d].Kind = %s, want %s", i, directives[i].Kind, kind)
		}
	}
}

func TestParseCarriageReturns(t *testing.T) {
	directives := Parse("@@READ: a.txt\r\nSATISFIED: yes\r\n")
	if len(directives) != 2 {
		t.Fatalf("len = %d, want 2", len(directives))
	}
	if directives[0].Path != "a.txt" {
		t.Errorf("path = %q, want a.txt", directives[0].Path)
	}
}

func TestPayload(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{"", map[string]string{}},
		{`{"cmd": "make test", "timeout": 30}`, map[string]string{"cmd": "make test", "timeout": "30"}},
		{`{"verbose": true}`, map[string]string{"verbose": "true"}},
		{`cmd="go test ./..." dir=pkg`, map[string]string{"cmd": "go test ./...", "dir": "pkg"}},
		{`query=golang`, map[string]string{"query": "golang"}},
		{`{broken json`, map[string]string{}},
		{`no pairs here`, map[string]string{}},
	}
	for _, tt := range tests {
		if got := Payload(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Payload(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
