package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func TestNewRejectsMissingDirectory(t *testing.T) {
	if _, err := New("/nonexistent/workspace/for/test"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestResolveInsideRoot(t *testing.T) {
	w := newTestWorkspace(t)

	path, err := w.Resolve("sub/dir/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(path, w.Root()) {
		t.Errorf("resolved path %q not under root %q", path, w.Root())
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	w := newTestWorkspace(t)

	tests := []string{
		"",
		"   ",
		"/etc/passwd",
		"..",
		"../outside.txt",
		"sub/../../outside.txt",
		"a/b/../../../steal",
	}

	for _, rel := range tests {
		if _, err := w.Resolve(rel); err == nil {
			t.Errorf("Resolve(%q) should have been rejected", rel)
		}
	}
}

func TestResolveAllowsInternalDotDot(t *testing.T) {
	w := newTestWorkspace(t)

	// Traversal that stays inside the root is fine after cleaning.
	if _, err := w.Resolve("a/b/../c.txt"); err != nil {
		t.Errorf("Resolve should allow internal traversal: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	w := newTestWorkspace(t)

	content := []byte("line one\nline two\n")
	if err := w.WriteFile("nested/deeply/file.txt", content); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := w.ReadFile("nested/deeply/file.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("round trip mismatch: got %q, want %q", got, content)
	}

	if !w.FileExists("nested/deeply/file.txt") {
		t.Error("FileExists should report true for written file")
	}
	if w.FileExists("never/written.txt") {
		t.Error("FileExists should report false for missing file")
	}
}

func TestRunMarkerRewrites(t *testing.T) {
	w := newTestWorkspace(t)
	const dataDir = ".helping-hands"

	if err := w.WriteRunMarker(dataDir, "first prompt"); err != nil {
		t.Fatalf("WriteRunMarker failed: %v", err)
	}
	if err := w.WriteRunMarker(dataDir, "second prompt"); err != nil {
		t.Fatalf("WriteRunMarker failed: %v", err)
	}

	content := w.ReadRunMarker(dataDir)
	if !strings.Contains(content, "second prompt") {
		t.Errorf("marker should contain latest prompt, got %q", content)
	}
	if strings.Contains(content, "first prompt") {
		t.Errorf("marker should not accumulate old prompts, got %q", content)
	}
	if !strings.HasPrefix(content, "run: ") {
		t.Errorf("marker should start with timestamp line, got %q", content)
	}
	// Timestamp is UTC RFC3339.
	line := strings.SplitN(content, "\n", 2)[0]
	if !strings.HasSuffix(line, "Z") {
		t.Errorf("expected UTC timestamp, got %q", line)
	}
}

func TestReadRunMarkerMissing(t *testing.T) {
	w := newTestWorkspace(t)
	if got := w.ReadRunMarker(".helping-hands"); got != "" {
		t.Errorf("expected empty marker before first run, got %q", got)
	}
}

func TestEnsureDataDirIgnoresItself(t *testing.T) {
	w := newTestWorkspace(t)

	dir, err := w.EnsureDataDir(".helping-hands")
	if err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}

	ignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatalf("data dir should contain a .gitignore: %v", err)
	}
	if strings.TrimSpace(string(ignore)) != "*" {
		t.Errorf(".gitignore content = %q, want *", string(ignore))
	}

	// A second call leaves an edited .gitignore alone.
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("custom\n"), 0644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if _, err := w.EnsureDataDir(".helping-hands"); err != nil {
		t.Fatalf("second EnsureDataDir failed: %v", err)
	}
	ignore, _ = os.ReadFile(filepath.Join(dir, ".gitignore"))
	if string(ignore) != "custom\n" {
		t.Errorf("existing .gitignore was overwritten, got %q", string(ignore))
	}
}

func TestBootstrapContextIncludesDocs(t *testing.T) {
	w := newTestWorkspace(t)

	writeTestFile(t, w, "README.md", "# Project\nThe readme body.")
	writeTestFile(t, w, "AGENTS.md", "Follow the house style.")
	writeTestFile(t, w, "src/main.go", "package main")

	ctx := w.BootstrapContext()

	for _, want := range []string{"README.md", "The readme body.", "AGENTS.md", "Follow the house style.", "src/", "src/main.go"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("bootstrap context missing %q:\n%s", want, ctx)
		}
	}
}

func TestBootstrapContextGuidanceFallback(t *testing.T) {
	w := newTestWorkspace(t)

	writeTestFile(t, w, "CLAUDE.md", "legacy guidance doc")
	ctx := w.BootstrapContext()
	if !strings.Contains(ctx, "legacy guidance doc") {
		t.Error("expected CLAUDE.md fallback when AGENTS.md is absent")
	}

	// AGENTS.md takes precedence once present.
	writeTestFile(t, w, "AGENTS.md", "current guidance doc")
	ctx = w.BootstrapContext()
	if !strings.Contains(ctx, "current guidance doc") {
		t.Error("expected AGENTS.md to win over CLAUDE.md")
	}
	if strings.Contains(ctx, "legacy guidance doc") {
		t.Error("only one guidance doc should be included")
	}
}

func TestBootstrapContextCapsLongDocs(t *testing.T) {
	w := newTestWorkspace(t)

	writeTestFile(t, w, "README.md", strings.Repeat("x", bootstrapDocCap*2))
	ctx := w.BootstrapContext()
	if !strings.Contains(ctx, "truncated") {
		t.Error("expected truncation marker for oversized README")
	}
	if len(ctx) > bootstrapDocCap*2 {
		t.Errorf("bootstrap context not bounded, %d bytes", len(ctx))
	}
}

func TestBootstrapContextSkipsHiddenDirs(t *testing.T) {
	w := newTestWorkspace(t)

	if err := os.MkdirAll(filepath.Join(w.Root(), ".git", "objects"), 0755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, w, "visible.txt", "x")

	ctx := w.BootstrapContext()
	if strings.Contains(ctx, ".git") {
		t.Error("tree listing should skip .git")
	}
	if !strings.Contains(ctx, "visible.txt") {
		t.Error("tree listing should include regular files")
	}
}

func TestBootstrapContextEmptyWorkspace(t *testing.T) {
	w := newTestWorkspace(t)
	// No README, no guidance, nothing to list. Must not error out.
	if got := w.BootstrapContext(); strings.Contains(got, "README") {
		t.Errorf("unexpected content for empty workspace: %q", got)
	}
}

func writeTestFile(t *testing.T, w *Workspace, rel, content string) {
	t.Helper()
	if err := w.WriteFile(rel, []byte(content)); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", rel, err)
	}
}
