package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Bootstrap context bounds. The first-iteration prompt must stay small enough
// to leave room for the actual task.
const (
	bootstrapDocCap     = 4096 // bytes per included document
	bootstrapTreeDepth  = 3
	bootstrapTreeMax    = 200 // entries before the listing is cut off
	bootstrapTruncation = "\n[... truncated ...]"
)

// readmeCandidates in lookup order.
//
//nolint:gochecknoglobals // Static lookup table
var readmeCandidates = []string{"README.md", "README", "README.txt"}

// guidanceCandidates in lookup order. These are living agent-guidance
// documents maintained in the repository itself.
//
//nolint:gochecknoglobals // Static lookup table
var guidanceCandidates = []string{"AGENTS.md", "CLAUDE.md"}

// skippedDirs are never descended into when listing the tree.
//
//nolint:gochecknoglobals // Static lookup table
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".tmp":         true,
}

// BootstrapContext assembles the orientation block injected into the first
// iteration: the project README, the agent-guidance document, and a bounded
// directory tree. Missing pieces are simply omitted.
func (w *Workspace) BootstrapContext() string {
	var b strings.Builder

	if doc, name := w.firstExisting(readmeCandidates); doc != "" {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, doc)
	}
	if doc, name := w.firstExisting(guidanceCandidates); doc != "" {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, doc)
	}

	tree := w.treeListing()
	if tree != "" {
		fmt.Fprintf(&b, "## Workspace layout\n\n%s\n", tree)
	}

	return b.String()
}

// firstExisting returns the capped content and name of the first candidate
// file that exists at the workspace root.
func (w *Workspace) firstExisting(candidates []string) (string, string) {
	for _, name := range candidates {
		data, err := w.ReadFile(name)
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > bootstrapDocCap {
			content = content[:bootstrapDocCap] + bootstrapTruncation
		}
		return content, name
	}
	return "", ""
}

// treeListing renders a depth- and entry-bounded directory tree.
func (w *Workspace) treeListing() string {
	var lines []string
	truncated := false

	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > bootstrapTreeDepth || truncated {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if truncated {
				return
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") || skippedDirs[name] {
				continue
			}

			rel, err := filepath.Rel(w.root, filepath.Join(dir, name))
			if err != nil {
				continue
			}

			if len(lines) >= bootstrapTreeMax {
				truncated = true
				lines = append(lines, "... (listing truncated)")
				return
			}

			if entry.IsDir() {
				lines = append(lines, rel+"/")
				walk(filepath.Join(dir, name), depth+1)
			} else {
				lines = append(lines, rel)
			}
		}
	}

	walk(w.root, 1)
	return strings.Join(lines, "\n")
}
