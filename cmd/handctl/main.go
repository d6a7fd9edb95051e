package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/eventlog"
	"github.com/suryarastogi/helping-hands-sub000/pkg/hand"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
	"github.com/suryarastogi/helping-hands-sub000/pkg/persistence"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliOptions carries parsed flag values into run.
type cliOptions struct {
	workspace    string
	prompt       string
	promptFile   string
	backend      string
	model        string
	capabilities string
	resume       string
	show         string
	stats        string
	secretsSet   string
	secretsUnset string
	budget       int
	limit        int
	finalize     bool
	stream       bool
	history      bool
	secretsInit  bool
}

func main() {
	var (
		workspaceDir = flag.String("workspace", ".", "Workspace directory the run operates on")
		prompt       = flag.String("prompt", "", "Task prompt")
		promptFile   = flag.String("prompt-file", "", "Read the task prompt from a file")
		backend      = flag.String("backend", "", "Backend override (native, claude, codex, gemini, aider)")
		model        = flag.String("model", "", "Model override")
		budget       = flag.Int("budget", 0, "Iteration budget override for the native backend")
		capabilities = flag.String("capabilities", "", "Comma-separated tool capability override for the native backend")
		finalize     = flag.Bool("finalize", false, "Commit changes to a run branch after a successful run")
		stream       = flag.Bool("stream", false, "Stream run output as it is produced")
		resume       = flag.String("resume", "", "Resume an earlier run or pull request by ID")
		history      = flag.Bool("history", false, "List recent runs in this workspace and exit")
		limit        = flag.Int("limit", 20, "Number of runs to show with -history")
		show         = flag.String("show", "", "Print the transcript of a run by ID (or ID prefix) and exit")
		stats        = flag.String("stats", "", "Query aggregated run statistics from a Prometheus server at this URL and exit")
		secretsInit  = flag.Bool("secrets-init", false, "Encrypt provider credentials into the workspace data directory")
		secretsSet   = flag.String("secrets-set", "", "Add or update one credential (KEY=VALUE) in the encrypted store")
		secretsUnset = flag.String("secrets-unset", "", "Remove one credential by name from the encrypted store")
		debug        = flag.Bool("debug", false, "Enable debug logging")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("handctl %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true)
	}

	opts := cliOptions{
		workspace:    *workspaceDir,
		prompt:       *prompt,
		promptFile:   *promptFile,
		backend:      *backend,
		model:        *model,
		capabilities: *capabilities,
		resume:       *resume,
		show:         *show,
		stats:        *stats,
		secretsSet:   *secretsSet,
		secretsUnset: *secretsUnset,
		budget:       *budget,
		limit:        *limit,
		finalize:     *finalize,
		stream:       *stream,
		history:      *history,
		secretsInit:  *secretsInit,
	}

	// Run main logic and get exit code. This allows defers to execute
	// before os.Exit is called.
	os.Exit(run(opts))
}

func run(opts cliOptions) int {
	if opts.secretsInit {
		if err := initSecrets(opts.workspace); err != nil {
			fmt.Fprintf(os.Stderr, "Secrets setup failed: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.secretsSet != "" || opts.secretsUnset != "" {
		if err := updateSecrets(opts.workspace, opts.secretsSet, opts.secretsUnset); err != nil {
			fmt.Fprintf(os.Stderr, "Secrets update failed: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.stats != "" {
		if err := printStats(opts.stats, opts.backend); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to query metrics: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.workspace == "." && !opts.history && opts.show == "" {
		config.LogInfo("⚠️  -workspace not set. Using the current directory.")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if opts.history {
		if err := printHistory(opts.workspace, cfg.DataDir, opts.limit); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.show != "" {
		if err := printTranscript(opts.workspace, cfg.DataDir, opts.show); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read transcript: %v\n", err)
			return 1
		}
		return 0
	}

	prompt, err := resolvePrompt(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	// Load encrypted credentials into memory if the workspace has them.
	if err := handleSecretsDecryption(opts.workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	h, err := hand.New(cfg, hand.Options{Recorder: recorder})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build %s backend: %v\n", cfg.Backend, err)
		return 1
	}

	// The first signal asks the run to stop at its next suspension point;
	// a second one force-quits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Interrupt requested; stopping at the next safe point. Press Ctrl-C again to force quit.")
		h.Interrupt()
		<-sigChan
		os.Exit(130)
	}()

	req := hand.Request{
		Workspace:     opts.workspace,
		Prompt:        prompt,
		Resume:        opts.resume,
		MaxIterations: opts.budget,
		Capabilities:  splitCapabilities(opts.capabilities),
		Finalize:      opts.finalize,
	}

	config.LogInfo("🚀 Starting %s run in %s", cfg.Backend, opts.workspace)

	var resp *hand.Response
	if opts.stream {
		resp, err = runStreaming(context.Background(), h, req)
	} else {
		resp, err = h.Run(context.Background(), req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	writeMetricsSnapshot(registry, opts.workspace, cfg.DataDir)
	printOutcome(resp)

	switch {
	case resp.Reason == hand.ReasonInterrupted:
		return 130
	case resp.Success:
		return 0
	default:
		return 1
	}
}

// loadConfig layers the workspace YAML file (when present) and flag
// overrides on top of the defaults.
func loadConfig(opts cliOptions) (*config.Config, error) {
	path := filepath.Join(opts.workspace, config.ConfigFilename)
	if _, err := os.Stat(path); err != nil {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePrompt(opts cliOptions) (string, error) {
	if opts.prompt != "" && opts.promptFile != "" {
		return "", fmt.Errorf("use -prompt or -prompt-file, not both")
	}
	if opts.promptFile != "" {
		data, err := os.ReadFile(opts.promptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return "", fmt.Errorf("prompt file %s is empty", opts.promptFile)
		}
		return prompt, nil
	}
	if strings.TrimSpace(opts.prompt) == "" {
		return "", fmt.Errorf("a task prompt is required (use -prompt or -prompt-file)")
	}
	return opts.prompt, nil
}

func splitCapabilities(raw string) []string {
	if raw == "" {
		return nil
	}
	var caps []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	return caps
}

// runStreaming drains the stream to stdout and returns the terminal
// response from the final chunk.
func runStreaming(ctx context.Context, h hand.Hand, req hand.Request) (*hand.Response, error) {
	chunks, err := h.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var final *hand.Response
	for chunk := range chunks {
		if chunk.Text != "" {
			fmt.Println(chunk.Text)
		}
		if chunk.Final != nil {
			final = chunk.Final
		}
	}
	if final == nil {
		return nil, fmt.Errorf("stream ended without a terminal response")
	}
	return final, nil
}

func printOutcome(resp *hand.Response) {
	fmt.Println()
	if resp.Success {
		fmt.Printf("✅ %s\n", resp.Summary)
	} else {
		fmt.Printf("❌ %s\n", resp.Summary)
	}

	meta := resp.Metadata
	fmt.Printf("   run: %s  backend: %s  iterations: %d  reason: %s\n",
		meta.RunID, meta.Backend, meta.Iterations, resp.Reason)
	if len(meta.FilesChanged) > 0 {
		fmt.Printf("   files changed: %s\n", strings.Join(meta.FilesChanged, ", "))
	}
	if meta.Branch != "" {
		fmt.Printf("   branch: %s\n", meta.Branch)
	}
	if meta.PRURL != "" {
		fmt.Printf("   pull request: %s\n", meta.PRURL)
	}
}

// printHistory lists recent runs from the workspace run database, newest
// first.
func printHistory(workspaceDir, dataDir string, limit int) error {
	dbPath := filepath.Join(workspaceDir, dataDir, persistence.RunsFilename)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("No runs recorded in this workspace yet.")
		return nil
	}

	store, err := persistence.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded in this workspace yet.")
		return nil
	}

	for _, record := range records {
		status := "❌"
		switch {
		case record.Interrupted:
			status = "⏸️"
		case record.Success:
			status = "✅"
		}

		backend := record.Backend
		if record.Model != "" {
			backend += "/" + record.Model
		}

		fmt.Printf("%s %s  %s  %s  %d iteration(s)\n",
			status, record.ID, record.StartedAt.Local().Format("2006-01-02 15:04"),
			backend, record.Iterations)
		fmt.Printf("   %s\n", truncate(record.Prompt, 100))
		if record.Summary != "" {
			fmt.Printf("   %s\n", truncate(record.Summary, 100))
		}
	}
	return nil
}

// printTranscript replays the recorded events of one run from the JSONL
// transcripts, oldest first.
func printTranscript(workspaceDir, dataDir, runID string) error {
	dir := filepath.Join(workspaceDir, dataDir, eventlog.TranscriptsDirname)
	files, err := eventlog.ListTranscripts(dir)
	if err != nil {
		return err
	}

	var events []eventlog.Event
	for _, file := range files {
		all, err := eventlog.ReadEvents(file)
		if err != nil {
			return err
		}
		for _, e := range all {
			if strings.HasPrefix(e.RunID, runID) {
				events = append(events, e)
			}
		}
	}
	if len(events) == 0 {
		fmt.Printf("No transcript events for run %s.\n", runID)
		return nil
	}

	for _, e := range events {
		line := fmt.Sprintf("%s  %-12s", e.Timestamp.Local().Format("15:04:05"), e.Type)
		if e.Iteration > 0 {
			line += fmt.Sprintf("  [%d]", e.Iteration)
		}
		if e.Content != "" {
			line += "  " + truncate(e.Content, 120)
		}
		for k, v := range e.Fields {
			line += fmt.Sprintf("  %s=%s", k, v)
		}
		fmt.Println(line)
	}
	return nil
}

// printStats queries aggregated run metrics from a Prometheus server that
// scrapes long-lived deployments. Snapshot files written by one-shot runs
// feed the same server through the node exporter's textfile collector.
func printStats(prometheusURL, backend string) error {
	svc, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	backends := []string{backend}
	if backend == "" {
		if backends, err = svc.ListBackends(ctx); err != nil {
			return err
		}
	}
	if len(backends) == 0 {
		fmt.Println("No run metrics recorded yet.")
		return nil
	}

	for _, name := range backends {
		stats, err := svc.GetBackendStats(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %d run(s), %d satisfied, %d failed, avg duration %.1fs\n",
			stats.Backend, stats.Runs, stats.Satisfied, stats.Failed, stats.AvgDurationSec)
	}
	return nil
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// writeMetricsSnapshot saves run metrics next to the other run artifacts. A
// failed snapshot write never fails the run.
func writeMetricsSnapshot(g prometheus.Gatherer, workspaceDir, dataDir string) {
	path := filepath.Join(workspaceDir, dataDir, metrics.SnapshotFilename)
	if err := metrics.WriteSnapshot(g, path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write metrics snapshot: %v\n", err)
	}
}
