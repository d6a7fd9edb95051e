// Package config provides configuration loading and management for hand runs.
//
// Configuration is layered: compiled-in defaults, then an optional YAML file,
// then HANDS_* environment variables. The result is read-only for the rest of
// the system; packages receive values, they never reach back into the
// environment themselves. Secrets (API keys for backend CLIs and model
// providers) live in an encrypted secrets file with environment fallback, see
// secrets.go.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
)

// Package logger for config operations.
//
//nolint:gochecknoglobals // Single logger instance for the package
var logger *logx.Logger

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// Provider identifiers for model API routing.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Backend identifiers. The native backend drives a model API directly from
// this process; the others supervise an external agent CLI.
const (
	BackendNative = "native"
	BackendClaude = "claude"
	BackendCodex  = "codex"
	BackendGemini = "gemini"
	BackendAider  = "aider"
)

// KnownBackends lists every backend identifier the factory accepts.
//
//nolint:gochecknoglobals // Static registry
var KnownBackends = []string{BackendNative, BackendClaude, BackendCodex, BackendGemini, BackendAider}

// IsKnownBackend reports whether id names a supported backend.
func IsKnownBackend(id string) bool {
	for _, b := range KnownBackends {
		if b == id {
			return true
		}
	}
	return false
}

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string // API provider (anthropic, openai, google, ollama)
	MaxContextTokens int    // Maximum context window size in tokens
	MaxOutputTokens  int    // Maximum output tokens per request
}

// KnownModels contains provider and context-window information for common
// models. Unknown models are inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// Claude models (Anthropic)
	"claude-3-7-sonnet-20250219": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},

	// OpenAI models
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"o3": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-5": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},

	// Google Gemini models
	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a rule for inferring a provider from a model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model
// names, allowing new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Common open-source model prefixes served via Ollama.
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model. It checks
// KnownModels first, then falls back to prefix matching. An unmappable model
// is an error because no client can be constructed for it.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model %q: no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the ModelInfo for a model name and whether it was found
// in KnownModels. Unknown models get conservative context defaults with the
// inferred provider.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}

	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// Duration wraps time.Duration for YAML decoding. It accepts either a Go
// duration string ("90s", "2m") or a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// parseDuration parses a duration string, accepting bare seconds for
// compatibility with plain-integer environment values.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return parsed, nil
}

// parseBool parses a truthy/falsy environment value.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ContextConfig bounds the native backend's conversation context.
type ContextConfig struct {
	MaxContextTokens int `yaml:"max_context_tokens"` // Maximum total context size
	MaxReplyTokens   int `yaml:"max_reply_tokens"`   // Maximum tokens for a model reply
	CompactionBuffer int `yaml:"compaction_buffer"`  // Buffer tokens before compaction
}

// ToolsConfig controls directive tool execution.
type ToolsConfig struct {
	Capabilities []string `yaml:"capabilities"`   // Enabled capabilities; empty means the default set
	OutputCap    int      `yaml:"output_cap"`     // Byte cap on tool output before truncation
	CommandShell string   `yaml:"command_shell"`  // Shell used for command tools
	WebTimeout   Duration `yaml:"web_timeout"`    // Timeout for web_search / web_browse
	SearchAPIKey string   `yaml:"search_api_key"` // Google Custom Search API key; empty selects the fallback provider
	SearchCX     string   `yaml:"search_cx"`      // Google Custom Search engine ID
}

// GitConfig controls run finalization.
type GitConfig struct {
	BranchPrefix string `yaml:"branch_prefix"` // Prefix for result branches
	TargetBranch string `yaml:"target_branch"` // Base branch for pull requests
	CreatePR     bool   `yaml:"create_pr"`     // Open a pull request after push
	Push         bool   `yaml:"push"`          // Push the result branch to origin
}

// Config is the full configuration for a hand run.
//
//nolint:govet // Configuration struct, logical grouping preferred
type Config struct {
	// Backend selects the execution strategy: native, claude, codex,
	// gemini, or aider.
	Backend string `yaml:"backend"`

	// Model names the LLM to use. Provider routing is derived from it for
	// the native backend; external CLIs receive it as a flag.
	Model string `yaml:"model"`

	// MaxIterations is the native loop's iteration budget.
	MaxIterations int `yaml:"max_iterations"`

	// AgentCmd overrides the external CLI launch command.
	AgentCmd string `yaml:"agent_cmd"`

	// UseContainer wraps external CLI launches in a container.
	UseContainer bool `yaml:"use_container"`

	// ContainerImage is the image used when UseContainer is set.
	ContainerImage string `yaml:"container_image"`

	// IdleTimeout aborts a supervised process after this long without output.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// HeartbeatInterval is how often the supervisor emits liveness while
	// the process is quiet.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// SkipPermissions starts external CLIs with their permission-bypass flag.
	SkipPermissions bool `yaml:"skip_permissions"`

	// MaxRetryDepth bounds the supervisor's retry/fallback tree.
	MaxRetryDepth int `yaml:"max_retry_depth"`

	// DataDir is where run records, transcripts, and metric snapshots live,
	// relative to the workspace.
	DataDir string `yaml:"data_dir"`

	Context ContextConfig `yaml:"context"`
	Tools   ToolsConfig   `yaml:"tools"`
	Git     GitConfig     `yaml:"git"`
}

// Defaults used when neither file nor environment provides a value.
const (
	DefaultBackend           = BackendNative
	DefaultModel             = "claude-sonnet-4-20250514"
	DefaultMaxIterations     = 8
	DefaultContainerImage    = "ubuntu:24.04"
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxRetryDepth     = 2
	DefaultDataDir           = ".helping-hands"
	DefaultToolOutputCap     = 16384
	DefaultWebTimeout        = 30 * time.Second
	DefaultBranchPrefix      = "hands/"
	DefaultTargetBranch      = "main"
)

// ConfigFilename is the per-workspace YAML config file, resolved relative to
// the workspace root.
const ConfigFilename = "hands.yaml"

// Default returns a Config populated with compiled-in defaults.
func Default() *Config {
	return &Config{
		Backend:           DefaultBackend,
		Model:             DefaultModel,
		MaxIterations:     DefaultMaxIterations,
		ContainerImage:    DefaultContainerImage,
		IdleTimeout:       Duration(DefaultIdleTimeout),
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
		MaxRetryDepth:     DefaultMaxRetryDepth,
		DataDir:           DefaultDataDir,
		Context: ContextConfig{
			MaxContextTokens: 0, // 0 means derive from the model registry
			MaxReplyTokens:   8192,
			CompactionBuffer: 4096,
		},
		Tools: ToolsConfig{
			OutputCap:    DefaultToolOutputCap,
			CommandShell: "sh",
			WebTimeout:   Duration(DefaultWebTimeout),
		},
		Git: GitConfig{
			BranchPrefix: DefaultBranchPrefix,
			TargetBranch: DefaultTargetBranch,
		},
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load builds a Config from defaults, the YAML file at path (optional; pass
// "" to skip), and HANDS_* environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Replace ${VAR} placeholders before parsing.
		expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			if value := os.Getenv(match[2 : len(match)-1]); value != "" {
				return value
			}
			return match
		})

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides layers HANDS_* environment variables over cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HANDS_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("HANDS_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("HANDS_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxIterations = n
		} else {
			getLogger().Warn("ignoring invalid HANDS_MAX_ITERATIONS=%q", v)
		}
	}
	if v := os.Getenv("HANDS_AGENT_CMD"); v != "" {
		cfg.AgentCmd = v
	}
	if v, ok := os.LookupEnv("HANDS_USE_CONTAINER"); ok {
		cfg.UseContainer = parseBool(v)
	}
	if v := os.Getenv("HANDS_CONTAINER_IMAGE"); v != "" {
		cfg.ContainerImage = v
	}
	if v := os.Getenv("HANDS_IDLE_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.IdleTimeout = Duration(d)
		} else {
			getLogger().Warn("ignoring invalid HANDS_IDLE_TIMEOUT=%q", v)
		}
	}
	if v := os.Getenv("HANDS_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.HeartbeatInterval = Duration(d)
		} else {
			getLogger().Warn("ignoring invalid HANDS_HEARTBEAT_INTERVAL=%q", v)
		}
	}
	if v, ok := os.LookupEnv("HANDS_SKIP_PERMISSIONS"); ok {
		cfg.SkipPermissions = parseBool(v)
	}
	if v := os.Getenv("HANDS_MAX_RETRY_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetryDepth = n
		} else {
			getLogger().Warn("ignoring invalid HANDS_MAX_RETRY_DEPTH=%q", v)
		}
	}
	if v := os.Getenv("HANDS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// failures mid-run.
func (c *Config) Validate() error {
	if !IsKnownBackend(c.Backend) {
		return fmt.Errorf("unknown backend %q (known: %s)", c.Backend, strings.Join(KnownBackends, ", "))
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxRetryDepth < 0 {
		return fmt.Errorf("max_retry_depth must be non-negative, got %d", c.MaxRetryDepth)
	}
	if c.Backend == BackendNative {
		if c.Model == "" {
			return fmt.Errorf("native backend requires a model")
		}
		if _, err := GetModelProvider(c.Model); err != nil {
			return err
		}
	}
	if c.UseContainer && c.ContainerImage == "" {
		return fmt.Errorf("use_container requires container_image")
	}
	if c.IdleTimeout.Std() <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.HeartbeatInterval.Std() <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.Tools.OutputCap <= 0 {
		return fmt.Errorf("tools.output_cap must be positive")
	}
	return nil
}

// MaxContextTokensFor resolves the context ceiling for the configured model,
// preferring an explicit config value over the model registry.
func (c *Config) MaxContextTokensFor() int {
	if c.Context.MaxContextTokens > 0 {
		return c.Context.MaxContextTokens
	}
	info, _ := GetModelInfo(c.Model)
	return info.MaxContextTokens
}
