// Package config provides configuration loading and secret resolution for
// the pipeline.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultAnthropicSmall = "claude-3-5-haiku-latest"
	DefaultOpenAIModel    = "gpt-5"
	DefaultOllamaModel    = "qwen2.5-coder"
	DefaultGeminiModel    = "gemini-2.5-flash"
)

// DefaultMaxRetries is the generation retry ceiling shared by the execute and
// review routing decisions.
const DefaultMaxRetries = 3

// apiKeyEnvVars maps providers to the environment variable carrying their key.
//
//nolint:gochecknoglobals // static lookup table
var apiKeyEnvVars = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// SandboxConfig configures the execution sandbox.
type SandboxConfig struct {
	Backend         string   `yaml:"backend"`          // "subprocess" or "docker"
	Image           string   `yaml:"image"`            // docker backend only
	Interpreter     string   `yaml:"interpreter"`      // e.g. "python3"
	TimeoutSeconds  int      `yaml:"timeout_seconds"`  // per RunCode/RunCommand call
	NetworkDisabled bool     `yaml:"network_disabled"` // docker backend only
	SetupCommands   []string `yaml:"setup_commands"`   // run once before first execution
}

// Config is the top-level configuration.
type Config struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`       // generation model
	SmallModel      string        `yaml:"small_model"` // test generation and review
	OllamaHost      string        `yaml:"ollama_host"`
	MaxRetries      int           `yaml:"max_retries"`
	OutputDir       string        `yaml:"output_dir"`
	JournalPath     string        `yaml:"journal_path"`
	MetricsSnapshot string        `yaml:"metrics_snapshot"`
	Sandbox         SandboxConfig `yaml:"sandbox"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider:    ProviderAnthropic,
		Model:       DefaultAnthropicModel,
		SmallModel:  DefaultAnthropicSmall,
		OllamaHost:  "http://localhost:11434",
		MaxRetries:  DefaultMaxRetries,
		OutputDir:   "generated_modules",
		JournalPath: ".modgen/runs.db",
		Sandbox: SandboxConfig{
			Backend:         "subprocess",
			Image:           "python:3.12-alpine",
			Interpreter:     "python3",
			TimeoutSeconds:  120,
			NetworkDisabled: true,
		},
	}
}

// envVarPattern matches ${VAR} references in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file, expands ${VAR} environment references, and
// fills unset fields with defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Provider == "" {
		c.Provider = defaults.Provider
	}
	if c.Model == "" {
		c.Model = defaultModelFor(c.Provider)
	}
	if c.SmallModel == "" {
		c.SmallModel = c.Model
	}
	if c.OllamaHost == "" {
		c.OllamaHost = defaults.OllamaHost
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.OutputDir == "" {
		c.OutputDir = defaults.OutputDir
	}
	if c.JournalPath == "" {
		c.JournalPath = defaults.JournalPath
	}
	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = defaults.Sandbox.Backend
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = defaults.Sandbox.Image
	}
	if c.Sandbox.Interpreter == "" {
		c.Sandbox.Interpreter = defaults.Sandbox.Interpreter
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		c.Sandbox.TimeoutSeconds = defaults.Sandbox.TimeoutSeconds
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.Sandbox.Backend {
	case "subprocess", "docker":
	default:
		return fmt.Errorf("unknown sandbox backend %q", c.Sandbox.Backend)
	}
	return nil
}

// SandboxTimeout returns the per-call sandbox timeout as a duration.
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
}

// APIKey resolves the provider's API key: encrypted secrets file first, then
// environment. Ollama needs no key and always resolves to "".
func (c *Config) APIKey() (string, error) {
	envVar, needsKey := apiKeyEnvVars[c.Provider]
	if !needsKey {
		return "", nil
	}
	key, err := GetSecret(envVar)
	if err != nil {
		return "", fmt.Errorf("no API key for provider %s: %w", c.Provider, err)
	}
	return key, nil
}

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderOllama:
		return DefaultOllamaModel
	case ProviderGemini:
		return DefaultGeminiModel
	default:
		return DefaultAnthropicModel
	}
}
