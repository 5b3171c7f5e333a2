package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider defaults for the OpenAI-compatible chat endpoint.
var providerBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// Config holds runtime configuration. Secrets (e.g. API key) are read from
// the environment or a .env file at runtime; never committed.
type Config struct {
	// Provider selects the model client factory: openai, groq, openrouter or scripted.
	Provider string `yaml:"provider"`
	// APIKey is set from env LLM_API_KEY (or AGENTCHECK_API_KEY). Never read from config.yaml.
	APIKey string `yaml:"-"`
	// BaseURL overrides the provider's chat-completions base URL.
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	// ScriptPath is the YAML script replayed by the scripted provider.
	ScriptPath string `yaml:"script_path"`

	// ConfigDir is where config.yaml, .env, policy.yaml and templates/ live.
	ConfigDir string `yaml:"-"` // set at runtime
	// DBPath is the SQLite database; empty disables persistence.
	DBPath string `yaml:"db_path"`
	// PolicyPath is the decision policy YAML; empty uses the built-in policy.
	PolicyPath string `yaml:"policy_path"`

	MaxIterations       int     `yaml:"max_iterations"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// ToolOutputMaxRunes caps tool observations (0 = no truncation).
	ToolOutputMaxRunes int `yaml:"tool_output_max_runes"`
	// Workers is the number of concurrent sessions the queue runs.
	Workers int `yaml:"workers"`
	// AnalysisCacheSize bounds the reply-analysis LRU cache (0 disables it).
	AnalysisCacheSize int `yaml:"analysis_cache_size"`
	// MetricsAddr serves /metrics, /healthz and the read-only /api/v1 when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfigDir returns the default config directory (project-local .agentcheck if present, else ~/.config/agentcheck).
func DefaultConfigDir() string {
	cwd, _ := os.Getwd()
	local := filepath.Join(cwd, ".agentcheck")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentcheck")
}

// New builds config from defaults, .env, the environment and config.yaml in
// the config dir, in increasing priority. ConfigDir can be empty to use
// AGENTCHECK_CONFIG_DIR or the default.
func New(configDir string) (*Config, error) {
	if configDir == "" {
		if d := os.Getenv("AGENTCHECK_CONFIG_DIR"); d != "" {
			configDir = d
		} else {
			configDir = DefaultConfigDir()
		}
	}

	// .env never overrides variables already set in the process.
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Provider:            "openai",
		Model:               "gpt-4o-mini",
		Temperature:         0, // deterministic decisions
		ConfigDir:           configDir,
		DBPath:              filepath.Join(configDir, "agentcheck.db"),
		MaxIterations:       5,
		ConfidenceThreshold: 0.7,
		ToolOutputMaxRunes:  4000,
		Workers:             2,
		AnalysisCacheSize:   256,
	}
	cfg.applyEnv()

	// Priority: Env < Config File.
	configPath := filepath.Join(configDir, "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		// keys present in the file overwrite; missing keys keep the env/default value
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = providerBaseURLs[cfg.Provider]
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LLM_API_KEY", &c.APIKey)
	str("AGENTCHECK_API_KEY", &c.APIKey)
	str("AGENTCHECK_PROVIDER", &c.Provider)
	str("AGENTCHECK_BASE_URL", &c.BaseURL)
	str("AGENTCHECK_MODEL", &c.Model)
	str("AGENTCHECK_SCRIPT", &c.ScriptPath)
	str("AGENTCHECK_DB_PATH", &c.DBPath)
	str("AGENTCHECK_POLICY", &c.PolicyPath)
	str("AGENTCHECK_METRICS_ADDR", &c.MetricsAddr)

	if v := os.Getenv("AGENTCHECK_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIterations = n
		}
	}
	if v := os.Getenv("AGENTCHECK_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("AGENTCHECK_TOOL_OUTPUT_MAX_RUNES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.ToolOutputMaxRunes = n
		}
	}
	if v := os.Getenv("AGENTCHECK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("AGENTCHECK_ANALYSIS_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.AnalysisCacheSize = n
		}
	}
	if v := os.Getenv("AGENTCHECK_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
}

// Validate reports the first setting the application cannot run with.
func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1], got %g", c.ConfidenceThreshold)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ToolOutputMaxRunes < 0 {
		return fmt.Errorf("tool_output_max_runes must not be negative")
	}
	if c.AnalysisCacheSize < 0 {
		return fmt.Errorf("analysis_cache_size must not be negative")
	}
	if c.Provider == "" {
		return fmt.Errorf("provider is not set")
	}
	return nil
}
