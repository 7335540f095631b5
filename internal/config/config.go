package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/andywolf/issue-assistant/internal/security"
)

// DefaultBackendURL is the analyze endpoint the form posts to.
const DefaultBackendURL = "http://localhost:8000/analyze_issue"

// Config represents the full issue-assistant configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Server   ServerConfig   `mapstructure:"server"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Langfuse LangfuseConfig `mapstructure:"langfuse"`
	Log      LogConfig      `mapstructure:"log"`
}

// BackendConfig is what the form side needs to reach the analyze API
type BackendConfig struct {
	URL     string `mapstructure:"url"`
	Timeout string `mapstructure:"timeout"` // empty means no timeout
}

// ServerConfig contains settings for `issue-assistant serve`
type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	RateLimit       int    `mapstructure:"rate_limit"` // requests per minute per client IP, 0 disables
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
	HistoryFile     string `mapstructure:"history_file"` // JSONL log of analyze requests, empty disables
	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// GitHubConfig contains GitHub API access settings. A GitHub App takes
// precedence over a static token; with neither, requests are anonymous.
type GitHubConfig struct {
	BaseURL          string `mapstructure:"base_url"` // GitHub Enterprise API root
	Token            string `mapstructure:"token"`
	TokenSecret      string `mapstructure:"token_secret"`
	AppID            int64  `mapstructure:"app_id"`
	InstallationID   int64  `mapstructure:"installation_id"`
	PrivateKeyPath   string `mapstructure:"private_key_path"`
	PrivateKeySecret string `mapstructure:"private_key_secret"`
}

// LLMConfig contains the OpenAI-compatible chat endpoint settings
type LLMConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	APIKey       string  `mapstructure:"api_key"`
	APIKeySecret string  `mapstructure:"api_key_secret"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Timeout      string  `mapstructure:"timeout"`
}

// AnalysisConfig tunes how issue text is prepared for the model
type AnalysisConfig struct {
	MaxIssueChars int    `mapstructure:"max_issue_chars"`
	StripHTML     *bool  `mapstructure:"strip_html"`
	PromptDir     string `mapstructure:"prompt_dir"` // manifest.yaml / analyze.tmpl overrides
}

// LangfuseConfig enables generation tracing when both keys are set
type LangfuseConfig struct {
	PublicKey string `mapstructure:"public_key"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	GCPProject string `mapstructure:"gcp_project"` // ships logs to Cloud Logging when set
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvFallbacks(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvFallbacks honours the variable names the hosted tooling already uses.
func applyEnvFallbacks(cfg *Config) {
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = firstEnv("GH_TOKEN", "GITHUB_TOKEN")
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("HUGGINGFACE_API_KEY")
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = os.Getenv("HUGGINGFACE_MODEL_ID")
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = DefaultBackendURL
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}

	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://router.huggingface.co/v1"
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "HuggingFaceTB/SmolLM3-3B:hf-inference"
	}

	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 500
	}

	if cfg.LLM.Timeout == "" {
		cfg.LLM.Timeout = "60s"
	}

	if cfg.Analysis.MaxIssueChars == 0 {
		cfg.Analysis.MaxIssueChars = 15000
	}

	if cfg.Analysis.StripHTML == nil {
		strip := true
		cfg.Analysis.StripHTML = &strip
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate validates the settings every command relies on
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url: %q", c.Backend.URL)
	}

	if c.Backend.Timeout != "" {
		if _, err := time.ParseDuration(c.Backend.Timeout); err != nil {
			return fmt.Errorf("invalid backend timeout: %w", err)
		}
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// ValidateForServe performs additional validation required before serving the analyze API
func (c *Config) ValidateForServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.LLM.APIKey == "" && c.LLM.APIKeySecret == "" {
		return fmt.Errorf("LLM API key is required (llm.api_key, llm.api_key_secret or HUGGINGFACE_API_KEY)")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("invalid llm temperature: %v (must be between 0 and 2)", c.LLM.Temperature)
	}

	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("invalid llm max_tokens: %d", c.LLM.MaxTokens)
	}

	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid llm timeout: %w", err)
	}

	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid server shutdown_timeout: %w", err)
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid server rate_limit: %d", c.Server.RateLimit)
	}

	if _, err := security.ClientIPFunc(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("invalid server trusted_proxies: %w", err)
	}

	if c.Analysis.MaxIssueChars < 0 {
		return fmt.Errorf("invalid analysis max_issue_chars: %d", c.Analysis.MaxIssueChars)
	}

	if c.GitHub.AppID != 0 {
		if c.GitHub.InstallationID == 0 {
			return fmt.Errorf("GitHub App Installation ID is required when app_id is set")
		}
		if c.GitHub.PrivateKeyPath == "" && c.GitHub.PrivateKeySecret == "" {
			return fmt.Errorf("GitHub App private key path or secret is required when app_id is set")
		}
	}

	return nil
}

// UsesGitHubApp reports whether GitHub requests authenticate as an App installation.
func (c *Config) UsesGitHubApp() bool {
	return c.GitHub.AppID != 0
}

// BackendTimeout returns the form's request timeout, zero meaning none.
func (c *Config) BackendTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Backend.Timeout)
	return d
}

// LLMTimeout returns the parsed llm.timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, _ := time.ParseDuration(c.LLM.Timeout)
	return d
}

// ShutdownTimeout returns the parsed server.shutdown_timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.ShutdownTimeout)
	return d
}

// keys lists every setting so viper can resolve it from the environment
// even when no config file mentions it.
var keys = []string{
	"backend.url", "backend.timeout",
	"server.addr", "server.rate_limit", "server.shutdown_timeout", "server.history_file",
	"server.trusted_proxies",
	"github.base_url", "github.token", "github.token_secret", "github.app_id",
	"github.installation_id", "github.private_key_path", "github.private_key_secret",
	"llm.base_url", "llm.model", "llm.api_key", "llm.api_key_secret",
	"llm.temperature", "llm.max_tokens", "llm.timeout",
	"analysis.max_issue_chars", "analysis.strip_html", "analysis.prompt_dir",
	"langfuse.public_key", "langfuse.secret_key", "langfuse.base_url",
	"log.level", "log.format", "log.gcp_project",
}

// SetDefaults registers defaults that callers may still set to zero, which
// applyDefaults cannot tell apart from unset.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.rate_limit", 30)
}

// BindEnv makes every key readable from ISSUE_ASSISTANT_<SECTION>_<KEY>.
func BindEnv(v *viper.Viper, prefix string) {
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}
