// Package config loads structrun's configuration file and merges it with
// environment variables via github.com/spf13/viper: environment overrides
// beat the config file, which beats built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/structrun/structrun/errs"
)

// WebSearchConfig carries web-search tool defaults.
type WebSearchConfig struct {
	EnableByDefault   bool   `mapstructure:"enable_by_default"`
	SearchContextSize string `mapstructure:"search_context_size"`
}

// CodeExecConfig configures default behaviour of the code-executor driver.
type CodeExecConfig struct {
	Collision  string `mapstructure:"collision"`
	Validation string `mapstructure:"validation"`
	// DownloadStrategy is the config default for artifact recovery
	// ("single_pass" or "two_pass_sentinel"), overridden per-run by the
	// ci-download-hack feature flag.
	DownloadStrategy string `mapstructure:"download_strategy"`
}

// RetrievalConfig configures default behaviour of the retrieval driver.
type RetrievalConfig struct {
	VectorStoreTTL time.Duration `mapstructure:"vector_store_ttl"`
}

// ToolsConfig groups per-tool defaults.
type ToolsConfig struct {
	CodeExec   CodeExecConfig  `mapstructure:"code_interpreter"`
	Retrieval  RetrievalConfig `mapstructure:"file_search"`
	WebSearch  WebSearchConfig `mapstructure:"web_search"`
}

// ModelsConfig carries the default model name.
type ModelsConfig struct {
	Default string `mapstructure:"default"`
}

// OperationConfig carries the unattended timeout and retry policy applied
// by the safeguard layer.
type OperationConfig struct {
	TimeoutMinutes  int    `mapstructure:"timeout_minutes"`
	RetryAttempts   int    `mapstructure:"retry_attempts"`
	RequireApproval string `mapstructure:"require_approval"`
}

// UploadConfig carries cache behaviour for the upload manager and the
// file-identity content cache.
type UploadConfig struct {
	PersistentCache    bool   `mapstructure:"persistent_cache"`
	CacheMaxAgeDays    int    `mapstructure:"cache_max_age_days"`
	CachePath          string `mapstructure:"cache_path"`
	HashAlgorithm      string `mapstructure:"hash_algorithm"`
}

// MCPServerConfig describes one configured remote-tool endpoint, read from
// the config file's `mcp_servers` map (label -> config).
type MCPServerConfig struct {
	URL             string            `mapstructure:"url"`
	ApprovalMode    string            `mapstructure:"require_approval"`
	Headers         map[string]string `mapstructure:"headers"`
	AllowedTools    []string          `mapstructure:"allowed_tools"`
}

// Config is the fully-merged configuration structrun loads before building
// its Service Container and Execution Engine.
type Config struct {
	Tools      ToolsConfig                `mapstructure:"tools"`
	Models     ModelsConfig               `mapstructure:"models"`
	Operation  OperationConfig            `mapstructure:"operation"`
	Uploads    UploadConfig               `mapstructure:"uploads"`
	MCPServers map[string]MCPServerConfig `mapstructure:"mcp_servers"`
}

// defaults returns the built-in configuration.
func defaults() Config {
	return Config{
		Tools: ToolsConfig{
			CodeExec:  CodeExecConfig{Collision: "OVERWRITE", Validation: "BASIC", DownloadStrategy: "single_pass"},
			Retrieval: RetrievalConfig{VectorStoreTTL: 7 * 24 * time.Hour},
		},
		Models: ModelsConfig{Default: "gpt-4o"},
		Operation: OperationConfig{
			TimeoutMinutes:  60,
			RetryAttempts:   3,
			RequireApproval: "never",
		},
		Uploads: UploadConfig{
			PersistentCache: true,
			CacheMaxAgeDays: 14,
			HashAlgorithm:   "sha256",
		},
	}
}

// Load reads configPath (when non-empty) plus any `STRUCTRUN_`-prefixed
// environment variables, falling back to defaults() for anything unset.
// An empty configPath is not an error: the run proceeds on defaults plus
// CLI flags.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STRUCTRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaults()
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errs.Wrap(errs.KindUsageError, err, "failed to read config file %q", configPath)
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, errs.Wrap(errs.KindUsageError, err, "failed to parse configuration")
	}
	return out, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("tools.code_interpreter.collision", cfg.Tools.CodeExec.Collision)
	v.SetDefault("tools.code_interpreter.validation", cfg.Tools.CodeExec.Validation)
	v.SetDefault("tools.code_interpreter.download_strategy", cfg.Tools.CodeExec.DownloadStrategy)
	v.SetDefault("tools.file_search.vector_store_ttl", cfg.Tools.Retrieval.VectorStoreTTL)
	v.SetDefault("tools.web_search.enable_by_default", cfg.Tools.WebSearch.EnableByDefault)
	v.SetDefault("models.default", cfg.Models.Default)
	v.SetDefault("operation.timeout_minutes", cfg.Operation.TimeoutMinutes)
	v.SetDefault("operation.retry_attempts", cfg.Operation.RetryAttempts)
	v.SetDefault("operation.require_approval", cfg.Operation.RequireApproval)
	v.SetDefault("uploads.persistent_cache", cfg.Uploads.PersistentCache)
	v.SetDefault("uploads.cache_max_age_days", cfg.Uploads.CacheMaxAgeDays)
	v.SetDefault("uploads.hash_algorithm", cfg.Uploads.HashAlgorithm)
}

// ValidateApproval checks the require_approval setting against the fixed
// set of recognised values, independent of the unattended-mode check the
// safeguard performs against actually-configured endpoints.
func ValidateApproval(setting string) error {
	switch setting {
	case "never", "always", "untrusted":
		return nil
	default:
		return errs.New(errs.KindUsageError, "require_approval must be one of never/always/untrusted, got %q", setting)
	}
}

// Timeout returns the operation timeout as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Operation.TimeoutMinutes) * time.Minute
}

// String renders a short diagnostic summary, used by --dry-run output.
func (c Config) String() string {
	return fmt.Sprintf("model=%s timeout=%s retries=%d mcpServers=%d",
		c.Models.Default, c.Timeout(), c.Operation.RetryAttempts, len(c.MCPServers))
}
