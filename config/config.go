// Package config loads and validates govwatcher's process configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Database            DatabaseConfig            `mapstructure:"database"`
	Chains              []ChainConfig             `mapstructure:"chains"`
	Scanning            ScanConfig                `mapstructure:"scanning"`
	Concurrency         ConcurrencyConfig         `mapstructure:"concurrency"`
	Providers           []ProviderConfig          `mapstructure:"providers"`
	Notifiers           NotifiersConfig           `mapstructure:"notifiers"`
	SubscriberDirectory SubscriberDirectoryConfig `mapstructure:"subscriber_directory"`
	Admin               AdminConfig               `mapstructure:"admin"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ChainConfig represents a single Cosmos chain configuration.
type ChainConfig struct {
	// ChainRegistryName, when set, enables best-effort enrichment of this
	// chain's pretty name/logo from the public Cosmos Chain Registry.
	ChainRegistryName string `mapstructure:"chain_name"`

	Name      string   `mapstructure:"name"`
	ChainID   string   `mapstructure:"chain_id"`
	RESTAddrs []string `mapstructure:"rest_endpoints"`

	// Runtime field populated from the Chain Registry (not in config file).
	RegistryInfo *ChainRegistryInfo `mapstructure:"-"`
}

// ChainRegistryInfo holds information fetched from the Chain Registry.
type ChainRegistryInfo struct {
	PrettyName string
	LogoURL    string
}

// ScanConfig holds the scanning settings read from the config file. The
// Watcher does not read them: it ticks every hour with ±10% jitter.
type ScanConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Jitter   float64       `mapstructure:"jitter"`
}

// ConcurrencyConfig holds the scheduler's queue sizes and concurrency caps,
// per spec.md §4.8.
type ConcurrencyConfig struct {
	AnalysisQueueSize  int `mapstructure:"analysis_queue_size"`
	DeliveryQueueSize  int `mapstructure:"delivery_queue_size"`
	MaxConcurrentLLM   int `mapstructure:"max_concurrent_llm"`
	MaxConcurrentSends int `mapstructure:"max_concurrent_sends"`
}

// ProviderConfig configures one ordered entry in the Hybrid Analyzer's
// provider fallback chain.
type ProviderConfig struct {
	Name    string `mapstructure:"name"` // "anthropic", "bedrock", "langchain"
	Model   string `mapstructure:"model"`
	Region  string `mapstructure:"region"`   // bedrock only
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"` // langchain/ollama only
}

// NotifiersConfig selects and configures the Notifier implementations.
type NotifiersConfig struct {
	Discord DiscordNotifierConfig `mapstructure:"discord"`
	Slack   SlackNotifierConfig   `mapstructure:"slack"`
}

// DiscordNotifierConfig holds Discord notifier configuration.
type DiscordNotifierConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// SlackNotifierConfig holds Slack notifier configuration.
type SlackNotifierConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// SubscriberDirectoryConfig points at the external subscriber directory and
// its local cache TTL, per spec.md §4.5/§6.
type SubscriberDirectoryConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	RedisURL string        `mapstructure:"redis_url"`
}

// AdminConfig holds the administrative HTTP surface configuration.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("database.path", "./govwatcher.db")
	viper.SetDefault("scanning.interval", "1h")
	viper.SetDefault("scanning.jitter", 0.1)
	viper.SetDefault("concurrency.analysis_queue_size", 256)
	viper.SetDefault("concurrency.delivery_queue_size", 1024)
	viper.SetDefault("concurrency.max_concurrent_llm", 3)
	viper.SetDefault("concurrency.max_concurrent_sends", 8)
	viper.SetDefault("subscriber_directory.cache_ttl", "5m")
	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.port", 8080)
	viper.SetDefault("admin.path", "/admin")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the misconfiguration class of errors (§7): these are
// fatal at startup only, never at runtime.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for _, chain := range c.Chains {
		if chain.GetChainID() == "" {
			return fmt.Errorf("chain %q is missing a chain_id", chain.GetName())
		}
		if len(chain.RESTAddrs) == 0 {
			return fmt.Errorf("chain %q has no rest_endpoints configured", chain.GetName())
		}
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured")
	}
	if !c.Notifiers.Discord.Enabled && !c.Notifiers.Slack.Enabled {
		return fmt.Errorf("at least one notifier must be enabled")
	}
	return nil
}

// UsesChainRegistry returns true if this chain uses Chain Registry enrichment.
func (c *ChainConfig) UsesChainRegistry() bool {
	return c.ChainRegistryName != ""
}

// GetName returns the effective chain name.
func (c *ChainConfig) GetName() string {
	if c.RegistryInfo != nil && c.RegistryInfo.PrettyName != "" {
		return c.RegistryInfo.PrettyName
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ChainID
}

// GetChainID returns the chain's stable identifier.
func (c *ChainConfig) GetChainID() string {
	return c.ChainID
}

// GetLogoURL returns the effective logo URL, if any.
func (c *ChainConfig) GetLogoURL() string {
	if c.RegistryInfo != nil {
		return c.RegistryInfo.LogoURL
	}
	return ""
}

// PopulateFromRegistry sets registry enrichment info for this chain.
func (c *ChainConfig) PopulateFromRegistry(info *ChainRegistryInfo) {
	c.RegistryInfo = info
}
