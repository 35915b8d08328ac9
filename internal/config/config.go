package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Jira     JiraConfig     `mapstructure:"jira"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// SlackConfig holds Slack API configuration
type SlackConfig struct {
	BotToken string `mapstructure:"bot_token"`
	AppToken string `mapstructure:"app_token"`
}

// JiraConfig holds Jira API configuration
type JiraConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Email         string `mapstructure:"email"`
	APIToken      string `mapstructure:"api_token"`
	ProjectKey    string `mapstructure:"project_key"`
	IssueType     string `mapstructure:"issue_type"`
	WebhookPath   string `mapstructure:"webhook_path"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// OpenAIConfig holds OpenAI API configuration. An empty api_key disables the
// LLM policy; the deterministic rules policy drives the workflow instead.
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

// ApprovalConfig holds approval workflow configuration
type ApprovalConfig struct {
	HierarchyPath  string        `mapstructure:"hierarchy_path"`
	Quorum         string        `mapstructure:"quorum"` // "unanimous" or "any_n"
	QuorumN        int           `mapstructure:"quorum_n"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ReminderConfig holds staleness reminder configuration
type ReminderConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/access_approval.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Jira defaults
	viper.SetDefault("jira.issue_type", "Task")
	viper.SetDefault("jira.webhook_path", "/webhook/ticket")

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4")
	viper.SetDefault("openai.temperature", 0.2)

	// Approval defaults
	viper.SetDefault("approval.hierarchy_path", "configs/approval_hierarchy.json")
	viper.SetDefault("approval.quorum", "unanimous")
	viper.SetDefault("approval.quorum_n", 1)
	viper.SetDefault("approval.max_attempts", 3)
	viper.SetDefault("approval.initial_backoff", 500*time.Millisecond)
	viper.SetDefault("approval.max_backoff", 10*time.Second)

	// Reminder defaults
	viper.SetDefault("reminder.enabled", true)
	viper.SetDefault("reminder.interval", 15*time.Minute)
	viper.SetDefault("reminder.stale_after", 4*time.Hour)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("slack.bot_token", "SLACK_BOT_TOKEN")
	viper.BindEnv("slack.app_token", "SLACK_APP_TOKEN")
	viper.BindEnv("jira.base_url", "JIRA_BASE_URL")
	viper.BindEnv("jira.email", "JIRA_EMAIL")
	viper.BindEnv("jira.api_token", "JIRA_API_TOKEN")
	viper.BindEnv("jira.webhook_secret", "JIRA_WEBHOOK_SECRET")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required")
	}
	if c.Slack.AppToken == "" {
		return fmt.Errorf("slack.app_token is required")
	}

	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}
	if c.Jira.Email == "" {
		return fmt.Errorf("jira.email is required")
	}
	if c.Jira.APIToken == "" {
		return fmt.Errorf("jira.api_token is required")
	}
	if c.Jira.ProjectKey == "" {
		return fmt.Errorf("jira.project_key is required")
	}

	switch c.Approval.Quorum {
	case "unanimous":
	case "any_n":
		if c.Approval.QuorumN < 1 {
			return fmt.Errorf("approval.quorum_n must be at least 1")
		}
	default:
		return fmt.Errorf("approval.quorum must be unanimous or any_n, got %q", c.Approval.Quorum)
	}

	if c.Approval.MaxAttempts < 1 {
		return fmt.Errorf("approval.max_attempts must be at least 1")
	}

	return nil
}
