// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Config is the full bot configuration
type Config struct {
	// Mode selects the components to run: all, web or chat
	Mode    string `env:"MODE" envDefault:"all"`
	Port    string `env:"PORT" envDefault:"7700"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:7700/"`

	RequiredApprovals int           `env:"REQUIRED_APPROVALS" envDefault:"1"`
	ReviewerIDs       []string      `env:"REVIEWER_IDS" envSeparator:","`
	ReviewersOnly     bool          `env:"REVIEWERS_ONLY" envDefault:"true"`
	ApproveReactions  []string      `env:"APPROVE_REACTIONS" envSeparator:"," envDefault:"✅,👍"`
	RejectReactions   []string      `env:"REJECT_REACTIONS" envSeparator:"," envDefault:"❌,👎"`
	GracePeriod       time.Duration `env:"REJECTION_GRACE_PERIOD" envDefault:"5m"`

	AccountsFile string `env:"SNS_ACCOUNTS_FILE" envDefault:"sns.json"`

	MatrixHomeserver  string `env:"MATRIX_HOMESERVER"`
	MatrixUserID      string `env:"MATRIX_USER_ID"`
	MatrixAccessToken string `env:"MATRIX_ACCESS_TOKEN"`

	FormSecret  string        `env:"FORM_SECRET"`
	FormLinkTTL time.Duration `env:"FORM_LINK_TTL" envDefault:"30m"`

	PublishWebhookURL string        `env:"PUBLISH_WEBHOOK_URL"`
	PublishTimeout    time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"15s"`

	CouchbaseURL      string `env:"COUCHBASE_URL"`
	CouchbaseUsername string `env:"COUCHBASE_USERNAME"`
	CouchbasePassword string `env:"COUCHBASE_PASSWORD"`
	CouchbaseBucket   string `env:"COUCHBASE_BUCKET" envDefault:"reviews"`

	ElasticsearchURL    string `env:"ELASTICSEARCH_URL"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	EnableSystemMetrics bool   `env:"ENABLE_SYSTEM_METRICS"`
	MetricsSchedule     string `env:"SYSTEM_METRICS_SCHEDULE" envDefault:"@every 15s"`

	// Accounts maps each platform to its accounts, loaded from AccountsFile
	Accounts map[string][]string
}

// LoadDotEnv loads ../.env, then .env, when present
func LoadDotEnv() {
	if err := godotenv.Load("../.env"); err != nil {
		log.Info().Msg("Not found .env file in parent directory, trying current directory")
		if err := godotenv.Load(".env"); err != nil {
			log.Info().Msg("Not found .env file in current directory, assuming environment variables are set")
		}
	}
}

// Load parses the environment and the accounts file
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ReviewerIDs = trimAll(cfg.ReviewerIDs)
	cfg.ApproveReactions = trimAll(cfg.ApproveReactions)
	cfg.RejectReactions = trimAll(cfg.RejectReactions)
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cfg.AccountsFile)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	accounts, err := ParseAccounts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.AccountsFile, err)
	}
	cfg.Accounts = accounts

	return cfg, nil
}

// Run modes
const (
	ModeAll  = "all"
	ModeWeb  = "web"
	ModeChat = "chat"
)

func (c *Config) validate() error {
	switch c.Mode {
	case ModeAll, ModeWeb, ModeChat:
	default:
		return fmt.Errorf("MODE must be one of all, web, chat, got %q", c.Mode)
	}
	if c.RequiredApprovals < 1 {
		return fmt.Errorf("REQUIRED_APPROVALS must be at least 1, got %d", c.RequiredApprovals)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("REJECTION_GRACE_PERIOD must be positive, got %s", c.GracePeriod)
	}
	if len(c.ApproveReactions) == 0 || len(c.RejectReactions) == 0 {
		return errors.New("APPROVE_REACTIONS and REJECT_REACTIONS must not be empty")
	}
	for _, a := range c.ApproveReactions {
		for _, r := range c.RejectReactions {
			if a == r {
				return fmt.Errorf("reaction %s is configured as both approve and reject", a)
			}
		}
	}
	return nil
}

// MatrixEnabled reports whether chat credentials are configured
func (c *Config) MatrixEnabled() bool {
	return c.MatrixHomeserver != "" && c.MatrixUserID != "" && c.MatrixAccessToken != ""
}

// RunWeb reports whether the web server runs in this mode
func (c *Config) RunWeb() bool { return c.Mode != ModeChat }

// RunChat reports whether the chat listener runs in this mode
func (c *Config) RunChat() bool { return c.Mode != ModeWeb }

// Platforms returns the configured platforms in name order
func (c *Config) Platforms() []string {
	out := make([]string, 0, len(c.Accounts))
	for p := range c.Accounts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ParseAccounts reads {"platform": ["account", ...]}. Account entries may
// also be objects carrying a "name" field.
func ParseAccounts(data []byte) (map[string][]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("accounts file is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("accounts file must be a JSON object of platform to accounts")
	}

	accounts := make(map[string][]string)
	var parseErr error
	root.ForEach(func(platform, list gjson.Result) bool {
		if !list.IsArray() {
			parseErr = fmt.Errorf("accounts of %s must be a list", platform.String())
			return false
		}
		var names []string
		for _, entry := range list.Array() {
			name := entry.String()
			if entry.IsObject() {
				name = entry.Get("name").String()
			}
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		accounts[platform.String()] = names
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(accounts) == 0 {
		return nil, errors.New("no platforms configured")
	}
	return accounts, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
