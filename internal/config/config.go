package config

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Default importance rules used when none are configured
var (
	DefaultImportantSenders = []string{
		"boss@company.com",
		"client@important.com",
		"@company.com",
	}

	DefaultImportantKeywords = []string{
		"urgent",
		"important",
		"asap",
		"deadline",
		"invoice",
		"payment",
		"contract",
		"meeting",
		"action required",
		"time-sensitive",
		"critical",
	}
)

const (
	DefaultPriorityLabel      = "PRIORITY_INBOX"
	DefaultMaxEmailsToAnalyze = 200
	maxConcurrency            = 16
)

// TriageConfig holds all triage configuration
type TriageConfig struct {
	Gmail      GmailConfig      `json:"gmail"`
	Triage     TriageRules      `json:"triage"`
	Processing ProcessingConfig `json:"processing"`
	Report     ReportConfig     `json:"report"`
}

// GmailConfig holds Gmail API and OAuth2 configuration
type GmailConfig struct {
	// OAuth2 Settings
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	RefreshToken    string `json:"refresh_token"`
	AccessToken     string `json:"access_token"`
	TokenFile       string `json:"token_file"`
	CredentialsFile string `json:"credentials_file"`
	CallbackAddr    string `json:"callback_addr"`

	// Request Settings
	UserID         string        `json:"user_id"`
	RequestTimeout time.Duration `json:"request_timeout"`
	QuotaPerSecond int           `json:"quota_per_second"`
	MaxRetries     int           `json:"max_retries"`
}

// TriageRules holds the classification inputs
type TriageRules struct {
	ImportantSenders   []string `json:"important_senders"`
	ImportantKeywords  []string `json:"important_keywords"`
	PriorityLabel      string   `json:"priority_label"`
	MaxEmailsToAnalyze int      `json:"max_emails_to_analyze"`
	NotifyEmail        string   `json:"notify_email"`
}

// ProcessingConfig holds run behavior
type ProcessingConfig struct {
	DryRun       bool          `json:"dry_run"`
	NoLabel      bool          `json:"no_label"`
	Limit        int           `json:"limit"`
	BatchDelay   time.Duration `json:"batch_delay"`
	VerifyUnread bool          `json:"verify_unread"`
	VerifyDelay  time.Duration `json:"verify_delay"`
	Concurrency  int           `json:"concurrency"`
	StateDBPath  string        `json:"state_db_path"`
	DebugMode    bool          `json:"debug_mode"`
}

// ReportConfig holds report output settings
type ReportConfig struct {
	OutputDir string `json:"output_dir"`
}

// validate checks if the configuration is valid
func (c *TriageConfig) validate() error {
	if c.Gmail.ClientID == "" && c.Gmail.CredentialsFile == "" {
		return fmt.Errorf("either gmail client_id or credentials_file must be provided")
	}

	if c.Gmail.ClientID != "" && c.Gmail.ClientSecret == "" {
		return fmt.Errorf("gmail client_secret is required when client_id is set")
	}

	if c.Gmail.QuotaPerSecond < 0 {
		return fmt.Errorf("gmail quota_per_second must be non-negative")
	}

	if c.Gmail.RequestTimeout < 0 {
		return fmt.Errorf("gmail request_timeout must be non-negative")
	}

	if strings.TrimSpace(c.Triage.PriorityLabel) == "" {
		return fmt.Errorf("priority_label cannot be empty")
	}

	if c.Triage.MaxEmailsToAnalyze < 0 {
		return fmt.Errorf("max_emails_to_analyze must be non-negative")
	}

	if c.Triage.NotifyEmail != "" {
		if _, err := mail.ParseAddress(c.Triage.NotifyEmail); err != nil {
			return fmt.Errorf("invalid notify_email %q: %w", c.Triage.NotifyEmail, err)
		}
	}

	if c.Processing.Limit < 0 {
		return fmt.Errorf("limit must be non-negative")
	}

	if c.Processing.BatchDelay < 0 || c.Processing.VerifyDelay < 0 {
		return fmt.Errorf("batch_delay and verify_delay must be non-negative")
	}

	if c.Processing.Concurrency < 1 || c.Processing.Concurrency > maxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d", maxConcurrency)
	}

	return nil
}

// Validate exposes validation for callers that modify the config after loading
func (c *TriageConfig) Validate() error {
	return c.validate()
}

// IsOAuth2Configured returns true if client credentials are set directly
func (c *TriageConfig) IsOAuth2Configured() bool {
	return c.Gmail.ClientID != "" && c.Gmail.ClientSecret != ""
}

// NotificationEnabled reports whether a summary email should be sent.
// Dry-run mode still sends it; only labeling and marking read are skipped.
func (c *TriageConfig) NotificationEnabled() bool {
	return c.Triage.NotifyEmail != ""
}

// ToJSON serializes the configuration to JSON (for debugging)
func (c *TriageConfig) ToJSON() (string, error) {
	safe := *c
	safe.Gmail.ClientSecret = redact(safe.Gmail.ClientSecret)
	safe.Gmail.RefreshToken = redact(safe.Gmail.RefreshToken)
	safe.Gmail.AccessToken = redact(safe.Gmail.AccessToken)

	data, err := json.MarshalIndent(safe, "", "  ")
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}
