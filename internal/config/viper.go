package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all triage environment variables
const EnvPrefix = "GMAIL_TRIAGE"

// LoadTriageConfigWithViper loads triage configuration using Viper
func LoadTriageConfigWithViper(v *viper.Viper) (*TriageConfig, error) {
	setTriageDefaults(v)

	setupTriageEnvBinding(v)

	if err := loadTriageConfigFile(v); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	config := &TriageConfig{}
	if err := unmarshalTriageConfig(v, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setTriageDefaults sets default values for triage configuration
func setTriageDefaults(v *viper.Viper) {
	// Gmail defaults
	v.SetDefault("gmail.token_file", "./token.json")
	v.SetDefault("gmail.credentials_file", "./credentials.json")
	v.SetDefault("gmail.callback_addr", "localhost:8090")
	v.SetDefault("gmail.user_id", "me")
	v.SetDefault("gmail.request_timeout", "30s")
	v.SetDefault("gmail.quota_per_second", 250)
	v.SetDefault("gmail.max_retries", 3)

	// Triage defaults
	v.SetDefault("triage.important_senders", DefaultImportantSenders)
	v.SetDefault("triage.important_keywords", DefaultImportantKeywords)
	v.SetDefault("triage.priority_label", DefaultPriorityLabel)
	v.SetDefault("triage.max_emails_to_analyze", DefaultMaxEmailsToAnalyze)
	v.SetDefault("triage.notify_email", "")

	// Processing defaults
	v.SetDefault("processing.dry_run", false)
	v.SetDefault("processing.no_label", false)
	v.SetDefault("processing.limit", 0)
	v.SetDefault("processing.batch_delay", "300ms")
	v.SetDefault("processing.verify_unread", true)
	v.SetDefault("processing.verify_delay", "2s")
	v.SetDefault("processing.concurrency", 1)
	v.SetDefault("processing.state_db_path", "./gmail-triage.db")
	v.SetDefault("processing.debug_mode", false)

	// Report defaults
	v.SetDefault("report.output_dir", ".")
}

// setupTriageEnvBinding binds prefixed and legacy environment variables
func setupTriageEnvBinding(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config key -> legacy variable names that predate the prefix
	legacy := map[string][]string{
		"gmail.client_id":        {"GMAIL_CLIENT_ID"},
		"gmail.client_secret":    {"GMAIL_CLIENT_SECRET"},
		"gmail.refresh_token":    {"GMAIL_REFRESH_TOKEN"},
		"gmail.access_token":     {"GMAIL_ACCESS_TOKEN"},
		"gmail.token_file":       {"GMAIL_TOKEN_FILE"},
		"gmail.credentials_file": {"GMAIL_CREDENTIALS_FILE"},
		"gmail.callback_addr":    nil,
		"gmail.user_id":          nil,
		"gmail.request_timeout":  {"GMAIL_REQUEST_TIMEOUT"},
		"gmail.quota_per_second": nil,
		"gmail.max_retries":      nil,

		"triage.important_senders":     {"IMPORTANT_SENDERS"},
		"triage.important_keywords":    {"IMPORTANT_KEYWORDS"},
		"triage.priority_label":        {"PRIORITY_LABEL"},
		"triage.max_emails_to_analyze": {"MAX_EMAILS_TO_ANALYZE"},
		"triage.notify_email":          {"YOUR_EMAIL"},

		"processing.dry_run":       {"EMAIL_DRY_RUN"},
		"processing.no_label":      nil,
		"processing.limit":         nil,
		"processing.batch_delay":   nil,
		"processing.verify_unread": nil,
		"processing.verify_delay":  nil,
		"processing.concurrency":   nil,
		"processing.state_db_path": {"EMAIL_STATE_DB_PATH"},
		"processing.debug_mode":    {"EMAIL_DEBUG_MODE"},

		"report.output_dir": nil,
	}

	for configKey, oldNames := range legacy {
		names := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(configKey, ".", "_"))}
		names = append(names, oldNames...)
		v.BindEnv(append([]string{configKey}, names...)...)
	}
}

// loadTriageConfigFile loads a configuration file if one exists
func loadTriageConfigFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.gmail-triage")

		v.SetConfigName("gmail-triage")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return err
		}
	}

	return nil
}

// unmarshalTriageConfig copies Viper values into TriageConfig
func unmarshalTriageConfig(v *viper.Viper, config *TriageConfig) error {
	var err error

	// Gmail configuration
	config.Gmail.ClientID = v.GetString("gmail.client_id")
	config.Gmail.ClientSecret = v.GetString("gmail.client_secret")
	config.Gmail.RefreshToken = v.GetString("gmail.refresh_token")
	config.Gmail.AccessToken = v.GetString("gmail.access_token")
	config.Gmail.TokenFile = v.GetString("gmail.token_file")
	config.Gmail.CredentialsFile = v.GetString("gmail.credentials_file")
	config.Gmail.CallbackAddr = v.GetString("gmail.callback_addr")
	config.Gmail.UserID = v.GetString("gmail.user_id")
	config.Gmail.QuotaPerSecond = v.GetInt("gmail.quota_per_second")
	config.Gmail.MaxRetries = v.GetInt("gmail.max_retries")

	config.Gmail.RequestTimeout, err = time.ParseDuration(v.GetString("gmail.request_timeout"))
	if err != nil {
		return fmt.Errorf("invalid gmail request timeout: %w", err)
	}

	// Triage rules
	config.Triage.ImportantSenders = stringSlice(v, "triage.important_senders")
	config.Triage.ImportantKeywords = stringSlice(v, "triage.important_keywords")
	config.Triage.PriorityLabel = v.GetString("triage.priority_label")
	config.Triage.MaxEmailsToAnalyze = v.GetInt("triage.max_emails_to_analyze")
	config.Triage.NotifyEmail = v.GetString("triage.notify_email")

	// Processing configuration
	config.Processing.DryRun = v.GetBool("processing.dry_run")
	config.Processing.NoLabel = v.GetBool("processing.no_label")
	config.Processing.Limit = v.GetInt("processing.limit")
	config.Processing.VerifyUnread = v.GetBool("processing.verify_unread")
	config.Processing.Concurrency = v.GetInt("processing.concurrency")
	config.Processing.StateDBPath = v.GetString("processing.state_db_path")
	config.Processing.DebugMode = v.GetBool("processing.debug_mode")

	config.Processing.BatchDelay, err = time.ParseDuration(v.GetString("processing.batch_delay"))
	if err != nil {
		return fmt.Errorf("invalid processing batch delay: %w", err)
	}

	config.Processing.VerifyDelay, err = time.ParseDuration(v.GetString("processing.verify_delay"))
	if err != nil {
		return fmt.Errorf("invalid processing verify delay: %w", err)
	}

	// Report configuration
	config.Report.OutputDir = v.GetString("report.output_dir")

	return nil
}

// stringSlice reads a list that may come from a config file list or a
// comma-separated environment variable
func stringSlice(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return parseStringSlice(s)
	}
	out := []string{}
	for _, item := range v.GetStringSlice(key) {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoadTriageConfig loads configuration using a fresh Viper instance
func LoadTriageConfig() (*TriageConfig, error) {
	return LoadTriageConfigWithViper(viper.New())
}

// LoadTriageConfigWithFile loads configuration from a specific YAML, TOML or JSON file
func LoadTriageConfigWithFile(configFile string) (*TriageConfig, error) {
	if err := ValidateConfigFilePath(configFile); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	return LoadTriageConfigWithViper(v)
}

// LoadTriageConfigWithEnvFile loads a .env file into the environment first
func LoadTriageConfigWithEnvFile(envFile string) (*TriageConfig, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := ValidateConfigFilePath(envFile); err != nil {
		return nil, err
	}
	if err := LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return LoadTriageConfigWithViper(viper.New())
}
