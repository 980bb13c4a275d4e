// Copyright 2024 Package Tracking System
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"gmail-triage/internal/cli"
	"gmail-triage/internal/config"
	"gmail-triage/internal/email"
	"gmail-triage/internal/oauth"
	"gmail-triage/internal/workers"
)

const (
	// Version information
	Version   = "1.0.0"
	BuildDate = "development"
)

var (
	configFile string
	dryRun     bool
	limit      int
	noLabel    bool
	noColor    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gmail-triage",
	Short: "Report high priority unread Gmail and clear the unread backlog",
	Long: `Gmail Triage v1.0.0

DESCRIPTION:
    Scans every unread message in a Gmail account, scores it against
    configured important senders and keywords, writes a plain-text report
    of the high priority messages, labels them, and marks all unread mail
    as read.

CONFIGURATION:
    Configuration is read from gmail-triage.yaml (or .toml/.json), a .env
    file, and environment variables prefixed with GMAIL_TRIAGE_:

        GMAIL_TRIAGE_GMAIL_CLIENT_ID              - OAuth2 client ID
        GMAIL_TRIAGE_GMAIL_CLIENT_SECRET          - OAuth2 client secret
        GMAIL_TRIAGE_GMAIL_CREDENTIALS_FILE       - Downloaded client credentials JSON
        GMAIL_TRIAGE_GMAIL_TOKEN_FILE             - Token storage file (default: ./token.json)
        GMAIL_TRIAGE_TRIAGE_IMPORTANT_SENDERS     - Comma separated sender fragments
        GMAIL_TRIAGE_TRIAGE_IMPORTANT_KEYWORDS    - Comma separated keywords
        GMAIL_TRIAGE_TRIAGE_PRIORITY_LABEL        - Label for priority mail (default: PRIORITY_INBOX)
        GMAIL_TRIAGE_TRIAGE_MAX_EMAILS_TO_ANALYZE - Analysis cap (default: 200)
        GMAIL_TRIAGE_TRIAGE_NOTIFY_EMAIL          - Send the report to this address
        GMAIL_TRIAGE_PROCESSING_STATE_DB_PATH     - SQLite run ledger (empty disables it)

    The legacy GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET and GMAIL_REFRESH_TOKEN
    variables are also honored.

EXAMPLES:
    # Preview what would happen
    gmail-triage --dry-run

    # Analyze at most 50 messages without applying the label
    gmail-triage --limit 50 --no-label

    # Use a specific configuration file
    gmail-triage --config=gmail-triage.yaml

    # Show recent runs
    gmail-triage history`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runGmailTriage,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fang.Execute(ctx, rootCmd)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is gmail-triage.yaml or .env in current directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output and animations")

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze and report without labeling or marking anything read")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "analyze at most N unread emails")
	rootCmd.Flags().BoolVar(&noLabel, "no-label", false, "do not apply the priority label")
}

// loadConfiguration loads configuration from files and environment variables
// and applies command line overrides
func loadConfiguration() (*config.TriageConfig, error) {
	var cfg *config.TriageConfig
	var err error

	switch {
	case configFile == "":
		cfg, err = config.LoadTriageConfig()
	case config.IsEnvFile(configFile):
		cfg, err = config.LoadTriageConfigWithEnvFile(configFile)
	default:
		cfg, err = config.LoadTriageConfigWithFile(configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if dryRun {
		cfg.Processing.DryRun = true
	}
	if noLabel {
		cfg.Processing.NoLabel = true
	}
	if limit != 0 {
		cfg.Processing.Limit = limit
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// newLogger creates the diagnostic logger. User facing output goes to
// stdout, so logs are written to stderr.
func newLogger(cfg *config.TriageConfig) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Processing.DebugMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// runGmailTriage is the main execution function for the triage command
func runGmailTriage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfiguration()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cfg)
	logger.Debug("Starting gmail triage",
		"version", Version,
		"build_date", BuildDate,
		"dry_run", cfg.Processing.DryRun)

	if configJSON, err := cfg.ToJSON(); err == nil {
		logger.Debug("Configuration details", "config", configJSON)
	}

	out := cli.NewOutputFormatter("table", false, noColor)

	client, err := connectGmail(ctx, cfg, logger)
	if err != nil {
		return workers.Fatal("authenticate", err)
	}

	var profile string
	err = cli.WithSpinner("Connecting to Gmail", noColor, func() error {
		var err error
		profile, err = client.Profile(ctx)
		return err
	})
	if err != nil {
		return workers.Fatal("authenticate", err)
	}
	out.PrintSuccess(fmt.Sprintf("Connected as %s", profile))

	run := &triageRun{
		cfg:     cfg,
		mailbox: client,
		sender:  profile,
		logger:  logger,
		out:     out,
		noColor: noColor,
	}

	ledger, err := openLedger(cfg.Processing.StateDBPath, logger)
	if err != nil {
		out.PrintWarning(fmt.Sprintf("Run history disabled: %v", err))
	}
	if ledger != nil {
		defer ledger.Close()
		run.ledger = ledger
	}

	return run.execute(ctx)
}

// connectGmail authorizes with OAuth2 and creates the Gmail client
func connectGmail(ctx context.Context, cfg *config.TriageConfig, logger *slog.Logger) (*email.GmailClient, error) {
	manager := oauth.NewManager(&oauth.Config{
		ClientID:        cfg.Gmail.ClientID,
		ClientSecret:    cfg.Gmail.ClientSecret,
		RefreshToken:    cfg.Gmail.RefreshToken,
		AccessToken:     cfg.Gmail.AccessToken,
		TokenFile:       cfg.Gmail.TokenFile,
		CredentialsFile: cfg.Gmail.CredentialsFile,
		CallbackAddr:    cfg.Gmail.CallbackAddr,
	}, logger, os.Stdout)

	if cfg.IsOAuth2Configured() {
		logger.Debug("Using OAuth2 client credentials from configuration")
	} else {
		logger.Debug("Using OAuth2 client credentials file", "path", cfg.Gmail.CredentialsFile)
	}

	httpClient, err := manager.HTTPClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize: %w", err)
	}

	client, err := email.NewGmailClient(ctx, &email.GmailConfig{
		UserID:         cfg.Gmail.UserID,
		RequestTimeout: cfg.Gmail.RequestTimeout,
		QuotaPerSecond: cfg.Gmail.QuotaPerSecond,
		MaxRetries:     cfg.Gmail.MaxRetries,
	}, logger, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return client, nil
}

// openLedger opens the run ledger; an empty path disables it
func openLedger(path string, logger *slog.Logger) (*email.SQLiteRunLedger, error) {
	if path == "" {
		logger.Debug("Run ledger disabled")
		return nil, nil
	}
	ledger, err := email.NewSQLiteRunLedger(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Run ledger opened", "db_path", path)
	return ledger, nil
}
