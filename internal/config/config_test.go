package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *TriageConfig {
	return &TriageConfig{
		Gmail: GmailConfig{
			ClientID:       "client-id",
			ClientSecret:   "client-secret-value",
			RefreshToken:   "refresh-token-value",
			RequestTimeout: 30 * time.Second,
		},
		Triage: TriageRules{
			ImportantSenders:   DefaultImportantSenders,
			ImportantKeywords:  DefaultImportantKeywords,
			PriorityLabel:      DefaultPriorityLabel,
			MaxEmailsToAnalyze: DefaultMaxEmailsToAnalyze,
		},
		Processing: ProcessingConfig{
			BatchDelay:  300 * time.Millisecond,
			VerifyDelay: 2 * time.Second,
			Concurrency: 1,
		},
	}
}

func TestTriageConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *TriageConfig)
		wantErr string
	}{
		{"valid", func(c *TriageConfig) {}, ""},
		{"credentials file only", func(c *TriageConfig) {
			c.Gmail.ClientID, c.Gmail.ClientSecret = "", ""
			c.Gmail.CredentialsFile = "credentials.json"
		}, ""},
		{"no auth source", func(c *TriageConfig) {
			c.Gmail.ClientID, c.Gmail.ClientSecret = "", ""
		}, "credentials_file"},
		{"missing secret", func(c *TriageConfig) { c.Gmail.ClientSecret = "" }, "client_secret"},
		{"empty label", func(c *TriageConfig) { c.Triage.PriorityLabel = "  " }, "priority_label"},
		{"negative cap", func(c *TriageConfig) { c.Triage.MaxEmailsToAnalyze = -1 }, "max_emails_to_analyze"},
		{"negative limit", func(c *TriageConfig) { c.Processing.Limit = -5 }, "limit"},
		{"negative delay", func(c *TriageConfig) { c.Processing.BatchDelay = -time.Second }, "delay"},
		{"too much concurrency", func(c *TriageConfig) { c.Processing.Concurrency = 100 }, "concurrency"},
		{"bad notify address", func(c *TriageConfig) { c.Triage.NotifyEmail = "nobody" }, "notify_email"},
		{"good notify address", func(c *TriageConfig) { c.Triage.NotifyEmail = "Me <me@example.com>" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got none", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTriageConfig_IsOAuth2Configured(t *testing.T) {
	c := validConfig()
	if !c.IsOAuth2Configured() {
		t.Error("Expected client id and secret to count as configured")
	}

	c.Gmail.ClientSecret = ""
	if c.IsOAuth2Configured() {
		t.Error("Expected missing secret to fall back to the credentials file")
	}

	c.Gmail.ClientID = ""
	c.Gmail.CredentialsFile = "./credentials.json"
	if c.IsOAuth2Configured() {
		t.Error("Expected credentials file alone not to count as direct credentials")
	}
}

func TestTriageConfig_NotificationEnabled(t *testing.T) {
	c := validConfig()
	if c.NotificationEnabled() {
		t.Error("Expected notification disabled without notify_email")
	}

	c.Triage.NotifyEmail = "me@example.com"
	if !c.NotificationEnabled() {
		t.Error("Expected notification enabled")
	}

	c.Processing.DryRun = true
	if !c.NotificationEnabled() {
		t.Error("Expected notification to stay enabled in dry-run mode")
	}
}

func TestTriageConfig_ToJSONRedactsSecrets(t *testing.T) {
	c := validConfig()
	out, err := c.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	if strings.Contains(out, "client-secret-value") || strings.Contains(out, "refresh-token-value") {
		t.Errorf("Expected secrets to be redacted, got %s", out)
	}
	if !strings.Contains(out, "clie***alue") {
		t.Errorf("Expected partially redacted secret, got %s", out)
	}
	if c.Gmail.ClientSecret != "client-secret-value" {
		t.Error("ToJSON must not modify the original config")
	}
}

func TestRedact(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"short":            "***",
		"a-much-longer-id": "a-mu***r-id",
	}
	for in, want := range tests {
		if got := redact(in); got != want {
			t.Errorf("redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseStringSlice(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"a", []string{"a"}},
		{" a , b ,, c ", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		got := parseStringSlice(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseStringSlice(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseStringSlice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# comment",
		"",
		"TRIAGE_TEST_PLAIN=plain",
		"TRIAGE_TEST_QUOTED=\"quoted value\"",
		"TRIAGE_TEST_SINGLE='single'",
		"export TRIAGE_TEST_EXPORTED=yes",
		"TRIAGE_TEST_PRESET=from-file",
		"not a pair",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"TRIAGE_TEST_PLAIN", "TRIAGE_TEST_QUOTED", "TRIAGE_TEST_SINGLE", "TRIAGE_TEST_EXPORTED"} {
		os.Unsetenv(k)
		defer os.Unsetenv(k)
	}
	t.Setenv("TRIAGE_TEST_PRESET", "from-env")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}

	expected := map[string]string{
		"TRIAGE_TEST_PLAIN":    "plain",
		"TRIAGE_TEST_QUOTED":   "quoted value",
		"TRIAGE_TEST_SINGLE":   "single",
		"TRIAGE_TEST_EXPORTED": "yes",
		"TRIAGE_TEST_PRESET":   "from-env",
	}
	for k, want := range expected {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Missing env file should not be an error, got %v", err)
	}
}

func TestValidateConfigFilePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"config.yaml", false},
		{"./config/triage.toml", false},
		{"/etc/gmail-triage/config.yaml", false},
		{"", true},
		{"../secrets.env", true},
		{"config/../../x.yaml", true},
	}
	for _, tt := range tests {
		err := ValidateConfigFilePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateConfigFilePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestIsEnvFile(t *testing.T) {
	tests := map[string]bool{
		".env":            true,
		".env.production": true,
		"settings.env":    true,
		"envfile":         true,
		"config.yaml":     false,
		"dir/triage.toml": false,
	}
	for path, want := range tests {
		if got := IsEnvFile(path); got != want {
			t.Errorf("IsEnvFile(%q) = %v, want %v", path, got, want)
		}
	}
}
