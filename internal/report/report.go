package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"gmail-triage/internal/email"
)

const (
	lineWidth    = 80
	previewLimit = 150

	// FilePrefix is the prefix of every report file name
	FilePrefix = "gmail_priority_report_"
)

// Data is everything a report is rendered from
type Data struct {
	GeneratedAt time.Time
	TotalUnread int
	Analyzed    int
	Skipped     int
	DryRun      bool
	Priority    []*email.MessageRecord
}

// Build renders the plain-text report. Priority messages are listed in the
// order given.
func Build(data Data) string {
	rule := strings.Repeat("=", lineWidth)
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	add("%s", rule)
	add("GMAIL PRIORITY EMAIL REPORT")
	add("Generated: %s", data.GeneratedAt.Format("2006-01-02 15:04:05"))
	add("%s", rule)
	add("")

	add("SUMMARY")
	add("%s", strings.Repeat("-", lineWidth))
	add("Total unread emails: %d", data.TotalUnread)
	add("Emails analyzed: %d", data.Analyzed)
	add("Priority emails found: %d", len(data.Priority))
	if data.Skipped > 0 {
		add("Skipped (could not be fetched): %d", data.Skipped)
	}
	if data.DryRun {
		add("DRY RUN - No emails will be marked as read")
	} else {
		add("All emails will be marked as READ")
	}
	add("")

	add("%s", rule)
	if len(data.Priority) == 0 {
		add("No high priority emails found.")
		add("%s", rule)
		add("")
		return strings.Join(lines, "\n")
	}

	add("🔴 HIGH PRIORITY EMAILS (Action Required)")
	add("%s", rule)
	add("")

	for i, rec := range data.Priority {
		add("%d. [%d points] %s", i+1, rec.PriorityScore, rec.Subject)
		add("   From: %s", rec.Sender)
		add("   Date: %s", rec.Date)
		if len(rec.PriorityReasons) > 0 {
			add("   Why important: %s", strings.Join(rec.PriorityReasons, ", "))
		}
		if len(rec.AttachmentNames) > 0 {
			add("   Attachments: %s", strings.Join(rec.AttachmentNames, ", "))
		}
		add("   Preview: %s...", Preview(rec.Snippet))
		add("")
	}

	return strings.Join(lines, "\n")
}

// Preview returns at most the first 150 characters of a snippet
func Preview(snippet string) string {
	if utf8.RuneCountInString(snippet) <= previewLimit {
		return snippet
	}
	return string([]rune(snippet)[:previewLimit])
}

// FileName returns the report file name for a generation time
func FileName(now time.Time) string {
	return FilePrefix + now.Format("20060102_150405") + ".txt"
}

// Write saves the report into dir and returns the file path
func Write(dir string, now time.Time, text string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(dir, FileName(now))
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
