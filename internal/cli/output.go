package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"gmail-triage/internal/email"
)

// UseColor reports whether styled output should be written to w
func UseColor(w io.Writer, noColor bool) bool {
	if noColor || termenv.EnvNoColor() || os.Getenv("CI") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// OutputFormatter handles user-facing output
type OutputFormatter struct {
	out    io.Writer
	errOut io.Writer
	format string
	quiet  bool

	success lipgloss.Style
	failure lipgloss.Style
	info    lipgloss.Style
	warning lipgloss.Style
	header  lipgloss.Style
	box     lipgloss.Style
}

// NewOutputFormatter creates a formatter for stdout and stderr
func NewOutputFormatter(format string, quiet, noColor bool) *OutputFormatter {
	return newOutputFormatter(os.Stdout, os.Stderr, format, quiet, !UseColor(os.Stdout, noColor))
}

func newOutputFormatter(out, errOut io.Writer, format string, quiet, plain bool) *OutputFormatter {
	r := lipgloss.NewRenderer(out)
	if plain {
		r.SetColorProfile(termenv.Ascii)
	}
	if format == "" {
		format = "table"
	}

	return &OutputFormatter{
		out:     out,
		errOut:  errOut,
		format:  format,
		quiet:   quiet,
		success: r.NewStyle().Foreground(lipgloss.Color("82")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		info:    r.NewStyle().Foreground(lipgloss.Color("39")),
		warning: r.NewStyle().Foreground(lipgloss.Color("214")),
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("45")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2),
	}
}

// PrintSuccess prints a success message
func (f *OutputFormatter) PrintSuccess(message string) {
	if !f.quiet {
		fmt.Fprintln(f.out, f.success.Render("✓ "+message))
	}
}

// PrintError prints an error message
func (f *OutputFormatter) PrintError(err error) {
	fmt.Fprintln(f.errOut, f.failure.Render(fmt.Sprintf("✗ Error: %v", err)))
}

// PrintInfo prints an informational message
func (f *OutputFormatter) PrintInfo(message string) {
	if !f.quiet {
		fmt.Fprintln(f.out, f.info.Render("ℹ "+message))
	}
}

// PrintWarning prints a warning
func (f *OutputFormatter) PrintWarning(message string) {
	fmt.Fprintln(f.errOut, f.warning.Render("⚠ "+message))
}

// PrintHeader prints a section heading
func (f *OutputFormatter) PrintHeader(message string) {
	if !f.quiet {
		fmt.Fprintln(f.out, f.header.Render(message))
	}
}

// RunSummary is the end-of-run overview
type RunSummary struct {
	DryRun         bool
	TotalUnread    int
	Analyzed       int
	Priority       int
	Other          int
	Skipped        int
	Labeled        int
	LabelFailures  int
	MarkedRead     int
	FailedBatches  int
	Verified       bool
	ResidualUnread int64
	ReportPath     string
	Duration       time.Duration
}

// PrintSummary prints the run summary inside a box
func (f *OutputFormatter) PrintSummary(s RunSummary) {
	if f.quiet {
		return
	}

	mode := "LIVE"
	if s.DryRun {
		mode = "DRY RUN (no changes made)"
	}

	lines := []string{
		f.header.Render("Gmail Triage Summary"),
		"",
		fmt.Sprintf("Mode:              %s", mode),
		fmt.Sprintf("Total unread:      %d", s.TotalUnread),
		fmt.Sprintf("Analyzed:          %d", s.Analyzed),
		fmt.Sprintf("High priority:     %d", s.Priority),
		fmt.Sprintf("Other:             %d", s.Other),
	}
	if s.Skipped > 0 {
		lines = append(lines, fmt.Sprintf("Skipped:           %d", s.Skipped))
	}
	if !s.DryRun {
		lines = append(lines,
			fmt.Sprintf("Labeled:           %d", s.Labeled),
			fmt.Sprintf("Marked read:       %d", s.MarkedRead))
		if s.LabelFailures > 0 {
			lines = append(lines, fmt.Sprintf("Label failures:    %d", s.LabelFailures))
		}
		if s.FailedBatches > 0 {
			lines = append(lines, fmt.Sprintf("Failed batches:    %d", s.FailedBatches))
		}
		if s.Verified {
			lines = append(lines, fmt.Sprintf("Still unread:      %d", s.ResidualUnread))
		}
	}
	if s.ReportPath != "" {
		lines = append(lines, fmt.Sprintf("Report:            %s", s.ReportPath))
	}
	lines = append(lines, fmt.Sprintf("Duration:          %s", s.Duration.Round(time.Millisecond)))

	fmt.Fprintln(f.out, f.box.Render(strings.Join(lines, "\n")))
}

// PrintRuns prints ledger history
func (f *OutputFormatter) PrintRuns(runs []email.RunRecord) error {
	if f.quiet {
		for _, run := range runs {
			fmt.Fprintf(f.out, "%d\n", run.ID)
		}
		return nil
	}

	switch f.format {
	case "json":
		return json.NewEncoder(f.out).Encode(runs)
	case "table":
		return f.printRunsTable(runs)
	default:
		return fmt.Errorf("unsupported format: %s", f.format)
	}
}

// PrintStats prints aggregate ledger statistics
func (f *OutputFormatter) PrintStats(stats *email.LedgerStats) error {
	if f.quiet {
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(f.out).Encode(stats)
	}

	fmt.Fprintf(f.out, "Total runs: %d (%d failed)\n", stats.TotalRuns, stats.FailedRuns)
	fmt.Fprintf(f.out, "Messages marked read: %d\n", stats.MessagesRead)
	fmt.Fprintf(f.out, "Priority messages found: %d\n", stats.PriorityFound)
	if !stats.LastRun.IsZero() {
		fmt.Fprintf(f.out, "Last run: %s\n", stats.LastRun.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (f *OutputFormatter) printRunsTable(runs []email.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(f.out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tSTARTED\tMODE\tUNREAD\tPRIORITY\tREAD\tSTATUS")

	for _, run := range runs {
		mode := "live"
		if run.DryRun {
			mode = "dry-run"
		}
		status := run.Status
		if run.ErrorMessage != "" {
			status += ": " + truncate(run.ErrorMessage, 40)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			mode,
			run.TotalUnread,
			run.Priority,
			run.MarkedRead,
			status)
	}

	return nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len([]rune(s)) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
