package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// WithSpinner runs fn while a spinner animates on stdout. The spinner is
// stopped and its goroutine has exited before WithSpinner returns, so no
// later output can interleave with it. Without a terminal, or with colors
// disabled, the message is printed once instead.
func WithSpinner(message string, noColor bool, fn func() error) error {
	return withSpinner(os.Stdout, message, !UseColor(os.Stdout, noColor), fn)
}

func withSpinner(out io.Writer, message string, plain bool, fn func() error) error {
	if plain {
		fmt.Fprintf(out, "%s...\n", message)
		return fn()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // Blue

	prog := tea.NewProgram(&spinnerProgram{
		spinner: s,
		message: message,
		style:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")), // Gray for message
	},
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = prog.Run()
	}()

	err := fn()

	prog.Send(completeMsg{})
	<-done
	return err
}

// spinnerProgram implements the tea.Model interface for the spinner
type spinnerProgram struct {
	spinner spinner.Model
	message string
	style   lipgloss.Style
	done    bool
}

func (s *spinnerProgram) Init() tea.Cmd {
	return s.spinner.Tick
}

func (s *spinnerProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	case completeMsg:
		s.done = true
		return s, tea.Quit
	}
	return s, nil
}

func (s *spinnerProgram) View() string {
	if s.done {
		return ""
	}
	return fmt.Sprintf("%s %s", s.spinner.View(), s.style.Render(s.message))
}

type completeMsg struct{}

// ProgressBar renders a single-line progress bar with an ETA
type ProgressBar struct {
	mu    sync.Mutex
	out   io.Writer
	label string
	bar   progress.Model
	plain bool
	start time.Time
	now   func() time.Time
	last  int
	total int
}

// NewProgressBar creates a progress bar writing to stdout
func NewProgressBar(label string, noColor bool) *ProgressBar {
	return newProgressBar(os.Stdout, label, !UseColor(os.Stdout, noColor))
}

func newProgressBar(out io.Writer, label string, plain bool) *ProgressBar {
	return &ProgressBar{
		out:   out,
		label: label,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40), progress.WithoutPercentage()),
		plain: plain,
		start: time.Now(),
		now:   time.Now,
	}
}

// Update redraws the bar for done of total items
func (p *ProgressBar) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last, p.total = done, total
	if p.plain || total <= 0 {
		return
	}

	percent := float64(done) / float64(total)
	fmt.Fprintf(p.out, "\r%s %s %3.0f%% (%d/%d) %s",
		p.label, p.bar.ViewAs(percent), percent*100, done, total,
		ETA(p.now().Sub(p.start), done, total))
}

// Finish ends the progress line
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plain {
		fmt.Fprintf(p.out, "%s %d/%d\n", p.label, p.last, p.total)
		return
	}
	fmt.Fprintln(p.out)
}

// ETA estimates the remaining time from the average time per item
func ETA(elapsed time.Duration, done, total int) string {
	if done <= 0 || done >= total {
		return "ETA: 0s"
	}
	perItem := elapsed / time.Duration(done)
	remaining := perItem * time.Duration(total-done)
	return "ETA: " + remaining.Round(time.Second).String()
}
