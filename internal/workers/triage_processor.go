package workers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gmail-triage/internal/email"
)

// Stage identifies the step reporting progress
type Stage string

const (
	StageAnalyze  Stage = "analyze"
	StageLabel    Stage = "label"
	StageMarkRead Stage = "mark_read"
)

// ProgressFunc receives progress updates. It may be called from several
// goroutines but never concurrently.
type ProgressFunc func(stage Stage, done, total int)

// ProcessorConfig holds the settings of one triage run
type ProcessorConfig struct {
	// Limit is the user supplied analysis cap; 0 means none
	Limit int `json:"limit"`
	// MaxAnalyze is the configured default cap; 0 means none
	MaxAnalyze  int  `json:"max_analyze"`
	Concurrency int  `json:"concurrency"`
	DryRun      bool `json:"dry_run"`
	NoLabel     bool `json:"no_label"`

	PriorityLabel string        `json:"priority_label"`
	BatchDelay    time.Duration `json:"batch_delay"`
	VerifyUnread  bool          `json:"verify_unread"`
	VerifyDelay   time.Duration `json:"verify_delay"`
}

// RunState is the result of classifying one mailbox
type RunState struct {
	AllUnreadIDs     []string               `json:"all_unread_ids"`
	Analyzed         int                    `json:"analyzed"`
	PriorityMessages []*email.MessageRecord `json:"priority_messages"`
	OtherMessages    []*email.MessageRecord `json:"other_messages"`
	Skipped          []ItemFailure          `json:"skipped"`
}

// TotalUnread returns the number of unread ids found by enumeration
func (s *RunState) TotalUnread() int {
	return len(s.AllUnreadIDs)
}

// TriageProcessor classifies unread mail and applies the resulting mutations
type TriageProcessor struct {
	config    *ProcessorConfig
	mailbox   email.Mailbox
	extractor *email.Extractor
	rules     *Rules
	logger    *slog.Logger
	progress  ProgressFunc

	labelMu    sync.Mutex
	labelCache map[string]string

	// sleep waits between mutation batches; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTriageProcessor creates a new triage processor
func NewTriageProcessor(
	config *ProcessorConfig,
	mailbox email.Mailbox,
	rules *Rules,
	logger *slog.Logger,
) *TriageProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageProcessor{
		config:     config,
		mailbox:    mailbox,
		extractor:  email.NewExtractor(mailbox),
		rules:      rules,
		logger:     logger,
		labelCache: make(map[string]string),
		sleep:      sleepContext,
	}
}

// SetProgress installs a progress callback
func (p *TriageProcessor) SetProgress(fn ProgressFunc) {
	p.progress = fn
}

// AnalysisLimit returns how many of total ids are analyzed given an optional
// user limit and an optional configured cap. Non-positive values do not
// constrain.
func AnalysisLimit(total, userLimit, configCap int) int {
	limit := total
	if userLimit > 0 && userLimit < limit {
		limit = userLimit
	}
	if configCap > 0 && configCap < limit {
		limit = configCap
	}
	return limit
}

// Classify enumerates unread mail, extracts and scores the analysis prefix
// and partitions it into priority and other messages. Priority messages are
// sorted by descending score, ties keeping encounter order. Only enumeration
// failure or cancellation return an error.
func (p *TriageProcessor) Classify(ctx context.Context) (*RunState, error) {
	ids, err := EnumerateUnread(ctx, p.mailbox)
	if err != nil {
		return nil, err
	}
	return p.ClassifyIDs(ctx, ids)
}

// ClassifyIDs classifies an already enumerated list of unread ids
func (p *TriageProcessor) ClassifyIDs(ctx context.Context, ids []string) (*RunState, error) {
	start := time.Now()

	if ids == nil {
		ids = []string{}
	}

	state := &RunState{
		AllUnreadIDs:     ids,
		PriorityMessages: []*email.MessageRecord{},
		OtherMessages:    []*email.MessageRecord{},
		Skipped:          []ItemFailure{},
	}

	candidates := ids[:AnalysisLimit(len(ids), p.config.Limit, p.config.MaxAnalyze)]
	state.Analyzed = len(candidates)

	p.logger.Info("Starting triage classification",
		"total_unread", len(ids),
		"analyzing", len(candidates),
		"concurrency", p.concurrency())

	records, failures := p.extractAll(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return nil, Fatal("classify", err)
	}

	for i, rec := range records {
		if rec == nil {
			state.Skipped = append(state.Skipped, failures[i])
			continue
		}

		if result := p.rules.Apply(rec); result.IsPriority() {
			state.PriorityMessages = append(state.PriorityMessages, rec)
		} else {
			state.OtherMessages = append(state.OtherMessages, rec)
		}
	}

	sort.SliceStable(state.PriorityMessages, func(i, j int) bool {
		return state.PriorityMessages[i].PriorityScore > state.PriorityMessages[j].PriorityScore
	})

	p.logger.Info("Triage classification completed",
		"priority", len(state.PriorityMessages),
		"other", len(state.OtherMessages),
		"skipped", len(state.Skipped),
		"duration", time.Since(start))

	return state, nil
}

// extractAll fetches records for ids. The result slices are index aligned
// with ids; a nil record means the fetch failed and the matching failure is
// set.
func (p *TriageProcessor) extractAll(ctx context.Context, ids []string) ([]*email.MessageRecord, []ItemFailure) {
	records := make([]*email.MessageRecord, len(ids))
	failures := make([]ItemFailure, len(ids))

	var mu sync.Mutex
	done := 0
	fetch := func(ctx context.Context, i int) {
		rec, err := p.extractor.Extract(ctx, ids[i])
		if err != nil {
			p.logSkipped(ids[i], err)
			failures[i] = ItemFailure{ID: ids[i], Err: Skippable("fetch message", ids[i], err)}
		} else {
			records[i] = rec
		}

		mu.Lock()
		done++
		p.report(StageAnalyze, done, len(ids))
		mu.Unlock()
	}

	if p.concurrency() <= 1 {
		for i := range ids {
			if ctx.Err() != nil {
				break
			}
			fetch(ctx, i)
		}
		return records, failures
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())
	for i := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			fetch(gctx, i)
			return nil
		})
	}
	_ = g.Wait()

	return records, failures
}

func (p *TriageProcessor) logSkipped(id string, err error) {
	if errors.Is(err, email.ErrMessageNotFound) {
		p.logger.Debug("Message disappeared before it could be fetched", "message_id", id)
		return
	}
	p.logger.Warn("Failed to fetch message details, skipping", "message_id", id, "error", err)
}

func (p *TriageProcessor) concurrency() int {
	if p.config.Concurrency < 1 {
		return 1
	}
	return p.config.Concurrency
}

func (p *TriageProcessor) report(stage Stage, done, total int) {
	if p.progress != nil {
		p.progress(stage, done, total)
	}
}

// RunRecord summarizes a finished run for the ledger
func (s *RunState) RunRecord(started time.Time, dryRun bool, label *LabelResult, read *ReadResult) *email.RunRecord {
	record := &email.RunRecord{
		StartedAt:   started,
		FinishedAt:  time.Now(),
		DryRun:      dryRun,
		TotalUnread: s.TotalUnread(),
		Analyzed:    s.Analyzed,
		Priority:    len(s.PriorityMessages),
		Other:       len(s.OtherMessages),
		Skipped:     len(s.Skipped),
		Status:      email.RunStatusCompleted,
	}
	if label != nil {
		record.Labeled = label.Labeled
		record.LabelFailures = len(label.Failures)
	}
	if read != nil {
		record.MarkedRead = read.MarkedRead
		record.FailedBatches = len(read.FailedBatches)
		record.ResidualUnread = read.ResidualUnread
	}
	return record
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
