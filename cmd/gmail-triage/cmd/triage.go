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
	"time"

	"gmail-triage/internal/cli"
	"gmail-triage/internal/config"
	"gmail-triage/internal/email"
	"gmail-triage/internal/report"
	"gmail-triage/internal/workers"
)

// runLedger persists run summaries
type runLedger interface {
	RecordRun(run *email.RunRecord) (int64, error)
}

// triageRun drives one triage pass against an authenticated mailbox
type triageRun struct {
	cfg     *config.TriageConfig
	mailbox email.Mailbox
	sender  string
	ledger  runLedger
	logger  *slog.Logger
	out     *cli.OutputFormatter
	noColor bool
	now     func() time.Time
}

func newProcessorConfig(cfg *config.TriageConfig) *workers.ProcessorConfig {
	return &workers.ProcessorConfig{
		Limit:         cfg.Processing.Limit,
		MaxAnalyze:    cfg.Triage.MaxEmailsToAnalyze,
		Concurrency:   cfg.Processing.Concurrency,
		DryRun:        cfg.Processing.DryRun,
		NoLabel:       cfg.Processing.NoLabel,
		PriorityLabel: cfg.Triage.PriorityLabel,
		BatchDelay:    cfg.Processing.BatchDelay,
		VerifyUnread:  cfg.Processing.VerifyUnread,
		VerifyDelay:   cfg.Processing.VerifyDelay,
	}
}

// execute enumerates, classifies, reports and applies mutations. Only
// fatal errors are returned; everything else is reported as a warning.
func (r *triageRun) execute(ctx context.Context) error {
	cfg := r.cfg
	started := r.clock()

	processor := workers.NewTriageProcessor(
		newProcessorConfig(cfg),
		r.mailbox,
		workers.NewRules(cfg.Triage.ImportantSenders, cfg.Triage.ImportantKeywords),
		r.logger,
	)

	if cfg.Processing.DryRun {
		r.out.PrintWarning("DRY RUN: no labels will be applied and no emails will be marked read")
	}

	var ids []string
	err := cli.WithSpinner("Fetching unread emails", r.noColor, func() error {
		var err error
		ids, err = workers.EnumerateUnread(ctx, r.mailbox)
		return err
	})
	if err != nil {
		r.recordFailure(started, err)
		return err
	}

	if len(ids) == 0 {
		r.out.PrintSuccess("Your inbox is empty! Nothing to do.")
		r.record(&email.RunRecord{
			StartedAt:  started,
			FinishedAt: r.clock(),
			DryRun:     cfg.Processing.DryRun,
			Status:     email.RunStatusCompleted,
		})
		return nil
	}
	r.out.PrintInfo(fmt.Sprintf("Found %d unread emails", len(ids)))

	bars := newStageBars(r.noColor)
	processor.SetProgress(bars.update)

	state, err := processor.ClassifyIDs(ctx, ids)
	bars.finish(workers.StageAnalyze)
	if err != nil {
		r.recordFailure(started, err)
		return err
	}
	r.out.PrintInfo(fmt.Sprintf("Found %d high priority emails", len(state.PriorityMessages)))
	if len(state.Skipped) > 0 {
		r.out.PrintWarning(fmt.Sprintf("%d emails could not be fetched and were skipped", len(state.Skipped)))
	}

	text := report.Build(report.Data{
		GeneratedAt: started,
		TotalUnread: state.TotalUnread(),
		Analyzed:    state.Analyzed,
		Skipped:     len(state.Skipped),
		DryRun:      cfg.Processing.DryRun,
		Priority:    state.PriorityMessages,
	})
	reportPath, err := report.Write(cfg.Report.OutputDir, started, text)
	if err != nil {
		r.out.PrintWarning(fmt.Sprintf("Could not save report: %v", err))
	} else {
		r.out.PrintSuccess("Report saved to " + reportPath)
	}

	r.sendSummary(ctx, processor, len(state.PriorityMessages), text)

	labelResult, err := processor.LabelPriority(ctx, state)
	bars.finish(workers.StageLabel)
	switch {
	case workers.IsFatal(err):
		r.recordFailure(started, err)
		return err
	case err != nil:
		r.out.PrintWarning(fmt.Sprintf("Labeling skipped: %v", err))
	case labelResult.Labeled > 0:
		r.out.PrintSuccess(fmt.Sprintf("Labeled %d emails as %s", labelResult.Labeled, cfg.Triage.PriorityLabel))
	}
	if n := len(labelResult.Failures); n > 0 {
		r.out.PrintWarning(fmt.Sprintf("%d emails could not be labeled", n))
	}

	readResult, err := processor.MarkAllRead(ctx, state.AllUnreadIDs)
	bars.finish(workers.StageMarkRead)
	if err != nil {
		r.recordFailure(started, err)
		return err
	}
	if readResult.MarkedRead > 0 {
		r.out.PrintSuccess(fmt.Sprintf("Marked %d emails as read", readResult.MarkedRead))
	}
	for _, failed := range readResult.FailedBatches {
		r.out.PrintWarning(fmt.Sprintf("Batch %d (%d emails) was not marked read: %v", failed.Index+1, failed.Size, failed.Err))
	}
	if readResult.Verified && readResult.ResidualUnread > 0 {
		r.out.PrintWarning(fmt.Sprintf("%d emails still appear unread; Gmail may still be applying changes", readResult.ResidualUnread))
	}

	run := state.RunRecord(started, cfg.Processing.DryRun, labelResult, readResult)
	run.ReportPath = reportPath
	r.record(run)

	r.out.PrintSummary(cli.RunSummary{
		DryRun:         cfg.Processing.DryRun,
		TotalUnread:    state.TotalUnread(),
		Analyzed:       state.Analyzed,
		Priority:       len(state.PriorityMessages),
		Other:          len(state.OtherMessages),
		Skipped:        len(state.Skipped),
		Labeled:        labelResult.Labeled,
		LabelFailures:  len(labelResult.Failures),
		MarkedRead:     readResult.MarkedRead,
		FailedBatches:  len(readResult.FailedBatches),
		Verified:       readResult.Verified,
		ResidualUnread: readResult.ResidualUnread,
		ReportPath:     reportPath,
		Duration:       r.clock().Sub(started),
	})

	return nil
}

// sendSummary mails the report text to the configured recipient
func (r *triageRun) sendSummary(ctx context.Context, processor *workers.TriageProcessor, priority int, text string) {
	if !r.cfg.NotificationEnabled() {
		return
	}

	raw, err := report.ComposeSummary(r.sender, r.cfg.Triage.NotifyEmail, report.SummarySubject(priority), text, r.clock())
	if err != nil {
		r.out.PrintWarning(fmt.Sprintf("Could not compose summary email: %v", err))
		return
	}
	if err := processor.SendSummary(ctx, raw); err != nil {
		r.out.PrintWarning(fmt.Sprintf("Could not send summary email: %v", err))
		return
	}
	r.out.PrintSuccess("Summary sent to " + r.cfg.Triage.NotifyEmail)
}

func (r *triageRun) recordFailure(started time.Time, err error) {
	r.record(&email.RunRecord{
		StartedAt:    started,
		FinishedAt:   r.clock(),
		DryRun:       r.cfg.Processing.DryRun,
		Status:       email.RunStatusFailed,
		ErrorMessage: err.Error(),
	})
}

// record writes a run to the ledger. Ledger failures never fail the run.
func (r *triageRun) record(run *email.RunRecord) {
	if r.ledger == nil {
		return
	}
	if _, err := r.ledger.RecordRun(run); err != nil {
		r.logger.Warn("Failed to record run", "error", workers.Skippable("record run", "", err))
	}
}

func (r *triageRun) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// stageBars keeps one progress bar per pipeline stage
type stageBars struct {
	noColor bool
	bars    map[workers.Stage]*cli.ProgressBar
}

var stageLabels = map[workers.Stage]string{
	workers.StageAnalyze:  "Analyzing",
	workers.StageLabel:    "Labeling",
	workers.StageMarkRead: "Marking read",
}

func newStageBars(noColor bool) *stageBars {
	return &stageBars{
		noColor: noColor,
		bars:    make(map[workers.Stage]*cli.ProgressBar),
	}
}

func (b *stageBars) update(stage workers.Stage, done, total int) {
	bar, ok := b.bars[stage]
	if !ok {
		bar = cli.NewProgressBar(stageLabels[stage], b.noColor)
		b.bars[stage] = bar
	}
	bar.Update(done, total)
}

func (b *stageBars) finish(stage workers.Stage) {
	if bar, ok := b.bars[stage]; ok {
		bar.Finish()
		delete(b.bars, stage)
	}
}
