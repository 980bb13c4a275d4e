package workers

import (
	"context"
	"fmt"

	"gmail-triage/internal/email"
)

// LabelResult reports the outcome of labeling priority messages
type LabelResult struct {
	LabelID    string        `json:"label_id,omitempty"`
	Labeled    int           `json:"labeled"`
	Failures   []ItemFailure `json:"failures"`
	SkipReason string        `json:"skip_reason,omitempty"`
}

// BatchFailure records a bulk read-state batch that was not applied
type BatchFailure struct {
	Index int   `json:"index"`
	Size  int   `json:"size"`
	Err   error `json:"-"`
}

// ReadResult reports the outcome of clearing unread markers
type ReadResult struct {
	Batches       int            `json:"batches"`
	MarkedRead    int            `json:"marked_read"`
	FailedBatches []BatchFailure `json:"failed_batches"`
	SkipReason    string         `json:"skip_reason,omitempty"`

	// Verified is set when the residual unread count was read back.
	// The count is an estimate and may lag behind the batches just applied.
	Verified       bool  `json:"verified"`
	ResidualUnread int64 `json:"residual_unread"`
}

// Batches splits ids into consecutive chunks of at most size ids
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = email.MaxBatchSize
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// EnsureLabel returns the id of the named label, creating it when no label
// with exactly that name exists. Resolved ids are cached for the lifetime
// of the processor.
func (p *TriageProcessor) EnsureLabel(ctx context.Context, name string) (string, error) {
	p.labelMu.Lock()
	defer p.labelMu.Unlock()

	if id, ok := p.labelCache[name]; ok {
		return id, nil
	}

	labels, err := p.mailbox.ListLabels(ctx)
	if err != nil {
		return "", Skippable("resolve label", name, fmt.Errorf("failed to list labels: %w", err))
	}

	for _, label := range labels {
		if label.Name == name {
			p.labelCache[name] = label.ID
			return label.ID, nil
		}
	}

	created, err := p.mailbox.CreateLabel(ctx, name)
	if err != nil {
		return "", Skippable("resolve label", name, fmt.Errorf("failed to create label: %w", err))
	}

	p.logger.Info("Created label", "name", name, "label_id", created.ID)
	p.labelCache[name] = created.ID
	return created.ID, nil
}

// LabelPriority applies the priority label to every priority message.
// Individual failures are collected in the result. An error is returned
// when the label cannot be resolved (skippable) or the context ends (fatal).
func (p *TriageProcessor) LabelPriority(ctx context.Context, state *RunState) (*LabelResult, error) {
	result := &LabelResult{Failures: []ItemFailure{}}

	switch {
	case len(state.PriorityMessages) == 0:
		result.SkipReason = "no priority messages"
		return result, nil
	case p.config.DryRun:
		result.SkipReason = "dry run"
		return result, nil
	case p.config.NoLabel:
		result.SkipReason = "labeling disabled"
		return result, nil
	}

	labelID, err := p.EnsureLabel(ctx, p.config.PriorityLabel)
	if err != nil {
		p.logger.Error("Failed to resolve priority label", "label", p.config.PriorityLabel, "error", err)
		return result, err
	}
	result.LabelID = labelID

	total := len(state.PriorityMessages)
	for i, rec := range state.PriorityMessages {
		if err := ctx.Err(); err != nil {
			return result, Fatal("label priority", err)
		}

		if err := p.mailbox.AddLabel(ctx, rec.ID, labelID); err != nil {
			p.logger.Warn("Failed to label message", "message_id", rec.ID, "error", err)
			result.Failures = append(result.Failures, ItemFailure{
				ID:  rec.ID,
				Err: Skippable("add label", rec.ID, err),
			})
		} else {
			result.Labeled++
		}
		p.report(StageLabel, i+1, total)
	}

	p.logger.Info("Labeled priority messages",
		"label", p.config.PriorityLabel,
		"labeled", result.Labeled,
		"failed", len(result.Failures))

	return result, nil
}

// MarkAllRead clears the unread marker on every id in batches of
// email.MaxBatchSize, pausing between batches. A failed batch is recorded
// and the remaining batches still run; nothing is rolled back. Only
// cancellation returns an error.
func (p *TriageProcessor) MarkAllRead(ctx context.Context, ids []string) (*ReadResult, error) {
	result := &ReadResult{FailedBatches: []BatchFailure{}}

	if p.config.DryRun {
		result.SkipReason = "dry run"
		return result, nil
	}
	if len(ids) == 0 {
		result.SkipReason = "no unread messages"
		return result, nil
	}

	batches := Batches(ids, email.MaxBatchSize)
	result.Batches = len(batches)
	processed := 0

	for i, batch := range batches {
		if i > 0 {
			if err := p.sleep(ctx, p.config.BatchDelay); err != nil {
				return result, Fatal("mark read", err)
			}
		}

		if err := p.mailbox.BulkRemoveUnread(ctx, batch); err != nil {
			p.logger.Warn("Failed to mark batch as read",
				"batch", i+1,
				"batches", len(batches),
				"size", len(batch),
				"error", err)
			result.FailedBatches = append(result.FailedBatches, BatchFailure{
				Index: i,
				Size:  len(batch),
				Err:   Skippable("mark read", fmt.Sprintf("batch %d", i+1), err),
			})
		} else {
			result.MarkedRead += len(batch)
		}

		processed += len(batch)
		p.report(StageMarkRead, processed, len(ids))
	}

	p.logger.Info("Marked messages as read",
		"marked", result.MarkedRead,
		"batches", result.Batches,
		"failed_batches", len(result.FailedBatches))

	if p.config.VerifyUnread {
		p.verifyUnread(ctx, result)
	}

	return result, nil
}

// verifyUnread samples the remaining unread count. The provider applies
// modifications asynchronously so the value is advisory only.
func (p *TriageProcessor) verifyUnread(ctx context.Context, result *ReadResult) {
	if err := p.sleep(ctx, p.config.VerifyDelay); err != nil {
		return
	}

	count, err := p.mailbox.CountUnread(ctx)
	if err != nil {
		p.logger.Warn("Could not verify unread count", "error", err)
		return
	}

	result.Verified = true
	result.ResidualUnread = count
	if count > 0 {
		p.logger.Warn("Unread messages remain after marking", "residual_unread", count)
	}
}

// SendSummary sends a composed summary message. It is not a mailbox
// mutation, so dry-run mode sends it too. Failures are skippable.
func (p *TriageProcessor) SendSummary(ctx context.Context, raw []byte) error {
	if err := p.mailbox.SendMessage(ctx, raw); err != nil {
		return Skippable("send summary", "", err)
	}
	p.logger.Info("Sent summary email", "bytes", len(raw))
	return nil
}
