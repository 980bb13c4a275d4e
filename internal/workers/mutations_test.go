package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gmail-triage/internal/email"
)

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		sizes []int
	}{
		{"Empty", 0, []int{}},
		{"Single partial batch", 1, []int{1}},
		{"Exactly one batch", 1000, []int{1000}},
		{"One over", 1001, []int{1000, 1}},
		{"Twenty five hundred", 2500, []int{1000, 1000, 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := makeIDs(tt.n)
			batches := Batches(ids, email.MaxBatchSize)

			sizes := []int{}
			var joined []string
			for _, b := range batches {
				sizes = append(sizes, len(b))
				joined = append(joined, b...)
			}
			assert.Equal(t, tt.sizes, sizes)
			if tt.n > 0 {
				assert.Equal(t, ids, joined)
			}
		})
	}
}

func bulkCallSizes(m *MockMailbox) []int {
	sizes := []int{}
	for _, call := range m.Calls {
		if call.Method == "BulkRemoveUnread" {
			sizes = append(sizes, len(call.Arguments.Get(1).([]string)))
		}
	}
	return sizes
}

func TestMarkAllRead_BatchesAndPauses(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("BulkRemoveUnread", mock.Anything, mock.Anything).Return(nil)
	mailbox.On("CountUnread", mock.Anything).Return(int64(0), nil)

	processor, delays := newTestProcessor(mailbox, &ProcessorConfig{
		BatchDelay:   300 * time.Millisecond,
		VerifyUnread: true,
		VerifyDelay:  2 * time.Second,
	})

	var progress []int
	processor.SetProgress(func(stage Stage, done, total int) {
		assert.Equal(t, StageMarkRead, stage)
		assert.Equal(t, 2500, total)
		progress = append(progress, done)
	})

	result, err := processor.MarkAllRead(context.Background(), makeIDs(2500))
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1000, 500}, bulkCallSizes(mailbox))
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 2500, result.MarkedRead)
	assert.Empty(t, result.FailedBatches)
	assert.True(t, result.Verified)
	assert.Equal(t, int64(0), result.ResidualUnread)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond, 2 * time.Second}, *delays)
	assert.Equal(t, []int{1000, 2000, 2500}, progress)
}

func TestMarkAllRead_ContinuesAfterBatchFailure(t *testing.T) {
	mailbox := &MockMailbox{}
	batchErr := errors.New("backend error")
	mailbox.On("BulkRemoveUnread", mock.Anything, mock.MatchedBy(func(ids []string) bool {
		return len(ids) > 0 && ids[0] == "id-1000"
	})).Return(batchErr)
	mailbox.On("BulkRemoveUnread", mock.Anything, mock.Anything).Return(nil)
	mailbox.On("CountUnread", mock.Anything).Return(int64(1000), nil)

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{VerifyUnread: true})

	result, err := processor.MarkAllRead(context.Background(), makeIDs(2500))
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1000, 500}, bulkCallSizes(mailbox))
	assert.Equal(t, 1500, result.MarkedRead)
	require.Len(t, result.FailedBatches, 1)
	assert.Equal(t, 1, result.FailedBatches[0].Index)
	assert.Equal(t, 1000, result.FailedBatches[0].Size)
	assert.ErrorIs(t, result.FailedBatches[0].Err, batchErr)
	assert.False(t, IsFatal(result.FailedBatches[0].Err))

	assert.True(t, result.Verified)
	assert.Equal(t, int64(1000), result.ResidualUnread)
}

func TestMarkAllRead_VerifyFailureIsAdvisory(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("BulkRemoveUnread", mock.Anything, mock.Anything).Return(nil)
	mailbox.On("CountUnread", mock.Anything).Return(int64(0), errors.New("quota"))

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{VerifyUnread: true})

	result, err := processor.MarkAllRead(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MarkedRead)
	assert.False(t, result.Verified)
}

func TestMarkAllRead_NoVerification(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("BulkRemoveUnread", mock.Anything, mock.Anything).Return(nil)

	processor, delays := newTestProcessor(mailbox, &ProcessorConfig{})

	result, err := processor.MarkAllRead(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedRead)
	assert.Empty(t, *delays)
	mailbox.AssertNotCalled(t, "CountUnread", mock.Anything)
}

func TestMarkAllRead_EmptyInput(t *testing.T) {
	mailbox := &MockMailbox{}
	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{VerifyUnread: true})

	result, err := processor.MarkAllRead(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "no unread messages", result.SkipReason)
	mailbox.AssertNotCalled(t, "BulkRemoveUnread", mock.Anything, mock.Anything)
}

func TestMarkAllRead_CancelledBetweenBatches(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("BulkRemoveUnread", mock.Anything, mock.Anything).Return(nil)

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	processor.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := processor.MarkAllRead(ctx, makeIDs(1500))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1000, result.MarkedRead)
	assert.Equal(t, []int{1000}, bulkCallSizes(mailbox))
}

func TestEnsureLabel_LookupOrCreate(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("ListLabels", mock.Anything).Return([]email.Label{
		{ID: "INBOX", Name: "INBOX"},
		{ID: "Label_9", Name: "priority_inbox"},
	}, nil)
	mailbox.On("CreateLabel", mock.Anything, "PRIORITY_INBOX").
		Return(&email.Label{ID: "Label_42", Name: "PRIORITY_INBOX"}, nil).Once()

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{})
	ctx := context.Background()

	first, err := processor.EnsureLabel(ctx, "PRIORITY_INBOX")
	require.NoError(t, err)
	second, err := processor.EnsureLabel(ctx, "PRIORITY_INBOX")
	require.NoError(t, err)

	assert.Equal(t, "Label_42", first)
	assert.Equal(t, first, second)
	mailbox.AssertNumberOfCalls(t, "CreateLabel", 1)
	mailbox.AssertNumberOfCalls(t, "ListLabels", 1)
}

func TestEnsureLabel_ExistingLabel(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("ListLabels", mock.Anything).Return([]email.Label{
		{ID: "Label_7", Name: "PRIORITY_INBOX"},
	}, nil)

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{})

	id, err := processor.EnsureLabel(context.Background(), "PRIORITY_INBOX")
	require.NoError(t, err)
	assert.Equal(t, "Label_7", id)
	mailbox.AssertNotCalled(t, "CreateLabel", mock.Anything, mock.Anything)
}

func TestEnsureLabel_CreateFailureIsSkippable(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("ListLabels", mock.Anything).Return([]email.Label{}, nil)
	mailbox.On("CreateLabel", mock.Anything, "VIP").Return(nil, errors.New("forbidden"))

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{})

	_, err := processor.EnsureLabel(context.Background(), "VIP")
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func priorityState(ids ...string) *RunState {
	state := &RunState{AllUnreadIDs: ids}
	for _, id := range ids {
		state.PriorityMessages = append(state.PriorityMessages, &email.MessageRecord{ID: id, PriorityScore: 1})
	}
	return state
}

func TestLabelPriority_CollectsFailures(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("ListLabels", mock.Anything).Return([]email.Label{{ID: "Label_1", Name: "PRIORITY_INBOX"}}, nil)
	mailbox.On("AddLabel", mock.Anything, "p2", "Label_1").Return(errors.New("message deleted"))
	mailbox.On("AddLabel", mock.Anything, mock.Anything, "Label_1").Return(nil)

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{PriorityLabel: "PRIORITY_INBOX"})

	result, err := processor.LabelPriority(context.Background(), priorityState("p1", "p2", "p3"))
	require.NoError(t, err)

	assert.Equal(t, "Label_1", result.LabelID)
	assert.Equal(t, 2, result.Labeled)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "p2", result.Failures[0].ID)
	mailbox.AssertCalled(t, "AddLabel", mock.Anything, "p3", "Label_1")
}

func TestLabelPriority_ResolveFailure(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("ListLabels", mock.Anything).Return(nil, errors.New("unavailable"))

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{PriorityLabel: "PRIORITY_INBOX"})

	result, err := processor.LabelPriority(context.Background(), priorityState("p1"))
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 0, result.Labeled)
	mailbox.AssertNotCalled(t, "AddLabel", mock.Anything, mock.Anything, mock.Anything)
}

func TestLabelPriority_Skips(t *testing.T) {
	tests := []struct {
		name   string
		config ProcessorConfig
		state  *RunState
		reason string
	}{
		{"No priority messages", ProcessorConfig{}, &RunState{}, "no priority messages"},
		{"No label flag", ProcessorConfig{NoLabel: true}, priorityState("p1"), "labeling disabled"},
		{"Dry run", ProcessorConfig{DryRun: true}, priorityState("p1"), "dry run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailbox := &MockMailbox{}
			config := tt.config
			processor, _ := newTestProcessor(mailbox, &config)

			result, err := processor.LabelPriority(context.Background(), tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, result.SkipReason)
			mailbox.AssertNotCalled(t, "ListLabels", mock.Anything)
		})
	}
}

func TestSendSummary(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("SendMessage", mock.Anything, []byte("raw")).Return(nil).Once()
	mailbox.On("SendMessage", mock.Anything, []byte("bad")).Return(errors.New("rejected")).Once()

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{})

	require.NoError(t, processor.SendSummary(context.Background(), []byte("raw")))

	err := processor.SendSummary(context.Background(), []byte("bad"))
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestSendSummary_DryRunStillSends(t *testing.T) {
	mailbox := &MockMailbox{}
	mailbox.On("SendMessage", mock.Anything, []byte("raw")).Return(nil).Once()

	processor, _ := newTestProcessor(mailbox, &ProcessorConfig{DryRun: true})

	require.NoError(t, processor.SendSummary(context.Background(), []byte("raw")))
	mailbox.AssertExpectations(t)
}
