package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"gmail-triage/internal/email"
)

// MockMailbox implements email.Mailbox for testing
type MockMailbox struct {
	mock.Mock
}

func (m *MockMailbox) ListUnread(ctx context.Context, pageToken string) (*email.UnreadPage, error) {
	args := m.Called(ctx, pageToken)
	page, _ := args.Get(0).(*email.UnreadPage)
	return page, args.Error(1)
}

func (m *MockMailbox) GetMessage(ctx context.Context, id string) (*email.RawMessage, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*email.RawMessage)
	return msg, args.Error(1)
}

func (m *MockMailbox) ListLabels(ctx context.Context) ([]email.Label, error) {
	args := m.Called(ctx)
	labels, _ := args.Get(0).([]email.Label)
	return labels, args.Error(1)
}

func (m *MockMailbox) CreateLabel(ctx context.Context, name string) (*email.Label, error) {
	args := m.Called(ctx, name)
	label, _ := args.Get(0).(*email.Label)
	return label, args.Error(1)
}

func (m *MockMailbox) AddLabel(ctx context.Context, messageID, labelID string) error {
	args := m.Called(ctx, messageID, labelID)
	return args.Error(0)
}

func (m *MockMailbox) BulkRemoveUnread(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockMailbox) SendMessage(ctx context.Context, raw []byte) error {
	args := m.Called(ctx, raw)
	return args.Error(0)
}

func (m *MockMailbox) CountUnread(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMailbox) Profile(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRules() *Rules {
	return NewRules(
		[]string{"boss@company.com", "@company.com"},
		[]string{"urgent", "important", "invoice", "payment", "meeting"},
	)
}

// newTestProcessor builds a processor whose pauses are recorded instead of slept
func newTestProcessor(mailbox email.Mailbox, config *ProcessorConfig) (*TriageProcessor, *[]time.Duration) {
	p := NewTriageProcessor(config, mailbox, testRules(), testLogger())
	delays := &[]time.Duration{}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return p, delays
}

func rawMessage(id, from, subject string, labels ...string) *email.RawMessage {
	return &email.RawMessage{
		ID:       id,
		Snippet:  "snippet of " + id,
		LabelIDs: append([]string{email.LabelUnread}, labels...),
		Payload: &email.MessagePart{
			MimeType: "text/plain",
			Headers: []email.Header{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: "Mon, 2 Jan 2006 15:04:05 -0700"},
			},
		},
	}
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	return ids
}
