package email

import (
	"context"
	"errors"
	"time"
)

// System label ids used by the triage run
const (
	LabelUnread    = "UNREAD"
	LabelImportant = "IMPORTANT"
)

// ErrMessageNotFound is returned when a message id no longer resolves
var ErrMessageNotFound = errors.New("gmail message not found")

// Mailbox defines the mailbox operations the triage pipeline depends on
type Mailbox interface {
	// ListUnread returns one page of unread message ids
	ListUnread(ctx context.Context, pageToken string) (*UnreadPage, error)

	// GetMessage retrieves the full payload of a message
	GetMessage(ctx context.Context, id string) (*RawMessage, error)

	// ListLabels returns every label visible to the account
	ListLabels(ctx context.Context) ([]Label, error)

	// CreateLabel creates a user label with default visibility
	CreateLabel(ctx context.Context, name string) (*Label, error)

	// AddLabel attaches a label to a single message
	AddLabel(ctx context.Context, messageID, labelID string) error

	// BulkRemoveUnread clears the unread marker on up to MaxBatchSize messages
	BulkRemoveUnread(ctx context.Context, ids []string) error

	// SendMessage sends an RFC 5322 message from the authenticated account
	SendMessage(ctx context.Context, raw []byte) error

	// CountUnread returns the provider's estimate of remaining unread messages
	CountUnread(ctx context.Context) (int64, error)

	// Profile returns the authenticated account address
	Profile(ctx context.Context) (string, error)
}

// MaxBatchSize is the largest id set accepted by a single bulk modify call
const MaxBatchSize = 1000

// UnreadPage is one page of an unread listing
type UnreadPage struct {
	IDs                []string `json:"ids"`
	NextPageToken      string   `json:"next_page_token,omitempty"`
	ResultSizeEstimate int64    `json:"result_size_estimate"`
}

// RawMessage is a provider message payload decoupled from the API client types
type RawMessage struct {
	ID       string       `json:"id"`
	ThreadID string       `json:"thread_id"`
	Snippet  string       `json:"snippet"`
	LabelIDs []string     `json:"label_ids,omitempty"`
	Payload  *MessagePart `json:"payload,omitempty"`
}

// MessagePart is a node of the MIME tree as returned by the provider
type MessagePart struct {
	MimeType string         `json:"mime_type"`
	Filename string         `json:"filename,omitempty"`
	Headers  []Header       `json:"headers,omitempty"`
	Body     PartBody       `json:"body"`
	Parts    []*MessagePart `json:"parts,omitempty"`
}

// Header is a single name/value header pair
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody holds base64url encoded part data
type PartBody struct {
	Data         string `json:"data,omitempty"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// Label is a mailbox label
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageRecord is the analyzed view of one unread message
type MessageRecord struct {
	ID              string   `json:"id"`
	Subject         string   `json:"subject"`
	Sender          string   `json:"sender"`
	Date            string   `json:"date"`
	Snippet         string   `json:"snippet"`
	BodyExcerpt     string   `json:"body_excerpt"`
	HasAttachments  bool     `json:"has_attachments"`
	AttachmentNames []string `json:"attachment_names,omitempty"`
	LabelIDs        []string `json:"label_ids,omitempty"`

	// Set by the scorer
	PriorityScore   int      `json:"priority_score"`
	PriorityReasons []string `json:"priority_reasons,omitempty"`
}

// HasLabel reports whether the record carries the given label id
func (r *MessageRecord) HasLabel(id string) bool {
	for _, l := range r.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}

// RunRecord is the persisted summary of one triage run
type RunRecord struct {
	ID             int64     `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DryRun         bool      `json:"dry_run"`
	TotalUnread    int       `json:"total_unread"`
	Analyzed       int       `json:"analyzed"`
	Priority       int       `json:"priority"`
	Other          int       `json:"other"`
	Skipped        int       `json:"skipped"`
	Labeled        int       `json:"labeled"`
	LabelFailures  int       `json:"label_failures"`
	MarkedRead     int       `json:"marked_read"`
	FailedBatches  int       `json:"failed_batches"`
	ResidualUnread int64     `json:"residual_unread"`
	ReportPath     string    `json:"report_path,omitempty"`
	Status         string    `json:"status"` // "completed", "failed"
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// LedgerStats aggregates the run ledger
type LedgerStats struct {
	TotalRuns     int       `json:"total_runs"`
	FailedRuns    int       `json:"failed_runs"`
	MessagesRead  int       `json:"messages_read"`
	PriorityFound int       `json:"priority_found"`
	LastRun       time.Time `json:"last_run"`
}
