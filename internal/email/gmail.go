package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"gmail-triage/internal/ratelimit"
)

const (
	unreadQuery    = "is:unread"
	listPageSize   = 500
	defaultRetries = 3
)

// GmailClient implements Mailbox for the Gmail API
type GmailClient struct {
	service *gmail.Service
	userID  string
	config  *GmailConfig
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
}

// GmailConfig holds Gmail API client settings
type GmailConfig struct {
	UserID         string
	RequestTimeout time.Duration
	QuotaPerSecond int
	MaxRetries     int
}

// NewGmailClient creates a Gmail client. Authentication is supplied through
// opts, normally option.WithHTTPClient with an OAuth2 client.
func NewGmailClient(ctx context.Context, config *GmailConfig, logger *slog.Logger, opts ...option.ClientOption) (*GmailClient, error) {
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	userID := "me"
	if config.UserID != "" {
		userID = config.UserID
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GmailClient{
		service: service,
		userID:  userID,
		config:  config,
		limiter: ratelimit.NewLimiter(config.QuotaPerSecond),
		logger:  logger,
		backoff: ratelimit.Backoff,
	}, nil
}

// ListUnread returns one page of unread message ids
func (g *GmailClient) ListUnread(ctx context.Context, pageToken string) (*UnreadPage, error) {
	var resp *gmail.ListMessagesResponse
	err := g.call(ctx, ratelimit.OpMessagesList, func(ctx context.Context) error {
		req := g.service.Users.Messages.List(g.userID).Q(unreadQuery).MaxResults(listPageSize)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		var err error
		resp, err = req.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	page := &UnreadPage{
		IDs:                make([]string, 0, len(resp.Messages)),
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}

	g.logger.Debug("Listed unread page", "count", len(page.IDs), "has_next", page.NextPageToken != "")
	return page, nil
}

// GetMessage retrieves the full content of a specific message
func (g *GmailClient) GetMessage(ctx context.Context, id string) (*RawMessage, error) {
	var msg *gmail.Message
	err := g.call(ctx, ratelimit.OpMessagesGet, func(ctx context.Context) error {
		var err error
		msg, err = g.service.Users.Messages.Get(g.userID, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	return convertMessage(msg), nil
}

// ListLabels returns every label on the account
func (g *GmailClient) ListLabels(ctx context.Context) ([]Label, error) {
	var resp *gmail.ListLabelsResponse
	err := g.call(ctx, ratelimit.OpLabelsList, func(ctx context.Context) error {
		var err error
		resp, err = g.service.Users.Labels.List(g.userID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	labels := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, Label{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// CreateLabel creates a label shown in both the label list and message list
func (g *GmailClient) CreateLabel(ctx context.Context, name string) (*Label, error) {
	var created *gmail.Label
	err := g.call(ctx, ratelimit.OpLabelsCreate, func(ctx context.Context) error {
		var err error
		created, err = g.service.Users.Labels.Create(g.userID, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create label %q: %w", name, err)
	}

	g.logger.Info("Created label", "name", name, "id", created.Id)
	return &Label{ID: created.Id, Name: created.Name}, nil
}

// AddLabel attaches a label to a message
func (g *GmailClient) AddLabel(ctx context.Context, messageID, labelID string) error {
	err := g.call(ctx, ratelimit.OpMessagesModify, func(ctx context.Context) error {
		_, err := g.service.Users.Messages.Modify(g.userID, messageID, &gmail.ModifyMessageRequest{
			AddLabelIds: []string{labelID},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to label message %s: %w", messageID, err)
	}
	return nil
}

// BulkRemoveUnread clears the unread marker on a batch of messages
func (g *GmailClient) BulkRemoveUnread(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds limit of %d", len(ids), MaxBatchSize)
	}

	err := g.call(ctx, ratelimit.OpMessagesBatchModify, func(ctx context.Context) error {
		return g.service.Users.Messages.BatchModify(g.userID, &gmail.BatchModifyMessagesRequest{
			Ids:            ids,
			RemoveLabelIds: []string{LabelUnread},
		}).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to mark %d messages read: %w", len(ids), err)
	}
	return nil
}

// SendMessage sends a raw RFC 5322 message
func (g *GmailClient) SendMessage(ctx context.Context, raw []byte) error {
	err := g.call(ctx, ratelimit.OpMessagesSend, func(ctx context.Context) error {
		_, err := g.service.Users.Messages.Send(g.userID, &gmail.Message{
			Raw: base64.URLEncoding.EncodeToString(raw),
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// CountUnread returns the provider's result-size estimate for unread messages
func (g *GmailClient) CountUnread(ctx context.Context) (int64, error) {
	var resp *gmail.ListMessagesResponse
	err := g.call(ctx, ratelimit.OpMessagesList, func(ctx context.Context) error {
		var err error
		resp, err = g.service.Users.Messages.List(g.userID).Q(unreadQuery).MaxResults(1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return resp.ResultSizeEstimate, nil
}

// Profile returns the authenticated account address
func (g *GmailClient) Profile(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := g.call(ctx, ratelimit.OpGetProfile, func(ctx context.Context) error {
		var err error
		profile, err = g.service.Users.GetProfile(g.userID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get Gmail profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// call waits for quota, applies the request timeout, and retries throttled
// or transient server errors.
func (g *GmailClient) call(ctx context.Context, op ratelimit.Operation, fn func(ctx context.Context) error) error {
	retries := g.config.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}

	for attempt := 0; ; attempt++ {
		if d := g.limiter.Delay(op); d > 0 {
			g.logger.Debug("Waiting for Gmail quota", "operation", op.String(), "delay", d)
		}
		if err := g.limiter.Wait(ctx, op); err != nil {
			return err
		}

		err := g.once(ctx, fn)
		if err == nil || !retryable(err) || attempt >= retries {
			return err
		}

		delay := g.backoff(attempt)
		g.logger.Warn("Gmail call throttled, retrying",
			"operation", op.String(),
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (g *GmailClient) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func retryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return true
	case gerr.Code >= 500:
		return true
	case gerr.Code == http.StatusForbidden:
		for _, item := range gerr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

// convertMessage maps an API message onto RawMessage
func convertMessage(msg *gmail.Message) *RawMessage {
	return &RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
		Payload:  convertPart(msg.Payload),
	}
}

func convertPart(p *gmail.MessagePart) *MessagePart {
	if p == nil {
		return nil
	}

	part := &MessagePart{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		part.Body = PartBody{
			Data:         p.Body.Data,
			Size:         p.Body.Size,
			AttachmentID: p.Body.AttachmentId,
		}
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}
