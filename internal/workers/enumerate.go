package workers

import (
	"context"
	"fmt"

	"gmail-triage/internal/email"
)

// EnumerateUnread collects every unread message id, following page tokens
// until the provider stops returning one. Ids are returned in page order,
// then in order within each page. Any page failure is fatal.
func EnumerateUnread(ctx context.Context, mailbox email.Mailbox) ([]string, error) {
	ids := []string{}
	pageToken := ""
	seen := make(map[string]bool)

	for {
		page, err := mailbox.ListUnread(ctx, pageToken)
		if err != nil {
			return nil, Fatal("enumerate unread", fmt.Errorf("page %d: %w", len(seen)+1, err))
		}

		ids = append(ids, page.IDs...)

		if page.NextPageToken == "" {
			return ids, nil
		}
		if seen[page.NextPageToken] {
			return nil, Fatal("enumerate unread", fmt.Errorf("page token %q repeated", page.NextPageToken))
		}
		seen[page.NextPageToken] = true
		pageToken = page.NextPageToken
	}
}
