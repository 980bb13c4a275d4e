package email

import (
	"context"
	"fmt"
)

// BodyExcerptLimit is the number of characters kept from a message body
const BodyExcerptLimit = 500

// Extractor turns message ids into analyzed records
type Extractor struct {
	mailbox Mailbox
}

// NewExtractor creates an extractor backed by the given mailbox
func NewExtractor(mailbox Mailbox) *Extractor {
	return &Extractor{mailbox: mailbox}
}

// Extract fetches a message and builds its record
func (e *Extractor) Extract(ctx context.Context, id string) (*MessageRecord, error) {
	raw, err := e.mailbox.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return ExtractRecord(raw), nil
}

// ExtractRecord converts a raw provider message into a MessageRecord.
// Missing headers become empty strings; a message without a usable
// plain-text body gets an empty excerpt.
func ExtractRecord(msg *RawMessage) *MessageRecord {
	rec := &MessageRecord{
		ID:       msg.ID,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIDs,
	}

	payload := msg.Payload
	if payload == nil {
		return rec
	}

	rec.Subject, rec.Sender, rec.Date = scanHeaders(payload.Headers)
	rec.BodyExcerpt = truncateRunes(bodyText(payload), BodyExcerptLimit)

	for _, part := range payload.Parts {
		if part != nil && part.Filename != "" {
			rec.AttachmentNames = append(rec.AttachmentNames, part.Filename)
		}
	}
	rec.HasAttachments = len(rec.AttachmentNames) > 0

	return rec
}

func scanHeaders(headers []Header) (subject, from, date string) {
	for _, h := range headers {
		switch h.Name {
		case "Subject":
			subject = h.Value
		case "From":
			from = h.Value
		case "Date":
			date = h.Value
		}
		if subject != "" && from != "" && date != "" {
			break
		}
	}
	return subject, from, date
}

// bodyText prefers data on the payload itself and otherwise takes the first
// immediate text/plain child. Payload data that fails to decode falls through
// to the children. Nested multiparts are not descended into.
func bodyText(payload *MessagePart) string {
	if payload.Body.Data != "" {
		if text, ok := decodePart(payload); ok {
			return text
		}
	}
	for _, part := range payload.Parts {
		if part == nil || part.MimeType != "text/plain" {
			continue
		}
		text, _ := decodePart(part)
		return text
	}
	return ""
}

func decodePart(part *MessagePart) (string, bool) {
	if part.Body.Data == "" {
		return "", false
	}
	data, err := decodeBase64URL(part.Body.Data)
	if err != nil {
		return "", false
	}
	return toUTF8(data, charsetOf(part)), true
}
