package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// SummarySubject is the subject line of the summary email
func SummarySubject(priority int) string {
	return fmt.Sprintf("Gmail Priority Report - %d Important Emails", priority)
}

// ComposeSummary builds a plain-text RFC 5322 message carrying the report.
// An empty from leaves the From header to the sending account.
func ComposeSummary(from, to, subject, body string, now time.Time) ([]byte, error) {
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(subject)
	h.SetAddressList("To", []*mail.Address{toAddr})
	if from != "" {
		fromAddr, err := mail.ParseAddress(from)
		if err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", from, err)
		}
		h.SetAddressList("From", []*mail.Address{fromAddr})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("MIME-Version", "1.0")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), nil
}
