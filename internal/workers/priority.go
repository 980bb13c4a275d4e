package workers

import (
	"fmt"
	"strings"

	"gmail-triage/internal/email"
)

// Fixed scoring weights
const (
	ImportantSenderPoints   = 3
	SubjectKeywordPoints    = 2
	BodyKeywordPoints       = 1
	AttachmentPoints        = 1
	ProviderImportantPoints = 2

	subjectReasonKeywords = 3
	bodyReasonKeywords    = 2
)

// ScoreResult is the outcome of scoring one message
type ScoreResult struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// IsPriority reports whether any scoring rule contributed
func (s ScoreResult) IsPriority() bool {
	return s.Score > 0
}

// Rules holds the configured importance senders and keywords.
// Matching is case-insensitive substring matching; blank entries are ignored.
type Rules struct {
	senders  []string
	keywords []string
	lowered  []string
}

// NewRules creates rules from configured sender fragments and keywords
func NewRules(senders, keywords []string) *Rules {
	r := &Rules{}
	for _, s := range senders {
		if s = strings.TrimSpace(s); s != "" {
			r.senders = append(r.senders, strings.ToLower(s))
		}
	}
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		r.keywords = append(r.keywords, k)
		r.lowered = append(r.lowered, strings.ToLower(k))
	}
	return r
}

// IsImportantSender checks a From value against the sender list
func (r *Rules) IsImportantSender(sender string) bool {
	sender = strings.ToLower(sender)
	for _, important := range r.senders {
		if strings.Contains(sender, important) {
			return true
		}
	}
	return false
}

// FindImportantKeywords returns the configured keywords found in text, in
// configured order
func (r *Rules) FindImportantKeywords(text string) []string {
	found := []string{}
	if text == "" {
		return found
	}

	text = strings.ToLower(text)
	for i, keyword := range r.lowered {
		if strings.Contains(text, keyword) {
			found = append(found, r.keywords[i])
		}
	}
	return found
}

// Score computes the priority score of a record. It does not modify rec.
func (r *Rules) Score(rec *email.MessageRecord) ScoreResult {
	result := ScoreResult{Reasons: []string{}}

	if r.IsImportantSender(rec.Sender) {
		result.Score += ImportantSenderPoints
		result.Reasons = append(result.Reasons, "Important sender")
	}

	if keywords := r.FindImportantKeywords(rec.Subject); len(keywords) > 0 {
		result.Score += len(keywords) * SubjectKeywordPoints
		result.Reasons = append(result.Reasons,
			"Subject keywords: "+strings.Join(firstN(keywords, subjectReasonKeywords), ", "))
	}

	if keywords := r.FindImportantKeywords(rec.BodyExcerpt); len(keywords) > 0 {
		result.Score += len(keywords) * BodyKeywordPoints
		result.Reasons = append(result.Reasons,
			"Body keywords: "+strings.Join(firstN(keywords, bodyReasonKeywords), ", "))
	}

	if rec.HasAttachments {
		result.Score += AttachmentPoints
		result.Reasons = append(result.Reasons, fmt.Sprintf("%d attachment(s)", len(rec.AttachmentNames)))
	}

	if rec.HasLabel(email.LabelImportant) {
		result.Score += ProviderImportantPoints
		result.Reasons = append(result.Reasons, "Provider-flagged important")
	}

	return result
}

// Apply scores rec and stores the result on it
func (r *Rules) Apply(rec *email.MessageRecord) ScoreResult {
	result := r.Score(rec)
	rec.PriorityScore = result.Score
	rec.PriorityReasons = result.Reasons
	return result
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
