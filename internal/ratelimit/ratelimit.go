package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Operation is a Gmail API call with a per-user quota cost
type Operation int

const (
	OpMessagesList Operation = iota
	OpMessagesGet
	OpMessagesModify
	OpMessagesBatchModify
	OpMessagesSend
	OpLabelsList
	OpLabelsCreate
	OpGetProfile
)

// Cost returns the quota units charged for the operation.
// See https://developers.google.com/gmail/api/reference/quota
func (o Operation) Cost() int {
	switch o {
	case OpMessagesGet, OpMessagesList, OpMessagesModify, OpLabelsCreate:
		return 5
	case OpMessagesBatchModify:
		return 50
	case OpMessagesSend:
		return 100
	default:
		return 1 // labels.list, getProfile
	}
}

func (o Operation) String() string {
	switch o {
	case OpMessagesList:
		return "messages.list"
	case OpMessagesGet:
		return "messages.get"
	case OpMessagesModify:
		return "messages.modify"
	case OpMessagesBatchModify:
		return "messages.batchModify"
	case OpMessagesSend:
		return "messages.send"
	case OpLabelsList:
		return "labels.list"
	case OpLabelsCreate:
		return "labels.create"
	case OpGetProfile:
		return "getProfile"
	}
	return "unknown"
}

const (
	// DefaultQuotaPerSecond is Gmail's per-user quota unit budget
	DefaultQuotaPerSecond = 250

	// safetyFactor keeps the sustained rate below the hard quota
	safetyFactor = 0.8
)

// Limiter paces Gmail calls by quota units
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter for the given quota units per second.
// A non-positive value selects DefaultQuotaPerSecond.
func NewLimiter(quotaPerSecond int) *Limiter {
	if quotaPerSecond <= 0 {
		quotaPerSecond = DefaultQuotaPerSecond
	}
	burst := quotaPerSecond
	if burst < OpMessagesSend.Cost() {
		burst = OpMessagesSend.Cost()
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(float64(quotaPerSecond)*safetyFactor), burst),
	}
}

// Wait blocks until the operation's quota cost is available or ctx is done
func (l *Limiter) Wait(ctx context.Context, op Operation) error {
	return l.limiter.WaitN(ctx, op.Cost())
}

// Delay reports how long a caller would wait for op right now. It only
// inspects the bucket and never takes tokens from it.
func (l *Limiter) Delay(op Operation) time.Duration {
	missing := float64(op.Cost()) - l.limiter.TokensAt(time.Now())
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.limiter.Limit()) * float64(time.Second))
}

// Backoff returns the delay before retry attempt n (0-based) of a throttled call
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<attempt) * time.Second
}
