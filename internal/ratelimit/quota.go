package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// FeedbackCounter counts stored submissions for a source.
type FeedbackCounter interface {
	CountFeedbackSince(ctx context.Context, source string, since time.Time) (int64, error)
}

// QuotaDecision is the outcome of a monthly quota check.
type QuotaDecision struct {
	Allowed  bool
	Used     int64
	Limit    int64
	ResetsAt time.Time
}

// Quota caps submissions per source per calendar month (UTC).
type Quota struct {
	limit   int64
	counter FeedbackCounter
}

// NewQuota builds a quota; a limit <= 0 admits everything.
func NewQuota(limit int64, counter FeedbackCounter) *Quota {
	return &Quota{limit: limit, counter: counter}
}

func (quota *Quota) Check(ctx context.Context, source string, now time.Time) (QuotaDecision, error) {
	resetsAt := NextMonthStart(now)
	if quota == nil || quota.limit <= 0 || quota.counter == nil {
		return QuotaDecision{Allowed: true, ResetsAt: resetsAt}, nil
	}
	used, countErr := quota.counter.CountFeedbackSince(ctx, source, MonthStart(now))
	if countErr != nil {
		return QuotaDecision{}, fmt.Errorf("ratelimit: quota count: %w", countErr)
	}
	return QuotaDecision{
		Allowed:  used < quota.limit,
		Used:     used,
		Limit:    quota.limit,
		ResetsAt: resetsAt,
	}, nil
}

// MonthStart returns midnight UTC on the first day of the month containing moment.
func MonthStart(moment time.Time) time.Time {
	utc := moment.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func NextMonthStart(moment time.Time) time.Time {
	return MonthStart(moment).AddDate(0, 1, 0)
}
