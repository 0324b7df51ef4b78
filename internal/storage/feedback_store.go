package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/model"
)

const (
	// DefaultFeedbackListLimit applies when a query omits its limit.
	DefaultFeedbackListLimit = 50
	// MaxFeedbackListLimit caps a single page of results.
	MaxFeedbackListLimit = 500

	errorMessageNilDatabase = "storage: nil database"
)

// ErrNilDatabase is returned when a store is built without a connection.
var ErrNilDatabase = errors.New(errorMessageNilDatabase)

// FeedbackQuery filters ListFeedback. Zero values mean no filter.
type FeedbackQuery struct {
	Source string
	Before time.Time
	Limit  int
}

// FeedbackStore persists feedback submissions.
type FeedbackStore struct {
	database *gorm.DB
}

func NewFeedbackStore(database *gorm.DB) (*FeedbackStore, error) {
	if database == nil {
		return nil, ErrNilDatabase
	}
	return &FeedbackStore{database: database}, nil
}

func (store *FeedbackStore) CreateFeedback(ctx context.Context, feedback *model.Feedback) error {
	if createErr := store.database.WithContext(ctx).Create(feedback).Error; createErr != nil {
		return fmt.Errorf("storage: create feedback: %w", createErr)
	}
	return nil
}

// CountFeedbackSince counts a source's submissions created at or after since.
func (store *FeedbackStore) CountFeedbackSince(ctx context.Context, source string, since time.Time) (int64, error) {
	var count int64
	countErr := store.database.WithContext(ctx).
		Model(&model.Feedback{}).
		Where("source = ? AND created_at >= ?", strings.TrimSpace(source), since.UTC()).
		Count(&count).Error
	if countErr != nil {
		return 0, fmt.Errorf("storage: count feedback: %w", countErr)
	}
	return count, nil
}

// ListFeedback returns the newest submissions first.
func (store *FeedbackStore) ListFeedback(ctx context.Context, query FeedbackQuery) ([]model.Feedback, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultFeedbackListLimit
	}
	if limit > MaxFeedbackListLimit {
		limit = MaxFeedbackListLimit
	}

	statement := store.database.WithContext(ctx).Model(&model.Feedback{})
	if source := strings.TrimSpace(query.Source); source != "" {
		statement = statement.Where("source = ?", source)
	}
	if !query.Before.IsZero() {
		statement = statement.Where("created_at < ?", query.Before.UTC())
	}

	var feedbacks []model.Feedback
	if listErr := statement.Order("created_at desc").Order("id desc").Limit(limit).Find(&feedbacks).Error; listErr != nil {
		return nil, fmt.Errorf("storage: list feedback: %w", listErr)
	}
	return feedbacks, nil
}

func (store *FeedbackStore) FindFeedback(ctx context.Context, identifier string) (model.Feedback, error) {
	var feedback model.Feedback
	if findErr := store.database.WithContext(ctx).First(&feedback, "id = ?", identifier).Error; findErr != nil {
		return model.Feedback{}, fmt.Errorf("storage: find feedback: %w", findErr)
	}
	return feedback, nil
}

// ClearScreenshotsBefore drops stored screenshots of submissions older than cutoff
// and reports how many rows changed. The submissions themselves are kept.
func (store *FeedbackStore) ClearScreenshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := store.database.WithContext(ctx).
		Model(&model.Feedback{}).
		Where("created_at < ? AND screenshot <> ''", cutoff.UTC()).
		Update("screenshot", "")
	if result.Error != nil {
		return 0, fmt.Errorf("storage: clear screenshots: %w", result.Error)
	}
	return result.RowsAffected, nil
}
