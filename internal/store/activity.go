package store

import (
	"context"
	"fmt"

	"housingworkshop/internal/model"
)

// CreateFeedback 追加一条反馈。
func (s *Store) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// CountFeedback 返回反馈总数。
func (s *Store) CountFeedback(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Feedback{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}

// LatestFeedback 返回最新的 limit 条反馈（新的在前），并带出提交用户。
func (s *Store) LatestFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	var items []model.Feedback
	err := s.db.WithContext(ctx).
		Preload("User").
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("latest feedback: %w", err)
	}
	return items, nil
}

// CreateEvent 追加一条埋点事件。
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// CreateEvents 批量追加事件。
func (s *Store) CreateEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&events).Error; err != nil {
		return fmt.Errorf("create events: %w", err)
	}
	return nil
}

// CountEvents 返回事件总数。
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Event{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountEventsByType 按类型统计事件数。
func (s *Store) CountEventsByType(ctx context.Context, t model.EventType) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Event{}).Where("type = ?", t).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s events: %w", t, err)
	}
	return n, nil
}
