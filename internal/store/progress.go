package store

import (
	"context"
	"fmt"

	"housingworkshop/internal/model"

	"gorm.io/gorm/clause"
)

// MarkComplete 标记用户完成某个模块，返回该用户已完成的模块数。
//
// 以 (user_id, module_slug) 唯一键做 upsert：首次插入，重复调用只刷新 completed_at。
func (s *Store) MarkComplete(ctx context.Context, userID, moduleSlug string) (int64, error) {
	p := model.Progress{
		UserID:      userID,
		ModuleSlug:  moduleSlug,
		CompletedAt: s.now(),
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "module_slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed_at"}),
	}).Create(&p).Error
	if err != nil {
		return 0, fmt.Errorf("mark complete: %w", err)
	}

	var n int64
	if err := db.Model(&model.Progress{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count progress: %w", err)
	}
	return n, nil
}

// ListCompleted 返回用户已完成的模块标识。
func (s *Store) ListCompleted(ctx context.Context, userID string) ([]string, error) {
	slugs := []string{}
	err := s.db.WithContext(ctx).Model(&model.Progress{}).
		Where("user_id = ?", userID).
		Order("module_slug").
		Pluck("module_slug", &slugs).Error
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return slugs, nil
}

// GetProgress 查询单条完成记录。
func (s *Store) GetProgress(ctx context.Context, userID, moduleSlug string) (*model.Progress, error) {
	var p model.Progress
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND module_slug = ?", userID, moduleSlug).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
