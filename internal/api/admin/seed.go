package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"housingworkshop/internal/model"
	"housingworkshop/internal/store"
)

const (
	demoEmail   = "demo@example.com"
	demoMessage = "This is a sample feedback entry for demonstration purposes. The workshop was very helpful!"
)

// SeedDemoData 为空库写入演示数据，保证首次部署的看板不是空的。
//
// 没有用户时创建一个演示用户及其反馈和事件；已有用户但没有反馈或事件时，
// 为最早的用户补齐。演示用户不设置密码，无法登录。
func (a *Aggregator) SeedDemoData(ctx context.Context) error {
	users, err := a.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	var owner *model.User
	if users == 0 {
		owner = &model.User{
			Email:     demoEmail,
			Name:      "Demo User",
			FirstName: "Demo",
			LastName:  "User",
			Bio:       "Sample user for demonstration",
		}
		if err := a.store.CreateUser(ctx, owner); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		a.logger.Info("seeded demo user", slog.String("user_id", owner.ID))
	} else {
		owner, err = a.store.FirstUser(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	feedbackCount, err := a.store.CountFeedback(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if feedbackCount == 0 {
		if err := a.store.CreateFeedback(ctx, &model.Feedback{
			UserID:  &owner.ID,
			Message: demoMessage,
			Rating:  5,
		}); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		a.logger.Info("seeded demo feedback", slog.String("user_id", owner.ID))
	}

	eventCount, err := a.store.CountEvents(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if eventCount == 0 {
		email := owner.Email
		if err := a.store.CreateEvents(ctx, []model.Event{
			{UserEmail: &email, Type: model.EventSignup, Meta: model.Meta{"source": "demo"}},
			{UserEmail: &email, Type: model.EventModuleCompleted, Meta: model.Meta{"module": "sample"}},
			{UserEmail: &email, Type: model.EventOutboundCourse, Meta: model.Meta{"course": "demo"}},
		}); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		a.logger.Info("seeded demo events", slog.String("user_id", owner.ID))
	}
	return nil
}
