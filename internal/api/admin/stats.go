package admin

import (
	"context"
	"log/slog"
	"time"

	"housingworkshop/internal/model"
	"housingworkshop/internal/store"
)

const (
	latestFeedbackLimit = 5
	monthlyWindow       = 6
	anonymousName       = "Anonymous"
)

// Store 是统计、演示数据与导出需要的持久化操作，由 *store.Store 实现。
type Store interface {
	Ping(ctx context.Context) error
	CountUsers(ctx context.Context) (int64, error)
	CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int64, error)
	CountEventsByType(ctx context.Context, t model.EventType) (int64, error)
	LatestFeedback(ctx context.Context, limit int) ([]model.Feedback, error)
	CountFeedback(ctx context.Context) (int64, error)
	CountEvents(ctx context.Context) (int64, error)
	FirstUser(ctx context.Context) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	CreateFeedback(ctx context.Context, f *model.Feedback) error
	CreateEvents(ctx context.Context, events []model.Event) error
	EachUser(ctx context.Context, fn func(store.ExportRow) error) error
}

// FeedbackItem 是看板上的一条反馈。
type FeedbackItem struct {
	ID        string       `json:"id"`
	Message   string       `json:"message"`
	Rating    int          `json:"rating"`
	CreatedAt time.Time    `json:"createdAt"`
	User      FeedbackUser `json:"user"`
}

// FeedbackUser 只暴露提交者的显示名。
type FeedbackUser struct {
	Name string `json:"name"`
}

// MonthlyCount 是某个月（YYYY-MM）的注册数。
type MonthlyCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

// Stats 是管理员看板的统计结果。
type Stats struct {
	TotalSignups     int64          `json:"totalSignups"`
	SignupsThisMonth int64          `json:"signupsThisMonth"`
	OutboundClicks   int64          `json:"outboundClicks"`
	LatestFeedback   []FeedbackItem `json:"latestFeedback"`
	MonthlySignups   []MonthlyCount `json:"monthlySignups"`
}

// EmptyStats 返回全零但结构完整的统计，切片序列化为 []。
func EmptyStats() Stats {
	return Stats{
		LatestFeedback: []FeedbackItem{},
		MonthlySignups: []MonthlyCount{},
	}
}

// Aggregator 计算看板统计。ComputeStats 只读，演示数据由 SeedDemoData 单独写入。
type Aggregator struct {
	store  Store
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewAggregator 创建统计器。月份边界按 loc 计算，nil 时使用 UTC。
func NewAggregator(st Store, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: st, loc: loc, now: time.Now, logger: logger}
}

// WithClock replaces the time source. Intended for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// ComputeStats 汇总看板数据。任何一步查询失败都记录日志并返回 EmptyStats，不向上抛错。
func (a *Aggregator) ComputeStats(ctx context.Context) Stats {
	stats, err := a.compute(ctx)
	if err != nil {
		a.logger.Error("compute admin stats failed", slog.String("error", err.Error()))
		return EmptyStats()
	}
	return stats
}

func (a *Aggregator) compute(ctx context.Context) (Stats, error) {
	now := a.now().In(a.loc)
	stats := EmptyStats()

	var err error
	if stats.TotalSignups, err = a.store.CountUsers(ctx); err != nil {
		return Stats{}, err
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.loc)
	if stats.SignupsThisMonth, err = a.store.CountUsersCreatedBetween(ctx, monthStart, now); err != nil {
		return Stats{}, err
	}

	if stats.OutboundClicks, err = a.store.CountEventsByType(ctx, model.EventOutboundCourse); err != nil {
		return Stats{}, err
	}

	feedback, err := a.store.LatestFeedback(ctx, latestFeedbackLimit)
	if err != nil {
		return Stats{}, err
	}
	for _, f := range feedback {
		name := anonymousName
		if f.User != nil && f.User.Name != "" {
			name = f.User.Name
		}
		stats.LatestFeedback = append(stats.LatestFeedback, FeedbackItem{
			ID:        f.ID,
			Message:   f.Message,
			Rating:    f.Rating,
			CreatedAt: f.CreatedAt.UTC(),
			User:      FeedbackUser{Name: name},
		})
	}

	// 最近 6 个自然月，旧的在前，区间左闭右开
	for i := monthlyWindow - 1; i >= 0; i-- {
		from := time.Date(now.Year(), now.Month()-time.Month(i), 1, 0, 0, 0, 0, a.loc)
		to := from.AddDate(0, 1, 0)
		n, err := a.store.CountUsersCreatedBetween(ctx, from, to)
		if err != nil {
			return Stats{}, err
		}
		stats.MonthlySignups = append(stats.MonthlySignups, MonthlyCount{
			Month: from.Format("2006-01"),
			Count: n,
		})
	}
	return stats, nil
}
