package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Progress 表示用户完成某个学习模块的标记。
//
// (UserID, ModuleSlug) 唯一：重复完成只刷新 CompletedAt，不会产生新记录。
type Progress struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_progress_user_module"`  // 所属用户
	ModuleSlug  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_progress_user_module"` // 模块标识（kebab-case）
	CompletedAt time.Time `gorm:"not null"`                                                        // 最近一次完成时间
}

// Feedback 表示一条用户反馈，只追加不修改。
type Feedback struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	UserID    *string   `gorm:"type:varchar(36);index"` // 匿名提交时为空
	User      *User     `gorm:"foreignKey:UserID"`
	Message   string    `gorm:"type:text;not null"`
	Rating    int       `gorm:"not null"` // 1-5
	CreatedAt time.Time `gorm:"index"`
}

// BeforeCreate 为新反馈分配 uuid。
func (f *Feedback) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// EventType 事件类型。
type EventType string

const (
	EventSignup          EventType = "signup"
	EventClickedStart    EventType = "clickedStart"
	EventOutboundCourse  EventType = "outboundCourse"
	EventModuleCompleted EventType = "module_completed"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSignup, EventClickedStart, EventOutboundCourse, EventModuleCompleted:
		return true
	}
	return false
}

// Event 表示一条埋点事件，只追加不修改。
type Event struct {
	ID        uint      `gorm:"primaryKey"`
	UserEmail *string   `gorm:"type:varchar(191);index"` // 匿名事件为空
	Type      EventType `gorm:"type:varchar(32);not null;index"`
	Meta      Meta      `gorm:"type:text"`
	CreatedAt time.Time
}

// Meta 是事件附带的自由键值，以 JSON 文本存储。
type Meta map[string]any

// Value implements driver.Valuer.
func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal event meta: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Meta) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan event meta: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}
