package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示注册用户。
//
// 注册时按邮箱 upsert；Password 在用户通过一次性设置链接设定密码之前为空。
type User struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`   // 用户 ID (uuid)
	Email      string    `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一，小写）
	Name       string    `gorm:"type:varchar(100)"`             // 显示名
	FirstName  string    `gorm:"type:varchar(100)"`
	LastName   string    `gorm:"type:varchar(100)"`
	Password   string    `json:"-"`                         // bcrypt 哈希，未设置时为空
	SetupNonce string    `gorm:"type:varchar(64)" json:"-"` // 一次性密码设置令牌的 nonce，使用后清空
	Bio        string    `gorm:"type:text"`
	Phone      string    `gorm:"type:varchar(32)"`
	Location   string    `gorm:"type:varchar(100)"`
	Avatar     string    `gorm:"type:varchar(500)"`
	CreatedAt  time.Time `gorm:"index"` // 创建时间（统计按此分桶）
	UpdatedAt  time.Time

	Progress []Progress `gorm:"foreignKey:UserID"`
}

// BeforeCreate 为新用户分配 uuid。
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasPassword 用户是否已设置密码。
func (u *User) HasPassword() bool {
	return u.Password != ""
}

// Profile 是返回给客户端的用户资料（不含密码等敏感字段）。
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar"`
	Bio       string `json:"bio"`
	Phone     string `json:"phone"`
	Location  string `json:"location"`
}

// Profile 返回用户的公开资料。
func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Name:      u.Name,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Avatar:    u.Avatar,
		Bio:       u.Bio,
		Phone:     u.Phone,
		Location:  u.Location,
	}
}
