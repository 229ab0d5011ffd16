package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"housingworkshop/internal/model"

	"gorm.io/gorm"
)

// SignupInput 是注册时写入用户表的字段。
type SignupInput struct {
	Email      string
	Name       string
	FirstName  string
	LastName   string
	SetupNonce string
}

// UpsertUser 按邮箱创建或更新用户，返回用户以及是否为新建。
//
// 已存在的用户只更新姓名，SetupNonce 非空时一并替换；已设置的密码保持不变。
// 并发注册同一邮箱时唯一索引冲突会重试一次，走更新分支。
func (s *Store) UpsertUser(ctx context.Context, in SignupInput) (*model.User, bool, error) {
	user, created, err := s.upsertUser(ctx, in)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		user, created, err = s.upsertUser(ctx, in)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}
	return user, created, nil
}

func (s *Store) upsertUser(ctx context.Context, in SignupInput) (*model.User, bool, error) {
	var user model.User
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", in.Email).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = model.User{
				Email:      in.Email,
				Name:       in.Name,
				FirstName:  in.FirstName,
				LastName:   in.LastName,
				SetupNonce: in.SetupNonce,
			}
			created = true
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		fields := map[string]any{
			"name":       in.Name,
			"first_name": in.FirstName,
			"last_name":  in.LastName,
		}
		if in.SetupNonce != "" {
			fields["setup_nonce"] = in.SetupNonce
		}
		return tx.Model(&user).Updates(fields).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &user, created, nil
}

// CreateUser 直接插入用户（演示数据）。
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser 按 ID 查询用户。
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetUserByEmail 按邮箱查询用户。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FirstUser 返回最早创建的用户。
func (s *Store) FirstUser(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Order("created_at asc").First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// UpdateProfile 只更新 fields 中给出的列，返回更新后的用户。
func (s *Store) UpdateProfile(ctx context.Context, id string, fields map[string]any) (*model.User, error) {
	if len(fields) > 0 {
		res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return nil, fmt.Errorf("update profile: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

// SetPassword 保存新的密码哈希。
func (s *Store) SetPassword(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("password", hash)
	if res.Error != nil {
		return fmt.Errorf("set password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeSetupNonce 在 nonce 匹配时设置密码并清空 nonce，返回是否生效。
// 条件更新保证同一个设置令牌只能使用一次。
func (s *Store) ConsumeSetupNonce(ctx context.Context, id, nonce, hash string) (bool, error) {
	if nonce == "" {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND setup_nonce = ?", id, nonce).
		Updates(map[string]any{"password": hash, "setup_nonce": ""})
	if res.Error != nil {
		return false, fmt.Errorf("consume setup nonce: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountUsers 返回用户总数。
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CountUsersCreatedBetween 统计创建时间落在 [from, to) 的用户数。
func (s *Store) CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count users between: %w", err)
	}
	return n, nil
}

// ExportRow 是用户导出的一行。
type ExportRow struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// EachUser 按创建时间倒序逐行回调，不一次性加载全部用户。
func (s *Store) EachUser(ctx context.Context, fn func(ExportRow) error) error {
	rows, err := s.db.WithContext(ctx).Model(&model.User{}).
		Select("id", "name", "email", "created_at").
		Order("created_at desc").
		Rows()
	if err != nil {
		return fmt.Errorf("export users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row ExportRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Email, &row.CreatedAt); err != nil {
			return fmt.Errorf("scan user row: %w", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate users: %w", err)
	}
	return nil
}
