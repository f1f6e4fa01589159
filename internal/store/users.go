package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lotsync/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials 表示用户名或密码不正确。
var ErrInvalidCredentials = errors.New("invalid credentials")

// VerifyUser 校验用户名密码，成功返回用户。
func (s *Store) VerifyUser(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// CreateUser 创建后台用户。
func (s *Store) CreateUser(ctx context.Context, username, password string, isAdmin bool) (*model.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(password) < 6 {
		return nil, fmt.Errorf("username required and password must be at least 6 chars")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := model.User{
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      isAdmin,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// ListUsers 返回全部用户（不含密码哈希之外的敏感信息）。
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// DeleteUser 删除用户，删除最后一个管理员会被拒绝。
func (s *Store) DeleteUser(ctx context.Context, id uint) error {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("query user: %w", err)
	}

	if user.IsAdmin {
		var adminCount int64
		if err := s.db.WithContext(ctx).Model(&model.User{}).Where("is_admin = ?", true).Count(&adminCount).Error; err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if adminCount <= 1 {
			return fmt.Errorf("cannot delete the last admin")
		}
	}

	if err := s.db.WithContext(ctx).Delete(&model.User{}, id).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ChangePassword 重置用户密码。
func (s *Store) ChangePassword(ctx context.Context, id uint, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("password must be at least 6 chars")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("password_hash", string(hash)).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
