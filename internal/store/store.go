package store

import (
	"context"
	"fmt"
	"log/slog"

	"lotsync/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Store 封装库存数据库的所有读写操作。
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New 基于已有的 gorm 连接创建 Store（测试也从这里进）。
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open 连接 MySQL 并执行自动迁移。
//
// 参数:
//
//	dsn: 数据库连接字符串
//	logger: 日志记录器
//
// 返回值:
//
//	*Store: 可用的 Store 实例
//	error: 连接或迁移失败返回错误
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	s := New(db, logger)
	if err := s.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return s, nil
}

// AutoMigrate 建表/补列。
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.Vehicle{},
		&model.SyncRun{},
		&model.Setting{},
		&model.User{},
		&model.Deal{},
		&model.VehicleStat{},
		&model.CompsCacheEntry{},
		&model.VinCacheEntry{},
	)
}

// DB 返回底层 gorm 连接（缓存 SQL 后端共用同一个连接）。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureAdmin 在用户表为空时创建初始管理员。
//
// password 为空时跳过（留给运维用环境变量显式设置）。
func (s *Store) EnsureAdmin(ctx context.Context, username, password string) error {
	if password == "" {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := model.User{
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	s.logger.Info("initial admin created", slog.String("username", username))
	return nil
}
