package model

import "time"

// User 表示后台用户。
type User struct {
	ID           uint      `gorm:"primaryKey"`                             // 用户 ID
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null"`  // 登录名（唯一）
	PasswordHash string    `gorm:"not null"`                               // bcrypt 哈希
	IsAdmin      bool      `gorm:"default:false"`                          // 是否管理员（可管理用户与设置）
	CreatedAt    time.Time // 创建时间
}
