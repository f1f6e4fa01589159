package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建默认的结构化日志记录器。
//
// 参数:
//
//	level: 日志级别字符串 (debug / info / warn / error)，无法识别时按 info 处理
//
// 返回值:
//
//	*slog.Logger: 输出到 stderr 的文本格式 Logger
func NewDefault(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
