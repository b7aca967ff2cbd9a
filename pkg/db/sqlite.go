package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"notifyhub/pkg/config"
)

// MemoryPath 内存库，测试和本地开发用
const MemoryPath = ":memory:"

// NewSQLite 打开嵌入式 SQLite（单机部署 / 测试）
func NewSQLite(cfg config.DBConfig, logger *zap.Logger) (*sqlx.DB, error) {
	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}

	logger.Info("Initializing SQLite database", zap.String("path", path))

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// 每个连接都有独立的内存库，必须只保留一个连接；文件库写操作本身也是串行的
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	logger.Info("SQLite database ready")
	return db, nil
}
