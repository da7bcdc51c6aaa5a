package db

import (
	"fmt"
	"log"
	"strings"

	"hongcang/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 根据连接串选择驱动并建立数据库连接
// 支持 SQLAlchemy 风格的 sqlite:/// 路径和 postgres:// / postgresql:// URL，
// 也接受 pgx 的 key=value 形式；logger 为 nil 时退回默认日志器
func Open(dbURL string, logger *log.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = log.Default()
	}

	dialector, isSQLite, err := dialectorFor(dbURL)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if isSQLite {
		// SQLite 只保留单个连接，避免并发写触发 SQLITE_BUSY
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Println("Database connection established")
	return gdb, nil
}

// Migrate 确保表结构存在，可重复执行
func Migrate(gdb *gorm.DB, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if err := gdb.AutoMigrate(
		&models.Post{},
		&models.Comment{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Println("Database migration completed")
	return nil
}

// dialectorFor 解析连接串，返回对应的 gorm 驱动
func dialectorFor(dbURL string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		return sqlite.Open(sqlitePath(dbURL)), true, nil
	case strings.HasPrefix(dbURL, "postgres://"),
		strings.HasPrefix(dbURL, "postgresql://"),
		strings.Contains(dbURL, "host="):
		return postgres.Open(dbURL), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported database URL: %q", dbURL)
	}
}

// sqlitePath 从 sqlite:// 连接串中取出文件路径
// sqlite:///rel.db 为相对路径，sqlite:////abs/p.db 为绝对路径，sqlite:// 为内存库
func sqlitePath(dbURL string) string {
	rest := strings.TrimPrefix(dbURL, "sqlite://")
	path := strings.TrimPrefix(rest, "/")
	if rest == "" {
		path = ":memory:"
	} else if strings.HasPrefix(rest, "//") {
		// sqlite:////abs/p.db 保留根斜杠
		path = rest[1:]
	}
	if !strings.Contains(path, "?") {
		// 打开外键约束，写忙时等待而不是立即报错
		path += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	}
	return path
}
