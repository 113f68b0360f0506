// Package database 建立 GORM 連線，支援 mysql、postgres、sqlite
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
}

// NewClient 建立並回傳一個新的資料庫客戶端 (GORM)
//
// 參數:
//
//	ctx: 控制啟動時的連線重試
//	cfg: Config - 連線配置
//	log: zerolog.Logger - GORM 的 SQL 日誌也會寫到這裡
//
// 回傳值:
//
//	*Client: 封裝後的客戶端
//	error: 設定錯誤，或重試用盡仍無法連線
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{
		// 需要交易的地方都自己開，單筆寫入不需要 GORM 再包一層
		SkipDefaultTransaction: true,
		Logger:                 newLogger(cfg.LogLevel, log),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := cfg.ConnectInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	open := func() (*gorm.DB, error) {
		db, err := gorm.Open(dialector(cfg), gormConfig)
		if err != nil {
			return nil, err
		}
		rawDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := rawDB.PingContext(ctx); err != nil {
			_ = rawDB.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := backoff.Retry(ctx, open,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("driver", cfg.Driver).Dur("retry_in", next).Msg("database connect failed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", cfg.Driver, attempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Client{db: db, sqlDB: sqlDB, driver: cfg.Driver}, nil
}

func dialector(cfg Config) gorm.Dialector {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN()})
	case DriverSQLite:
		return sqlite.Open(cfg.DSN())
	default:
		return mysql.Open(cfg.DSN())
	}
}

// DB 回傳底層的 *gorm.DB 實例
func (c *Client) DB() *gorm.DB {
	return c.db
}

// SQL 回傳 *sql.DB，交給連線池使用
func (c *Client) SQL() *sql.DB {
	return c.sqlDB
}

// Driver 使用中的資料庫種類
func (c *Client) Driver() string {
	return c.driver
}

// Ping 檢查資料庫是否可連線
func (c *Client) Ping(ctx context.Context) error {
	return c.sqlDB.PingContext(ctx)
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	return c.sqlDB.Close()
}

// gormWriter 讓 GORM 的輸出走 zerolog
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug().Str("component", "gorm").Msgf(format, args...)
}

// newLogger 根據配置建立 GORM Logger
func newLogger(level string, log zerolog.Logger) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error
	}

	return logger.New(gormWriter{log: log}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
