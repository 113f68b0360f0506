package database

import (
	"fmt"
	"time"
)

// 支援的資料庫
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config 定義資料庫連線與 database/sql 連線池的配置
type Config struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"` // 只有 postgres 使用

	// Path: sqlite 檔案路徑
	Path string `yaml:"path"`
	// DSNOverride: 有值時直接使用，忽略上面的欄位
	DSNOverride string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// 啟動時的連線重試
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectInterval time.Duration `yaml:"connect_interval"`

	// GORM 設定
	LogLevel string `yaml:"log_level"` // silent, error, warn, info
}

// DSN (Data Source Name) 依 Driver 產生連線字串
//
//	mysql:    user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
//	postgres: host=... port=... user=... password=... dbname=... sslmode=...
//	sqlite:   path?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on
func (c *Config) DSN() string {
	if c.DSNOverride != "" {
		return c.DSNOverride
	}
	switch c.Driver {
	case DriverPostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	case DriverSQLite:
		return SQLiteDSN(c.Path)
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// SQLiteDSN sqlite 需要 busy timeout 與 immediate 交易才能承受並發寫入
func SQLiteDSN(path string) string {
	return path + "?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on"
}

// Validate 檢查必要欄位
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMySQL, DriverPostgres:
		if c.DSNOverride == "" && (c.Host == "" || c.DBName == "") {
			return fmt.Errorf("database: %s requires host and dbname", c.Driver)
		}
	case DriverSQLite:
		if c.DSNOverride == "" && c.Path == "" {
			return fmt.Errorf("database: sqlite requires path")
		}
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Driver)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("database: negative connection limits")
	}
	return nil
}
