// Package config 載入服務設定: yaml 檔 -> .env -> LEDGER_* 環境變數 -> 預設值 -> 檢查
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/out/notify"
	"github.com/JoeShih716/go-clients-ledger/pkg/database"
	"github.com/JoeShih716/go-clients-ledger/pkg/logger"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
	"github.com/JoeShih716/go-clients-ledger/pkg/retry"
)

const envPrefix = "LEDGER_"

type Config struct {
	Service   ServiceConfig      `yaml:"service"`
	Database  database.Config    `yaml:"database"`
	Pool      pool.Config        `yaml:"pool"`
	Retry     retry.Policy       `yaml:"retry"`
	Reporting ReportingConfig    `yaml:"reporting"`
	Kafka     notify.KafkaConfig `yaml:"kafka"`
	Journal   JournalConfig      `yaml:"journal"`
	Logger    logger.Config      `yaml:"logger"`
}

type ServiceConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ReportingConfig struct {
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// JournalConfig 事件發送失敗時的本地暫存
type JournalConfig struct {
	Path   string `yaml:"path"`
	Buffer int    `yaml:"buffer"`
}

// NotifyEnabled 有設定 broker 才發送事件
func (c *Config) NotifyEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// Load 讀取設定檔
//
// 參數:
//
//	path: yaml 設定檔路徑
//	envFiles: .env 檔，未指定時讀取工作目錄下的 .env，不存在則略過
//
// 回傳:
//
//	*Config: 補齊預設值並通過檢查的設定
//	error: 讀檔、解析或檢查失敗
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("HTTP_ADDR", &c.Service.HTTPAddr)
	str("GRPC_ADDR", &c.Service.GRPCAddr)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_HOST", &c.Database.Host)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.DBName)
	str("DB_PATH", &c.Database.Path)
	str("DB_DSN", &c.Database.DSNOverride)
	str("JOURNAL_PATH", &c.Journal.Path)
	str("LOG_LEVEL", &c.Logger.Level)
	if err := integer("DB_PORT", &c.Database.Port); err != nil {
		return err
	}
	if err := integer("POOL_SIZE", &c.Pool.Size); err != nil {
		return err
	}
	if err := integer("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	return nil
}

// applyDefaults 補全 yaml 沒寫的設定
func (c *Config) applyDefaults() {
	if c.Service.HTTPAddr == "" {
		c.Service.HTTPAddr = ":8080"
	}
	if c.Service.GRPCAddr == "" {
		c.Service.GRPCAddr = ":50051"
	}
	if c.Service.ShutdownTimeout == 0 {
		c.Service.ShutdownTimeout = 15 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = database.DriverSQLite
	}
	if c.Database.Driver == database.DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/ledger.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Pool.Size == 0 {
		c.Pool.Size = 20
	}
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = 5 * time.Second
	}
	if c.Pool.ValidationAttempts == 0 {
		c.Pool.ValidationAttempts = 3
	}

	d := retry.DefaultPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.MaxAttempts
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = d.InitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = d.MaxBackoff
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = d.Multiplier
	}

	if c.Reporting.CacheTTL == 0 {
		c.Reporting.CacheTTL = 5 * time.Second
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/events.jsonl"
	}
	if c.Journal.Buffer == 0 {
		c.Journal.Buffer = 1024
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
}

// Validate 檢查設定是否可用
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("config: pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Database.MaxOpenConns > 0 && c.Pool.Size > c.Database.MaxOpenConns {
		return fmt.Errorf("config: pool.size (%d) exceeds database.max_open_conns (%d)", c.Pool.Size, c.Database.MaxOpenConns)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("config: retry.max_backoff is shorter than retry.initial_backoff")
	}
	if c.Reporting.CacheEnabled && c.Reporting.CacheTTL <= 0 {
		return fmt.Errorf("config: reporting.cache_ttl must be positive")
	}
	if c.NotifyEnabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic is required when brokers are set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
