// Package ledgertest 提供以 sqlite 檔案資料庫組起來的測試環境
package ledgertest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/out/sqlstore"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-clients-ledger/pkg/database"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
	"github.com/JoeShih716/go-clients-ledger/pkg/retry"
)

// Harness 測試用的完整持久層
type Harness struct {
	Client *database.Client
	Pool   *pool.Pool
	Store  *sqlstore.Store
	Reader *sqlstore.Reader
}

// Options 測試環境參數
type Options struct {
	PoolSize       int
	AcquireTimeout time.Duration
}

// New 建立 sqlite 資料庫、跑 migration、建立連線池，測試結束時自動關閉
func New(t testing.TB, opts ...Options) *Harness {
	t.Helper()
	o := Options{PoolSize: 8, AcquireTimeout: 5 * time.Second}
	if len(opts) > 0 {
		if opts[0].PoolSize > 0 {
			o.PoolSize = opts[0].PoolSize
		}
		if opts[0].AcquireTimeout > 0 {
			o.AcquireTimeout = opts[0].AcquireTimeout
		}
	}

	client, err := database.NewClient(context.Background(), database.Config{
		Driver:          database.DriverSQLite,
		Path:            filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:    o.PoolSize + 4,
		ConnectAttempts: 1,
		LogLevel:        "silent",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := sqlstore.NewStore(client.DB())
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	p, err := pool.New(client.SQL(), pool.Config{Size: o.PoolSize, AcquireTimeout: o.AcquireTimeout})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	return &Harness{
		Client: client,
		Pool:   p,
		Store:  store,
		Reader: sqlstore.NewReader(client.DB()),
	}
}

// Policy 測試用的重試策略，退避很短
func Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    20,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2,
	}
}

// Engine 以 Harness 的連線池與持久層建立引擎
func (h *Harness) Engine(opts ...usecase.EngineOption) *usecase.Engine {
	return usecase.NewEngine(h.Pool, h.Store, Policy(), opts...)
}

// Reporter 以 Harness 的查詢端建立 Reporter
func (h *Harness) Reporter(opts ...usecase.ReporterOption) *usecase.Reporter {
	return usecase.NewReporter(h.Reader, opts...)
}

// D 把字串轉成金額，格式錯誤直接 panic
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
