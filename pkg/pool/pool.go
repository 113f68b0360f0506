// Package pool 在 database/sql 之上提供有上限、可逾時、會做存活檢查的連線租借
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JoeShih716/go-clients-ledger/pkg/metrics"
)

var (
	// ErrExhausted 等待空位逾時，可退避後重試
	ErrExhausted = errors.New("pool: exhausted")
	// ErrUnavailable 拿不到存活的連線
	ErrUnavailable = errors.New("pool: store unavailable")
	// ErrClosed Shutdown 之後的租借
	ErrClosed = fmt.Errorf("%w: pool is shut down", ErrUnavailable)
)

// Config 連線池設定
type Config struct {
	// Size: 同時進行中的 unit of work 上限
	Size int `yaml:"size"`
	// AcquireTimeout: 等待空位的最長時間
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// ValidationAttempts: 遇到失效連線時最多換幾次
	ValidationAttempts int `yaml:"validation_attempts"`
}

// Pool 連線池，執行緒安全
type Pool struct {
	db      *sql.DB
	cfg     Config
	slots   *semaphore.Weighted
	closed  atomic.Bool
	inUse   atomic.Int64
	metrics *metrics.Ledger
}

// Option Pool 選項
type Option func(*Pool)

// WithMetrics 記錄等待時間與逾時次數
func WithMetrics(m *metrics.Ledger) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New 建立連線池 (生命週期的 start)
//
// 參數:
//
//	db: 底層 *sql.DB，由呼叫端負責關閉
//	cfg: 連線池設定
//
// 回傳:
//
//	*Pool: 連線池
//	error: 設定錯誤
func New(db *sql.DB, cfg Config, opts ...Option) (*Pool, error) {
	if db == nil {
		return nil, errors.New("pool: nil db")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", cfg.Size)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.ValidationAttempts <= 0 {
		cfg.ValidationAttempts = 3
	}
	p := &Pool{
		db:    db,
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.Size)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Acquire 租借一條已驗證存活的連線，用完必須 Release
//
// 逾時回傳 ErrExhausted；呼叫端自己的 ctx 結束則回傳 ctx 的錯誤
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			p.metrics.ObservePoolWait(time.Since(start), false)
			return nil, ctx.Err()
		}
		p.metrics.ObservePoolWait(time.Since(start), true)
		return nil, fmt.Errorf("%w: waited %s", ErrExhausted, p.cfg.AcquireTimeout)
	}
	p.metrics.ObservePoolWait(time.Since(start), false)

	// Shutdown 可能在等待期間發生
	if p.closed.Load() {
		p.slots.Release(1)
		return nil, ErrClosed
	}

	conn, err := p.connect(waitCtx, ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}

	p.inUse.Add(1)
	p.metrics.AddInFlight(1)
	return &Conn{conn: conn, pool: p}, nil
}

// connect 取得連線並 ping，失效的連線直接丟棄換新的
func (p *Pool) connect(waitCtx, callerCtx context.Context) (*sql.Conn, error) {
	var lastErr error
	for i := 0; i < p.cfg.ValidationAttempts; i++ {
		conn, err := p.db.Conn(waitCtx)
		if err != nil {
			if callerCtx.Err() != nil {
				return nil, callerCtx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
			}
			lastErr = err
			continue
		}
		if err := conn.PingContext(waitCtx); err != nil {
			lastErr = err
			discard(conn)
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("%w: no live connection after %d attempts: %v", ErrUnavailable, p.cfg.ValidationAttempts, lastErr)
}

// discard 回傳 driver.ErrBadConn 讓 database/sql 關閉這條連線而不是放回池子
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

// Ping 供健康檢查使用，不佔用 unit of work 的名額
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// InFlight 目前被租借中的連線數
func (p *Pool) InFlight() int {
	return int(p.inUse.Load())
}

// Size 連線池上限
func (p *Pool) Size() int {
	return p.cfg.Size
}

// Shutdown 停止租借並等待所有進行中的 unit of work 歸還連線
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	if err := p.slots.Acquire(ctx, int64(p.cfg.Size)); err != nil {
		return fmt.Errorf("pool: shutdown with %d connections still in use: %w", p.InFlight(), err)
	}
	p.slots.Release(int64(p.cfg.Size))
	return nil
}

// Conn 租借出去的連線，只屬於一個 unit of work
type Conn struct {
	conn *sql.Conn
	pool *Pool
	once sync.Once
}

// SQL 底層連線
func (c *Conn) SQL() *sql.Conn {
	return c.conn
}

// Release 歸還連線，可重複呼叫
func (c *Conn) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		if c.pool != nil {
			c.pool.inUse.Add(-1)
			c.pool.metrics.AddInFlight(-1)
			c.pool.slots.Release(1)
		}
	})
}
