// Package cache 以 bigcache 實作查詢端的餘額快取
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
)

// BalanceCache 帶 TTL 的餘額快取
//
// 每筆值存成 "<version>:<balance>"；失效時不刪除，改寫成 "<version>:" 當作版本下限，
// 版本低於下限的 Set 會被忽略。下限隨 TTL 過期
type BalanceCache struct {
	cache *bigcache.BigCache
	// Set 與 Invalidate 都是先讀再寫
	mu  sync.Mutex
	log zerolog.Logger
}

// NewBalanceCache 建立快取
//
// 參數:
//
//	ctx: 結束時停止背景清理
//	ttl: 每筆資料的存活時間
func NewBalanceCache(ctx context.Context, ttl time.Duration, log zerolog.Logger) (*BalanceCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = ttl
	cfg.Verbose = false
	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &BalanceCache{cache: c, log: log}, nil
}

func (c *BalanceCache) Get(accountID string) (decimal.Decimal, bool) {
	e, ok := c.load(accountID)
	if !ok || e.balance == "" {
		return decimal.Zero, false
	}
	bal, err := decimal.NewFromString(e.balance)
	if err != nil {
		_ = c.cache.Delete(accountID)
		return decimal.Zero, false
	}
	return bal, true
}

// Set 寫入 version 時的餘額，比目前保存的版本舊就忽略
func (c *BalanceCache) Set(accountID string, balance decimal.Decimal, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.load(accountID); ok && cur.version > version {
		return
	}
	c.store(accountID, entry{version: version, balance: balance.String()})
}

// Invalidate 清掉餘額並記下 version 作為下限
func (c *BalanceCache) Invalidate(accountID string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.load(accountID); ok && cur.version > version {
		version = cur.version
	}
	c.store(accountID, entry{version: version})
}

type entry struct {
	version int64
	balance string
}

func (c *BalanceCache) load(accountID string) (entry, bool) {
	raw, err := c.cache.Get(accountID)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.log.Warn().Err(err).Str("account_id", accountID).Msg("balance cache read failed")
		}
		return entry{}, false
	}
	v, bal, found := strings.Cut(string(raw), ":")
	if !found {
		return entry{}, false
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return entry{}, false
	}
	return entry{version: version, balance: bal}, true
}

func (c *BalanceCache) store(accountID string, e entry) {
	raw := strconv.FormatInt(e.version, 10) + ":" + e.balance
	if err := c.cache.Set(accountID, []byte(raw)); err != nil {
		c.log.Warn().Err(err).Str("account_id", accountID).Msg("balance cache write failed")
	}
}

// Close 停止背景清理
func (c *BalanceCache) Close() error {
	return c.cache.Close()
}

var _ usecase.BalanceCache = (*BalanceCache)(nil)
