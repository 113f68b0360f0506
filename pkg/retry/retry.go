// Package retry 提供有上限的重試組合子，次數與退避參數都由呼叫端明確給定
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted 可重試的錯誤持續發生直到次數用盡
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy 重試策略
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Multiplier:     2,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Do 執行 fn，當 retriable(err) 為真時退避後重來
//
// 回傳:
//
//	T: 最後一次 fn 的結果
//	int: 實際執行次數
//	error: 非可重試錯誤原樣回傳；次數用盡時包裝 ErrExhausted 與最後一次錯誤
func Do[T any](ctx context.Context, p Policy, retriable func(error) bool, fn func(attempt int) (T, error)) (T, int, error) {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn(attempts)
		if err != nil && !retriable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxAttempts)))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil && retriable(err) {
		return res, attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
	return res, attempts, err
}
