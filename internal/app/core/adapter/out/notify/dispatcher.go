// Package notify 在交易 commit 之後對外發送事件
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JoeShih716/go-clients-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-clients-ledger/pkg/journal"
	"github.com/JoeShih716/go-clients-ledger/pkg/metrics"
)

// 發送結果，對應 metrics 的 result label
const (
	ResultPublished   = "published"
	ResultSpilled     = "spilled"
	ResultDropped     = "dropped"
	ResultRedelivered = "redelivered"
)

// Publisher 實際送出事件的一方
type Publisher interface {
	Publish(ctx context.Context, evt domain.TransactionEvent) error
}

// Dispatcher 單一 goroutine 依序發送事件
//
// Notify(不阻塞) -> Channel -> Run Loop -> Publisher
// 送不出去或 channel 滿了就寫進 journal，下次啟動時 Redeliver
type Dispatcher struct {
	publisher Publisher
	journal   *journal.Journal
	events    chan domain.TransactionEvent

	// mu 保護 stopped，Notify 持讀鎖送進 channel，關閉時持寫鎖
	mu      sync.RWMutex
	stopped bool
	done    chan struct{}

	publishTimeout time.Duration
	metrics        *metrics.Ledger
	log            zerolog.Logger
}

// Option Dispatcher 選項
type Option func(*Dispatcher)

func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.events = make(chan domain.TransactionEvent, n)
		}
	}
}

func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Ledger) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher 建立 Dispatcher，需要呼叫 Start 才會開始發送
//
// 參數:
//
//	pub: 事件發送端
//	j: 發送失敗時的暫存
func NewDispatcher(pub Publisher, j *journal.Journal, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher:      pub,
		journal:        j,
		events:         make(chan domain.TransactionEvent, 1024),
		done:           make(chan struct{}),
		publishTimeout: 5 * time.Second,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify 交給 run loop 發送，不會阻塞呼叫端
func (d *Dispatcher) Notify(evt domain.TransactionEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.spill(evt)
		return
	}
	select {
	case d.events <- evt:
	default:
		d.spill(evt)
	}
}

// Start 啟動 run loop (非同步)，ctx 結束後把 channel 內剩下的事件寫進 journal
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Done run loop 結束後關閉
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			d.drain()
			return
		case evt := <-d.events:
			d.deliver(ctx, evt)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case evt := <-d.events:
			d.spill(evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt domain.TransactionEvent) {
	pubCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	if err := d.publisher.Publish(pubCtx, evt); err != nil {
		d.log.Warn().Err(err).Str("tx_id", evt.TransactionID.String()).Msg("publish failed, spilling to journal")
		d.spill(evt)
		return
	}
	d.metrics.IncDispatched(ResultPublished)
}

func (d *Dispatcher) spill(evt domain.TransactionEvent) {
	if err := d.journal.Append(evt); err != nil {
		d.log.Error().Err(err).Str("tx_id", evt.TransactionID.String()).Msg("event dropped")
		d.metrics.IncDispatched(ResultDropped)
		return
	}
	d.metrics.IncDispatched(ResultSpilled)
}

// Redeliver 重送 journal 內的事件，仍然失敗的留在 journal
//
// 應在 Start 之前呼叫
//
// 回傳:
//
//	int: 成功重送的筆數
//	error: 讀寫 journal 失敗
func (d *Dispatcher) Redeliver(ctx context.Context) (int, error) {
	var (
		delivered int
		remaining []json.RawMessage
	)
	err := d.journal.ReadAll(func(raw json.RawMessage) error {
		var evt domain.TransactionEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			d.log.Error().Err(err).Msg("skipping malformed journal entry")
			return nil
		}
		if ctx.Err() != nil {
			remaining = append(remaining, raw)
			return nil
		}
		pubCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
		err := d.publisher.Publish(pubCtx, evt)
		cancel()
		if err != nil {
			remaining = append(remaining, raw)
			return nil
		}
		delivered++
		d.metrics.IncDispatched(ResultRedelivered)
		return nil
	})
	if err != nil {
		return delivered, err
	}
	if err := d.journal.Rewrite(remaining); err != nil {
		return delivered, err
	}
	if delivered > 0 || len(remaining) > 0 {
		d.log.Info().Int("delivered", delivered).Int("remaining", len(remaining)).Msg("journal redelivery finished")
	}
	return delivered, nil
}

var _ usecase.Notifier = (*Dispatcher)(nil)
