// Package grpc 管理通往其他服務的 gRPC 連線，並提供健康檢查探測
package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ErrNotServing 目標回報的狀態不是 SERVING
var ErrNotServing = errors.New("grpc target not serving")

// Pool 每個 target 只維護一條 ClientConn，可並行使用
type Pool struct {
	mu        sync.Mutex
	conns     map[string]*grpc.ClientConn
	keepalive keepalive.ClientParameters
	extra     []grpc.DialOption
}

type PoolOption func(*Pool)

// WithInterceptor 所有連線共用的 UnaryClientInterceptor
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.extra = append(p.extra, grpc.WithUnaryInterceptor(interceptor))
	}
}

// WithDialOptions 額外的連線選項，例如測試用的 ContextDialer
func WithDialOptions(opts ...grpc.DialOption) PoolOption {
	return func(p *Pool) {
		p.extra = append(p.extra, opts...)
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		conns: make(map[string]*grpc.ClientConn),
		keepalive: keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection 取得 target 的連線，已關閉的連線會重建
//
// 參數:
//
//	target: 例如 "localhost:9090"
//
// 回傳:
//
//	*grpc.ClientConn: 實際網路連線在第一次呼叫時才建立
//	error: 建立失敗
func (p *Pool) GetConnection(target string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[target]; ok {
		if conn.GetState() != connectivity.Shutdown {
			return conn, nil
		}
		delete(p.conns, target)
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(p.keepalive),
	}, p.extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", target, err)
	}
	p.conns[target] = conn
	return conn, nil
}

// CheckHealth 呼叫 grpc.health.v1 Check，狀態不是 SERVING 時回傳 ErrNotServing
func (p *Pool) CheckHealth(ctx context.Context, target, service string) error {
	conn, err := p.GetConnection(target)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", target, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s reports %s", ErrNotServing, target, resp.GetStatus())
	}
	return nil
}

// WaitServing 以指數退避重複 CheckHealth，直到 SERVING 或 ctx 結束
func (p *Pool) WaitServing(ctx context.Context, target, service string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.CheckHealth(ctx, target, service)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
	return err
}

// Close 關閉所有連線，回傳第一個錯誤
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for target, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, target)
	}
	return firstErr
}
