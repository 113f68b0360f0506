// Package grpc 對外提供 gRPC 健康檢查，反映資料庫連線池的狀態
package grpc

import (
	"context"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName 健康檢查回報的服務名稱
const ServiceName = "ledger.Ledger"

// HealthChecker 例如連線池的 Ping
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checker  HealthChecker
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	serving bool
}

// NewServer 建立 gRPC server 並註冊 health 與 reflection
//
// 參數:
//
//	checker: 每次檢查呼叫的 Ping
//	interval: Watch 的檢查間隔，<= 0 時為 5 秒
//	log: 日誌
func NewServer(checker HealthChecker, interval time.Duration, log zerolog.Logger) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &Server{
		health:   health.NewServer(),
		checker:  checker,
		interval: interval,
		log:      log,
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverInterceptor, s.logInterceptor))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve 阻塞直到 listener 關閉或 Stop
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	return s.grpc.Serve(lis)
}

// Refresh 立即 Ping 一次並更新健康狀態
func (s *Server) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	err := s.checker.Ping(ctx)

	s.mu.Lock()
	changed := s.serving != (err == nil)
	s.serving = err == nil
	s.mu.Unlock()

	if err != nil {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		if changed {
			s.log.Warn().Err(err).Msg("store unreachable, reporting NOT_SERVING")
		}
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	if changed {
		s.log.Info().Msg("store reachable, reporting SERVING")
	}
}

// Watch 週期性 Refresh，直到 ctx 結束
func (s *Server) Watch(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// GracefulStop 先回報 NOT_SERVING 讓負載平衡器摘除，再等待進行中的請求
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug().
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("latency", time.Since(start)).
		Msg("grpc request")
	return resp, err
}

func (s *Server) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("method", info.FullMethod).Msg("grpc handler panic")
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
