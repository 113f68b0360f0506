package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	grpc_adapter "github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/in/http"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/out/cache"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/out/notify"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/out/sqlstore"
	"github.com/JoeShih716/go-clients-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-clients-ledger/internal/config"
	"github.com/JoeShih716/go-clients-ledger/pkg/database"
	"github.com/JoeShih716/go-clients-ledger/pkg/journal"
	"github.com/JoeShih716/go-clients-ledger/pkg/logger"
	"github.com/JoeShih716/go-clients-ledger/pkg/metrics"
	"github.com/JoeShih716/go-clients-ledger/pkg/pool"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(*cfgPath, ".env")
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		boot.Fatal().Err(err).Msg("init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("ledger exited")
	}
	log.Info().Msg("ledger exited")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. 資料庫與 schema
	client, err := database.NewClient(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer client.Close()

	store := sqlstore.NewStore(client.DB())
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	// 3. 連線池
	connPool, err := pool.New(client.SQL(), cfg.Pool, pool.WithMetrics(m))
	if err != nil {
		return err
	}

	// 4. 查詢端，餘額快取可關閉
	engineOpts := []usecase.EngineOption{usecase.WithMetrics(m), usecase.WithLogger(log)}
	reporterOpts := []usecase.ReporterOption{usecase.WithReporterLogger(log)}
	if cfg.Reporting.CacheEnabled {
		balances, err := cache.NewBalanceCache(ctx, cfg.Reporting.CacheTTL, log)
		if err != nil {
			return err
		}
		defer balances.Close()
		engineOpts = append(engineOpts, usecase.WithBalanceCache(balances))
		reporterOpts = append(reporterOpts, usecase.WithReporterCache(balances))
	}
	reporter := usecase.NewReporter(sqlstore.NewReader(client.DB()), reporterOpts...)

	// 5. 交易事件通知，Kafka 未設定時不啟用
	var dispatcher *notify.Dispatcher
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	if cfg.NotifyEnabled() {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()

		publisher := notify.NewKafkaPublisher(cfg.Kafka)
		defer publisher.Close()

		dispatcher = notify.NewDispatcher(publisher, j,
			notify.WithBuffer(cfg.Journal.Buffer),
			notify.WithPublishTimeout(cfg.Kafka.WriteTimeout),
			notify.WithMetrics(m),
			notify.WithLogger(log),
		)
		if n, err := dispatcher.Redeliver(ctx); err != nil {
			log.Warn().Err(err).Msg("redeliver journaled events")
		} else if n > 0 {
			log.Info().Int("count", n).Msg("redelivered journaled events")
		}
		dispatcher.Start(dispatchCtx)
		defer func() {
			stopDispatch()
			<-dispatcher.Done()
		}()
		engineOpts = append(engineOpts, usecase.WithNotifier(dispatcher))
	}

	// 6. 引擎，啟動前先處理上次中斷留下的 pending 交易
	engine := usecase.NewEngine(connPool, store, cfg.Retry, engineOpts...)
	if _, err := engine.Recover(ctx); err != nil {
		return err
	}

	// 7. 對外介面
	gin.SetMode(gin.ReleaseMode)
	router := http_adapter.NewRouter(http_adapter.NewHandler(engine, reporter), connPool, reg, log)
	httpServer := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := grpc_adapter.NewServer(connPool, 5*time.Second, log)
	lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Service.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		grpcServer.Watch(gctx)
		return nil
	})

	// 8. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		if perr := connPool.Shutdown(shutdownCtx); perr != nil {
			log.Warn().Err(perr).Msg("pool shutdown")
		}
		if dispatcher != nil {
			stopDispatch()
			select {
			case <-dispatcher.Done():
			case <-shutdownCtx.Done():
				log.Warn().Msg("dispatcher did not drain before timeout")
			}
		}
		return err
	})

	return g.Wait()
}
