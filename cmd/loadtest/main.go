package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	grpc_adapter "github.com/JoeShih716/go-clients-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-clients-ledger/pkg/grpc"
)

type result struct {
	applied   atomic.Int64
	rejected  atomic.Int64
	conflicts atomic.Int64
	busy      atomic.Int64
	failed    atomic.Int64
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type reconcileResp struct {
	OK           bool   `json:"ok"`
	TotalBalance string `json:"total_balance"`
}

func main() {
	baseURL := flag.String("http", "http://localhost:8080", "ledger http address")
	grpcAddr := flag.String("grpc", "localhost:50051", "ledger grpc address, used for readiness")
	total := flag.Int("n", 10000, "number of transfers")
	concurrency := flag.Int("c", 100, "concurrent requests")
	accounts := flag.Int("accounts", 20, "number of accounts")
	seed := flag.String("seed", "1000", "initial deposit per account")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *accounts < 2 {
		log.Fatal().Int("accounts", *accounts).Msg("need at least two accounts")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// 1. 等待服務就緒
	conns := grpc.NewPool()
	defer conns.Close()
	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	err := conns.WaitServing(readyCtx, *grpcAddr, grpc_adapter.ServiceName)
	readyCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("ledger not ready")
	}

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	// 2. 開戶並存入初始金額
	run := uuid.NewString()[:8]
	ids := make([]string, *accounts)
	for i := range ids {
		ids[i] = fmt.Sprintf("load-%s-%03d", run, i)
		resp, err := client.R().SetContext(ctx).
			SetBody(map[string]string{"id": ids[i], "owner": "loadtest"}).
			Post("/accounts")
		if err != nil || resp.StatusCode() != http.StatusCreated {
			log.Fatal().Err(err).Str("account", ids[i]).Str("body", bodyOf(resp)).Msg("open account")
		}
		resp, err = client.R().SetContext(ctx).
			SetBody(map[string]string{"transaction_id": uuid.NewString(), "account_id": ids[i], "amount": *seed}).
			Post("/transactions/deposit")
		if err != nil || resp.StatusCode() != http.StatusOK {
			log.Fatal().Err(err).Str("account", ids[i]).Str("body", bodyOf(resp)).Msg("seed deposit")
		}
	}
	expected := decimal.RequireFromString(*seed).Mul(decimal.NewFromInt(int64(*accounts)))

	before, err := totalBalance(ctx, client)
	if err != nil {
		log.Fatal().Err(err).Msg("read total before")
	}

	// 3. 併發轉帳
	var (
		wg  sync.WaitGroup
		res result
	)
	sem := make(chan struct{}, *concurrency)
	start := time.Now()

	for i := 0; i < *total; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			from := rand.IntN(len(ids))
			to := (from + 1 + rand.IntN(len(ids)-1)) % len(ids)
			amount := decimal.NewFromInt(int64(1 + rand.IntN(50)))

			var apiErr apiError
			resp, err := client.R().SetContext(ctx).
				SetBody(map[string]string{
					"transaction_id": uuid.NewString(),
					"from_account":   ids[from],
					"to_account":     ids[to],
					"amount":         amount.String(),
				}).
				SetError(&apiErr).
				Post("/transactions/transfer")
			if err != nil {
				res.failed.Add(1)
				if idx%1000 == 0 {
					log.Warn().Err(err).Int("idx", idx).Msg("transfer failed")
				}
				return
			}
			switch resp.StatusCode() {
			case http.StatusOK:
				res.applied.Add(1)
			case http.StatusUnprocessableEntity:
				res.rejected.Add(1)
			case http.StatusConflict:
				res.conflicts.Add(1)
			case http.StatusServiceUnavailable:
				res.busy.Add(1)
			default:
				res.failed.Add(1)
				log.Warn().Int("status", resp.StatusCode()).Str("code", apiErr.Code).Msg("unexpected response")
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// 4. 檢查總額守恆
	after, err := totalBalance(ctx, client)
	if err != nil {
		log.Fatal().Err(err).Msg("read total after")
	}
	var rec reconcileResp
	if _, err := client.R().SetContext(ctx).SetResult(&rec).Get("/reports/reconcile"); err != nil {
		log.Fatal().Err(err).Msg("reconcile")
	}

	fmt.Printf("Completed %d transfers in %v\n", *total, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*total)/elapsed.Seconds())
	fmt.Printf("applied=%d rejected=%d conflicts=%d busy=%d failed=%d\n",
		res.applied.Load(), res.rejected.Load(), res.conflicts.Load(), res.busy.Load(), res.failed.Load())
	fmt.Printf("total before=%s after=%s seeded=%s reconcile_ok=%v\n", before, after, expected, rec.OK)

	if !before.Equal(after) || !rec.OK {
		os.Exit(1)
	}
}

func totalBalance(ctx context.Context, client *resty.Client) (decimal.Decimal, error) {
	var out struct {
		TotalBalance string `json:"total_balance"`
	}
	resp, err := client.R().SetContext(ctx).SetResult(&out).Get("/reports/total")
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.IsSuccess() {
		return decimal.Zero, fmt.Errorf("total balance: %s", resp.Status())
	}
	return decimal.NewFromString(out.TotalBalance)
}

func bodyOf(resp *resty.Response) string {
	if resp == nil {
		return ""
	}
	return resp.String()
}
