// Command node runs the chain dispatcher: it accepts miner/wallet
// connections, persists admitted blocks, periodically cleans up the
// mempool, and serves Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/metrics"
	"github.com/djkazic/gopow/internal/node"
	"github.com/djkazic/gopow/internal/storage"
)

const (
	mempoolCleanupInterval = 60 * time.Second
	uptimeReportInterval   = 5 * time.Second
)

func main() {
	listen := flag.String("listen", ":9000", "host:port to accept miner/wallet connections on")
	dataDir := flag.String("data-dir", "./data", "directory holding the chain database")
	metricsAddr := flag.String("metrics-addr", ":9100", "host:port to serve /metrics on")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("create data dir", zap.Error(err))
		os.Exit(1)
	}

	store, err := storage.Open(filepath.Join(*dataDir, "chain.db"), logger)
	if err != nil {
		logger.Error("open storage", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	bc := chain.New()
	if snap, err := store.LoadSnapshot(); err != nil {
		logger.Error("load snapshot", zap.Error(err))
		os.Exit(1)
	} else if len(snap.Blocks) > 0 {
		bc.LoadSnapshot(snap)
		logger.Info("restored chain state", zap.Int("height", bc.Height()))
	}
	metrics.ChainHeight.Set(float64(bc.Height()))
	metrics.MempoolSize.Set(float64(bc.MempoolSize()))
	metrics.UTXOSetSize.Set(float64(bc.UTXOSetSize()))
	metrics.DifficultyTarget.Set(float64(bc.Target().Big().BitLen()))

	n := node.New(bc, logger)
	n.OnBlockAdmitted(func(height int, block chain.Block) {
		if err := store.SaveBlock(height, block); err != nil {
			logger.Error("persist admitted block", zap.Int("height", height), zap.Error(err))
			return
		}
		if err := store.SaveSnapshot(n.Snapshot()); err != nil {
			logger.Error("persist snapshot", zap.Error(err))
		}
	})

	srv, err := node.Listen(*listen, n, logger)
	if err != nil {
		logger.Error("listen", zap.String("address", *listen), zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()
	logger.Info("accepting connections", zap.Stringer("addr", srv.Addr()))

	httpSrv := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", *metricsAddr))

	ticker := time.NewTicker(mempoolCleanupInterval)
	defer ticker.Stop()

	uptimeTicker := time.NewTicker(uptimeReportInterval)
	defer uptimeTicker.Stop()
	startedAt := time.Now()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			n.CleanupMempool()
		case <-uptimeTicker.C:
			metrics.UptimeSeconds.Set(time.Since(startedAt).Seconds())
		}
	}

	logger.Info("shutting down")
	srv.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	finalSnapshot := n.Snapshot()
	if err := store.SaveSnapshot(finalSnapshot); err != nil {
		logger.Error("save snapshot on shutdown", zap.Error(err))
	}
	for i, block := range finalSnapshot.Blocks {
		if err := store.SaveBlock(i, block); err != nil {
			logger.Error("save block on shutdown", zap.Int("height", i), zap.Error(err))
		}
	}
}
