// Command miner connects to a node and mines blocks paying a given
// public key, per the mining control loop in package miner.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/internal/metrics"
	"github.com/djkazic/gopow/internal/miner"
)

func main() {
	address := flag.String("address", "", "node host:port to connect to")
	pubkeyFile := flag.String("public-key-file", "", "PEM public key to mine rewards to")
	metricsAddr := flag.String("metrics-addr", ":9101", "host:port to serve /metrics on")
	flag.Parse()

	if *address == "" || *pubkeyFile == "" {
		fmt.Fprintln(os.Stderr, "miner: -address and -public-key-file are required")
		flag.Usage()
		os.Exit(1)
	}

	pub, err := keys.LoadPublicKeyPEM(*pubkeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "miner: load public key: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "miner: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	conn, err := miner.DialNode(*address)
	if err != nil {
		logger.Error("dial node", zap.String("address", *address), zap.Error(err))
		os.Exit(1)
	}

	m := miner.New(conn, pub, logger)

	httpSrv := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", *metricsAddr))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := m.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	if runErr != nil && ctx.Err() == nil {
		logger.Error("mining control loop exited", zap.Error(runErr))
		os.Exit(1)
	}
}
