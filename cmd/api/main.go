// Standalone API server entrypoint, for deployments that only need the
// HTTP surface and not the operator CLI.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parascan/repocore/pkg/api"
	"github.com/parascan/repocore/pkg/cleantemp"
	"github.com/parascan/repocore/pkg/config"
	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/credcipher"
	"github.com/parascan/repocore/pkg/credstore"
	"github.com/parascan/repocore/pkg/gitrepo"
	"github.com/parascan/repocore/pkg/log"
	"github.com/parascan/repocore/pkg/scanprep"
)

func main() {
	logger, flush := log.New("repocore-api",
		log.WithJSONSink(os.Stderr, log.WithGlobalRedaction()))
	defer func() { _ = flush() }()
	context.SetDefaultLogger(logger)
	ctx := context.WithLogger(context.Background(), logger)

	if err := gitrepo.CmdCheck(); err != nil {
		logger.Error(err, "git preflight failed")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error(err, "invalid configuration")
		os.Exit(1)
	}
	keychain, err := credcipher.NewKeychain(cfg.MasterKeyHex)
	if err != nil {
		logger.Error(err, "invalid master key")
		os.Exit(1)
	}

	var store credstore.Store
	if cfg.HasDatabase() {
		pg, err := credstore.Open(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Error(err, "connecting to postgres")
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error(err, "ensuring schema")
			os.Exit(1)
		}
		store = pg
	}

	prep := scanprep.New(keychain, store, cfg.CloneRoot, cfg.MaxCloneWorkers)
	server := api.NewServer(ctx, prep)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go cleantemp.RunCleanupLoop(loopCtx, cleantemp.DefaultCleanupDelay)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "http server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "shutdown did not complete cleanly")
	}
	logger.Info("server stopped")
}
