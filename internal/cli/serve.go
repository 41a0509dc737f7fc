package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xxxbrian/surge-qx/internal/cache"
	"github.com/xxxbrian/surge-qx/internal/converter"
	"github.com/xxxbrian/surge-qx/internal/fetcher"
	"github.com/xxxbrian/surge-qx/internal/host"
	"github.com/xxxbrian/surge-qx/internal/logging"
	"github.com/xxxbrian/surge-qx/internal/metrics"
	"github.com/xxxbrian/surge-qx/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				root.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Port to listen on (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions) error {
	cfg := root.cfg

	upstreamCache := cache.NewUpstreamCache(cfg.Cache.UpstreamTTL)
	resultCache := cache.NewResultCache(cfg.Cache.ResultTTL)
	if cfg.Cache.PersistPath != "" {
		upstreamCache.SetPersistPath(cfg.Cache.PersistPath)
		if err := upstreamCache.LoadFromFile(cfg.Cache.PersistPath); err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", cfg.Cache.PersistPath).Msg("Failed to load upstream cache")
			}
		} else {
			log.Info().Str("path", cfg.Cache.PersistPath).Msg("Loaded upstream cache")
		}
	}

	f := fetcher.NewFetcher(upstreamCache, cfg.Fetch.Timeout, cfg.Fetch.UserAgent)

	convOpts := []converter.Option{converter.WithLogger(logging.GetLogger("converter"))}
	var runnerOpts []host.RunnerOption
	srvCfg := server.Config{BasePath: cfg.Server.BasePath}
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		convOpts = append(convOpts, converter.WithRecorder(collector))
		runnerOpts = append(runnerOpts, host.WithFatalHook(collector.RecordFatal))
		srvCfg.Metrics = collector.Handler()
	}
	runner := host.NewRunner(converter.NewConverter(convOpts...), runnerOpts...)

	srv := server.NewServer(f, resultCache, runner, srvCfg)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Cache.CleanupInterval > 0 {
		go every(ctx, cfg.Cache.CleanupInterval, func() {
			resultCache.Cleanup()
			removed, err := upstreamCache.Cleanup(cfg.Cache.UpstreamMaxIdle)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to persist upstream cache")
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Int("remaining", upstreamCache.Len()).Msg("Evicted idle upstream rule lists")
			}
		})
	}
	if cfg.Cache.RefreshInterval > 0 {
		go every(ctx, cfg.Cache.RefreshInterval, func() {
			if changed := f.RefreshAll(ctx); changed > 0 {
				log.Info().Int("changed", changed).Msg("Upstream rule lists refreshed")
			}
		})
	}

	log.Info().
		Str("addr", httpServer.Addr).
		Dur("upstreamTTL", cfg.Cache.UpstreamTTL).
		Dur("resultTTL", cfg.Cache.ResultTTL).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("Starting surge-qx server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// every calls fn on each tick of interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
