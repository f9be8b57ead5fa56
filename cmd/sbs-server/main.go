package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/sbs/cmd/flags"
	"github.com/ruteri/sbs/common"
	"github.com/ruteri/sbs/download"
	"github.com/ruteri/sbs/httpserver"
	"github.com/ruteri/sbs/ingest"
	"github.com/ruteri/sbs/metrics"
	"github.com/ruteri/sbs/registry"
	"github.com/ruteri/sbs/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sbs-server",
		Usage: "Serve blob storage libraries and ingest entries from remote resources",
		Flags: append([]cli.Flag{
			flags.ConfigFlag,
			flags.ListenAddrFlag,
			flags.WorkersFlag,
			flags.MaxRecordsFlag,
			flags.FetchTimeoutFlag,
			flags.UserAgentFlag,
			flags.WriteTimeoutFlag,
			flags.ShutdownTimeoutFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := registry.LoadConfig(cCtx.String(flags.ConfigFlag.Name))
			if err != nil {
				logger.Error("Failed to load config", "err", err)
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			storageFactory := storage.NewStorageBackendFactory(logger)
			libs, err := registry.FromConfig(cfg, storageFactory, logger, metricsSrv.Metrics())
			if err != nil {
				logger.Error("Failed to open libraries", "err", err)
				return err
			}
			defer func() {
				if err := libs.Close(); err != nil {
					logger.Error("Failed to close libraries", "err", err)
				}
			}()
			logger.Info("Libraries opened", "count", libs.Len())

			fetcher := download.NewHTTPFetcher(nil, download.HTTPFetcherConfig{
				Timeout:      cCtx.Duration(flags.FetchTimeoutFlag.Name),
				UserAgent:    cCtx.String(flags.UserAgentFlag.Name),
				SpoolOptions: cfg.SpoolOptions(),
			}, logger)

			coordinator, err := ingest.NewCoordinator(ingest.CoordinatorConfig{
				Libraries: libs,
				Fetcher:   fetcher,
				Store:     ingest.NewStore(cCtx.Int(flags.MaxRecordsFlag.Name)),
				Workers:   cCtx.Int(flags.WorkersFlag.Name),
				Log:       logger,
				Metrics:   metricsSrv.Metrics(),
			})
			if err != nil {
				return fmt.Errorf("failed to create ingestion coordinator: %w", err)
			}

			handler := httpserver.NewHandler(libs, coordinator, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
