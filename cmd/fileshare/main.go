package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fileshare/pkg/admin"
	"fileshare/pkg/config"
	sharefs "fileshare/pkg/fuse"
	"fileshare/pkg/metrics"
	"fileshare/pkg/protocol"
	"fileshare/pkg/server"
	"fileshare/pkg/storage"
	"fileshare/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configFile string
	verbose    bool
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "fileshare",
		Short: "Shared file server for small groups",
		Long: `A TCP file server where named users upload, list, download and delete files.
Owners are notified when someone else downloads one of their files.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		lsCmd(),
		uploadCmd(),
		downloadCmd(),
		rmCmd(),
		watchCmd(),
		indexCmd(),
		healthCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config if given, otherwise the environment.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.LoadFromEnv(), nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var (
		address        string
		storageDir     string
		adminAddress   string
		metricsAddress string
		mountPoint     string
		maxUploadSize  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the file server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			srvCfg := cfg.Server

			flags := cmd.Flags()
			if flags.Changed("address") {
				srvCfg.Address = address
			}
			if flags.Changed("storage-dir") {
				srvCfg.StorageDir = storageDir
			}
			if flags.Changed("admin-address") {
				srvCfg.AdminAddress = adminAddress
			}
			if flags.Changed("metrics-address") {
				srvCfg.MetricsAddress = metricsAddress
			}
			if flags.Changed("mount") {
				srvCfg.MountPoint = mountPoint
			}
			if flags.Changed("max-upload-size") {
				size, err := utils.ParseDataSize(maxUploadSize)
				if err != nil {
					return fmt.Errorf("invalid --max-upload-size: %w", err)
				}
				srvCfg.MaxUploadSize = size
			}

			return runServer(srvCfg, logger)
		},
	}

	cmd.Flags().StringVar(&address, "address", config.DefaultAddress, "listen address")
	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "directory holding shared files")
	cmd.Flags().StringVar(&adminAddress, "admin-address", "", "gRPC health endpoint address (disabled if empty)")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "Prometheus metrics address (disabled if empty)")
	cmd.Flags().StringVar(&mountPoint, "mount", "", "mount the shared files read-only at this path")
	cmd.Flags().StringVar(&maxUploadSize, "max-upload-size", "", "largest accepted upload, e.g. 512MB (unlimited if empty)")
	return cmd
}

func runServer(cfg config.ServerConfig, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.NewWithMetrics(cfg, logger, metrics.New(registry))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	if cfg.MetricsAddress != "" {
		metricsServer, _, err := metrics.Serve(cfg.MetricsAddress, registry, logger.Named("metrics"))
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(ctx)
		}()
	}

	var health *admin.Server
	if cfg.AdminAddress != "" {
		health = admin.New(cfg.AdminAddress, logger.Named("admin"))
		if err := health.Start(); err != nil {
			return err
		}
		defer health.Stop()
	}

	if cfg.MountPoint != "" {
		sfs := sharefs.NewShareFS(srv.Registry(), srv.Storage(), storage.EncodeKey, logger.Named("fuse"))
		mount, err := sharefs.Mount(cfg.MountPoint, sfs)
		if err != nil {
			return err
		}
		defer func() {
			if err := mount.Unmount(); err != nil {
				logger.Warn("Failed to unmount", zap.String("mountpoint", cfg.MountPoint), zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(); err != nil && !errors.Is(err, protocol.ErrServerClosed) {
			return err
		}
		return nil
	})
	if health != nil {
		health.SetServing(true)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")
		if health != nil {
			health.SetServing(false)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
