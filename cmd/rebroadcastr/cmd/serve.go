package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/config"
	"github.com/jmylchreest/rebroadcastr/internal/database"
	"github.com/jmylchreest/rebroadcastr/internal/database/migrations"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/rebroadcastr/internal/http"
	"github.com/jmylchreest/rebroadcastr/internal/http/handlers"
	"github.com/jmylchreest/rebroadcastr/internal/repository"
	"github.com/jmylchreest/rebroadcastr/internal/scheduler"
	"github.com/jmylchreest/rebroadcastr/internal/service"
	"github.com/jmylchreest/rebroadcastr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rebroadcastr server",
	Long: `Start the rebroadcastr server.

Every configured camera is registered and its always-on streams begin
prebuffering after the start delay. The HTTP API hands out input
descriptors and relays prebuffered streams.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "rebroadcastr.db", "Database DSN")
	serveCmd.Flags().String("ffmpeg", "", "Path to the ffmpeg binary (default: auto-detect)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("ffmpeg.binary_path", serveCmd.Flags().Lookup("ffmpeg"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() { _ = db.Close() }()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll()
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	settingRepo := repository.NewSettingRepository(db.DB)
	alertRepo := repository.NewAlertRepository(db.DB)

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath)
	if info, err := detector.Detect(ctx); err != nil {
		logger.Warn("ffmpeg not detected, streams will fail to start until it is installed",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("ffmpeg detected",
			slog.String("path", info.FFmpegPath),
			slog.String("version", info.Version),
		)
	}
	starter := demux.NewFFmpegStarter(detector, cfg.FFmpeg).WithLogger(logger)

	cameraService, err := service.NewCameraService(
		service.OrchestratorConfig(cfg.Prebuffer, cfg.FFmpeg),
		starter,
		settingRepo,
		alertRepo,
		cfg.Prebuffer.OptionsCacheTTL,
		cfg.Prebuffer.WorkerPoolSize,
	)
	if err != nil {
		return fmt.Errorf("initializing camera service: %w", err)
	}
	cameraService.WithLogger(logger)
	defer cameraService.Close()

	for _, camCfg := range cfg.Cameras {
		cam, err := camera.New(camCfg, logger)
		if err != nil {
			return fmt.Errorf("creating camera %s: %w", camCfg.ID, err)
		}
		if _, err := cameraService.Register(cam); err != nil {
			return fmt.Errorf("registering camera %s: %w", camCfg.ID, err)
		}
	}
	cameraService.Start()

	sched := scheduler.NewScheduler(cfg.Scheduler, cameraService, alertRepo).WithLogger(logger)

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithCameras(cameraService).
		Register(server.API())
	handlers.NewCameraHandler(cameraService).Register(server.API())
	handlers.NewAlertHandler(alertRepo).Register(server.API())

	// The docs operation must be registered before the raw route that replaces it.
	proxyHandler := handlers.NewStreamProxyHandler(cameraService).WithLogger(logger)
	proxyHandler.RegisterDocs(server.API())
	proxyHandler.RegisterChiRoutes(server.Router())

	handlers.RegisterMetricsRoute(server.Router())

	logger.Info("starting rebroadcastr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("cameras", len(cfg.Cameras)),
		slog.String("version", version.Version),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	return g.Wait()
}
