package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"slimcast/internal/core/services"
	apihttp "slimcast/internal/handlers/http"
	"slimcast/internal/infrastructure/encoders"
	"slimcast/internal/infrastructure/monitoring"
	"slimcast/internal/infrastructure/producers"
	"slimcast/internal/infrastructure/repositories"
	"slimcast/internal/infrastructure/tcpserver"
	"slimcast/pkg/config"
	"slimcast/pkg/logger"
	"slimcast/pkg/tracing"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/slimcast/config.yaml",
		"config.yaml",
	}

	configPath := configPaths[0]
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			configPath = path
			log.Printf("Loading config from: %s", path)
			break
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	sugar := zlog.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	// Player registry
	repoFactory := repositories.NewRepositoryFactory(cfg, sugar)
	players := repoFactory.NewPlayerRepository()

	// Serializing processor: all dispatcher state mutates on its worker.
	processor := services.NewProcessor(1024, sugar)

	streamerOpts := []services.StreamerOption{services.WithPlayerRepository(players)}
	if cfg.Monitoring.PrometheusEnabled {
		streamerOpts = append(streamerOpts, services.WithMetrics(monitoring.NewDefaultCollector()))
	}

	streamer := services.NewStreamer(services.StreamerConfig{
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitsPerSample,
		StreamPath:    cfg.Stream.Path,
		PingTick:      cfg.Streamer.PingTick,
		PingEveryTick: cfg.Streamer.PingEveryTick,
		DeferSleep:    cfg.Streamer.DeferSleep,
		DeferWindow:   cfg.Streamer.DeferWindow,
	}, processor, encoders.Factory(), sugar, streamerOpts...)

	tone := producers.NewTone(producers.ToneConfig{
		Frequency:     cfg.Audio.ToneFrequency,
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitsPerSample,
		ChunkDuration: cfg.Audio.ChunkDuration,
	}, sugar)

	scheduler := services.NewScheduler(services.SchedulerConfig{
		ProduceBatch:  cfg.Scheduler.ProduceBatch,
		ProducerPause: cfg.Scheduler.ProducerPause,
		IdleSleep:     cfg.Scheduler.IdleSleep,
	}, producers.NewContainer(tone), streamer, processor, sugar)

	// Control and audio listeners
	controlServer := tcpserver.NewServer(tcpserver.Config{
		Name:           "slimproto",
		Address:        cfg.SlimProto.Address,
		AcceptRate:     cfg.SlimProto.AcceptRate,
		AcceptBurst:    cfg.SlimProto.AcceptBurst,
		ReadBufferSize: cfg.SlimProto.ReadBufferSize,
		WriteTimeout:   cfg.SlimProto.WriteTimeout,
	}, streamer.SlimProtoEndpoint(), sugar)

	audioServer := tcpserver.NewServer(tcpserver.Config{
		Name:           "stream",
		Address:        cfg.Stream.Address,
		AcceptRate:     cfg.Stream.AcceptRate,
		AcceptBurst:    cfg.Stream.AcceptBurst,
		ReadBufferSize: cfg.Stream.ReadBufferSize,
		WriteTimeout:   cfg.Stream.WriteTimeout,
	}, streamer.StreamEndpoint(), sugar)

	if err := controlServer.Start(); err != nil {
		sugar.Fatalw("failed to start control listener", "error", err)
	}
	if err := audioServer.Start(); err != nil {
		sugar.Fatalw("failed to start audio listener", "error", err)
	}

	// Operator API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	apihttp.NewStatusHandler(streamer, players, cfg.API.StatusInterval, sugar).SetupRoutes(router)

	apiServer := &http.Server{Addr: cfg.API.Address, Handler: router}
	go func() {
		sugar.Infow("operator API listening", "address", cfg.API.Address)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("operator API failed", "error", err)
		}
	}()

	// Pump audio
	scheduler.Start()
	sugar.Infow("slimcast started",
		"slimproto", cfg.SlimProto.Address,
		"stream", cfg.Stream.Address,
		"sample_rate", cfg.Audio.SampleRate,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("shutting down")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		sugar.Warnw("operator API shutdown failed", "error", err)
	}
	if err := audioServer.Shutdown(ctx); err != nil {
		sugar.Warnw("audio listener shutdown failed", "error", err)
	}
	if err := controlServer.Shutdown(ctx); err != nil {
		sugar.Warnw("control listener shutdown failed", "error", err)
	}

	processor.Close()
	if err := repoFactory.Close(); err != nil {
		sugar.Warnw("registry close failed", "error", err)
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		sugar.Warnw("tracer shutdown failed", "error", err)
	}

	sugar.Infow("goodbye")
}
