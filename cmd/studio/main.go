package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"
	"castmix/internal/core/services"
	httphandlers "castmix/internal/handlers/http"
	"castmix/internal/infrastructure/compositor"
	"castmix/internal/infrastructure/media"
	"castmix/internal/infrastructure/middleware"
	"castmix/internal/infrastructure/monitoring"
	pointer "castmix/internal/infrastructure/signal"
	"castmix/pkg/config"
	"castmix/pkg/logger"
	"castmix/pkg/retry"
	"castmix/pkg/tracing"
	"castmix/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/castmix/config.yaml",
		"config.yaml",
	}
	if p := os.Getenv("CASTMIX_CONFIG"); p != "" {
		configPaths = append([]string{p}, configPaths...)
	}

	configPath := ""
	for _, path := range configPaths {
		if _, statErr := os.Stat(path); statErr == nil {
			configPath = path
			break
		}
	}

	cfg, cfgErr := config.Load(configPath)
	if cfgErr != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if cfgErr != nil {
		log.Warnw("using default configuration", "path", configPath, "error", cfgErr)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "castmix",
		Version:     version,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	fetchRetry := retry.DefaultConfig()
	fetchRetry.MaxAttempts = cfg.Compositor.FetchAttempts
	loader := media.NewLoader(media.LoaderConfig{
		AllowedOrigins: cfg.Compositor.AllowedOrigins,
		Timeout:        cfg.Compositor.FetchTimeout,
		MaxBytes:       cfg.Compositor.MaxAssetBytes,
		Retry:          fetchRetry,
		CacheTTL:       cfg.Compositor.AssetCacheTTL,
		Limits: media.DecodeLimits{
			MaxPixels:     cfg.Compositor.MaxImagePixels,
			MaxClipPixels: cfg.Compositor.MaxClipPixels,
		},
	}, log.Named("loader"))
	defer loader.Close()

	var monitor ports.AudioSink
	if cfg.Audio.MonitorFile != "" {
		f, err := os.Create(cfg.Audio.MonitorFile)
		if err != nil {
			log.Fatalw("failed to open monitor output", "path", cfg.Audio.MonitorFile, "error", err)
		}
		defer f.Close()
		monitor = media.NewWriterSink(f)
	}

	engine := services.NewEngine(
		engineConfig(cfg),
		loader,
		media.NewIntervalPacer(cfg.Compositor.FrameRate),
		monitor,
		collector,
		log.Named("engine"),
	)

	attachStartupSources(ctx, cfg, engine, loader, log)

	if err := engine.Start(ctx); err != nil {
		log.Fatalw("failed to start engine", "error", err)
	}

	pointerServer := pointer.NewPointerServer(engine, pointer.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      10 * time.Second,
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}, log.Named("signal"))

	health := monitoring.NewHealthChecker(log.Named("health"))
	health.AddEngineCheck(engine, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	health.AddFrameCheck(engine, func() uint64 {
		return engine.Metrics().FramesRendered
	}, cfg.Monitoring.FrameStallTimeout, cfg.Monitoring.HealthCheckInterval)
	health.StartBackgroundChecks(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(logger.NewContextLogger(zapLogger)),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	apiOrigins := media.NewOriginPolicy(cfg.Compositor.APIRoots, cfg.Compositor.APIHosts)
	httphandlers.NewStudioHandler(engine, pointerServer, apiOrigins).SetupRoutes(router)

	if cfg.Signal.Enabled {
		router.GET(cfg.Signal.Path,
			middleware.NewWebSocketUpgradeLimitMiddleware(cfg),
			gin.WrapF(pointerServer.HandleWebSocket),
		)
		log.Infow("pointer signal enabled", "path", cfg.Signal.Path)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    utils.FormatDuration(time.Since(startTime)),
			"state":     engine.State(),
			"pointers":  pointerServer.ConnectionCount(),
		})
	})

	// Ready while the engine is rendering or suspended and frames keep coming.
	router.GET("/ready", func(c *gin.Context) {
		checkCtx, checkCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer checkCancel()

		status := health.CheckAll(checkCtx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting castmix studio server",
			"address", cfg.Server.Address,
			"width", cfg.Compositor.Width,
			"height", cfg.Compositor.Height,
			"frame_rate", cfg.Compositor.FrameRate,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down castmix studio server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	pointerServer.Close()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down engine", "error", err)
	}
	cancel()

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracer", "error", err)
		}
	}

	log.Info("castmix studio server stopped")
}

func engineConfig(cfg *config.Config) services.EngineConfig {
	ec := services.DefaultEngineConfig()
	ec.Width = cfg.Compositor.Width
	ec.Height = cfg.Compositor.Height
	ec.FrameRate = cfg.Compositor.FrameRate
	ec.InsetMargin = cfg.Compositor.InsetMargin
	ec.Watermark = cfg.Compositor.Watermark
	ec.StrictExport = cfg.Compositor.StrictOriginExport
	if mode, err := domain.ParseLayoutMode(cfg.Compositor.InitialLayout); err == nil {
		ec.Layout = mode
	}

	opts := compositor.DefaultOptions()
	opts.OverlayFullFrameMinWidth = cfg.Compositor.OverlayFullFrameMinWidth
	opts.LogoWidth = cfg.Compositor.LogoWidth
	opts.LogoHeight = cfg.Compositor.LogoHeight
	opts.LogoMargin = cfg.Compositor.LogoMargin
	ec.Compositor = opts

	ec.AudioEnabled = cfg.Audio.Enabled
	ec.AudioFormat = services.AudioFormat{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Quantum:    cfg.Audio.Quantum,
	}
	ec.Gains = map[domain.ChannelID]float64{
		domain.ChannelMic:   cfg.Audio.Gains.Mic,
		domain.ChannelMusic: cfg.Audio.Gains.Music,
		domain.ChannelClip:  cfg.Audio.Gains.Clip,
	}
	return ec
}

// attachStartupSources binds the sources named in config. Failures are
// logged and the studio starts without them.
func attachStartupSources(ctx context.Context, cfg *config.Config, engine *services.Engine, loader *media.Loader, log *zap.SugaredLogger) {
	if path := cfg.Sources.CameraImage; path != "" {
		dec, err := loader.Load(ctx, domain.SourceCamera, path, false)
		if err != nil {
			log.Warnw("camera image unavailable", "origin", path, "error", err)
		} else {
			img, ok := dec.Frame(time.Now())
			dec.Close()
			if ok {
				var mic ports.AudioSource
				if cfg.Audio.MicFile != "" {
					if src, err := media.NewPCMFileSource(cfg.Audio.MicFile, true); err != nil {
						log.Warnw("mic file unavailable", "path", cfg.Audio.MicFile, "error", err)
					} else {
						mic = src
					}
				}
				if err := engine.AttachLive(domain.SourceCamera, media.NewStillCapture("camera-still", img, mic)); err != nil {
					log.Warnw("failed to attach camera", "error", err)
				}
			}
		}
	}

	for kind, origin := range map[domain.SourceKind]string{
		domain.SourceBackgroundImage: cfg.Sources.Background,
		domain.SourceOverlayImage:    cfg.Sources.Overlay,
		domain.SourceClip:            cfg.Sources.Clip,
	} {
		if origin == "" {
			continue
		}
		if err := engine.AttachURL(kind, origin, kind == domain.SourceClip && cfg.Sources.ClipLoop); err != nil {
			log.Warnw("failed to attach source", "kind", kind, "origin", utils.ShortOrigin(origin), "error", err)
		}
	}

	if path := cfg.Audio.MusicFile; path != "" {
		var src *media.PCMSource
		if cfg.Audio.Decode {
			samples, err := media.DecodeAudioFile(ctx, path, cfg.Audio.SampleRate, cfg.Audio.Channels)
			if err != nil {
				log.Warnw("music decode failed", "path", path, "error", err)
				return
			}
			src = media.NewPCMSource(samples, cfg.Audio.MusicLoop)
		} else {
			var err error
			if src, err = media.NewPCMFileSource(path, cfg.Audio.MusicLoop); err != nil {
				log.Warnw("music file unavailable", "path", path, "error", err)
				return
			}
		}
		// The engine owns src from here, including on error.
		if err := engine.ConnectAudio(domain.ChannelMusic, src); err != nil {
			log.Warnw("failed to connect music", "error", err)
		}
	}
}
