package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	apihttp "sampurr/internal/api/http"
	"sampurr/internal/app"
	"sampurr/internal/metrics"
	mongorepo "sampurr/internal/repository/mongo"
	redisrepo "sampurr/internal/repository/redis"
	"sampurr/internal/services/media/audiowaveform"
	"sampurr/internal/services/media/ffmpeg"
	"sampurr/internal/services/media/ytdlp"
	"sampurr/internal/storage/disk"
	"sampurr/internal/telemetry"
	"sampurr/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "sampurr", version)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "sampurr"),
		slog.String("version", version),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("cacheDir", cfg.CacheDir),
		slog.Duration("maxDuration", cfg.MaxDuration),
		slog.Int("maxConcurrentExtractions", cfg.MaxConcurrentExtractions),
		slog.Bool("redis", cfg.RedisURL != ""),
		slog.Bool("mongo", cfg.MongoURI != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fatalCh := make(chan error, 1)

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	feed := apihttp.NewActivityFeed(logger)
	storeOpts := []disk.Option{
		disk.WithLogger(logger),
		disk.WithMaxConcurrent(cfg.MaxConcurrentExtractions),
		disk.WithExtractTimeout(cfg.DownloadTimeout),
		disk.WithEvents(feed),
	}
	healthOpts := []apihttp.ServerOption{}

	var redisClient *goredis.Client
	var infoCache *redisrepo.MediaInfoCache
	if cfg.RedisURL != "" {
		redisClient, err = redisrepo.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		infoCache = redisrepo.NewMediaInfoCache(redisClient, cfg.RedisPrefix, cfg.MetadataCacheTTL)
		lease := redisrepo.NewExtractionLease(redisClient, cfg.RedisPrefix)
		storeOpts = append(storeOpts, disk.WithLease(lease, cfg.ExtractionLeaseTTL))
		healthOpts = append(healthOpts, apihttp.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	var mongoClient *mongo.Client
	var catalog *mongorepo.TrackRepository
	if cfg.MongoURI != "" {
		mongoOpts := otelmongo.NewMonitor()
		mongoClient, err = mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(mongoOpts))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		catalog = mongorepo.NewTrackRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
		if err := catalog.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		healthOpts = append(healthOpts, apihttp.WithHealthCheck("mongo", func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}))
	}

	store, err := disk.NewStore(cfg.CacheDir, storeOpts...)
	if err != nil {
		logger.Error("cache dir init failed", slog.String("dir", cfg.CacheDir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := store.CheckWritable(); err != nil {
		logger.Error("cache dir not writable", slog.String("dir", cfg.CacheDir), slog.String("error", err.Error()))
		os.Exit(1)
	}

	ytdl := ytdlp.New(cfg.YtDlpPath, cfg.MaxDuration)
	waveformGen := audiowaveform.New(cfg.AudiowaveformPath, audiowaveform.Options{
		Bits:            cfg.WaveformBits,
		PixelsPerSecond: cfg.WaveformPPS,
	})
	clipper := ffmpeg.New(cfg.FFMPEGPath)

	fetcher := &usecase.CachedMediaInfo{
		Fetcher:     ytdl,
		MaxDuration: cfg.MaxDuration,
		Logger:      logger,
	}
	if infoCache != nil {
		fetcher.Cache = infoCache
	}

	waveformUC := &usecase.GenerateWaveform{
		Fetcher:         fetcher,
		Store:           store,
		Downloader:      ytdl,
		Waveform:        waveformGen,
		Logger:          logger,
		MaxDuration:     cfg.MaxDuration,
		MetadataTimeout: cfg.MetadataTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		WaveformTimeout: cfg.WaveformTimeout,
		OnFatal: func(err error) {
			if !cfg.FailFast {
				return
			}
			select {
			case fatalCh <- err:
			default:
			}
		},
	}
	if catalog != nil {
		waveformUC.Catalog = catalog
	}

	clipUC := usecase.ClipTrack{Store: store, Clipper: clipper, Timeout: cfg.WaveformTimeout}

	sweepUC := usecase.CacheSweep{
		Dir:           store,
		Events:        feed,
		Logger:        logger,
		Interval:      cfg.SweepInterval,
		MaxBytes:      cfg.SweepMaxBytes,
		MaxAge:        cfg.SweepMaxAge,
		StagingMaxAge: cfg.StagingMaxAge,
		Now:           time.Now,
	}
	if catalog != nil {
		sweepUC.Catalog = catalog
	}
	go sweepUC.Run(rootCtx)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithClip(clipUC),
		apihttp.WithStaticDir(cfg.StaticDir),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithActivityFeed(feed),
		apihttp.WithHealthCheck("cache", func(context.Context) error {
			return store.CheckWritable()
		}),
	}
	if catalog != nil {
		serverOpts = append(serverOpts, apihttp.WithCatalog(catalog))
	}
	serverOpts = append(serverOpts, healthOpts...)

	handler := apihttp.NewServer(waveformUC, serverOpts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	exitCode := 0
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-fatalCh:
		logger.Error("cache storage unavailable, shutting down", slog.String("error", err.Error()))
		exitCode = 1
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
		os.Exit(exitCode)
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
