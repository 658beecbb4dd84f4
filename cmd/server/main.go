package main

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/thumbwall/internal/cache"
	"github.com/muandane/special-stack/thumbwall/internal/config"
	"github.com/muandane/special-stack/thumbwall/internal/decode"
	"github.com/muandane/special-stack/thumbwall/internal/download"
	"github.com/muandane/special-stack/thumbwall/internal/keys"
	"github.com/muandane/special-stack/thumbwall/internal/photowall"
	"github.com/muandane/special-stack/thumbwall/internal/router"
	"github.com/muandane/special-stack/thumbwall/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	downloader, err := newDownloader(cfg, logger)
	if err != nil {
		return err
	}

	store := photowall.OpenStore(cfg.Cache, logger)
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close disk cache", "error", err)
			}
		}()
	}

	capacity := cfg.Cache.MemoryCapacity()
	logger.Info("memory cache sized", "capacity", capacity, "divisor", cfg.Cache.MemoryDivisor)

	set := metrics.NewSet()
	ctrl, err := photowall.New(photowall.Options{
		Memory:     cache.NewMemory[image.Image](capacity, decode.PixelBytes),
		Store:      store,
		Downloader: downloader,
		Decode:     decode.Image,
		Keys:       keys.New(),
		Workers:    cfg.Cache.Workers,
		Logger:     logger,
		Metrics:    set,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	gin.SetMode(gin.ReleaseMode)
	handler := router.NewRouter(logger).Setup(ctrl, router.OptionsFromConfig(cfg, set))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-serveErr:
			return err
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				logger.Info("flushing disk cache on SIGHUP")
				ctrl.Flush()
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			return shutdown(srv, ctrl, logger, cfg.ShutdownTimeout)
		}
	}
}

// shutdown stops accepting requests and lets in-flight ones finish. Requests
// still waiting at half the timeout have their tasks cancelled, which answers
// them straight away. Remaining tasks are cancelled and the disk cache is
// flushed once the server has drained.
func shutdown(srv *http.Server, ctrl *photowall.Controller, logger *slog.Logger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Shutdown(ctx) }()

	drain := time.NewTimer(timeout / 2)
	defer drain.Stop()

	var err error
	select {
	case err = <-done:
	case <-drain.C:
		logger.Info("requests still waiting, cancelling their tasks")
		ctrl.Call(func() { ctrl.CancelAllTasks() })
		err = <-done
	}

	ctrl.Call(func() { ctrl.CancelAllTasks() })
	ctrl.Flush()

	if err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
		return err
	}
	return nil
}

func newDownloader(cfg *config.Config, logger *slog.Logger) (download.Downloader, error) {
	mux := download.NewMux()
	web := download.NewHTTP(download.HTTPOptions{
		RPS:       cfg.Download.RPS,
		Burst:     cfg.Download.Burst,
		UserAgent: cfg.Download.UserAgent,
		Logger:    logger,
	})
	mux.Handle("http", web)
	mux.Handle("https", web)

	if cfg.Storage.Enabled {
		client, err := storage.NewMinioClient(&cfg.Storage)
		if err != nil {
			return nil, err
		}
		s3, err := storage.NewS3(client, logger)
		if err != nil {
			return nil, err
		}
		mux.Handle("s3", s3)
	}

	logger.Info("downloaders registered", "schemes", mux.Schemes())
	return mux, nil
}
