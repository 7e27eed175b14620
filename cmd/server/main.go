package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-game-room/internal/bus"
	"github.com/koopa0/system-design/14-game-room/internal/config"
	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
	"github.com/koopa0/system-design/14-game-room/internal/events"
	"github.com/koopa0/system-design/14-game-room/internal/metrics"
	"github.com/koopa0/system-design/14-game-room/internal/server"
	"github.com/koopa0/system-design/14-game-room/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "配置檔路徑 (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("載入配置失敗", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()
	m := metrics.New()

	opts := []coordinator.Option{coordinator.WithMetrics(m)}

	// 生命週期事件（可選）
	if cfg.NATS.Enabled {
		sink, err := events.NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Warn("關閉 NATS 連線失敗", "error", err)
			}
		}()
		opts = append(opts, coordinator.WithEventSink(sink))
		log.Info("NATS 事件已啟用", "url", cfg.NATS.URL, "subjects", events.SubjectWildcard(cfg.NATS.SubjectPrefix))
	}

	// 跨實例快照轉發（可選）
	var remote server.RemoteFeed
	if cfg.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rb, err := bus.NewRedisBus(pingCtx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.ChannelPrefix, log)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			if err := rb.Close(); err != nil {
				log.Warn("關閉 Redis 連線失敗", "error", err)
			}
		}()
		opts = append(opts, coordinator.WithRelay(rb))
		remote = rb
		log.Info("Redis 轉發已啟用", "addr", cfg.Redis.Addr, "origin", rb.Origin())
	}

	coord := coordinator.New(cfg.Coordinator(), log, opts...)

	httpOpts := server.Options{
		PublicBaseURL:     cfg.Server.PublicBaseURL,
		CORSAllow:         cfg.Server.CORSAllow,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		FramesPerSecond:   cfg.RateLimit.FramesPerSecond,
		FrameBurst:        cfg.RateLimit.FrameBurst,
	}
	handler := server.NewHandler(coord, log, m, httpOpts)
	hub := server.NewWebSocketHub(coord, remote, log, m, httpOpts)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Routes(handler, hub),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("遊戲房間服務器啟動",
			"addr", cfg.Server.Addr,
			"log_level", cfg.Log.Level,
			"redis", cfg.Redis.Enabled,
			"nats", cfg.NATS.Enabled)
		serverErrors <- srv.ListenAndServe()
	}()

	// 等待中斷信號
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			hub.Stop()
			coord.Stop()
			return err
		}
	case sig := <-shutdown:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("服務器關閉失敗", "error", err)
			_ = srv.Close()
		}
	}

	// WebSocket 連線不受 Shutdown 管理，先關連線再銷毀房間
	hub.Stop()
	coord.Stop()

	log.Info("服務器已關閉")
	return nil
}
