package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/config"
	"github.com/palemoky/party-session/internal/events"
	"github.com/palemoky/party-session/internal/game/room"
	"github.com/palemoky/party-session/internal/logger"
	"github.com/palemoky/party-session/internal/server"
	"github.com/palemoky/party-session/internal/server/session"
	"github.com/palemoky/party-session/internal/server/storage"
)

const startupTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("加载配置文件失败")
	}
	if err := cfg.ApplyEnv(*envFile); err != nil {
		log.Fatal().Err(err).Msg("读取环境变量失败")
	}

	if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		log.Fatal().Err(err).Msg("初始化日志失败")
	}
	defer logger.Close()

	var (
		deps    room.Deps
		srvDeps server.Deps
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// Redis：房间号占用 + 快照
	if cfg.Redis.Addr != "" {
		if store, closeFn, err := openRedis(cfg); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("⚠️ Redis 不可用，房间快照不持久化")
		} else {
			deps.Store = store
			srvDeps.Snapshots = store
			cleanup = append(cleanup, closeFn)
		}
	}

	// PostgreSQL：对局归档
	if cfg.Postgres.DSN != "" {
		archive, err := openArchive(cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化对局归档失败")
		}
		deps.Archive = archive
		srvDeps.Matches = archive
		cleanup = append(cleanup, archive.Close)
	}

	// 重连令牌
	if cfg.Session.TokenSecret != "" {
		tokens, err := session.NewTokenIssuer(cfg.Session.TokenSecret, cfg.Session.TokenTTLDuration())
		if err != nil {
			log.Fatal().Err(err).Msg("初始化重连令牌失败")
		}
		deps.Tokens = tokens
		srvDeps.Tokens = tokens
	} else {
		log.Warn().Msg("⚠️ 未配置 token_secret，断线重连不可用")
	}

	// NATS：快照发布；规则服务事件在房间管理器创建后订阅
	var bus events.Bus
	if cfg.NATS.URL != "" {
		b, closeFn, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("连接 NATS 失败")
		}
		bus = b
		deps.Events = events.NewPublisher(bus, cfg.NATS.SubjectPrefix)
		cleanup = append(cleanup, closeFn)
	}

	rm := room.NewRoomManager(room.OptionsFromConfig(&cfg.Game), deps)
	srvDeps.RoomManager = rm

	if bus != nil {
		sub := events.NewSubscriber(bus, cfg.NATS.SubjectPrefix, rm)
		if err := sub.Start(); err != nil {
			log.Fatal().Err(err).Msg("订阅规则服务事件失败")
		}
		cleanup = append(cleanup, func() { _ = sub.Stop() })
	}

	srv := server.NewServer(cfg, srvDeps)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		sig := <-quit
		log.Info().Stringer("signal", sig).Msg("正在关闭服务器...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Game.ShutdownTimeoutDuration())
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("优雅关闭超时")
		}
	}()

	log.Info().Str("addr", cfg.Server.Addr()).Msg("🎮 派对房间服务器启动中...")
	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("服务器启动失败")
		return
	}
	<-done
}

// openRedis 连接 Redis 并报告上次运行遗留的房间快照
func openRedis(cfg *config.Config) (*storage.RedisStore, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := storage.NewRedisStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	if codes, err := store.GetAllRoomCodes(ctx); err == nil && len(codes) > 0 {
		log.Info().Int("rooms", len(codes)).Msg("📦 共享存储中已有房间快照")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("✅ Redis 已连接")
	return store, func() { _ = client.Close() }, nil
}

// openArchive 执行迁移并打开归档连接池
func openArchive(dsn string) (*storage.Archive, error) {
	if err := storage.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate match archive: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	archive, err := storage.NewArchive(ctx, dsn)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("✅ 对局归档已连接")
	return archive, nil
}
