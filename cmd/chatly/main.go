package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatly/internal/app/services/chats"
	"chatly/internal/app/services/messages"
	domainchat "chatly/internal/domain/chat"
	"chatly/internal/infra/broker/kafka"
	"chatly/internal/infra/config"
	"chatly/internal/infra/directory"
	mongodb "chatly/internal/infra/db/mongo"
	ginserver "chatly/internal/infra/http/gin"
	"chatly/internal/infra/obs"
	"chatly/internal/infra/realtime"
	"chatly/internal/infra/storage/memory"
	"chatly/internal/infra/storage/s3"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	chatRepo, messageRepo, ready, closeStore, err := buildStorage(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err, "mode", cfg.StorageMode)
		os.Exit(1)
	}
	defer closeStore()

	registry := realtime.NewRegistry(logger)
	dir := directory.New(cfg.DirectoryURL, cfg.DirectoryTimeout, logger)

	var notifier messages.Notifier
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		notifier = &kafka.Notifier{Producer: producer, Topic: cfg.NotifyTopic, Logger: logger}
	} else {
		logger.Warn("KAFKA_BROKERS not set, offline notifications disabled")
	}

	var uploader s3.Uploader = s3.NoopUploader{}
	if cfg.S3Endpoint != "" {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			logger.Error("s3 init failed", "error", err)
			os.Exit(1)
		}
		uploader = client
	} else {
		logger.Warn("S3_ENDPOINT not set, image uploads disabled")
	}

	chatService := &chats.Service{
		Chats:     chatRepo,
		Messages:  messageRepo,
		Directory: dir,
		Logger:    logger,
	}
	messageService := &messages.Service{
		Chats:     chatRepo,
		Messages:  messageRepo,
		Registry:  registry,
		Directory: dir,
		Notifier:  notifier,
		Logger:    logger,
	}

	gateway := &realtime.Gateway{Registry: registry, Secret: []byte(cfg.JWTSecret), Logger: logger}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: ready}, ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Chats:    chatService,
			Messages: messageService,
			Uploads:  uploader,
			Logger:   logger,
		},
		WebSocket:      http.HandlerFunc(gateway.Handle),
		AuthMiddleware: ginserver.AuthMiddleware{Secret: []byte(cfg.JWTSecret), Logger: logger}.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

func buildStorage(cfg config.Config, logger *slog.Logger) (domainchat.Repository, domainchat.MessageRepository, func() error, func(), error) {
	switch cfg.StorageMode {
	case config.StorageMongo:
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		ready := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(ctx)
		}
		closeStore := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(ctx); err != nil {
				logger.Warn("mongo disconnect failed", "error", err)
			}
		}
		return mongodb.NewChatRepository(client.DB), mongodb.NewMessageRepository(client.DB), ready, closeStore, nil
	default:
		logger.Info("using in-memory storage, data is not durable")
		return memory.NewChatRepository(), memory.NewMessageRepository(), func() error { return nil }, func() {}, nil
	}
}
