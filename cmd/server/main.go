package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mailscope/mailscope/internal/api"
	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/config"
	"github.com/mailscope/mailscope/internal/dispatch"
	"github.com/mailscope/mailscope/internal/pkg/logger"
	"github.com/mailscope/mailscope/internal/provider"
	"github.com/mailscope/mailscope/internal/repository/postgres"
	"github.com/mailscope/mailscope/internal/tracking"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("ping database: %v", err)
	}
	pingCancel()
	logger.Info("database connected")

	// Redis is only used for send quotas; the limiter fails open, so a
	// missing Redis degrades to unlimited sends rather than downtime.
	var limiter *api.RateLimiter
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel = context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, send quotas disabled", "addr", cfg.Redis.Addr, "error", err.Error())
		rdb.Close()
	} else {
		limiter = api.NewRateLimiter(rdb, cfg.RateLimit)
		defer rdb.Close()
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	pingCancel()

	users := postgres.NewUserRepo(db)
	connections := postgres.NewConnectionRepo(db)
	messages := postgres.NewMessageRepo(db)
	events := postgres.NewEventRepo(db)

	authSvc := auth.NewService(users, connections,
		cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHrs)*time.Hour)
	connector := auth.NewConnector(connections, auth.ConnectorConfig{
		GoogleClientID:        cfg.Google.ClientID,
		GoogleClientSecret:    cfg.Google.ClientSecret,
		MicrosoftClientID:     cfg.Microsoft.ClientID,
		MicrosoftClientSecret: cfg.Microsoft.ClientSecret,
		BaseURL:               cfg.Server.BaseURL,
	})

	transports := provider.NewRegistry(
		provider.NewGmail(provider.GmailConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
		}, nil),
		provider.NewOutlook(provider.OutlookConfig{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
		}, nil),
	)

	rewriter := tracking.NewRewriter(tracking.NewCodec(cfg.Tracking.BaseURL))
	dispatchSvc := dispatch.NewService(messages, connections, events, transports, rewriter)

	recorder := tracking.NewRecorder(messages, events, cfg.Tracking.CooldownWindow())
	beacon := tracking.NewHandler(recorder, cfg.Server.BaseURL)

	server := api.NewServer(cfg, authSvc, connector, dispatchSvc, beacon, limiter)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err.Error())
	}
}
