/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for lifecycle rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/groupclient: Client for the group-service membership API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gigvault/wallet-service/internal/api"
	"github.com/gigvault/wallet-service/internal/app"
	"github.com/gigvault/wallet-service/internal/config"
	"github.com/gigvault/wallet-service/internal/store"
	"github.com/gigvault/wallet-service/pkg/groupclient"
	"github.com/gigvault/wallet-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	platformFeeRate, leaderCommissionRate, err := cfg.SplitRates()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"split rates invalid\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s", cfg.ServerPort)

	// Pick the persistence backend. An empty DATABASE_URL selects the in-memory
	// store, which is intended for local development and integration tests only.
	lockTimeout := time.Duration(cfg.SettlementLockTimeoutMS) * time.Millisecond
	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"no database url; using in-memory ledger\" env=DATABASE_URL")
		repository = store.NewMemoryRepository(lockTimeout)
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}

		poolConfig.MaxConns = 100
		poolConfig.MinConns = 20
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		// Disable prepared statement caching to prevent conflicts
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")

		if err := store.EnsureSchema(context.Background(), dbpool); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"schema ensure failed (may already exist)\" err=%v", err)
		}

		repository = store.NewPostgresRepository(dbpool, lockTimeout)
	}

	// Initialize the RabbitMQ producer to publish wallet events.
	// This service only needs to publish, so we use a producer.
	var publisher rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		publisher = rabbitProducer
	}
	notifier := app.NewEventNotifier(publisher, cfg.WalletEventExchange)

	// Initialize the client for the group-service. Missing group-service config should not
	// prevent wallet-service from booting; payment confirmation will degrade.
	var groupClient app.GroupDirectory
	if strings.TrimSpace(cfg.GroupServiceURL) == "" || strings.TrimSpace(cfg.GroupServiceInternalAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"group-service client not configured; payment confirmation disabled\" group_service_url_set=%t group_service_internal_key_set=%t",
			strings.TrimSpace(cfg.GroupServiceURL) != "",
			strings.TrimSpace(cfg.GroupServiceInternalAPIKey) != "",
		)
	} else {
		groupClient = groupclient.NewClient(cfg.GroupServiceURL, cfg.GroupServiceInternalAPIKey)
	}

	var rateLimiter api.RateLimiter
	if cfg.SettlementRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; lifecycle rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; lifecycle rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; lifecycle rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
					rateLimiter = app.NewRedisSettlementRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.SettlementRateLimitPerMinute, time.Minute)
				}
			}
		}
	}

	// Initialize the core application service with its dependencies.
	walletService := app.NewService(
		repository,
		groupClient,
		notifier,
		app.SplitRates{PlatformFeeRate: platformFeeRate, LeaderCommissionRate: leaderCommissionRate},
		cfg.PlatformAccountID,
		cfg.SettlementMaxRetries,
	)

	// Initialize the API handlers and router.
	walletHandlers := api.NewWalletHandlers(walletService, rateLimiter)
	router := api.WalletRoutes(walletHandlers, cfg.JWTSecret, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
