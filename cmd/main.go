/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * gateway clients, message brokers, repositories, the core application services,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/commission, internal/config, internal/store: Internal packages.
 * - pkg/gateway, pkg/referralclient, pkg/rabbitmq: External service clients.
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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/proflink/billing-service/internal/api"
	"github.com/proflink/billing-service/internal/app"
	"github.com/proflink/billing-service/internal/commission"
	"github.com/proflink/billing-service/internal/config"
	"github.com/proflink/billing-service/internal/store"
	"github.com/proflink/billing-service/pkg/gateway"
	rmrabbit "github.com/proflink/billing-service/pkg/rabbitmq"
	"github.com/proflink/billing-service/pkg/referralclient"
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

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Align pool sizing with the other platform services.
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

	// Initialize the RabbitMQ producer to publish billing events. A missing
	// broker degrades to the no-op fallback rather than blocking boot.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the referral-service.
	if strings.TrimSpace(cfg.ReferralServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"referral service url missing; chains resolve empty\" env=REFERRAL_SERVICE_URL")
	}
	referralClient := referralclient.NewClient(cfg.ReferralServiceURL, cfg.InternalAPIKey)
	directory := app.DirectoryFunc(func(ctx context.Context, professionalID uuid.UUID) (*app.ReferrerLink, error) {
		resp, err := referralClient.ReferrerOf(ctx, professionalID)
		if err != nil {
			return nil, err
		}
		return &app.ReferrerLink{ReferrerID: resp.ReferrerID, Tier: resp.ReferrerTier}, nil
	})

	// Initialize the gateway provider registry.
	gateways := gateway.NewRegistry(
		gateway.NewTranzilaClient(cfg.TranzilaBaseURL, cfg.TranzilaTerminal, cfg.TranzilaAPIKey),
		gateway.NewCardcomClient(cfg.CardcomBaseURL, cfg.CardcomTerminal, cfg.CardcomAPIName, cfg.CardcomAPIPassword),
		gateway.NewPayPlusClient(cfg.PayPlusBaseURL, cfg.PayPlusAPIKey, cfg.PayPlusSecretKey),
	)

	// Connect Redis for webhook dedupe and batch run locks. Redis outages
	// degrade (the database still dedupes); they never block boot.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook fast path and run locks disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; continuing without redis\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; continuing without redis\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	var guard *app.RedisBillingGuard
	if redisClient != nil {
		guard = app.NewRedisBillingGuard(redisClient, cfg.RedisKeyPrefix)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	calculator := commission.NewCalculator(commission.Config{
		CustomerJobRate: cfg.CustomerJobRate,
		ReferralJobRate: cfg.ReferralJobRate,
		PlatformRate:    cfg.PlatformRate,
		TierMultipliers: commission.DefaultConfig().TierMultipliers,
	})
	balances := app.NewBalanceLedger(repository)
	commissionService := app.NewService(repository, calculator, app.NewChainResolver(directory), balances, producer)
	settlementService := app.NewSettlementService(repository, balances, producer, cfg.VATRateBP, cfg.SettlementWorkers)
	paymentService := app.NewPaymentService(repository, balances, gateways, guard, producer)
	autopayService := app.NewAutopayService(repository, paymentService, guard, cfg.AutopayProvider,
		cfg.AutopayMaxAttempts, time.Duration(cfg.AutopayBackoffHours)*time.Hour)

	// Initialize the API handlers.
	billingHandlers := api.NewBillingHandlers(commissionService, settlementService, paymentService, autopayService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/billing", api.BillingRoutes(billingHandlers, cfg.AuthJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the job completion consumer so closed jobs record commission.
	jobConsumer := app.NewJobCompletedConsumer(commissionService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	jobBindings := map[string]func([]byte) bool{
		"job.completed.*": jobConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.BillingExchange, cfg.JobEventQueue, jobBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"job consumer start failed\" err=%v", err)
	}

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
