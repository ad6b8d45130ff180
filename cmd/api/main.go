package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/planforge/planforge-api/internal/config"
	"github.com/planforge/planforge-api/internal/domain/admin"
	"github.com/planforge/planforge-api/internal/domain/credit"
	"github.com/planforge/planforge-api/internal/domain/payment"
	"github.com/planforge/planforge-api/internal/domain/plan"
	"github.com/planforge/planforge-api/internal/middleware"
	"github.com/planforge/planforge-api/internal/pkg/database"
	"github.com/planforge/planforge-api/internal/pkg/jwt"
	"github.com/planforge/planforge-api/internal/pkg/kaspi"
	"github.com/planforge/planforge-api/internal/pkg/logger"
	pkgresponse "github.com/planforge/planforge-api/internal/pkg/response"
	"github.com/planforge/planforge-api/internal/pkg/robokassa"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting PlanForge API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	hashAlgo, err := robokassa.NormalizeHashAlgorithm(cfg.RoboKassaHashAlgo)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid RoboKassa hash algorithm")
	}
	robokassaCfg := robokassa.Config{
		MerchantLogin: cfg.RoboKassaMerchantLogin,
		Password1:     cfg.RoboKassaPassword1,
		Password2:     cfg.RoboKassaPassword2,
		HashAlgo:      hashAlgo,
		TestMode:      cfg.RoboKassaTestMode,
	}
	kaspiClient := kaspi.NewClient(kaspi.Config{
		BaseURL:    cfg.KaspiBaseURL,
		MerchantID: cfg.KaspiMerchantID,
		SecretKey:  cfg.KaspiSecretKey,
	})

	// ---------- Repositories ----------
	auditRepo := admin.NewAuditRepository(db)
	paymentRepo := payment.NewRepository(db)
	planRepo := plan.NewRepository(db)

	// ---------- Services ----------
	creditService := credit.NewService(db, auditRepo, credit.Limits{
		AdjustMaxMagnitude: cfg.AdjustMaxMagnitude,
		BalanceCeiling:     cfg.BalanceCeiling,
	})
	paymentService := payment.NewService(paymentRepo, creditService, kaspiClient, redisClient,
		payment.Config{
			FrontendURL: cfg.FrontendURL,
			BackendURL:  cfg.BackendURL,
			CreditTTL:   cfg.CreditTTL,
			Robokassa:   robokassaCfg,
		},
		payment.NewKaspiGateway(cfg.KaspiSecretKey),
		payment.NewRobokassaGateway(cfg.RoboKassaPassword2, hashAlgo),
	)
	planService := plan.NewService(planRepo, creditService, cfg.PlanCreditCost)

	// ---------- Handlers ----------
	creditHandler := credit.NewHandler(creditService)
	paymentHandler := payment.NewHandler(paymentService)
	planHandler := plan.NewHandler(planService)
	adminHandler := admin.NewHandler(creditService, auditRepo)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Expiry sweep ----------
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runExpirySweep(sweepCtx, creditService, cfg.ExpiryInterval)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/credits", creditHandler.Routes(authMiddleware))
		r.Mount("/payments", paymentHandler.Routes(authMiddleware))
		r.Mount("/plans", planHandler.Routes(authMiddleware))
		r.Mount("/admin", adminHandler.Routes(authMiddleware))

		// Gateways authenticate themselves with signatures.
		r.Mount("/webhooks", paymentHandler.WebhookRoutes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// runExpirySweep periodically writes off expired credit packs. The sweep is
// idempotent, so overlapping runs across replicas are harmless.
func runExpirySweep(ctx context.Context, creditService credit.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := creditService.ExpireStalePacks(ctx, time.Now().UTC())
			if err != nil {
				log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired_packs", expired).Msg("Expired credit packs written off")
			}
		}
	}
}
