package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coverletter-api/internal/config"
	"github.com/noah-isme/coverletter-api/internal/database"
	"github.com/noah-isme/coverletter-api/internal/handler"
	"github.com/noah-isme/coverletter-api/internal/middleware"
	"github.com/noah-isme/coverletter-api/internal/models"
	"github.com/noah-isme/coverletter-api/internal/repository"
	"github.com/noah-isme/coverletter-api/internal/router"
	"github.com/noah-isme/coverletter-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(database.PostgresOptions{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogQueries:      cfg.AppEnv == "development",
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&models.CoverLetter{}, &models.ActivityLog{}); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probes := []handler.HealthProbe{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL, 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		logger.Warn().Msg("redis url not configured, queue cache and redis routing disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
		probes = append(probes, handler.HealthProbe{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return fmt.Errorf("nats status %s", natsConn.Status())
				}
				return nil
			},
		})
	}

	stageRouter := service.NewBrokerStageRouter(redisClient, natsConn, cfg.EventsChannel, logger)
	stageRouter.OnRouted(func(event service.RoutingEvent) {
		logger.Info().
			Str("entry_id", event.EntryID).
			Str("to_stage", string(event.ToStage)).
			Str("target_role", string(event.TargetRole)).
			Msg("cover letter arrived in queue")
	})
	if err := stageRouter.Start(ctx); err != nil {
		log.Fatalf("failed to start stage router: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	coverLetterRepo := repository.NewCoverLetterRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	activityService := service.NewActivityService(activityRepo, logger)
	coverLetterService := service.NewCoverLetterService(
		coverLetterRepo,
		stageRouter,
		activityService,
		redisClient,
		validate,
		service.CoverLetterServiceOptions{
			QueueCacheTTL:    cfg.QueueCacheTTL,
			OperationTimeout: cfg.SignTimeout,
		},
		logger,
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSOrigins,
		AccessLog:    cfg.AccessLog,
	})
	router.Register(app, cfg, router.Dependencies{
		CoverLetterHandler:   handler.NewCoverLetterHandler(coverLetterService, logger),
		AdminActivityHandler: handler.NewAdminActivityHandler(activityService, logger),
		HealthProbes:         probes,
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app, cfg.ShutdownDeadline)
}

func waitForShutdown(ctx context.Context, app *fiber.App, deadline time.Duration) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
