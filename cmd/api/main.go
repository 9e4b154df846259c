package main

import (
	"context"
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

	"github.com/campuscore/coursework-api/internal/config"
	"github.com/campuscore/coursework-api/internal/database"
	"github.com/campuscore/coursework-api/internal/events"
	"github.com/campuscore/coursework-api/internal/handler"
	"github.com/campuscore/coursework-api/internal/middleware"
	"github.com/campuscore/coursework-api/internal/models"
	"github.com/campuscore/coursework-api/internal/repository"
	"github.com/campuscore/coursework-api/internal/router"
	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/pkg/annotate"
	"github.com/campuscore/coursework-api/pkg/blobstore"
	cloud "github.com/campuscore/coursework-api/pkg/cloudinary"
	"github.com/campuscore/coursework-api/pkg/mailer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Student{}, &models.Assignment{}, &models.Submission{}, &models.Notification{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	blobs, err := blobstore.NewLocal(cfg.BlobDir)
	if err != nil {
		log.Fatalf("failed to initialise blob store: %v", err)
	}

	var uploader service.FileUploader
	if cfg.CloudinaryCloudName != "" {
		uploader, err = cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
	}

	var mail mailer.Mailer
	if cfg.SendGridAPIKey != "" {
		mail, err = mailer.NewSendGrid(mailer.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromName:  cfg.MailFromName,
			FromEmail: cfg.MailFromEmail,
			AppName:   cfg.AppName,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create sendgrid mailer: %v", err)
		}
	} else {
		mail = mailer.NewConsole(logger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	bus := events.NewBus(redisClient, natsConn, cfg.EventChannelBase, logger)

	gate := service.NewAccessGate(studentRepo, logger)
	engine := annotate.NewPDF(logger)

	assignmentService := service.NewAssignmentService(assignmentRepo, validate, uploader, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, gate, blobs, bus, validate, cfg.UploadMaxMB, logger)
	gradingService := service.NewGradingService(submissionRepo, blobs, engine, bus, validate, cfg.MergeTimeout, logger)
	notificationService := service.NewNotificationService(notificationRepo, mail, bus, logger)
	directoryService := service.NewDirectoryService(studentRepo, bus, logger)
	dashboardService := service.NewDashboardService(assignmentRepo, submissionRepo, notificationRepo, redisClient, cfg.DashboardCacheTTL, logger)

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	bus.Start(busCtx)

	assignmentHandler := handler.NewAssignmentHandler(assignmentService, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger, cfg.StreamKeepAlive)
	directoryHandler := handler.NewDirectoryHandler(directoryService, logger)
	dashboardHandler := handler.NewDashboardHandler(dashboardService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(cfg.UploadMaxBytes()) + (1 << 20),
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler:   assignmentHandler,
		SubmissionHandler:   submissionHandler,
		GradingHandler:      gradingHandler,
		NotificationHandler: notificationHandler,
		DirectoryHandler:    directoryHandler,
		DashboardHandler:    dashboardHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
