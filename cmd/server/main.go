package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dwiprasetyo/job-portal/internal/config"
	"github.com/dwiprasetyo/job-portal/internal/domain/fiber/handler"
	"github.com/dwiprasetyo/job-portal/internal/middleware"
	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/repository"
	"github.com/dwiprasetyo/job-portal/internal/scheduler"
	"github.com/dwiprasetyo/job-portal/internal/service"
	"github.com/dwiprasetyo/job-portal/internal/trigger"
	"github.com/dwiprasetyo/job-portal/internal/usecase"
	"github.com/dwiprasetyo/job-portal/internal/worker"
)

func main() {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("Could not load .env file")
	}

	appConfig := config.LoadAppConfig()
	pipelineConfig := config.LoadPipelineConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := fiber.New(fiber.Config{
		AppName: appConfig.Name,
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			// Status code defaults to 500
			code := fiber.StatusInternalServerError

			// Retrieve the custom status code if it's a *fiber.Error
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}

			message := err.Error()
			if message == "" {
				message = "Internal Server Error"
			}

			return ctx.Status(code).JSON(fiber.Map{"error": message})
		},
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
	}))
	// Use middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: config.LoadAppConfig().Env != "production",
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // 1
	}))
	app.Use(pprof.New(pprof.Config{
		Next: func(c *fiber.Ctx) bool {
			return config.LoadAppConfig().Env != "production"
		},
	}))
	app.Use(healthcheck.New())

	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))

	app.Use(middleware.RateLimiter(50, 1*time.Minute))

	db := ConnectDB()
	rdb := ConnectRedis(ctx)

	// ── repositories ────────────────────────────────────────────────────────
	jobRepo := repository.NewJobRepository(db)
	resumeRepo := repository.NewResumeRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	cronRepo := repository.NewCronRepository(db)
	backoff := queue.ExponentialBackoff(pipelineConfig.BackoffBase, pipelineConfig.BackoffMax)
	notificationRepo := repository.NewNotificationRepository(db, backoff, pipelineConfig.MaxAttempts)

	// ── services ────────────────────────────────────────────────────────────
	embedding, err := service.NewEmbeddingService(ctx, rdb)
	if err != nil {
		log.Fatal(err)
	}
	mailer := service.NewMailerService()
	templates := service.NewTemplateService()

	// ── match evaluator + trigger bus ───────────────────────────────────────
	matchUC := usecase.NewMatchUsecase(
		resumeRepo, jobRepo, matchRepo, notificationRepo, embedding,
		pipelineConfig.MatchThreshold,
		pipelineConfig.CandidateTopK,
		pipelineConfig.SweepStaleAfter,
		pipelineConfig.SweepBatchSize,
		appConfig.BaseURL,
	)
	bus := trigger.NewBus(matchUC, 256, 30*time.Second)
	bus.Start(ctx, 2)

	// ── dispatch workers ────────────────────────────────────────────────────
	dispatcher := worker.NewDispatcher(
		notificationRepo, templates, mailer,
		pipelineConfig.WorkerCount,
		pipelineConfig.ClaimBatchSize,
		pipelineConfig.PollInterval,
		pipelineConfig.VisibilityTimeout,
	)
	dispatcher.Start(ctx)

	// ── scheduler ───────────────────────────────────────────────────────────
	sched := scheduler.New(cronRepo)
	tasks := []scheduler.Task{
		{
			Name:     "match-sweep",
			Schedule: "@every 6h",
			Run: func(ctx context.Context) error {
				return bus.Publish(trigger.Event{Kind: trigger.KindSweep})
			},
		},
		{
			Name:     "queue-visibility-sweep",
			Schedule: "@every 1m",
			Run: func(ctx context.Context) error {
				_, err := notificationRepo.ReleaseStuck(ctx, pipelineConfig.VisibilityTimeout)
				return err
			},
		},
		{
			Name:     "dead-letter-report",
			Schedule: "@every 1h",
			Run: func(ctx context.Context) error {
				stats, err := notificationRepo.Stats(ctx)
				if err != nil {
					return err
				}
				if stats.DeadLettered > 0 {
					log.Printf("[report] %d dead-lettered notification(s) awaiting manual retry", stats.DeadLettered)
				}
				return nil
			},
		},
	}
	for _, task := range tasks {
		if err := sched.Register(ctx, task); err != nil {
			log.Fatal(err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal(err)
	}

	// ── HTTP surface ────────────────────────────────────────────────────────
	pipelineUC := usecase.NewPipelineUsecase(notificationRepo, sched, matchUC, embedding)
	h := handler.NewPipelineHandler(pipelineUC, bus)
	h.RegisterRoutes(app)

	// Monitor goroutine count
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			log.Printf("Active goroutines: %d", runtime.NumGoroutine())
		}
	}()

	go func() {
		log.Println("Server running on ", appConfig.Port)
		if err := app.Listen(appConfig.Port); err != nil {
			log.Fatal(err)
		}
	}()

	// ── graceful shutdown ───────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	sched.Stop()
	cancel()
	dispatcher.Wait()
	bus.Wait()
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf("Redis close: %v", err)
	}
}

func ConnectDB() *gorm.DB {
	dbConfig := config.LoadDBConfig()
	appConfig := config.LoadAppConfig()

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=Asia/Jakarta",
		dbConfig.Host,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Name,
		dbConfig.Port,
		dbConfig.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	pgDB, err := db.DB()
	if err != nil {
		log.Fatalf("Could not get database instance: %v", err)
	}
	if appConfig.Env != "production" {
		pgDB.SetMaxIdleConns(5)  // cukup 5 idle
		pgDB.SetMaxOpenConns(10) // max 10 koneksi aktif
		pgDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		pgDB.SetMaxIdleConns(20)           // simpan 20 koneksi siap pakai
		pgDB.SetMaxOpenConns(200)          // max 200 koneksi aktif
		pgDB.SetConnMaxLifetime(time.Hour) // recycle tiap 1 jam

	}

	// migrasi tabel
	err = db.AutoMigrate(
		&model.Resume{},
		&model.Job{},
		&model.MatchResult{},
		&model.NotificationJob{},
		&model.CronJobConfig{},
	)
	if err != nil {
		log.Fatal("migration failed: ", err)
	}
	return db
}

func ConnectRedis(ctx context.Context) *redis.Client {
	redisConfig := config.LoadRedisConfig()
	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		log.Fatalf("redis.ParseURL(%q): %v", redisConfig.URL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping failed: %v", err)
	}
	return client
}
