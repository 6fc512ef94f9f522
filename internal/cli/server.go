package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"classquiz-service/internal/app"
	"classquiz-service/internal/config"
	"classquiz-service/internal/domain"
	"classquiz-service/internal/infra/memory"
	pginfra "classquiz-service/internal/infra/postgres"
	redisinfra "classquiz-service/internal/infra/redis"
	"classquiz-service/internal/logging"
	"classquiz-service/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.File)
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questionRepo app.QuestionRepository
	if redisClient != nil {
		questionRepo = redisinfra.NewQuestionCache(redisClient, loader, questionTTL)
	} else {
		questionRepo = memory.NewQuestionCache(loader, questionTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	var persist app.Persistence = memory.NewPersistence()
	if pool != nil {
		persist = pginfra.NewPersistence(pool)
	}

	hub := ws.NewHub(log)
	service := app.NewSessionService(store, questionRepo, persist, hub, serviceConfig(cfg), log)
	handler := ws.NewHandler(service, hub, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", handler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting session server", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func serviceConfig(cfg config.Config) app.ServiceConfig {
	sc := app.DefaultServiceConfig()
	if cfg.Scoring.TotalBudget > 0 {
		sc.Scoring.TotalBudget = cfg.Scoring.TotalBudget
	}
	if cfg.Scoring.PenaltyStrategy != "" {
		sc.Scoring.Strategy = app.PenaltyStrategy(cfg.Scoring.PenaltyStrategy)
	}
	if cfg.Scoring.PenaltyRate > 0 {
		sc.Scoring.PerSecondRate = cfg.Scoring.PenaltyRate
	}
	if cfg.Scoring.GraceMs > 0 {
		sc.Grace = time.Duration(cfg.Scoring.GraceMs) * time.Millisecond
	}
	return sc
}

// sampleQuestions seeds a minimal set for running without Postgres; real
// deployments load questions from the database.
func sampleQuestions() map[string][]domain.Question {
	return map[string][]domain.Question{
		"demo": {
			{
				ID:     "q1",
				Type:   domain.SingleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{Text: "3", Correct: false},
					{Text: "4", Correct: true},
					{Text: "5", Correct: false},
				},
				TimeLimitSec: 20,
			},
			{
				ID:     "q2",
				Type:   domain.MultiChoice,
				Prompt: "Which of these are prime?",
				Options: []domain.Option{
					{Text: "2", Correct: true},
					{Text: "4", Correct: false},
					{Text: "5", Correct: true},
					{Text: "9", Correct: false},
				},
				TimeLimitSec: 30,
			},
		},
	}
}
