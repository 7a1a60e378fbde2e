package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-schedule-service/internal/app"
	"quiz-schedule-service/internal/config"
	"quiz-schedule-service/internal/domain"
	"quiz-schedule-service/internal/infra/kafka"
	"quiz-schedule-service/internal/infra/memory"
	"quiz-schedule-service/internal/infra/postgres"
	redisinfra "quiz-schedule-service/internal/infra/redis"
	"quiz-schedule-service/internal/logger"
	"quiz-schedule-service/internal/metrics"
	"quiz-schedule-service/internal/scoring"
	transport "quiz-schedule-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz schedule server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// gateway is what the process needs from a persistence backend.
type gateway interface {
	app.PersistenceGateway
	app.StatisticsSink
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.New(reg)

	var store gateway = memory.NewGateway(sampleQuizzes()...)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = postgres.NewGateway(pool)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizCache
	if redisClient != nil {
		quizzes = redisinfra.NewQuizCache(redisClient, store, quizTTL, log.Named("quiz-cache"))
	} else {
		quizzes = memory.NewQuizCache(store, quizTTL)
	}

	hub := memory.NewHub(32)
	var delivery app.DeliveryChannel = hub
	if redisClient != nil {
		delivery = redisinfra.NewPublisher(redisClient, cfg.Redis.Channel)
	}

	stats, closeStats, err := buildStatisticsSink(cfg, store)
	if err != nil {
		return err
	}
	defer closeStats()

	engine := app.NewEngine(app.Dependencies{
		Staging:    memory.NewStagingStore(),
		Gateway:    store,
		Scorer:     scoring.New(),
		Delivery:   delivery,
		Statistics: stats,
	},
		app.WithLogger(log.Named("engine")),
		app.WithMetrics(engineMetrics),
		app.WithQuizCache(quizzes),
		app.WithStartWorkers(cfg.Schedule.Workers),
		app.WithMaxFinalizeAttempts(cfg.Schedule.MaxFinalizeAttempts),
		app.WithGracePeriod(config.TTLDuration(cfg.Quiz.GracePeriod, 0)),
	)

	wsHandler := transport.NewWSHandler(engine, hub, cfg.Websocket.MessagesPerSecond, cfg.Websocket.Burst, log.Named("ws"))
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(engine, store, wsHandler, reg, log.Named("http")),
		ReadTimeout: 15 * time.Second,
	}

	if err := engine.Start(ctx, config.TTLDuration(cfg.Schedule.Delay, time.Second)); err != nil {
		return err
	}
	defer engine.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if redisClient != nil {
		relay := redisinfra.NewRelay(redisClient, cfg.Redis.Channel, hub, log.Named("relay"))
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("starting quiz schedule service", zap.String("port", finalPort), zap.String("statisticsSink", cfg.Statistics.Sink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildStatisticsSink picks where aggregated results go. The returned close func is never nil.
func buildStatisticsSink(cfg config.Config, store gateway) (app.StatisticsSink, func(), error) {
	switch cfg.Statistics.Sink {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, nil, fmt.Errorf("statistics sink kafka: no brokers configured")
		}
		sink := kafka.NewStatisticsSink(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.Topic)
		return sink, func() { _ = sink.Close() }, nil
	case "postgres":
		if cfg.Postgres.URL == "" {
			return nil, nil, fmt.Errorf("statistics sink postgres: postgres url not configured")
		}
		return store, func() {}, nil
	case "memory":
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown statistics sink %q", cfg.Statistics.Sink)
	}
}

// sampleQuizzes seeds the in-memory gateway when no database is configured.
func sampleQuizzes() []*domain.QuizDefinition {
	return []*domain.QuizDefinition{
		{
			ID:             1,
			CourseID:       1,
			Title:          "Warm up",
			ReleaseDate:    time.Now().Add(time.Minute),
			Duration:       15 * time.Minute,
			GracePeriod:    5 * time.Second,
			PlannedToStart: true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Kind:   domain.KindMultipleChoice,
					Title:  "What is 2 + 2?",
					Points: 1,
					Options: []domain.AnswerOption{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID:     "q2",
					Kind:   domain.KindShortAnswer,
					Title:  "Capital of France",
					Points: 2,
					Spots:  []domain.ShortAnswerSpot{{ID: "s1", Solutions: []string{"Paris"}}},
				},
			},
		},
	}
}
