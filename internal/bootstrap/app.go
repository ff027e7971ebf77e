package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ragdesk/internal/ai"
	"ragdesk/internal/app"
	"ragdesk/internal/cache"
	"ragdesk/internal/chunker"
	"ragdesk/internal/config"
	"ragdesk/internal/logging"
	mysqlClient "ragdesk/internal/platform/mysql"
	rabbitmqClient "ragdesk/internal/platform/rabbitmq"
	redisClient "ragdesk/internal/platform/redis"
	"ragdesk/internal/pkg/extract"
	"ragdesk/internal/repository"
	"ragdesk/internal/vectorindex"
	"ragdesk/internal/worker"
)

type App struct {
	Config *config.Config
	Log    logging.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection
	Index  *vectorindex.Client
	Store  *repository.Store

	// nil when Redis is unavailable
	HistoryCache *cache.HistoryCache

	Ingest    *app.IngestService
	Chats     *app.ChatService
	Assistant *app.AssistantService
	Titles    *app.TitleService
	Tenants   *app.TenantService
	Tools     *app.ToolService

	TitleWorker *worker.TitleWorker
	Janitor     *worker.Janitor

	StartedAt time.Time

	embedder *ai.Embedder
}

// New connects to every dependency and wires the services. MySQL and Qdrant
// are required. Without Redis history reads go to MySQL; without RabbitMQ
// chats keep their default title until renamed.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	log := logging.NewJSON(os.Stdout, cfg.App.LogLevel).With("app", cfg.App.Name, "env", cfg.App.Env)

	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.wire()
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	db, err := mysqlClient.New(ctx, mysqlClient.Options{
		DSN:   cfg.MySQLDSN(),
		Debug: cfg.App.LogLevel == "debug",
	})
	if err != nil {
		return err
	}
	a.MySQL = db
	a.Store = repository.NewStore(db)
	if err := a.Store.AutoMigrate(ctx); err != nil {
		return err
	}

	a.embedder = ai.NewEmbedder(ai.EmbedderOptions{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	a.Index = vectorindex.New(vectorindex.Options{
		URL:            cfg.Qdrant.URL,
		APIKey:         cfg.Qdrant.APIKey,
		Collection:     cfg.Qdrant.Collection,
		Dimension:      cfg.Embedding.Dimension,
		Timeout:        time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
		ScrollPageSize: cfg.Qdrant.ScrollPageSize,
		UpsertBatch:    cfg.Qdrant.UpsertBatch,
	}, a.embedder, a.Log)
	if err := a.Index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure qdrant collection failed: %w", err)
	}

	if client, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		a.Log.Warn(ctx, "redis unavailable, history cache disabled", "err", err)
	} else {
		a.Redis = client
	}

	if conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL); err != nil {
		a.Log.Warn(ctx, "rabbitmq unavailable, async titles disabled", "err", err)
	} else {
		a.MQConn = conn
	}
	return nil
}

func (a *App) wire() {
	cfg := a.Config
	limits := app.LimitsFromConfig(cfg)

	llm := ai.NewOpenAICompatibleClient(ai.ChatOptions{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		HeaderTimeout: time.Duration(cfg.LLM.HeaderTimeoutSeconds) * time.Second,
	})
	relay := app.NewRelay(llm, app.RelayOptions{
		Attempts:    cfg.LLM.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		IdleTimeout: time.Duration(cfg.LLM.IdleTimeoutSeconds) * time.Second,
		Buffer:      cfg.LLM.RelayBuffer,
	}, a.Log)

	var historyCache app.HistoryCache
	if a.Redis != nil {
		a.HistoryCache = cache.NewHistoryCache(a.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.DirtyTTLSeconds)*time.Second,
		)
		historyCache = a.HistoryCache
	}
	var titleJobs app.TitleJobPublisher
	if a.MQConn != nil {
		titleJobs = rabbitmqClient.NewTitlePublisher(a.MQConn, cfg.RabbitMQ.TitleQueue)
	}

	a.Ingest = app.NewIngestService(a.Store, extract.New(cfg.Quota.MaxExtractedBytes), chunker.New(cfg.RAG.ChunkMaxLength, cfg.RAG.ChunkMinLength), a.Index, limits, a.Log)
	a.Chats = app.NewChatService(a.Store, historyCache, limits, cfg.RAG.HistoryLimit, a.Log)
	a.Assistant = app.NewAssistantService(
		a.Chats,
		app.NewRetriever(a.embedder, a.Index, a.Log),
		relay,
		titleJobs,
		limits,
		app.AssistantOptions{ChatTopK: cfg.RAG.ChatTopK, AskTopK: cfg.RAG.AskTopK},
		a.Log,
	)
	a.Titles = app.NewTitleService(a.Chats, relay, cfg.LLM.TitleMaxRunes, a.Log)
	a.Tenants = app.NewTenantService(a.Store, a.Index, historyCache, limits, a.Log)
	a.Tools = app.NewToolService(relay)

	idle, _ := cfg.InactiveAfter()
	a.Janitor = worker.NewJanitor(a.Tenants, time.Duration(cfg.Janitor.IntervalMinutes)*time.Minute, idle, a.Log)
	if a.MQConn != nil {
		a.TitleWorker = worker.NewTitleWorker(a.MQConn, a.Titles, cfg.RabbitMQ.TitleQueue, a.Log)
	}
}

// StartWorkers runs the background consumers of the server process.
func (a *App) StartWorkers(ctx context.Context) error {
	if a.TitleWorker != nil {
		if err := a.TitleWorker.Start(ctx); err != nil {
			return fmt.Errorf("start title worker failed: %w", err)
		}
	}
	if a.Config.Janitor.Enabled {
		a.Janitor.Start(ctx)
	}
	return nil
}

// Checks lists the dependency probes reported by the health endpoint.
func (a *App) Checks() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"mysql":  a.Store.Ping,
		"qdrant": a.Index.Ping,
		"redis": func(ctx context.Context) error {
			if a.HistoryCache == nil {
				return errors.New("not connected")
			}
			return a.HistoryCache.Ping(ctx)
		},
		"rabbitmq": func(ctx context.Context) error {
			return rabbitmqClient.Ping(ctx, a.MQConn)
		},
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.TitleWorker != nil {
		a.TitleWorker.Close()
	}
	if a.Janitor != nil {
		a.Janitor.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
