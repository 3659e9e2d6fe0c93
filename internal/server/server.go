package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/folio/backend/internal/db"
	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/internal/queue"
	mid "github.com/OFFIS-RIT/folio/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/folio/backend/internal/storage"
	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent"
	"github.com/OFFIS-RIT/folio/backend/pkg/cache"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/graph"
	"github.com/OFFIS-RIT/folio/backend/pkg/loader/web"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/retrieval"
	pgstore "github.com/OFFIS-RIT/folio/backend/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(util.GetEnvString("BODY_LIMIT", "32M")))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collection := util.GetEnvString("RAG_COLLECTION", bootstrap.DefaultCollection)

	if err := db.Migrate(util.GetEnv("MIGRATIONS_PATH"), util.GetEnv("DATABASE_URL")); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	conn, err := bootstrap.ConnectDB(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	aiClient, err := bootstrap.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}
	pipelineRules, err := bootstrap.LoadRules()
	if err != nil {
		logger.Fatal("Failed to load pipeline rules", "err", err)
	}

	documents := pgstore.NewDocumentStorageWithConnection(conn, pgstore.WithEmbedder(aiClient))
	lexical := retrieval.NewBM25Index()
	holder := graph.NewHolder(pipelineRules, graph.BuildOptions{})

	var answerCache agent.Cache
	if addr := util.GetEnv("REDIS_ADDR"); addr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisParams{
			Addr:     addr,
			Password: util.GetEnv("REDIS_PASSWORD"),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			TTL:      util.GetEnvDuration("ANSWER_CACHE_TTL", cache.DefaultTTL),
		})
		if err != nil {
			logger.Warn("Answer cache disabled", "err", err)
		} else {
			defer rc.Close()
			answerCache = rc
		}
	}

	ingestCfg := ingest.Config{
		Store:    documents,
		Embedder: aiClient,
		Lexical:  lexical,
		Graph:    holder,
		Lock:     bootstrap.NewIngestLock(conn),
		Parallel: util.GetEnvInt("AI_PARALLEL_REQ", 4),
	}
	if util.GetEnvBool("INGEST_FETCH_PUBLICATIONS", false) {
		ingestCfg.Pages = web.NewLoader()
	}
	ingestService := ingest.NewService(ingestCfg)

	app := &mid.App{
		Agent: bootstrap.NewAgent(bootstrap.AgentParams{
			Client:     aiClient,
			Rules:      pipelineRules,
			Graph:      holder,
			Retriever:  retrieval.NewHybridRetriever(documents.Collection(collection), lexical, collection),
			Cache:      answerCache,
			Collection: collection,
		}),
		Ingest:       ingestService,
		Lexical:      lexical,
		Snapshots:    db.NewSnapshots(conn),
		Collection:   collection,
		KeepExports:  util.GetEnvInt("EXPORT_KEEP", 5),
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Key = k.Keyfunc
	}

	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.Exports = storage.NewExportStore(s3Client, bucket)
	}

	if err := ingestService.Restore(ctx, collection, exportSource(app.Exports)); err != nil {
		logger.Error("Failed to restore collection", "collection", collection, "err", err)
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch

		subCh, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer subCh.Close()
		if err := queue.SubscribeRebuild(ctx, subCh, rebuildHandler(ingestService, app.Exports)); err != nil {
			logger.Fatal("Failed to subscribe to rebuilds", "err", err)
		}
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port, "collection", collection)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// exportSource keeps a nil store from becoming a non-nil interface.
func exportSource(s *storage.ExportStore) ingest.SnapshotSource {
	if s == nil {
		return nil
	}
	return s
}

// rebuildHandler reloads the lexical index and the graph after another
// process indexed a collection.
func rebuildHandler(svc *ingest.Service, exports *storage.ExportStore) func(context.Context, queue.RebuildEvent) error {
	return func(ctx context.Context, event queue.RebuildEvent) error {
		var p *export.Payload
		if exports != nil && event.ObjectKey != "" {
			loaded, err := exports.LoadExport(ctx, event.ObjectKey)
			if err != nil {
				return err
			}
			p = loaded
		}
		n, err := svc.Reload(ctx, event.Collection, p)
		if err != nil {
			return err
		}
		logger.Info("Collection reloaded", "collection", event.Collection, "documents", n, "correlation_id", event.CorrelationID)
		return nil
	}
}
