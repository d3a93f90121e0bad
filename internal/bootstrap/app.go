package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SEK-11/OCR/internal/ai"
	appsvc "github.com/SEK-11/OCR/internal/app"
	"github.com/SEK-11/OCR/internal/cache"
	"github.com/SEK-11/OCR/internal/config"
	"github.com/SEK-11/OCR/internal/extract"
	"github.com/SEK-11/OCR/internal/metrics"
	"github.com/SEK-11/OCR/internal/model"
	"github.com/SEK-11/OCR/internal/ocr"
	"github.com/SEK-11/OCR/internal/pkg/pdfextract"
	mysqlClient "github.com/SEK-11/OCR/internal/platform/mysql"
	rabbitmqClient "github.com/SEK-11/OCR/internal/platform/rabbitmq"
	redisClient "github.com/SEK-11/OCR/internal/platform/redis"
	"github.com/SEK-11/OCR/internal/repository"
	"github.com/SEK-11/OCR/internal/session"
	"github.com/SEK-11/OCR/internal/templates"
	"github.com/SEK-11/OCR/internal/worker"
)

type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	AuditWorker *worker.AuditPersistWorker
	auditPub    *rabbitmqClient.AuditPublisher

	Sessions  *session.Manager
	Documents *appsvc.DocumentService
	Catalog   *templates.Catalog

	StartedAt time.Time

	stopJanitor context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger := NewLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Sessions:  session.NewManager(),
		StartedAt: time.Now(),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	catalog, err := templates.Load()
	if err != nil {
		return err
	}
	a.Catalog = catalog

	var extractionCache appsvc.ExtractionCache
	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		extractionCache = cache.NewExtractionCache(a.Redis, time.Duration(cfg.Redis.ExtractionTTLSeconds)*time.Second)
	}

	var auditPublisher appsvc.AuditPublisher
	if cfg.Audit.Enabled {
		a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN(), a.Logger.With("component", "mysql"))
		if err != nil {
			return err
		}
		if err := a.MySQL.AutoMigrate(&model.UploadAudit{}); err != nil {
			return fmt.Errorf("auto migrate tables failed: %w", err)
		}

		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.AuditQueue)
		if err != nil {
			return err
		}

		auditRepo := repository.NewUploadAuditRepository(a.MySQL)
		a.AuditWorker = worker.NewAuditPersistWorker(a.MQConn, auditRepo, cfg.RabbitMQ.AuditQueue, a.Logger)
		if err := a.AuditWorker.Start(ctx); err != nil {
			return fmt.Errorf("start audit worker failed: %w", err)
		}
		a.auditPub = rabbitmqClient.NewAuditPublisher(a.MQConn, cfg.RabbitMQ.AuditQueue)
		auditPublisher = a.auditPub
	}

	orchestrator := extract.NewOrchestrator(cfg.ExtractionPolicy(), extract.Engines{
		NativeText: pdfextract.ExtractPages,
		PageCount:  pdfextract.PageCount,
		OpenRaster: func(path string) (extract.RasterDocument, error) {
			doc, err := pdfextract.OpenRaster(path)
			if err != nil {
				return nil, err
			}
			return doc, nil
		},
		Recognizer: ocr.NewTesseract(cfg.Extraction.Languages, cfg.Extraction.TessdataPrefix),
		Documents:  extract.WordExtractor{},
	}, a.Logger.With("component", "extract"))

	binder := ai.NewOpenAICompatibleBinder(cfg.LLM.BaseURL, cfg.LLM.Model, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)

	a.Documents = appsvc.NewDocumentService(
		orchestrator,
		a.Sessions,
		binder,
		extractionCache,
		auditPublisher,
		cfg.Upload.PreviewChars,
		a.Logger.With("component", "documents"),
	)

	janitorCtx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	go a.Sessions.RunJanitor(
		janitorCtx,
		time.Duration(cfg.Session.JanitorIntervalS)*time.Second,
		time.Duration(cfg.Session.TTLMinutes)*time.Minute,
		func(n int) {
			a.Logger.Info("evicted idle sessions", "count", n)
			metrics.SetActiveSessions(a.Sessions.Len())
		},
	)
	return nil
}

// NewLogger returns a JSON slog logger at the named level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func (a *App) Close() error {
	var closeErr error
	if a.stopJanitor != nil {
		a.stopJanitor()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.AuditWorker != nil {
		a.AuditWorker.Close()
	}
	if a.auditPub != nil {
		if err := a.auditPub.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
