package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/ledger-intake/internal/cache"
	"github.com/Veraticus/ledger-intake/internal/categorize"
	"github.com/Veraticus/ledger-intake/internal/config"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/extract"
	"github.com/Veraticus/ledger-intake/internal/guardrail"
	"github.com/Veraticus/ledger-intake/internal/llm"
	"github.com/Veraticus/ledger-intake/internal/notify"
	"github.com/Veraticus/ledger-intake/internal/parser"
	"github.com/Veraticus/ledger-intake/internal/pipeline"
	"github.com/Veraticus/ledger-intake/internal/queue"
	"github.com/Veraticus/ledger-intake/internal/ratelimit"
	"github.com/Veraticus/ledger-intake/internal/storage"
	"github.com/Veraticus/ledger-intake/internal/verify"
)

const (
	limiterMaxKeys    = 10000
	verdictCacheSize  = 4096
	verdictCacheTTL   = time.Hour
	redisQueuePrefix  = "intake:queue:"
	redisLimitPrefix  = "intake:ratelimit:"
	redisPingTimeout  = 5 * time.Second
	generatedKeyBytes = 32
)

// app holds every wired component for one process.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *storage.SQLiteStorage
	files       *contentstore.FileStore
	signer      *contentstore.Signer
	redis       *redis.Client
	queue       queue.Backend
	worker      *queue.Worker
	limiter     ratelimit.Limiter
	gateway     *pipeline.Gateway
	pipeline    *pipeline.Pipeline
	verifier    *verify.Verifier
	notifier    *notify.Notifier
	corrections *categorize.Corrections
}

// newApp opens storage and wires the pipeline from cfg. Callers must Close it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		return nil, err
	}
	a.limiter, err = a.buildLimiter()
	if err != nil {
		return nil, err
	}

	llmClient, err := a.buildLLM()
	if err != nil {
		return nil, err
	}
	extractor, err := a.buildExtractor(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := a.buildGate()
	if err != nil {
		return nil, err
	}
	a.queue, err = a.buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	tiers := []categorize.Tier{
		categorize.NewLearnedTier(a.store, cfg.Categorize.MinCorrections, logger),
		categorize.MustDefaultRuleTier(),
	}
	if llmClient != nil {
		tiers = append(tiers, categorize.NewAITier(llmClient, cfg.Categorize.LLMMinAmount, nil, logger))
	}
	engine := categorize.NewEngine(categorize.Config{
		ReviewThreshold: cfg.Categorize.ReviewThreshold,
		ReviewMaxLow:    cfg.Categorize.ReviewMaxLow,
	}, logger, tiers...)

	a.verifier = verify.NewVerifier(a.store, a.files, logger)
	a.notifier = notify.NewNotifier(a.store, logger)
	a.corrections = categorize.NewCorrections(a.store, a.store, cfg.Categorize.MinCorrections, logger)

	a.pipeline = pipeline.New(pipeline.Deps{
		Documents:   a.store,
		Txns:        a.store,
		Content:     a.files,
		Signer:      a.signer,
		Extractor:   extractor,
		Gate:        gate,
		Parser:      parser.NewDetector(parser.NewCascade(llmClient, logger)),
		Categorizer: engine,
		Verifier:    a.verifier,
		Notifier:    a.notifier,
		Dispatcher:  a.queue,
		Audit:       a.store,
	}, pipeline.Config{
		DefaultCurrency: cfg.Currency,
		SizeTolerance:   cfg.Upload.SizeTolerance,
	}, logger)
	a.gateway = pipeline.NewGateway(a.store, a.files, a.signer, a.store, logger)

	a.worker = queue.NewWorker(a.queue, queue.WorkerConfig{
		Concurrency:  cfg.Queue.Workers,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		PollInterval: cfg.Queue.PollInterval,
	}, logger)
	a.pipeline.Register(a.worker)

	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	store, err := storage.NewSQLiteStorage(a.cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.files, err = contentstore.NewFileStore(a.cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	key := []byte(a.cfg.Storage.SigningKey)
	if len(key) == 0 {
		key = make([]byte, generatedKeyBytes)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		a.logger.Warn("No storage.signing_key configured; upload credentials will not survive a restart")
	}
	a.signer, err = contentstore.NewSigner(key, a.cfg.Storage.CredentialTTL)
	if err != nil {
		return fmt.Errorf("failed to create credential signer: %w", err)
	}
	return nil
}

func (a *app) openRedis(ctx context.Context) error {
	if !a.cfg.NeedsRedis() {
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	return nil
}

func (a *app) buildLimiter() (ratelimit.Limiter, error) {
	if a.cfg.RateLimit.Backend == "redis" {
		l, err := ratelimit.NewRedisLimiter(a.redis, redisLimitPrefix, time.Now)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		return l, nil
	}
	return ratelimit.NewMemoryLimiter(limiterMaxKeys, time.Now), nil
}

// buildLLM returns nil when no API key is configured.
func (a *app) buildLLM() (llm.Client, error) {
	if !a.cfg.AIEnabled() {
		a.logger.Info("No LLM API key configured; AI parsing and categorization are disabled")
		return nil, nil
	}
	client, err := llm.NewClient(a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return llm.NewService(client, a.cfg.LLM, a.limiter, a.logger), nil
}

func (a *app) buildExtractor(ctx context.Context) (*extract.Service, error) {
	cfg := extract.Config{PDF: extract.NewPDFTextProvider()}
	if a.cfg.VisionEnabled() {
		v, err := extract.NewVisionProvider(ctx, extract.VisionConfig{
			APIKey:          a.cfg.OCR.VisionAPIKey,
			CredentialsFile: a.cfg.OCR.VisionCredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create vision provider: %w", err)
		}
		cfg.Vision = v
	}
	if a.cfg.OCR.OCRSpaceAPIKey != "" {
		o, err := extract.NewOCRSpaceProvider(a.cfg.OCR.OCRSpaceAPIKey, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create ocr.space provider: %w", err)
		}
		cfg.OCRSpace = o
	}
	if cfg.Vision == nil && cfg.OCRSpace == nil {
		a.logger.Warn("No OCR provider configured; images will be stored with placeholder text")
	}
	return extract.NewService(contentstore.NewReader(a.files, a.signer), cfg, a.logger), nil
}

func (a *app) buildGate() (*guardrail.Gate, error) {
	var moderator guardrail.Moderator
	switch a.cfg.Moderation.Provider {
	case "openai":
		m, err := guardrail.NewOpenAIModerator(a.cfg.Moderation.APIKey, a.cfg.Moderation.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create moderator: %w", err)
		}
		moderator = m
	case "keyword":
		moderator = guardrail.NewKeywordModerator(nil)
	}
	verdicts := cache.NewLRU[string, guardrail.Verdict]("moderation_verdicts", verdictCacheSize, verdictCacheTTL)
	return guardrail.NewGate(guardrail.NewRegexRedactor(), moderator, a.store, verdicts, a.logger), nil
}

func (a *app) buildQueue(ctx context.Context) (queue.Backend, error) {
	if a.cfg.Queue.Backend != "redis" {
		return queue.NewSQLiteQueue(a.store, a.cfg.Queue.Lease, a.logger), nil
	}

	// Recover only sees tasks left by the same consumer name.
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	q, err := queue.NewRedisQueue(a.redis, queue.RedisQueueConfig{
		Prefix:   redisQueuePrefix,
		Consumer: "intake-" + host,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis queue: %w", err)
	}
	if n, err := q.Recover(ctx); err != nil {
		a.logger.Warn("Failed to recover in-flight tasks", "error", err)
	} else if n > 0 {
		a.logger.Info("Recovered in-flight tasks", "count", n)
	}
	return q, nil
}

// Close releases the database and redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close database", "error", err)
		}
	}
}
