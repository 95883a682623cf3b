package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	"github.com/odyssey-erp/fxreval/internal/cta"
	"github.com/odyssey-erp/fxreval/internal/journal"
	"github.com/odyssey-erp/fxreval/internal/ledger"
	"github.com/odyssey-erp/fxreval/internal/observability"
	"github.com/odyssey-erp/fxreval/internal/platform/kafka"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
	"github.com/odyssey-erp/fxreval/internal/translation"
)

// Services is the revaluation engine composed over Postgres and Redis. The
// API server, the worker and the CLI all build it the same way.
type Services struct {
	Orchestrator *compliance.Orchestrator
	Runs         *revaluation.RunLedger
	Rates        *rates.Repository
	Resolver     *rates.Resolver
	Functional   *compliance.FunctionalCurrencyService
	CTA          *cta.Tracker
	Locker       *shared.RedisLocker
	Idempotency  *shared.IdempotencyStore

	producer *kafka.Producer
}

// NewServices wires every component. metrics may be nil. The Kafka
// producer is only created when brokers are configured.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	rateRepo := rates.NewRepository(pool)
	resolver := rates.NewResolver(rateRepo, rates.NewCache(cfg.RateCacheTTL))

	books := ledger.NewRepository(pool)
	classifier := ledger.NewClassifier(books)
	aggregator := ledger.NewAggregator(books, books)

	journalRepo := journal.NewRepository(pool)
	runLedger := revaluation.NewRunLedger(revaluation.NewRepository(pool), journalRepo, logger)

	complianceRepo := compliance.NewRepository(pool)
	functional := compliance.NewFunctionalCurrencyService(complianceRepo, cfg.DefaultFunctionalCurrency)
	tracker := cta.NewTracker(cta.NewRepository(pool), logger)
	locker := shared.NewRedisLocker(redisClient)

	s := &Services{
		Runs:        runLedger,
		Rates:       rateRepo,
		Resolver:    resolver,
		Functional:  functional,
		CTA:         tracker,
		Locker:      locker,
		Idempotency: shared.NewIdempotencyStore(pool),
	}

	deps := compliance.Deps{
		Ledgers:    complianceRepo,
		Configs:    complianceRepo,
		Functional: functional,
		Inflation:  complianceRepo,
		Runs:       runLedger,
		Calculator: revaluation.NewCalculator(classifier, aggregator, resolver, logger),
		Snapshots:  aggregator,
		Classifier: classifier,
		Translator: translation.NewEngine(resolver, logger),
		CTA:        tracker,
		Journal:    journal.NewAdapter(journalRepo, logger),
		RateLocks:  rateRepo,
		Quotes:     rateRepo,
		Locker:     locker,
		Supervisor: locker,
		Audit:      shared.NewAuditLogger(pool),
		Logger:     logger,
		LockTTL:    cfg.RunLockTTL,
	}
	if metrics != nil {
		deps.Metrics = metrics
	}
	if len(cfg.KafkaBrokers) > 0 {
		s.producer = kafka.NewProducer(cfg.KafkaBrokers)
		deps.Events = compliance.NewKafkaEvents(s.producer, cfg.KafkaTopicRuns)
	}
	s.Orchestrator = compliance.NewOrchestrator(deps)
	return s
}

// Close flushes the event producer.
func (s *Services) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
