// Package core builds the storage, processor and service graph shared by the
// api and worker binaries.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/config"
	"github.com/funnytutor6/tutorconnect/internal/infra/httpclient"
	"github.com/funnytutor6/tutorconnect/internal/infra/rabbitmq"
	s3infra "github.com/funnytutor6/tutorconnect/internal/infra/s3"
	"github.com/funnytutor6/tutorconnect/internal/infra/stripecheckout"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
	redrepo "github.com/funnytutor6/tutorconnect/internal/repo/redis"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
	connsvc "github.com/funnytutor6/tutorconnect/internal/services/connections"
	entsvc "github.com/funnytutor6/tutorconnect/internal/services/entitlements"
	paymentsvc "github.com/funnytutor6/tutorconnect/internal/services/payments"
	"github.com/funnytutor6/tutorconnect/internal/services/rate"
	resourcesvc "github.com/funnytutor6/tutorconnect/internal/services/resources"
	"github.com/funnytutor6/tutorconnect/internal/services/sanitizer"
	subsvc "github.com/funnytutor6/tutorconnect/internal/services/subscriptions"
)

type Core struct {
	Postgres  *pgxpool.Pool
	Redis     *goredis.Client
	S3        *minio.Client
	Publisher rabbitmq.Publisher
	Locks     *redrepo.LockRepo
	Audit     *audit.Recorder
	Limiter   *rate.Limiter

	Entitlements  *entsvc.Service
	Connections   *connsvc.Service
	Resources     *resourcesvc.Service
	Payments      *paymentsvc.Service
	Subscriptions *subsvc.Service
}

// Build connects to postgres and redis and wires every service. Object
// storage, the message broker and the payment processor are optional; when
// one is missing the rest keeps working and the gap is logged.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*Core, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, pgrepo.PoolConfig{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.MaxConns,
		AppName:  "tutorconnect",
	})
	if err != nil {
		return nil, err
	}
	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	limiter := rate.NewLimiter(redrepo.NewRateRepo(redisClient),
		rate.Window{Length: time.Minute, Max: cfg.Rate.PerMinute},
		rate.Window{Length: time.Hour, Max: cfg.Rate.PerHour},
	)

	c := &Core{
		Postgres: pool,
		Redis:    redisClient,
		Locks:    redrepo.NewLockRepo(redisClient, cfg.Locks.TTL, cfg.Locks.Wait),
		Audit:    audit.NewRecorder(log.Named("audit")),
		Limiter:  limiter,
	}
	c.attachSinks(cfg, log)

	users := pgrepo.NewUserRepo(pool)
	resources := pgrepo.NewResourceRepo(pool)
	purchases := pgrepo.NewPurchaseRepo(pool)
	subscriptions := pgrepo.NewSubscriptionRepo(pool)
	requests := pgrepo.NewConnectionRequestRepo(pool)
	txRunner := pgrepo.NewTxRunner(pool)
	checker := sanitizer.Default()

	c.Entitlements = entsvc.NewService(entsvc.Dependencies{
		Subscriptions: subscriptions,
		Purchases:     purchases,
		Resources:     resources,
		Contacts:      users,
	})
	c.Connections = connsvc.NewService(connsvc.Dependencies{
		Requests:  requests,
		Resolver:  c.Entitlements,
		Resources: resources,
		Contacts:  users,
		Checker:   checker,
		Tx:        txRunner,
		Locker:    c.Locks,
		Logger:    log.Named("connections"),
	})
	c.Connections.AttachAuditor(c.Audit)

	c.Resources = resourcesvc.NewService(resourcesvc.Dependencies{
		Store:   resources,
		Users:   users,
		Checker: checker,
		Logger:  log.Named("resources"),
	})
	c.Resources.AttachAuditor(c.Audit)

	c.Subscriptions = subsvc.NewService(subsvc.Dependencies{
		Store:  subscriptions,
		Locker: c.Locks,
		Logger: log.Named("subscriptions"),
	})
	c.Subscriptions.AttachAuditor(c.Audit)

	processor, err := stripecheckout.New(stripecheckout.Config{
		SecretKey:   cfg.Stripe.SecretKey,
		Currency:    cfg.Stripe.Currency,
		SuccessURL:  cfg.Stripe.SuccessURL,
		CancelURL:   cfg.Stripe.CancelURL,
		PlanPrices:  cfg.Stripe.PlanPrices,
		ProductName: cfg.Stripe.ProductName,
	}, httpclient.New(cfg.Stripe.Timeout))
	if err != nil {
		log.Warn("payment processor disabled", zap.Error(err))
	}

	deps := paymentsvc.Dependencies{
		Purchases:     purchases,
		Subscriptions: subscriptions,
		Staging:       redrepo.NewStagingRepo(redisClient, cfg.Staging.TTL),
		Resolver:      c.Entitlements,
		Resources:     resources,
		Requests:      c.Connections,
		Tx:            txRunner,
		Locker:        c.Locks,
		Logger:        log.Named("payments"),
		Config: paymentsvc.Config{
			DirectAccessAmount: cfg.Pricing.DirectAccessAmount,
			Plans:              cfg.Pricing.Plans,
			StaleAfter:         cfg.Sweep.StaleAfter,
			SweepBatch:         cfg.Sweep.Batch,
			RecheckWindow:      cfg.Sweep.RecheckWindow,
		},
	}
	// A typed nil would defeat the service's nil checks.
	if processor != nil {
		deps.Processor = processor
	}
	c.Payments = paymentsvc.NewService(deps)
	c.Payments.AttachAuditor(c.Audit)

	return c, nil
}

func (c *Core) attachSinks(cfg config.Config, log *zap.Logger) {
	s3Client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	switch {
	case err != nil:
		log.Warn("s3 init failed, audit archive disabled", zap.Error(err))
	case s3Client != nil:
		c.S3 = s3Client
		c.Audit.AttachSink("s3", audit.NewS3Archive(s3Client, cfg.S3.Bucket, cfg.S3.AuditPrefix))
	}

	if cfg.RabbitMQ.URL != "" {
		c.Publisher = rabbitmq.Connect(cfg.RabbitMQ.URL, log.Named("rabbitmq"))
		c.Audit.AttachSink("rabbitmq", audit.NewPublisherSink(c.Publisher, cfg.RabbitMQ.Exchange))
	}
}

// Close releases connections in reverse order of Build.
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	var closeErr error
	if c.Redis != nil {
		closeErr = c.Redis.Close()
	}
	if c.Postgres != nil {
		c.Postgres.Close()
	}
	return closeErr
}

// RedisPinger adapts the redis client to a plain error-returning health check.
type RedisPinger struct {
	Client *goredis.Client
}

func (p RedisPinger) Ping(ctx context.Context) error {
	if p.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return p.Client.Ping(ctx).Err()
}
