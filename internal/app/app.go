// Package app assembles the engine's components into one dependency graph
// and owns their startup/shutdown order. Grounded on the teacher's
// internal/app/app.go: a single App struct built by New, closed by Close,
// with construction ordered so each component's dependencies already exist
// when it is built. The teacher wires search/chat/crawler services; this
// App wires the job-orchestration stack spec.md §4 describes instead.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/batch"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/common"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/downloader"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/jobstore"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/lifecycle"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/queue"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/retention"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/server"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/validate"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/vault"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/webhook"
)

const webhookSecretFileName = ".webhook_secret"

// App owns every long-lived component and the order to start/stop them in.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Store     *jobstore.Store
	Vault     *vault.Vault
	Retention *retention.Scheduler
	Webhooks  *webhook.Notifier
	Adapter   *downloader.Adapter
	Batches   *batch.Coordinator
	Pool      *queue.Pool
	Server    *server.Server

	purgeCron *cron.Cron
}

// New builds every component in dependency order and returns a ready-to-run
// App. Order mirrors the teacher's initDatabase -> initServices ->
// initHandlers staging: storage-adjacent components first (store, vault,
// retention), then the notifier and adapter that use them, then the
// lifecycle integrator that threads a job through all of them, then the
// worker pool built with that integrator's callback, then the batch
// coordinator and HTTP server that submit into the pool.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not create storage directory", err)
	}

	store := jobstore.New()

	vaultDir := filepath.Join(cfg.Storage.Dir, "cookies")
	credVault, err := vault.Open(vaultDir, cfg.Vault.EncryptionKey, logger)
	if err != nil {
		return nil, err
	}

	pathValidator, err := validate.NewPathValidator(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	retentionScheduler := retention.New(cfg.Storage.Dir, logger)

	secret, err := resolveWebhookSecret(cfg.Storage.Dir, cfg.Webhook.Secret)
	if err != nil {
		return nil, err
	}
	webhookCfg := webhook.DefaultConfig()
	webhookCfg.Enabled = cfg.Webhook.Enable
	webhookCfg.Secret = secret
	if cfg.Webhook.TimeoutSec > 0 {
		webhookCfg.PerAttemptTimeout = time.Duration(cfg.Webhook.TimeoutSec) * time.Second
	}
	if cfg.Webhook.MaxRetries > 0 {
		webhookCfg.MaxRetries = cfg.Webhook.MaxRetries
	}
	notifier := webhook.New(webhookCfg, &http.Client{}, logger)

	adapter := downloader.New(logger)

	integrator := lifecycle.New(lifecycle.Config{
		StorageRoot:     cfg.Storage.Dir,
		FileRetention:   cfg.FileRetention(),
		ProgressTimeout: time.Duration(cfg.Download.ProgressTimeoutSec) * time.Second,
		GracePeriod:     10 * time.Second,
	}, lifecycle.Deps{
		Adapter:   adapter,
		Vault:     credVault,
		Retention: retentionScheduler,
		Store:     store,
		Batches:   noopBatchReporter{}, // replaced below once the coordinator exists
		Webhooks:  notifier,
		Logger:    logger,
	})

	pool := queue.New(queue.Config{
		Workers:        cfg.Workers.Count,
		MaxConcurrent:  cfg.Workers.MaxConcurrentDownloads,
		QueueDepth:     cfg.Workers.Count * 4,
		DefaultTimeout: time.Duration(cfg.Download.DefaultTimeoutSec) * time.Second,
	}, store, integrator.Callback, logger)

	coordinator := batch.New(pool, logger)
	integrator.SetBatchReporter(coordinator)

	httpServer := server.New(server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		APIKey:           cfg.Admission.APIKey,
		RequireAPIKey:    cfg.Admission.RequireAPIKey,
		RateLimitRPS:     cfg.Admission.RateLimitRPS,
		RateLimitBurst:   cfg.Admission.RateLimitBurst,
		MaxContentLength: cfg.Download.MaxContentLength,
		AllowedDomains:   cfg.Admission.AllowedDomains,
		Environment:      cfg.Environment,
	}, server.Deps{
		Jobs:          pool,
		Reader:        store,
		Batches:       coordinator,
		Vault:         credVault,
		Prober:        adapter,
		PathValidator: pathValidator,
		Logger:        logger,
	})

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Vault:     credVault,
		Retention: retentionScheduler,
		Webhooks:  notifier,
		Adapter:   adapter,
		Batches:   coordinator,
		Pool:      pool,
		Server:    httpServer,
	}

	a.Retention.Start()
	a.Pool.Start()
	a.startPurgeCron()

	return a, nil
}

// startPurgeCron runs Store.PurgeOlderThan on Storage.JobPurgeInterval,
// resolving spec.md's open question on job-record retention: a job record
// outlives its on-disk artifact by the same horizon, then both are gone.
// Grounded on claudegate's ticker-driven cleanup loop, using robfig/cron/v3
// in place of a raw time.Ticker since the teacher's own pack already
// carries robfig/cron for scheduled work elsewhere.
func (a *App) startPurgeCron() {
	interval := a.Config.JobPurgeInterval()
	spec := "@every " + interval.String()

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		purged := a.Store.PurgeOlderThan(a.Config.FileRetention())
		if purged > 0 {
			a.Logger.Info().Int("purged", purged).Msg("app: purged terminal job records past retention")
		}
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("spec", spec).Msg("app: failed to schedule job purge, purge disabled")
		return
	}
	c.Start()
	a.purgeCron = c
}

// Close stops every background component: the purge cron first, then the
// HTTP listener (stop admitting new work), then the worker pool (drain
// in-flight jobs), then the retention scheduler.
func (a *App) Close() {
	if a.purgeCron != nil {
		ctx := a.purgeCron.Stop()
		<-ctx.Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("app: HTTP server shutdown error")
	}

	a.Pool.Shutdown(5 * time.Second)
	a.Retention.Stop()
}

// resolveWebhookSecret mirrors vault.resolveKey's persist-or-generate
// idiom: an explicit secret wins, otherwise one is generated on first boot
// and persisted under the storage root so restarts keep signing with the
// same key.
func resolveWebhookSecret(storageDir, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	path := filepath.Join(storageDir, webhookSecretFileName)
	if data, err := os.ReadFile(path); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apierr.Wrap(apierr.Internal, "could not generate webhook secret", err)
	}
	secret := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", apierr.Wrap(apierr.Internal, "could not persist generated webhook secret", err)
	}
	return secret, nil
}

// noopBatchReporter satisfies lifecycle.BatchReporter during the brief
// window between building the Integrator and building the Coordinator that
// depends on it; New replaces it via SetBatchReporter before the pool
// starts, so no job ever observes the no-op.
type noopBatchReporter struct{}

func (noopBatchReporter) OnChildProgress(batchID, childID string, percent float64) {}
func (noopBatchReporter) OnChildTransition(batchID, childID string, state models.JobState) {
}
