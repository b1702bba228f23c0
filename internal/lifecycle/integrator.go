// Package lifecycle wires components A-I into the single callback the
// worker pool invokes per job: resolve credential, run the adapter,
// forward progress, record the result, schedule retention, and notify
// webhook subscribers. Grounded on how the teacher's internal/queue
// dispatcher threads a job through services before reporting its
// terminal status back to the job manager, generalized to spec.md
// §4.J's single integration point for every job kind.
package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/downloader"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/retention"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/webhook"
)

// Runner is the subset of downloader.Adapter the integrator needs.
type Runner interface {
	Run(ctx context.Context, req downloader.Request) (*models.Result, error)
}

// CredentialResolver is the subset of vault.Vault the integrator needs.
type CredentialResolver interface {
	Get(id string) (path string, cleanup func(), err error)
}

// ProgressStore is the subset of jobstore.Store the integrator needs to
// keep a running job's progress and logs current.
type ProgressStore interface {
	PatchProgress(id string, progress models.Progress) error
	AppendLog(id string, level, message string) error
}

// BatchReporter is the subset of batch.Coordinator the integrator needs
// to keep a batch_child job's parent aggregate current.
type BatchReporter interface {
	OnChildProgress(batchID, childID string, percent float64)
	OnChildTransition(batchID, childID string, terminalState models.JobState)
}

// Notifier is the subset of webhook.Notifier the integrator needs.
type Notifier interface {
	Dispatch(ctx context.Context, destURL string, event webhook.Event)
	ForgetJob(jobID string)
}

// Config tunes the integrator's storage and timing knobs.
type Config struct {
	StorageRoot     string
	FileRetention   time.Duration
	ProgressTimeout time.Duration
	GracePeriod     time.Duration
}

// Deps bundles every collaborator the integrator threads a job through.
// Retention is the concrete *retention.Scheduler rather than a narrowed
// interface: its Schedule method returns a *retention.Handle, and Go's
// interface satisfaction is exact on return types, so a local interface
// wrapping it would buy nothing over depending on the type directly.
type Deps struct {
	Adapter   Runner
	Vault     CredentialResolver
	Retention *retention.Scheduler
	Store     ProgressStore
	Batches   BatchReporter
	Webhooks  Notifier
	Logger    arbor.ILogger
}

// Integrator holds the wired collaborators and exposes Callback, the
// function the worker pool invokes for every dequeued job.
type Integrator struct {
	cfg  Config
	deps Deps
}

// New builds an Integrator ready to produce a queue.Callback.
func New(cfg Config, deps Deps) *Integrator {
	return &Integrator{cfg: cfg, deps: deps}
}

// SetBatchReporter replaces the batch reporter after construction. It
// exists because the batch coordinator depends on the worker pool, the
// pool is built with this Integrator's Callback, and the Integrator itself
// must exist before the pool does — the coordinator is always built last
// and wired back in once it's ready, before the pool starts dispatching.
func (it *Integrator) SetBatchReporter(b BatchReporter) {
	it.deps.Batches = b
}

// Callback matches queue.Callback's signature exactly so it can be passed
// straight to queue.New.
func (it *Integrator) Callback(ctx context.Context, job models.Job) (patch func(*models.Job), err error) {
	logger := it.deps.Logger
	logger.Debug().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("lifecycle: starting job")

	credentialPath := ""
	var cleanupCredential func()
	if job.Payload.CookiesID != "" {
		credentialPath, cleanupCredential, err = it.deps.Vault.Get(job.Payload.CookiesID)
		if err != nil {
			logger.Warn().Str("job_id", job.ID).Str("credential_id", job.Payload.CookiesID).Err(err).Msg("lifecycle: credential resolution failed")
			it.reportTerminal(ctx, job, nil, err)
			return nil, err
		}
	}
	if cleanupCredential != nil {
		defer cleanupCredential()
	}

	it.deps.Webhooks.Dispatch(ctx, job.Payload.WebhookURL, webhook.NewEvent(webhook.EventDownloadStarted, job.ID, map[string]string{
		"kind": string(job.Kind),
	}))

	sink := it.progressSink(ctx, job)

	req := downloader.Request{
		JobID:               job.ID,
		Payload:              job.Payload,
		CredentialPlaintext:  credentialPath,
		StorageRoot:          it.cfg.StorageRoot,
		ProgressSink:         sink,
		CancelSignal:         job.CancelSignal,
		ProgressTimeout:      it.cfg.ProgressTimeout,
		GracePeriod:          it.cfg.GracePeriod,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline
	}

	result, runErr := it.deps.Adapter.Run(ctx, req)

	it.deps.Webhooks.ForgetJob(job.ID)

	if runErr != nil {
		_ = it.deps.Store.AppendLog(job.ID, "error", runErr.Error())
		it.reportTerminal(ctx, job, nil, runErr)
		return nil, runErr
	}

	absolutePath := filepath.Join(it.cfg.StorageRoot, result.RelativePath)
	result.DeletionInstant = time.Now().UTC().Add(it.cfg.FileRetention)
	it.deps.Retention.Schedule(absolutePath, it.cfg.FileRetention)

	_ = it.deps.Store.AppendLog(job.ID, "info", "download completed: "+result.RelativePath)
	it.reportTerminal(ctx, job, result, nil)

	return func(j *models.Job) {
		j.Result = result
		j.Progress.Percent = 100
	}, nil
}

// progressSink builds the ProgressSink forwarded into the adapter: it
// keeps the job store current, dispatches throttled webhook progress
// events, and (for batch children) reports percent up to the batch
// coordinator so the parent's aggregate stays live between terminal
// transitions.
func (it *Integrator) progressSink(ctx context.Context, job models.Job) downloader.ProgressSink {
	return func(evt downloader.ProgressEvent) {
		percent := percentOf(evt)

		_ = it.deps.Store.PatchProgress(job.ID, models.Progress{
			Percent:         percent,
			DownloadedBytes: evt.Downloaded,
			TotalBytes:      evt.Total,
			SpeedBPS:        evt.SpeedBPS,
			ETASec:          evt.ETASec,
			Basis:           "bytes",
		})

		if job.Kind == models.KindBatchChild && job.ParentBatchID != "" {
			it.deps.Batches.OnChildProgress(job.ParentBatchID, job.ID, percent)
		}

		it.deps.Webhooks.Dispatch(ctx, job.Payload.WebhookURL, webhook.NewEvent(webhook.EventDownloadProgress, job.ID, map[string]interface{}{
			"percent":          percent,
			"downloaded_bytes": evt.Downloaded,
			"total_bytes":      evt.Total,
			"speed_bps":        evt.SpeedBPS,
			"eta_sec":          evt.ETASec,
		}))
	}
}

// reportTerminal dispatches the completed/failed webhook event and, for
// batch children, tells the coordinator which terminal state to record.
// The state mirrors exactly what queue.Pool's finalize will transition
// the job record to: Completed on a nil err, Cancelled if the context was
// cancelled, Failed otherwise.
func (it *Integrator) reportTerminal(ctx context.Context, job models.Job, result *models.Result, runErr error) {
	state := models.StateCompleted
	if runErr != nil {
		state = models.StateFailed
		if errors.Is(ctx.Err(), context.Canceled) {
			state = models.StateCancelled
		}
	}

	if job.Kind == models.KindBatchChild && job.ParentBatchID != "" {
		it.deps.Batches.OnChildTransition(job.ParentBatchID, job.ID, state)
	}

	if runErr != nil {
		code := apierr.CodeOf(runErr)
		it.deps.Webhooks.Dispatch(ctx, job.Payload.WebhookURL, webhook.NewEvent(webhook.EventDownloadFailed, job.ID, map[string]string{
			"code":    string(code),
			"message": runErr.Error(),
		}))
		return
	}

	it.deps.Webhooks.Dispatch(ctx, job.Payload.WebhookURL, webhook.NewEvent(webhook.EventDownloadComplete, job.ID, map[string]interface{}{
		"relative_path": result.RelativePath,
		"size_bytes":    result.SizeBytes,
		"title":         result.Title,
	}))
}

// percentOf derives a 0-100 percent from a progress event's byte counts.
// Total is 0 for streams yt-dlp can't size up front (e.g. some live or
// fragmented formats); those report 0 until the finished event arrives.
func percentOf(evt downloader.ProgressEvent) float64 {
	if evt.State == downloader.ProgressFinished {
		return 100
	}
	if evt.Total <= 0 {
		return 0
	}
	pct := float64(evt.Downloaded) / float64(evt.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
