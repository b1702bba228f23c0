// Package server implements the HTTP admission layer and route table:
// request validation, the middleware chain (logging, auth, rate limit),
// and handlers for every endpoint in spec.md §6. Grounded on the teacher's
// internal/server package: server.go's http.Server wiring and graceful
// Shutdown, middleware.go's chain shape, routes.go's path-suffix
// sub-router pattern for dynamic segments. The handlers themselves are
// new — the teacher has no analogue for a job-orchestration API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/admission"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/downloader"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/jobstore"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/validate"
)

// Submitter is the job-admission surface the server needs from the queue.
type Submitter interface {
	Submit(payload models.Payload, kind models.JobKind, parentBatchID string) (string, error)
	Cancel(jobID string) (bool, error)
}

// JobReader is the read surface the server needs from the job store.
type JobReader interface {
	Get(id string) (models.Job, error)
	List(filter jobstore.Filter) []models.Job
}

// BatchCoordinator is the surface the server needs from the batch
// coordinator.
type BatchCoordinator interface {
	CreateBatch(urls []string, sharedOptions models.Payload, policy models.BatchPolicy, concurrencyCap int) (string, error)
	Status(batchID string) (models.Batch, error)
	Cancel(batchID string) error
}

// CredentialVault is the surface the server needs from the vault.
type CredentialVault interface {
	Put(blob []byte, displayName, sourceBrowser string) (string, error)
	Metadata(id string) (models.CredentialMetadata, error)
	List() ([]models.CredentialMetadata, error)
	Delete(id string) error
}

// Prober is the read-only yt-dlp probe surface the server needs from the
// downloader adapter.
type Prober interface {
	ProbeMetadata(ctx context.Context, u string) (map[string]interface{}, error)
	ListFormats(ctx context.Context, u string) ([]map[string]interface{}, error)
	ListPlaylist(ctx context.Context, u string) ([]downloader.PlaylistEntry, error)
}

// Config tunes the admission layer and HTTP listener.
type Config struct {
	Host             string
	Port             int
	APIKey           string
	RequireAPIKey    bool
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxContentLength int64
	AllowedDomains   []string
	Environment      string
}

// Deps bundles the collaborators New needs, kept separate from Config so
// the HTTP-tuning knobs and the wired components aren't conflated.
type Deps struct {
	Jobs          Submitter
	Reader        JobReader
	Batches       BatchCoordinator
	Vault         CredentialVault
	Prober        Prober
	PathValidator *validate.PathValidator
	Logger        arbor.ILogger
}

// Server wires the admission layer, route table, and http.Server.
type Server struct {
	cfg Config

	jobs    Submitter
	reader  JobReader
	batches BatchCoordinator
	vault   CredentialVault
	prober  Prober

	urlValidator  *validate.URLValidator
	pathValidator *validate.PathValidator
	bodyValidator *validator.Validate

	auth      *admission.Authenticator
	rateLimit *admission.RateLimiter

	logger arbor.ILogger
	router *http.ServeMux
	server *http.Server
}

// New builds a Server ready to Start.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:           cfg,
		jobs:          deps.Jobs,
		reader:        deps.Reader,
		batches:       deps.Batches,
		vault:         deps.Vault,
		prober:        deps.Prober,
		urlValidator:  validate.NewURLValidator(cfg.AllowedDomains, cfg.Environment),
		pathValidator: deps.PathValidator,
		bodyValidator: validator.New(),
		auth:          admission.NewAuthenticator(admission.AuthConfig{Required: cfg.RequireAPIKey, APIKey: cfg.APIKey}),
		rateLimit:     admission.NewRateLimiter(admission.RateLimiterConfig{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}),
		logger:        deps.Logger,
	}

	s.router = s.setupRoutes()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Hour, // playlist/channel polling endpoints stay open across long adapter runs; the download itself runs out-of-band in the worker pool
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start runs the HTTP listener; blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler exposes the wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.Validation, "request body is not valid JSON", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.New(apierr.Internal, err.Error())
	}
	var resp errorResponse
	resp.Error.Code = string(apiErr.Code)
	resp.Error.Message = apiErr.Message
	writeJSON(w, apierr.HTTPStatus(apiErr.Code), resp)
}
