package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/downloader"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/jobstore"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/validate"
)

// fakeSubmitter is a minimal Submitter double; it records submitted
// payloads and hands out deterministic job IDs.
type fakeSubmitter struct {
	store     *jobstore.Store
	submitErr error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{store: jobstore.New()}
}

func (f *fakeSubmitter) Submit(payload models.Payload, kind models.JobKind, parentBatchID string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.store.Create(payload, kind, parentBatchID), nil
}

func (f *fakeSubmitter) Cancel(jobID string) (bool, error) {
	return f.store.Transition(jobID, models.StateQueued, models.StateCancelled, nil)
}

type fakeBatches struct {
	createID string
	createErr error
	status    models.Batch
	statusErr error
	cancelErr error
}

func (f *fakeBatches) CreateBatch(urls []string, sharedOptions models.Payload, policy models.BatchPolicy, concurrencyCap int) (string, error) {
	return f.createID, f.createErr
}
func (f *fakeBatches) Status(batchID string) (models.Batch, error) { return f.status, f.statusErr }
func (f *fakeBatches) Cancel(batchID string) error                 { return f.cancelErr }

type fakeVault struct {
	metas  map[string]models.CredentialMetadata
	putID  string
	putErr error
}

func newFakeVault() *fakeVault {
	return &fakeVault{metas: make(map[string]models.CredentialMetadata)}
}

func (f *fakeVault) Put(blob []byte, displayName, sourceBrowser string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	id := f.putID
	if id == "" {
		id = "cred_1"
	}
	f.metas[id] = models.CredentialMetadata{ID: id, DisplayName: displayName, SourceBrowser: sourceBrowser, CreatedAt: time.Now().UTC()}
	return id, nil
}
func (f *fakeVault) Metadata(id string) (models.CredentialMetadata, error) {
	meta, ok := f.metas[id]
	if !ok {
		return models.CredentialMetadata{}, apierr.New(apierr.NotFound, "credential not found")
	}
	return meta, nil
}
func (f *fakeVault) List() ([]models.CredentialMetadata, error) {
	out := make([]models.CredentialMetadata, 0, len(f.metas))
	for _, m := range f.metas {
		out = append(out, m)
	}
	return out, nil
}
func (f *fakeVault) Delete(id string) error {
	if _, ok := f.metas[id]; !ok {
		return apierr.New(apierr.NotFound, "credential not found")
	}
	delete(f.metas, id)
	return nil
}

type fakeProber struct {
	metadata map[string]interface{}
	formats  []map[string]interface{}
	entries  []downloader.PlaylistEntry
	err      error
}

func (f *fakeProber) ProbeMetadata(ctx context.Context, u string) (map[string]interface{}, error) {
	return f.metadata, f.err
}
func (f *fakeProber) ListFormats(ctx context.Context, u string) ([]map[string]interface{}, error) {
	return f.formats, f.err
}
func (f *fakeProber) ListPlaylist(ctx context.Context, u string) ([]downloader.PlaylistEntry, error) {
	return f.entries, f.err
}

func testServer(t *testing.T) (*Server, *fakeSubmitter, *fakeBatches, *fakeVault, *fakeProber) {
	t.Helper()
	sub := newFakeSubmitter()
	batches := &fakeBatches{}
	vault := newFakeVault()
	prober := &fakeProber{}

	pathValidator := mustPathValidator(t)

	s := New(Config{
		Host:           "127.0.0.1",
		Port:           0,
		RequireAPIKey:  false,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		Environment:    "development",
	}, Deps{
		Jobs:          sub,
		Reader:        sub.store,
		Batches:       batches,
		Vault:         vault,
		Prober:        prober,
		PathValidator: pathValidator,
		Logger:        arbor.NewLogger(),
	})
	return s, sub, batches, vault, prober
}

func TestCreateSingleDownload_AcceptsValidRequest(t *testing.T) {
	s, _, _, _, _ := testServer(t)

	body, _ := json.Marshal(map[string]interface{}{"url": "https://www.youtube.com/watch?v=abc123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/download", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StateQueued, resp.State)
	assert.Equal(t, models.KindSingle, resp.Kind)
}

func TestCreateSingleDownload_RejectsDisallowedHostInProduction(t *testing.T) {
	sub := newFakeSubmitter()
	s := New(Config{
		AllowedDomains: []string{"youtube.com"},
		Environment:    "production",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}, Deps{
		Jobs: sub, Reader: sub.store, Batches: &fakeBatches{}, Vault: newFakeVault(), Prober: &fakeProber{},
		PathValidator: mustPathValidator(t), Logger: arbor.NewLogger(),
	})

	body, _ := json.Marshal(map[string]interface{}{"url": "https://example.test/video"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/download", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSingleDownload_RejectsMissingURL(t *testing.T) {
	s, _, _, _, _ := testServer(t)

	body, _ := json.Marshal(map[string]interface{}{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/download", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobSnapshot_NotFound(t *testing.T) {
	s, _, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/job_does_not_exist", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobCancel_Succeeds(t *testing.T) {
	s, sub, _, _, _ := testServer(t)
	id := sub.store.Create(models.Payload{URL: "https://youtube.com/x"}, models.KindSingle, "")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/download/"+id, nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["cancelled"])
}

func TestJobLogs_ReturnsAppendedLines(t *testing.T) {
	s, sub, _, _, _ := testServer(t)
	id := sub.store.Create(models.Payload{URL: "https://youtube.com/x"}, models.KindSingle, "")
	require.NoError(t, sub.store.AppendLog(id, "info", "queued"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/"+id+"/logs", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
}

func TestHandleMetadata_UsesProber(t *testing.T) {
	s, _, _, _, prober := testServer(t)
	prober.metadata = map[string]interface{}{"title": "a video"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metadata?url=https://www.youtube.com/watch?v=abc", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a video", resp["title"])
}

func TestHandlePlaylistPreview_Paginates(t *testing.T) {
	s, _, _, _, prober := testServer(t)
	for i := 0; i < 5; i++ {
		prober.entries = append(prober.entries, downloader.PlaylistEntry{ID: string(rune('a' + i))})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/playlist/preview?url=https://www.youtube.com/playlist?list=x&page=1&page_size=2", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp pagedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.TotalItems)
}

func TestHandleBatchCreate_DelegatesToCoordinator(t *testing.T) {
	s, _, batches, _, _ := testServer(t)
	batches.createID = "batch_1"
	batches.status = models.Batch{ID: "batch_1", State: models.StateRunning, Policy: models.PolicyContinueOnError, ConcurrencyCap: 2}

	body, _ := json.Marshal(map[string]interface{}{
		"urls":            []string{"https://www.youtube.com/watch?v=a", "https://www.youtube.com/watch?v=b"},
		"concurrency_cap": 2,
		"policy":          "continue_on_error",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/download", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "batch_1", resp.ID)
}

func TestCredentialLifecycle_UploadListGetDelete(t *testing.T) {
	s, _, _, vault, _ := testServer(t)
	vault.putID = "cred_42"

	body, _ := json.Marshal(map[string]interface{}{"jar": "example.com\tTRUE\t/\tFALSE\t0\tname\tvalue\n", "name": "my cookies"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cookies", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cookies/cred_42", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/cookies/cred_42", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cookies/cred_42", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	s, _, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_RejectsWithoutAPIKeyWhenRequired(t *testing.T) {
	sub := newFakeSubmitter()
	s := New(Config{RequireAPIKey: true, APIKey: "secret", RateLimitRPS: 1000, RateLimitBurst: 1000}, Deps{
		Jobs: sub, Reader: sub.store, Batches: &fakeBatches{}, Vault: newFakeVault(), Prober: &fakeProber{},
		PathValidator: mustPathValidator(t), Logger: arbor.NewLogger(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/job_x", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_ExemptsHealth(t *testing.T) {
	sub := newFakeSubmitter()
	s := New(Config{RequireAPIKey: true, APIKey: "secret", RateLimitRPS: 1000, RateLimitBurst: 1000}, Deps{
		Jobs: sub, Reader: sub.store, Batches: &fakeBatches{}, Vault: newFakeVault(), Prober: &fakeProber{},
		PathValidator: mustPathValidator(t), Logger: arbor.NewLogger(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func mustPathValidator(t *testing.T) *validate.PathValidator {
	t.Helper()
	v, err := validate.NewPathValidator(t.TempDir())
	require.NoError(t, err)
	return v
}
