package server

import (
	"time"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

// downloadRequest is the body of POST /api/v1/download.
type downloadRequest struct {
	URL          string `json:"url" validate:"required,url"`
	Quality      string `json:"quality,omitempty"`
	Format       string `json:"format,omitempty"`
	AudioOnly    bool   `json:"audio_only,omitempty"`
	Subtitles    bool   `json:"subtitles,omitempty"`
	Thumbnail    bool   `json:"thumbnail,omitempty"`
	Metadata     bool   `json:"metadata,omitempty"`
	PathTemplate string `json:"path_template,omitempty"`
	CookiesID    string `json:"cookies_id,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	TimeoutSec   int    `json:"timeout_sec,omitempty" validate:"omitempty,min=1"`
}

func (r downloadRequest) toPayload() models.Payload {
	return models.Payload{
		URL:          r.URL,
		Quality:      r.Quality,
		Format:       r.Format,
		AudioOnly:    r.AudioOnly,
		Subtitles:    r.Subtitles,
		Thumbnail:    r.Thumbnail,
		Metadata:     r.Metadata,
		PathTemplate: r.PathTemplate,
		CookiesID:    r.CookiesID,
		WebhookURL:   r.WebhookURL,
		TimeoutSec:   r.TimeoutSec,
	}
}

// playlistDownloadRequest is the body of POST /api/v1/playlist/download.
type playlistDownloadRequest struct {
	downloadRequest
	ItemRange string `json:"item_range,omitempty"`
}

// channelDownloadRequest is the body of POST /api/v1/channel/download.
type channelDownloadRequest struct {
	downloadRequest
	DateAfter    string `json:"date_after,omitempty"`
	DateBefore   string `json:"date_before,omitempty"`
	MinDuration  int    `json:"min_duration,omitempty"`
	MaxDuration  int    `json:"max_duration,omitempty"`
	MinViews     int64  `json:"min_views,omitempty"`
	MaxViews     int64  `json:"max_views,omitempty"`
	SortBy       string `json:"sort_by,omitempty"`
	MaxDownloads int    `json:"max_downloads,omitempty"`
}

// batchDownloadRequest is the body of POST /api/v1/batch/download.
type batchDownloadRequest struct {
	URLs           []string           `json:"urls" validate:"required,min=1,max=100,dive,url"`
	ConcurrencyCap int                `json:"concurrency_cap" validate:"required,min=1,max=10"`
	Policy         models.BatchPolicy `json:"policy" validate:"required,oneof=stop_on_error continue_on_error"`
	SharedOptions  downloadRequest    `json:"shared_options"`
}

// cookiesUploadRequest is the body of POST /api/v1/cookies.
type cookiesUploadRequest struct {
	Jar           string `json:"jar,omitempty"`            // base64 or raw Netscape text
	DisplayName   string `json:"name,omitempty"`
	SourceBrowser string `json:"source_browser,omitempty"` // for browser-extraction mode
}

// jobResponse is the JSON shape returned for a job snapshot.
type jobResponse struct {
	ID            string             `json:"id"`
	Kind          models.JobKind     `json:"kind"`
	State         models.JobState    `json:"state"`
	Progress      models.Progress    `json:"progress"`
	Result        *models.Result     `json:"result,omitempty"`
	Error         *models.JobError   `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	ParentBatchID string             `json:"parent_batch_id,omitempty"`
}

func jobToResponse(job models.Job) jobResponse {
	return jobResponse{
		ID:            job.ID,
		Kind:          job.Kind,
		State:         job.State,
		Progress:      job.Progress,
		Result:        job.Result,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		ParentBatchID: job.ParentBatchID,
	}
}

type logsResponse struct {
	Logs  []models.LogLine `json:"logs"`
	Total int              `json:"total"`
}

type batchResponse struct {
	ID             string             `json:"id"`
	State          models.JobState    `json:"state"`
	Policy         models.BatchPolicy `json:"policy"`
	ConcurrencyCap int                `json:"concurrency_cap"`
	ChildIDs       []string           `json:"child_ids"`
	Counts         models.BatchCounts `json:"counts"`
	CreatedAt      time.Time          `json:"created_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

func batchToResponse(b models.Batch) batchResponse {
	return batchResponse{
		ID:             b.ID,
		State:          b.State,
		Policy:         b.Policy,
		ConcurrencyCap: b.ConcurrencyCap,
		ChildIDs:       b.ChildIDs,
		Counts:         b.Counts,
		CreatedAt:      b.CreatedAt,
		CompletedAt:    b.CompletedAt,
	}
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
