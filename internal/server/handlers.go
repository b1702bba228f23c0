package server

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/downloader"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/jobstore"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/validate"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// bindAndValidate decodes the JSON body into dst, runs struct validation,
// and writes a typed error response on failure. Returns false if the
// handler should stop.
func (s *Server) bindAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, err)
		return false
	}
	if err := s.bodyValidator.Struct(dst); err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "request body failed validation", err))
		return false
	}
	return true
}

// createSingleDownload handles POST /api/v1/download.
func (s *Server) createSingleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !s.bindAndValidate(w, r, &req) {
		return
	}
	if _, err := s.urlValidator.Validate(req.URL); err != nil {
		writeError(w, err)
		return
	}

	id, err := s.jobs.Submit(req.toPayload(), models.KindSingle, "")
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.reader.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

// jobSnapshotHandler returns GET /api/v1/download/{id}.
func (s *Server) jobSnapshotHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.reader.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobToResponse(job))
	}
}

// jobLogsHandler returns GET /api/v1/download/{id}/logs.
func (s *Server) jobLogsHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.reader.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, logsResponse{Logs: job.Logs, Total: len(job.Logs)})
	}
}

// jobCancelHandler handles DELETE /api/v1/download/{id}.
func (s *Server) jobCancelHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cancelled, err := s.jobs.Cancel(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
	}
}

// handleMetadata handles GET /api/v1/metadata?url=...
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		target, ok := s.requireURLParam(w, r)
		if !ok {
			return
		}
		meta, err := s.prober.ProbeMetadata(r.Context(), target)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}})
}

// handleFormats handles GET /api/v1/formats?url=...
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		target, ok := s.requireURLParam(w, r)
		if !ok {
			return
		}
		formats, err := s.prober.ListFormats(r.Context(), target)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"formats": formats})
	}})
}

// handlePlaylistPreview handles GET /api/v1/playlist/preview?url=...
func (s *Server) handlePlaylistPreview(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		target, ok := s.requireURLParam(w, r)
		if !ok {
			return
		}
		entries, err := s.prober.ListPlaylist(r.Context(), target)
		if err != nil {
			writeError(w, err)
			return
		}
		page, pageSize := paginationParams(r)
		writeJSON(w, http.StatusOK, paginate(entries, page, pageSize))
	}})
}

// handlePlaylistDownload handles POST /api/v1/playlist/download.
func (s *Server) handlePlaylistDownload(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
		var req playlistDownloadRequest
		if !s.bindAndValidate(w, r, &req) {
			return
		}
		if _, err := s.urlValidator.Validate(req.URL); err != nil {
			writeError(w, err)
			return
		}
		if _, err := validate.ParseItemRange(req.ItemRange); err != nil {
			writeError(w, err)
			return
		}

		payload := req.toPayload()
		payload.ItemRange = req.ItemRange
		id, err := s.jobs.Submit(payload, models.KindPlaylist, "")
		if err != nil {
			writeError(w, err)
			return
		}
		job, err := s.reader.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobToResponse(job))
	}})
}

// handleChannelInfo handles GET /api/v1/channel/info?url=...&...filters.
func (s *Server) handleChannelInfo(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		target, ok := s.requireURLParam(w, r)
		if !ok {
			return
		}
		filter, err := parseChannelFilterQuery(r.URL.Query())
		if err != nil {
			writeError(w, err)
			return
		}

		entries, err := s.prober.ListPlaylist(r.Context(), target)
		if err != nil {
			writeError(w, err)
			return
		}
		filtered := applyChannelFilter(entries, filter)
		page, pageSize := paginationParams(r)
		writeJSON(w, http.StatusOK, paginate(filtered, page, pageSize))
	}})
}

// handleChannelDownload handles POST /api/v1/channel/download.
func (s *Server) handleChannelDownload(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
		var req channelDownloadRequest
		if !s.bindAndValidate(w, r, &req) {
			return
		}
		if _, err := s.urlValidator.Validate(req.URL); err != nil {
			writeError(w, err)
			return
		}

		filter, err := channelFilterFromRequest(req)
		if err != nil {
			writeError(w, err)
			return
		}

		payload := req.downloadRequest.toPayload()
		payload.ChannelFilter = filter
		payload.MaxDownloads = req.MaxDownloads
		id, err := s.jobs.Submit(payload, models.KindChannel, "")
		if err != nil {
			writeError(w, err)
			return
		}
		job, err := s.reader.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobToResponse(job))
	}})
}

// handleBatchCreate handles POST /api/v1/batch/download.
func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
		var req batchDownloadRequest
		if !s.bindAndValidate(w, r, &req) {
			return
		}
		for _, u := range req.URLs {
			if _, err := s.urlValidator.Validate(u); err != nil {
				writeError(w, err)
				return
			}
		}

		id, err := s.batches.CreateBatch(req.URLs, req.SharedOptions.toPayload(), req.Policy, req.ConcurrencyCap)
		if err != nil {
			writeError(w, err)
			return
		}
		batch, err := s.batches.Status(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, batchToResponse(batch))
	}})
}

// batchStatusHandler returns GET /api/v1/batch/{id}.
func (s *Server) batchStatusHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := s.batches.Status(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, batchToResponse(batch))
	}
}

// batchCancelHandler handles DELETE /api/v1/batch/{id}.
func (s *Server) batchCancelHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.batches.Cancel(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
	}
}

// listCredentials handles GET /api/v1/cookies.
func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	records, err := s.vault.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": records})
}

// createCredential handles POST /api/v1/cookies. The jar body may be raw
// Netscape-format text or base64, matching spec.md §6's "upload jar" mode;
// browser-extraction mode is rejected here since it requires a host-side
// browser profile this service never has access to.
func (s *Server) createCredential(w http.ResponseWriter, r *http.Request) {
	var req cookiesUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SourceBrowser != "" && req.Jar == "" {
		writeError(w, apierr.New(apierr.InvalidFormat, "browser extraction is not supported; upload a cookie jar instead"))
		return
	}

	blob := []byte(req.Jar)
	if decoded, err := base64.StdEncoding.DecodeString(req.Jar); err == nil {
		blob = decoded
	}

	id, err := s.vault.Put(blob, req.DisplayName, req.SourceBrowser)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := s.vault.Metadata(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// credentialMetadataHandler handles GET /api/v1/cookies/{id}.
func (s *Server) credentialMetadataHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta, err := s.vault.Metadata(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

// credentialDeleteHandler handles DELETE /api/v1/cookies/{id}.
func (s *Server) credentialDeleteHandler(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.vault.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleHealth handles GET /api/v1/health, always exempt from auth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}})
}

// handleMetrics handles GET /metrics with a minimal Prometheus text
// exposition of job-store counts; scraping/alerting is out of scope, this
// exists so an operator's existing Prometheus can still see liveness.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		counts := map[models.JobState]int{}
		for _, job := range s.reader.List(jobstore.Filter{}) {
			counts[job.State]++
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		for _, state := range []models.JobState{models.StateQueued, models.StateRunning, models.StateCompleted, models.StateFailed, models.StateCancelled} {
			w.Write([]byte("yt_dlp_jobs_total{state=\"" + strings.ToLower(string(state)) + "\"} " + strconv.Itoa(counts[state]) + "\n"))
		}
	}})
}

// handleFiles handles GET /files/{relative}, serving the downloaded file
// confined to the storage root.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
		relPath := strings.TrimPrefix(r.URL.Path, "/files/")
		resolved, err := s.pathValidator.Confine(relPath)
		if err != nil {
			writeError(w, err)
			return
		}
		http.ServeFile(w, r, resolved)
	}})
}

// requireURLParam reads and validates the "url" query parameter shared by
// the metadata/formats/playlist/channel read endpoints.
func (s *Server) requireURLParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("url")
	parsed, err := s.urlValidator.Validate(raw)
	if err != nil {
		writeError(w, err)
		return "", false
	}
	return parsed.String(), true
}

func paginationParams(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v <= maxPageSize {
		pageSize = v
	}
	return page, pageSize
}

type pagedResult struct {
	Items      interface{} `json:"items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalItems int         `json:"total_items"`
}

func paginate(entries []downloader.PlaylistEntry, page, pageSize int) pagedResult {
	total := len(entries)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return pagedResult{Items: entries[start:end], Page: page, PageSize: pageSize, TotalItems: total}
}

func parseChannelFilterQuery(q url.Values) (*models.ChannelFilter, error) {
	filter := &models.ChannelFilter{SortBy: q.Get("sort_by")}

	if v := q.Get("date_after"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "date_after must be YYYY-MM-DD")
		}
		filter.DateAfter = &t
	}
	if v := q.Get("date_before"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "date_before must be YYYY-MM-DD")
		}
		filter.DateBefore = &t
	}
	if v := q.Get("min_views"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "min_views must be an integer")
		}
		filter.MinViews = n
	}
	if v := q.Get("max_views"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "max_views must be an integer")
		}
		filter.MaxViews = n
	}
	if v := q.Get("min_duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "min_duration must be an integer")
		}
		filter.MinDurSec = n
	}
	if v := q.Get("max_duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "max_duration must be an integer")
		}
		filter.MaxDurSec = n
	}
	return filter, nil
}

func channelFilterFromRequest(req channelDownloadRequest) (*models.ChannelFilter, error) {
	filter := &models.ChannelFilter{
		MinViews:  req.MinViews,
		MaxViews:  req.MaxViews,
		MinDurSec: req.MinDuration,
		MaxDurSec: req.MaxDuration,
		SortBy:    req.SortBy,
	}
	if req.DateAfter != "" {
		t, err := time.Parse("2006-01-02", req.DateAfter)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "date_after must be YYYY-MM-DD")
		}
		filter.DateAfter = &t
	}
	if req.DateBefore != "" {
		t, err := time.Parse("2006-01-02", req.DateBefore)
		if err != nil {
			return nil, apierr.New(apierr.Validation, "date_before must be YYYY-MM-DD")
		}
		filter.DateBefore = &t
	}
	return filter, nil
}

// applyChannelFilter narrows and sorts playlist entries per spec.md §6's
// channel listing filters. Entries missing the filtered field (e.g. a
// flat-playlist probe with no view count) pass the filter rather than
// being dropped, since yt-dlp's flat mode does not always populate every
// field.
func applyChannelFilter(entries []downloader.PlaylistEntry, filter *models.ChannelFilter) []downloader.PlaylistEntry {
	out := make([]downloader.PlaylistEntry, 0, len(entries))
	for _, e := range entries {
		if filter.MinViews > 0 && e.ViewCount > 0 && e.ViewCount < filter.MinViews {
			continue
		}
		if filter.MaxViews > 0 && e.ViewCount > 0 && e.ViewCount > filter.MaxViews {
			continue
		}
		if filter.MinDurSec > 0 && e.DurationSec > 0 && int(e.DurationSec) < filter.MinDurSec {
			continue
		}
		if filter.MaxDurSec > 0 && e.DurationSec > 0 && int(e.DurationSec) > filter.MaxDurSec {
			continue
		}
		if filter.DateAfter != nil || filter.DateBefore != nil {
			uploadDate, err := time.Parse("20060102", e.UploadDate)
			if err == nil {
				if filter.DateAfter != nil && uploadDate.Before(*filter.DateAfter) {
					continue
				}
				if filter.DateBefore != nil && uploadDate.After(*filter.DateBefore) {
					continue
				}
			}
		}
		out = append(out, e)
	}

	switch filter.SortBy {
	case "views":
		sort.SliceStable(out, func(i, j int) bool { return out[i].ViewCount > out[j].ViewCount })
	case "duration":
		sort.SliceStable(out, func(i, j int) bool { return out[i].DurationSec > out[j].DurationSec })
	case "date":
		sort.SliceStable(out, func(i, j int) bool { return out[i].UploadDate > out[j].UploadDate })
	}
	return out
}
