package server

import "net/http"

// setupRoutes configures every endpoint spec.md §6 names.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/download", s.handleDownloadCollection)
	mux.HandleFunc("/api/v1/download/", s.handleDownloadItem) // {id}, {id}/logs

	mux.HandleFunc("/api/v1/metadata", s.handleMetadata)
	mux.HandleFunc("/api/v1/formats", s.handleFormats)

	mux.HandleFunc("/api/v1/playlist/preview", s.handlePlaylistPreview)
	mux.HandleFunc("/api/v1/playlist/download", s.handlePlaylistDownload)

	mux.HandleFunc("/api/v1/channel/info", s.handleChannelInfo)
	mux.HandleFunc("/api/v1/channel/download", s.handleChannelDownload)

	mux.HandleFunc("/api/v1/batch/download", s.handleBatchCreate)
	mux.HandleFunc("/api/v1/batch/", s.handleBatchItem) // {id}

	mux.HandleFunc("/api/v1/cookies", s.handleCookiesCollection)
	mux.HandleFunc("/api/v1/cookies/", s.handleCookiesItem) // {id}

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("/files/", s.handleFiles)

	return mux
}

// handleDownloadCollection handles POST /api/v1/download.
func (s *Server) handleDownloadCollection(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodPost: s.createSingleDownload})
}

// handleDownloadItem routes GET/DELETE /api/v1/download/{id} and
// GET /api/v1/download/{id}/logs, grounded on the teacher's
// path-suffix sub-router shape for dynamic segments.
func (s *Server) handleDownloadItem(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/download/"
	id, sub := splitTrailing(r.URL.Path, prefix)
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if sub == "logs" {
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.jobLogsHandler(id)})
		return
	}
	if sub != "" {
		http.NotFound(w, r)
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.jobSnapshotHandler(id),
		http.MethodDelete: s.jobCancelHandler(id),
	})
}

// handleBatchItem routes GET/DELETE /api/v1/batch/{id}.
func (s *Server) handleBatchItem(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/batch/"
	id, sub := splitTrailing(r.URL.Path, prefix)
	if id == "" || sub != "" {
		http.NotFound(w, r)
		return
	}
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.batchStatusHandler(id),
		http.MethodDelete: s.batchCancelHandler(id),
	})
}

// handleCookiesCollection handles POST/GET /api/v1/cookies.
func (s *Server) handleCookiesCollection(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:  s.listCredentials,
		http.MethodPost: s.createCredential,
	})
}

// handleCookiesItem routes GET/DELETE /api/v1/cookies/{id}.
func (s *Server) handleCookiesItem(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/cookies/"
	id, sub := splitTrailing(r.URL.Path, prefix)
	if id == "" || sub != "" {
		http.NotFound(w, r)
		return
	}
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.credentialMetadataHandler(id),
		http.MethodDelete: s.credentialDeleteHandler(id),
	})
}

// splitTrailing splits the portion of path after prefix into its first
// segment (the {id}) and everything after a following "/", if any.
func splitTrailing(path, prefix string) (id string, sub string) {
	if len(path) <= len(prefix) {
		return "", ""
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
