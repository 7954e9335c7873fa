package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"filewatch/internal/logging"
	"filewatch/internal/version"
	"filewatch/internal/watcher"
)

type RestHandler struct {
	Hub       *watcher.Hub
	Logger    *logging.Logger
	StartedAt time.Time
}

type statusResponse struct {
	Version    string          `json:"version"`
	GitCommit  string          `json:"git_commit,omitempty"`
	ServerTime time.Time       `json:"server_time"`
	StartedAt  time.Time       `json:"started_at"`
	Watchers   []watcher.Stats `json:"watchers"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

type clientLogRequest struct {
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Context map[string]string `json:"context"`
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	versionInfo := version.GetVersionInfo()
	response := statusResponse{
		Version:    versionInfo.Version,
		GitCommit:  versionInfo.GitCommit,
		ServerTime: time.Now().UTC(),
		StartedAt:  h.StartedAt,
		Watchers:   []watcher.Stats{},
	}
	for _, instance := range h.Hub.Watchers() {
		response.Watchers = append(response.Watchers, instance.Stats())
	}
	sort.Slice(response.Watchers, func(i, j int) bool {
		return response.Watchers[i].Root < response.Watchers[j].Root
	})
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleEvents(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Hub == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "event hub unavailable"}
	}
	limit := 100
	if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		limit = parsed
	}
	types := parseEventTypes(r.URL.Query().Get("types"))
	notifications := filterNotifications(h.Hub.Recent(0), types)
	if len(notifications) > limit {
		notifications = notifications[len(notifications)-limit:]
	}
	if notifications == nil {
		notifications = []watcher.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
	return nil
}

func (h *RestHandler) requireLogger() *apiError {
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "log buffer unavailable"}
	}
	return nil
}
