package api

import (
	"net/http"
	"strconv"
	"strings"

	"filewatch/internal/logging"
	"filewatch/internal/watcher"
)

const maxEventReplay = 1000

// EventsHandler streams hub notifications over a websocket. The optional
// "types" query parameter is a comma separated list of notification types;
// "replay" sends up to that many recent notifications first.
type EventsHandler struct {
	Hub            *watcher.Hub
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}
	types := parseEventTypes(r.URL.Query().Get("types"))
	replay, err := parseReplay(r.URL.Query().Get("replay"))
	if err != nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusBadRequest,
			Message: err.Message,
		})
		return
	}

	if h.Hub == nil {
		conn, upgradeErr := upgradeWebSocket(w, r, h.AllowedOrigins)
		if upgradeErr != nil {
			return
		}
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "event stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	// Subscribe before the upgrade completes so nothing published after the
	// client connects is missed.
	output, cancel := h.Hub.Stream(types...)
	defer cancel()

	conn, upgradeErr := upgradeWebSocket(w, r, h.AllowedOrigins)
	if upgradeErr != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     upgradeErr,
		})
		return
	}

	var history []watcher.Notification
	if replay > 0 {
		history = filterNotifications(h.Hub.Recent(replay), types)
	}

	serveWSStream(w, r, wsStreamConfig[watcher.Notification]{
		Conn:   conn,
		Output: output,
		Replay: history,
		Logger: h.Logger,
	})
}

func parseEventTypes(raw string) []string {
	var types []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			types = append(types, value)
		}
	}
	return types
}

func parseReplay(raw string) (int, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "invalid replay count"}
	}
	if count > maxEventReplay {
		count = maxEventReplay
	}
	return count, nil
}

func filterNotifications(notifications []watcher.Notification, types []string) []watcher.Notification {
	if len(types) == 0 {
		return notifications
	}
	filtered := make([]watcher.Notification, 0, len(notifications))
	for _, notification := range notifications {
		for _, eventType := range types {
			if notification.EventType == eventType {
				filtered = append(filtered, notification)
				break
			}
		}
	}
	return filtered
}
