// internal/messenger/status.go

package messenger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/messaging"
)

// StatusHandler serves a read-only view of the local session.
type StatusHandler struct {
	session *messaging.Session
	started time.Time
}

func NewStatusHandler(session *messaging.Session) *StatusHandler {
	return &StatusHandler{session: session, started: time.Now()}
}

// Routes registers the status endpoints
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Get("/conversations", h.Conversations)
	r.Get("/thread", h.Thread)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type statusResponse struct {
	Identity    string `json:"identity"`
	Connection  string `json:"connection"`
	Attempts    int    `json:"reconnect_attempts"`
	UnreadCount int64  `json:"unread_count"`
	OpenThread  string `json:"open_conversation,omitempty"`
	Uptime      string `json:"uptime"`
}

// Status handles GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Identity:   h.session.Identity(),
		Connection: messaging.StateIdle.String(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}

	if conn := h.session.Connection(); conn != nil {
		resp.Connection = conn.State().String()
		resp.Attempts = conn.Attempts()
	}
	if unread := h.session.Unread(); unread != nil {
		resp.UnreadCount = unread.Count()
	}
	if thread := h.session.Thread(); thread != nil {
		if conv, ok := thread.Current(); ok {
			resp.OpenThread = conv.ConversationID
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// Conversations handles GET /conversations
func (h *StatusHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	directory := h.session.Directory()
	if directory == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Not signed in")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": directory.Conversations(),
	})
}

// Thread handles GET /thread
func (h *StatusHandler) Thread(w http.ResponseWriter, r *http.Request) {
	thread := h.session.Thread()
	if thread == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Not signed in")
		return
	}

	conv, ok := thread.Current()
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "No conversation is open")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     thread.Messages(),
		"pending":      thread.Pending(),
	})
}
