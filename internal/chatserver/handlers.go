// internal/chatserver/handlers.go

package chatserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/messaging"
)

type Handler struct {
	service   Service
	hub       *Hub
	upgrader  websocket.Upgrader
	rateLimit rate.Limit
	rateBurst int
	started   time.Time
}

// HandlerConfig carries the websocket settings
type HandlerConfig struct {
	RateLimit      float64
	RateBurst      int
	AllowedOrigins string
}

func NewHandler(service Service, hub *Hub, cfg HandlerConfig) *Handler {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	return &Handler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		rateLimit: rate.Limit(cfg.RateLimit),
		rateBurst: cfg.RateBurst,
		started:   time.Now(),
	}
}

// HandleWebSocket upgrades GET /ws/{user_id}
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if userID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing user id")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for %s: %v", userID, err)
		return
	}

	client := NewClient(h.hub, conn, userID, h.service, rate.NewLimiter(h.rateLimit, h.rateBurst))
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	client.Start()
}

// SendMessage handles POST /users/{user_id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	var req messaging.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	message, err := h.service.SendMessage(r.Context(), userID, req, "rest")
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, message)
}

// GetConversations handles GET /users/{user_id}/conversations
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	conversations, err := h.service.GetConversations(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
	})
}

// GetMessages handles GET /users/{user_id}/conversations/{conversation_id}/messages
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.service.GetMessages(r.Context(), vars["user_id"], vars["conversation_id"], limit)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// MarkRead handles POST /users/{user_id}/conversations/{conversation_id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.service.MarkConversationRead(r.Context(), vars["user_id"], vars["conversation_id"]); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetUnreadCount handles GET /users/{user_id}/unread
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.GetUnreadCount(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
}

// HealthCheck reports store reachability and open connections
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.service.Ping(r.Context()); err != nil {
		log.Printf("Health check: store unreachable: %v", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, code, map[string]interface{}{
		"status":      status,
		"connections": h.hub.GetActiveConnections(),
		"timestamp":   time.Now().Format(time.RFC3339),
		"uptime":      time.Since(h.started).String(),
	})
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case utils.IsValidationError(err):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConversationNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Conversation not found")
	default:
		log.Printf("Chat service error: %v", err)
		utils.RespondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
