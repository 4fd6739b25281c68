// internal/chatserver/routes.go

package chatserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the chat endpoints
func RegisterRoutes(router *mux.Router, handler *Handler, auth *AuthMiddleware) {
	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket endpoint
	router.Handle("/ws/{user_id}", auth.Authenticate(http.HandlerFunc(handler.HandleWebSocket))).Methods("GET")

	// REST API endpoints
	users := router.PathPrefix("/users/{user_id}").Subrouter()
	users.Use(auth.Authenticate)

	users.HandleFunc("/messages", handler.SendMessage).Methods("POST")
	users.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	users.HandleFunc("/conversations/{conversation_id}/messages", handler.GetMessages).Methods("GET")
	users.HandleFunc("/conversations/{conversation_id}/read", handler.MarkRead).Methods("POST")
	users.HandleFunc("/unread", handler.GetUnreadCount).Methods("GET")
}

// NewRouter builds the full router with logging and CORS
func NewRouter(handler *Handler, auth *AuthMiddleware, allowedOrigins string) *mux.Router {
	router := mux.NewRouter()
	RegisterRoutes(router, handler, auth)

	// preflight for every path; CORSMiddleware writes the headers
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Use(LoggingMiddleware)
	router.Use(CORSMiddleware(allowedOrigins))
	return router
}
