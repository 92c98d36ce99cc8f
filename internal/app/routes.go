package app

import (
	"github.com/gorilla/mux"

	"li-gateway/internal/common/logging"
	"li-gateway/internal/config"
	"li-gateway/internal/handlers"
	"li-gateway/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, cfg *config.Config, logger logging.Logger) {
	// Add logging middleware to all routes
	router.Use(middleware.Logging(logger))

	// SOAP endpoints
	router.HandleFunc(cfg.InboundPath, h.HandleUICMessage).Methods("POST")
	router.HandleFunc(cfg.ConnectorPath, h.HandleSendOutboundMessage).Methods("POST")

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Admin API
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/hosts", h.GetHosts).Methods("GET")
	api.HandleFunc("/hosts/{name}/reset", h.ResetHost).Methods("POST")
	api.HandleFunc("/routes", h.GetRoutes).Methods("GET")
	api.HandleFunc("/breakers", h.GetBreakers).Methods("GET")
	api.HandleFunc("/messages/{id}/events", h.GetMessageEvents).Methods("GET")
}
