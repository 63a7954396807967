package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
)

// NewRouter wires every route. /health stays outside authentication.
func NewRouter(health http.Handler, explorations *ExplorationHandler, devices *DeviceHandler, auth *TokenAuth, log logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger(log))

	router.Handle("/health", health).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Handler)

	api.HandleFunc("/explorations", explorations.Create).Methods("POST")
	api.HandleFunc("/explorations", explorations.List).Methods("GET")
	api.HandleFunc("/explorations/{id}", explorations.GetByID).Methods("GET")
	api.HandleFunc("/devices", devices.List).Methods("GET")

	return router
}
