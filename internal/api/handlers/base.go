// Package handlers implements the REST API endpoint handlers for hydranamed.
//
// REST API Endpoints:
//
// System:
//   - GET /api/v1/health - Health check status
//   - GET /api/v1/status - Lifecycle phase, production generation and query counters
//   - POST /api/v1/reload - Reload the configuration file (same as SIGHUP)
//
// Views and zones (read only, from the production generation):
//   - GET /api/v1/views - Views in match order
//   - GET /api/v1/views/:view/zones - Zones of a view
//   - GET /api/v1/views/:view/zones/:zone - Zone details with all records
//   - GET /api/v1/views/:view/cache - View cache in master file format
//
// Views with the same name in several classes are told apart with the
// ?class= query parameter; without it the first view with the name is used.
//
// Authentication:
//
// When api.api_key is configured every endpoint except /health requires the
// X-API-Key header. The OpenAPI description is served at /swagger/index.html.
//
// @title hydranamed Management API
// @version 1.0
// @description REST API for inspecting and reloading the hydranamed name server.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jroosing/hydranamed/internal/server"
	"github.com/jroosing/hydranamed/internal/view"
)

// Controller is the part of the name server the API drives.
type Controller interface {
	Status() server.Status
	Views() *view.List
	Reconfigure(ctx context.Context) error
}

// Handler contains dependencies for API handlers.
type Handler struct {
	ctrl          Controller
	logger        *slog.Logger
	startTime     time.Time
	reloadTimeout time.Duration
}

// DefaultReloadTimeout bounds a reload requested through the API.
const DefaultReloadTimeout = 2 * time.Minute

// New creates a new Handler driving ctrl.
func New(ctrl Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ctrl:          ctrl,
		logger:        logger,
		startTime:     time.Now(),
		reloadTimeout: DefaultReloadTimeout,
	}
}
