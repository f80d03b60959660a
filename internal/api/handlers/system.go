package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydranamed/internal/api/models"
	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/server"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
)

// Health reports that the API is up.
// @Summary Health check
// @Description Returns ok while the API is serving
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Status returns the lifecycle phase, the production generation and runtime
// statistics.
// @Summary Server status
// @Description Returns the lifecycle phase, production generation, listeners and query counters
// @Tags system
// @Produce json
// @Success 200 {object} models.ServerStatusResponse
// @Security ApiKeyAuth
// @Router /status [get]
func (h *Handler) Status(c *gin.Context) {
	st := h.ctrl.Status()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	listening := st.Listening
	if listening == nil {
		listening = []string{}
	}
	c.JSON(http.StatusOK, models.ServerStatusResponse{
		Phase:         st.Phase,
		Generation:    st.Generation,
		Views:         st.Views,
		Zones:         st.Zones,
		ManagedZones:  st.ManagedZones,
		Started:       st.Started,
		LastReload:    st.LastReload,
		LastError:     st.LastError,
		Listening:     listening,
		Uptime:        time.Since(h.startTime).Round(time.Second).String(),
		GoRoutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
		Queries: models.QueryStats{
			Total:  st.QueriesTotal,
			Active: st.QueriesActive,
		},
	})
}

// Reload re-reads the configuration file. A rejected configuration leaves
// the previous one serving and is reported as 422.
// @Summary Reload configuration
// @Description Re-reads the configuration file and publishes a new generation
// @Tags system
// @Produce json
// @Success 200 {object} models.ReloadResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Failure 504 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /reload [post]
func (h *Handler) Reload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.reloadTimeout)
	defer cancel()

	if err := h.ctrl.Reconfigure(ctx); err != nil {
		h.logger.Warn("api reload failed", "err", err)
		c.JSON(reloadStatus(err), models.ErrorResponse{Error: err.Error()})
		return
	}
	st := h.ctrl.Status()
	c.JSON(http.StatusOK, models.ReloadResponse{Status: "reloaded", Generation: st.Generation})
}

func reloadStatus(err error) int {
	switch {
	case errors.Is(err, server.ErrInvalidPhase):
		return http.StatusConflict
	case errors.Is(err, config.ErrParse),
		errors.Is(err, zone.ErrConfig),
		errors.Is(err, view.ErrDuplicateZone),
		errors.Is(err, view.ErrDuplicateView):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
