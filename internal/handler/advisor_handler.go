package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hollisward/kestrel/internal/llm"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/service"
	"github.com/hollisward/kestrel/internal/xe"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// AdvisorHandler exposes the decision engine over HTTP.
type AdvisorHandler struct {
	logger *zap.Logger

	sessions   *service.SessionService
	memory     *service.MemoryService
	alerts     *service.AlertService
	portfolios *service.PortfolioService
	dispatch   *service.DispatchLoop
	gateway    *llm.Gateway
}

func NewAdvisorHandler(
	sessions *service.SessionService,
	memory *service.MemoryService,
	alerts *service.AlertService,
	portfolios *service.PortfolioService,
	dispatch *service.DispatchLoop,
	gateway *llm.Gateway,
	logger *zap.Logger,
) *AdvisorHandler {
	return &AdvisorHandler{
		logger:     logger,
		sessions:   sessions,
		memory:     memory,
		alerts:     alerts,
		portfolios: portfolios,
		dispatch:   dispatch,
		gateway:    gateway,
	}
}

// GetStatus reports dispatch state and model usage.
// GET /api/advisor/status
func (h *AdvisorHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dispatch": h.dispatch.GetStatus(),
		"model":    h.gateway.Model(),
		"usage":    h.gateway.UsageStats(),
	})
}

// GetPortfolios lists active portfolios.
// GET /api/advisor/portfolios
func (h *AdvisorHandler) GetPortfolios(c echo.Context) error {
	ctx := c.Request().Context()

	portfolios, err := h.portfolios.ActivePortfolios(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":      len(portfolios),
		"portfolios": portfolios,
	})
}

// GetPortfolioSummary returns the live snapshot for one portfolio.
// GET /api/advisor/portfolios/:id/summary
func (h *AdvisorHandler) GetPortfolioSummary(c echo.Context) error {
	ctx := c.Request().Context()

	summary, err := h.portfolios.PortfolioSummary(ctx, c.Param("id"))
	if err != nil {
		return xe.ErrPortfolioNotFound
	}

	return c.JSON(http.StatusOK, summary)
}

// GetThreads returns a portfolio's recent conversation threads.
// GET /api/advisor/threads?portfolio_id=xxx&limit=10
func (h *AdvisorHandler) GetThreads(c echo.Context) error {
	ctx := c.Request().Context()

	portfolioID := c.QueryParam("portfolio_id")
	if portfolioID == "" {
		return xe.ErrInvalidParams
	}
	limit := queryInt(c, "limit", 10)

	threads, err := h.memory.ThreadRepo.FindRecentByPortfolio(ctx, portfolioID, time.Time{}, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   len(threads),
		"threads": threads,
	})
}

// GetDecisions returns recent decisions, optionally scoped to one portfolio.
// GET /api/advisor/decisions?portfolio_id=xxx&limit=10
func (h *AdvisorHandler) GetDecisions(c echo.Context) error {
	ctx := c.Request().Context()

	limit := queryInt(c, "limit", 10)

	var (
		decisions []models.TradingDecision
		err       error
	)
	if portfolioID := c.QueryParam("portfolio_id"); portfolioID != "" {
		decisions, err = h.memory.TradingDecisionRepo.FindRecentByPortfolio(ctx, portfolioID, time.Time{}, limit)
	} else {
		decisions, err = h.memory.TradingDecisionRepo.FindRecent(ctx, limit)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":     len(decisions),
		"decisions": decisions,
	})
}

// RunSessionRequest triggers a session on demand.
type RunSessionRequest struct {
	PortfolioID string `json:"portfolio_id" validate:"required"`
	Kind        string `json:"kind" validate:"omitempty,oneof=daily risk event manual"`
	Message     string `json:"message"`
}

// RunSession runs one session synchronously and returns its result.
// POST /api/advisor/sessions
func (h *AdvisorHandler) RunSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req RunSessionRequest
	if err := c.Bind(&req); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	kind := req.Kind
	if kind == "" {
		kind = models.ThreadKindManual
	}

	result, err := h.sessions.RunSession(ctx, req.PortfolioID, kind, req.Message, "api")
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// CreateAlertRequest registers a new threshold alert.
type CreateAlertRequest struct {
	Symbol         string  `json:"symbol" validate:"required"`
	AlertType      string  `json:"alert_type" validate:"required,oneof=percentage_up percentage_down price_target"`
	Threshold      float64 `json:"threshold" validate:"required,gt=0"`
	PortfolioID    string  `json:"portfolio_id"`
	ExpiresInHours int     `json:"expires_in_hours" validate:"omitempty,gt=0"`
}

// CreateAlert registers a threshold alert.
// POST /api/advisor/alerts
func (h *AdvisorHandler) CreateAlert(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateAlertRequest
	if err := c.Bind(&req); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	alert := &models.AlertConfig{
		ID:            ulid.Make().String(),
		Symbol:        req.Symbol,
		AlertType:     req.AlertType,
		Threshold:     req.Threshold,
		BaseThreshold: req.Threshold,
		PortfolioID:   req.PortfolioID,
		IsActive:      true,
	}
	if req.ExpiresInHours > 0 {
		expiresAt := time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		alert.ExpiresAt = &expiresAt
	}

	if err := h.alerts.AlertConfigRepo.Create(ctx, alert); err != nil {
		return err
	}

	h.logger.Info("alert created",
		zap.String("alert_id", alert.ID),
		zap.String("symbol", alert.Symbol),
		zap.String("type", alert.AlertType),
		zap.Float64("threshold", alert.Threshold))

	return c.JSON(http.StatusOK, alert)
}

// GetAlerts lists active alert configs.
// GET /api/advisor/alerts
func (h *AdvisorHandler) GetAlerts(c echo.Context) error {
	ctx := c.Request().Context()

	alerts, err := h.alerts.AlertConfigRepo.FindActive(ctx, time.Now())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// DeleteAlert removes an alert config.
// DELETE /api/advisor/alerts/:id
func (h *AdvisorHandler) DeleteAlert(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.alerts.AlertConfigRepo.DeleteById(ctx, c.Param("id")); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "alert deleted",
	})
}

// GetAlertTriggers lists recent trigger events.
// GET /api/advisor/alerts/triggers?limit=20
func (h *AdvisorHandler) GetAlertTriggers(c echo.Context) error {
	ctx := c.Request().Context()

	limit := queryInt(c, "limit", 20)

	triggers, err := h.alerts.AlertTriggerRepo.FindRecent(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":    len(triggers),
		"triggers": triggers,
	})
}

// RunAlertCycle runs one evaluation sweep on demand.
// POST /api/advisor/alerts/cycle
func (h *AdvisorHandler) RunAlertCycle(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.alerts.RunCycle(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, report)
}

// RegisterRoutes mounts the advisor API.
func (h *AdvisorHandler) RegisterRoutes(g *echo.Group) {
	advisor := g.Group("/advisor")

	advisor.GET("/status", h.GetStatus)
	advisor.GET("/portfolios", h.GetPortfolios)
	advisor.GET("/portfolios/:id/summary", h.GetPortfolioSummary)
	advisor.GET("/threads", h.GetThreads)
	advisor.GET("/decisions", h.GetDecisions)

	advisor.POST("/sessions", h.RunSession)

	advisor.GET("/alerts", h.GetAlerts)
	advisor.POST("/alerts", h.CreateAlert)
	advisor.DELETE("/alerts/:id", h.DeleteAlert)
	advisor.GET("/alerts/triggers", h.GetAlertTriggers)
	advisor.POST("/alerts/cycle", h.RunAlertCycle)
}

func queryInt(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
