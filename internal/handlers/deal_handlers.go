package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// NotificationScheduler queues a templated broadcast to a deal's participants
type NotificationScheduler interface {
	ScheduleDealNotification(ctx context.Context, dealID uuid.UUID, template string, due time.Time) (*models.ScheduledTask, error)
}

type DealHandler struct {
	deals     *services.DealService
	join      *services.JoinService
	lifecycle *services.LifecycleService
	analytics *services.AnalyticsService
	notifier  NotificationScheduler
	logger    logrus.FieldLogger
}

func NewDealHandler(
	deals *services.DealService,
	join *services.JoinService,
	lifecycle *services.LifecycleService,
	analytics *services.AnalyticsService,
	notifier NotificationScheduler,
	logger logrus.FieldLogger,
) *DealHandler {
	return &DealHandler{
		deals:     deals,
		join:      join,
		lifecycle: lifecycle,
		analytics: analytics,
		notifier:  notifier,
		logger:    logger,
	}
}

// RegisterRoutes mounts the admin API under g
func (h *DealHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/deals", h.ListDeals)
	g.POST("/deals", h.CreateDeal)
	g.GET("/deals/:id", h.GetDeal)
	g.PUT("/deals/:id", h.UpdateDeal)
	g.DELETE("/deals/:id", h.DeleteDeal)
	g.GET("/deals/:id/participants", h.ListParticipants)
	g.POST("/deals/:id/join", h.JoinDeal)
	g.GET("/deals/:id/status", h.DealStatus)
	g.POST("/deals/:id/notify", h.NotifyParticipants)
	g.GET("/users/:phone/deals", h.UserDeals)
	g.GET("/analytics", h.Analytics)
	g.POST("/sweeps", h.RunSweep)
}

func dealIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, services.InvalidInput("deal id must be a uuid", err)
	}
	return id, nil
}

func bindBody(c echo.Context, dest interface{}) error {
	if err := c.Bind(dest); err != nil {
		return services.InvalidInput("malformed request body", err)
	}
	return nil
}

func (h *DealHandler) ListDeals(c echo.Context) error {
	deals, err := h.deals.List(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, deals)
}

func (h *DealHandler) CreateDeal(c echo.Context) error {
	var in services.CreateDealInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	deal, err := h.deals.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	h.analytics.Invalidate(c.Request().Context())
	return respond(c, http.StatusCreated, deal)
}

func (h *DealHandler) GetDeal(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	deal, err := h.deals.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, deal)
}

func (h *DealHandler) UpdateDeal(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	var in services.UpdateDealInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	deal, err := h.deals.Update(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	h.analytics.Invalidate(c.Request().Context())
	return respond(c, http.StatusOK, deal)
}

func (h *DealHandler) DeleteDeal(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	if err := h.deals.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	h.analytics.Invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *DealHandler) ListParticipants(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	participants, err := h.deals.Participants(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, participants)
}

type joinRequest struct {
	Phone    string `json:"phone"`
	UserName string `json:"user_name"`
}

// JoinDeal enrolls a phone through the same engine the chat /join command uses
func (h *DealHandler) JoinDeal(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	var req joinRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Phone) == "" {
		return services.InvalidInput("phone is required", nil)
	}

	result, err := h.join.JoinByID(c.Request().Context(), id, strings.TrimSpace(req.Phone), strings.TrimSpace(req.UserName))
	if err != nil {
		return err
	}
	h.analytics.Invalidate(c.Request().Context())
	return respond(c, http.StatusCreated, result)
}

func (h *DealHandler) DealStatus(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	progress, err := h.deals.Progress(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, progress)
}

type notifyRequest struct {
	Template string     `json:"template"`
	RunAt    *time.Time `json:"run_at"`
}

// NotifyParticipants schedules a broadcast; it runs on the worker, not in the request
func (h *DealHandler) NotifyParticipants(c echo.Context) error {
	id, err := dealIDParam(c)
	if err != nil {
		return err
	}
	var req notifyRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Template) == "" {
		return services.InvalidInput("template is required", nil)
	}
	if _, err := h.deals.Get(c.Request().Context(), id); err != nil {
		return err
	}

	due := time.Now()
	if req.RunAt != nil {
		due = *req.RunAt
	}
	task, err := h.notifier.ScheduleDealNotification(c.Request().Context(), id, req.Template, due)
	if err != nil {
		return err
	}
	h.logger.WithFields(logrus.Fields{
		services.FieldEvent:   "deal.notify",
		services.FieldActor:   "admin",
		services.FieldDealID:  id.String(),
		services.FieldOutcome: "scheduled",
	}).Info("broadcast scheduled")
	return respond(c, http.StatusAccepted, task)
}

func (h *DealHandler) UserDeals(c echo.Context) error {
	phone := strings.TrimSpace(c.Param("phone"))
	if phone == "" {
		return services.InvalidInput("phone is required", nil)
	}
	participations, err := h.deals.ParticipationsByPhone(c.Request().Context(), phone)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, participations)
}

func (h *DealHandler) Analytics(c echo.Context) error {
	a, err := h.analytics.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, a)
}

// RunSweep finalizes expired deals now instead of waiting for the worker
func (h *DealHandler) RunSweep(c echo.Context) error {
	report, err := h.lifecycle.SweepExpired(c.Request().Context())
	if err != nil {
		return err
	}
	h.analytics.Invalidate(c.Request().Context())
	return respond(c, http.StatusOK, report)
}
