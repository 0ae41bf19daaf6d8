package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/internal/orchestrator"
	"github.com/counselgraph/counselgraph/internal/retrieval"
	"github.com/counselgraph/counselgraph/internal/store"
	"github.com/counselgraph/counselgraph/provider"
	"github.com/counselgraph/counselgraph/session/session_models"
	"github.com/counselgraph/counselgraph/tools/ingest"
)

type Handler struct {
	Cfg      *config.Config
	Store    *store.Store
	Engine   *orchestrator.Engine
	Pipeline *retrieval.Pipeline
	Ingest   *ingest.Ingest
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/matters", h.createMatter)
	g.GET("/matters", h.listMatters)
	g.GET("/matters/:id", h.getMatter)
	g.POST("/matters/:id/ingest", h.ingestDocuments)
	g.GET("/matters/:id/plans", h.listMatterPlans)
	g.POST("/orchestrate", h.orchestrate)
	g.GET("/plans/:id", h.getPlan)
	g.POST("/plans/:id/cancel", h.cancelPlan)
	g.POST("/chat/stream", h.streamChat)
}

type createMatterRequest struct {
	Name          string   `json:"name"`
	ClientRef     string   `json:"client_ref"`
	PracticeArea  string   `json:"practice_area"`
	DocumentTypes []string `json:"document_types"`
	StandingQuery string   `json:"standing_query"`
	ScheduleCron  string   `json:"schedule_cron"`
}

func (h *Handler) createMatter(c echo.Context) error {
	var req createMatterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	id, err := h.Store.CreateMatter(c.Request().Context(), store.Matter{
		Name:          req.Name,
		ClientRef:     req.ClientRef,
		PracticeArea:  req.PracticeArea,
		DocumentTypes: req.DocumentTypes,
		StandingQuery: req.StandingQuery,
		ScheduleCron:  req.ScheduleCron,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) listMatters(c echo.Context) error {
	matters, err := h.Store.ListMatters(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, matters)
}

func (h *Handler) getMatter(c echo.Context) error {
	m, ok, err := h.Store.GetMatter(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "matter not found")
	}
	return c.JSON(http.StatusOK, m)
}

type ingestRequest struct {
	Documents []session_models.DocInput `json:"documents"`
	TTLHours  int                       `json:"ttl_hours"`
}

func (h *Handler) ingestDocuments(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.Ingest.Run(c.Request().Context(), c.Param("id"), req.Documents, req.TTLHours)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) listMatterPlans(c echo.Context) error {
	plans, err := h.Store.ListPlansByMatter(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, plans)
}

type orchestrateRequest struct {
	MatterID string            `json:"matter_id"`
	Query    string            `json:"query"`
	Context  map[string]string `json:"context"`
}

type orchestrateResponse struct {
	Plan    orchestrator.OrchestrationPlan `json:"plan"`
	Outputs interface{}                    `json:"outputs"`
	Status  orchestrator.PlanStatus        `json:"status"`
	Error   string                         `json:"error,omitempty"`
}

func (h *Handler) orchestrate(c echo.Context) error {
	var req orchestrateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx := c.Request().Context()

	plan := h.Engine.Plan(ctx, req.MatterID, req.Query, req.Context)
	if err := h.Store.SavePlan(ctx, plan); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	result, execErr := h.Engine.Execute(ctx, &plan)
	if err := h.Store.SavePlan(ctx, plan); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := orchestrateResponse{Plan: plan, Outputs: result.Outputs, Status: result.Status}
	if execErr != nil {
		resp.Error = execErr.Error()
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) getPlan(c echo.Context) error {
	rec, ok, err := h.Store.GetPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) cancelPlan(c echo.Context) error {
	if err := h.Engine.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, orchestrator.ErrNotCancellable) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamChatRequest struct {
	MatterID string        `json:"matter_id"`
	Query    string        `json:"query"`
	History  []chatMessage `json:"history"`
	Mode     string        `json:"mode"`
}

// streamChat runs the retrieval pipeline and forwards its events over
// Server-Sent Events, one SSE event per pipeline event.
func (h *Handler) streamChat(c echo.Context) error {
	var req streamChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	history := make([]provider.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, provider.Message{Role: m.Role, Content: m.Content})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	events := h.Pipeline.StreamAnswer(ctx, req.Query, history, retrieval.StreamOptions{
		MatterID: req.MatterID,
		Mode:     retrieval.Mode(req.Mode),
	})

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
	}
	return nil
}
