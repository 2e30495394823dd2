package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/studygen/studygen/internal/agent/core"
	"github.com/studygen/studygen/internal/runtime"
	"github.com/studygen/studygen/internal/store"
)

type RunsHandler struct {
	Store  *store.Store
	Runner *AgentRunner
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/ask", h.ask)
	g.POST("/generate", h.generate)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/artifact", h.artifact)
	g.GET("/:id/progress", h.progress)
}

// authSubject resolves the authenticated user set by the auth middleware,
// preferring the request-context subject.
func authSubject(c echo.Context) string {
	if sub, ok := runtime.SubjectFromContext(c.Request().Context()); ok {
		return sub
	}
	s, _ := c.Get("user_id").(string)
	return s
}

func (h *RunsHandler) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages required")
	}
	messages := make([]core.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "empty message content")
		}
		messages = append(messages, core.Message{Role: m.Role, Content: m.Content})
	}
	runID, err := h.Runner.StartConversational(authSubject(c), messages)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, IDResponse{ID: runID})
}

func (h *RunsHandler) generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Outline) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "outline required")
	}
	runID, err := h.Runner.StartStructured(authSubject(c), req.Outline, req.TopicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, IDResponse{ID: runID})
}

func (h *RunsHandler) list(c echo.Context) error {
	runs, err := h.Store.ListRuns(c.Request().Context(), authSubject(c), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	run, ok, err := h.Store.GetRun(c.Request().Context(), c.Param("id"), authSubject(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, toRunResponse(run))
}

func (h *RunsHandler) artifact(c echo.Context) error {
	run, ok, err := h.Store.GetRun(c.Request().Context(), c.Param("id"), authSubject(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	rec, ok, err := h.Store.GetArtifactByRun(c.Request().Context(), run.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no artifact for run")
	}
	return c.JSON(http.StatusOK, ArtifactResponse{
		ID:          rec.ID,
		RunID:       rec.RunID,
		ContentType: rec.ContentType,
		Title:       rec.Title,
		Description: rec.Description,
		Payload:     rec.Payload,
		CreatedAt:   rec.CreatedAt,
	})
}

func (h *RunsHandler) progress(c echo.Context) error {
	run, ok, err := h.Store.GetRun(c.Request().Context(), c.Param("id"), authSubject(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	var events []ProgressEvent
	if h.Runner != nil && h.Runner.Progress != nil {
		events = h.Runner.Progress.Events(run.ID)
	}
	if events == nil {
		events = []ProgressEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

func toRunResponse(r store.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Mode:         r.Mode,
		Status:       r.Status,
		Steps:        r.Steps,
		Searches:     r.Searches,
		PagesScraped: r.PagesScraped,
		CostEstimate: r.CostEstimate,
		TokensUsed:   r.TokensUsed,
		StartedAt:    r.StartedAt,
	}
	if r.TopicID.Valid {
		resp.TopicID = r.TopicID.String
	}
	if r.Error.Valid {
		resp.Error = r.Error.String
	}
	if r.Answer.Valid {
		resp.Answer = r.Answer.String
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		resp.FinishedAt = &t
	}
	return resp
}
