package server

import (
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/studygen/studygen/internal/runtime"
	"github.com/studygen/studygen/internal/store"
)

type TopicsHandler struct {
	Store  *store.Store
	Runner *AgentRunner
}

func (h *TopicsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.POST("/:id/generate", h.generate)
	g.GET("/:id/artifact", h.latestArtifact)
}

func (h *TopicsHandler) create(c echo.Context) error {
	var req CreateTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Outline) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and outline required")
	}
	switch req.ContentType {
	case "quiz", "tutorial", "flashcard", "":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "content_type must be quiz, tutorial or flashcard")
	}
	if err := validateCron(req.ScheduleCron); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.Store.CreateTopic(c.Request().Context(), authSubject(c),
		req.Name, req.Outline, req.ContentType, req.ScheduleCron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *TopicsHandler) list(c echo.Context) error {
	topics, err := h.Store.ListTopics(c.Request().Context(), authSubject(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TopicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, toTopicResponse(t))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *TopicsHandler) get(c echo.Context) error {
	topic, ok, err := h.Store.GetTopicByID(c.Request().Context(), c.Param("id"), authSubject(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	return c.JSON(http.StatusOK, toTopicResponse(topic))
}

func (h *TopicsHandler) update(c echo.Context) error {
	var req UpdateTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ScheduleCron != nil {
		if err := validateCron(*req.ScheduleCron); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	userID := authSubject(c)
	_, ok, err := h.Store.GetTopicByID(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	if err := h.Store.UpdateTopic(c.Request().Context(), c.Param("id"), userID, req.Name, req.Outline, req.ScheduleCron); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *TopicsHandler) generate(c echo.Context) error {
	userID := authSubject(c)
	topic, ok, err := h.Store.GetTopicByID(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	topicID := topic.ID
	runID, err := h.Runner.StartStructured(userID, topic.Outline, &topicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, IDResponse{ID: runID})
}

func (h *TopicsHandler) latestArtifact(c echo.Context) error {
	topic, ok, err := h.Store.GetTopicByID(c.Request().Context(), c.Param("id"), authSubject(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	rec, ok, err := h.Store.LatestArtifactForTopic(c.Request().Context(), topic.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no artifact for topic")
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

func toTopicResponse(t store.Topic) TopicResponse {
	return TopicResponse{
		ID:           t.ID,
		Name:         t.Name,
		Outline:      t.Outline,
		ContentType:  t.ContentType,
		ScheduleCron: t.ScheduleCron,
		CreatedAt:    t.CreatedAt,
	}
}

func validateCron(spec string) error {
	if spec == "" || spec == "@daily" || spec == "@hourly" {
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression: "+spec)
	}
	return nil
}
