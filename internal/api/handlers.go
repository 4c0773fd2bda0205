package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"hospitaletl/internal/jobs"
	"hospitaletl/internal/mapping"
	"hospitaletl/internal/pipeline"
	"hospitaletl/internal/schema"
)

// Handler serves the pipeline control routes.
type Handler struct {
	p     Pipeline
	store *jobs.Store
}

// NewHandler creates a handler over p and the metadata store.
func NewHandler(p Pipeline, store *jobs.Store) *Handler {
	return &Handler{p: p, store: store}
}

// RegisterRoutes registers the control routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/uploads/:id/pipeline", h.StartPipeline)
	g.POST("/uploads/:id/stages/:type", h.RunStage)
	g.POST("/uploads/:id/cancel", h.CancelJobs)
	g.GET("/uploads/:id/status", h.GetStatus)
	g.GET("/uploads/:id/estimate", h.GetEstimate)
	g.POST("/uploads/:id/cleanup", h.Cleanup)
	g.GET("/uploads/:id/mappings", h.ListMappings)
	g.PUT("/uploads/:id/mappings", h.ReplaceMappings)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/retry", h.RetryJob)
}

// StartPipeline runs the full pipeline and returns its result. A blocked or
// failed run answers 422 with the same body.
func (h *Handler) StartPipeline(c echo.Context) error {
	res := h.p.Run(c.Request().Context(), c.Param("id"))
	if !res.Success {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(http.StatusOK, res)
}

type stageResponse struct {
	Job   jobs.Summary `json:"job"`
	Error string       `json:"error,omitempty"`
}

// RunStage runs one stage as a new job.
func (h *Handler) RunStage(c echo.Context) error {
	j, err := h.p.RunStage(c.Request().Context(), c.Param("id"), c.Param("type"))
	return h.jobResult(c, j, err)
}

// RetryJob re-runs a failed or cancelled job.
func (h *Handler) RetryJob(c echo.Context) error {
	j, err := h.p.Retry(c.Request().Context(), c.Param("id"))
	if errors.Is(err, pipeline.ErrNotRestartable) {
		return httpError(err)
	}
	return h.jobResult(c, j, err)
}

// jobResult answers with the job once it exists; a job that ran and failed
// is a 422 carrying the job, anything earlier is a plain error.
func (h *Handler) jobResult(c echo.Context, j jobs.Job, err error) error {
	if j.ID == "" {
		if err == nil {
			err = errors.New("no job created")
		}
		return httpError(err)
	}
	resp := stageResponse{Job: j.Summarize(time.Now().UTC())}
	if err != nil {
		resp.Error = err.Error()
		return c.JSON(http.StatusUnprocessableEntity, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelJobs cancels the pending and running jobs of an upload.
func (h *Handler) CancelJobs(c echo.Context) error {
	n, err := h.p.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"cancelled": n})
}

// GetStatus returns the aggregate status of an upload.
func (h *Handler) GetStatus(c echo.Context) error {
	st, err := h.p.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// GetEstimate returns the processing-time forecast of an upload.
func (h *Handler) GetEstimate(c echo.Context) error {
	est, err := h.p.Estimate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, est)
}

// Cleanup purges aged raw and staging rows for the upload's tables. The
// keep_days query parameter defaults to seven.
func (h *Handler) Cleanup(c echo.Context) error {
	keep := pipeline.DefaultKeepDays
	if s := c.QueryParam("keep_days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "keep_days must be a non-negative integer")
		}
		keep = n
	}
	res, err := h.p.CleanupIntermediateData(c.Request().Context(), c.Param("id"), keep)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetJob returns one job.
func (h *Handler) GetJob(c echo.Context) error {
	j, err := h.store.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, j.Summarize(time.Now().UTC()))
}

// ListMappings returns every mapping of an upload in order.
func (h *Handler) ListMappings(c echo.Context) error {
	ms, err := h.store.Mappings(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ms)
}

// ReplaceMappings swaps the mapping set of an upload. A set that fails
// validation is rejected with 400 and the stored set is kept.
func (h *Handler) ReplaceMappings(c echo.Context) error {
	ctx := c.Request().Context()
	var ms []mapping.FieldMapping
	if err := c.Bind(&ms); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping list")
	}
	u, err := h.store.GetUpload(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := h.store.ReplaceMappings(ctx, u, ms, schema.Reserved()...); err != nil {
		if errors.Is(err, mapping.ErrInvalid) || errors.Is(err, mapping.ErrTargetCollision) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return httpError(err)
	}
	saved, err := h.store.Mappings(ctx, u.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}
