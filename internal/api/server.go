// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"hospitaletl/internal/etl"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/pipeline"
)

// Pipeline is the orchestrator surface the handlers use.
type Pipeline interface {
	Run(ctx context.Context, uploadID string) pipeline.Result
	RunStage(ctx context.Context, uploadID, jobType string) (jobs.Job, error)
	Retry(ctx context.Context, jobID string) (jobs.Job, error)
	Cancel(ctx context.Context, uploadID string) (int, error)
	Status(ctx context.Context, uploadID string) (pipeline.Status, error)
	Estimate(ctx context.Context, uploadID string) (pipeline.Estimate, error)
	CleanupIntermediateData(ctx context.Context, uploadID string, keepDays int) (pipeline.CleanupResult, error)
}

// NewServer returns an echo instance with every route registered.
func NewServer(p Pipeline, store *jobs.Store, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(recovery(log))
	e.Use(echomw.RequestID())
	e.Use(requestLogger(log))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	NewHandler(p, store).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			evt := log.Info()
			if err != nil {
				evt = log.Error().Err(err)
			}
			evt.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}

func recovery(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					log.Error().
						Str("panic", fmt.Sprint(r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrRunInProgress), errors.Is(err, pipeline.ErrNotRestartable):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrPrerequisites), errors.Is(err, etl.ErrNoMappings):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func httpError(err error) error {
	return echo.NewHTTPError(statusFor(err), err.Error())
}
