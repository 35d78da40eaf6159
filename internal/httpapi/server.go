// Package httpapi serves run status, run history and Prometheus metrics
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lmandrelli/grape-coder/internal/persistence"
)

const defaultRunLimit = 20

// RunStore is the read side of the audit store.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (persistence.Run, error)
	ListRuns(ctx context.Context, limit int) ([]persistence.Run, error)
}

// Server provides the status endpoints.
type Server struct {
	echo    *echo.Echo
	tracker *Tracker
	runs    RunStore
	logger  *zap.Logger
	addr    string
}

// NewServer creates a server listening on addr. runs may be nil, in which
// case the history endpoints answer 404.
func NewServer(addr string, tracker *Tracker, runs RunStore, logger *zap.Logger) (*Server, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		tracker: tracker,
		runs:    runs,
		logger:  logger,
		addr:    addr,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/runs", s.handleListRuns)
	s.echo.GET("/runs/:id", s.handleGetRun)
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunView is the JSON form of a stored run.
type RunView struct {
	ID            string     `json:"id"`
	Goal          string     `json:"goal"`
	WorkDir       string     `json:"work_dir"`
	Status        string     `json:"status"`
	Iterations    int        `json:"iterations"`
	FinalRevision int        `json:"final_revision"`
	FinalTotal    int        `json:"final_total"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func viewOf(r persistence.Run) RunView {
	return RunView{
		ID:            r.ID,
		Goal:          r.Brief.Goal,
		WorkDir:       r.WorkDir,
		Status:        r.Status,
		Iterations:    r.Iterations,
		FinalRevision: r.FinalRevision,
		FinalTotal:    r.FinalTotal,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}
	limit := defaultRunLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Warn("failed to list runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	views := make([]RunView, 0, len(runs))
	for _, r := range runs {
		views = append(views, viewOf(r))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}
	run, err := s.runs.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, persistence.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.logger.Warn("failed to load run", zap.String("run_id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run")
	}
	return c.JSON(http.StatusOK, viewOf(run))
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting status server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
