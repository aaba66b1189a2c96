// Package api serves the gateway's HTTP surface on echo.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/chaoschain/gateway/dkg"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Engine is the subset of *workflow.Engine the handlers use.
type Engine interface {
	CreateWorkflow(ctx context.Context, t workflow.Type, input any) (*workflow.Record, error)
	Get(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error)
	List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error)
}

// Scheduler hands workflow ids to whatever drives them. *worker.Pool
// satisfies it.
type Scheduler interface {
	Submit(wfID id.WorkflowID) error
}

// API wires the HTTP handlers together.
type API struct {
	eng         Engine
	sched       Scheduler
	broker      Broker
	logger      *slog.Logger
	dkgCfg      dkg.Config
	serviceName string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithBroker enables GET /events, streaming lifecycle events from b.
func WithBroker(b Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithDKGConfig sets the configuration used by POST /dkg/compute when the
// request does not carry one.
func WithDKGConfig(cfg dkg.Config) Option {
	return func(a *API) { a.dkgCfg = cfg }
}

// WithServiceName sets the service name reported on server spans.
func WithServiceName(name string) Option {
	return func(a *API) { a.serviceName = name }
}

// New creates an API. sched may be nil, in which case created workflows
// wait for the next sweep.
func New(eng Engine, sched Scheduler, opts ...Option) *API {
	a := &API{
		eng:         eng,
		sched:       sched,
		logger:      slog.Default(),
		serviceName: "gatewayd",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns an echo instance with every route registered.
func (a *API) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.errorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return id.NewRequestID().String() },
	}))
	e.Use(otelecho.Middleware(a.serviceName))
	e.Use(middleware.Recover())
	e.Use(a.requestLogger())

	a.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers all gateway routes on e.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", a.health)
	a.registerWorkflowRoutes(e.Group("/workflows"))
	e.GET("/stats", a.stats)
	e.GET("/events", a.streamEvents)
	e.POST("/dkg/compute", a.computeDKG)
}

func (a *API) registerWorkflowRoutes(g *echo.Group) {
	g.POST("/work-submission", a.createWorkflow(workflow.TypeWorkSubmission))
	g.POST("/score-submission", a.createWorkflow(workflow.TypeScoreSubmission))
	g.POST("/close-epoch", a.createWorkflow(workflow.TypeCloseEpoch))
	g.GET("", a.listWorkflows)
	g.GET("/:id", a.getWorkflow)
	g.POST("/:id/resume", a.resumeWorkflow)
}

func (a *API) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				if v.Status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
			}
			a.logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (a *API) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: timeNow().UTC().Format(timeLayout),
	})
}
