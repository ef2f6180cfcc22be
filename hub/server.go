package hub

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Register wires the board channel and the task API on e. A nil gatherer
// leaves /metrics unrouted.
func (h *Hub) Register(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/ws/:board_id", h.serveWS)
	e.GET("/health", healthz)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	g := e.Group("/api", h.requireUser)
	g.POST("/boards/", h.createBoard)
	g.GET("/boards/:board_id", h.getBoard)
	g.GET("/tasks/board/:board_id", h.listTasks)
	g.POST("/tasks/", h.createTask)
	g.PATCH("/tasks/:task_id", h.updateTask)
	g.DELETE("/tasks/:task_id", h.deleteTask)
}

// NewServer returns an echo instance with the hub registered behind the
// usual middleware.
func NewServer(h *Hub, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(requestLogger(h.logger))
	h.Register(e, gatherer)
	return e
}

func requestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"path":       v.URIPath,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			switch {
			case v.Error != nil:
				entry.WithError(v.Error).Warn("http request failed")
			case v.Status >= 500:
				entry.Warn("http request")
			default:
				entry.Debug("http request")
			}
			return nil
		},
	})
}
