package server

import (
	"net/http"
	"time"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/paths", s.PathsHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type pathState struct {
	Value any    `json:"value"`
	Text  string `json:"text"`
}

// PathsHandler dumps the current state tree, mirroring what a bus observer
// would read path by path.
func (s *Server) PathsHandler(c echo.Context) error {
	states := make(map[string]pathState)
	for _, name := range s.registry.Names() {
		value, text, err := s.registry.Read(name)
		if err != nil {
			continue
		}
		states[name] = pathState{Value: value, Text: text}
	}
	return c.JSON(http.StatusOK, states)
}
