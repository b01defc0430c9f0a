package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/cyverse/recipecache/cache"
	"github.com/cyverse/recipecache/service"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultReadTimeout  time.Duration = 30 * time.Second
	DefaultWriteTimeout time.Duration = 60 * time.Second
)

// Server exposes cache management and recipe read-through over HTTP
type Server struct {
	echo       *echo.Echo
	address    string
	controller cache.Controller
	service    *service.RecipeService
	gatherer   prometheus.Gatherer

	now func() time.Time
}

// NewServer creates a new Server. gatherer can be nil to disable /metrics.
func NewServer(address string, controller cache.Controller, recipeService *service.RecipeService, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	server := &Server{
		echo:       e,
		address:    address,
		controller: controller,
		service:    recipeService,
		gatherer:   gatherer,
		now:        time.Now,
	}

	server.setupRoutes()
	return server
}

func (server *Server) setupRoutes() {
	server.echo.GET("/stats", server.getStats)

	server.echo.GET("/partitions/:name", server.getPartition)
	server.echo.DELETE("/partitions/:name", server.invalidatePartition)
	server.echo.DELETE("/partitions", server.invalidateAll)

	server.echo.PUT("/config/ttl", server.setTimeToLive)
	server.echo.PUT("/config/count-limit", server.setCountLimit)

	recipes := server.echo.Group("/recipes")
	recipes.GET("/list", server.getRecipeList)
	recipes.GET("/image", server.getImage)
	recipes.GET("/description", server.getDescription)

	if server.gatherer != nil {
		server.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{})))
	}
}

// Start serves until Shutdown is called
func (server *Server) Start() error {
	logger := log.WithFields(log.Fields{
		"package":  "admin",
		"struct":   "Server",
		"function": "Start",
	})

	httpServer := &http.Server{
		Addr:         server.address,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	logger.Infof("starting admin server on %s", server.address)
	err := server.echo.StartServer(httpServer)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (server *Server) Shutdown(ctx context.Context) error {
	return server.echo.Shutdown(ctx)
}

// Echo returns the underlying echo instance
func (server *Server) Echo() *echo.Echo {
	return server.echo
}
