package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cyverse/recipecache/cache"
	"github.com/cyverse/recipecache/config"
	"github.com/cyverse/recipecache/metrics"
	"github.com/cyverse/recipecache/service"
	"github.com/cyverse/recipecache/utils"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Stats is the response of GET /stats
type Stats struct {
	RootPath    string          `json:"root_path"`
	TimeToLive  float64         `json:"ttl_seconds"`
	CountLimit  int             `json:"count_limit"`
	Partitions  map[string]int  `json:"partitions"`
	Latency     []metrics.Stats `json:"latency"`
	GeneratedAt string          `json:"generated_at"`
}

// PartitionStats is the response of GET /partitions/:name
type PartitionStats struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (server *Server) getStats(c echo.Context) error {
	partitions := map[string]int{}
	for _, partition := range service.GetPartitions() {
		partitions[partition.String()] = server.controller.CountEntries(partition)
	}

	return c.JSON(http.StatusOK, Stats{
		RootPath:    server.controller.GetRootPath(),
		TimeToLive:  server.controller.GetTimeToLive().Seconds(),
		CountLimit:  server.controller.GetCountLimit(),
		Partitions:  partitions,
		Latency:     server.controller.GetLatencyStats(),
		GeneratedAt: utils.MakeTimeToString(server.now()),
	})
}

func (server *Server) getPartition(c echo.Context) error {
	name := c.Param("name")
	if !utils.IsSafePathElement(name) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid partition name"})
	}

	return c.JSON(http.StatusOK, PartitionStats{
		Name:  name,
		Count: server.controller.CountEntries(cache.Partition(name)),
	})
}

func (server *Server) invalidatePartition(c echo.Context) error {
	name := c.Param("name")
	if !utils.IsSafePathElement(name) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid partition name"})
	}

	server.service.Refresh(cache.Partition(name))
	return c.NoContent(http.StatusNoContent)
}

func (server *Server) invalidateAll(c echo.Context) error {
	server.service.RefreshAll()
	return c.NoContent(http.StatusNoContent)
}

func (server *Server) setTimeToLive(c echo.Context) error {
	seconds, err := strconv.ParseFloat(c.FormValue("seconds"), 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "seconds must be a number"})
	}

	err = config.ValidateTimeToLiveSeconds(seconds)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	server.controller.SetTimeToLiveSeconds(seconds)
	return c.JSON(http.StatusOK, map[string]float64{
		"ttl_seconds": server.controller.GetTimeToLive().Seconds(),
	})
}

func (server *Server) setCountLimit(c echo.Context) error {
	limit, err := strconv.Atoi(c.FormValue("n"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "n must be an integer"})
	}

	err = config.ValidateCountLimit(limit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	server.controller.SetCountLimit(limit)
	return c.JSON(http.StatusOK, map[string]int{
		"count_limit": server.controller.GetCountLimit(),
	})
}

func (server *Server) getRecipeList(c echo.Context) error {
	url := c.QueryParam("url")
	if len(url) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url is not given"})
	}

	list, err := server.service.GetRecipeList(c.Request().Context(), url)
	if err != nil {
		return server.fetchFailed(c, err)
	}
	return c.JSON(http.StatusOK, list.Recipes)
}

func (server *Server) getImage(c echo.Context) error {
	url := c.QueryParam("url")
	if len(url) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url is not given"})
	}

	image, err := server.service.GetImage(c.Request().Context(), url)
	if err != nil {
		return server.fetchFailed(c, err)
	}
	return c.Blob(http.StatusOK, http.DetectContentType(image), image)
}

func (server *Server) getDescription(c echo.Context) error {
	url := c.QueryParam("url")
	if len(url) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url is not given"})
	}

	description, err := server.service.GetDescription(c.Request().Context(), url)
	if err != nil {
		if errors.Is(err, service.ErrDescriptionNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return server.fetchFailed(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"description": description,
	})
}

func (server *Server) fetchFailed(c echo.Context, err error) error {
	logger := log.WithFields(log.Fields{
		"package":  "admin",
		"struct":   "Server",
		"function": "fetchFailed",
	})

	logger.WithError(err).Warnf("failed to serve %s", c.Request().URL.String())
	return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
}
