package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cyverse/recipecache/cache"
	"github.com/cyverse/recipecache/config"
	"github.com/cyverse/recipecache/metrics"
	"github.com/cyverse/recipecache/service"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

const (
	testListURL = "https://recipes.example.com/list.json"
	testPageURL = "https://recipes.example.com/52772.html"
	testNoneURL = "https://recipes.example.com/plain.html"
)

type mapFetcher map[string][]byte

func (fetcher mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	response, ok := fetcher[url]
	if !ok {
		return nil, xerrors.Errorf("no such resource %q", url)
	}
	return response, nil
}

func newTestServer(t *testing.T) (*Server, *cache.Engine) {
	cacheConfig := config.NewDefaultConfig()
	cacheConfig.RootPath = t.TempDir()

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusRecorder(registry)
	require.NoError(t, err)

	engine, err := cache.NewEngine(cacheConfig, recorder)
	require.NoError(t, err)
	t.Cleanup(engine.Release)

	fetcher := mapFetcher{
		testListURL: []byte(`{"recipes": [{"id": "52772", "name": "Teriyaki Chicken Casserole"}]}`),
		testPageURL: []byte(`<html><head><meta name="description" content="Weeknight casserole"></head></html>`),
		testNoneURL: []byte(`<html><body></body></html>`),
	}
	recipeService := service.NewRecipeService(engine, fetcher, service.MetaDescriptionParser{})

	server := NewServer(":0", engine, recipeService, registry)
	server.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return server, engine
}

func doRequest(server *Server, method string, target string, form url.Values) *httptest.ResponseRecorder {
	var request *http.Request
	if form != nil {
		request = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		request = httptest.NewRequest(method, target, nil)
	}

	recorder := httptest.NewRecorder()
	server.Echo().ServeHTTP(recorder, request)
	return recorder
}

func TestServer(t *testing.T) {
	log.SetLevel(log.DebugLevel)

	t.Run("test Stats", testStats)
	t.Run("test Partition", testPartition)
	t.Run("test InvalidatePartition", testInvalidatePartition)
	t.Run("test InvalidateAll", testInvalidateAll)
	t.Run("test SetTimeToLive", testSetTimeToLive)
	t.Run("test SetCountLimit", testSetCountLimit)
	t.Run("test Recipes", testRecipes)
	t.Run("test Metrics", testMetrics)
}

func testStats(t *testing.T) {
	server, engine := newTestServer(t)
	cache.Put(engine, service.PartitionImage, "a", []byte("a"), time.Now())

	response := doRequest(server, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, response.Code)

	stats := Stats{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &stats))
	assert.Equal(t, engine.GetRootPath(), stats.RootPath)
	assert.Equal(t, config.DefaultTimeToLive.Seconds(), stats.TimeToLive)
	assert.Equal(t, config.DefaultCountLimit, stats.CountLimit)
	assert.Equal(t, 1, stats.Partitions["image"])
	assert.Equal(t, 0, stats.Partitions["list"])
	assert.Equal(t, "2024-06-01T12:00:00Z", stats.GeneratedAt)
	assert.NotEmpty(t, stats.Latency)
}

func testPartition(t *testing.T) {
	server, engine := newTestServer(t)
	cache.Put(engine, service.PartitionDescription, "a", "a", time.Now())
	cache.Put(engine, service.PartitionDescription, "b", "b", time.Now())

	response := doRequest(server, http.MethodGet, "/partitions/description", nil)
	require.Equal(t, http.StatusOK, response.Code)

	stats := PartitionStats{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &stats))
	assert.Equal(t, "description", stats.Name)
	assert.Equal(t, 2, stats.Count)

	response = doRequest(server, http.MethodGet, "/partitions/.hidden", nil)
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func testInvalidatePartition(t *testing.T) {
	server, engine := newTestServer(t)
	cache.Put(engine, service.PartitionDescription, "a", "a", time.Now())
	cache.Put(engine, service.PartitionImage, "a", []byte("a"), time.Now())

	response := doRequest(server, http.MethodDelete, "/partitions/description", nil)
	assert.Equal(t, http.StatusNoContent, response.Code)
	assert.Equal(t, 0, engine.CountEntries(service.PartitionDescription))
	assert.Equal(t, 1, engine.CountEntries(service.PartitionImage))

	// idempotent
	response = doRequest(server, http.MethodDelete, "/partitions/description", nil)
	assert.Equal(t, http.StatusNoContent, response.Code)
}

func testInvalidateAll(t *testing.T) {
	server, engine := newTestServer(t)
	cache.Put(engine, service.PartitionDescription, "a", "a", time.Now())
	cache.Put(engine, service.PartitionImage, "a", []byte("a"), time.Now())

	response := doRequest(server, http.MethodDelete, "/partitions", nil)
	assert.Equal(t, http.StatusNoContent, response.Code)
	assert.Equal(t, 0, engine.CountEntries(service.PartitionDescription))
	assert.Equal(t, 0, engine.CountEntries(service.PartitionImage))
}

func testSetTimeToLive(t *testing.T) {
	server, engine := newTestServer(t)

	response := doRequest(server, http.MethodPut, "/config/ttl", url.Values{"seconds": {"90.5"}})
	require.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, 90500*time.Millisecond, engine.GetTimeToLive())

	response = doRequest(server, http.MethodPut, "/config/ttl", url.Values{"seconds": {"-1"}})
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = doRequest(server, http.MethodPut, "/config/ttl", url.Values{"seconds": {"NaN"}})
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = doRequest(server, http.MethodPut, "/config/ttl", url.Values{"seconds": {"1e300"}})
	assert.Equal(t, http.StatusBadRequest, response.Code)
	assert.Equal(t, 90500*time.Millisecond, engine.GetTimeToLive())

	response = doRequest(server, http.MethodPut, "/config/ttl?seconds=abc", nil)
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = doRequest(server, http.MethodPut, "/config/ttl?seconds=0", nil)
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, time.Duration(0), engine.GetTimeToLive())
}

func testSetCountLimit(t *testing.T) {
	server, engine := newTestServer(t)

	response := doRequest(server, http.MethodPut, "/config/count-limit", url.Values{"n": {"7"}})
	require.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, 7, engine.GetCountLimit())

	response = doRequest(server, http.MethodPut, "/config/count-limit", url.Values{"n": {"-7"}})
	assert.Equal(t, http.StatusBadRequest, response.Code)
	assert.Equal(t, 7, engine.GetCountLimit())

	response = doRequest(server, http.MethodPut, "/config/count-limit", url.Values{"n": {"1.5"}})
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func testRecipes(t *testing.T) {
	server, engine := newTestServer(t)

	response := doRequest(server, http.MethodGet, "/recipes/list?url="+url.QueryEscape(testListURL), nil)
	require.Equal(t, http.StatusOK, response.Code)

	recipes := []service.Recipe{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &recipes))
	require.Len(t, recipes, 1)
	assert.Equal(t, "Teriyaki Chicken Casserole", recipes[0].Name)
	assert.Equal(t, 1, engine.CountEntries(service.PartitionRecipeList))

	response = doRequest(server, http.MethodGet, "/recipes/description?url="+url.QueryEscape(testPageURL), nil)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "Weeknight casserole")

	response = doRequest(server, http.MethodGet, "/recipes/description?url="+url.QueryEscape(testNoneURL), nil)
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = doRequest(server, http.MethodGet, "/recipes/image?url="+url.QueryEscape("https://recipes.example.com/missing.jpg"), nil)
	assert.Equal(t, http.StatusBadGateway, response.Code)

	response = doRequest(server, http.MethodGet, "/recipes/image", nil)
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func testMetrics(t *testing.T) {
	server, engine := newTestServer(t)
	cache.Put(engine, service.PartitionImage, "a", []byte("a"), time.Now())
	cache.Get[[]byte](engine, service.PartitionImage, "a")

	response := doRequest(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "recipecache_hits_total")
	assert.Contains(t, response.Body.String(), "recipecache_puts_total")
}
