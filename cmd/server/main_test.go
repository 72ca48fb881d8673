package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/cache"
	"github.com/kiranshivaraju/meshforge/internal/config"
	"github.com/kiranshivaraju/meshforge/internal/genservice"
	"github.com/kiranshivaraju/meshforge/internal/genservice/fake"
	"github.com/kiranshivaraju/meshforge/internal/metrics"
	"github.com/kiranshivaraju/meshforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── helpers ────────────────────────────────────────────────────────────────

func testConfig(t *testing.T, serviceURL string) *config.Config {
	t.Helper()
	for _, key := range []string{
		"MESHFORGE_PORT", "MESHFORGE_ENV", "GENERATION_SERVICE_URL",
		"GENERATION_POLL_INTERVAL", "GENERATION_HTTP_TIMEOUT", "GENERATION_ART_STYLE",
		"GENERATION_NEGATIVE_PROMPT", "REDIS_URL", "RATE_LIMIT_PER_MINUTE",
		"SESSION_IDLE_TTL", "SESSION_MAX",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("GENERATION_SERVICE_URL", serviceURL)
	t.Setenv("GENERATION_POLL_INTERVAL", "10ms")
	t.Setenv("GENERATION_ART_STYLE", "realistic")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ─── wiring tests ───────────────────────────────────────────────────────────

func TestNewRouter_EndToEnd(t *testing.T) {
	svc := fake.New()
	svc.ScriptPreview(fake.PreviewReady("http://x/a.glb", 40))
	svcServer := httptest.NewServer(svc.Handler())
	defer svcServer.Close()

	cfg := testConfig(t, svcServer.URL)
	collector := metrics.NewCollector(metricsNamespace)
	registry := newRegistry(cfg, genservice.NewHTTPClient(cfg.Generation.ServiceURL, 0), collector)
	defer registry.CloseAll()

	srv := httptest.NewServer(newRouter(registry, nil, nil, collector))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Data struct {
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	id := created.Data.SessionID

	resp = postJSON(t, srv.URL+"/api/v1/sessions/"+id+"/generate", `{"prompt":"red sports car"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		s, err := registry.Get(id)
		return err == nil && s.Controller.Snapshot().Status == models.StatusPreviewReady
	}, 3*time.Second, 10*time.Millisecond)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `meshforge_generation_jobs_started_total{kind="preview"} 1`)
	assert.Contains(t, string(body), `meshforge_sessions_active 1`)
	assert.Contains(t, string(body), `meshforge_http_requests_total{method="POST",path="/api/v1/sessions/{sessionID}/generate",status="202"} 1`)
}

func TestNewRegistry_ForwardsGenerateDefaults(t *testing.T) {
	svc := fake.New()
	svcServer := httptest.NewServer(svc.Handler())
	defer svcServer.Close()

	cfg := testConfig(t, svcServer.URL)
	client := &recordingClient{Client: genservice.NewHTTPClient(svcServer.URL, 0)}
	registry := newRegistry(cfg, client, metrics.NewCollector(metricsNamespace))
	defer registry.CloseAll()

	s, err := registry.Create()
	require.NoError(t, err)
	require.NoError(t, s.Controller.StartGeneration(context.Background(), "helmet"))
	assert.Equal(t, "realistic", client.last.ArtStyle)
}

type recordingClient struct {
	genservice.Client
	last genservice.GenerateRequest
}

func (c *recordingClient) Generate(ctx context.Context, req genservice.GenerateRequest) (string, error) {
	c.last = req
	return c.Client.Generate(ctx, req)
}

func TestNewRouter_RateLimitWithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	defer rc.Close()

	cfg := testConfig(t, "http://127.0.0.1:1")
	collector := metrics.NewCollector(metricsNamespace)
	registry := newRegistry(cfg, genservice.NewHTTPClient(cfg.Generation.ServiceURL, time.Second), collector)
	defer registry.CloseAll()

	srv := httptest.NewServer(newRouter(registry, rc, middleware.NewRateLimit(rc, 1), collector))
	defer srv.Close()

	s, err := registry.Create()
	require.NoError(t, err)

	first := postJSON(t, srv.URL+"/api/v1/sessions/"+s.ID+"/generate", `{"prompt":" "}`)
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)
	second := postJSON(t, srv.URL+"/api/v1/sessions/"+s.ID+"/generate", `{"prompt":" "}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	health, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

// ─── serve() lifecycle tests ────────────────────────────────────────────────

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_FailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Redis.URL = "redis://127.0.0.1:1"

	err := serve(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestServe_FailsOnPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	err = serve(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnInvalidConfig(t *testing.T) {
	t.Setenv("GENERATION_SERVICE_URL", "ftp://nowhere")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
