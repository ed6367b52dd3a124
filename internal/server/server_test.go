package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jjudge-oj/userservice/config"
	"github.com/jjudge-oj/userservice/internal/logging"
	"github.com/jjudge-oj/userservice/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env: "test",
		Database: config.DatabaseConfig{
			URL:            "sqlite://" + filepath.Join(t.TempDir(), "users.db"),
			MaxConns:       4,
			AcquireTimeout: time.Second,
		},
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Database.URL = ""

	_, err := New(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestNew_RejectsUnreachableDatabase(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Database.URL = "mysql://localhost/users"

	_, err := New(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	srv, err := New(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, srv.State())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, StateServing, srv.State())

	resp, err := http.Post(base+"/users", "application/json", strings.NewReader(`{"username":"ada","email":"ada@example.com"}`))
	require.NoError(t, err)
	var created types.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int64(1), created.ID)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_requests_total{method="POST",route="/users`)
	assert.Contains(t, string(body), `status="201"} 1`)
	assert.Contains(t, string(body), "go_sql_max_open_connections")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-served)
}

func TestServer_MigrationsAreIdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	ctx := context.Background()

	first, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, second.Shutdown(ctx))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "serving", StateServing.String())
}
