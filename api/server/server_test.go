package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/malbeclabs/bounty/api/handlers"
	bountytesting "github.com/malbeclabs/bounty/utils/pkg/testing"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const submissions = `ERC-20 Wallet Address,Week Number,Campaign Name
0xaa,Week 30,Twitter Campaign;Youtube Campaign
0xbb,Week 23,Twitter Campaign
`

func newTestServer(t *testing.T, listenAddr string, burst int) *Server {
	t.Helper()
	srv, err := New(Config{
		ListenAddr:     listenAddr,
		RateLimit:      rate.Every(time.Hour),
		RateBurst:      burst,
		VersionInfo:    handlers.VersionInfo{Version: "v1.2.3", Commit: "abc", Date: "2026-10-01"},
		HandlersConfig: handlers.Config{Logger: bountytesting.NewLogger()},
	})
	require.NoError(t, err)
	return srv
}

func TestBounty_Server_Config(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg = Config{ListenAddr: ":8080", HandlersConfig: handlers.Config{Logger: bountytesting.NewLogger()}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	require.Equal(t, DefaultRateLimit, cfg.RateLimit)
	require.Equal(t, DefaultRateBurst, cfg.RateBurst)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestBounty_Server_Routes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, "127.0.0.1:0", 1)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	t.Run("healthz is ok", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("readyz is unavailable before run", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("version reports build info", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/version")
		require.NoError(t, err)
		defer resp.Body.Close()

		var info handlers.VersionInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		require.Equal(t, "v1.2.3", info.Version)
	})

	t.Run("catalog is served", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/catalog")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("cors preflight is answered", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/allocations", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://bounty.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("allocations are rate limited per client", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/allocations?format=csv", "text/csv", strings.NewReader(submissions))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, string(body), "0xaa,Youtube Campaign,flat_per_unit,1,0,0.00,0.00,500")

		resp, err = http.Post(ts.URL+"/api/allocations", "text/csv", strings.NewReader(submissions))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})
}

func TestBounty_Server_Run(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, "127.0.0.1:0", 5)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	require.Eventually(t, srv.Ready, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	require.False(t, srv.Ready())
}
