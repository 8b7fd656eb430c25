package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"chatly/internal/infra/config"
	"chatly/internal/infra/obs"
	"chatly/internal/infra/realtime"
)

func startServer(t *testing.T) (*realtime.Registry, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	registry := realtime.NewRegistry(logger)
	gateway := &realtime.Gateway{Registry: registry, Secret: testSecret, Logger: logger}

	server := NewServer(config.Config{Env: "test", HTTPAddr: ":0"},
		obs.Middleware{Logger: logger},
		obs.HealthHandlers{},
		Handlers{WebSocket: http.HandlerFunc(gateway.Handle)})
	srv := httptest.NewServer(server.Handler)
	t.Cleanup(srv.Close)
	return registry, srv
}

func TestServer_WebSocketUpgradeRegistersUser(t *testing.T) {
	// Given the assembled server with /ws served off the root mux
	req := require.New(t)
	registry, srv := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// When a client dials /ws with a valid handshake token
	token := signToken(t, testSecret, "u1", time.Hour)
	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws?userId=u1&token="+token, nil)
	req.NoError(err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Then the upgrade succeeds and the user comes online
	req.Eventually(func() bool { return registry.IsUserOnline("u1") },
		2*time.Second, 10*time.Millisecond)
}

func TestServer_HealthServedThroughEngine(t *testing.T) {
	// Given the assembled server
	req := require.New(t)
	_, srv := startServer(t)

	// When the liveness endpoint is requested
	resp, err := srv.Client().Get(srv.URL + "/livez")
	req.NoError(err)
	defer resp.Body.Close()

	// Then the gin engine still answers behind the root mux
	req.Equal(http.StatusOK, resp.StatusCode)
}
