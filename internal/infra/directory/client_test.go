package directory

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return New(baseURL, time.Second, slog.New(slog.DiscardHandler))
}

func TestLookup_ResolvesProfile(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/api/v1/user/u42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"_id":"u42","name":"Grace","email":"grace@example.com"}`))
	}))
	defer server.Close()

	profile, err := newTestClient(server.URL).Lookup(context.Background(), "u42")
	req.NoError(err)
	req.Equal("u42", profile.ID)
	req.Equal("Grace", profile.Name)
	req.Equal("grace@example.com", profile.Email)
}

func TestLookup_NonOKStatusIsAnError(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Lookup(context.Background(), "ghost")
	req.Error(err)
	req.Contains(err.Error(), "unexpected status 404")
}

func TestLookup_UnreachableDirectoryIsAnError(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := newTestClient(server.URL).Lookup(context.Background(), "u1")
	req.Error(err)
}

func TestLookup_RequiresUserID(t *testing.T) {
	req := require.New(t)
	_, err := newTestClient("http://localhost:0").Lookup(context.Background(), "")
	req.Error(err)
}

func TestLookup_FillsMissingIDFromRequest(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"NoID"}`))
	}))
	defer server.Close()

	profile, err := newTestClient(server.URL).Lookup(context.Background(), "u7")
	req.NoError(err)
	req.Equal("u7", profile.ID)
}
