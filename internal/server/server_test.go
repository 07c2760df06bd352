package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/la-ruche/keyserver/internal/config"
	"github.com/la-ruche/keyserver/internal/logging"
	"github.com/la-ruche/keyserver/internal/tokens"
)

func TestNewServesHealthz(t *testing.T) {
	store := tokens.NewMemoryStore(0)
	defer store.Close()

	cfg := config.Config{
		AppName:          "La Ruche",
		AppEnv:           "test",
		Port:             "0",
		SessionSecret:    "server-test-secret-server-test-secret",
		SessionTTL:       time.Hour,
		RPID:             "localhost",
		RPDisplayName:    "La Ruche",
		RPOrigins:        []string{"http://localhost:3000"},
		ChallengeTTL:     time.Minute,
		LinkTTL:          time.Minute,
		RelayTicketTTL:   time.Minute,
		BundleCandidates: 5,
	}
	srv, err := New(cfg, nil, nil, store, logging.Discard())
	require.NoError(t, err)

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/keys/nobody/bundle", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
