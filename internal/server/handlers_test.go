package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garloon/meet-and-greet-server/internal/config"
	"github.com/garloon/meet-and-greet-server/internal/domain"
)

type fakeCatalog struct {
	channels []domain.Channel
	failWith error
}

func (f *fakeCatalog) Exists(_ context.Context, channelID string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	for _, ch := range f.channels {
		if ch.ID == channelID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCatalog) List(context.Context) ([]domain.Channel, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.channels, nil
}

func newCatalogTestServer(catalog domain.ChannelCatalog) *Server {
	return &Server{
		echo:      echo.New(),
		config:    &config.Config{Port: "8080"},
		catalog:   catalog,
		startTime: time.Now(),
	}
}

func TestHandleListChannels(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	catalog := &fakeCatalog{channels: []domain.Channel{
		{ID: "general", Name: "General", Description: "Open discussion", IsPublic: true},
		{ID: "random", Name: "Random", IsPublic: true},
	}}
	srv := newCatalogTestServer(catalog)

	err := srv.handleListChannels(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"general"`)
	assert.Contains(t, rec.Body.String(), `"id":"random"`)
}

func TestHandleListChannels_NoCatalog(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newCatalogTestServer(nil)

	err := srv.handleListChannels(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleListChannels_CatalogError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newCatalogTestServer(&fakeCatalog{failWith: fmt.Errorf("query failed")})

	err := srv.handleListChannels(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebSocket_RequiresUserID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	srv := newCatalogTestServer(nil)

	err := srv.handleWebSocket(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "userId")
}

func TestValidateChannel(t *testing.T) {
	catalog := &fakeCatalog{channels: []domain.Channel{{ID: "general", Name: "General"}}}
	srv := newCatalogTestServer(catalog)

	assert.NoError(t, srv.validateChannel(context.Background(), "general"))
	assert.Error(t, srv.validateChannel(context.Background(), "never-created"))
}

func TestValidateChannel_NoCatalogAllowsAll(t *testing.T) {
	srv := newCatalogTestServer(nil)
	assert.NoError(t, srv.validateChannel(context.Background(), "anything"))
}

func TestValidateChannel_CatalogErrorFailsOpen(t *testing.T) {
	srv := newCatalogTestServer(&fakeCatalog{failWith: fmt.Errorf("query failed")})
	assert.NoError(t, srv.validateChannel(context.Background(), "general"))
}

func TestIdentityValue_QueryBeatsHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/chat?userId=from-query", nil)
	req.Header.Set("X-User-ID", "from-header")
	c := e.NewContext(req, httptest.NewRecorder())

	assert.Equal(t, "from-query", identityValue(c, "userId", "X-User-ID"))
}

func TestIdentityValue_HeaderFallback(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.Header.Set("X-User-ID", "from-header")
	c := e.NewContext(req, httptest.NewRecorder())

	assert.Equal(t, "from-header", identityValue(c, "userId", "X-User-ID"))
}
