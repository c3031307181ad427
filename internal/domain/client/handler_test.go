package client_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"notifgate/internal/domain/client"
	"notifgate/internal/infra/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandler(t *testing.T) {
	r := gin.New()
	client.NewHandler(client.NewService(store.NewMemoryStore(), nil, nil)).RegisterRoutes(r.Group("/api/v1"))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/v1/clients", `{"email":"user@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data client.Client `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "user@example.com", created.Data.Email)

	assert.Equal(t, http.StatusConflict, do(http.MethodPost, "/api/v1/clients", `{"email":"user@example.com"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/clients", `{"email":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/clients", `{}`).Code)

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/clients/"+created.Data.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/v1/clients/missing", "").Code)

	w = do(http.MethodGet, "/api/v1/clients", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clients":[`)

	assert.Equal(t, http.StatusOK, do(http.MethodDelete, "/api/v1/clients/"+created.Data.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/v1/clients/"+created.Data.ID, "").Code)
}
