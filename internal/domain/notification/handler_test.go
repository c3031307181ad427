package notification_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notifgate/internal/domain/notification"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter(f *fixture) *gin.Engine {
	r := gin.New()
	notification.NewHandler(f.svc, nil).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHandler_TypeLifecycle(t *testing.T) {
	f := newFixture(t, notification.Options{})
	r := newTestRouter(f)

	w, env := do(t, r, http.MethodPost, "/api/v1/notification-types", map[string]any{
		"name": "News", "max_occurrences": 1, "window_minutes": 1440,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)

	w, _ = do(t, r, http.MethodPost, "/api/v1/notification-types", map[string]any{
		"name": "News", "max_occurrences": 1, "window_minutes": 1440,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/notification-types", map[string]any{
		"name": "Bad", "max_occurrences": 0, "window_minutes": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPut, "/api/v1/notification-types/News", map[string]any{
		"max_occurrences": 3, "window_minutes": 60,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	var edited notification.Type
	require.NoError(t, json.Unmarshal(env.Data, &edited))
	assert.Equal(t, 3, edited.MaxOccurrences)

	w, _ = do(t, r, http.MethodPut, "/api/v1/notification-types/Ghost", map[string]any{
		"max_occurrences": 3, "window_minutes": 60,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/notification-types", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Types []notification.Type `json:"types"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Types, 1)

	w, _ = do(t, r, http.MethodDelete, "/api/v1/notification-types/News", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/v1/notification-types/News", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_SendStrict(t *testing.T) {
	f := newFixture(t, notification.Options{})
	r := newTestRouter(f)
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 60)

	w, env := do(t, r, http.MethodPost, "/api/v1/send", map[string]any{"type": "News", "client_id": c.ID, "message": "hi"})
	assert.Equal(t, http.StatusCreated, w.Code)
	var res notification.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Sent)
	require.NotNil(t, res.Record)

	f.clock.Advance(15 * time.Minute)
	w, env = do(t, r, http.MethodPost, "/api/v1/send", map[string]any{"type": "News", "client_id": c.ID})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2700", w.Header().Get("Retry-After"))
	assert.False(t, env.Success)

	w, _ = do(t, r, http.MethodPost, "/api/v1/send", map[string]any{"type": "News", "client_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/send", map[string]any{"type": "News"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/notifications/"+res.Record.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/notifications?client_id="+c.ID+"&page_size=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var page notification.ListResponse
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)
}

func TestHandler_SendPermissive(t *testing.T) {
	f := newFixture(t, notification.Options{Mode: notification.ModePermissive})
	r := newTestRouter(f)
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 60)

	w, _ := do(t, r, http.MethodPost, "/api/v1/send", map[string]any{"type": "News", "client_id": c.ID})
	assert.Equal(t, http.StatusCreated, w.Code)

	w, env := do(t, r, http.MethodPost, "/api/v1/send", map[string]any{"type": "News", "client_id": c.ID})
	assert.Equal(t, http.StatusOK, w.Code)
	var res notification.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Sent)
	assert.NotEmpty(t, res.Reason)
}

func TestHandler_ResendWebhook(t *testing.T) {
	f := newFixture(t, notification.Options{Enqueuer: &fakeEnqueuer{}})
	r := newTestRouter(f)
	c := f.addClient(t, "a@example.com")
	f.addType(t, "News", 1, 60)

	res, err := f.send(c.ID, "News")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateDeliveryStatus(t.Context(), res.Record.ID, notification.StatusSent, "re_9", ""))

	w, env := do(t, r, http.MethodPost, "/api/v1/webhooks/resend", map[string]any{
		"type": "email.bounced", "data": map[string]any{"email_id": "re_9"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"processed"}`, string(env.Data))

	w, env = do(t, r, http.MethodGet, "/api/v1/notifications/"+res.Record.ID+"/delivery", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var d notification.Delivery
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, notification.StatusBounced, d.Status)

	w, env = do(t, r, http.MethodPost, "/api/v1/webhooks/resend", map[string]any{"type": "email.clicked"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, string(env.Data))

	w, _ = do(t, r, http.MethodPost, "/api/v1/webhooks/resend", map[string]any{"type": "email.delivered"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
