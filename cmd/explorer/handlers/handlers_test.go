package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/testutil"
)

const (
	writeToken = "write-secret"
	readToken  = "read-secret"
)

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type apiHarness struct {
	router   http.Handler
	jobs     job.Store
	notifier *countingNotifier
}

func hash(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &job.Job{})
	log := logger.NewTestLogger()

	h := &apiHarness{
		jobs:     job.NewMySQLStore(db, log),
		notifier: &countingNotifier{},
	}
	h.router = NewRouter(
		NewHealthHandler(nil),
		NewExplorationHandler(h.jobs, h.notifier, []hierarchy.Platform{hierarchy.PlatformAndroid}, log),
		NewDeviceHandler(map[hierarchy.Platform]*device.Pool{}),
		NewTokenAuth(hash(t, writeToken), hash(t, readToken), log),
		log,
	)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func exploration(appID string, platform hierarchy.Platform) map[string]interface{} {
	return map[string]interface{}{
		"app_id":             appID,
		"platform":           string(platform),
		"target_screenshots": 5,
		"requested_by":       "release-pipeline",
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestCreateExploration(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/explorations", writeToken, exploration("com.example.app", hierarchy.PlatformAndroid))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, job.StatusCreated, created.Status)
	assert.Equal(t, "com.example.app", created.AppID)
	assert.Equal(t, 1, h.notifier.count())

	stored, err := h.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "release-pipeline", stored.RequestedBy)
	assert.Equal(t, "android", stored.Config["platform"])
	assert.Equal(t, float64(5), stored.Config["target_screenshots"])
	assert.NotContains(t, stored.Config, "requested_by")
}

func TestCreateExploration_Rejects(t *testing.T) {
	withDevice := exploration("com.example.app", hierarchy.PlatformIOS)
	withDevice["device_id"] = "6F1C2B3A"
	noRequester := exploration("com.example.app", hierarchy.PlatformAndroid)
	delete(noRequester, "requested_by")

	tests := []struct {
		name       string
		token      string
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{name: "no token", body: exploration("a", hierarchy.PlatformAndroid), wantStatus: http.StatusUnauthorized},
		{name: "wrong token", token: "nope", body: exploration("a", hierarchy.PlatformAndroid), wantStatus: http.StatusUnauthorized},
		{name: "read-only token", token: readToken, body: exploration("a", hierarchy.PlatformAndroid), wantStatus: http.StatusForbidden},
		{name: "missing requester", token: writeToken, body: noRequester, wantStatus: http.StatusBadRequest, wantError: "requested_by"},
		{name: "unknown platform", token: writeToken, body: exploration("a", "web"), wantStatus: http.StatusBadRequest, wantError: "platform"},
		{name: "platform without pool", token: writeToken, body: exploration("a", hierarchy.PlatformIOS), wantStatus: http.StatusBadRequest, wantError: "no device pool"},
		{name: "platform without pool but device named", token: writeToken, body: withDevice, wantStatus: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			w := h.do(t, http.MethodPost, "/api/v1/explorations", tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantError != "" {
				assert.Contains(t, w.Body.String(), tt.wantError)
			}
		})
	}
}

func TestListExplorations(t *testing.T) {
	h := newAPIHarness(t)
	for _, app := range []string{"com.example.one", "com.example.two", "com.example.two"} {
		w := h.do(t, http.MethodPost, "/api/v1/explorations", writeToken, exploration(app, hierarchy.PlatformAndroid))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := h.do(t, http.MethodGet, "/api/v1/explorations?app_id=com.example.two&limit=1", readToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items  []job.Job `json:"items"`
		Total  int       `json:"total"`
		Limit  int       `json:"limit"`
		Offset int       `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Limit)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "com.example.two", resp.Items[0].AppID)

	w = h.do(t, http.MethodGet, "/api/v1/explorations?status=bogus", readToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExploration(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/explorations", writeToken, exploration("com.example.app", hierarchy.PlatformAndroid))
	require.Equal(t, http.StatusCreated, w.Code)
	var created job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{name: "found", id: created.ID.String(), wantStatus: http.StatusOK},
		{name: "not found", id: uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "malformed", id: "not-a-uuid", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodGet, "/api/v1/explorations/"+tt.id, readToken, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestListDevices(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/api/v1/devices", readToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestTokenAuth_DisabledGrantsWrite(t *testing.T) {
	auth := NewTokenAuth("", "", logger.Noop())
	assert.False(t, auth.Enabled())

	var scope string
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, _ = r.Context().Value(ScopeKey).(string)
		RequireWriteScope(w, r)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/explorations", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ScopeReadWrite, scope)
}
