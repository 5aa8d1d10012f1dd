package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/communitysafe/alerthub/internal/aggregator"
	"github.com/communitysafe/alerthub/internal/feeds"
	"github.com/communitysafe/alerthub/internal/models"
	"github.com/communitysafe/alerthub/internal/repository"
)

const testSecret = "handler-test-secret"

// stubAdapter feeds the aggregator canned alerts in handler tests.
type stubAdapter struct {
	source       models.Source
	needLocation bool
	alerts       []models.Alert
	calls        atomic.Int64
}

func (s *stubAdapter) Name() models.Source    { return s.source }
func (s *stubAdapter) RequiresLocation() bool { return s.needLocation }

func (s *stubAdapter) Fetch(context.Context, *models.Coordinates) ([]models.Alert, error) {
	s.calls.Add(1)
	return s.alerts, nil
}

const usgsTestFeed = `{
	"features": [
		{
			"id": "nearby",
			"properties": {"mag": 5.1, "place": "near Austin", "time": 1700000000000, "title": "M 5.1", "tsunami": 0},
			"geometry": {"coordinates": [-97.75, 30.25, 8.0]}
		},
		{
			"id": "faraway",
			"properties": {"mag": 6.4, "place": "offshore Chile", "time": 1700000000000, "title": "M 6.4", "tsunami": 0},
			"geometry": {"coordinates": [-72.0, -33.0, 30.0]}
		}
	]
}`

type testEnv struct {
	router *gin.Engine
	repo   *repository.SQLiteDB
	agg    *aggregator.Aggregator
}

func setupTestEnv(t *testing.T, adapters ...feeds.Adapter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	usgsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(usgsTestFeed))
	}))
	t.Cleanup(usgsSrv.Close)
	weatherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[]}`))
	}))
	t.Cleanup(weatherSrv.Close)

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	agg := aggregator.New(adapters, db, aggregator.Options{})
	usgs := feeds.NewUSGSAdapter(usgsSrv.URL, 2.5, usgsSrv.Client())
	weather := feeds.NewWeatherAdapter(weatherSrv.URL, weatherSrv.Client())

	router := gin.New()
	NewHandler(agg, usgs, weather, db, testSecret).RegisterRoutes(router)

	return &testEnv{router: router, repo: db, agg: agg}
}

func doRequest(router *gin.Engine, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetAlerts_Combined(t *testing.T) {
	now := time.Now()
	env := setupTestEnv(t, &stubAdapter{
		source: models.SourceEarthquake,
		alerts: []models.Alert{{
			ID:        "usgs_1",
			Source:    models.SourceEarthquake,
			Severity:  models.SeverityHigh,
			Title:     "M 6.1",
			Timestamp: now,
			Earthquake: &models.EarthquakeDetails{
				Magnitude:   6.1,
				Coordinates: models.Coordinates{Latitude: 1, Longitude: 2},
			},
		}},
	})

	w := doRequest(env.router, "GET", "/api/alerts", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Success    bool                  `json:"success"`
		Data       []models.Alert        `json:"data"`
		Count      int                   `json:"count"`
		Statistics aggregator.Statistics `json:"statistics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if !resp.Success {
		t.Error("expected success true")
	}
	if resp.Count != 1 || len(resp.Data) != 1 {
		t.Fatalf("expected 1 alert, got count=%d len=%d", resp.Count, len(resp.Data))
	}
	if resp.Data[0].Source != models.SourceEarthquake {
		t.Errorf("expected earthquake source, got %s", resp.Data[0].Source)
	}
	if resp.Statistics.Total != 1 {
		t.Errorf("expected statistics total 1, got %d", resp.Statistics.Total)
	}
}

func TestGetAlerts_BadCoordinates(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(env.router, "GET", "/api/alerts?lat=30.5", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for lat without lon, got %d", w.Code)
	}

	w = doRequest(env.router, "GET", "/api/alerts?lat=999&lon=0", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range lat, got %d", w.Code)
	}

	// NaN parses as a float but is not a coordinate.
	w = doRequest(env.router, "GET", "/api/alerts?lat=NaN&lon=0", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for NaN lat, got %d", w.Code)
	}
	w = doRequest(env.router, "GET", "/api/alerts?lat=0&lon=NaN", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for NaN lon, got %d", w.Code)
	}
}

func TestGetAlerts_FreshCacheSkipsRefetch(t *testing.T) {
	now := time.Now()
	adapter := &stubAdapter{
		source: models.SourceEarthquake,
		alerts: []models.Alert{{
			ID:        "usgs_1",
			Source:    models.SourceEarthquake,
			Severity:  models.SeverityModerate,
			Title:     "M 5.0",
			Timestamp: now,
			Earthquake: &models.EarthquakeDetails{
				Magnitude: 5.0,
			},
		}},
	}
	env := setupTestEnv(t, adapter)

	// The first location-less read populates the cache; the second is
	// answered from it.
	for i := 0; i < 2; i++ {
		w := doRequest(env.router, "GET", "/api/alerts", nil, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Fatalf("expected 1 alert on request %d, got %d", i+1, resp.Count)
		}
	}
	if got := adapter.calls.Load(); got != 1 {
		t.Errorf("expected 1 feed fetch for two location-less reads, got %d", got)
	}

	// A location-scoped read always fetches.
	doRequest(env.router, "GET", "/api/alerts?lat=30.2&lon=-97.7", nil, "")
	if got := adapter.calls.Load(); got != 2 {
		t.Errorf("expected a refetch for the location-scoped read, got %d", got)
	}
}

func TestGetEarthquakes(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(env.router, "GET", "/api/alerts/earthquakes?timeframe=day&min_magnitude=4.0", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Data   []models.Alert `json:"data"`
		Count  int            `json:"count"`
		Params map[string]any `json:"params"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Count != 2 {
		t.Fatalf("expected 2 earthquakes, got %d", resp.Count)
	}
	if resp.Params["timeframe"] != "day" {
		t.Errorf("expected params.timeframe day, got %v", resp.Params["timeframe"])
	}
}

func TestGetEarthquakes_RadiusFilter(t *testing.T) {
	env := setupTestEnv(t)

	// Austin-centered 200km radius keeps the nearby quake only.
	w := doRequest(env.router, "GET", "/api/alerts/earthquakes?lat=30.2672&lon=-97.7431&radius_km=200", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Data  []models.Alert `json:"data"`
		Count int            `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Count != 1 {
		t.Fatalf("expected 1 earthquake within radius, got %d", resp.Count)
	}
	if resp.Data[0].ID != "usgs_nearby" {
		t.Errorf("expected usgs_nearby, got %s", resp.Data[0].ID)
	}
}

func TestGetEarthquakes_BadParams(t *testing.T) {
	env := setupTestEnv(t)

	cases := []string{
		"/api/alerts/earthquakes?timeframe=decade",
		"/api/alerts/earthquakes?min_magnitude=big",
		"/api/alerts/earthquakes?radius_km=50",   // radius without lat/lon
		"/api/alerts/earthquakes?lat=30&lon=-97", // lat/lon without radius
		"/api/alerts/earthquakes?lat=30&lon=-97&radius_km=-5",
	}
	for _, path := range cases {
		w := doRequest(env.router, "GET", path, nil, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", path, w.Code)
		}
	}
}

func TestGetWeather_RequiresLocation(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(env.router, "GET", "/api/alerts/weather", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without lat/lon, got %d", w.Code)
	}

	w = doRequest(env.router, "GET", "/api/alerts/weather?lat=30.2&lon=-97.7", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with lat/lon, got %d", w.Code)
	}
}

func TestCommunityAlerts_CreateAndList(t *testing.T) {
	env := setupTestEnv(t)

	token, err := MintToken("u1", "admin", "Dispatch", "dispatch@example.org", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	body := []byte(`{
		"severity": "high",
		"title": "Boil water notice",
		"description": "Treatment plant offline.",
		"affectedAreas": ["Riverside"],
		"priority": "high"
	}`)
	w := doRequest(env.router, "POST", "/api/alerts/community", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Data models.Alert `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if created.Data.Admin == nil || created.Data.Admin.AdminEmail != "dispatch@example.org" {
		t.Error("expected admin details from token claims")
	}
	if created.Data.Admin.Priority != models.PriorityHigh {
		t.Errorf("expected priority high, got %s", created.Data.Admin.Priority)
	}

	w = doRequest(env.router, "GET", "/api/alerts/community", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &listed)
	if listed.Count != 1 {
		t.Errorf("expected 1 community alert, got %d", listed.Count)
	}
}

func TestCommunityAlerts_ExpiredExcluded(t *testing.T) {
	env := setupTestEnv(t)
	past := time.Now().Add(-time.Hour)

	err := env.repo.Add(context.Background(), &models.Alert{
		ID:          "admin_old",
		Source:      models.SourceAdmin,
		Severity:    models.SeverityLow,
		Title:       "Old notice",
		Description: "Done.",
		Timestamp:   time.Now().Add(-2 * time.Hour),
		ExpiresAt:   &past,
		Admin: &models.AdminDetails{
			AdminName:  "ops",
			AdminEmail: "ops@example.org",
			Priority:   models.PriorityLow,
		},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	w := doRequest(env.router, "GET", "/api/alerts/community", nil, "")
	var listed struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &listed)
	if listed.Count != 0 {
		t.Errorf("expected expired alert excluded, got count %d", listed.Count)
	}
}

func TestCreateCommunityAlert_AuthRequired(t *testing.T) {
	env := setupTestEnv(t)
	body := []byte(`{"severity":"low","title":"t","description":"d"}`)

	w := doRequest(env.router, "POST", "/api/alerts/community", body, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	citizenToken, _ := MintToken("u2", "citizen", "Citizen", "c@example.org", testSecret, time.Hour)
	w = doRequest(env.router, "POST", "/api/alerts/community", body, citizenToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for citizen role, got %d", w.Code)
	}

	wrongKeyToken, _ := MintToken("u1", "admin", "A", "a@example.org", "other-secret", time.Hour)
	w = doRequest(env.router, "POST", "/api/alerts/community", body, wrongKeyToken)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong signing key, got %d", w.Code)
	}
}

func TestCreateCommunityAlert_Validation(t *testing.T) {
	env := setupTestEnv(t)
	token, _ := MintToken("u1", "admin", "A", "a@example.org", testSecret, time.Hour)

	cases := []string{
		`{"title":"t","description":"d"}`,                            // missing severity
		`{"severity":"catastrophic","title":"t","description":"d"}`,  // bad severity
		`{"severity":"low","description":"d"}`,                       // missing title
		`{"severity":"low","title":"t","description":"d","priority":"urgent"}`, // bad priority
	}
	for _, body := range cases {
		w := doRequest(env.router, "POST", "/api/alerts/community", []byte(body), token)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for body %s, got %d", body, w.Code)
		}
	}
}

func TestMarkReadEndpoints(t *testing.T) {
	now := time.Now()
	env := setupTestEnv(t, &stubAdapter{
		source: models.SourceEarthquake,
		alerts: []models.Alert{{
			ID:        "usgs_1",
			Source:    models.SourceEarthquake,
			Severity:  models.SeverityModerate,
			Timestamp: now,
			Earthquake: &models.EarthquakeDetails{
				Magnitude: 5.0,
			},
		}},
	})

	// Populate the cache first.
	doRequest(env.router, "GET", "/api/alerts", nil, "")

	w := doRequest(env.router, "POST", "/api/alerts/read/usgs_1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Updated bool `json:"updated"`
		Unread  int  `json:"unread"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Updated || resp.Unread != 0 {
		t.Errorf("expected updated=true unread=0, got %+v", resp)
	}

	// Idempotent.
	w = doRequest(env.router, "POST", "/api/alerts/read/usgs_1", nil, "")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Updated {
		t.Error("expected updated=false on second mark")
	}
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(env.router, "GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}
