package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/feedmap/internal/config"
	"github.com/JonMunkholm/feedmap/internal/core"
	"github.com/JonMunkholm/feedmap/internal/store"
)

// stubFetcher serves feed bodies by URL.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, &core.FetchError{URL: url, StatusCode: http.StatusNotFound, Cause: errors.New("not found")}
	}
	return []byte(body), nil
}

func (f *stubFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

const feedURL = "http://feeds.test/cars.csv"

func newTestServer(t *testing.T) (*Server, *stubFetcher) {
	t.Helper()

	fetcher := &stubFetcher{
		bodies: map[string]string{feedURL: "vin,make,price\n1A,FORD,20000\n2B,kia,15000.5\n"},
		errs:   map[string]error{},
	}
	svc, err := core.NewService(store.NewMemory(), core.ServiceConfig{Fetcher: fetcher})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	cfg := &config.Config{
		Export: config.ExportConfig{CacheSize: 8, PreviewLimit: 100},
	}
	return NewServer(svc, cfg), fetcher
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const groupBody = `{"name":"cars","sourceUrl":"` + feedURL + `","updateTimes":["6:00","18:00"],"rules":"daily dealer feed"}`

func TestHealthAndUpdateTimes(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	health := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 0, health["snapshots"])

	rec = do(t, s, http.MethodGet, "/api/update-times", "")
	require.Equal(t, http.StatusOK, rec.Code)
	opts := decodeBody[map[string][]string](t, rec)["options"]
	require.Len(t, opts, 24)
	assert.Equal(t, "00:00", opts[0])
	assert.Equal(t, "23:00", opts[23])
}

func TestCreateGroup(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/groups", groupBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/groups/cars", rec.Header().Get("Location"))

	g := decodeBody[core.Group](t, rec)
	assert.Equal(t, []string{"06:00", "18:00"}, g.UpdateTimes)
	assert.Nil(t, g.Fields)

	rec = do(t, s, http.MethodPost, "/api/groups", groupBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "CFG001", resp.Code)
	assert.Equal(t, "DuplicateName", resp.Reason)
}

func TestCreateGroupRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty body", "", http.StatusBadRequest, "REQ003"},
		{"malformed", `{"name":`, http.StatusBadRequest, "REQ003"},
		{"unknown field", `{"name":"a","sourceUrl":"http://x.test/a.csv","fields":["a"]}`, http.StatusBadRequest, "REQ003"},
		{"bad update time", `{"name":"a","sourceUrl":"http://x.test/a.csv","updateTimes":["06:30"]}`, http.StatusUnprocessableEntity, "CFG004"},
		{"missing url", `{"name":"a"}`, http.StatusUnprocessableEntity, "CFG004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			rec := do(t, s, http.MethodPost, "/api/groups", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestGetGroupNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/api/groups/nope", "/api/groups/nope/status", "/api/channels/nope"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "CFG007", decodeBody[ErrorResponse](t, rec).Code, path)
	}
}

func TestRefreshAndExport(t *testing.T) {
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", groupBody).Code)

	rec := do(t, s, http.MethodPost, "/api/groups/cars/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[runResponse](t, rec)
	assert.Equal(t, core.StateCommitted, run.State)
	assert.Equal(t, int64(1), run.SchemaVersion)
	assert.Equal(t, 2, run.RecordCount)
	assert.Equal(t, []string{"vin", "make", "price"}, run.Fields)
	assert.NotEmpty(t, run.RunID)

	// Fields are now known, so channel sources are checked
	rec = do(t, s, http.MethodPost, "/api/channels",
		`{"name":"bad","group":"cars","fields":[{"targetName":"x","sourceField":"color"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidField", decodeBody[ErrorResponse](t, rec).Reason)

	rec = do(t, s, http.MethodPost, "/api/channels",
		`{"name":"site","group":"cars","fields":[`+
			`{"targetName":"Make","sourceField":"make","rule":"lowercase"},`+
			`{"targetName":"Price","sourceField":"price","rule":"round:0"},`+
			`{"targetName":"VIN","sourceField":"vin"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/channels/site/export", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Make,Price,VIN\nford,20000,1A\nkia,15001,2B\n", rec.Body.String())
	assert.Equal(t, `attachment; filename="site.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "1", rec.Header().Get("X-Schema-Version"))
	assert.Equal(t, "ok", rec.Header().Get("X-Snapshot-Status"))
	assert.Equal(t, "0", rec.Header().Get("X-Mapping-Warnings"))

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/channels/site/export", nil)
	req.Header.Set("If-None-Match", etag)
	cond := httptest.NewRecorder()
	s.Router().ServeHTTP(cond, req)
	assert.Equal(t, http.StatusNotModified, cond.Code)

	rec = do(t, s, http.MethodGet, "/api/channels/site/preview?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody[core.Preview](t, rec)
	assert.Equal(t, []string{"Make", "Price", "VIN"}, preview.Columns)
	assert.Equal(t, [][]string{{"ford", "20000", "1A"}}, preview.Rows)
	assert.Equal(t, 2, preview.TotalRows)
}

func TestExportBeforeFirstRun(t *testing.T) {
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", groupBody).Code)
	rec := do(t, s, http.MethodPost, "/api/channels",
		`{"name":"site","group":"cars","fields":[{"targetName":"VIN","sourceField":"vin"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/channels/site/export", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "MAP001", decodeBody[ErrorResponse](t, rec).Code)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	s, fetcher := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", groupBody).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/groups/cars/refresh", "").Code)

	fetcher.mu.Lock()
	fetcher.errs[feedURL] = &core.FetchError{URL: feedURL, StatusCode: http.StatusInternalServerError, Cause: errors.New("boom")}
	fetcher.mu.Unlock()

	rec := do(t, s, http.MethodPost, "/api/groups/cars/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "FEED001", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodGet, "/api/groups/cars/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[core.GroupStatus](t, rec)
	assert.Equal(t, core.StateFailedRetained, st.State)
	assert.Equal(t, core.StatusStale, st.SnapshotStatus)
	assert.Equal(t, 2, st.RecordCount)
	assert.NotEmpty(t, st.LastError)
}

func TestRefreshAll(t *testing.T) {
	s, fetcher := newTestServer(t)
	fetcher.set("http://feeds.test/boats.csv", "hull,len\nH1,20\n")

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", groupBody).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups",
		`{"name":"boats","sourceUrl":"http://feeds.test/boats.csv"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups",
		`{"name":"planes","sourceUrl":"http://feeds.test/missing.csv"}`).Code)

	rec := do(t, s, http.MethodPost, "/api/groups/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Groups []core.RefreshOutcome `json:"groups"`
		Total  int                   `json:"total"`
		Failed int                   `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 1, body.Failed)

	// The failed group holds an error snapshot
	health := decodeBody[map[string]any](t, do(t, s, http.MethodGet, "/healthz", ""))
	assert.EqualValues(t, 3, health["groups"])
	assert.EqualValues(t, 3, health["snapshots"])
}

func TestDeleteGroup(t *testing.T) {
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", groupBody).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/channels",
		`{"name":"site","group":"cars","fields":[{"targetName":"VIN","sourceField":"vin"}]}`).Code)

	rec := do(t, s, http.MethodDelete, "/api/groups/cars", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CFG005", decodeBody[ErrorResponse](t, rec).Code)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups",
		`{"name":"solo","sourceUrl":"http://feeds.test/solo.csv"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/groups/solo", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/groups/solo", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/groups/solo", "").Code)
}

func TestCreateChannelDanglingGroup(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/channels",
		`{"name":"site","group":"ghost","fields":[{"targetName":"VIN","sourceField":"vin"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "CFG002", resp.Code)
	assert.Equal(t, "group", resp.Field)
}

func TestListGroupsAndChannels(t *testing.T) {
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", groupBody).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/channels",
		`{"name":"site","group":"cars","fields":[{"targetName":"VIN","sourceField":"vin"}]}`).Code)

	groups := decodeBody[map[string][]core.Group](t, do(t, s, http.MethodGet, "/api/groups", ""))["groups"]
	require.Len(t, groups, 1)
	assert.Equal(t, "cars", groups[0].Name)

	channels := decodeBody[map[string][]core.Channel](t, do(t, s, http.MethodGet, "/api/channels", ""))["channels"]
	require.Len(t, channels, 1)
	assert.Equal(t, "site", channels[0].Name)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", core.ErrDuplicateName, http.StatusConflict},
		{"in flight", core.ErrRunInFlight, http.StatusConflict},
		{"pool exhausted", core.ErrPoolExhausted, http.StatusServiceUnavailable},
		{"runner stopped", core.ErrRunnerStopped, http.StatusServiceUnavailable},
		{"fetch", &core.FetchError{URL: feedURL, StatusCode: 500, Attempts: 4}, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
