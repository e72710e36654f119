package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DavNight89/adminEstate/internal/estate/backend"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

type fixture struct {
	srv  *Server
	http *httptest.Server
	docs store.Adapter
	csv  store.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)
	reg := backend.NewRegistry(backend.Settings{
		JSONPath: filepath.Join(dir, "data.json"),
		CSVDir:   dir,
		DBDriver: "sqlite",
		DBDSN:    filepath.Join(dir, "estate.db"),
	}, logger)
	t.Cleanup(func() { _ = reg.Close() })

	ctx := context.Background()
	docs, err := reg.Get(ctx, backend.JSON)
	require.NoError(t, err)
	csv, err := reg.Get(ctx, backend.CSV)
	require.NoError(t, err)

	srv, err := New(Config{Store: docs, Registry: reg, Logger: logger})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return &fixture{srv: srv, http: ts, docs: docs, csv: csv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Store: store.NewMemory("mem")})
	assert.Error(t, err)
}

func TestServer_CRUD(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/properties", map[string]any{
		"name":           "Oak Manor",
		"address":        "1 Main St",
		"units":          4,
		"monthlyRevenue": 3200.5,
	})
	require.Equal(t, http.StatusCreated, code, body)
	created := body["data"].(map[string]any)
	id := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, float64(4), created["units"])
	assert.Equal(t, 3200.5, created["monthlyRevenue"])

	code, body = f.do(t, http.MethodGet, "/api/properties", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["data"], 1)

	code, body = f.do(t, http.MethodGet, "/api/properties/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Oak Manor", body["data"].(map[string]any)["name"])

	code, body = f.do(t, http.MethodPut, "/api/properties/"+id, map[string]any{"occupied": 3})
	require.Equal(t, http.StatusOK, code, body)
	updated := body["data"].(map[string]any)
	assert.Equal(t, float64(3), updated["occupied"])
	assert.Equal(t, "Oak Manor", updated["name"])

	code, _ = f.do(t, http.MethodDelete, "/api/properties/"+id, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/api/properties/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
}

func TestServer_NotFound(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/properties/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPut, "/api/tenants/missing", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodDelete, "/api/workorders/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodGet, "/api/unicorns", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_BadBody(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.http.URL+"/api/properties", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Sync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, body := f.do(t, http.MethodPost, "/api/properties", map[string]any{"name": "Oak Manor", "address": "1 Main St"})
	require.Equal(t, true, body["success"])

	code, body := f.do(t, http.MethodPost, "/api/sync/properties?direction=json-to-csv", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"], body["message"])
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(1), result["merged"])

	got, err := f.csv.LoadAll(ctx, schema.KindProperty)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Oak Manor", got[0].String("name"))

	// second run writes the same content
	_, body = f.do(t, http.MethodPost, "/api/sync/properties?direction=json-to-csv", nil)
	assert.Equal(t, float64(1), body["result"].(map[string]any)["merged"])

	runs := f.scrape(t)
	assert.Contains(t, runs, `estate_sync_runs_total{direction="a-to-b",kind="properties",status="success"} 2`)
	assert.Contains(t, runs, `estate_sync_records_written_total{kind="properties",store="csv"} 2`)
}

func TestServer_ReconcilerSharedPerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, req, err := f.srv.Reconciler(ctx, sync.Route{From: "json", To: "csv", Direction: sync.Bidirectional})
	require.NoError(t, err)
	assert.Equal(t, sync.Bidirectional, req.Direction)
	assert.Equal(t, "json", base.StoreA().Name())
	assert.Equal(t, "csv", base.StoreB().Name())

	tests := []struct {
		route sync.Route
		want  sync.Direction
	}{
		{sync.Route{From: "json", To: "csv", Direction: sync.AToB}, sync.AToB},
		{sync.Route{From: "csv", To: "json", Direction: sync.AToB}, sync.BToA},
		{sync.Route{From: "csv", To: "document", Direction: sync.Bidirectional}, sync.Bidirectional},
		{sync.Route{From: "flatfile", To: "json", Direction: sync.BToA}, sync.AToB},
	}
	for _, tt := range tests {
		r, req, err := f.srv.Reconciler(ctx, tt.route)
		require.NoError(t, err, tt.route.String())
		assert.Same(t, base, r, tt.route.String())
		assert.Equal(t, tt.want, req.Direction, tt.route.String())
	}
}

func TestServer_SyncReversedRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, _ := schema.MustLookup(schema.KindProperty).Normalize(map[string]any{"name": "Elm Court", "address": "2 High St"}, time.Now())
	require.NoError(t, f.csv.SaveAll(ctx, schema.KindProperty, []schema.Record{rec}))

	code, body := f.do(t, http.MethodPost, "/api/sync/properties?direction=csv-to-json", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"], body["message"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "b-to-a", result["direction"])
	assert.Equal(t, []any{"json"}, result["written"])

	got, err := f.docs.LoadAll(ctx, schema.KindProperty)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Elm Court", got[0].String("name"))
}

func TestServer_SyncConcurrentRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := schema.MustLookup(schema.KindProperty).Normalize(map[string]any{"name": "Oak Manor", "address": "1 Main St"}, time.Now())
	b, _ := schema.MustLookup(schema.KindProperty).Normalize(map[string]any{"name": "Elm Court", "address": "2 High St"}, time.Now())
	require.NoError(t, f.docs.SaveAll(ctx, schema.KindProperty, []schema.Record{a}))
	require.NoError(t, f.csv.SaveAll(ctx, schema.KindProperty, []schema.Record{b}))

	routes := []string{"json%2Bcsv", "csv%2Bjson", "json-to-csv", "csv-to-json"}
	var wg stdsync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(route string) {
			defer wg.Done()
			resp, err := http.Post(f.http.URL+"/api/sync/properties?direction="+route, "application/json", nil)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			var out syncResponse
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.True(t, out.Success, out.Message)
		}(routes[i%len(routes)])
	}
	wg.Wait()

	// after a final merge both stores hold the same two properties
	_, body := f.do(t, http.MethodPost, "/api/sync/properties", nil)
	require.Equal(t, true, body["success"], body["message"])
	for _, st := range []store.Adapter{f.docs, f.csv} {
		got, err := st.LoadAll(ctx, schema.KindProperty)
		require.NoError(t, err)
		assert.Len(t, got, 2, st.Name())
	}
}

func TestServer_SyncAll(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/sync/all", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"], body["message"])
	assert.Len(t, body["result"], len(schema.Kinds()))
}

func TestServer_SyncBadRoute(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/sync/properties?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, _ = f.do(t, http.MethodPost, "/api/sync/properties?direction=json-to-s3", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/sync/unicorns?direction=json-to-csv", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Stats(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, code)
	portfolio := body["data"].(map[string]any)["portfolio"].(map[string]any)
	assert.Equal(t, float64(0), portfolio["summary"].(map[string]any)["total_properties"])

	f.do(t, http.MethodPost, "/api/properties", map[string]any{
		"name": "Oak Manor", "address": "1 Main St", "units": 4, "occupied": 2,
	})
	_, body = f.do(t, http.MethodGet, "/api/stats", nil)
	summary := body["data"].(map[string]any)["portfolio"].(map[string]any)["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["total_properties"])
	assert.Equal(t, float64(50), summary["occupancy_rate"])

	code, body = f.do(t, http.MethodGet, "/api/analytics/portfolio", nil)
	require.Equal(t, http.StatusOK, code)
	portfolio = body["data"].(map[string]any)
	composition := portfolio["composition"].(map[string]any)
	assert.Equal(t, float64(1), composition["by_size_category"].(map[string]any)["Small"])
	assert.Contains(t, composition, "value_quartiles")
	assert.Equal(t, []any{}, portfolio["strong_correlations"])
	byType := portfolio["by_type"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(50), byType["avg_occupancy_rate"])
	assert.Len(t, portfolio["rankings"].(map[string]any)["largest_properties"], 1)
}

func TestServer_Changes(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/changes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"])

	_, body = f.do(t, http.MethodPost, "/api/tenants", map[string]any{"name": "Ada"})
	id := body["data"].(map[string]any)["id"].(string)
	f.do(t, http.MethodPut, "/api/tenants/"+id, map[string]any{"name": "Ada L."})
	f.do(t, http.MethodPost, "/api/sync/tenants", nil)

	_, body = f.do(t, http.MethodGet, "/api/changes", nil)
	changes := body["data"].([]any)
	require.Len(t, changes, 3)
	types := make([]string, 0, len(changes))
	for i, c := range changes {
		change := c.(map[string]any)
		types = append(types, change["type"].(string))
		assert.Equal(t, float64(i+1), change["seq"])
	}
	assert.Equal(t, []string{"record_change", "record_change", "sync_complete"}, types)

	_, body = f.do(t, http.MethodGet, "/api/changes?limit=1", nil)
	changes = body["data"].([]any)
	require.Len(t, changes, 1)
	assert.Equal(t, "sync_complete", changes[0].(map[string]any)["type"])

	for _, bad := range []string{"0", "-2", "ten"} {
		code, _ = f.do(t, http.MethodGet, "/api/changes?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, code, bad)
	}
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "json", body["store"])
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_WebSocketBroadcasts(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	welcome := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeWelcome, welcome.Type)
	assert.NotEmpty(t, welcome.Data)
	assert.Equal(t, 1, f.srv.Hub().ClientCount())

	_, body := f.do(t, http.MethodPost, "/api/tenants", map[string]any{"name": "Ada"})
	id := body["data"].(map[string]any)["id"].(string)

	msg := readMessage(t, ctx, conn)
	require.Equal(t, MessageTypeRecordChange, msg.Type)
	var change RecordChangeData
	require.NoError(t, json.Unmarshal(msg.Data, &change))
	assert.Equal(t, RecordChangeData{Kind: "tenants", ID: id, Action: "created"}, change)

	f.do(t, http.MethodPost, "/api/sync/tenants?direction=json%2Bcsv", nil)
	msg = readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeSyncComplete, msg.Type)
	var res map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.Equal(t, "tenants", res["kind"])
	assert.Equal(t, "both", res["direction"])
}

func TestServer_StartStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.srv.Start())
	assert.NotEmpty(t, f.srv.Addr())

	resp, err := http.Get("http://" + f.srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Stop(ctx))
}
