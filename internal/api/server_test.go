package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/engine"
	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/security"
	"github.com/banshee-data/shelfd/internal/shelf"
	"github.com/banshee-data/shelfd/internal/source"
	"github.com/banshee-data/shelfd/internal/testutil"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

type stubSource struct {
	mu   sync.Mutex
	sink source.Sink
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Start(_ context.Context, sink source.Sink) error {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	return nil
}

func (s *stubSource) Stop() error { return nil }

func (s *stubSource) Sink() source.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

type fixture struct {
	t      *testing.T
	src    *stubSource
	store  *config.Store
	engine *engine.Engine
	server *Server
	mux    *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	f := &fixture{
		t:     t,
		src:   &stubSource{},
		store: config.NewStore(config.DefaultSettings()),
	}
	f.engine = engine.New(engine.Options{
		Source:  f.src,
		Clock:   clock,
		Store:   f.store,
		Windows: shelf.NewHeadlessWindows(),
		Router:  events.NewRouter(clock),
	})
	require.NoError(t, f.engine.Start(ctx))
	runErr := make(chan error, 1)
	go func() { runErr <- f.engine.Run(ctx) }()
	require.NoError(t, f.engine.Do(ctx, func() {}))
	t.Cleanup(func() {
		require.NoError(t, f.engine.Stop())
		require.NoError(t, <-runErr)
		cancel()
	})

	f.server = NewServer(f.engine, f.store, nil)
	f.mux = f.server.ServeMux()
	return f
}

// createShelf drags a file and shakes until the engine has made a shelf.
func (f *fixture) createShelf() string {
	f.t.Helper()
	sink := f.src.Sink()
	sink.OnDragStart(testutil.DraggedFiles("/tmp/notes.txt"))
	for _, smp := range testutil.Wiggle(400, 300, 50, 1_000, 50, 5) {
		sink.OnPosition(smp)
	}
	require.Eventually(f.t, func() bool {
		return len(f.engine.Coordinator().Shelves()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return f.engine.Coordinator().Shelves()[0].ID
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, testutil.NewJSONRequest(method, path, body))
	return rec
}

func TestListShelvesEmpty(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/shelves", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = f.do(http.MethodPost, "/api/shelves", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShelfLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.createShelf()

	rec := f.do(http.MethodGet, "/api/shelves/"+id, "")
	testutil.AssertStatus(t, rec, http.StatusOK)
	var h shelf.Handle
	testutil.DecodeJSON(t, rec, &h)
	assert.Equal(t, id, h.ID)
	assert.Empty(t, h.Items)

	rec = f.do(http.MethodPost, "/api/shelves/"+id+"/drop-start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.True(t, h.ReceivingDrop)

	rec = f.do(http.MethodPost, "/api/shelves/"+id+"/files", `{"paths":["/tmp/notes.txt","/tmp/photos/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var dropped dropFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dropped))
	require.Len(t, dropped.Added, 2)
	assert.True(t, dropped.Shelf.Pinned)
	assert.False(t, dropped.Shelf.ReceivingDrop)
	assert.Len(t, dropped.Shelf.Items, 2)

	rec = f.do(http.MethodPost, "/api/shelves/"+id+"/pin", `{"pinned":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.False(t, h.Pinned)

	rec = f.do(http.MethodDelete, "/api/shelves/"+id+"/items/"+dropped.Added[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Len(t, h.Items, 1)

	rec = f.do(http.MethodDelete, "/api/shelves/"+id+"/items/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/api/shelves/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/shelves/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/api/shelves/"+id+"/drop-end", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShelfRequestValidation(t *testing.T) {
	f := newFixture(t)
	id := f.createShelf()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing id", http.MethodGet, "/api/shelves/", "", http.StatusBadRequest},
		{"files bad json", http.MethodPost, "/api/shelves/" + id + "/files", `{`, http.StatusBadRequest},
		{"files empty", http.MethodPost, "/api/shelves/" + id + "/files", `{"paths":[]}`, http.StatusBadRequest},
		{"files relative path", http.MethodPost, "/api/shelves/" + id + "/files", `{"paths":["notes.txt"]}`, http.StatusBadRequest},
		{"pin missing field", http.MethodPost, "/api/shelves/" + id + "/pin", `{}`, http.StatusBadRequest},
		{"unknown action", http.MethodPost, "/api/shelves/" + id + "/explode", "", http.StatusNotFound},
		{"get on action", http.MethodGet, "/api/shelves/" + id + "/pin", "", http.StatusMethodNotAllowed},
		{"put shelf", http.MethodPut, "/api/shelves/" + id, "", http.StatusMethodNotAllowed},
		{"post item", http.MethodPost, "/api/shelves/" + id + "/items/x", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDropPolicyRestrictsRoots(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	f.server.SetDropPolicy(security.DropPolicy{AllowedRoots: []string{root}})
	id := f.createShelf()

	rec := f.do(http.MethodPost, "/api/shelves/"+id+"/files", `{"paths":["/etc/passwd"]}`)
	testutil.AssertStatus(t, rec, http.StatusBadRequest)
	assert.Contains(t, rec.Body.String(), "outside the allowed roots")

	body, err := json.Marshal(dropFilesRequest{Paths: []string{filepath.Join(root, "notes.txt")}})
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/api/shelves/"+id+"/files", string(body))
	testutil.AssertStatus(t, rec, http.StatusOK)
}

func TestSettingsGetAndPatch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.GetDragShakeEnabled())

	rec = f.do(http.MethodPut, "/api/settings", `{"drag_shake_enabled":false,"empty_shelf_timeout":"5s"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.GetDragShakeEnabled())
	assert.Equal(t, 5*time.Second, f.store.Current().GetEmptyShelfTimeout())
	require.Eventually(t, func() bool {
		return !f.engine.Coordinator().Status().Enabled
	}, time.Second, 5*time.Millisecond)

	rec = f.do(http.MethodPut, "/api/settings", `{"min_direction_changes":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPut, "/api/settings", `{"shake_harder":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodDelete, "/api/settings", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t)
	f.createShelf()

	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = f.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, uint64(1), st.Coordinator.Stats.Created)
	assert.GreaterOrEqual(t, st.Engine.Shakes, uint64(1))
	assert.GreaterOrEqual(t, st.Router.Published, uint64(3))
	assert.Nil(t, st.Journal)
}

func TestShakeTrace(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/debug/shake-trace", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.createShelf()
	rec = f.do(http.MethodGet, "/debug/shake-trace?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var td engine.TraceData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &td))
	assert.NotEmpty(t, td.Samples)
	assert.NotEmpty(t, td.Shakes)

	rec = f.do(http.MethodGet, "/debug/shake-trace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Detected shakes")
}

func TestEngineStoppedIsUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Stop())
	rec := f.do(http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTailStreamsFilteredEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/tail?kind=shelf-created", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": ping", lines.Text())

	id := f.createShelf()

	var eventLine, dataLine string
	for lines.Scan() {
		line := lines.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: shelf-created", eventLine)
	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev))
	assert.Equal(t, id, ev.ShelfID)
}
