package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/keypool"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/schedule"
	"github.com/jonesrussell/hotel-ingest/internal/taskstate"
	"github.com/jonesrussell/hotel-ingest/internal/workunits"
)

type fakePoiStarter struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
}

func (f *fakePoiStarter) Run(_ context.Context, _, runID string) error {
	f.mu.Lock()
	f.runs = append(f.runs, runID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

type fakeHotelStarter struct {
	mu         sync.Mutex
	runs       int
	continuous bool
	done       chan struct{}
}

func (f *fakeHotelStarter) Run(_ context.Context, _ string, continuous bool) error {
	f.mu.Lock()
	f.runs++
	f.continuous = continuous
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

type scheduleRepoStub struct{}

func (scheduleRepoStub) GetJobSchedule(_ context.Context, jobCode string) (*models.JobSchedule, error) {
	return &models.JobSchedule{JobCode: jobCode}, nil
}

type harness struct {
	engine *gin.Engine
	state  *taskstate.Store
	units  *workunits.Store
	poi    *fakePoiStarter
	hotel  *fakeHotelStarter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	state := taskstate.New(rdb, models.JobPoiCollect)
	units := workunits.New(rdb)

	pool, err := keypool.New(keypool.Config{
		Credentials: []models.Credential{{Key: "key-12345678", Secret: "secret"}},
		DailyQuota:  100,
		Strategy:    keypool.RoundRobin,
	}, logger.NewNopLogger())
	require.NoError(t, err)

	poi := &fakePoiStarter{done: make(chan struct{})}
	hotel := &fakeHotelStarter{done: make(chan struct{})}

	router := NewRouter(context.Background(), state, units, pool,
		schedule.New(scheduleRepoStub{}, time.Minute),
		poi, hotel, nil, rdb, logger.NewNopLogger())

	return &harness{
		engine: router.SetupRoutes(false),
		state:  state,
		units:  units,
		poi:    poi,
		hotel:  hotel,
	}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func TestStartPoiRun_Accepted(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/poi/start", `{"run_id":"resume-1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-h.poi.done:
	case <-time.After(time.Second):
		t.Fatal("run was not launched")
	}
	assert.Equal(t, []string{"resume-1"}, h.poi.runs)
}

func TestStartPoiRun_ConflictWhenActive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.state.Start(context.Background(), "run-1", "trace-1", 4))

	w := h.do(http.MethodPost, "/api/v1/poi/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPauseResumeStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.state.Start(ctx, "run-1", "trace-1", 4))

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/poi/pause", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/poi/resume", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/poi/stop", `{"reason":"maintenance"}`).Code)

	st, err := h.state.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStopped, st.Status)
	assert.Equal(t, "maintenance", st.Message)
}

func TestPause_ConflictWhenIdle(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/v1/poi/pause", "").Code)
}

func TestPoiStatus_IncludesUnitStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.units.Initialize(ctx, "run-1",
		[]config.Region{{Code: "440100"}}, []config.Category{{Code: "110000"}, {Code: "100000"}})
	require.NoError(t, err)
	require.NoError(t, h.state.Start(ctx, "run-1", "trace-1", 2))

	w := h.do(http.MethodGet, "/api/v1/poi/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		State models.TaskState `json:"state"`
		Units models.UnitStats `json:"units"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.TaskRunning, resp.State.Status)
	assert.Equal(t, 2, resp.Units.Total)
}

func TestRunUnits_NotFound(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/poi/runs/ghost/units", "").Code)
}

func TestClearRunUnits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.units.Initialize(ctx, "run-1",
		[]config.Region{{Code: "440100"}}, []config.Category{{Code: "110000"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/api/v1/poi/runs/run-1/units", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/poi/runs/run-1/units", "").Code)
}

func TestStartHotelSync_Continuous(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/hotels/sync", `{"continuous":true}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-h.hotel.done:
	case <-time.After(time.Second):
		t.Fatal("sync was not launched")
	}
	assert.True(t, h.hotel.continuous)
}

func TestCredentialStatus_MasksKeys(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/credentials", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "key-12345678")
	assert.Contains(t, w.Body.String(), `"available":1`)
}

func TestInvalidateSchedules(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/schedule/invalidate", "").Code)
}

func TestInvalidateSchedules_SingleJob(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/schedule/invalidate?job_code=poi_collect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"job_code":"poi_collect"`)
}

func TestHealthz_DegradedWithoutDatabase(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
	assert.Contains(t, w.Body.String(), `"connected":true`)
}
