package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/funnel-cli/internal/funnel"
	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "funnel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedCompletedRun(t *testing.T, st store.Store) *model.Run {
	t.Helper()
	run := &model.Run{
		ID:          uuid.New().String(),
		Trigger:     "cli",
		Status:      model.RunStatusRunning,
		WindowStart: time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC),
		StartedAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, st.CreateRun(context.Background(), run))

	ds := &funnel.Dataset{
		Columns: []string{"company_id", "company_name"},
		Rows:    [][]string{{"101", "Acme"}, {"102", "Globex"}},
	}
	require.NoError(t, st.SaveDataset(context.Background(), run.ID, ds))

	run.Status = model.RunStatusCompleted
	run.FinishedAt = time.Now().UTC()
	run.Companies = 2
	require.NoError(t, st.CompleteRun(context.Background(), run))
	return run
}

func TestBuildRouter_Health(t *testing.T) {
	router := buildRouter(newTestStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_ListRuns(t *testing.T) {
	st := newTestStore(t)
	run := seedCompletedRun(t, st)
	router := buildRouter(st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
}

func TestBuildRouter_ListRuns_Empty(t *testing.T) {
	router := buildRouter(newTestStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestBuildRouter_ListRuns_BadLimit(t *testing.T) {
	router := buildRouter(newTestStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=zero", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_GetRun(t *testing.T) {
	st := newTestStore(t)
	run := seedCompletedRun(t, st)
	router := buildRouter(st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
}

func TestBuildRouter_GetRun_NotFound(t *testing.T) {
	router := buildRouter(newTestStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.New().String(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_Reconcile(t *testing.T) {
	st := newTestStore(t)
	done := make(chan struct{})
	router := buildRouter(st, func(ctx context.Context) (*model.Run, error) {
		defer close(done)
		return &model.Run{ID: "r1"}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconcile hook never ran")
	}
}

func TestBuildRouter_Reconcile_Conflict(t *testing.T) {
	st := newTestStore(t)
	block := make(chan struct{})
	started := make(chan struct{})
	router := buildRouter(st, func(ctx context.Context) (*model.Run, error) {
		close(started)
		<-block
		return &model.Run{ID: "r1"}, nil
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	require.Equal(t, http.StatusAccepted, first.Code)
	<-started

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	assert.Equal(t, http.StatusConflict, second.Code)

	close(block)
}

func TestBuildRouter_LatestDataset(t *testing.T) {
	st := newTestStore(t)
	run := seedCompletedRun(t, st)
	router := buildRouter(st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/dataset/latest", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, run.ID, rr.Header().Get("X-Run-ID"))
	assert.Equal(t, "company_id,company_name\n101,Acme\n102,Globex\n", rr.Body.String())
}

func TestBuildRouter_LatestDataset_Empty(t *testing.T) {
	router := buildRouter(newTestStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/dataset/latest", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
