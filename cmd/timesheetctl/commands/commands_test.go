package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": status < 300, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if status < 300 {
		body["data"] = data
	} else {
		body["error"] = "Conflict"
		body["message"] = "Another run is in progress, try again later"
	}
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestAPIClient_Do(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/pending":
			writeEnvelope(t, w, http.StatusOK, map[string]any{"items": []any{}, "count": 0})
		case "/api/v1/runs/process":
			writeEnvelope(t, w, http.StatusConflict, nil)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("404 page not found"))
		}
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL+"/", 5*time.Second)

	var pending struct {
		Count int `json:"count"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/api/v1/pending", nil, &pending))
	assert.Equal(t, 0, pending.Count)

	err := c.do(context.Background(), http.MethodPost, "/api/v1/runs/process", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "error %v is not an APIError", err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "Conflict", apiErr.Type)

	err = c.do(context.Background(), http.MethodGet, "/missing", nil, nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestIngestCmd_Backlog(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		queries <- r.URL.RawQuery
		writeEnvelope(t, w, http.StatusOK, models.IngestSummary{RunID: "run-7", Origin: "backlog", Fetched: 5, Queued: 3, Skipped: 2})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := NewIngestCmd(&Options{APIURL: srv.URL, Timeout: 5 * time.Second})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--days", "7"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Equal(t, "days=7", <-queries)
	assert.Contains(t, out.String(), "Ingestion run-7 (backlog)")
	assert.Contains(t, out.String(), "Queued:  3")
}

func TestIngestCmd_RejectsNegativeDays(t *testing.T) {
	t.Parallel()

	cmd := NewIngestCmd(&Options{APIURL: "http://127.0.0.1:0", Timeout: time.Second})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--days", "-1"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestEnqueueCmd(t *testing.T) {
	t.Parallel()

	requests := make(chan entries.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/entries", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req entries.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req
		writeEnvelope(t, w, http.StatusCreated, []models.WorkItem{
			{ID: "manual-a", OriginDate: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), Source: models.SourceManual, FixedDurationMinutes: models.IntPtr(45)},
			{ID: "manual-b", OriginDate: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), Source: models.SourceManual, FixedDurationMinutes: models.IntPtr(45)},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := NewEnqueueCmd(&Options{APIURL: srv.URL, Timeout: 5 * time.Second})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--description", "Firewall review",
		"--client", "Acme", "--project", "Infra", "--activity", "Ops",
		"--hours", "1.5", "--distribution", "split", "--tag", "network",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	got := <-requests
	assert.Equal(t, models.DistributionSplit, got.Distribution)
	assert.Equal(t, 1.5, got.Hours)
	assert.Equal(t, []string{"network"}, got.Tags)
	assert.Contains(t, out.String(), "Queued 2 item(s)")
	assert.Contains(t, out.String(), "manual-b on 2026-10-16, 45 min")
}

func TestEnqueueCmd_ValidatesLocally(t *testing.T) {
	t.Parallel()

	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	cmd := NewEnqueueCmd(&Options{APIURL: srv.URL, Timeout: time.Second})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--description", "x", "--hours", "1", "--distribution", "date"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
	assert.False(t, called.Load())
}

func TestPlanCmd(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 10, 15, 7, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-10-15", r.URL.Query().Get("date"))
		writeEnvelope(t, w, http.StatusOK, map[string]any{
			"date": "2026-10-15",
			"slots": []models.ScheduleSlot{
				{WorkItemID: "101", Title: "Printer", Start: start, End: start.Add(160 * time.Minute), DurationMinutes: 160},
			},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := NewPlanCmd(&Options{APIURL: srv.URL, Timeout: 5 * time.Second})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--date", "2026-10-15"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "07:30-10:10  160 min  Printer")
	assert.Contains(t, out.String(), "Total: 160 min")
}

func TestStatusCmd_NothingRecorded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, map[string]any{"last_ingest": nil, "last_batch": nil})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := NewStatusCmd(&Options{APIURL: srv.URL, Timeout: 5 * time.Second})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "No ingestion recorded yet")
	assert.Contains(t, out.String(), "No processing run recorded yet")
}
