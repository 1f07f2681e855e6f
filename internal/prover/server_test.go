package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/types"
)

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()
	store := newTestStore(t)
	scaler := NewScalerOracle(1, 2, 8)
	srv := NewServer(store, scaler, ServerConfig{
		Addr:          "127.0.0.1:0",
		ProverTimeout: time.Minute,
	}, zap.NewNop())
	return srv, store
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "alive" {
		t.Errorf("status = %d %q", resp.StatusCode, body)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, _, err := store.AddJob(JobTypeSingle, 3, 3, []byte("witness"), SingleProofJobPriority); err != nil {
		t.Fatal(err)
	}

	client := NewClient(ts.URL, "workerA", 5*time.Second, zap.NewNop())
	if err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status: %v", err)
	}

	job, err := client.GetJob(context.Background())
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job == nil || job.FirstBlock != 3 || string(job.Payload) != "witness" {
		t.Fatalf("job = %+v", job)
	}

	if err := client.WorkingOn(context.Background(), job.JobID); err != nil {
		t.Fatalf("WorkingOn: %v", err)
	}

	if err := client.Publish(context.Background(), job.JobID, job.FirstBlock, job.LastBlock, []byte("proof")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Duplicate publication is a conflict with a distinct error.
	err = client.Publish(context.Background(), job.JobID, job.FirstBlock, job.LastBlock, []byte("proof"))
	if err != ErrDuplicateJobResult {
		t.Errorf("duplicate publish err = %v, want ErrDuplicateJobResult", err)
	}

	// No more work.
	if job, err := client.GetJob(context.Background()); err != nil || job != nil {
		t.Errorf("expected empty assignment, got %+v err=%v", job, err)
	}
}

func TestLeaseExpiryOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	now := time.Unix(1700000000, 0)
	store.SetClock(func() time.Time { return now })

	if _, _, err := store.AddJob(JobTypeSingle, 7, 7, nil, SingleProofJobPriority); err != nil {
		t.Fatal(err)
	}

	proverA := NewClient(ts.URL, "proverA", 5*time.Second, zap.NewNop())
	proverB := NewClient(ts.URL, "proverB", 5*time.Second, zap.NewNop())

	jobA, err := proverA.GetJob(context.Background())
	if err != nil || jobA == nil {
		t.Fatalf("A GetJob: %+v %v", jobA, err)
	}

	// Lease runs out; the sweeper reclaims; B is assigned job 7.
	now = now.Add(2 * time.Minute)
	if _, err := store.MarkStaleJobsIdle(); err != nil {
		t.Fatal(err)
	}
	jobB, err := proverB.GetJob(context.Background())
	if err != nil || jobB == nil || jobB.JobID != jobA.JobID {
		t.Fatalf("B GetJob: %+v %v", jobB, err)
	}

	// A's publish for the job now fails with the lease error.
	err = proverA.Publish(context.Background(), jobA.JobID, 7, 7, []byte("late"))
	if err != ErrLeaseExpired {
		t.Errorf("A publish err = %v, want ErrLeaseExpired", err)
	}
}

func TestStoppedReleasesOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, _, err := store.AddJob(JobTypeSingle, 1, 1, nil, SingleProofJobPriority); err != nil {
		t.Fatal(err)
	}
	client := NewClient(ts.URL, "leaver", 5*time.Second, zap.NewNop())
	if _, err := client.GetJob(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := client.Stopped(context.Background()); err != nil {
		t.Fatalf("Stopped: %v", err)
	}

	other := NewClient(ts.URL, "other", 5*time.Second, zap.NewNop())
	job, err := other.GetJob(context.Background())
	if err != nil || job == nil {
		t.Errorf("released job not reassignable: %+v %v", job, err)
	}
}

func TestGetJobRequiresName(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/get_job")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReplicasEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for i := 0; i < 5; i++ {
		if _, _, err := store.AddJob(JobTypeSingle, types.BlockNumber(i+1), types.BlockNumber(i+1), nil, SingleProofJobPriority); err != nil {
			t.Fatal(err)
		}
	}

	resp := postJSON(t, ts, "/api/internal/prover/replicas", struct{}{})
	defer resp.Body.Close()
	var rr ReplicasResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Baseline 1 plus ceil(5/2) = 4.
	if rr.Replicas != 4 {
		t.Errorf("replicas = %d, want 4", rr.Replicas)
	}
}

func TestPublishBadBase64(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts, "/publish", map[string]interface{}{
		"job_id": 1,
		"worker": "w",
		"data":   "%%%not-base64%%%",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
