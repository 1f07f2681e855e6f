package prover

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/zkrollup-go/internal/types"
)

// Client is the HTTP client a prover worker uses to talk to the
// coordinator.
type Client struct {
	base   string
	name   string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a worker client. name identifies the worker in lease
// bookkeeping and must be stable across requests.
func NewClient(baseURL, name string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		base:   baseURL,
		name:   name,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Status checks coordinator liveness.
func (c *Client) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator status %d", resp.StatusCode)
	}
	return nil
}

// AssignedJob is a job with its decoded payload.
type AssignedJob struct {
	JobID      uint64
	Type       JobType
	FirstBlock uint32
	LastBlock  uint32
	Payload    []byte
}

// GetJob asks for work. Returns (nil, nil) when no job is available.
func (c *Client) GetJob(ctx context.Context) (*AssignedJob, error) {
	u := fmt.Sprintf("%s/get_job?name=%s", c.base, url.QueryEscape(c.name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get_job request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get_job status %d", resp.StatusCode)
	}

	var jr JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, fmt.Errorf("decode get_job response: %w", err)
	}
	if jr.JobID == 0 {
		return nil, nil
	}
	payload, err := base64.StdEncoding.DecodeString(jr.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &AssignedJob{
		JobID:      jr.JobID,
		Type:       jr.Type,
		FirstBlock: uint32(jr.FirstBlock),
		LastBlock:  uint32(jr.LastBlock),
		Payload:    payload,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// WorkingOn extends the lease on a held job.
func (c *Client) WorkingOn(ctx context.Context, jobID uint64) error {
	resp, err := c.postJSON(ctx, "/working_on", WorkingOnRequest{JobID: jobID, Worker: c.name})
	if err != nil {
		return fmt.Errorf("working_on request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrLeaseExpired
	default:
		return fmt.Errorf("working_on status %d", resp.StatusCode)
	}
}

// Publish submits a finished proof.
func (c *Client) Publish(ctx context.Context, jobID uint64, firstBlock, lastBlock uint32, proof []byte) error {
	resp, err := c.postJSON(ctx, "/publish", PublishRequest{
		JobID:      jobID,
		Worker:     c.name,
		FirstBlock: types.BlockNumber(firstBlock),
		LastBlock:  types.BlockNumber(lastBlock),
		Data:       base64.StdEncoding.EncodeToString(proof),
	})
	if err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		msg, _ := io.ReadAll(resp.Body)
		if bytes.Contains(msg, []byte("duplicate")) {
			return ErrDuplicateJobResult
		}
		return ErrLeaseExpired
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish status %d", resp.StatusCode)
	}
	return nil
}

// Stopped tells the coordinator the worker is leaving; held jobs return to
// the idle pool.
func (c *Client) Stopped(ctx context.Context) error {
	resp, err := c.postJSON(ctx, "/stopped", StoppedRequest{Worker: c.name})
	if err != nil {
		return fmt.Errorf("stopped request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stopped status %d", resp.StatusCode)
	}
	return nil
}
