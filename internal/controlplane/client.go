// Package controlplane implements the daemon's side of the five HTTP
// endpoints spec.md §6 names. It is a client only — the control plane's own
// implementation is out of scope.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dendro-project/compute-resource-daemon/internal/identity"
)

const defaultBaseURL = "https://api.dendro.dev"

// Client signs and sends requests to the control plane on behalf of one
// compute resource identity.
type Client struct {
	baseURL    string
	identity   *identity.Identity
	httpClient *http.Client
}

// New builds a Client. baseURL defaults to the production API if empty.
func New(id *identity.Identity, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		identity: id,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// App is the wire shape of one entry in GET .../apps — spec.md §3
// DendroComputeResourceApp.
type App struct {
	Name           string              `json:"name"`
	SpecURI        string              `json:"specUri"`
	ExecutablePath *string             `json:"executablePath,omitempty"`
	Container      *string             `json:"container,omitempty"`
	AWSBatch       *AWSBatchOpts       `json:"awsBatch,omitempty"`
	Slurm          *SlurmOpts          `json:"slurm,omitempty"`
}

// AWSBatchOpts mirrors ComputeResourceAwsBatchOpts.
type AWSBatchOpts struct {
	JobQueue      string `json:"jobQueue"`
	JobDefinition string `json:"jobDefinition"`
}

// SlurmOpts mirrors ComputeResourceSlurmOpts.
type SlurmOpts struct {
	Partition   *string `json:"partition,omitempty"`
	Time        *string `json:"time,omitempty"`
	CPUsPerTask *int    `json:"cpusPerTask,omitempty"`
	OtherOpts   *string `json:"otherOpts,omitempty"`
}

// GetApps fetches the compute resource's app list (spec.md §4.2).
func (c *Client) GetApps(ctx context.Context) ([]App, error) {
	var resp struct {
		Apps []App `json:"apps"`
	}
	path := fmt.Sprintf("/api/compute_resource/compute_resources/%s/apps", c.identity.ID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Apps, nil
}

// PutSpec reports the aggregated processor spec (spec.md §4.3). Non-fatal:
// callers should log a failure here and proceed, per spec.md §4.3.
func (c *Client) PutSpec(ctx context.Context, spec any) error {
	path := fmt.Sprintf("/api/compute_resource/compute_resources/%s/spec", c.identity.ID)
	body := map[string]any{"spec": spec}
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}

// PubsubSubscription mirrors spec.md §3 PubsubSubscription.
type PubsubSubscription struct {
	SubscribeKey string `json:"pubnubSubscribeKey"`
	Channel      string `json:"pubnubChannel"`
	UserID       string `json:"pubnubUser"`
}

// GetPubsubSubscription fetches the subscription parameters for this
// compute resource (spec.md §6).
func (c *Client) GetPubsubSubscription(ctx context.Context) (*PubsubSubscription, error) {
	var resp struct {
		Subscription PubsubSubscription `json:"subscription"`
	}
	path := fmt.Sprintf("/api/compute_resource/compute_resources/%s/pubsub_subscription", c.identity.ID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Subscription, nil
}

// Job is the wire shape of one entry in GET .../unfinished_jobs — the
// subset of spec.md §3 DendroJob fields the dispatcher needs.
type Job struct {
	JobID            string          `json:"jobId"`
	JobPrivateKey    string          `json:"jobPrivateKey"`
	ProcessorName    string          `json:"processorName"`
	Status           string          `json:"status"`
	TimestampCreated float64         `json:"timestampCreated"`
	InputFiles       json.RawMessage `json:"inputFiles,omitempty"`
	InputParameters  json.RawMessage `json:"inputParameters,omitempty"`
	OutputFiles      json.RawMessage `json:"outputFiles,omitempty"`
}

// GetUnfinishedJobs polls for jobs addressed to this compute resource that
// are not yet in a terminal state (spec.md §4.5 step 2).
func (c *Client) GetUnfinishedJobs(ctx context.Context) ([]Job, error) {
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	path := fmt.Sprintf("/api/compute_resource/compute_resources/%s/unfinished_jobs", c.identity.ID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// SetJobStatus updates a job's status, authenticated with the job's own
// private key (never the compute resource's) per spec.md §3/§6.
func (c *Client) SetJobStatus(ctx context.Context, jobID, jobPrivateKey, status, errMsg string) error {
	path := fmt.Sprintf("/api/processor/jobs/%s/status", jobID)
	body := map[string]any{"status": status}
	if errMsg != "" {
		body["error"] = errMsg
	}
	return c.doJobJSON(ctx, http.MethodPut, path, jobPrivateKey, body, nil)
}

// doJSON signs the request with the compute resource's own identity key.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	return c.do(ctx, method, path, body, out, func(req *http.Request, payload []byte) error {
		return c.signComputeResourceRequest(req, payload)
	})
}

// doJobJSON authenticates the request with the job's private key instead,
// for the status endpoint: the key itself is sent in the job-private-key
// header and no signature is computed.
func (c *Client) doJobJSON(ctx context.Context, method, path, jobPrivateKey string, body any, out any) error {
	return c.do(ctx, method, path, body, out, func(req *http.Request, payload []byte) error {
		req.Header.Set("job-private-key", jobPrivateKey)
		return nil
	})
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, sign func(*http.Request, []byte) error) error {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Every mutating call carries its own freshly generated request id.
	// The client makes no retries itself; a caller that repeats a call
	// sends a new id with it.
	if method != http.MethodGet {
		req.Header.Set("X-Dendro-Request-Id", uuid.NewString())
	}
	if c.identity.NodeID != "" {
		req.Header.Set("X-Node-Id", c.identity.NodeID)
	}
	if c.identity.NodeName != "" {
		req.Header.Set("X-Node-Name", c.identity.NodeName)
	}

	if err := sign(req, payload); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// signComputeResourceRequest signs `timestamp + method + path + body` with
// the compute resource's private key and attaches the resulting headers.
func (c *Client) signComputeResourceRequest(req *http.Request, payload []byte) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	toSign := []byte(timestamp + req.Method + req.URL.Path)
	toSign = append(toSign, payload...)

	sig, err := c.identity.Sign(toSign)
	if err != nil {
		return err
	}

	req.Header.Set("X-Dendro-Id", c.identity.ID)
	req.Header.Set("X-Dendro-Timestamp", timestamp)
	req.Header.Set("X-Dendro-Signature", sig)
	return nil
}
