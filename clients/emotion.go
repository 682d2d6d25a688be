package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taar/callqa-pipeline/metrics"
)

// Job states reported by the batch emotion service.
const (
	JobPending   = "PENDING"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxPolls     = 360
)

// ErrPollLimit is returned when a job is still running after the maximum
// number of status checks.
var ErrPollLimit = errors.New("emotion job did not finish within the poll limit")

// SubmissionError is a non-200 reply to a job submission.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("emotion job submission failed: %d - %s", e.StatusCode, e.Body)
}

// StatusError is a client-error reply to a job status check, such as a
// rejected API key or an unknown job id. Polling stops on it.
type StatusError struct {
	JobID      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("emotion job %s status check failed: %d - %s", e.JobID, e.StatusCode, e.Body)
}

// JobFailedError means the service finished the job in the FAILED state.
type JobFailedError struct {
	JobID string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("emotion job %s failed", e.JobID)
}

// --- Emotion batch jobs ---
type modelConfig struct {
	Granularity string `json:"granularity,omitempty"`
}

type JobConfig struct {
	Models map[string]modelConfig `json:"models"`
	Notify bool                   `json:"notify"`
}

// DefaultJobConfig requests utterance-level prosody, vocal bursts and
// word-level language emotions.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Models: map[string]modelConfig{
			"prosody":  {Granularity: "utterance"},
			"burst":    {},
			"language": {Granularity: "word"},
		},
	}
}

type submitResp struct {
	JobID string `json:"job_id"`
}

type statusResp struct {
	State struct {
		Status string `json:"status"`
	} `json:"state"`
}

// Hume drives the submit / poll / fetch protocol of the batch emotion API.
type Hume struct {
	h        *HTTP
	url      string
	apiKey   string
	cfg      JobConfig
	interval time.Duration
	maxPolls int
}

type HumeOption func(*Hume)

// WithPollInterval sets the wait between status checks.
func WithPollInterval(d time.Duration) HumeOption {
	return func(c *Hume) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxPolls bounds the number of status checks per job.
func WithMaxPolls(n int) HumeOption {
	return func(c *Hume) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}

func (h *HTTP) Hume(baseURL, apiKey string, opts ...HumeOption) *Hume {
	c := &Hume{
		h:        h,
		url:      strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		cfg:      DefaultJobConfig(),
		interval: DefaultPollInterval,
		maxPolls: DefaultMaxPolls,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Hume) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-Hume-Api-Key", c.apiKey)
	}
	return req, nil
}

// Submit uploads the audio file with the job configuration and returns the
// job id.
func (c *Hume) Submit(ctx context.Context, wavPath string) (string, error) {
	cfg, err := json.Marshal(c.cfg)
	if err != nil {
		return "", err
	}
	body, contentType, err := multipartBody(
		[]formFile{{field: "file", path: wavPath, contentType: "audio/wav"}},
		nil,
		map[string][2]string{"json": {"application/json", string(cfg)}},
	)
	if err != nil {
		return "", fmt.Errorf("emotion build request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.h.c.Do(req)
	if err != nil {
		return "", fmt.Errorf("emotion submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var out submitResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("emotion submit decode: %w", err)
	}
	if out.JobID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: "response carried no job_id"}
	}
	return out.JobID, nil
}

// status fetches the job state. 4xx replies other than 429 are a
// *StatusError; server errors and unreadable replies yield an empty state so
// the caller keeps polling.
func (c *Hume) status(ctx context.Context, jobID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.url+"/"+jobID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.h.c.Do(req)
	if err != nil {
		return "", fmt.Errorf("emotion status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", &StatusError{JobID: jobID, StatusCode: resp.StatusCode, Body: string(b)}
		}
		c.h.log.WithFields(logrus.Fields{"job": jobID, "status": resp.Status}).
			Warnf("emotion status check rejected: %s", string(b))
		return "", nil
	}
	var out statusResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.h.log.WithError(err).WithField("job", jobID).Warn("emotion status decode")
		return "", nil
	}
	return out.State.Status, nil
}

// AwaitCompletion polls the job until it is COMPLETED or FAILED. It checks
// at most maxPolls times, sleeping the poll interval between checks, and
// returns early with ctx.Err() when ctx is done.
func (c *Hume) AwaitCompletion(ctx context.Context, jobID string) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		st, err := c.status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.h.log.WithFields(logrus.Fields{"job": jobID, "state": st, "attempt": attempt}).Debug("emotion job status")

		switch st {
		case JobCompleted:
			metrics.ObservePolls(st, attempt)
			return nil
		case JobFailed:
			metrics.ObservePolls(st, attempt)
			return &JobFailedError{JobID: jobID}
		}
		if attempt >= c.maxPolls {
			metrics.ObservePolls("LIMIT", attempt)
			return fmt.Errorf("%w (job %s, %d checks)", ErrPollLimit, jobID, attempt)
		}
		timer.Reset(c.interval)
	}
}

// FetchResults downloads the raw prediction payload of a finished job.
func (c *Hume) FetchResults(ctx context.Context, jobID string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.url+"/"+jobID+"/predictions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.h.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emotion predictions: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("emotion predictions read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emotion predictions %s: %s", resp.Status, string(b))
	}
	return json.RawMessage(b), nil
}

// Analyze runs submit, wait and fetch for one audio file.
func (c *Hume) Analyze(ctx context.Context, wavPath string) (json.RawMessage, error) {
	jobID, err := c.Submit(ctx, wavPath)
	if err != nil {
		return nil, err
	}
	c.h.log.WithField("job", jobID).Info("emotion job submitted")
	if err := c.AwaitCompletion(ctx, jobID); err != nil {
		return nil, err
	}
	return c.FetchResults(ctx, jobID)
}
