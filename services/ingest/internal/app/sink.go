package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gotovo/internal/servicetoken"
	"gotovo/pkg/domain"
	"gotovo/pkg/retrieval"
)

// Sink commits one batch of records to the index.
type Sink interface {
	Upsert(ctx context.Context, batch []domain.RuleRecord) error
}

// batchBody is both the artifact layout and the indexer request body.
type batchBody struct {
	Items []domain.RuleRecord `json:"items"`
}

// IndexerSink posts batches to the indexer service and waits for the
// resulting job, so a batch only counts as committed once it is indexed.
type IndexerSink struct {
	baseURL      string
	signer       *servicetoken.Signer
	httpClient   *http.Client
	pollInterval time.Duration
	jobTimeout   time.Duration
}

// IndexerSinkOption tunes an IndexerSink.
type IndexerSinkOption func(*IndexerSink)

// WithJobPollInterval sets how often job status is polled.
func WithJobPollInterval(d time.Duration) IndexerSinkOption {
	return func(s *IndexerSink) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewIndexerSink(baseURL string, signer *servicetoken.Signer, timeout time.Duration, opts ...IndexerSinkOption) *IndexerSink {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s := &IndexerSink{
		baseURL:      strings.TrimRight(baseURL, "/"),
		signer:       signer,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: time.Second,
		jobTimeout:   timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert sends a batch and blocks until its job is done. Client errors other
// than 408 and 429 are permanent. A failed job is retryable.
func (s *IndexerSink) Upsert(ctx context.Context, batch []domain.RuleRecord) error {
	payload, err := json.Marshal(batchBody{Items: batch})
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := s.do(ctx, http.MethodPost, "/indexer/rules", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	var accepted struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("decode indexer response: %w", err)
	}
	if accepted.JobID == "" {
		return backoff.Permanent(errors.New("indexer response has no job id"))
	}
	return s.waitJob(ctx, accepted.JobID)
}

func (s *IndexerSink) waitJob(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		job, err := s.getJob(ctx, id)
		if err != nil {
			return err
		}
		switch job.Status {
		case domain.JobDone:
			return nil
		case domain.JobFailed:
			msg := job.ErrorMessage
			if msg == "" {
				msg = "no error message"
			}
			return fmt.Errorf("indexer job %s failed: %s", id, msg)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("indexer job %s still %s: %w", id, job.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *IndexerSink) getJob(ctx context.Context, id string) (domain.IndexJob, error) {
	resp, err := s.do(ctx, http.MethodGet, "/indexer/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.IndexJob{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.IndexJob{}, statusError(resp)
	}
	var job domain.IndexJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return domain.IndexJob{}, fmt.Errorf("decode indexer job: %w", err)
	}
	return job, nil
}

func (s *IndexerSink) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := s.signer.Sign("indexer")
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("sign service token: %w", err))
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return s.httpClient.Do(req)
}

func statusError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = resp.Status
	}
	err := fmt.Errorf("indexer service error: HTTP %d: %s", resp.StatusCode, msg)
	if resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// DirectSink embeds and upserts in process.
type DirectSink struct {
	indexer *retrieval.Indexer
}

func NewDirectSink(indexer *retrieval.Indexer) *DirectSink {
	return &DirectSink{indexer: indexer}
}

func (s *DirectSink) Upsert(ctx context.Context, batch []domain.RuleRecord) error {
	_, err := s.indexer.Upsert(ctx, batch)
	return err
}
