// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Job states reported by the parsing service.
const (
	jobSuccess = "SUCCESS"
	jobError   = "ERROR"
	jobPending = "PENDING"
)

// LlamaParse converts documents with the LlamaParse HTTP service: upload
// the file, poll the job, and download the Markdown result.
type LlamaParse struct {
	baseURL      string
	apiKey       string
	userAgent    string
	pollInterval time.Duration
	client       *http.Client
	policy       retry.Policy
	limiter      *worker.Limiter
}

// NewLlamaParse creates the backend. It requires an API key.
func NewLlamaParse(cfg types.ConversionConfig, policy retry.Policy, limiter *worker.Limiter) (*LlamaParse, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llamaparse backend requires an API key (conversion.api_key or LLAMA_CLOUD_API_KEY)")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &LlamaParse{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		userAgent:    cfg.UserAgent,
		pollInterval: poll,
		client:       &http.Client{},
		policy:       policy,
		limiter:      limiter,
	}, nil
}

// Name returns "llamaparse".
func (l *LlamaParse) Name() string { return string(types.BackendLlamaParse) }

type llamaJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message,omitempty"`
}

type llamaMarkdown struct {
	Markdown string `json:"markdown"`
}

// Convert uploads path and waits for the job to finish. The overall wait is
// bounded by ctx.
func (l *LlamaParse) Convert(ctx context.Context, path string) (string, error) {
	job, err := l.upload(ctx, path)
	if err != nil {
		return "", err
	}

	for {
		status := strings.ToUpper(job.Status)
		if status == jobSuccess {
			break
		}
		switch status {
		case jobError:
			return "", &types.ParseError{Path: path, Reason: "parsing service rejected document", Err: errors.New(job.Error)}
		case jobPending, "":
		default:
			return "", types.ConversionServiceError("poll job", fmt.Errorf("job %s in unexpected state %q", job.ID, job.Status), false)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.pollInterval):
		}
		id := job.ID
		if err := l.getJSON(ctx, "poll job", "/api/parsing/job/"+id, &job); err != nil {
			return "", err
		}
		if job.ID == "" {
			job.ID = id
		}
	}

	var result llamaMarkdown
	if err := l.getJSON(ctx, "fetch result", "/api/parsing/job/"+job.ID+"/result/markdown", &result); err != nil {
		return "", err
	}
	return result.Markdown, nil
}

func (l *LlamaParse) upload(ctx context.Context, path string) (llamaJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return llamaJob{}, &types.ParseError{Path: path, Reason: "cannot read", Err: err}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return llamaJob{}, fmt.Errorf("creating multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return llamaJob{}, fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return llamaJob{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/parsing/upload", bytes.NewReader(body.Bytes()))
	if err != nil {
		return llamaJob{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job llamaJob
	if err := l.do(ctx, "upload", req, &job); err != nil {
		return llamaJob{}, err
	}
	if job.ID == "" {
		return llamaJob{}, &types.MalformedResponseError{Service: types.ServiceConversion, Err: errors.New("upload response has no job id")}
	}
	return job, nil
}

func (l *LlamaParse) getJSON(ctx context.Context, op, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return l.do(ctx, op, req, v)
}

// do sends req under the rate limit and retry policy and decodes a 200
// response into v.
func (l *LlamaParse) do(ctx context.Context, op string, req *http.Request, v any) error {
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Accept", "application/json")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	if err := l.limiter.Wait(ctx, types.ServiceConversion+"/"+l.Name()); err != nil {
		return err
	}

	resp, err := l.policy.DoHTTP(ctx, l.client, req)
	if err != nil {
		return types.ConversionServiceError(op, err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return retry.StatusError(types.ServiceConversion, op, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ConversionServiceError(op, fmt.Errorf("reading response: %w", err), true)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &types.MalformedResponseError{Service: types.ServiceConversion, Raw: string(data), Err: err}
	}
	return nil
}
