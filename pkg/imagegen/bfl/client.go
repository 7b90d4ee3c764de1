// Package bfl implements the Black Forest Labs flux API, which is
// asynchronous: a generation request returns a job id that is polled
// until the result is ready.
package bfl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

const defaultPollInterval = 3 * time.Second

type Client struct {
	config       *imagegen.Config
	httpClient   *http.Client
	pollInterval time.Duration
}

type Option func(*Client)

// WithPollInterval overrides the result polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func New(config *imagegen.Config, opts ...Option) *Client {
	c := &Client{
		config:       config,
		httpClient:   &http.Client{},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) baseURL() string {
	if c.config.BaseURL != "" {
		return strings.TrimRight(c.config.BaseURL, "/")
	}
	return imagegen.DefaultBFLBaseURL
}

type submitRequest struct {
	Prompt      string `json:"prompt"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Detail string `json:"detail"`
}

type resultResponse struct {
	Status string `json:"status"`
	Result struct {
		Sample string `json:"sample"`
	} `json:"result"`
}

// Generate submits a job and polls until it completes or ctx expires.
// Refinement images ride along as image_prompt conditioning.
func (c *Client) Generate(ctx context.Context, req *imagegen.Request) ([]byte, error) {
	width, height := parseSize(req.Size)
	sub := submitRequest{
		Prompt: buildPrompt(req),
		Width:  width,
		Height: height,
	}
	if len(req.SourceImage) > 0 {
		sub.ImagePrompt = base64.StdEncoding.EncodeToString(req.SourceImage)
	}

	jobID, err := c.submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	sampleURL, err := c.poll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, sampleURL)
}

func (c *Client) submit(ctx context.Context, sub submitRequest) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s", c.baseURL(), c.config.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var subResp submitResponse
	if err := json.Unmarshal(respBody, &subResp); err != nil {
		return "", fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if subResp.Detail != "" {
			return "", fmt.Errorf("submit failed (status %d): %s", resp.StatusCode, subResp.Detail)
		}
		return "", fmt.Errorf("submit failed: status %d", resp.StatusCode)
	}
	if subResp.ID == "" {
		return "", fmt.Errorf("submit response missing job id")
	}
	return subResp.ID, nil
}

func (c *Client) poll(ctx context.Context, jobID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/get_result?id=%s", c.baseURL(), url.QueryEscape(jobID))
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("create poll request: %w", err)
		}
		httpReq.Header.Set("x-key", c.config.APIKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("poll job: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read poll response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("poll failed: status %d", resp.StatusCode)
		}

		var result resultResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return "", fmt.Errorf("parse poll response: %w", err)
		}
		switch result.Status {
		case "Ready":
			if result.Result.Sample == "" {
				return "", fmt.Errorf("job ready but no sample url")
			}
			return result.Result.Sample, nil
		case "Error", "Failed", "Content Moderated", "Request Moderated":
			return "", fmt.Errorf("job %s: %s", jobID, result.Status)
		}
		// Pending / Queued / Processing: keep polling.
	}
}

func (c *Client) download(ctx context.Context, sampleURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sampleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download sample: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download sample: status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return img, nil
}

func buildPrompt(req *imagegen.Request) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	var b strings.Builder
	for _, turn := range req.Context {
		b.WriteString(turn.Prompt)
		b.WriteString(". ")
	}
	b.WriteString(req.Prompt)
	return b.String()
}

func parseSize(size string) (int, int) {
	var w, h int
	if n, err := fmt.Sscanf(size, "%dx%d", &w, &h); err == nil && n == 2 && w > 0 && h > 0 {
		return w, h
	}
	return 1024, 1024
}
