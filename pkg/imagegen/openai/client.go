// Package openai implements the OpenAI images API. Recraft and Gemini
// expose OpenAI-compatible endpoints, so the same client serves those
// slots with a different base URL.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

const enhanceSystemPrompt = `You are an expert prompt engineer for image generation models. Rewrite the user's prompt into a single vivid, detailed prompt. Add concrete visual details about subject, composition, lighting, and style. Return only the rewritten prompt with no commentary.`

type Client struct {
	config     *imagegen.Config
	httpClient *http.Client
}

// New creates an OpenAI-compatible client. Request deadlines come from
// the caller's context, so the HTTP client carries no timeout of its own.
func New(config *imagegen.Config) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{},
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) baseURL() string {
	if c.config.BaseURL != "" {
		return strings.TrimRight(c.config.BaseURL, "/")
	}
	return imagegen.DefaultOpenAIBaseURL
}

// Generate makes a single images/generations call. Refinement context is
// folded into the prompt text since the images API has no turn structure.
func (c *Client) Generate(ctx context.Context, req *imagegen.Request) ([]byte, error) {
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}

	apiReq := imageRequest{
		Model:  c.config.Model,
		Prompt: buildPrompt(req),
		N:      1,
		Size:   size,
	}
	// gpt-image-1 always returns base64 and rejects response_format;
	// DALL-E models default to URLs unless asked for b64_json.
	if !strings.HasPrefix(c.config.Model, "gpt-image") {
		apiReq.ResponseFormat = "b64_json"
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiResp imageResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if apiResp.Error != nil {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, apiResp.Error.Message)
		}
		return nil, fmt.Errorf("api error: status %d", resp.StatusCode)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("empty image response")
	}

	if b64 := apiResp.Data[0].B64JSON; b64 != "" {
		img, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return img, nil
	}
	if url := apiResp.Data[0].URL; url != "" {
		return c.download(ctx, url)
	}
	return nil, fmt.Errorf("image response has neither data nor url")
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return img, nil
}

func buildPrompt(req *imagegen.Request) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	var b strings.Builder
	b.WriteString("Refine the image described by these earlier prompts, in order:\n")
	for _, turn := range req.Context {
		b.WriteString("- ")
		b.WriteString(turn.Prompt)
		b.WriteString("\n")
	}
	b.WriteString("Apply this refinement: ")
	b.WriteString(req.Prompt)
	return b.String()
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Enhance rewrites a prompt through the chat completions endpoint. The
// configured model must be a chat model, so enhancement gets its own
// client rather than sharing an image slot's.
func (c *Client) Enhance(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: enhanceSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if apiResp.Error != nil {
			return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, apiResp.Error.Message)
		}
		return "", fmt.Errorf("api error: status %d", resp.StatusCode)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}
