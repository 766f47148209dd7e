package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
)

const (
	defaultQueueBaseURL = "https://queue.fal.run"
	defaultMaxImages    = 1
	submitTimeout       = 60 * time.Second

	// ClipDownloadTimeout bounds a single raw clip download.
	ClipDownloadTimeout = 10 * time.Minute
)

// Error codes for provider failures.
const (
	CodeProviderRejected    = "provider_rejected"
	CodeTooManyImages       = "too_many_images"
	CodeProviderUnavailable = "provider_unavailable"
	CodeProviderUnreachable = "provider_unreachable"
)

// SubmitRequest is one clip generation request.
type SubmitRequest struct {
	Prompt          string
	ImageURLs       []string
	DurationSeconds int
	AspectRatio     string
	// WebhookURL already carries the job_id query parameter.
	WebhookURL string
}

// QueueProvider submits jobs to a hosted queue API that reports completion
// through a signed webhook.
type QueueProvider struct {
	baseURL    string
	apiKey     string
	model      string
	maxImages  int
	httpClient *http.Client
	dlClient   *http.Client
	log        zerolog.Logger
}

type QueueProviderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxImages int
}

func NewQueueProvider(cfg QueueProviderConfig, logger zerolog.Logger) *QueueProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultQueueBaseURL
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultMaxImages
	}
	return &QueueProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxImages:  cfg.MaxImages,
		httpClient: &http.Client{Timeout: submitTimeout},
		dlClient:   &http.Client{Timeout: ClipDownloadTimeout},
		log:        logger.With().Str("component", "provider").Str("provider", "queue").Logger(),
	}
}

// queueSubmitRequest is the body for POST {base}/{model}
type queueSubmitRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"image_urls"`
	Duration    string   `json:"duration"`
	AspectRatio string   `json:"aspect_ratio"`
}

type queueSubmitResponse struct {
	RequestID string `json:"request_id"`
}

// Submit enqueues a generation and returns the provider request id. The
// provider calls WebhookURL when the clip is ready.
func (p *QueueProvider) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if len(req.ImageURLs) == 0 {
		return "", apperr.Upstream(CodeProviderRejected, false, fmt.Errorf("at least one image is required"))
	}
	if len(req.ImageURLs) > p.maxImages {
		return "", apperr.Upstream(CodeTooManyImages, false, fmt.Errorf("%d images exceeds the limit of %d", len(req.ImageURLs), p.maxImages))
	}

	body, err := json.Marshal(queueSubmitRequest{
		Prompt:      req.Prompt,
		ImageURLs:   req.ImageURLs,
		Duration:    fmt.Sprintf("%d", req.DurationSeconds),
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?fal_webhook=%s", p.baseURL, p.model, url.QueryEscape(req.WebhookURL))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Key "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.Upstream(CodeProviderUnreachable, true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Upstream(CodeProviderUnreachable, true, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", apperr.Upstream(CodeProviderUnavailable, true, fmt.Errorf("status %d: %s", resp.StatusCode, truncateLog(string(respBody))))
	case resp.StatusCode >= 400:
		return "", apperr.Upstream(CodeProviderRejected, false, fmt.Errorf("status %d: %s", resp.StatusCode, truncateLog(string(respBody))))
	}

	var out queueSubmitResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", apperr.Upstream(CodeProviderUnavailable, true, fmt.Errorf("failed to parse submit response: %w", err))
	}
	if out.RequestID == "" {
		return "", apperr.Upstream(CodeProviderUnavailable, true, fmt.Errorf("no request_id in response: %s", truncateLog(string(respBody))))
	}

	p.log.Info().Str("request_id", out.RequestID).Int("images", len(req.ImageURLs)).Str("aspect_ratio", req.AspectRatio).Msg("generation submitted")
	return out.RequestID, nil
}

// Download fetches a finished raw clip.
func (p *QueueProvider) Download(ctx context.Context, clipURL string) ([]byte, error) {
	return fetchURL(ctx, p.dlClient, clipURL)
}

// fetchURL GETs a URL and fails with a download error on non-200 or empty bodies.
func fetchURL(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.Download("invalid download url", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.Download("download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Download(fmt.Sprintf("download returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Download("failed to read download body", err)
	}
	if len(data) == 0 {
		return nil, apperr.Download("downloaded body is empty", nil)
	}
	return data, nil
}

func truncateLog(s string) string {
	const maxLen = 300
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
