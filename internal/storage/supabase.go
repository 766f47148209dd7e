package storage

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

	"github.com/rs/zerolog"
)

// Supabase talks to Supabase Storage over its REST API.
type Supabase struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewSupabase(baseURL, serviceKey, bucket string, logger zerolog.Logger) *Supabase {
	return &Supabase{
		url:        strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:   logger.With().Str("component", "storage").Str("backend", "supabase").Logger(),
		sleep: sleepCtx,
	}
}

func (s *Supabase) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)
}

// Upload PUTs the object with retries and exponential backoff. Metadata
// travels as base64 JSON in x-metadata.
func (s *Supabase) Upload(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error) {
	var metaHeader string
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("failed to encode metadata: %w", err)
		}
		metaHeader = base64.StdEncoding.EncodeToString(raw)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			s.log.Warn().Str("key", key).Int("attempt", attempt).Dur("delay", delay).Msg("retrying upload")
			if err := s.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("upload cancelled: %w", err)
			}
		}

		// Each attempt gets its own timeout
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, s.objectURL(key), bytes.NewReader(data))
		if err != nil {
			cancel()
			return "", fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		if metaHeader != "" {
			req.Header.Set("x-metadata", metaHeader)
		}
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to upload: %w", err)
			if isRetryableError(err) {
				continue
			}
			return "", lastErr
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return s.PublicURL(key), nil
		}

		lastErr = fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if !isRetryableStatus(resp.StatusCode) {
			return "", lastErr
		}
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Download fetches an object with retries.
func (s *Supabase) Download(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			s.log.Warn().Str("key", key).Int("attempt", attempt).Dur("delay", delay).Msg("retrying download")
			if err := s.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("download cancelled: %w", err)
			}
		}

		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, s.objectURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to download: %w", err)
			if isRetryableError(err) {
				continue
			}
			return nil, lastErr
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read download body: %w", readErr)
				continue
			}
			return data, nil
		}

		lastErr = fmt.Errorf("download failed with status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if !isRetryableStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Supabase) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, key)
}

// KeyFromURL accepts public, authenticated and signed object URLs.
func (s *Supabase) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(s.url)
	if err != nil || !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}

	p := strings.TrimPrefix(u.Path, strings.TrimRight(base.Path, "/"))
	for _, prefix := range []string{
		"/storage/v1/object/public/",
		"/storage/v1/object/sign/",
		"/storage/v1/object/authenticated/",
		"/storage/v1/object/",
	} {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			key, ok := strings.CutPrefix(rest, s.Bucket+"/")
			if !ok || key == "" {
				return "", false
			}
			return key, true
		}
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
