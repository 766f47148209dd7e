// Package storage uploads and fetches pipeline artifacts from object storage.
package storage

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Upload timeout per attempt, generous for multi-minute clips
	uploadTimeout = 180 * time.Second

	downloadTimeout = 120 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Metadata keys attached to every upload.
const (
	MetaOwnerID     = "owner-id"
	MetaListingID   = "listing-id"
	MetaBatchID     = "batch-id"
	MetaJobID       = "job-id"
	MetaDisplayName = "display-name"
)

// Backend is an object store addressed by bucket-relative keys.
type Backend interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	PublicURL(key string) string
	// KeyFromURL resolves a URL produced by this backend back to its key.
	KeyFromURL(rawURL string) (string, bool)
}

// Scope identifies who an artifact belongs to.
type Scope struct {
	OwnerID   string
	ListingID string
	BatchID   uuid.UUID
}

func (s Scope) prefix() string {
	return path.Join(sanitize(s.OwnerID), sanitize(s.ListingID), s.BatchID.String())
}

// JobKey is {owner}/{listing}/{batch}/jobs/{job}/{name}.
func (s Scope) JobKey(jobID uuid.UUID, name string) string {
	return path.Join(s.prefix(), "jobs", jobID.String(), name)
}

// FinalKey is {owner}/{listing}/{batch}/final/{name}.
func (s Scope) FinalKey(name string) string {
	return path.Join(s.prefix(), "final", name)
}

// Metadata returns the upload metadata for this scope.
func (s Scope) Metadata() map[string]string {
	return map[string]string{
		MetaOwnerID:   s.OwnerID,
		MetaListingID: s.ListingID,
		MetaBatchID:   s.BatchID.String(),
	}
}

// Fetch downloads a URL that one of our backends produced.
func Fetch(ctx context.Context, b Backend, rawURL string) ([]byte, error) {
	key, ok := b.KeyFromURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("url %q does not belong to this storage backend", rawURL)
	}
	return b.Download(ctx, key)
}

func sanitize(segment string) string {
	segment = strings.TrimSpace(segment)
	segment = strings.ReplaceAll(segment, "/", "_")
	segment = strings.ReplaceAll(segment, "..", "_")
	if segment == "" {
		return "_"
	}
	return segment
}

// retryDelay is exponential backoff with jitter: base * 2^(attempt-1) + up to 25%.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
