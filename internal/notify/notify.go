// Package notify delivers signed webhooks to the calling application.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderAttempt   = "X-Webhook-Attempt"

	attemptTimeout = 30 * time.Second
	maxBackoff     = 30 * time.Second
)

// Delivery is one webhook to send.
type Delivery struct {
	URL        string
	Secret     string
	Payload    interface{}
	MaxRetries int
	Backoff    time.Duration
}

// Result reports how a delivery went, successful or not.
type Result struct {
	Attempts    int
	DeliveredAt *time.Time
	LastError   error
}

type Sender struct {
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{
		client: &http.Client{},
		log:    logger.With().Str("component", "notify").Logger(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Send posts the payload until it is accepted, a non-retryable status comes
// back, or MaxRetries attempts are used up. The result is always filled in.
func (s *Sender) Send(ctx context.Context, d Delivery) (Result, error) {
	body, err := json.Marshal(d.Payload)
	if err != nil {
		return Result{}, apperr.Delivery(false, fmt.Errorf("failed to marshal payload: %w", err))
	}
	maxAttempts := d.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	signature := Sign(d.Secret, body)

	var res Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, Backoff(d.Backoff, attempt-1)); err != nil {
				res.LastError = err
				return res, apperr.Delivery(false, fmt.Errorf("delivery cancelled: %w", err))
			}
		}
		res.Attempts = attempt

		retryable, err := s.attempt(ctx, d.URL, body, signature, attempt)
		if err == nil {
			at := s.now()
			res.DeliveredAt = &at
			res.LastError = nil
			return res, nil
		}
		res.LastError = err

		s.log.Warn().Err(err).Str("url", d.URL).Int("attempt", attempt).Bool("retryable", retryable).Msg("webhook attempt failed")
		if !retryable {
			return res, apperr.Delivery(false, err)
		}
	}

	return res, apperr.Delivery(true, fmt.Errorf("gave up after %d attempts: %w", res.Attempts, res.LastError))
}

func (s *Sender) attempt(ctx context.Context, url string, body []byte, signature string, attempt int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(s.now().Unix(), 10))
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))

	resp, err := s.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	default:
		return false, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
}

// Backoff is base * 2^(attempt-1), capped at 30 seconds.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
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
