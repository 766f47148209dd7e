package api

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bobarin/listingreel/internal/apperr"
)

// Provider webhook signing headers.
const (
	HeaderFalRequestID = "X-Fal-Webhook-Request-Id"
	HeaderFalUserID    = "X-Fal-Webhook-User-Id"
	HeaderFalTimestamp = "X-Fal-Webhook-Timestamp"
	HeaderFalSignature = "X-Fal-Webhook-Signature"

	DefaultJWKSURL = "https://rest.alpha.fal.ai/.well-known/jwks.json"

	// CodeKeysUnavailable marks a verification that could not run because
	// the provider's keys could not be loaded.
	CodeKeysUnavailable = "provider_keys_unavailable"

	timestampTolerance = 5 * time.Minute
	jwksTTL            = 24 * time.Hour
	// minRefresh stops forged signatures from forcing a JWKS fetch per request.
	minRefresh = time.Minute
)

// SignedRequest is the signature material taken from an inbound webhook.
type SignedRequest struct {
	RequestID string
	UserID    string
	Timestamp string
	Signature string
}

// signedRequestFrom returns the headers, or false when any is missing.
func signedRequestFrom(h http.Header) (SignedRequest, bool) {
	s := SignedRequest{
		RequestID: h.Get(HeaderFalRequestID),
		UserID:    h.Get(HeaderFalUserID),
		Timestamp: h.Get(HeaderFalTimestamp),
		Signature: h.Get(HeaderFalSignature),
	}
	return s, s.RequestID != "" && s.UserID != "" && s.Timestamp != "" && s.Signature != ""
}

// Message is the byte string the provider signs.
func (s SignedRequest) Message(body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(s.RequestID + "\n" + s.UserID + "\n" + s.Timestamp + "\n" + hex.EncodeToString(sum[:]))
}

// Verifier checks ED25519 webhook signatures against the provider's JWKS.
type Verifier struct {
	jwksURL string
	client  *http.Client
	log     zerolog.Logger
	now     func() time.Time

	refresh   singleflight.Group
	mu        sync.Mutex
	keys      []ed25519.PublicKey
	fetchedAt time.Time
}

func NewVerifier(jwksURL string, logger zerolog.Logger) *Verifier {
	if jwksURL == "" {
		jwksURL = DefaultJWKSURL
	}
	return &Verifier{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.With().Str("component", "webhook_verifier").Logger(),
		now:     time.Now,
	}
}

// Verify returns an authentication error unless the signature is valid for
// one of the provider's keys and the timestamp is within five minutes. When
// no keys can be loaded it returns a retryable upstream error instead.
func (v *Verifier) Verify(ctx context.Context, s SignedRequest, body []byte) error {
	ts, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil {
		return apperr.Authentication("invalid webhook timestamp")
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew > timestampTolerance || skew < -timestampTolerance {
		return apperr.Authentication("webhook timestamp outside tolerance")
	}

	sig, err := hex.DecodeString(s.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return apperr.Authentication("malformed webhook signature")
	}
	msg := s.Message(body)

	keys, err := v.publicKeys(ctx, false)
	if err != nil {
		return err
	}
	if matchAny(keys, msg, sig) {
		return nil
	}

	// The provider may have rotated keys since the last fetch.
	refreshed, err := v.publicKeys(ctx, true)
	if err != nil {
		return err
	}
	if matchAny(refreshed, msg, sig) {
		return nil
	}
	return apperr.Authentication("webhook signature does not match")
}

func matchAny(keys []ed25519.PublicKey, msg, sig []byte) bool {
	for _, k := range keys {
		if ed25519.Verify(k, msg, sig) {
			return true
		}
	}
	return false
}

// publicKeys returns the cached keys, fetching when the cache is stale or a
// refresh is forced and the last fetch is old enough. The fetch runs outside
// the lock and concurrent refreshes share one request.
func (v *Verifier) publicKeys(ctx context.Context, force bool) ([]ed25519.PublicKey, error) {
	v.mu.Lock()
	cached, fetchedAt := v.keys, v.fetchedAt
	v.mu.Unlock()

	age := v.now().Sub(fetchedAt)
	if len(cached) > 0 && age < jwksTTL && (!force || age < minRefresh) {
		return cached, nil
	}

	res, err, _ := v.refresh.Do("jwks", func() (interface{}, error) {
		keys, err := v.fetch(ctx)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.keys, v.fetchedAt = keys, v.now()
		v.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		if len(cached) > 0 {
			v.log.Warn().Err(err).Msg("jwks refresh failed, using cached keys")
			return cached, nil
		}
		return nil, apperr.Upstream(CodeKeysUnavailable, true, fmt.Errorf("cannot load provider keys: %w", err))
	}
	keys := res.([]ed25519.PublicKey)
	v.log.Debug().Int("keys", len(keys)).Msg("jwks refreshed")
	return keys, nil
}

type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		X   string `json:"x"`
	} `json:"keys"`
}

func (v *Verifier) fetch(ctx context.Context) ([]ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}

	var keys []ed25519.PublicKey
	for _, k := range set.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			continue
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks has no usable Ed25519 keys")
	}
	return keys, nil
}
