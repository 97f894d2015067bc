// Package asc is a client for the App Store Connect REST API: signed
// requests, 409 retry with backoff, cursor pagination and the localization
// resources storetran reads and writes.
package asc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/valpere/storetran/internal/apierr"
)

const (
	DefaultBaseURL = "https://api.appstoreconnect.apple.com"
	serviceName    = "App Store Connect"
	audience       = "appstoreconnect-v1"
	tokenTTL       = 20 * time.Minute
)

// Credentials identify an App Store Connect API key.
type Credentials struct {
	KeyID    string
	IssuerID string
	// PrivateKey is the PEM content of the AuthKey_<KeyID>.p8 file.
	PrivateKey []byte
}

// RetryPolicy governs retries of 409 responses. Other statuses are never retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Jitter is clamped to BaseDelay so successive delays never decrease.
	Jitter time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Jitter: time.Second}
}

type Client struct {
	baseURL  string
	http     *http.Client
	keyID    string
	issuerID string
	key      *ecdsa.PrivateKey
	retry    RetryPolicy
	log      zerolog.Logger

	now      func() time.Time
	rand     func() float64
	newTimer func() backoff.Timer
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient parses the signing key and returns a ready client.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	if creds.KeyID == "" || creds.IssuerID == "" {
		return nil, &apierr.AuthError{Service: serviceName, Err: errors.New("key id and issuer id are required")}
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(creds.PrivateKey)
	if err != nil {
		return nil, &apierr.AuthError{Service: serviceName, Err: fmt.Errorf("parse private key: %w", err)}
	}

	c := &Client{
		baseURL:  DefaultBaseURL,
		http:     &http.Client{Timeout: 60 * time.Second},
		keyID:    creds.KeyID,
		issuerID: creds.IssuerID,
		key:      key,
		retry:    DefaultRetryPolicy(),
		log:      zerolog.Nop(),
		now:      time.Now,
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// token mints a new ES256 assertion. Every HTTP attempt gets its own.
func (c *Client) token() (string, error) {
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"exp": c.now().Add(tokenTTL).Unix(),
		"aud": audience,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = c.keyID
	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", &apierr.AuthError{Service: serviceName, Err: fmt.Errorf("sign token: %w", err)}
	}
	return signed, nil
}

// conflictBackOff yields base*2^n plus up to one base of jitter.
type conflictBackOff struct {
	base    time.Duration
	jitter  time.Duration
	attempt int
	rand    func() float64
}

func (b *conflictBackOff) NextBackOff() time.Duration {
	jitter := b.jitter
	if jitter > b.base {
		jitter = b.base
	}
	d := b.base << b.attempt
	if jitter > 0 {
		d += time.Duration(b.rand() * float64(jitter))
	}
	b.attempt++
	return d
}

func (b *conflictBackOff) Reset() { b.attempt = 0 }

// do sends one logical request, retrying 409 responses per the retry policy.
// A 409 that survives every retry is returned as a plain *apierr.HTTPError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bo backoff.BackOff = &conflictBackOff{base: c.retry.BaseDelay, jitter: c.retry.Jitter, rand: c.rand}
	bo = backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.retry.MaxRetries, 0))), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := c.send(ctx, method, endpoint, payload, out)
		var conflict *apierr.ConflictError
		if err == nil || errors.As(err, &conflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, delay time.Duration) {
		c.log.Warn().Err(err).
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("metadata conflict, retrying")
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, bo, notify, timer)

	var conflict *apierr.ConflictError
	if errors.As(err, &conflict) {
		return conflict.HTTPError
	}
	return err
}

type errorsEnvelope struct {
	Errors []struct {
		Status string `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &apierr.TransportError{Service: serviceName, Op: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &apierr.TransportError{Service: serviceName, Op: method + " request", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apierr.TransportError{Service: serviceName, Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &apierr.HTTPError{
			Service:   serviceName,
			Status:    resp.StatusCode,
			RequestID: resp.Header.Get("x-request-id"),
		}
		var env errorsEnvelope
		if json.Unmarshal(data, &env) == nil && len(env.Errors) > 0 {
			first := env.Errors[0]
			httpErr.Code = first.Code
			httpErr.Message = first.Detail
			if httpErr.Message == "" {
				httpErr.Message = first.Title
			}
		} else {
			httpErr.Message = strings.TrimSpace(string(data))
		}
		return apierr.ClassifyStatus(httpErr)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apierr.FormatError{Service: serviceName, Detail: "decode " + method + " response", Err: err}
	}
	return nil
}
