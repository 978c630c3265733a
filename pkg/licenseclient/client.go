// Package licenseclient talks to the hwidserver client API. In signed and
// sealed modes it verifies every response against the server's public key
// so a spoofed server cannot grant a license.
package licenseclient

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"winsbygroup.com/hwidserver/internal/signing"
)

const (
	defaultTimeout = 15 * time.Second
	defaultMaxSkew = 5 * time.Minute
	maxBody        = 1 << 20
)

var (
	ErrUnsigned      = errors.New("response is not signed")
	ErrNonceMismatch = errors.New("response nonce does not match request")
	ErrStale         = errors.New("response timestamp outside allowed skew")
	ErrSealed        = errors.New("response is sealed but no key is configured")
)

// Error is a non-200 reply from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("license server: %d %s", e.Status, e.Message)
}

type User struct {
	ID            int64  `json:"id"`
	HWID          string `json:"hwid"`
	Subscription  string `json:"subscription"`
	Banned        bool   `json:"banned"`
	Expired       bool   `json:"expired"`
	DaysRemaining int    `json:"days_remaining"`
}

// Result is a decoded activate or check response.
type Result struct {
	Success       bool
	Message       string
	Valid         bool
	User          *User
	DaysRemaining int
	Expiry        time.Time
	// Verified is true when the signature was checked.
	Verified bool
}

type wireResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Valid         *bool  `json:"valid"`
	User          *User  `json:"user"`
	DaysRemaining *int   `json:"days_remaining"`
	Expiry        string `json:"expiry"`
	Nonce         string `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
	Signature     string `json:"signature"`
}

type Client struct {
	baseURL string
	http    *http.Client
	pub     *rsa.PublicKey
	boxKey  *[32]byte
	nonce   func() string
	now     func() time.Time
	maxSkew time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPublicKey turns on signature verification.
func WithPublicKey(pub *rsa.PublicKey) Option {
	return func(c *Client) { c.pub = pub }
}

// WithBoxKey sets the shared secretbox key for sealed responses.
func WithBoxKey(key [32]byte) Option {
	return func(c *Client) { c.boxKey = &key }
}

func WithNonce(fn func() string) Option {
	return func(c *Client) { c.nonce = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithMaxSkew bounds the difference between the response timestamp and the
// local clock. Zero disables the check.
func WithMaxSkew(d time.Duration) Option {
	return func(c *Client) { c.maxSkew = d }
}

// New returns a client for the server at baseURL, e.g.
// "https://licenses.example.com/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		nonce:   uuid.NewString,
		now:     time.Now,
		maxSkew: defaultMaxSkew,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Activate redeems key for hwid.
func (c *Client) Activate(ctx context.Context, hwid, key string) (*Result, error) {
	return c.call(ctx, "/activate", hwid, url.Values{"hwid": {hwid}, "key": {key}})
}

// Check reports the license state of hwid.
func (c *Client) Check(ctx context.Context, hwid string) (*Result, error) {
	return c.call(ctx, "/check", hwid, url.Values{"hwid": {hwid}})
}

// FetchPublicKey downloads the server's signing key. Pin the result rather
// than fetching it on every start.
func (c *Client) FetchPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/public-key", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeError(status, body)
	}
	return signing.ParsePublicKey(body)
}

// LoadPublicKey reads a pinned server key from a PEM file, PKIX or PKCS#1.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	return signing.LoadPublicKey(path)
}

// ParsePublicKey decodes a pinned server key embedded in the application.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	return signing.ParsePublicKey(pemBytes)
}

func (c *Client) call(ctx context.Context, path, hwid string, form url.Values) (*Result, error) {
	var sent string
	if c.pub != nil {
		sent = c.nonce()
		form.Set("nonce", sent)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeError(status, body)
	}

	body, err = c.unseal(body)
	if err != nil {
		return nil, err
	}

	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	res := &Result{
		Success: w.Success,
		Message: w.Message,
		Valid:   w.Success,
		User:    w.User,
	}
	if w.Valid != nil {
		res.Valid = *w.Valid
	}
	switch {
	case w.DaysRemaining != nil:
		res.DaysRemaining = *w.DaysRemaining
	case w.User != nil:
		res.DaysRemaining = w.User.DaysRemaining
	}
	if w.Expiry != "" {
		res.Expiry, err = time.Parse(time.RFC3339, w.Expiry)
		if err != nil {
			return nil, fmt.Errorf("decode expiry: %w", err)
		}
	}

	if c.pub == nil {
		return res, nil
	}
	if err := c.verify(&w, res, hwid, sent); err != nil {
		return nil, err
	}
	res.Verified = true
	return res, nil
}

func (c *Client) verify(w *wireResponse, res *Result, hwid, sent string) error {
	if w.Signature == "" {
		return ErrUnsigned
	}
	if w.Nonce != sent {
		return ErrNonceMismatch
	}
	if c.maxSkew > 0 {
		skew := c.now().Sub(time.Unix(w.Timestamp, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > c.maxSkew {
			return ErrStale
		}
	}
	return signing.Verify(c.pub, signing.Fields{
		HWID:      hwid,
		Expiry:    res.Expiry,
		Valid:     res.Valid,
		Nonce:     w.Nonce,
		Timestamp: w.Timestamp,
	}, w.Signature)
}

// unseal returns body unchanged unless it is a sealed envelope.
func (c *Client) unseal(body []byte) ([]byte, error) {
	var env signing.Sealed
	if err := json.Unmarshal(body, &env); err != nil || !env.Encrypted {
		return body, nil
	}
	if c.pub == nil && c.boxKey == nil {
		return nil, ErrSealed
	}
	return signing.Open(&env, c.pub, c.boxKey)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeError(status int, body []byte) error {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return &Error{Status: status, Message: e.Message}
}
