package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/0xfutbol/id/core"
)

// DefaultTimeout bounds every API request.
const DefaultTimeout = 15 * time.Second

// ErrUnavailable reports a timeout or transport failure talking to the server.
var ErrUnavailable = errors.New("id server unavailable")

// APIError is a non-2xx answer. Message is the server's error text verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// API is a thin client for the identity server.
type API struct {
	baseURL string
	http    *http.Client
}

type APIOption func(*API)

func WithAPIHTTPClient(hc *http.Client) APIOption {
	return func(a *API) { a.http = hc }
}

func NewAPI(baseURL string, opts ...APIOption) *API {
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PreResponse answers an address lookup. Username is empty when unclaimed.
type PreResponse struct {
	Username string `json:"username"`
	Claimed  bool   `json:"claimed"`
}

func (a *API) Pre(ctx context.Context, address string) (*PreResponse, error) {
	var out PreResponse
	if err := a.call(ctx, http.MethodPost, "/auth/pre", map[string]string{"address": address}, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UsernameExists reports whether username is already claimed.
func (a *API) UsernameExists(ctx context.Context, username string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := a.call(ctx, http.MethodPost, "/auth/pre", map[string]string{"username": username}, "", &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

type SignResponse struct {
	Signature           string `json:"signature"`
	SignatureExpiration int64  `json:"signatureExpiration"` // unix seconds
	Claimed             bool   `json:"claimed"`
}

func (a *API) Sign(ctx context.Context, username, owner string) (*SignResponse, error) {
	var out SignResponse
	req := map[string]string{"username": username, "owner": owner}
	if err := a.call(ctx, http.MethodPost, "/auth/sign", req, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ClaimRequest struct {
	Username    string            `json:"username"`
	Owner       string            `json:"owner"`
	Message     string            `json:"message"`
	Expiration  int64             `json:"expiration"`
	UserDetails map[string]string `json:"userDetails,omitempty"`
	UserEmail   string            `json:"userEmail,omitempty"`

	// OwnerSignature proves key ownership when Message is a claim approval.
	OwnerSignature string `json:"ownerSignature,omitempty"`
}

func (a *API) Claim(ctx context.Context, req ClaimRequest) error {
	return a.call(ctx, http.MethodPost, "/auth/claim", req, "", nil)
}

type JWTRequest struct {
	Username    string `json:"username"`
	Message     string `json:"message"`
	Expiration  int64  `json:"expiration"`
	LoginMethod string `json:"loginMethod,omitempty"`
	Owner       string `json:"owner,omitempty"`

	// OwnerSignature proves key ownership when Message is a claim approval.
	OwnerSignature string `json:"ownerSignature,omitempty"`
}

func (a *API) JWT(ctx context.Context, req JWTRequest) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := a.call(ctx, http.MethodPost, "/auth/jwt", req, "", &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("server returned no token")
	}
	return out.Token, nil
}

// PasswordResponse is the answer of the password register and login routes.
type PasswordResponse struct {
	Token                string       `json:"token"`
	Address              string       `json:"address"`
	Wallet               *core.Wallet `json:"wallet"`
	WalletID             string       `json:"walletId"`
	WalletAddress        string       `json:"walletAddress"`
	WaaSSessionToken     string       `json:"waasSessionToken"`
	WaaSSessionExpiresAt int64        `json:"waasSessionExpiresAt"` // unix millis
}

// wallet returns the custodial wallet whichever shape the route used.
func (r *PasswordResponse) wallet() (id, address string) {
	if r.Wallet != nil {
		return r.Wallet.ID, r.Wallet.Address
	}
	return r.WalletID, r.WalletAddress
}

func (a *API) RegisterPassword(ctx context.Context, username, password string) (*PasswordResponse, error) {
	return a.password(ctx, "/auth/register/password", username, password)
}

func (a *API) LoginPassword(ctx context.Context, username, password string) (*PasswordResponse, error) {
	return a.password(ctx, "/auth/login/password", username, password)
}

func (a *API) password(ctx context.Context, path, username, password string) (*PasswordResponse, error) {
	var out PasswordResponse
	req := map[string]string{"username": username, "password": password}
	if err := a.call(ctx, http.MethodPost, path, req, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me is the authenticated identity.
type Me struct {
	Username    string            `json:"username"`
	Address     string            `json:"address"`
	LoginMethod string            `json:"loginMethod"`
	Email       string            `json:"email"`
	UserDetails map[string]string `json:"userDetails"`
	Expiration  int64             `json:"expiration"`
}

func (a *API) Me(ctx context.Context, token string) (*Me, error) {
	var out Me
	if err := a.call(ctx, http.MethodGet, "/api/me", nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) call(ctx context.Context, method, path string, body any, token string, out any) error {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: %s %s timed out", ErrUnavailable, method, path)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
