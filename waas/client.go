package waas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/0xfutbol/id/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds every WaaS request.
const DefaultTimeout = 15 * time.Second

const maxErrorBody = 4096

// Client talks to the custodial wallet backend. Wallet and session creation
// authenticate with the service token, wallet operations with a session token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, including its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL using token as bearer.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of the client authenticating with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type createWalletRequest struct {
	Owner string `json:"owner"`
}

// CreateWallet provisions a custodial wallet for owner.
func (c *Client) CreateWallet(ctx context.Context, owner string) (*core.Wallet, error) {
	var w core.Wallet
	if err := c.post(ctx, "/wallets", createWalletRequest{Owner: owner}, "", &w); err != nil {
		return nil, err
	}
	if w.ID == "" || !common.IsHexAddress(w.Address) {
		return nil, fmt.Errorf("malformed wallet response: %w", core.ErrRemoteService)
	}
	w.Address = strings.ToLower(w.Address)
	return &w, nil
}

type createSessionRequest struct {
	WalletID string `json:"walletId"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // unix millis
}

// CreateSession mints a short-lived session token for walletID.
func (c *Client) CreateSession(ctx context.Context, walletID string) (*core.WaaSSession, error) {
	var resp sessionResponse
	if err := c.post(ctx, "/sessions", createSessionRequest{WalletID: walletID}, "", &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("malformed session response: %w", core.ErrRemoteService)
	}
	return &core.WaaSSession{Token: resp.Token, ExpiresAt: time.UnixMilli(resp.ExpiresAt)}, nil
}

type signMessageRequest struct {
	Message  string `json:"message"`
	Encoding string `json:"encoding"`
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

// SignMessage asks the backend for a personal-sign signature over message.
func (c *Client) SignMessage(ctx context.Context, walletID string, message []byte) ([]byte, error) {
	req := signMessageRequest{Message: string(message), Encoding: "utf8"}
	if !utf8.Valid(message) {
		req = signMessageRequest{Message: hexutil.Encode(message), Encoding: "hex"}
	}
	var resp signatureResponse
	if err := c.post(ctx, walletPath(walletID, "sign-message"), req, "", &resp); err != nil {
		return nil, err
	}
	return decodeSignature(resp.Signature)
}

type signTypedDataRequest struct {
	TypedData apitypes.TypedData `json:"typedData"`
}

// SignTypedData asks the backend for an EIP-712 signature.
func (c *Client) SignTypedData(ctx context.Context, walletID string, typedData apitypes.TypedData) ([]byte, error) {
	var resp signatureResponse
	if err := c.post(ctx, walletPath(walletID, "sign-typed-data"), signTypedDataRequest{TypedData: typedData}, "", &resp); err != nil {
		return nil, err
	}
	return decodeSignature(resp.Signature)
}

// Transfer moves native currency. Amount is in ether units.
type Transfer struct {
	To      common.Address
	Amount  decimal.Decimal
	ChainID int64
}

type transferRequest struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	ChainID int64  `json:"chainId,omitempty"`
}

// ContractCall executes calldata against a contract.
type ContractCall struct {
	To      common.Address
	Data    []byte
	Value   decimal.Decimal // ether units, zero for non-payable calls
	ChainID int64
}

type contractCallRequest struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value,omitempty"`
	ChainID int64  `json:"chainId,omitempty"`
}

// TxResult identifies a transaction submitted by the backend.
type TxResult struct {
	Hash common.Hash
}

type txResponse struct {
	Hash string `json:"hash"`
}

func (c *Client) TransferNative(ctx context.Context, walletID string, t Transfer) (*TxResult, error) {
	if t.Amount.IsNegative() {
		return nil, fmt.Errorf("negative amount: %w", core.ErrInvalidInput)
	}
	req := transferRequest{To: t.To.Hex(), Amount: t.Amount.String(), ChainID: t.ChainID}
	var resp txResponse
	if err := c.post(ctx, walletPath(walletID, "transfer/native"), req, uuid.NewString(), &resp); err != nil {
		return nil, err
	}
	return decodeTx(resp)
}

func (c *Client) CallContract(ctx context.Context, walletID string, call ContractCall) (*TxResult, error) {
	req := contractCallRequest{To: call.To.Hex(), Data: hexutil.Encode(call.Data), ChainID: call.ChainID}
	if !call.Value.IsZero() {
		req.Value = call.Value.String()
	}
	var resp txResponse
	if err := c.post(ctx, walletPath(walletID, "contract-call"), req, uuid.NewString(), &resp); err != nil {
		return nil, err
	}
	return decodeTx(resp)
}

// WeiToEther converts a wei amount to the decimal ether string the backend expects.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

func (c *Client) post(ctx context.Context, path string, body any, idempotencyKey string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, req.Method, path, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("waas request failed", "path", path, "status", resp.StatusCode)
		return &RemoteError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, core.ErrRemoteService)
	}
	return nil
}

func walletPath(walletID, op string) string {
	return "/wallets/" + url.PathEscape(walletID) + "/" + op
}

func decodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("malformed signature in response: %w", core.ErrRemoteService)
	}
	return sig, nil
}

func decodeTx(resp txResponse) (*TxResult, error) {
	b, err := hexutil.Decode(resp.Hash)
	if err != nil || len(b) != common.HashLength {
		return nil, fmt.Errorf("malformed transaction hash in response: %w", core.ErrRemoteService)
	}
	return &TxResult{Hash: common.BytesToHash(b)}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
