package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0xfutbol/id/adapters/tokenizer"
	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/signer"
	"github.com/0xfutbol/id/waas"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultMessageTTL is how far ahead the client sets the expiration of the
// auth messages it signs. The server caps it at seven days.
const DefaultMessageTTL = 24 * time.Hour

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateCheckingSession
	StateClaimPending
	StateWaitingForSignature
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateCheckingSession:
		return "checkingSession"
	case StateClaimPending:
		return "claimPending"
	case StateWaitingForSignature:
		return "waitingForSignature"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func (s State) inFlight() bool {
	return s == StateConnecting || s == StateCheckingSession
}

var (
	// ErrSuperseded reports that a newer connect or a logout replaced the
	// operation before its result could be committed.
	ErrSuperseded = errors.New("superseded by a newer connect or logout")

	ErrInvalidState = errors.New("operation not allowed in the current state")
)

// Orchestrator drives a client from wallet connection to an authenticated
// session. All methods are safe for concurrent use; network calls run
// outside the lock.
type Orchestrator struct {
	api        *API
	store      SessionStore
	logger     *slog.Logger
	now        func() time.Time
	product    string
	messageTTL time.Duration
	waasURL    string
	chainID    int64
	waasOpts   []waas.Option
	listener   func(State)

	mu         sync.Mutex
	state      State
	generation uint64
	address    common.Address
	signer     signer.Signer
	token      string
	session    *core.Session
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithProduct sets the product name of the auth message. It must match the server.
func WithProduct(product string) Option {
	return func(o *Orchestrator) { o.product = product }
}

func WithMessageTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.messageTTL = d }
}

// WithWaaS sets the custodial wallet backend used by password identities.
func WithWaaS(baseURL string, chainID int64, opts ...waas.Option) Option {
	return func(o *Orchestrator) {
		o.waasURL = baseURL
		o.chainID = chainID
		o.waasOpts = opts
	}
}

// WithStateListener registers fn to observe every state change. fn runs
// outside the orchestrator lock.
func WithStateListener(fn func(State)) Option {
	return func(o *Orchestrator) { o.listener = fn }
}

func NewOrchestrator(api *API, store SessionStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:        api,
		store:      store,
		logger:     slog.Default(),
		now:        time.Now,
		product:    core.DefaultProduct,
		messageTTL: DefaultMessageTTL,
		state:      StateUnknown,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Token returns the session token, empty unless authenticated.
func (o *Orchestrator) Token() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token
}

func (o *Orchestrator) Session() *core.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Signer returns the signer of the current connection, nil when none.
func (o *Orchestrator) Signer() signer.Signer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.signer
}

func (o *Orchestrator) Address() common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.address
}

// Disconnected records that the wallet layer has no wallet. The cached
// session is kept so reconnecting the same wallet needs no signature.
func (o *Orchestrator) Disconnected() {
	o.mu.Lock()
	o.generation++
	o.reset()
	changed := o.setState(StateDisconnected)
	o.mu.Unlock()
	o.notify(changed, StateDisconnected)
}

// Connect starts authentication for a wallet reported by the wallet layer.
// A trigger arriving while another connect is in flight is dropped and
// reported as accepted=false.
func (o *Orchestrator) Connect(ctx context.Context, s signer.Signer) (accepted bool, err error) {
	o.mu.Lock()
	if o.state.inFlight() {
		o.mu.Unlock()
		o.logger.Debug("connect dropped, another connect is in flight", "address", s.Address())
		return false, nil
	}
	o.generation++
	gen, addr := o.generation, s.Address()
	o.reset()
	o.address, o.signer = addr, s
	changed := o.setState(StateConnecting)
	o.mu.Unlock()
	o.notify(changed, StateConnecting)

	next, token, session, err := o.checkSession(ctx, gen, addr, s)
	if err != nil {
		// leaving the in-flight states releases the single-flight guard
		o.transition(gen, addr, StateDisconnected, nil)
		if errors.Is(err, ErrSuperseded) {
			return true, err
		}
		return true, fmt.Errorf("failed to connect %s: %w", addr.Hex(), err)
	}

	ok := o.transition(gen, addr, next, func() {
		o.token, o.session = token, session
	})
	if !ok {
		return true, ErrSuperseded
	}
	if next == StateAuthenticated {
		o.save(ctx, &StoredSession{JWT: token})
	}
	return true, nil
}

func (o *Orchestrator) checkSession(ctx context.Context, gen uint64, addr common.Address, s signer.Signer) (State, string, *core.Session, error) {
	if !o.transition(gen, addr, StateCheckingSession, nil) {
		return 0, "", nil, ErrSuperseded
	}

	stored, err := o.store.Load(ctx)
	if err != nil {
		o.logger.Warn("failed to load cached session", "error", err)
		stored = &StoredSession{}
	}
	if session, ok := o.cachedFor(stored.JWT, addr); ok {
		return StateAuthenticated, stored.JWT, session, nil
	}

	pre, err := o.api.Pre(ctx, addr.Hex())
	if err != nil {
		return 0, "", nil, err
	}
	if pre.Username == "" {
		return StateClaimPending, "", nil, nil
	}

	token, session, err := o.login(ctx, s, JWTRequest{Username: pre.Username})
	if err != nil {
		return 0, "", nil, err
	}
	return StateAuthenticated, token, session, nil
}

// ClaimOption attaches profile metadata to a claim.
type ClaimOption func(*ClaimRequest)

func WithEmail(email string) ClaimOption {
	return func(r *ClaimRequest) { r.UserEmail = email }
}

func WithUserDetails(details map[string]string) ClaimOption {
	return func(r *ClaimRequest) { r.UserDetails = details }
}

// Claim registers username for the connected wallet and logs in. On failure
// the orchestrator returns to claimPending and the error carries the
// server's message.
func (o *Orchestrator) Claim(ctx context.Context, username string, opts ...ClaimOption) error {
	o.mu.Lock()
	if o.state != StateClaimPending {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("claim in state %s: %w", state, ErrInvalidState)
	}
	gen, addr, s := o.generation, o.address, o.signer
	changed := o.setState(StateWaitingForSignature)
	o.mu.Unlock()
	o.notify(changed, StateWaitingForSignature)

	token, session, err := o.claim(ctx, s, username, opts)
	if err != nil {
		o.transition(gen, addr, StateClaimPending, nil)
		return err
	}

	ok := o.transition(gen, addr, StateAuthenticated, func() {
		o.token, o.session = token, session
	})
	if !ok {
		return ErrSuperseded
	}
	o.save(ctx, &StoredSession{JWT: token})
	return nil
}

func (o *Orchestrator) claim(ctx context.Context, s signer.Signer, username string, opts []ClaimOption) (string, *core.Session, error) {
	owner := s.Address().Hex()
	approval, err := o.api.Sign(ctx, username, owner)
	if err != nil {
		return "", nil, err
	}
	if approval.Claimed {
		return o.login(ctx, s, JWTRequest{Username: username})
	}

	exp := o.now().Add(o.messageTTL).UnixMilli()
	message, err := o.signAuth(ctx, s, username, exp)
	if err != nil {
		return "", nil, err
	}
	req := ClaimRequest{Username: username, Owner: owner, Message: message, Expiration: exp}
	for _, opt := range opts {
		opt(&req)
	}
	if err := o.api.Claim(ctx, req); err != nil {
		return "", nil, err
	}
	return o.exchange(ctx, JWTRequest{Username: username, Message: message, Expiration: exp})
}

// login signs a fresh auth message and exchanges it for a token.
func (o *Orchestrator) login(ctx context.Context, s signer.Signer, req JWTRequest) (string, *core.Session, error) {
	req.Expiration = o.now().Add(o.messageTTL).UnixMilli()
	message, err := o.signAuth(ctx, s, req.Username, req.Expiration)
	if err != nil {
		return "", nil, err
	}
	req.Message = message
	return o.exchange(ctx, req)
}

func (o *Orchestrator) exchange(ctx context.Context, req JWTRequest) (string, *core.Session, error) {
	token, err := o.api.JWT(ctx, req)
	if err != nil {
		return "", nil, err
	}
	session, err := tokenizer.ParseUnverified(token)
	if err != nil {
		return "", nil, fmt.Errorf("server returned an unreadable token: %w", err)
	}
	return token, session, nil
}

func (o *Orchestrator) signAuth(ctx context.Context, s signer.Signer, username string, expiration int64) (string, error) {
	sig, err := s.SignMessage(ctx, []byte(core.AuthMessage(o.product, username, expiration)))
	if err != nil {
		return "", fmt.Errorf("failed to sign auth message: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// RegisterWithPassword creates a password identity and authenticates with it.
func (o *Orchestrator) RegisterWithPassword(ctx context.Context, username, password string) error {
	return o.passwordAuth(ctx, func(ctx context.Context) (*PasswordResponse, error) {
		return o.api.RegisterPassword(ctx, username, password)
	})
}

// LoginWithPassword authenticates a password identity and attaches its
// custodial wallet as the signer.
func (o *Orchestrator) LoginWithPassword(ctx context.Context, username, password string) error {
	return o.passwordAuth(ctx, func(ctx context.Context) (*PasswordResponse, error) {
		return o.api.LoginPassword(ctx, username, password)
	})
}

func (o *Orchestrator) passwordAuth(ctx context.Context, call func(context.Context) (*PasswordResponse, error)) error {
	o.mu.Lock()
	if o.state.inFlight() {
		o.mu.Unlock()
		return fmt.Errorf("connect in flight: %w", ErrInvalidState)
	}
	o.generation++
	gen := o.generation
	o.reset()
	changed := o.setState(StateConnecting)
	o.mu.Unlock()
	o.notify(changed, StateConnecting)

	resp, err := call(ctx)
	if err != nil {
		o.transition(gen, common.Address{}, StateDisconnected, nil)
		return err
	}
	session, err := tokenizer.ParseUnverified(resp.Token)
	if err != nil {
		o.transition(gen, common.Address{}, StateDisconnected, nil)
		return fmt.Errorf("server returned an unreadable token: %w", err)
	}

	stored := &StoredSession{JWT: resp.Token}
	if walletID, walletAddress := resp.wallet(); walletID != "" && resp.WaaSSessionToken != "" {
		stored.WaaS = &WaaSSession{
			WalletID:      walletID,
			WalletAddress: walletAddress,
			BaseURL:       o.waasURL,
			SessionToken:  resp.WaaSSessionToken,
			ExpiresAt:     resp.WaaSSessionExpiresAt,
			ChainID:       o.chainID,
		}
	}

	ok := o.transition(gen, common.Address{}, StateAuthenticated, func() {
		o.address = common.HexToAddress(resp.Address)
		o.signer = o.custodialSigner(stored.WaaS)
		o.token, o.session = resp.Token, session
	})
	if !ok {
		return ErrSuperseded
	}
	o.save(ctx, stored)
	return nil
}

// Restore reattaches a persisted password session and its custodial wallet.
// It reports false when nothing usable is stored.
func (o *Orchestrator) Restore(ctx context.Context) (bool, error) {
	stored, err := o.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if stored.JWT == "" || stored.WaaS == nil {
		return false, nil
	}
	now := o.now()
	session, err := tokenizer.ParseUnverified(stored.JWT)
	if err != nil || session.Expired(now) || stored.WaaS.Expired(now) {
		return false, nil
	}

	o.mu.Lock()
	if o.state.inFlight() {
		o.mu.Unlock()
		return false, nil
	}
	o.generation++
	o.address = common.HexToAddress(session.Owner)
	o.signer = o.custodialSigner(stored.WaaS)
	o.token, o.session = stored.JWT, session
	changed := o.setState(StateAuthenticated)
	o.mu.Unlock()
	o.notify(changed, StateAuthenticated)
	return true, nil
}

// Logout forgets the session and the WaaS session. The orchestrator ends up
// disconnected even when clearing the store fails.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.mu.Lock()
	o.generation++
	o.reset()
	changed := o.setState(StateDisconnected)
	o.mu.Unlock()
	o.notify(changed, StateDisconnected)

	if err := o.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (o *Orchestrator) custodialSigner(ws *WaaSSession) signer.Signer {
	if ws == nil {
		return nil
	}
	baseURL := ws.BaseURL
	if baseURL == "" {
		baseURL = o.waasURL
	}
	if baseURL == "" {
		return nil
	}
	c := waas.NewClient(baseURL, ws.SessionToken, o.waasOpts...)
	return signer.NewRemoteCustodialSigner(c, ws.WalletID, common.HexToAddress(ws.WalletAddress), ws.ChainID)
}

// cachedFor returns the cached session when it belongs to addr and has not expired.
func (o *Orchestrator) cachedFor(token string, addr common.Address) (*core.Session, bool) {
	if token == "" {
		return nil, false
	}
	session, err := tokenizer.ParseUnverified(token)
	if err != nil {
		return nil, false
	}
	if !core.SameAddress(session.Owner, addr.Hex()) || session.Expired(o.now()) {
		return nil, false
	}
	return session, true
}

func (o *Orchestrator) save(ctx context.Context, s *StoredSession) {
	if err := o.store.Save(ctx, s); err != nil {
		o.logger.Warn("failed to persist session", "error", err)
	}
}

// transition moves to state when gen and addr still describe the current
// connection, applying mutate under the lock.
func (o *Orchestrator) transition(gen uint64, addr common.Address, state State, mutate func()) bool {
	o.mu.Lock()
	if gen != o.generation || addr != o.address {
		o.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate()
	}
	changed := o.setState(state)
	o.mu.Unlock()
	o.notify(changed, state)
	return true
}

// reset clears connection state. Callers hold mu.
func (o *Orchestrator) reset() {
	o.address = common.Address{}
	o.signer = nil
	o.token = ""
	o.session = nil
}

func (o *Orchestrator) setState(s State) bool {
	if o.state == s {
		return false
	}
	o.logger.Debug("auth state", "from", o.state, "to", s)
	o.state = s
	return true
}

func (o *Orchestrator) notify(changed bool, s State) {
	if changed && o.listener != nil {
		o.listener(s)
	}
}
