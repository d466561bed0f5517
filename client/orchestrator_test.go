package client

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xfutbol/id/adapters/events"
	"github.com/0xfutbol/id/adapters/moderation"
	"github.com/0xfutbol/id/adapters/password"
	"github.com/0xfutbol/id/adapters/store"
	"github.com/0xfutbol/id/adapters/tokenizer"
	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/internal/eth"
	"github.com/0xfutbol/id/service"
	"github.com/0xfutbol/id/signer"
	httpapi "github.com/0xfutbol/id/transport/http"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type walletStub struct {
	address common.Address
}

func (p walletStub) CreateWallet(context.Context, string) (*core.Wallet, error) {
	return &core.Wallet{ID: "wallet-1", Address: strings.ToLower(p.address.Hex())}, nil
}

func (p walletStub) CreateSession(_ context.Context, walletID string) (*core.WaaSSession, error) {
	return &core.WaaSSession{Token: "waas-" + walletID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// gate holds /auth/pre requests until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

type fixture struct {
	server    *httptest.Server
	api       *API
	hits      atomic.Int64
	gate      *gate
	walletKey *ecdsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authority, err := eth.GenerateKeySigner()
	require.NoError(t, err)
	walletKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	st := store.NewMemoryStore()
	tk := tokenizer.NewJWTTokenizer(testSecret)
	mod := moderation.NewBlocklist(moderation.DefaultReserved, nil)
	domain := eth.NewDomain(137, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	hasher := password.NewArgon2Hasher(password.Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32})

	router := httpapi.SetupRouter(httpapi.RouterConfig{
		Claims:     service.NewClaimService(st, tk, events.NopPublisher{}, mod, authority, domain),
		Identities: service.NewIdentityService(st, tk, events.NopPublisher{}, mod, hasher, walletStub{address: crypto.PubkeyToAddress(walletKey.PublicKey)}),
		Store:      st,
	})

	f := &fixture{walletKey: walletKey}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if g := f.gate; g != nil && r.URL.Path == "/auth/pre" {
			g.entered <- struct{}{}
			<-g.release
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	f.api = NewAPI(f.server.URL)
	return f
}

// waasServer signs sign-message requests with the fixture's wallet key.
func (f *fixture) waasServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer waas-wallet-1" || r.URL.Path != "/wallets/wallet-1/sign-message" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig, err := eth.SignPersonal(eth.NewKeySigner(f.walletKey), req.Message)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"signature": hexutil.Encode(sig)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newWallet(t *testing.T) *signer.LocalWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return signer.NewLocalWallet(key)
}

func TestConnectUnclaimedThenClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &stateRecorder{}
	sessions := NewMemorySessionStore()
	o := NewOrchestrator(f.api, sessions, WithStateListener(rec.record))
	assert.Equal(t, StateUnknown, o.State())

	w := newWallet(t)
	accepted, err := o.Connect(ctx, w)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, StateClaimPending, o.State())
	assert.Empty(t, o.Token())

	require.NoError(t, o.Claim(ctx, "alice", WithEmail("alice@example.com")))
	assert.Equal(t, StateAuthenticated, o.State())
	assert.Equal(t, []State{
		StateConnecting, StateCheckingSession, StateClaimPending, StateWaitingForSignature, StateAuthenticated,
	}, rec.all())

	session := o.Session()
	require.NotNil(t, session)
	assert.Equal(t, "alice", session.Username)
	assert.True(t, core.SameAddress(w.Address().Hex(), session.Owner))

	stored, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, o.Token(), stored.JWT)
	assert.Nil(t, stored.WaaS)

	me, err := f.api.Me(ctx, o.Token())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)
}

func TestConnectExistingUsernameSignsIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := newWallet(t)

	first := NewOrchestrator(f.api, NewMemorySessionStore())
	_, err := first.Connect(ctx, w)
	require.NoError(t, err)
	require.NoError(t, first.Claim(ctx, "alice"))

	// another device with an empty cache
	second := NewOrchestrator(f.api, NewMemorySessionStore())
	accepted, err := second.Connect(ctx, w)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, StateAuthenticated, second.State())
	assert.Equal(t, "alice", second.Session().Username)
}

func TestConnectUsesCachedSessionWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := newWallet(t)

	token, err := tokenizer.NewJWTTokenizer(testSecret).SessionToToken(&core.Session{
		Username:   "alice",
		Owner:      "0x" + strings.ToUpper(w.Address().Hex()[2:]),
		Signature:  "0x00",
		Expiration: time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	sessions := NewMemorySessionStore()
	require.NoError(t, sessions.Save(ctx, &StoredSession{JWT: token}))

	o := NewOrchestrator(f.api, sessions)
	_, err = o.Connect(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, o.State())
	assert.Equal(t, token, o.Token())
	assert.Zero(t, f.hits.Load())
}

func TestConnectIgnoresCacheOfOtherWalletOrExpired(t *testing.T) {
	w := newWallet(t)
	tests := []struct {
		name    string
		owner   string
		expires time.Duration
	}{
		{"other owner", newWallet(t).Address().Hex(), time.Hour},
		{"expired", w.Address().Hex(), -time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			token, err := tokenizer.NewJWTTokenizer(testSecret).SessionToToken(&core.Session{
				Username:   "alice",
				Owner:      tt.owner,
				Expiration: time.Now().Add(tt.expires).UnixMilli(),
			})
			require.NoError(t, err)
			sessions := NewMemorySessionStore()
			require.NoError(t, sessions.Save(ctx, &StoredSession{JWT: token}))

			o := NewOrchestrator(f.api, sessions)
			_, err = o.Connect(ctx, w)
			require.NoError(t, err)
			assert.Equal(t, StateClaimPending, o.State())
			assert.Positive(t, f.hits.Load())
		})
	}
}

func TestConnectDroppedWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.gate = newGate()
	ctx := context.Background()
	o := NewOrchestrator(f.api, NewMemorySessionStore())

	type result struct {
		accepted bool
		err      error
	}
	first, second := newWallet(t), newWallet(t)
	done := make(chan result, 1)
	go func() {
		accepted, err := o.Connect(ctx, first)
		done <- result{accepted, err}
	}()
	<-f.gate.entered

	accepted, err := o.Connect(ctx, second)
	assert.NoError(t, err)
	assert.False(t, accepted)

	close(f.gate.release)
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.accepted)
	assert.Equal(t, StateClaimPending, o.State())

	// guard released, a new trigger is accepted
	accepted, err = o.Connect(ctx, second)
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestStaleConnectResultIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.gate = newGate()
	ctx := context.Background()
	o := NewOrchestrator(f.api, NewMemorySessionStore())

	w := newWallet(t)
	done := make(chan error, 1)
	go func() {
		_, err := o.Connect(ctx, w)
		done <- err
	}()
	<-f.gate.entered
	require.NoError(t, o.Logout(ctx))
	close(f.gate.release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, StateDisconnected, o.State())
	assert.Equal(t, common.Address{}, o.Address())
}

func TestClaimFailureReturnsToClaimPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := NewOrchestrator(f.api, NewMemorySessionStore())
	_, err := a.Connect(ctx, newWallet(t))
	require.NoError(t, err)
	require.NoError(t, a.Claim(ctx, "alice"))

	b := NewOrchestrator(f.api, NewMemorySessionStore())
	_, err = b.Connect(ctx, newWallet(t))
	require.NoError(t, err)

	err = b.Claim(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, core.ErrUsernameTaken.Error(), err.Error())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, StateClaimPending, b.State())

	require.NoError(t, b.Claim(ctx, "bob"))
	assert.Equal(t, StateAuthenticated, b.State())
}

func TestClaimRequiresClaimPending(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.api, NewMemorySessionStore())
	assert.ErrorIs(t, o.Claim(context.Background(), "alice"), ErrInvalidState)
}

func TestConnectFailureReleasesGuard(t *testing.T) {
	f := newFixture(t)
	f.server.Close()
	o := NewOrchestrator(NewAPI(f.server.URL), NewMemorySessionStore())

	accepted, err := o.Connect(context.Background(), newWallet(t))
	assert.True(t, accepted)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateDisconnected, o.State())
}

func TestLogoutAndDisconnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessions := NewMemorySessionStore()
	o := NewOrchestrator(f.api, sessions)
	w := newWallet(t)

	_, err := o.Connect(ctx, w)
	require.NoError(t, err)
	require.NoError(t, o.Claim(ctx, "alice"))

	// a wallet-layer disconnect keeps the cache for the next connect
	o.Disconnected()
	assert.Equal(t, StateDisconnected, o.State())
	assert.Nil(t, o.Signer())
	stored, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.JWT)

	require.NoError(t, o.Logout(ctx))
	assert.Equal(t, StateDisconnected, o.State())
	assert.Empty(t, o.Token())
	stored, err = sessions.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored.JWT)
}

func TestPasswordLoginAttachesCustodialSigner(t *testing.T) {
	f := newFixture(t)
	waasSrv := f.waasServer(t)
	ctx := context.Background()
	sessions := NewMemorySessionStore()

	o := NewOrchestrator(f.api, sessions, WithWaaS(waasSrv.URL, 137))
	require.NoError(t, o.RegisterWithPassword(ctx, "carol", "correct horse"))
	assert.Equal(t, StateAuthenticated, o.State())
	assert.Equal(t, core.LoginMethodWaaSPassword, o.Session().LoginMethod)

	require.NoError(t, o.Logout(ctx))
	require.NoError(t, o.LoginWithPassword(ctx, "carol", "correct horse"))

	s := o.Signer()
	require.NotNil(t, s)
	assert.True(t, s.Supports(signer.CapSendTransaction))
	assert.False(t, s.Supports(signer.CapReadChain))

	sig, err := s.SignMessage(ctx, []byte("hello"))
	require.NoError(t, err)
	recovered, err := eth.RecoverPersonal("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(f.walletKey.PublicKey), recovered)

	stored, err := sessions.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored.WaaS)
	assert.Equal(t, "wallet-1", stored.WaaS.WalletID)
	assert.Equal(t, waasSrv.URL, stored.WaaS.BaseURL)
	assert.Equal(t, int64(137), stored.WaaS.ChainID)

	// a restarted client reattaches without a password
	restarted := NewOrchestrator(f.api, sessions)
	restored, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, StateAuthenticated, restarted.State())
	_, err = restarted.Signer().SignMessage(ctx, []byte("again"))
	assert.NoError(t, err)

	err = o.LoginWithPassword(ctx, "carol", "wrong horse")
	assert.EqualError(t, err, core.ErrInvalidCredentials.Error())
	assert.Equal(t, StateDisconnected, o.State())
}

func TestRestoreNothingStored(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(f.api, NewMemorySessionStore())
	restored, err := o.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, StateUnknown, o.State())
}

func TestAPIErrorFallbackMessage(t *testing.T) {
	assert.Equal(t, "request failed with status 502", (&APIError{Status: 502}).Error())
	assert.Equal(t, "username already taken", (&APIError{Status: 400, Message: "username already taken"}).Error())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checkingSession", StateCheckingSession.String())
	assert.Equal(t, "unknown", State(99).String())
}
