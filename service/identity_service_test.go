package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xfutbol/id/adapters/moderation"
	"github.com/0xfutbol/id/adapters/password"
	"github.com/0xfutbol/id/adapters/store"
	"github.com/0xfutbol/id/adapters/tokenizer"
	"github.com/0xfutbol/id/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters keep the suite fast
var testHashParams = password.Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

type fakeProvisioner struct {
	mu         sync.Mutex
	wallets    map[string]string // id -> owner
	sessions   int
	walletErr  error
	sessionErr error
}

func (p *fakeProvisioner) CreateWallet(_ context.Context, owner string) (*core.Wallet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.walletErr != nil {
		return nil, p.walletErr
	}
	if p.wallets == nil {
		p.wallets = make(map[string]string)
	}
	id := fmt.Sprintf("wallet-%d", len(p.wallets)+1)
	p.wallets[id] = owner
	return &core.Wallet{ID: id, Address: fmt.Sprintf("0x%040d", len(p.wallets))}, nil
}

func (p *fakeProvisioner) CreateSession(_ context.Context, walletID string) (*core.WaaSSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	p.sessions++
	return &core.WaaSSession{Token: fmt.Sprintf("waas-%s-%d", walletID, p.sessions), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type identityFixture struct {
	svc         *IdentityService
	store       *store.MemoryStore
	events      *recordingPublisher
	provisioner *fakeProvisioner
	clock       *testClock
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	f := &identityFixture{
		store:       store.NewMemoryStore(),
		events:      &recordingPublisher{},
		provisioner: &fakeProvisioner{},
		clock:       newTestClock(),
	}
	f.svc = NewIdentityService(
		f.store,
		tokenizer.NewJWTTokenizer([]byte("test-secret")),
		f.events,
		moderation.NewBlocklist(moderation.DefaultReserved, nil),
		password.NewArgon2Hasher(testHashParams),
		f.provisioner,
		WithClock(f.clock.Now),
	)
	return f
}

func TestRegisterPassword(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	auth, err := f.svc.Register(ctx, "Carol", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", auth.Wallet.ID)
	assert.Equal(t, "waas-wallet-1-1", auth.WaaSSession.Token)
	assert.Equal(t, strings.ToLower(auth.Address), auth.Address)
	assert.Equal(t, auth.Address, f.provisioner.wallets["wallet-1"])

	session, err := tokenizer.ParseUnverified(auth.Token)
	require.NoError(t, err)
	assert.Equal(t, "Carol", session.Username)
	assert.Equal(t, auth.Address, session.Owner)
	assert.Equal(t, core.PasswordSentinel, session.Signature)
	assert.Equal(t, core.LoginMethodWaaSPassword, session.LoginMethod)
	assert.Equal(t, f.clock.Now().Add(core.MaxSignatureExpiration).UnixMilli(), session.Expiration)

	identity, err := f.store.GetByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, core.LoginMethodWaaSPassword, identity.LoginMethod)
	assert.Equal(t, "wallet-1", identity.WalletID)

	cred, err := f.store.GetCredential(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cred.PasswordHash, "$argon2id$"))
	assert.NotContains(t, cred.PasswordHash, "correct horse")

	f.events.mu.Lock()
	assert.Equal(t, []string{"Carol"}, f.events.registered)
	f.events.mu.Unlock()
}

func TestRegisterPasswordRejections(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "carol", "correct horse")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"short password", "dave", "short", core.ErrInvalidInput},
		{"invalid username", "d", "correct horse", core.ErrInvalidUsername},
		{"reserved", "admin", "correct horse", core.ErrUsernameRejected},
		{"taken ignoring case", "CAROL", "correct horse", core.ErrUsernameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, f.provisioner.wallets, 1)
}

func TestRegisterTakenByWalletClaim(t *testing.T) {
	f := newIdentityFixture(t)
	require.NoError(t, f.store.Create(context.Background(), &core.Identity{
		Address:     "0x1111111111111111111111111111111111111111",
		Username:    "erin",
		LoginMethod: core.LoginMethodWallet,
	}))

	_, err := f.svc.Register(context.Background(), "erin", "correct horse")
	assert.ErrorIs(t, err, core.ErrUsernameTaken)
}

func TestRegisterProvisionerFailure(t *testing.T) {
	f := newIdentityFixture(t)
	f.provisioner.walletErr = fmt.Errorf("backend down")

	_, err := f.svc.Register(context.Background(), "frank", "correct horse")
	assert.ErrorIs(t, err, core.ErrRemoteService)

	// nothing half-created
	_, err = f.store.GetByUsername(context.Background(), "frank")
	assert.Error(t, err)
}

func TestLoginPassword(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "carol", "correct horse")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	auth, err := f.svc.Login(ctx, "Carol", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, reg.Address, auth.Address)
	assert.Equal(t, reg.Wallet.ID, auth.Wallet.ID)
	assert.Equal(t, "waas-wallet-1-2", auth.WaaSSession.Token)

	session, err := tokenizer.ParseUnverified(auth.Token)
	require.NoError(t, err)
	assert.Equal(t, "carol", session.Username)
	assert.Equal(t, f.clock.Now().Add(core.MaxSignatureExpiration).UnixMilli(), session.Expiration)

	_, err = f.svc.Login(ctx, "carol", "wrong horse")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestLoginSessionFailure(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "carol", "correct horse")
	require.NoError(t, err)

	f.provisioner.sessionErr = fmt.Errorf("backend down")
	_, err = f.svc.Login(ctx, "carol", "correct horse")
	assert.ErrorIs(t, err, core.ErrRemoteService)
}

// flakyStore fails the next n password identity writes.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) CreatePasswordIdentity(ctx context.Context, identity *core.Identity, credential *core.PasswordCredential) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return fmt.Errorf("connection reset")
	}
	s.mu.Unlock()
	return s.MemoryStore.CreatePasswordIdentity(ctx, identity, credential)
}

func TestRegisterStoreFailureLeavesNoPartialIdentity(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 1}
	prov := &fakeProvisioner{}
	svc := NewIdentityService(
		st,
		tokenizer.NewJWTTokenizer([]byte("test-secret")),
		&recordingPublisher{},
		moderation.NewBlocklist(moderation.DefaultReserved, nil),
		password.NewArgon2Hasher(testHashParams),
		prov,
	)

	_, err := svc.Register(ctx, "grace", "correct horse")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrUsernameTaken)

	_, err = st.GetByUsername(ctx, "grace")
	assert.Error(t, err)
	_, err = st.GetCredential(ctx, "grace")
	assert.Error(t, err)

	// the retry starts clean and the account is usable
	reg, err := svc.Register(ctx, "grace", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "wallet-2", reg.Wallet.ID)

	auth, err := svc.Login(ctx, "grace", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, reg.Address, auth.Address)
}
