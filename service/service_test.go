package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/0xfutbol/id/adapters/moderation"
	"github.com/0xfutbol/id/adapters/store"
	"github.com/0xfutbol/id/adapters/tokenizer"
	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/internal/eth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu         sync.Mutex
	claimed    []string
	registered []string
	err        error
}

func (p *recordingPublisher) PublishIdentityClaimed(_ context.Context, id *core.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimed = append(p.claimed, id.Username)
	return p.err
}

func (p *recordingPublisher) PublishIdentityRegistered(_ context.Context, id *core.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, id.Username)
	return p.err
}

func (p *recordingPublisher) claimedNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.claimed...)
}

// testClock is a settable clock. It starts at the real time so the JWT
// library's own exp check agrees with the service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testDomain = eth.NewDomain(137, common.HexToAddress("0x00000000000000000000000000000000000000aa"))

type claimFixture struct {
	svc       *ClaimService
	store     *store.MemoryStore
	events    *recordingPublisher
	clock     *testClock
	authority *eth.KeySigner
}

func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()
	authority, err := eth.GenerateKeySigner()
	require.NoError(t, err)

	f := &claimFixture{
		store:     store.NewMemoryStore(),
		events:    &recordingPublisher{},
		clock:     newTestClock(),
		authority: authority,
	}
	f.svc = NewClaimService(
		f.store,
		tokenizer.NewJWTTokenizer([]byte("test-secret")),
		f.events,
		moderation.NewBlocklist(moderation.DefaultReserved, nil),
		authority,
		testDomain,
		WithClock(f.clock.Now),
	)
	return f
}

// user is a wallet holder in tests.
type user struct {
	key *eth.KeySigner
}

func newUser(t *testing.T) user {
	t.Helper()
	k, err := eth.GenerateKeySigner()
	require.NoError(t, err)
	return user{key: k}
}

func (u user) address() string {
	return u.key.Address().Hex()
}

// signAuth personal-signs the auth message for username and expiration.
func (u user) signAuth(t *testing.T, username string, expiration int64) string {
	t.Helper()
	sig, err := eth.SignPersonal(u.key, core.AuthMessage("", username, expiration))
	require.NoError(t, err)
	return eth.EncodeSignature(sig)
}

// signClaim personal-signs a claim approval message, proving the key holder
// asked for it.
func (u user) signClaim(t *testing.T, message string) string {
	t.Helper()
	sig, err := eth.SignPersonal(u.key, message)
	require.NoError(t, err)
	return eth.EncodeSignature(sig)
}
