package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

const (
	testAPIKey = "abc12345xyz67890"
	testEncKey = "0123456789abcdef"
)

var (
	keysOnce   sync.Once
	clientKeys []*rsa.PrivateKey
	serverKey  *rsa.PrivateKey
)

// testKeys generates the RSA keys shared by every test in the package.
func testKeys(t *testing.T) ([]*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		for i := 0; i < 3; i++ {
			k, err := rsakey.GenerateKeyPair(context.Background(), rsakey.MinBits)
			if err != nil {
				panic(err)
			}
			if i < 2 {
				clientKeys = append(clientKeys, k)
			} else {
				serverKey = k
			}
		}
	})
	return clientKeys, serverKey
}

func serverPEM(t *testing.T) string {
	t.Helper()
	_, srv := testKeys(t)
	pemStr, err := rsakey.PublicKeyToPEM(&srv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pemStr
}

// fakeKeygen hands out the shared client keys in turn.
type fakeKeygen struct {
	mu    sync.Mutex
	calls int
	keys  []*rsa.PrivateKey
}

func (g *fakeKeygen) generate(ctx context.Context, bits int) (*rsa.PrivateKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bits < rsakey.MinBits {
		return nil, rsakey.ErrKeyTooSmall
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.keys[g.calls%len(g.keys)]
	g.calls++
	return k, nil
}

func (g *fakeKeygen) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *storage.MemoryStore
	clock  *fakeClock
	keygen *fakeKeygen
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys, _ := testKeys(t)
	return &fixture{
		store:  storage.NewMemoryStore(),
		clock:  newFakeClock(),
		keygen: &fakeKeygen{keys: keys},
	}
}

// session creates a Session on the fixture's store, clock and keys.
func (f *fixture) session(opts ...Option) *Session {
	base := []Option{
		withKeyGenerator(f.keygen.generate),
		WithClock(f.clock.Now),
	}
	return New(f.store, append(base, opts...)...)
}

// setup creates a session and runs Setup with the test credentials.
func (f *fixture) setup(t *testing.T, env string) *Session {
	t.Helper()
	s := f.session()
	ok, err := s.Setup(context.Background(), SetupParams{
		APIKey:        testAPIKey,
		AllowedIPs:    []string{"10.0.0.1"},
		Environment:   env,
		EncryptionKey: []byte(testEncKey),
	})
	if err != nil || !ok {
		t.Fatalf("Setup() = %v, %v", ok, err)
	}
	return s
}

// handshake applies all three handshake results directly.
func (f *fixture) handshake(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	if err := s.ApplyInstallation(ctx, InstallationResult{
		Token:              "install-token-123",
		ServerPublicKeyPEM: serverPEM(t),
		Created:            f.clock.Now(),
		Updated:            f.clock.Now(),
	}); err != nil {
		t.Fatalf("ApplyInstallation() error = %v", err)
	}
	if err := s.ApplyDeviceRegistration(ctx, 42); err != nil {
		t.Fatalf("ApplyDeviceRegistration() error = %v", err)
	}
	if err := s.ApplySessionCreation(ctx, SessionResult{
		ID:      7,
		Token:   "session-token-456",
		TokenID: "99",
		Timeout: 3600,
		User:    PersonInfo(User{ID: 1234, DisplayName: "Jane"}),
	}); err != nil {
		t.Fatalf("ApplySessionCreation() error = %v", err)
	}
}

// fakeTransport answers handshake calls and counts them.
type fakeTransport struct {
	mu sync.Mutex

	serverPEM string
	signer    *Session

	installs int
	devices  int
	sessions int

	lastDevice DeviceRequest
	lastSecret string

	deviceErr error
}

func (tr *fakeTransport) CreateInstallation(ctx context.Context, clientPublicKeyPEM string) (InstallationResult, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.installs++
	if !strings.HasPrefix(clientPublicKeyPEM, "-----BEGIN PUBLIC KEY-----") {
		return InstallationResult{}, errors.New("bad client key")
	}
	return InstallationResult{Token: "install-token", ServerPublicKeyPEM: tr.serverPEM}, nil
}

func (tr *fakeTransport) RegisterDevice(ctx context.Context, req DeviceRequest) (int64, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.devices++
	tr.lastDevice = req
	if tr.deviceErr != nil {
		return 0, tr.deviceErr
	}
	return 42, nil
}

func (tr *fakeTransport) CreateSession(ctx context.Context, secret string) (SessionResult, error) {
	if tr.signer != nil {
		// Requests are signed through the session mid-handshake.
		if _, err := tr.signer.SignRequest([]byte(secret)); err != nil {
			return SessionResult{}, err
		}
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sessions++
	tr.lastSecret = secret
	return SessionResult{
		ID:      int64(100 + tr.sessions),
		Token:   "session-token",
		Timeout: 600,
		User:    CompanyInfo(User{ID: 555, Name: "ACME"}),
	}, nil
}

var errBoom = errors.New("boom")

// flakyStore fails writes to keys containing failOn.
type flakyStore struct {
	*storage.MemoryStore
	failOn string
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		return errBoom
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if s.failOn == "*get" {
		return "", errBoom
	}
	return s.MemoryStore.Get(ctx, key)
}

type recordingMetrics struct {
	mu        sync.Mutex
	loads     []string
	stores    int
	storeErrs int
	destroys  []string
	keygens   int
	steps     []string
}

func (m *recordingMetrics) ObserveLoad(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, outcome)
}

func (m *recordingMetrics) ObserveStore(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores++
	if err != nil {
		m.storeErrs++
	}
}

func (m *recordingMetrics) ObserveDestroy(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys = append(m.destroys, level)
}

func (m *recordingMetrics) ObserveKeyGeneration(time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keygens++
}

func (m *recordingMetrics) ObserveHandshakeStep(step string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.steps = append(m.steps, step+":"+result)
}
