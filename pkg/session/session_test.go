package session

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/bunqsession-go/pkg/crypto/kdf"
	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

func TestNew_Defaults(t *testing.T) {
	s := New(storage.NewMemoryStore())

	if s.Environment() != EnvSandbox {
		t.Errorf("Environment() = %s, want SANDBOX", s.Environment())
	}
	if s.BaseURL() != "https://public-api.sandbox.bunq.com" {
		t.Errorf("BaseURL() = %s", s.BaseURL())
	}
	if s.State() != StateNoKeypair {
		t.Errorf("State() = %s, want no_keypair", s.State())
	}
	if s.HasEncryptionKey() {
		t.Error("HasEncryptionKey() = true for a new session")
	}
}

// Scenario A: fresh session, no prior storage.
func TestSetup_FreshSession(t *testing.T) {
	f := newFixture(t)
	metrics := &recordingMetrics{}
	s := f.session(WithMetrics(metrics))

	ok, err := s.Setup(context.Background(), SetupParams{
		APIKey:        testAPIKey,
		Environment:   "SANDBOX",
		EncryptionKey: []byte(testEncKey),
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !ok {
		t.Fatal("Setup() = false, want true")
	}

	if s.LastLoad() != LoadNotFound {
		t.Errorf("LastLoad() = %s, want not_found", s.LastLoad())
	}
	if len(metrics.loads) != 1 || metrics.loads[0] != "not_found" {
		t.Errorf("load observations = %v", metrics.loads)
	}
	if s.PublicKeyPEM() == "" {
		t.Error("keypair was not generated")
	}
	if f.keygen.count() != 1 {
		t.Errorf("keygen calls = %d, want 1", f.keygen.count())
	}
	if s.State() != StateKeypairReady {
		t.Errorf("State() = %s, want keypair_ready", s.State())
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d keys, Setup should not persist", f.store.Len())
	}

	wantID := kdf.APIKeyIdentifier(testAPIKey)
	if s.APIKeyIdentifier() != wantID {
		t.Errorf("APIKeyIdentifier() = %s, want %s", s.APIKeyIdentifier(), wantID)
	}
	keys := s.StorageKeys()
	if keys.Session != "BUNQJSCLIENT_SANDBOX_SESSION_"+wantID {
		t.Errorf("StorageKeys().Session = %s", keys.Session)
	}
	if keys.IV != "BUNQJSCLIENT_SANDBOX_IV_"+wantID {
		t.Errorf("StorageKeys().IV = %s", keys.IV)
	}
}

func TestSetup_NoEncryptionKey(t *testing.T) {
	f := newFixture(t)
	s := f.session()

	ok, err := s.Setup(context.Background(), SetupParams{
		APIKey:      testAPIKey,
		AllowedIPs:  []string{"1.2.3.4"},
		Environment: "PRODUCTION",
	})
	if err != nil || ok {
		t.Fatalf("Setup() = %v, %v, want false, nil", ok, err)
	}
	if f.keygen.count() != 0 {
		t.Error("keyless setup generated a keypair")
	}
	if s.APIKey() != testAPIKey {
		t.Errorf("APIKey() = %q", s.APIKey())
	}
	if s.Environment() != EnvProduction || s.BaseURL() != "https://api.bunq.com" {
		t.Errorf("Environment() = %s, BaseURL() = %s", s.Environment(), s.BaseURL())
	}
	if got := s.AllowedIPs(); !reflect.DeepEqual(got, []string{"1.2.3.4"}) {
		t.Errorf("AllowedIPs() = %v", got)
	}
	if ok, err := s.StoreSession(context.Background()); ok || err != nil {
		t.Errorf("StoreSession() = %v, %v, want false, nil", ok, err)
	}
}

func TestSetup_InvalidEncryptionKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		cipher symmetric.CipherType
	}{
		{"too short", "short", symmetric.CipherAESGCM},
		{"17 bytes", "0123456789abcdefg", symmetric.CipherAESGCM},
		{"chacha needs 32", testEncKey, symmetric.CipherChaCha20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.session(WithCipherType(tt.cipher))
			ok, err := s.Setup(context.Background(), SetupParams{
				APIKey:        testAPIKey,
				EncryptionKey: []byte(tt.key),
			})
			if ok || !errors.Is(err, ErrInvalidEncryptionKey) {
				t.Errorf("Setup() = %v, %v, want ErrInvalidEncryptionKey", ok, err)
			}
			if s.HasEncryptionKey() {
				t.Error("invalid key was kept")
			}
		})
	}
}

func TestSetup_InvalidEnvironment(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	before := s.StorageKeys()

	_, err := s.Setup(context.Background(), SetupParams{
		APIKey:        "zzzzzzzzzzzzzzzz",
		Environment:   "STAGING",
		EncryptionKey: []byte(testEncKey),
	})
	if !errors.Is(err, ErrInvalidEnvironment) {
		t.Fatalf("Setup() error = %v, want ErrInvalidEnvironment", err)
	}
	if s.APIKey() != testAPIKey || s.StorageKeys() != before {
		t.Error("invalid environment mutated the session")
	}
}

func TestSetup_ChaCha20(t *testing.T) {
	f := newFixture(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	ctx := context.Background()

	s := f.session(WithCipherType(symmetric.CipherChaCha20))
	if _, err := s.Setup(ctx, SetupParams{APIKey: testAPIKey, EncryptionKey: key}); err != nil {
		t.Fatal(err)
	}
	f.handshake(t, s)

	restored := f.session(WithCipherType(symmetric.CipherChaCha20))
	if _, err := restored.Setup(ctx, SetupParams{APIKey: testAPIKey, EncryptionKey: key}); err != nil {
		t.Fatal(err)
	}
	if restored.LastLoad() != LoadRestored {
		t.Errorf("LastLoad() = %s, want restored", restored.LastLoad())
	}
}

func TestSetup_RestoresStoredSession(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	restored := f.setup(t, "SANDBOX")

	if restored.LastLoad() != LoadRestored {
		t.Fatalf("LastLoad() = %s, want restored", restored.LastLoad())
	}
	if f.keygen.count() != 1 {
		t.Errorf("keygen calls = %d, a restored session must reuse its keypair", f.keygen.count())
	}
	if restored.PublicKeyPEM() != s.PublicKeyPEM() {
		t.Error("public key was not restored")
	}
	if restored.State() != StateSessionActive {
		t.Errorf("State() = %s, want session_active", restored.State())
	}

	in, ok := restored.Installation()
	if !ok || in.Token != "install-token-123" || !in.Created.Equal(f.clock.Now()) {
		t.Errorf("Installation() = %+v, %v", in, ok)
	}
	if d, ok := restored.Device(); !ok || d.ID != 42 {
		t.Errorf("Device() = %+v, %v", d, ok)
	}
	as, ok := restored.APISession()
	if !ok || as.ID != 7 || as.Token != "session-token-456" || as.Timeout != 3600 {
		t.Errorf("APISession() = %+v, %v", as, ok)
	}
	if !as.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", as.ExpiresAt)
	}
	if id, err := restored.UserID(); err != nil || id != 1234 {
		t.Errorf("UserID() = %d, %v", id, err)
	}
	if restored.AuthToken() != "session-token-456" {
		t.Errorf("AuthToken() = %q", restored.AuthToken())
	}
}

// Scenario B: environment change discards in-memory state and the old
// blob goes on the next load.
func TestSetup_EnvironmentChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)
	sandbox := s.StorageKeys()

	if _, err := f.store.Get(ctx, sandbox.Session); err != nil {
		t.Fatalf("sandbox blob missing before switch: %v", err)
	}

	ok, err := s.Setup(ctx, SetupParams{
		APIKey:        testAPIKey,
		Environment:   "PRODUCTION",
		EncryptionKey: []byte(testEncKey),
	})
	if err != nil || !ok {
		t.Fatalf("Setup() = %v, %v", ok, err)
	}

	if _, ok := s.Installation(); ok {
		t.Error("installation survived the environment change")
	}
	if _, ok := s.Device(); ok {
		t.Error("device survived the environment change")
	}
	if _, ok := s.APISession(); ok {
		t.Error("session survived the environment change")
	}
	if _, err := s.User(); !errors.Is(err, ErrNoUserInfo) {
		t.Errorf("User() error = %v, want ErrNoUserInfo", err)
	}
	if s.StorageKeys().Session == sandbox.Session {
		t.Error("storage keys were not recomputed")
	}
	for _, key := range []string{sandbox.Session, sandbox.IV} {
		if _, err := f.store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("old blob %s not purged: %v", key, err)
		}
	}
	if s.PublicKeyPEM() == "" {
		t.Error("no keypair after environment change")
	}
}

func TestSetup_KeyAndEnvironmentChangeKeepsOtherBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)
	first := s.StorageKeys()

	ok, err := s.Setup(ctx, SetupParams{
		APIKey:        "zzzzzzzzqqqqqqqqOTHERKEY",
		Environment:   "PRODUCTION",
		EncryptionKey: []byte(testEncKey),
	})
	if err != nil || !ok {
		t.Fatalf("Setup() = %v, %v", ok, err)
	}
	if _, ok := s.Installation(); ok {
		t.Error("installation survived the key change")
	}
	for _, key := range []string{first.Session, first.IV} {
		if _, err := f.store.Get(ctx, key); err != nil {
			t.Errorf("blob %s of the first key was removed: %v", key, err)
		}
	}

	again := f.setup(t, "SANDBOX")
	if again.LastLoad() != LoadRestored {
		t.Errorf("LastLoad() = %s, want restored", again.LastLoad())
	}
	if !again.VerifySessionInstallation() {
		t.Error("first key's session was not restored")
	}
}

func TestLoadSession_EnvironmentMismatchPurgesBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prod := f.setup(t, "PRODUCTION")
	f.handshake(t, prod)

	// Move the production blob under the sandbox keys.
	src := prod.StorageKeys()
	dst := storageKeysFor(EnvSandbox, prod.APIKeyIdentifier())
	for from, to := range map[string]string{src.Session: dst.Session, src.IV: dst.IV} {
		v, err := f.store.Get(ctx, from)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.store.Set(ctx, to, v); err != nil {
			t.Fatal(err)
		}
	}

	s := f.setup(t, "SANDBOX")
	if s.LastLoad() != LoadMismatch {
		t.Fatalf("LastLoad() = %s, want mismatch", s.LastLoad())
	}
	for _, key := range []string{dst.Session, dst.IV} {
		if _, err := f.store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("mismatched blob %s not purged: %v", key, err)
		}
	}
	if _, ok := s.Installation(); ok {
		t.Error("installation restored from a foreign environment")
	}
	if s.APIKey() != testAPIKey {
		t.Error("api key should survive the purge")
	}
}

func TestLoadSession_APIKeyMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Keys sharing the first 16 characters map to the same location.
	a := f.session()
	if _, err := a.Setup(ctx, SetupParams{APIKey: testAPIKey + "-first", EncryptionKey: []byte(testEncKey)}); err != nil {
		t.Fatal(err)
	}
	f.handshake(t, a)

	b := f.session()
	if _, err := b.Setup(ctx, SetupParams{APIKey: testAPIKey + "-second", EncryptionKey: []byte(testEncKey)}); err != nil {
		t.Fatal(err)
	}
	if b.StorageKeys() != a.StorageKeys() {
		t.Fatal("expected a shared storage location")
	}
	if b.LastLoad() != LoadMismatch {
		t.Errorf("LastLoad() = %s, want mismatch", b.LastLoad())
	}
	if _, ok := b.Installation(); ok {
		t.Error("installation restored for a different api key")
	}
	if b.PublicKeyPEM() == "" {
		t.Error("no keypair provisioned after mismatch")
	}
	if _, err := f.store.Get(ctx, a.StorageKeys().Session); err != nil {
		t.Errorf("api key mismatch must not purge the blob: %v", err)
	}
}

func TestLoadSession_Corrupted(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, f *fixture, keys StorageKeys)
	}{
		{"missing iv", func(t *testing.T, f *fixture, keys StorageKeys) {
			if err := f.store.Remove(context.Background(), keys.IV); err != nil {
				t.Fatal(err)
			}
		}},
		{"garbage ciphertext", func(t *testing.T, f *fixture, keys StorageKeys) {
			if err := f.store.Set(context.Background(), keys.Session, "bm90IGEgc2Vzc2lvbg=="); err != nil {
				t.Fatal(err)
			}
		}},
		{"not base64", func(t *testing.T, f *fixture, keys StorageKeys) {
			if err := f.store.Set(context.Background(), keys.Session, "%%%"); err != nil {
				t.Fatal(err)
			}
		}},
		{"iv from another write", func(t *testing.T, f *fixture, keys StorageKeys) {
			_, iv, err := symmetric.EncryptString("x", []byte(testEncKey))
			if err != nil {
				t.Fatal(err)
			}
			if err := f.store.Set(context.Background(), keys.IV, iv); err != nil {
				t.Fatal(err)
			}
		}},
		{"not json", func(t *testing.T, f *fixture, keys StorageKeys) {
			ct, iv, err := symmetric.EncryptString("not json", []byte(testEncKey))
			if err != nil {
				t.Fatal(err)
			}
			ctx := context.Background()
			if err := f.store.Set(ctx, keys.Session, ct); err != nil {
				t.Fatal(err)
			}
			if err := f.store.Set(ctx, keys.IV, iv); err != nil {
				t.Fatal(err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.setup(t, "SANDBOX")
			f.handshake(t, s)
			tt.corrupt(t, f, s.StorageKeys())

			fresh := f.session()
			ok, err := fresh.Setup(context.Background(), SetupParams{
				APIKey:        testAPIKey,
				EncryptionKey: []byte(testEncKey),
			})
			if err != nil || !ok {
				t.Fatalf("Setup() = %v, %v; corrupted storage must not be fatal", ok, err)
			}
			if fresh.LastLoad() != LoadCorrupted {
				t.Errorf("LastLoad() = %s, want corrupted", fresh.LastLoad())
			}
			if fresh.PublicKeyPEM() == "" {
				t.Error("no keypair after cold start")
			}
			if _, ok := fresh.Installation(); ok {
				t.Error("installation restored from a corrupted blob")
			}
		})
	}
}

func TestLoadSession_WrongEncryptionKey(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	other := f.session()
	if _, err := other.Setup(context.Background(), SetupParams{
		APIKey:        testAPIKey,
		EncryptionKey: []byte("fedcba9876543210"),
	}); err != nil {
		t.Fatal(err)
	}
	if other.LastLoad() != LoadCorrupted {
		t.Errorf("LastLoad() = %s, want corrupted", other.LastLoad())
	}
}

func TestLoadSession_StorageUnreadable(t *testing.T) {
	f := newFixture(t)
	st := &flakyStore{MemoryStore: f.store, failOn: "*get"}
	s := New(st, withKeyGenerator(f.keygen.generate))

	ok, err := s.Setup(context.Background(), SetupParams{
		APIKey:        testAPIKey,
		EncryptionKey: []byte(testEncKey),
	})
	if err != nil || !ok {
		t.Fatalf("Setup() = %v, %v", ok, err)
	}
	if s.LastLoad() != LoadNotFound {
		t.Errorf("LastLoad() = %s, want not_found", s.LastLoad())
	}
}

func TestLoadSession_CancelledContext(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.LoadSession(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadSession() error = %v, want context.Canceled", err)
	}
}

// Scenario C: a present session past its expiry is invalid.
func TestVerifySessionExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	if err := s.ApplySessionCreation(ctx, SessionResult{
		ID:        7,
		Token:     "tok",
		ExpiresAt: f.clock.Now().Add(-time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	if s.VerifySessionExpiry() {
		t.Error("VerifySessionExpiry() = true for a session expired 1s ago")
	}
	if s.VerifySessionInstallation() {
		t.Error("VerifySessionInstallation() = true for an expired session")
	}
	if as, ok := s.APISession(); !ok || as.ID != 7 {
		t.Error("expired session should still be present")
	}
	if s.State() != StateSessionExpired {
		t.Errorf("State() = %s, want session_expired", s.State())
	}
}

func TestVerifySessionExpiry_Boundary(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s) // expires one hour from now

	f.clock.Advance(time.Hour - time.Nanosecond)
	if !s.VerifySessionExpiry() {
		t.Error("session expired before its expiry time")
	}

	f.clock.Advance(time.Nanosecond)
	if s.VerifySessionExpiry() {
		t.Error("session still valid at exactly its expiry time")
	}
}

func TestVerify_Predicates(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")

	if s.VerifyInstallation() || s.VerifyDeviceInstallation() || s.VerifySessionInstallation() || s.VerifySessionExpiry() {
		t.Error("predicates true before handshake")
	}

	f.handshake(t, s)
	if !s.VerifyInstallation() || !s.VerifyDeviceInstallation() || !s.VerifySessionInstallation() || !s.VerifySessionExpiry() {
		t.Error("predicates false after handshake")
	}
}

// Scenario D: installation and device valid, session absent.
func TestLoadSession_SessionInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	if err := s.ApplyInstallation(ctx, InstallationResult{
		Token:              "install-token-123",
		ServerPublicKeyPEM: serverPEM(t),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyDeviceRegistration(ctx, 42); err != nil {
		t.Fatal(err)
	}

	restored := f.setup(t, "SANDBOX")

	if restored.LastLoad() != LoadSessionInvalid {
		t.Fatalf("LastLoad() = %s, want session_invalid", restored.LastLoad())
	}
	if restored.LastLoad().Usable() {
		t.Error("session_invalid must not be usable")
	}
	if !restored.VerifyInstallation() {
		t.Error("installation was dropped")
	}
	if !restored.VerifyDeviceInstallation() {
		t.Error("device was dropped")
	}
	if _, ok := restored.APISession(); ok {
		t.Error("session sub-state was not cleared")
	}
	if restored.PublicKeyPEM() != s.PublicKeyPEM() {
		t.Error("keypair should be kept when only the session is dropped")
	}
	if restored.State() != StateDeviceRegistered {
		t.Errorf("State() = %s, want device_registered", restored.State())
	}
}

func TestLoadSession_ExpiredSessionDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	f.clock.Advance(2 * time.Hour)

	restored := f.setup(t, "SANDBOX")
	if restored.LastLoad() != LoadSessionInvalid {
		t.Fatalf("LastLoad() = %s, want session_invalid", restored.LastLoad())
	}

	// The drop is persisted.
	raw := decryptStored(t, f, restored.StorageKeys())
	if string(raw["sessionId"]) != "null" || string(raw["userInfo"]) != "null" {
		t.Errorf("stored session fields = %s, %s, want null", raw["sessionId"], raw["userInfo"])
	}
	if string(raw["deviceId"]) != "42" {
		t.Errorf("stored deviceId = %s, want 42", raw["deviceId"])
	}

	if _, err := restored.LoadSession(ctx); err != nil {
		t.Fatal(err)
	}
	if restored.LastLoad() != LoadSessionInvalid {
		t.Errorf("second load = %s", restored.LastLoad())
	}
}

func TestLoadSession_OrphanedLinksDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")

	// A blob with a device and a session but no installation.
	id, timeout := int64(9), int64(60)
	exp := f.clock.Now().Add(time.Hour)
	rec := s.snapshotLocked()
	rec.DeviceID = &id
	rec.SessionID = &id
	rec.SessionTimeout = &timeout
	rec.SessionExpiryTime = &exp
	writeRecord(t, f, s.StorageKeys(), rec)

	out, err := s.LoadSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out != LoadRestored {
		t.Errorf("LoadSession() = %s, want restored", out)
	}
	if _, ok := s.Device(); ok {
		t.Error("device restored without an installation")
	}
	if _, ok := s.APISession(); ok {
		t.Error("session restored without a device")
	}
	if s.State() != StateKeypairReady {
		t.Errorf("State() = %s", s.State())
	}
}

func TestStoreSession_PersistedFieldSet(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	raw := decryptStored(t, f, s.StorageKeys())

	want := []string{
		"apiKey", "deviceId", "environment", "installCreated", "installToken",
		"installUpdated", "privateKeyPem", "publicKeyPem", "serverPublicKeyPem",
		"sessionExpiryTime", "sessionId", "sessionTimeout", "sessionToken", "userInfo",
	}
	got := make([]string, 0, len(raw))
	for k := range raw {
		got = append(got, k)
	}
	sort.Strings(got)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("persisted fields = %v, want %v", got, want)
	}

	var env string
	if err := json.Unmarshal(raw["environment"], &env); err != nil || env != "SANDBOX" {
		t.Errorf("environment = %s", raw["environment"])
	}
	var info map[string]json.RawMessage
	if err := json.Unmarshal(raw["userInfo"], &info); err != nil {
		t.Fatal(err)
	}
	if _, ok := info["UserPerson"]; !ok {
		t.Errorf("userInfo = %s, want UserPerson wrapper", raw["userInfo"])
	}
}

func TestStoreSession_WriteFailure(t *testing.T) {
	for _, failOn := range []string{"_IV_", "_SESSION_"} {
		t.Run(failOn, func(t *testing.T) {
			f := newFixture(t)
			metrics := &recordingMetrics{}
			st := &flakyStore{MemoryStore: f.store}
			s := New(st, withKeyGenerator(f.keygen.generate), WithMetrics(metrics))
			if _, err := s.Setup(context.Background(), SetupParams{APIKey: testAPIKey, EncryptionKey: []byte(testEncKey)}); err != nil {
				t.Fatal(err)
			}

			st.failOn = failOn
			ok, err := s.StoreSession(context.Background())
			if ok || !errors.Is(err, errBoom) {
				t.Errorf("StoreSession() = %v, %v, want errBoom", ok, err)
			}
			if metrics.storeErrs != 1 {
				t.Errorf("store errors observed = %d, want 1", metrics.storeErrs)
			}

			// A half-written pair reads back as no usable session.
			st.failOn = ""
			fresh := f.session()
			if _, err := fresh.Setup(context.Background(), SetupParams{APIKey: testAPIKey, EncryptionKey: []byte(testEncKey)}); err != nil {
				t.Fatal(err)
			}
			if fresh.LastLoad().Usable() {
				t.Errorf("LastLoad() = %s after a failed write", fresh.LastLoad())
			}
		})
	}
}

func TestSetEncryptionKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	newKey := []byte("0123456789abcdef01234567")
	if err := s.SetEncryptionKey(ctx, []byte("bad")); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Errorf("SetEncryptionKey(bad) error = %v", err)
	}
	if err := s.SetEncryptionKey(ctx, newKey); err != nil {
		t.Fatalf("SetEncryptionKey() error = %v", err)
	}

	withNew := f.session()
	if _, err := withNew.Setup(ctx, SetupParams{APIKey: testAPIKey, EncryptionKey: newKey}); err != nil {
		t.Fatal(err)
	}
	if withNew.LastLoad() != LoadRestored {
		t.Errorf("load with new key = %s, want restored", withNew.LastLoad())
	}

	withOld := f.session()
	if _, err := withOld.Setup(ctx, SetupParams{APIKey: testAPIKey, EncryptionKey: []byte(testEncKey)}); err != nil {
		t.Fatal(err)
	}
	if withOld.LastLoad() != LoadCorrupted {
		t.Errorf("load with old key = %s, want corrupted", withOld.LastLoad())
	}
}

func TestSetup_APIKeyChange(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)
	oldKeys := s.StorageKeys()

	ok, err := s.Setup(context.Background(), SetupParams{
		APIKey:        "qqqqqqqqrrrrrrrr",
		EncryptionKey: []byte(testEncKey),
	})
	if err != nil || !ok {
		t.Fatalf("Setup() = %v, %v", ok, err)
	}
	if _, ok := s.Installation(); ok {
		t.Error("installation survived an api key change")
	}
	if s.StorageKeys() == oldKeys {
		t.Error("storage location did not move with the api key")
	}
	if s.APIKeyIdentifier() != kdf.APIKeyIdentifier("qqqqqqqqrrrrrrrr") {
		t.Error("identifier not recomputed")
	}
	if _, err := f.store.Get(context.Background(), oldKeys.Session); err != nil {
		t.Errorf("previous key's blob should be kept: %v", err)
	}
}

func TestSetupKeypair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)
	first := s.PublicKeyPEM()

	if err := s.SetupKeypair(ctx, false, 0); err != nil {
		t.Fatal(err)
	}
	if f.keygen.count() != 1 || s.PublicKeyPEM() != first {
		t.Error("SetupKeypair(force=false) replaced an existing keypair")
	}

	if err := s.SetupKeypair(ctx, true, 0); err != nil {
		t.Fatal(err)
	}
	if s.PublicKeyPEM() == first {
		t.Error("SetupKeypair(force=true) kept the old keypair")
	}
	if _, ok := s.Installation(); ok {
		t.Error("installation bound to the old key survived")
	}

	if err := s.SetupKeypair(ctx, true, 1024); err == nil {
		t.Error("SetupKeypair(1024) should fail")
	}
}

func TestSetupKeypair_CancelledKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	before := s.PublicKeyPEM()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SetupKeypair(ctx, true, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("SetupKeypair() error = %v, want context.Canceled", err)
	}
	if s.PublicKeyPEM() != before {
		t.Error("cancelled generation changed the keypair")
	}
}

func TestSetEnvironment(t *testing.T) {
	f := newFixture(t)
	s := f.setup(t, "SANDBOX")
	id := s.APIKeyIdentifier()

	if err := s.SetEnvironment("PRODUCTION"); err != nil {
		t.Fatal(err)
	}
	if s.BaseURL() != "https://api.bunq.com" {
		t.Errorf("BaseURL() = %s", s.BaseURL())
	}
	if s.StorageKeys().IV != "BUNQJSCLIENT_PRODUCTION_IV_"+id {
		t.Errorf("StorageKeys().IV = %s", s.StorageKeys().IV)
	}

	for _, bad := range []string{"", "sandbox", "STAGING"} {
		err := s.SetEnvironment(bad)
		if !errors.Is(err, ErrInvalidEnvironment) {
			t.Errorf("SetEnvironment(%q) error = %v", bad, err)
		}
	}
	if s.Environment() != EnvProduction {
		t.Error("failed SetEnvironment changed the environment")
	}
}

// Scenario E.
func TestEncryptedData_RoundTrip(t *testing.T) {
	type limits struct {
		Route   string         `json:"route"`
		Max     int            `json:"max"`
		History []int64        `json:"history"`
		Meta    map[string]any `json:"meta"`
	}

	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")

	in := limits{Route: "GET /user", Max: 3, History: []int64{1, 2, 3}, Meta: map[string]any{"a": "b"}}
	ok, err := s.StoreEncryptedData(ctx, in, "BUNQJSCLIENT_LIMITS")
	if err != nil || !ok {
		t.Fatalf("StoreEncryptedData() = %v, %v", ok, err)
	}
	if _, err := f.store.Get(ctx, "BUNQJSCLIENT_LIMITS_IV"); err != nil {
		t.Errorf("IV not stored at the sibling key: %v", err)
	}

	var out limits
	ok, err = s.LoadEncryptedData(ctx, "BUNQJSCLIENT_LIMITS", "", &out)
	if err != nil || !ok {
		t.Fatalf("LoadEncryptedData() = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("LoadEncryptedData() = %+v, want %+v", out, in)
	}

	var explicit limits
	ok, err = s.LoadEncryptedData(ctx, "BUNQJSCLIENT_LIMITS", "BUNQJSCLIENT_LIMITS_IV", &explicit)
	if err != nil || !ok || !reflect.DeepEqual(in, explicit) {
		t.Errorf("LoadEncryptedData(explicit iv) = %v, %v", ok, err)
	}
}

func TestEncryptedData_Edges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")

	var out map[string]int
	if ok, err := s.LoadEncryptedData(ctx, "missing", "", &out); ok || err != nil {
		t.Errorf("LoadEncryptedData(missing) = %v, %v, want false, nil", ok, err)
	}

	if _, err := s.StoreEncryptedData(ctx, map[string]int{"a": 1}, "half"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Remove(ctx, "half_IV"); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.LoadEncryptedData(ctx, "half", "", &out); ok || err != nil {
		t.Errorf("LoadEncryptedData(no iv) = %v, %v, want false, nil", ok, err)
	}

	if _, err := s.StoreEncryptedData(ctx, map[string]int{"a": 1}, "data"); err != nil {
		t.Fatal(err)
	}

	keyless := New(f.store)
	if ok, err := keyless.StoreEncryptedData(ctx, 1, "other"); ok || err != nil {
		t.Errorf("keyless StoreEncryptedData() = %v, %v, want false, nil", ok, err)
	}
	if _, err := keyless.LoadEncryptedData(ctx, "data", "", &out); !errors.Is(err, ErrNoEncryptionKey) {
		t.Errorf("keyless LoadEncryptedData() error = %v, want ErrNoEncryptionKey", err)
	}

	other := f.session()
	if _, err := other.Setup(ctx, SetupParams{APIKey: testAPIKey, EncryptionKey: []byte("fedcba9876543210")}); err != nil {
		t.Fatal(err)
	}
	if _, err := other.LoadEncryptedData(ctx, "data", "", &out); !errors.Is(err, symmetric.ErrDecryption) {
		t.Errorf("LoadEncryptedData(wrong key) error = %v, want ErrDecryption", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, "SANDBOX")
	f.handshake(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.VerifySessionInstallation()
				s.State()
				_, _ = s.SignRequest([]byte("body"))
				_ = s.AuthToken()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := s.StoreSession(ctx); err != nil {
					t.Error(err)
				}
				if _, err := s.LoadSession(ctx); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	if s.State() != StateSessionActive {
		t.Errorf("State() = %s after concurrent access", s.State())
	}
}

func decryptStored(t *testing.T, f *fixture, keys StorageKeys) map[string]json.RawMessage {
	t.Helper()
	ctx := context.Background()
	ct, err := f.store.Get(ctx, keys.Session)
	if err != nil {
		t.Fatal(err)
	}
	iv, err := f.store.Get(ctx, keys.IV)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := symmetric.DecryptString(ct, []byte(testEncKey), iv)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(plain), &raw); err != nil {
		t.Fatal(err)
	}
	return raw
}

func writeRecord(t *testing.T, f *fixture, keys StorageKeys, rec record) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	ct, iv, err := symmetric.EncryptString(string(data), []byte(testEncKey))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := f.store.Set(ctx, keys.Session, ct); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(ctx, keys.IV, iv); err != nil {
		t.Fatal(err)
	}
}
