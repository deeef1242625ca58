package extension

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/krypkey/krypkey/internal/client/api"
	"github.com/krypkey/krypkey/internal/client/store"
	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/qr"
	"github.com/krypkey/krypkey/internal/transit"
)

type mockAPI struct {
	mu sync.Mutex

	CreateSessionFunc func(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error)
	CheckSessionFunc  func(ctx context.Context, sessionID string) (*api.CheckResult, error)
	AddPendingFunc    func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error)
	GetPendingFunc    func(ctx context.Context, sessionID string) ([]models.PendingCredential, error)
	HasPendingFunc    func(ctx context.Context, sessionID string) (bool, error)
	LogoutFunc        func(ctx context.Context, sessionID string) error

	token string
}

func (m *mockAPI) CreateSession(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, sessionID, deviceName, expirySeconds)
	}
	now := time.Now()
	return &models.Session{SessionID: sessionID, DeviceName: deviceName, CreatedAt: now, ExpiresAt: now.Add(2 * time.Hour)}, nil
}
func (m *mockAPI) CheckSession(ctx context.Context, sessionID string) (*api.CheckResult, error) {
	return m.CheckSessionFunc(ctx, sessionID)
}
func (m *mockAPI) AddPending(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
	return m.AddPendingFunc(ctx, sessionID, title, payload, category)
}
func (m *mockAPI) GetPending(ctx context.Context, sessionID string) ([]models.PendingCredential, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, sessionID)
	}
	return nil, nil
}
func (m *mockAPI) HasPending(ctx context.Context, sessionID string) (bool, error) {
	return m.HasPendingFunc(ctx, sessionID)
}
func (m *mockAPI) Logout(ctx context.Context, sessionID string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, sessionID)
	}
	return nil
}
func (m *mockAPI) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func fastConfig() Config {
	return Config{
		DeviceName:   "Test Extension",
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}
}

func waitForState(t *testing.T, c *PollingClient, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %v; want %v", c.State(), want)
}

func TestStartPairing_DisplaysDecodableCode(t *testing.T) {
	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{}, nil
		},
	}
	c := New(a, store.NewMemStore(), transit.XOR{}, fastConfig())

	code, err := c.StartPairing(context.Background())
	if err != nil {
		t.Fatalf("StartPairing returned error: %v", err)
	}
	if c.State() != StateAwaitingScan {
		t.Errorf("state = %v; want awaiting-scan", c.State())
	}
	p, err := qr.Decode(code)
	if err != nil {
		t.Fatalf("displayed code does not decode: %v", err)
	}
	if p.SessionID != c.SessionID() {
		t.Errorf("code session = %q; client session = %q", p.SessionID, c.SessionID())
	}
}

func TestPoll_CompletesPairingAndCachesSecret(t *testing.T) {
	s := store.NewMemStore()
	a := &mockAPI{}
	var polls int
	var pollMu sync.Mutex
	a.CheckSessionFunc = func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
		pollMu.Lock()
		polls++
		n := polls
		pollMu.Unlock()
		if n < 3 {
			return &api.CheckResult{}, nil
		}
		return &api.CheckResult{
			Authenticated: true,
			Token:         "tok-1",
			Username:      "alice",
			RootSecret:    "root-secret",
		}, nil
	}
	c := New(a, s, transit.XOR{}, fastConfig())

	if _, err := c.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing returned error: %v", err)
	}
	waitForState(t, c, StateAuthenticated)

	wire, ok := s.Get("rootSecret")
	if !ok {
		t.Fatal("root secret not cached")
	}
	if wire == "root-secret" {
		t.Error("root secret cached in the clear")
	}
	plain, err := transit.DecryptString(transit.XOR{}, wire, "tok-1")
	if err != nil || plain != "root-secret" {
		t.Errorf("cached secret does not reveal under the token: %q %v", plain, err)
	}

	if err := c.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	if c.State() != StateUnlocked || c.RootSecret() != "root-secret" {
		t.Errorf("state = %v, secret = %q", c.State(), c.RootSecret())
	}
}

func TestPoll_TimesOutBackToIdle(t *testing.T) {
	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{}, nil
		},
	}
	cfg := fastConfig()
	cfg.PollTimeout = 30 * time.Millisecond
	c := New(a, store.NewMemStore(), transit.XOR{}, cfg)

	if _, err := c.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing returned error: %v", err)
	}
	waitForState(t, c, StateIdle)
}

func TestPoll_ExpiredSessionBackToIdle(t *testing.T) {
	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return nil, kerr.NotFoundf("session %s", sessionID)
		},
	}
	c := New(a, store.NewMemStore(), transit.XOR{}, fastConfig())

	if _, err := c.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing returned error: %v", err)
	}
	waitForState(t, c, StateIdle)
}

func TestStartPairing_SupersedesPriorAttempt(t *testing.T) {
	var mu sync.Mutex
	firstSession := ""
	release := make(chan struct{})

	a := &mockAPI{}
	a.CheckSessionFunc = func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
		mu.Lock()
		first := firstSession
		mu.Unlock()
		if sessionID == first {
			// The stale attempt's claim arrives late.
			<-release
			return &api.CheckResult{Authenticated: true, Token: "stale-token"}, nil
		}
		return &api.CheckResult{}, nil
	}
	c := New(a, store.NewMemStore(), transit.XOR{}, fastConfig())

	if _, err := c.StartPairing(context.Background()); err != nil {
		t.Fatalf("first StartPairing: %v", err)
	}
	mu.Lock()
	firstSession = c.SessionID()
	mu.Unlock()

	if _, err := c.StartPairing(context.Background()); err != nil {
		t.Fatalf("second StartPairing: %v", err)
	}
	second := c.SessionID()
	close(release)

	time.Sleep(50 * time.Millisecond)
	if c.State() == StateAuthenticated {
		t.Error("stale attempt completed pairing")
	}
	if c.SessionID() != second {
		t.Errorf("session = %q; want the second attempt %q", c.SessionID(), second)
	}
}

func TestCapture_CiphersPayloadUnderToken(t *testing.T) {
	var gotPayload string
	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{Authenticated: true, Token: "tok-1", Username: "alice", RootSecret: "rs"}, nil
		},
		AddPendingFunc: func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
			gotPayload = payload
			return "p1", nil
		},
	}
	c := New(a, store.NewMemStore(), transit.XOR{}, fastConfig())
	_, _ = c.StartPairing(context.Background())
	waitForState(t, c, StateAuthenticated)

	fields := models.LoginFields{Username: "a@x.com", Password: "p1"}
	if err := c.Capture(context.Background(), "Acme", fields, models.CategoryLogin); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if !transit.IsWireForm(gotPayload) {
		t.Fatalf("payload %q is not transit wire form", gotPayload)
	}
	plain, err := transit.DecryptString(transit.XOR{}, gotPayload, "tok-1")
	if err != nil {
		t.Fatalf("payload does not decrypt: %v", err)
	}
	if plain == "" || plain[0] != '{' {
		t.Errorf("deciphered payload is not a JSON document: %q", plain)
	}
}

func TestCapture_QueuesOnTransientAndFlushes(t *testing.T) {
	s := store.NewMemStore()
	var mu sync.Mutex
	broken := true
	var delivered []string

	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{Authenticated: true, Token: "tok-1"}, nil
		},
		AddPendingFunc: func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if broken {
				return "", kerr.Transientf("broker unreachable")
			}
			delivered = append(delivered, title)
			return "p1", nil
		},
	}
	c := New(a, s, transit.XOR{}, fastConfig())
	_, _ = c.StartPairing(context.Background())
	waitForState(t, c, StateAuthenticated)

	if err := c.Capture(context.Background(), "Acme", models.LoginFields{Password: "p"}, models.CategoryLogin); err != nil {
		t.Fatalf("Capture should queue on transient failure, got %v", err)
	}
	if raw, ok := s.Get("offlineQueue"); !ok || raw == "[]" || raw == "" {
		t.Fatalf("offline queue not persisted: %q", raw)
	}

	mu.Lock()
	broken = false
	mu.Unlock()
	if err := c.FlushQueue(context.Background()); err != nil {
		t.Fatalf("FlushQueue returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "Acme" {
		t.Errorf("delivered = %v; want the queued capture", delivered)
	}
}

func TestCapture_BeforePairingQueuesLocally(t *testing.T) {
	s := store.NewMemStore()
	var mu sync.Mutex
	paired := false
	type delivery struct{ title, payload string }
	var delivered []delivery

	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{Authenticated: true, Token: "tok-1", Username: "alice", RootSecret: "rs"}, nil
		},
		AddPendingFunc: func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if !paired {
				t.Error("capture reached the relay before pairing")
			}
			delivered = append(delivered, delivery{title, payload})
			return "p1", nil
		},
	}
	c := New(a, s, transit.XOR{}, fastConfig())

	fields := models.LoginFields{Username: "a@x.com", Password: "p1"}
	if err := c.Capture(context.Background(), "Acme", fields, models.CategoryLogin); err != nil {
		t.Fatalf("Capture before pairing should queue, got %v", err)
	}
	if raw, ok := s.Get("offlineQueue"); !ok || raw == "[]" || raw == "" {
		t.Fatalf("offline queue not persisted: %q", raw)
	}

	mu.Lock()
	paired = true
	mu.Unlock()
	if _, err := c.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing returned error: %v", err)
	}
	waitForState(t, c, StateAuthenticated)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0].title != "Acme" {
		t.Fatalf("delivered = %+v; want the queued capture", delivered)
	}
	if !transit.IsWireForm(delivered[0].payload) {
		t.Fatalf("flushed payload %q left the process unciphered", delivered[0].payload)
	}
	plain, err := transit.DecryptString(transit.XOR{}, delivered[0].payload, "tok-1")
	if err != nil || plain == "" || plain[0] != '{' {
		t.Errorf("flushed payload does not decrypt to the field document: %q %v", plain, err)
	}
}

func TestFlushQueue_SkipsTitlesAlreadyPendingServerSide(t *testing.T) {
	var mu sync.Mutex
	broken := true

	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{Authenticated: true, Token: "tok-1"}, nil
		},
		GetPendingFunc: func(ctx context.Context, sessionID string) ([]models.PendingCredential, error) {
			return []models.PendingCredential{{ID: "p0", SessionID: sessionID, Title: " ACME "}}, nil
		},
	}
	a.AddPendingFunc = func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if broken {
			return "", kerr.Transientf("broker unreachable")
		}
		t.Errorf("title %q relayed again despite a pending twin", title)
		return "p1", nil
	}
	c := New(a, store.NewMemStore(), transit.XOR{}, fastConfig())
	_, _ = c.StartPairing(context.Background())
	waitForState(t, c, StateAuthenticated)

	if err := c.Capture(context.Background(), "Acme", models.LoginFields{Password: "p"}, models.CategoryLogin); err != nil {
		t.Fatalf("Capture should queue on transient failure, got %v", err)
	}

	mu.Lock()
	broken = false
	mu.Unlock()
	if err := c.FlushQueue(context.Background()); err != nil {
		t.Fatalf("FlushQueue returned error: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 0 {
		t.Errorf("queue = %+v; want the duplicate consumed", c.queue)
	}
}

func TestFlushQueue_KeepsCaptureEnqueuedDuringFlush(t *testing.T) {
	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{Authenticated: true, Token: "tok-1"}, nil
		},
	}
	c := New(a, store.NewMemStore(), transit.XOR{}, fastConfig())

	var once sync.Once
	a.AddPendingFunc = func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
		// A new capture lands while the flush is mid-pass.
		once.Do(func() {
			c.enqueue(pendingCapture{Title: "Late", Payload: "1,2,3", Category: models.CategoryLogin})
		})
		return "p1", nil
	}
	_, _ = c.StartPairing(context.Background())
	waitForState(t, c, StateAuthenticated)

	c.enqueue(pendingCapture{Title: "Early", Payload: "4,5,6", Category: models.CategoryLogin})
	if err := c.FlushQueue(context.Background()); err != nil {
		t.Fatalf("FlushQueue returned error: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 1 || c.queue[0].Title != "Late" {
		t.Errorf("queue = %+v; want the mid-flush capture kept", c.queue)
	}
}

func TestNew_ResumesPersistedSession(t *testing.T) {
	s := store.NewMemStore()
	_ = s.Set("token", "tok-1")
	_ = s.Set("sessionId", "sess-1")

	a := &mockAPI{}
	c := New(a, s, transit.XOR{}, fastConfig())

	if c.State() != StateAuthenticated || c.SessionID() != "sess-1" {
		t.Errorf("state = %v, session = %q; want resumed pairing", c.State(), c.SessionID())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "tok-1" {
		t.Errorf("api token = %q; want tok-1", a.token)
	}
}

func TestLogout_WipesState(t *testing.T) {
	s := store.NewMemStore()
	a := &mockAPI{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*api.CheckResult, error) {
			return &api.CheckResult{Authenticated: true, Token: "tok-1", RootSecret: "rs"}, nil
		},
	}
	c := New(a, s, transit.XOR{}, fastConfig())
	_, _ = c.StartPairing(context.Background())
	waitForState(t, c, StateAuthenticated)

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if c.State() != StateIdle || c.SessionID() != "" {
		t.Errorf("state = %v, session = %q; want idle and empty", c.State(), c.SessionID())
	}
	if _, ok := s.Get("token"); ok {
		t.Error("token survived logout")
	}
}
