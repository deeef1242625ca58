package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/service"
)

type mockBrokerService struct {
	CreateSessionFunc       func(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error)
	AuthenticateSessionFunc func(ctx context.Context, sessionID, principal, deviceName, rootSecret string) (string, error)
	CheckSessionFunc        func(ctx context.Context, sessionID string) (*service.SessionStatus, error)
	ListSessionsFunc        func(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error)
	DeleteSessionFunc       func(ctx context.Context, sessionID, principal string) error
}

func (m *mockBrokerService) CreateSession(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error) {
	return m.CreateSessionFunc(ctx, sessionID, deviceName, expirySeconds)
}
func (m *mockBrokerService) AuthenticateSession(ctx context.Context, sessionID, principal, deviceName, rootSecret string) (string, error) {
	return m.AuthenticateSessionFunc(ctx, sessionID, principal, deviceName, rootSecret)
}
func (m *mockBrokerService) CheckSession(ctx context.Context, sessionID string) (*service.SessionStatus, error) {
	return m.CheckSessionFunc(ctx, sessionID)
}
func (m *mockBrokerService) ListSessions(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error) {
	return m.ListSessionsFunc(ctx, principal, pendingOnly)
}
func (m *mockBrokerService) DeleteSession(ctx context.Context, sessionID, principal string) error {
	return m.DeleteSessionFunc(ctx, sessionID, principal)
}

type mockRelayService struct {
	AddPendingFunc     func(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error)
	GetPendingFunc     func(ctx context.Context, sessionID, principal string) ([]models.PendingCredential, error)
	MarkSavedFunc      func(ctx context.Context, sessionID, principal string, ids []string) error
	HasPendingFunc     func(ctx context.Context, sessionID string) (bool, error)
	ProcessPendingFunc func(ctx context.Context, sessionID, principal, rootSecret string) (int, error)
}

func (m *mockRelayService) AddPending(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
	return m.AddPendingFunc(ctx, sessionID, title, payload, category)
}
func (m *mockRelayService) GetPending(ctx context.Context, sessionID, principal string) ([]models.PendingCredential, error) {
	return m.GetPendingFunc(ctx, sessionID, principal)
}
func (m *mockRelayService) MarkSaved(ctx context.Context, sessionID, principal string, ids []string) error {
	return m.MarkSavedFunc(ctx, sessionID, principal, ids)
}
func (m *mockRelayService) HasPending(ctx context.Context, sessionID string) (bool, error) {
	return m.HasPendingFunc(ctx, sessionID)
}
func (m *mockRelayService) ProcessPending(ctx context.Context, sessionID, principal, rootSecret string) (int, error) {
	return m.ProcessPendingFunc(ctx, sessionID, principal, rootSecret)
}

type mockAuthService struct {
	RegisterFunc func(ctx context.Context, username, password string) (string, error)
	LoginFunc    func(ctx context.Context, username, password string) (string, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, password string) (string, error) {
	return m.RegisterFunc(ctx, username, password)
}
func (m *mockAuthService) Login(ctx context.Context, username, password string) (string, error) {
	return m.LoginFunc(ctx, username, password)
}

type mockCredentialService struct {
	AddFunc    func(ctx context.Context, principal string, c models.Credential, rootSecret string) (models.Credential, error)
	ListFunc   func(ctx context.Context, principal, rootSecret string) ([]models.Credential, error)
	DeleteFunc func(ctx context.Context, principal, id string) error
}

func (m *mockCredentialService) Add(ctx context.Context, principal string, c models.Credential, rootSecret string) (models.Credential, error) {
	return m.AddFunc(ctx, principal, c, rootSecret)
}
func (m *mockCredentialService) List(ctx context.Context, principal, rootSecret string) ([]models.Credential, error) {
	return m.ListFunc(ctx, principal, rootSecret)
}
func (m *mockCredentialService) Delete(ctx context.Context, principal, id string) error {
	return m.DeleteFunc(ctx, principal, id)
}

// staticVerifier accepts the single token "tok-1" as principal "alice".
type staticVerifier struct{}

func (staticVerifier) VerifyToken(token string) (string, error) {
	if token != "tok-1" {
		return "", kerr.Authf("bad token")
	}
	return "alice", nil
}

// testRouter wires the mocks into a full router so tests exercise the
// real middleware chain.
func testRouter(broker *mockBrokerService, relay *mockRelayService, auth *mockAuthService, creds *mockCredentialService) http.Handler {
	if broker == nil {
		broker = &mockBrokerService{}
	}
	if relay == nil {
		relay = &mockRelayService{}
	}
	if auth == nil {
		auth = &mockAuthService{}
	}
	if creds == nil {
		creds = &mockCredentialService{}
	}
	return NewRouter(
		&UserHandler{Auth: auth},
		&SessionHandler{Broker: broker},
		&RelayHandler{Relay: relay},
		&CredentialHandler{Credentials: creds},
		staticVerifier{},
		zap.NewNop(),
	)
}
