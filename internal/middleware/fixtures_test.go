package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/session"
)

// testPortal はプロフィールAPIを模したサーバーとセッションマネージャーの組。
type testPortal struct {
	storage *backend.MemoryStorage
	manager *session.Manager
}

// newTestPortal はprofilesに登録されたプロフィールを返すバックエンドを起動する。
func newTestPortal(t *testing.T, profiles ...model.Profile) *testPortal {
	t.Helper()

	byID := make(map[string]model.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/profiles" {
			http.NotFound(w, r)
			return
		}
		id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
		p, ok := byID[id]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotAcceptable)
			json.NewEncoder(w).Encode(map[string]string{"code": "PGRST116", "message": "no rows"})
			return
		}
		json.NewEncoder(w).Encode(p)
	}))
	t.Cleanup(server.Close)

	storage := backend.NewMemoryStorage()
	svc := backend.NewService(backend.Config{URL: server.URL, AnonKey: "anon", Timeout: time.Second}, storage)
	m := session.NewManager(svc, nil)
	t.Cleanup(m.Close)

	return &testPortal{storage: storage, manager: m}
}

// signIn は認証済みのバックエンドセッションを保存し、そのWebセッションIDを返す。
func (p *testPortal) signIn(t *testing.T, userID, email string) string {
	t.Helper()

	id, err := session.NewID()
	if err != nil {
		t.Fatalf("failed to issue session id: %v", err)
	}
	data, err := json.Marshal(model.AuthSession{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.Identity{ID: userID, Email: email},
	})
	if err != nil {
		t.Fatalf("failed to marshal session: %v", err)
	}
	if err := p.storage.SetItem(context.Background(), id, data); err != nil {
		t.Fatalf("failed to store session: %v", err)
	}
	return id
}

func clientProfile(id string) model.Profile {
	return model.Profile{ID: id, FullName: model.StringPtr("Marco Rossi"), KYCStatus: model.KYCApproved, Role: model.RoleClient}
}

func adminProfile(id string) model.Profile {
	return model.Profile{ID: id, FullName: model.StringPtr("Amministratore E-Bridge"), KYCStatus: model.KYCApproved, Role: model.RoleAdmin}
}

func withSessionCookie(req *http.Request, id string) *http.Request {
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: id})
	return req
}
