package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/config"
	"amightyclaw/internal/store"
)

func TestTokenRoundTrip(t *testing.T) {
	token := signToken("secret", time.Now())
	if err := verifyToken("secret", token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token := signToken("secret", time.Now())
	if err := verifyToken("other", token); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestTokenTampered(t *testing.T) {
	token := signToken("secret", time.Now())
	parts := strings.SplitN(token, ".", 2)
	forged := "9999999999." + parts[1]
	if err := verifyToken("secret", forged); err == nil {
		t.Fatal("expiry tampering must invalidate the signature")
	}
}

func TestTokenExpired(t *testing.T) {
	token := signToken("secret", time.Now().Add(-tokenTTL-time.Minute))
	if err := verifyToken("secret", token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cfg := config.Config{
		Password:       "hunter2",
		TokenSecret:    "test-secret",
		DefaultProfile: "main",
		Profiles: map[string]config.ProfileConfig{
			"main": {Provider: "anthropic", Model: "m", MaxTokensPerDay: 1000},
		},
	}
	return NewServer(cfg, bus.New(), st), st
}

func TestLoginIssuesToken(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler()

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"password":"hunter2"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := verifyToken("test-secret", out.Token); err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler()

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"password":"nope"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestManagementRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func authedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+signToken("test-secret", time.Now()))
	return r
}

func TestConversationRoutes(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler()

	if err := st.EnsureConversation("c1", "webchat"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := st.AppendMessage("c1", "user", "hello there", "main", 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/conversations", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"c1"`) {
		t.Fatalf("list conversations: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/conversations/c1/messages", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hello there") {
		t.Fatalf("list messages: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/conversations/missing/messages", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodDelete, "/api/conversations/c1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if _, err := st.GetConversation("c1"); err == nil {
		t.Fatal("conversation should be gone after DELETE")
	}
}

func TestFactRoutes(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/facts",
		[]byte(`{"content":"prefers dark roast","category":"preference"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add fact: %d %s", rec.Code, rec.Body.String())
	}
	var fact store.Fact
	if err := json.Unmarshal(rec.Body.Bytes(), &fact); err != nil {
		t.Fatalf("decode fact: %v", err)
	}
	if fact.Source != "manual" {
		t.Fatalf("REST facts must be tagged manual, got %q", fact.Source)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/facts?q=dark+roast", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "dark roast") {
		t.Fatalf("search facts: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodDelete, "/api/facts/"+fact.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete fact: %d %s", rec.Code, rec.Body.String())
	}
	if _, err := st.GetFact(fact.ID); err == nil {
		t.Fatal("fact should be gone after DELETE")
	}
}

func TestCronRoutesWithoutScheduler(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/cron", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a scheduler, got %d", rec.Code)
	}
}

func TestProfilesRouteHidesKeys(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Profiles["main"] = config.ProfileConfig{
		Provider: "anthropic", Model: "m", MaxTokensPerDay: 1000, APIKey: "sk-sensitive",
	}
	h := srv.handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/profiles", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("profiles: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-sensitive") {
		t.Fatal("API key leaked through the profiles route")
	}
	if !strings.Contains(rec.Body.String(), `"default":true`) {
		t.Fatalf("default profile not flagged: %s", rec.Body.String())
	}
}
