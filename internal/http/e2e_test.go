package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradepost/internal/config"
	"tradepost/internal/domain"
	"tradepost/internal/protocol"
	"tradepost/internal/service/audit"
	"tradepost/internal/service/market"
	"tradepost/internal/store/memory"
)

func newAPI(t *testing.T) (*httptest.Server, *market.Market, *audit.Journal) {
	t.Helper()
	cfg := config.Config{
		AdminUsername: "admin",
		AdminPassword: "pw",
		JWTSecret:     "jwt-secret",
	}
	st, err := memory.NewStore([]domain.Item{{Name: "sword", BuyPrice: 100, SellPrice: 40}}, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	journal := audit.NewJournal(16, nil)
	m := market.New(st, market.Settings{MinBonus: 150, MaxBonus: 150, SaveFrequency: 5}, market.WithRecorder(journal))
	api := httptest.NewServer(NewServer(cfg, m, journal).Router())
	t.Cleanup(api.Close)
	return api, m, journal
}

func TestE2E_AdminInspectsMarket(t *testing.T) {
	api, m, _ := newAPI(t)
	client := &http.Client{Timeout: 5 * time.Second}
	ctx := context.Background()

	alice, resp := m.LogIn(ctx, "alice")
	if !resp.Success {
		t.Fatalf("login alice: %s", resp.Message)
	}
	if r := m.Handle(ctx, alice, protocol.TradeRequest(protocol.PurchaseItem, "sword", 1)); !r.Success {
		t.Fatalf("purchase: %s", r.Message)
	}
	bob, _ := m.LogIn(ctx, "bob")
	m.LogOut(ctx, bob)

	login := postJSON(t, client, api.URL+"/admin/login", map[string]string{
		"username": "admin",
		"password": "pw",
	}, "")
	token := strField(t, login, "token")
	if token == "" {
		t.Fatalf("expected token, got %#v", login)
	}

	users := getJSON(t, client, api.URL+"/admin/users", token)
	if n, _ := numField(users, "count"); n != 2 {
		t.Fatalf("expected 2 users, got %#v", users)
	}
	list, _ := users["users"].([]interface{})
	first, _ := list[0].(map[string]interface{})
	if strField(t, first, "name") != "alice" || !boolField(first, "active") {
		t.Fatalf("unexpected first user %#v", first)
	}
	if credits, _ := numField(first, "credits"); credits != 50 {
		t.Fatalf("expected alice to hold 50 credits, got %v", credits)
	}

	sessions := getJSON(t, client, api.URL+"/admin/sessions", token)
	if n, _ := numField(sessions, "count"); n != 1 {
		t.Fatalf("expected one active session, got %#v", sessions)
	}

	items := getJSON(t, client, api.URL+"/admin/items", token)
	if n, _ := numField(items, "count"); n != 1 {
		t.Fatalf("expected one item, got %#v", items)
	}

	events := getJSON(t, client, api.URL+"/admin/events?limit=2", token)
	if n, _ := numField(events, "count"); n != 2 {
		t.Fatalf("expected 2 events, got %#v", events)
	}
	latest, _ := events["events"].([]interface{})[0].(map[string]interface{})
	if strField(t, latest, "event_type") != string(domain.EventStoreCommitted) {
		t.Fatalf("expected newest event to be the logout commit, got %#v", latest)
	}

	commit := postJSON(t, client, api.URL+"/admin/commit", map[string]string{}, token)
	if !boolField(commit, "ok") {
		t.Fatalf("expected commit ok, got %#v", commit)
	}
}

func TestE2E_AdminRoutesRequireToken(t *testing.T) {
	api, _, _ := newAPI(t)
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/admin/users", "/admin/sessions", "/admin/events"} {
		resp, err := client.Get(api.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, api.URL+"/admin/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}

	raw, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, err = client.Post(api.URL+"/admin/login", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", resp.StatusCode)
	}
}

func TestE2E_HealthAndMetrics(t *testing.T) {
	api, _, _ := newAPI(t)
	client := &http.Client{Timeout: 5 * time.Second}

	health := getJSON(t, client, api.URL+"/health", "")
	if strField(t, health, "status") != "ok" {
		t.Fatalf("unexpected health %#v", health)
	}

	resp, err := client.Get(api.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tradepost_admin_requests_total") {
		t.Fatalf("metrics output misses admin counter")
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, bearerToken string) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	return do(t, client, req)
}

func getJSON(t *testing.T, client *http.Client, url string, bearerToken string) map[string]interface{} {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	return do(t, client, req)
}

func do(t *testing.T, client *http.Client, req *http.Request) map[string]interface{} {
	t.Helper()
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var data map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&data)
		t.Fatalf("non-2xx status=%d body=%#v", resp.StatusCode, data)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func strField(t *testing.T, m map[string]interface{}, key string) string {
	t.Helper()
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func numField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}
