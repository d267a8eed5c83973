package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"nettie/internal/database"
	"nettie/internal/models"
	"nettie/internal/repository"
	"nettie/internal/security"
	"nettie/internal/service"
	"nettie/internal/store"
)

type apiFixture struct {
	server   *httptest.Server
	store    *store.MemoryStore
	pairing  *service.PairingService
	presence *service.PresenceService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	prefs := repository.NewPrefsRepository(db)
	if err := prefs.SaveIdentity(&models.Identity{
		Role:        models.RoleGuardian,
		GuardianID:  "g1",
		HouseholdID: "g1",
		LinkedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("Failed to save identity: %v", err)
	}

	st := store.NewMemoryStore()
	tokens := repository.NewTokenRepository(st)
	members := repository.NewMembershipRepository(st)
	consents := repository.NewConsentRepository(st)
	escalations := repository.NewEscalationRepository(st)
	presence := repository.NewPresenceRepository(st)

	authService := service.NewAuthService(prefs, "test-secret", time.Hour)
	if err := authService.SetPasscode("4812"); err != nil {
		t.Fatalf("SetPasscode failed: %v", err)
	}
	pairingService := service.NewPairingService(tokens, members, 0)
	consentService := service.NewConsentService(consents, members)
	escalationService := service.NewEscalationService(escalations, members, presence)
	presenceService := service.NewPresenceService(presence, repository.NewLocationRepository(st))

	middleware := NewMiddleware(authService, security.NewRateLimiter(100, time.Minute))
	handler := NewGuardianHandler(authService, pairingService, consentService, escalationService, presenceService, middleware)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, store: st, pairing: pairingService, presence: presenceService}
}

func (f *apiFixture) login(t *testing.T) string {
	t.Helper()
	resp := f.request(t, "POST", "/api/session", "", map[string]string{"passcode": "4812"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login status = %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	return body.Token
}

func (f *apiFixture) request(t *testing.T, method, path, bearer string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestLoginRejectsWrongPasscode(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, "POST", "/api/session", "", map[string]string{"passcode": "wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, "POST", "/api/pairing/tokens", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Missing token status = %d, want 401", resp.StatusCode)
	}

	resp = f.request(t, "GET", "/api/children", "garbage-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Garbage token status = %d, want 401", resp.StatusCode)
	}
}

func TestIssueTokenAndListChildren(t *testing.T) {
	f := newAPIFixture(t)
	session := f.login(t)

	resp := f.request(t, "POST", "/api/pairing/tokens", session, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Issue status = %d", resp.StatusCode)
	}
	var issued struct {
		Token   string `json:"token"`
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		t.Fatalf("Failed to decode issue response: %v", err)
	}
	if issued.Token == "" || issued.Payload == "" {
		t.Fatalf("Incomplete issue response: %+v", issued)
	}

	// A child device redeems the payload out-of-band, then reports where
	// it is
	if _, err := f.pairing.RedeemScan(context.Background(), issued.Payload, "c1"); err != nil {
		t.Fatalf("RedeemScan failed: %v", err)
	}
	if err := f.presence.ReportLocation(context.Background(), "c1", 40.7128, -74.006); err != nil {
		t.Fatalf("ReportLocation failed: %v", err)
	}

	resp = f.request(t, "GET", "/api/children", session, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("List status = %d", resp.StatusCode)
	}
	var list struct {
		Children []struct {
			ChildID  string           `json:"childId"`
			Location *models.Location `json:"location"`
		} `json:"children"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode children: %v", err)
	}
	if len(list.Children) != 1 || list.Children[0].ChildID != "c1" {
		t.Fatalf("Unexpected children %+v", list.Children)
	}
	loc := list.Children[0].Location
	if loc == nil || loc.Latitude != 40.7128 || loc.Longitude != -74.006 {
		t.Errorf("Location not reported: %+v", loc)
	}
}

func TestConsentRoutes(t *testing.T) {
	f := newAPIFixture(t)
	session := f.login(t)

	// Link c1 so consent writes are permitted
	if _, err := f.pairing.RedeemScan(context.Background(), "nettielink://g1", "c1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	resp := f.request(t, "PUT", "/api/children/c1/consent/Discord", session, map[string]bool{"granted": false})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("SetConsent status = %d", resp.StatusCode)
	}

	// Unknown capability is a 400
	resp = f.request(t, "PUT", "/api/children/c1/consent/Minecraft", session, map[string]bool{"granted": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Unknown capability status = %d, want 400", resp.StatusCode)
	}

	// Unlinked child is a 404
	resp = f.request(t, "GET", "/api/children/ghost/consent", session, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Unlinked child status = %d, want 404", resp.StatusCode)
	}

	resp = f.request(t, "GET", "/api/children/c1/consent", session, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Overview status = %d", resp.StatusCode)
	}
	var overview struct {
		Consent []consentView `json:"consent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&overview); err != nil {
		t.Fatalf("Failed to decode overview: %v", err)
	}
	if len(overview.Consent) != len(models.Capabilities()) {
		t.Fatalf("Expected %d records, got %d", len(models.Capabilities()), len(overview.Consent))
	}
	for _, rec := range overview.Consent {
		if rec.Capability == "Discord" && rec.Granted {
			t.Error("Discord restriction not reflected")
		}
	}
}

func TestEscalationRoute(t *testing.T) {
	f := newAPIFixture(t)
	session := f.login(t)

	if _, err := f.pairing.RedeemScan(context.Background(), "nettielink://g1", "c1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	escalations := repository.NewEscalationRepository(f.store)
	base := time.Now().UnixMilli()
	for i := 0; i < 8; i++ {
		_, err := escalations.Append(context.Background(), &models.EscalationEvent{
			HouseholdID: "g1",
			ChildID:     "c1",
			Timestamp:   base + int64(i*1000),
			Category:    fmt.Sprintf("cat-%d", i),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	resp := f.request(t, "GET", "/api/children/c1/escalations?limit=3", session, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Escalations status = %d", resp.StatusCode)
	}
	var body struct {
		Events []escalationView `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode events: %v", err)
	}
	if len(body.Events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(body.Events))
	}
	if body.Events[0].Category != "cat-7" {
		t.Errorf("Expected newest first, got %s", body.Events[0].Category)
	}

	// Bad limit is a 400
	resp = f.request(t, "GET", "/api/children/c1/escalations?limit=zero", session, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Bad limit status = %d, want 400", resp.StatusCode)
	}
}
