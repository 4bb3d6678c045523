package web

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/heirloom/internal/vault/service"
	"github.com/louisbranch/heirloom/internal/vault/storage/memory"
)

type apiFixture struct {
	handler http.Handler
	priv    ed25519.PrivateKey
	clock   *fixtureClock
}

type fixtureClock struct {
	now time.Time
}

func (c *fixtureClock) Now() time.Time {
	return c.now
}

func (c *fixtureClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newAPIFixture(t *testing.T, initialDeposit uint64) *apiFixture {
	t.Helper()
	pub, priv := grantKeys(t)
	clock := &fixtureClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	store := memory.NewStore()
	v, err := service.Construct(context.Background(), store, "owner-1", "heir-1", initialDeposit, clock.Now)
	if err != nil {
		t.Fatalf("construct vault: %v", err)
	}
	svc, err := service.NewService(store, v.ID, service.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	grants := GrantConfig{
		Issuer:   "heirloom-test",
		Audience: "vaultd",
		Key:      pub,
		Now:      clock.Now,
	}
	handler, err := NewHandler(svc, grants)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &apiFixture{handler: handler, priv: priv, clock: clock}
}

func (f *apiFixture) request(t *testing.T, method, path, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if subject != "" {
		grant := signGrant(t, f.priv, f.clock.now, grantOverrides{subject: subject})
		req.Header.Set("Authorization", "Bearer "+grant)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestGetVaultRequiresGrant(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.request(t, http.MethodGet, "/v1/vault", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetVaultReturnsRecord(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.clock.Advance(time.Hour)

	rec := f.request(t, http.MethodGet, "/v1/vault", "anyone", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["owner"] != "owner-1" || body["heir"] != "heir-1" {
		t.Fatalf("unexpected principals: %v", body)
	}
	if body["balance"] != "100" {
		t.Fatalf("expected balance \"100\", got %v", body["balance"])
	}
	if body["inactivity_elapsed_seconds"] != float64(3600) {
		t.Fatalf("expected 3600 elapsed seconds, got %v", body["inactivity_elapsed_seconds"])
	}
}

func TestDepositCreditsBalance(t *testing.T) {
	f := newAPIFixture(t, 0)

	rec := f.request(t, http.MethodPost, "/v1/vault/deposit", "stranger", `{"amount":"42"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["balance"] != "42" {
		t.Fatalf("expected balance \"42\", got %v", body["balance"])
	}
}

func TestReceiveCreditsBalance(t *testing.T) {
	f := newAPIFixture(t, 10)

	rec := f.request(t, http.MethodPost, "/v1/vault/receive", "sender-1", `{"amount":"5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["balance"] != "15" {
		t.Fatalf("expected balance \"15\", got %v", body["balance"])
	}
}

func TestDepositRejectsBadAmount(t *testing.T) {
	f := newAPIFixture(t, 0)

	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing amount", body: "{}"},
		{name: "negative", body: `{"amount":"-5"}`},
		{name: "not a number", body: `{"amount":"many"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.request(t, http.MethodPost, "/v1/vault/deposit", "stranger", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestWithdrawByOwner(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.clock.Advance(time.Hour)

	rec := f.request(t, http.MethodPost, "/v1/vault/withdraw", "owner-1", `{"amount":"40"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["balance"] != "60" {
		t.Fatalf("expected balance \"60\", got %v", body["balance"])
	}
	if body["inactivity_elapsed_seconds"] != float64(0) {
		t.Fatalf("expected timer reset, got %v", body["inactivity_elapsed_seconds"])
	}
}

func TestWithdrawByNonOwnerForbidden(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.request(t, http.MethodPost, "/v1/vault/withdraw", "heir-1", `{"amount":"1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWithdrawOverBalanceConflicts(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.request(t, http.MethodPost, "/v1/vault/withdraw", "owner-1", `{"amount":"101"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestClaimBeforeWindowPreconditionFails(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.clock.Advance(29 * 24 * time.Hour)

	rec := f.request(t, http.MethodPost, "/v1/vault/claim", "heir-1", `{"new_heir":"heir-2"}`)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["inactivity_elapsed_seconds"] != float64(29*24*3600) {
		t.Fatalf("expected 29 days elapsed, got %v", body["inactivity_elapsed_seconds"])
	}
	if body["inactivity_period_seconds"] != float64(2_592_000) {
		t.Fatalf("expected period 2592000, got %v", body["inactivity_period_seconds"])
	}
}

func TestClaimAfterWindowSucceeds(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.clock.Advance(31 * 24 * time.Hour)

	rec := f.request(t, http.MethodPost, "/v1/vault/claim", "heir-1", `{"new_heir":"heir-2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["owner"] != "heir-1" || body["heir"] != "heir-2" {
		t.Fatalf("unexpected principals after claim: %v", body)
	}
}

func TestClaimByNonHeirForbidden(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.clock.Advance(31 * 24 * time.Hour)

	rec := f.request(t, http.MethodPost, "/v1/vault/claim", "stranger", `{"new_heir":"heir-2"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestClaimSelfInheritanceRejected(t *testing.T) {
	f := newAPIFixture(t, 100)
	f.clock.Advance(31 * 24 * time.Hour)

	rec := f.request(t, http.MethodPost, "/v1/vault/claim", "heir-1", `{"new_heir":"heir-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListEvents(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.request(t, http.MethodPost, "/v1/vault/deposit", "sender-1", `{"amount":"5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit failed: %d", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/v1/vault/events", "anyone", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Events []struct {
			Seq     uint64          `json:"seq"`
			Type    string          `json:"type"`
			ActorID string          `json:"actor_id"`
			Payload json.RawMessage `json:"payload"`
		} `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(payload.Events))
	}
	if payload.Events[0].Seq != 1 || payload.Events[1].Seq != 2 {
		t.Fatalf("unexpected sequence: %+v", payload.Events)
	}
	if payload.Events[1].ActorID != "sender-1" {
		t.Fatalf("expected actor sender-1, got %q", payload.Events[1].ActorID)
	}
}

func TestListEventsPaginationParams(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.request(t, http.MethodGet, "/v1/vault/events?after_seq=oops", "anyone", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad after_seq, got %d", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/v1/vault/events?limit=0", "anyone", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/v1/vault/events?after_seq=1&limit=10", "anyone", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, 0)

	rec := f.request(t, http.MethodGet, "/up", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
