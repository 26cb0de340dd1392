package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/config"
	"github.com/gin-gonic/gin"
)

const testAdminPass = "admin-pass"

func setupTestRouter(t *testing.T) (*gin.Engine, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.PBKDF2Iterations = 1000
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"

	router, err := buildRouter(context.Background(), conn, cfg, nil)
	if err != nil {
		t.Fatalf("buildRouter() failed: %v", err)
	}
	return router, func() { conn.Close() }
}

func basicAuth(account, credential string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(account, credential) }
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any, authorize func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorize != nil {
		authorize(req)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

// unlockAndCreateMember unlocks with the default secret and creates a standard member
func unlockAndCreateMember(t *testing.T, router *gin.Engine, account string) string {
	t.Helper()
	admin := basicAuth("admin", testAdminPass)

	w := doRequest(t, router, http.MethodPost, "/api/master-key/unlock", map[string]string{"secret": config.DefaultMasterSecret}, admin)
	expectStatus(t, w, http.StatusOK)

	w = doRequest(t, router, http.MethodPost, "/api/members", map[string]string{
		"account_name": account,
		"role":         "STANDARD",
		"credential":   account + "-pass",
	}, admin)
	expectStatus(t, w, http.StatusCreated)

	var member struct {
		ID string `json:"id"`
	}
	decode(t, w, &member)
	return member.ID
}

func TestHealth(t *testing.T) {
	router, cleanup := setupTestRouter(t)
	defer cleanup()

	w := doRequest(t, router, http.MethodGet, "/health", nil, nil)
	expectStatus(t, w, http.StatusOK)
}

func TestAuthenticationRequired(t *testing.T) {
	router, cleanup := setupTestRouter(t)
	defer cleanup()

	tests := []struct {
		name      string
		authorize func(*http.Request)
	}{
		{"no header", nil},
		{"unknown scheme", func(r *http.Request) { r.Header.Set("Authorization", "Digest abc") }},
		{"garbage token", bearer("not-a-jwt")},
		{"unknown member", basicAuth("nobody", "secret")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, "/api/circles", nil, tt.authorize)
			expectStatus(t, w, http.StatusUnauthorized)
		})
	}
}

func TestUnlockResult(t *testing.T) {
	router, cleanup := setupTestRouter(t)
	defer cleanup()

	w := doRequest(t, router, http.MethodPost, "/api/master-key/unlock", map[string]string{"secret": config.DefaultMasterSecret}, basicAuth("admin", testAdminPass))
	expectStatus(t, w, http.StatusOK)

	var result struct {
		Result string `json:"result"`
	}
	decode(t, w, &result)
	if result.Result != "unlocked" {
		t.Errorf("Result = %q, want unlocked", result.Result)
	}

	w = doRequest(t, router, http.MethodPost, "/api/master-key/unlock", map[string]string{}, basicAuth("admin", testAdminPass))
	expectStatus(t, w, http.StatusBadRequest)
}

func TestSessionCircleAndDataFlow(t *testing.T) {
	router, cleanup := setupTestRouter(t)
	defer cleanup()

	unlockAndCreateMember(t, router, "alice")

	// session
	w := doRequest(t, router, http.MethodPost, "/api/sessions", nil, basicAuth("alice", "alice-pass"))
	expectStatus(t, w, http.StatusCreated)
	var session struct {
		Token string `json:"token"`
	}
	decode(t, w, &session)
	alice := bearer(session.Token)

	// standard members cannot create members
	w = doRequest(t, router, http.MethodPost, "/api/members", map[string]string{
		"account_name": "mallory", "role": "STANDARD", "credential": "x",
	}, alice)
	expectStatus(t, w, http.StatusForbidden)

	// circle
	w = doRequest(t, router, http.MethodPost, "/api/circles", map[string]string{"name": "family"}, alice)
	expectStatus(t, w, http.StatusCreated)
	var circle struct {
		ID string `json:"id"`
	}
	decode(t, w, &circle)

	w = doRequest(t, router, http.MethodPost, "/api/circles", map[string]string{"name": "family"}, alice)
	expectStatus(t, w, http.StatusConflict)

	// data
	w = doRequest(t, router, http.MethodPost, "/api/circles/"+circle.ID+"/data", map[string]any{
		"name":    "recipe.txt",
		"payload": []byte("secret sauce"),
	}, alice)
	expectStatus(t, w, http.StatusCreated)
	var info struct {
		ID string `json:"id"`
	}
	decode(t, w, &info)

	w = doRequest(t, router, http.MethodGet, "/api/circles/"+circle.ID+"/data/"+info.ID, nil, alice)
	expectStatus(t, w, http.StatusOK)
	var read struct {
		Payload []byte `json:"payload"`
	}
	decode(t, w, &read)
	if string(read.Payload) != "secret sauce" {
		t.Errorf("Payload = %q", read.Payload)
	}

	w = doRequest(t, router, http.MethodGet, "/api/circles/"+circle.ID+"/data?page_size=10", nil, alice)
	expectStatus(t, w, http.StatusOK)
	var list struct {
		TotalCount int `json:"total_count"`
	}
	decode(t, w, &list)
	if list.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", list.TotalCount)
	}

	w = doRequest(t, router, http.MethodGet, "/api/circles/"+circle.ID+"/data/missing", nil, alice)
	expectStatus(t, w, http.StatusNotFound)

	// logout ends the bearer token
	w = doRequest(t, router, http.MethodDelete, "/api/sessions", nil, alice)
	expectStatus(t, w, http.StatusNoContent)
	w = doRequest(t, router, http.MethodGet, "/api/circles", nil, alice)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestTrusteeManagement(t *testing.T) {
	router, cleanup := setupTestRouter(t)
	defer cleanup()

	bobID := unlockAndCreateMember(t, router, "bob")
	admin := basicAuth("admin", testAdminPass)
	bob := basicAuth("bob", "bob-pass")

	w := doRequest(t, router, http.MethodPost, "/api/circles", map[string]string{"name": "ops"}, admin)
	expectStatus(t, w, http.StatusCreated)
	var circle struct {
		ID string `json:"id"`
	}
	decode(t, w, &circle)
	trustees := "/api/circles/" + circle.ID + "/trustees"

	w = doRequest(t, router, http.MethodPost, trustees, map[string]string{"member_id": bobID, "level": "BOGUS"}, admin)
	expectStatus(t, w, http.StatusBadRequest)

	w = doRequest(t, router, http.MethodPost, trustees, map[string]string{"member_id": bobID, "level": "READ"}, admin)
	expectStatus(t, w, http.StatusCreated)

	w = doRequest(t, router, http.MethodPost, "/api/circles/"+circle.ID+"/data", map[string]any{"name": "n", "payload": []byte("p")}, bob)
	expectStatus(t, w, http.StatusForbidden)

	w = doRequest(t, router, http.MethodPut, trustees+"/"+bobID, map[string]string{"level": "WRITE"}, admin)
	expectStatus(t, w, http.StatusNoContent)

	w = doRequest(t, router, http.MethodPost, "/api/circles/"+circle.ID+"/data", map[string]any{"name": "n", "payload": []byte("p")}, bob)
	expectStatus(t, w, http.StatusCreated)

	w = doRequest(t, router, http.MethodPost, "/api/circles/"+circle.ID+"/rotate", nil, admin)
	expectStatus(t, w, http.StatusOK)
	var generation struct {
		Number int `json:"number"`
	}
	decode(t, w, &generation)
	if generation.Number != 2 {
		t.Errorf("Generation = %d, want 2", generation.Number)
	}

	w = doRequest(t, router, http.MethodGet, trustees, nil, bob)
	expectStatus(t, w, http.StatusOK)
	var list []struct {
		AccountName string `json:"account_name"`
	}
	decode(t, w, &list)
	if len(list) != 2 {
		t.Errorf("Expected 2 trustees, got %d", len(list))
	}

	w = doRequest(t, router, http.MethodDelete, trustees+"/"+bobID, nil, admin)
	expectStatus(t, w, http.StatusNoContent)
	w = doRequest(t, router, http.MethodGet, trustees, nil, bob)
	expectStatus(t, w, http.StatusForbidden)
}

func TestSignatures(t *testing.T) {
	router, cleanup := setupTestRouter(t)
	defer cleanup()

	unlockAndCreateMember(t, router, "carol")
	carol := basicAuth("carol", "carol-pass")
	document := []byte("contract")

	w := doRequest(t, router, http.MethodPost, "/api/signatures", map[string]any{"data": document}, carol)
	expectStatus(t, w, http.StatusCreated)
	var signed struct {
		Signature string `json:"signature"`
	}
	decode(t, w, &signed)

	w = doRequest(t, router, http.MethodPost, "/api/signatures", map[string]any{"data": document}, carol)
	expectStatus(t, w, http.StatusOK)

	w = doRequest(t, router, http.MethodPost, "/api/signatures/verify", map[string]any{"signature": signed.Signature, "data": document}, carol)
	expectStatus(t, w, http.StatusOK)
	var verified struct {
		Verified bool `json:"verified"`
	}
	decode(t, w, &verified)
	if !verified.Verified {
		t.Error("Signature should verify")
	}

	w = doRequest(t, router, http.MethodPost, "/api/signatures/verify", map[string]any{"signature": signed.Signature, "data": []byte("forged")}, carol)
	expectStatus(t, w, http.StatusOK)
	decode(t, w, &verified)
	if verified.Verified {
		t.Error("Signature should not verify other data")
	}

	w = doRequest(t, router, http.MethodGet, "/api/signatures", nil, carol)
	expectStatus(t, w, http.StatusOK)
	var records []struct {
		Verifications int `json:"verifications"`
	}
	decode(t, w, &records)
	if len(records) != 1 || records[0].Verifications != 1 {
		t.Errorf("Unexpected records %+v", records)
	}
}
