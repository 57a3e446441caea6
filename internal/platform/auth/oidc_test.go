package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	schedulerAudience = "https://api.flowix.ar/internal"
	googleIssuer      = "https://accounts.google.com"
)

func newJWKSServer(t *testing.T) (*rsa.PrivateKey, *httptest.Server, *atomic.Int32) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)
	return key, server, &hits
}

func signSchedulerToken(t *testing.T, key *rsa.PrivateKey, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   googleIssuer,
		"aud":   schedulerAudience,
		"sub":   "1234",
		"email": "scheduler@flowix.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runServiceToken(t *testing.T, validator *OIDCValidator, token string) *httptest.ResponseRecorder {
	t.Helper()
	handler := validator.RequireServiceToken(schedulerAudience, []string{googleIssuer})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok || identity.Email == "" {
			t.Fatalf("expected service identity in context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/idempotency:cleanup", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireServiceToken_Accepts(t *testing.T) {
	key, server, hits := newJWKSServer(t)
	validator := NewOIDCValidator(NewJWKSCache(server.URL, server.Client(), nil), nil)

	for i := 0; i < 2; i++ {
		rec := runServiceToken(t, validator, signSchedulerToken(t, key, nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected keys to be cached, got %d fetches", hits.Load())
	}
}

func TestRequireServiceToken_Rejects(t *testing.T) {
	key, server, _ := newJWKSServer(t)
	validator := NewOIDCValidator(NewJWKSCache(server.URL, server.Client(), nil), nil)

	cases := map[string]string{
		"missing":        "",
		"wrong audience": signSchedulerToken(t, key, func(c jwt.MapClaims) { c["aud"] = "https://other" }),
		"wrong issuer":   signSchedulerToken(t, key, func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }),
		"expired":        signSchedulerToken(t, key, func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			rec := runServiceToken(t, validator, token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireServiceToken_NotConfigured(t *testing.T) {
	handler := NewOIDCValidator(nil, nil).RequireServiceToken("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
