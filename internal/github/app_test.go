package github

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return privateKey, pemData
}

func TestParsePrivateKey_PKCS8(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal PKCS8: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := parsePrivateKey(pemData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("parsed key does not match")
	}
}

func TestSignAppJWT(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	signed, err := signAppJWT(12345, key, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err = parser.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			t.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &key.PublicKey, nil
	})
	if err != nil {
		t.Fatalf("failed to verify JWT: %v", err)
	}

	if claims.Issuer != "12345" {
		t.Errorf("issuer = %q, want 12345", claims.Issuer)
	}
	if !claims.IssuedAt.Time.Equal(now.Add(-time.Minute)) {
		t.Errorf("iat = %v, want %v", claims.IssuedAt.Time, now.Add(-time.Minute))
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(appJWTLifetime)) {
		t.Errorf("exp = %v, want %v", claims.ExpiresAt.Time, now.Add(appJWTLifetime))
	}
}

func TestNewAppTokenSource_Validation(t *testing.T) {
	_, pemData := generateTestKeyPair(t)

	tests := []struct {
		name           string
		appID          int64
		installationID int64
		pemData        []byte
		errContain     string
	}{
		{"zero app ID", 0, 1, pemData, "app ID must be positive"},
		{"zero installation ID", 1, 0, pemData, "installation ID must be positive"},
		{"empty key", 1, 1, nil, "private key cannot be empty"},
		{"garbage key", 1, 1, []byte("not a pem"), "invalid GitHub App private key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAppTokenSource(tt.appID, tt.installationID, tt.pemData)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContain) {
				t.Errorf("error %q should contain %q", err.Error(), tt.errContain)
			}
		})
	}
}

func TestAppTokenSource_ExchangeAndCache(t *testing.T) {
	key, pemData := generateTestKeyPair(t)
	now := time.Now().UTC().Truncate(time.Second)
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/app/installations/678/access_tokens" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if accept := r.Header.Get("Accept"); accept != "application/vnd.github+json" {
			t.Errorf("unexpected accept header: %s", accept)
		}

		assertion := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.Parse(assertion, func(*jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		}, jwt.WithoutClaimsValidation())
		if err != nil {
			t.Errorf("assertion did not verify: %v", err)
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "ghs_installation",
			"expires_at": now.Add(time.Hour).Format(time.RFC3339),
		})
	}))
	defer server.Close()

	clock := now
	src, err := NewAppTokenSource(12345, 678, pemData,
		WithAppBaseURL(server.URL+"/"),
		withNow(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	if tok.AccessToken != "ghs_installation" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}

	if _, err := src.Token(); err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected cached token, server saw %d calls", got)
	}

	// Inside the refresh buffer the token is replaced.
	clock = now.Add(56 * time.Minute)
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected refresh, server saw %d calls", got)
	}
}

func TestAppTokenSource_ErrorResponse(t *testing.T) {
	_, pemData := generateTestKeyPair(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	src, err := NewAppTokenSource(1, 2, pemData, WithAppBaseURL(server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = src.Token()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "401: Bad credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}
