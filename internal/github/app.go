// Package github fetches issues for analysis and authenticates to the
// GitHub API with a static token or as a GitHub App installation.
package github

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/andywolf/issue-assistant/internal/version"
)

const (
	// appJWTLifetime stays under GitHub's 10 minute ceiling to absorb clock skew.
	appJWTLifetime = 9 * time.Minute

	// refreshBuffer is how long before expiry an installation token is replaced.
	refreshBuffer = 5 * time.Minute

	defaultAPIURL = "https://api.github.com"
)

// parsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 PEM keys.
func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}

// signAppJWT creates the short-lived assertion a GitHub App presents to
// mint installation tokens. iat is backdated a minute as GitHub recommends.
func signAppJWT(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign app JWT")
	}
	return signed, nil
}

// installationToken is the access_tokens response body.
type installationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type apiError struct {
	Message string `json:"message"`
}

// AppTokenSource mints and caches GitHub App installation tokens. It
// implements oauth2.TokenSource and is safe for concurrent use.
type AppTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	baseURL        string
	httpClient     *http.Client
	now            func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

var _ oauth2.TokenSource = (*AppTokenSource)(nil)

// AppOption configures an AppTokenSource.
type AppOption func(*AppTokenSource)

// WithAppBaseURL points token exchange at a GitHub Enterprise or test server.
func WithAppBaseURL(url string) AppOption {
	return func(s *AppTokenSource) {
		s.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithAppHTTPClient sets the client used for the token exchange.
func WithAppHTTPClient(c *http.Client) AppOption {
	return func(s *AppTokenSource) {
		s.httpClient = c
	}
}

func withNow(fn func() time.Time) AppOption {
	return func(s *AppTokenSource) {
		s.now = fn
	}
}

// NewAppTokenSource validates the App credentials up front.
func NewAppTokenSource(appID, installationID int64, privateKeyPEM []byte, opts ...AppOption) (*AppTokenSource, error) {
	if appID <= 0 {
		return nil, errors.New("app ID must be positive")
	}
	if installationID <= 0 {
		return nil, errors.New("installation ID must be positive")
	}
	if len(privateKeyPEM) == 0 {
		return nil, errors.New("private key cannot be empty")
	}

	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "invalid GitHub App private key")
	}

	s := &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        defaultAPIURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token returns the cached installation token, exchanging a fresh one
// when it is missing or within refreshBuffer of expiry.
func (s *AppTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && s.token.Expiry.After(s.now().Add(refreshBuffer)) {
		return s.token, nil
	}

	tok, err := s.exchange(context.Background())
	if err != nil {
		return nil, err
	}
	s.token = tok
	return tok, nil
}

func (s *AppTokenSource) exchange(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := signAppJWT(s.appID, s.key, s.now())
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "installation token request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token response")
	}

	if resp.StatusCode != http.StatusCreated {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, errors.Errorf("installation token request returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, errors.Errorf("installation token request returned %d", resp.StatusCode)
	}

	var it installationToken
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, errors.Wrap(err, "failed to parse token response")
	}
	if it.Token == "" {
		return nil, errors.New("token response did not include a token")
	}

	return &oauth2.Token{AccessToken: it.Token, Expiry: it.ExpiresAt}, nil
}
